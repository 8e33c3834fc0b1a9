package service

import (
	"context"
	"log/slog"

	"github.com/push21/challengebot/internal/domain"
)

// RefundPolicy selects what happens to the refund pool when a challenge is
// removed.
type RefundPolicy string

const (
	// RefundForfeit sends the whole pool to the community sink.
	RefundForfeit RefundPolicy = "forfeit"
	// RefundAuthorOnly refunds the author's own share, sink gets the rest.
	RefundAuthorOnly RefundPolicy = "author"
	// RefundAll refunds every contributing pusher their share.
	RefundAll RefundPolicy = "all"
)

func (p RefundPolicy) Valid() bool {
	switch p {
	case RefundForfeit, RefundAuthorOnly, RefundAll:
		return true
	}
	return false
}

// RefundDistributor computes and applies refund splits on removal. Planning
// happens inside the removal transaction; payout happens after it commits and
// is best-effort by design.
type RefundDistributor struct {
	store     Store
	authority BalanceAuthority
}

func NewRefundDistributor(store Store, authority BalanceAuthority) *RefundDistributor {
	return &RefundDistributor{store: store, authority: authority}
}

type payoutLine struct {
	userID    int64
	accountID int64
	amount    int64
}

type refundPlan struct {
	pool      int64
	forfeited int64
	lines     []payoutLine
}

// plan computes each pusher's floor(spend * 0.21) share and splits the pool
// per policy. Rounding down per pusher means the pool is never over-refunded.
func (d *RefundDistributor) plan(policy RefundPolicy, authorID int64, totals []domain.PusherTotal) *refundPlan {
	p := &refundPlan{}
	for _, t := range totals {
		share := RefundShare(t.Spent)
		if share <= 0 {
			continue
		}
		p.pool += share

		switch policy {
		case RefundAll:
			p.lines = append(p.lines, payoutLine{userID: t.UserID, accountID: t.AccountID, amount: share})
		case RefundAuthorOnly:
			if t.UserID == authorID {
				p.lines = append(p.lines, payoutLine{userID: t.UserID, accountID: t.AccountID, amount: share})
			} else {
				p.forfeited += share
			}
		case RefundForfeit:
			p.forfeited += share
		}
	}
	return p
}

// payout credits each planned line via the balance authority, mirroring the
// local cache. A failed line is counted and logged; the removal it belongs to
// has already committed.
func (d *RefundDistributor) payout(ctx context.Context, p *refundPlan) (refunded int64, failed int) {
	for _, line := range p.lines {
		account, err := d.store.GetAccount(ctx, line.accountID)
		if err != nil {
			slog.Error("refund payout: load account", "error", err, "account_id", line.accountID)
			failed++
			continue
		}
		if _, err := d.store.AdjustAccountBalance(ctx, line.accountID, line.amount); err != nil {
			slog.Error("refund payout: local credit", "error", err, "account_id", line.accountID)
			failed++
			continue
		}
		if _, err := d.authority.Credit(ctx, account.Platform, account.PlatformID, line.amount); err != nil {
			slog.Error("refund payout: authority credit", "error", err, "account_id", line.accountID)
			failed++
			continue
		}
		refunded += line.amount
	}
	return refunded, failed
}
