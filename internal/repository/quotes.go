package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/push21/challengebot/internal/domain"
)

const quoteColumns = `id, user_id, account_id, challenge_id, quantity, cost, locked, created_at`

func scanQuote(row pgx.Row) (*domain.Quote, error) {
	q := &domain.Quote{}
	err := row.Scan(&q.ID, &q.UserID, &q.AccountID, &q.ChallengeID, &q.Quantity,
		&q.Cost, &q.Locked, &q.CreatedAt)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (p *Postgres) CreateQuote(ctx context.Context, q *domain.Quote) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO quotes (id, user_id, account_id, challenge_id, quantity, cost, locked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		q.ID, q.UserID, q.AccountID, q.ChallengeID, q.Quantity, q.Cost, q.Locked, q.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert quote: %w", err)
	}
	return nil
}

func (p *Postgres) GetQuote(ctx context.Context, id string) (*domain.Quote, error) {
	q, err := scanQuote(p.db.QueryRow(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrQuoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get quote: %w", err)
	}
	return q, nil
}

func (p *Postgres) DeleteQuote(ctx context.Context, id string) error {
	_, err := p.db.Exec(ctx, `DELETE FROM quotes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete quote: %w", err)
	}
	return nil
}

func (p *Postgres) ListUserQuotes(ctx context.Context, userID int64) ([]*domain.Quote, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+quoteColumns+` FROM quotes WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list quotes: %w", err)
	}
	defer rows.Close()

	var quotes []*domain.Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

// LockQuote wins only against an unlocked quote; the conditional UPDATE is
// the whole single-confirm guarantee.
func (p *Postgres) LockQuote(ctx context.Context, id string) (bool, error) {
	tag, err := p.db.Exec(ctx, `UPDATE quotes SET locked = TRUE WHERE id = $1 AND NOT locked`, id)
	if err != nil {
		return false, fmt.Errorf("lock quote: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) DeleteExpiredQuotes(ctx context.Context, before time.Time) (int64, error) {
	tag, err := p.db.Exec(ctx, `DELETE FROM quotes WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired quotes: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) CreatePush(ctx context.Context, push *domain.Push) error {
	err := p.db.QueryRow(ctx, `
		INSERT INTO pushes (user_id, account_id, challenge_id, quantity, cost)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		push.UserID, push.AccountID, push.ChallengeID, push.Quantity, push.Cost).
		Scan(&push.ID, &push.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert push: %w", err)
	}
	return nil
}

func (p *Postgres) UserPushTotal(ctx context.Context, userID, challengeID int64) (int, error) {
	var total int
	err := p.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM pushes
		WHERE user_id = $1 AND challenge_id = $2`, userID, challengeID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("user push total: %w", err)
	}
	return total, nil
}

func (p *Postgres) ChallengePusherTotals(ctx context.Context, challengeID int64) ([]domain.PusherTotal, error) {
	rows, err := p.db.Query(ctx, `
		SELECT user_id, account_id, SUM(cost) FROM pushes
		WHERE challenge_id = $1
		GROUP BY user_id, account_id
		ORDER BY user_id, account_id`, challengeID)
	if err != nil {
		return nil, fmt.Errorf("pusher totals: %w", err)
	}
	defer rows.Close()

	var totals []domain.PusherTotal
	for rows.Next() {
		var t domain.PusherTotal
		if err := rows.Scan(&t.UserID, &t.AccountID, &t.Spent); err != nil {
			return nil, fmt.Errorf("scan pusher total: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}
