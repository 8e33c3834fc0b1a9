package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/push21/challengebot/internal/config"
	"github.com/push21/challengebot/internal/domain"
)

// QuoteService implements the two-phase push protocol: a quote freezes the
// price for a short window, confirm consumes it. A quote is confirmed at most
// once, and always at the quoted cost.
type QuoteService struct {
	store     Store
	authority BalanceAuthority
	notifier  *Notifier
	liveness  LivenessSource
	ttl       time.Duration
	now       func() time.Time
}

func NewQuoteService(store Store, authority BalanceAuthority, notifier *Notifier, liveness LivenessSource) *QuoteService {
	return &QuoteService{
		store:     store,
		authority: authority,
		notifier:  notifier,
		liveness:  liveness,
		ttl:       config.QuoteTTL,
		now:       time.Now,
	}
}

// RequestQuote prices a push of quantity units and persists a single-use
// quote for it. The balance pre-check here fails fast; confirm re-checks,
// since the balance can change in between.
func (s *QuoteService) RequestQuote(ctx context.Context, actor *domain.Actor, challengeID int64, quantity int) (*domain.Quote, error) {
	if quantity <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	challenge, err := s.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if challenge.Status != domain.StatusActive {
		return nil, domain.ErrInvalidState
	}

	prior, err := s.store.UserPushTotal(ctx, actor.User.ID, challengeID)
	if err != nil {
		return nil, fmt.Errorf("prior pushes: %w", err)
	}

	cost := ApplyLiveDiscount(PushCost(challenge.PushBaseCost, prior, quantity), s.liveness.IsLive())

	account, err := s.store.GetAccount(ctx, actor.Account.ID)
	if err != nil {
		return nil, err
	}
	if account.Balance < cost {
		return nil, domain.ErrInsufficientBalance
	}

	quote := &domain.Quote{
		ID:          uuid.NewString(),
		UserID:      actor.User.ID,
		AccountID:   actor.Account.ID,
		ChallengeID: challengeID,
		Quantity:    quantity,
		Cost:        cost,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateQuote(ctx, quote); err != nil {
		return nil, fmt.Errorf("create quote: %w", err)
	}
	return quote, nil
}

type ConfirmResult struct {
	Challenge  *domain.Challenge
	Cost       int64
	Quantity   int
	NewBalance int64
}

// ConfirmQuote consumes a quote and commits the push. quoteID may be empty:
// then the user's single open quote is used, and having zero or several open
// quotes is an error rather than a guess.
func (s *QuoteService) ConfirmQuote(ctx context.Context, actor *domain.Actor, quoteID string) (*ConfirmResult, error) {
	now := s.now()

	quote, err := s.resolveQuote(ctx, actor.User.ID, quoteID, now)
	if err != nil {
		return nil, err
	}

	if quote.Expired(now, s.ttl) {
		if err := s.store.DeleteQuote(ctx, quote.ID); err != nil {
			slog.Error("delete expired quote", "error", err, "quote_id", quote.ID)
		}
		return nil, domain.ErrQuoteExpired
	}
	if quote.Locked {
		return nil, domain.ErrQuoteLocked
	}

	// The lock must be visible before the mutation so a concurrent confirm
	// of the same quote loses here, not inside the transaction.
	locked, err := s.store.LockQuote(ctx, quote.ID)
	if err != nil {
		return nil, fmt.Errorf("lock quote: %w", err)
	}
	if !locked {
		return nil, domain.ErrQuoteLocked
	}

	live := s.liveness.IsLive()
	result := &ConfirmResult{Cost: quote.Cost, Quantity: quote.Quantity}
	dropQuote := false

	err = s.store.InTx(ctx, func(tx Store) error {
		challenge, err := tx.GetChallengeForUpdate(ctx, quote.ChallengeID)
		if err != nil {
			dropQuote = true
			return err
		}
		if challenge.Status != domain.StatusActive {
			dropQuote = true
			return domain.ErrInvalidState
		}

		account, err := tx.GetAccount(ctx, quote.AccountID)
		if err != nil {
			dropQuote = true
			return err
		}
		if account.Balance < quote.Cost {
			dropQuote = true
			return domain.ErrInsufficientBalance
		}

		newBalance, err := tx.AdjustAccountBalance(ctx, quote.AccountID, -quote.Cost)
		if err != nil {
			dropQuote = true
			return err
		}
		if _, err := s.authority.Debit(ctx, account.Platform, account.PlatformID, quote.Cost); err != nil {
			if errors.Is(err, domain.ErrInsufficientBalance) {
				dropQuote = true
			}
			return fmt.Errorf("authority debit: %w", err)
		}

		challenge.TotalSpent += quote.Cost
		challenge.TotalPushes += int64(quote.Quantity)
		if err := tx.SaveChallenge(ctx, challenge); err != nil {
			return err
		}

		if err := tx.CreatePush(ctx, &domain.Push{
			UserID:      quote.UserID,
			AccountID:   quote.AccountID,
			ChallengeID: quote.ChallengeID,
			Quantity:    quote.Quantity,
			Cost:        quote.Cost,
		}); err != nil {
			return err
		}

		user, err := tx.GetUserForUpdate(ctx, quote.UserID)
		if err != nil {
			return err
		}
		user.TotalNumbersSpent += quote.Cost
		user.TotalPushes += int64(quote.Quantity)
		stampActivity(user, now, live)
		if err := tx.SaveUser(ctx, user); err != nil {
			return err
		}

		ledger, err := tx.GetLedgerForUpdate(ctx)
		if err != nil {
			return err
		}
		ledger.TotalNumbersSpent += quote.Cost
		ledger.TotalPushes += int64(quote.Quantity)
		if err := tx.SaveLedger(ctx, ledger); err != nil {
			return err
		}

		if sessionID, ok := s.liveness.CurrentSessionID(); ok {
			if err := tx.AddSessionCounters(ctx, sessionID, quote.Cost, int64(quote.Quantity)); err != nil {
				return err
			}
		}

		if err := tx.DeleteQuote(ctx, quote.ID); err != nil {
			return err
		}

		result.Challenge = challenge
		result.NewBalance = newBalance
		return nil
	})
	if err != nil {
		// A failed confirm consumed its chance: the quote stays locked in
		// the rolled-back view, so drop it for the failure modes the
		// protocol retires it on.
		if dropQuote {
			if derr := s.store.DeleteQuote(ctx, quote.ID); derr != nil {
				slog.Error("delete dead quote", "error", derr, "quote_id", quote.ID)
			}
		}
		return nil, err
	}

	s.notifier.Publish(Event{
		Kind:      EventChallengePushed,
		Challenge: result.Challenge,
		UserID:    quote.UserID,
		Amount:    quote.Cost,
		At:        now,
	})
	return result, nil
}

// resolveQuote finds the quote to confirm, enforcing ownership and rejecting
// ambiguity when no explicit id was given.
func (s *QuoteService) resolveQuote(ctx context.Context, userID int64, quoteID string, now time.Time) (*domain.Quote, error) {
	if quoteID != "" {
		quote, err := s.store.GetQuote(ctx, quoteID)
		if err != nil {
			return nil, err
		}
		if quote.UserID != userID {
			return nil, domain.ErrQuoteNotFound
		}
		return quote, nil
	}

	quotes, err := s.store.ListUserQuotes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list quotes: %w", err)
	}
	var open []*domain.Quote
	for _, q := range quotes {
		if !q.Locked && !q.Expired(now, s.ttl) {
			open = append(open, q)
		}
	}
	switch len(open) {
	case 0:
		return nil, domain.ErrQuoteNotFound
	case 1:
		return open[0], nil
	default:
		return nil, domain.ErrQuoteAmbiguous
	}
}

// CancelQuote deletes an unconsumed quote of the actor's.
func (s *QuoteService) CancelQuote(ctx context.Context, actor *domain.Actor, quoteID string) error {
	quote, err := s.store.GetQuote(ctx, quoteID)
	if err != nil {
		return err
	}
	if quote.UserID != actor.User.ID {
		return domain.ErrQuoteNotFound
	}
	if quote.Locked {
		return domain.ErrQuoteLocked
	}
	return s.store.DeleteQuote(ctx, quote.ID)
}

// OpenQuotes lists the actor's unexpired, unlocked quotes.
func (s *QuoteService) OpenQuotes(ctx context.Context, actor *domain.Actor) ([]*domain.Quote, error) {
	quotes, err := s.store.ListUserQuotes(ctx, actor.User.ID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var open []*domain.Quote
	for _, q := range quotes {
		if !q.Locked && !q.Expired(now, s.ttl) {
			open = append(open, q)
		}
	}
	return open, nil
}

// PruneExpired clears out quotes past their TTL. Expiry is cooperative; this
// just keeps the table from accumulating dead rows.
func (s *QuoteService) PruneExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredQuotes(ctx, s.now().Add(-s.ttl))
}
