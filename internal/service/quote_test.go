package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/push21/challengebot/internal/domain"
)

func TestRequestQuotePricesAgainstPriorPushes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.actor(t, "1", false)
	pusher := f.actor(t, "2", false)
	challenge := f.submit(t, author, "do a flip", SubmitOptions{})

	quote, err := f.quotes.RequestQuote(ctx, pusher, challenge.ID, 2)
	if err != nil {
		t.Fatalf("RequestQuote: %v", err)
	}
	if quote.Cost != 105 { // 21 * (1 + 4)
		t.Errorf("first quote cost = %d, want 105", quote.Cost)
	}
	if _, err := f.quotes.ConfirmQuote(ctx, pusher, quote.ID); err != nil {
		t.Fatalf("ConfirmQuote: %v", err)
	}

	quote, err = f.quotes.RequestQuote(ctx, pusher, challenge.ID, 1)
	if err != nil {
		t.Fatalf("second RequestQuote: %v", err)
	}
	if quote.Cost != 189 { // 21 * 9
		t.Errorf("second quote cost = %d, want 189", quote.Cost)
	}
}

func TestRequestQuoteRejectsBadQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.actor(t, "1", false)
	challenge := f.submit(t, author, "x", SubmitOptions{})

	for _, qty := range []int{0, -1} {
		if _, err := f.quotes.RequestQuote(ctx, author, challenge.ID, qty); !errors.Is(err, domain.ErrInvalidAmount) {
			t.Errorf("quantity %d: got %v, want ErrInvalidAmount", qty, err)
		}
	}
}

func TestRequestQuoteNonActiveChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.actor(t, "1", true)
	challenge := f.submit(t, admin, "x", SubmitOptions{})
	if _, err := f.challenges.SetStatus(ctx, admin, challenge.ID, domain.StatusArchived); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	if _, err := f.quotes.RequestQuote(ctx, admin, challenge.ID, 1); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("got %v, want ErrInvalidState", err)
	}
}

func TestRequestQuoteInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.actor(t, "1", false)
	pusher := f.actor(t, "2", false)
	challenge := f.submit(t, author, "x", SubmitOptions{})
	f.drain(t, pusher.Account.ID, 20)

	if _, err := f.quotes.RequestQuote(ctx, pusher, challenge.ID, 1); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("got %v, want ErrInsufficientBalance", err)
	}
}

func TestConfirmQuoteCommitsPush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.actor(t, "1", false)
	pusher := f.actor(t, "2", false)
	challenge := f.submit(t, author, "x", SubmitOptions{})
	before := f.balance(t, pusher.Account.ID)

	quote, err := f.quotes.RequestQuote(ctx, pusher, challenge.ID, 3)
	if err != nil {
		t.Fatalf("RequestQuote: %v", err)
	}
	result, err := f.quotes.ConfirmQuote(ctx, pusher, quote.ID)
	if err != nil {
		t.Fatalf("ConfirmQuote: %v", err)
	}

	if result.Cost != 294 || result.Quantity != 3 {
		t.Errorf("result = %d cost ×%d, want 294 ×3", result.Cost, result.Quantity)
	}
	if got := f.balance(t, pusher.Account.ID); got != before-294 {
		t.Errorf("balance = %d, want %d", got, before-294)
	}
	if result.NewBalance != before-294 {
		t.Errorf("NewBalance = %d, want %d", result.NewBalance, before-294)
	}

	updated := f.challenge(t, challenge.ID)
	if updated.TotalSpent != 294 || updated.TotalPushes != 3 {
		t.Errorf("challenge totals = %d/%d, want 294/3", updated.TotalSpent, updated.TotalPushes)
	}

	user, err := f.store.GetUser(ctx, pusher.User.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user.TotalNumbersSpent != 294 || user.TotalPushes != 3 {
		t.Errorf("user counters = %d/%d, want 294/3", user.TotalNumbersSpent, user.TotalPushes)
	}

	ledger, err := f.store.GetLedger(ctx)
	if err != nil {
		t.Fatalf("GetLedger: %v", err)
	}
	// Submission (210) plus the push.
	if ledger.TotalNumbersSpent != 210+294 || ledger.TotalPushes != 3 {
		t.Errorf("ledger = %d/%d, want %d/3", ledger.TotalNumbersSpent, ledger.TotalPushes, 210+294)
	}

	if _, err := f.store.GetQuote(ctx, quote.ID); !errors.Is(err, domain.ErrQuoteNotFound) {
		t.Errorf("quote survived confirm: %v", err)
	}
}

func TestConfirmQuoteDefaultsToSingleOpenQuote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.actor(t, "1", false)
	pusher := f.actor(t, "2", false)
	challenge := f.submit(t, author, "x", SubmitOptions{})

	if _, err := f.quotes.ConfirmQuote(ctx, pusher, ""); !errors.Is(err, domain.ErrQuoteNotFound) {
		t.Errorf("no open quote: got %v, want ErrQuoteNotFound", err)
	}

	if _, err := f.quotes.RequestQuote(ctx, pusher, challenge.ID, 1); err != nil {
		t.Fatalf("RequestQuote: %v", err)
	}
	if _, err := f.quotes.ConfirmQuote(ctx, pusher, ""); err != nil {
		t.Errorf("single open quote: %v", err)
	}
}

func TestConfirmQuoteAmbiguousWithoutID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.actor(t, "1", false)
	pusher := f.actor(t, "2", false)
	challenge := f.submit(t, author, "x", SubmitOptions{})

	if _, err := f.quotes.RequestQuote(ctx, pusher, challenge.ID, 1); err != nil {
		t.Fatalf("RequestQuote: %v", err)
	}
	if _, err := f.quotes.RequestQuote(ctx, pusher, challenge.ID, 1); err != nil {
		t.Fatalf("RequestQuote: %v", err)
	}

	if _, err := f.quotes.ConfirmQuote(ctx, pusher, ""); !errors.Is(err, domain.ErrQuoteAmbiguous) {
		t.Errorf("got %v, want ErrQuoteAmbiguous", err)
	}
}

func TestConfirmQuoteExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.actor(t, "1", false)
	challenge := f.submit(t, author, "x", SubmitOptions{})

	quote, err := f.quotes.RequestQuote(ctx, author, challenge.ID, 1)
	if err != nil {
		t.Fatalf("RequestQuote: %v", err)
	}
	f.advance(31 * time.Second)

	if _, err := f.quotes.ConfirmQuote(ctx, author, quote.ID); !errors.Is(err, domain.ErrQuoteExpired) {
		t.Fatalf("got %v, want ErrQuoteExpired", err)
	}
	if _, err := f.store.GetQuote(ctx, quote.ID); !errors.Is(err, domain.ErrQuoteNotFound) {
		t.Errorf("expired quote not deleted: %v", err)
	}
}

func TestConfirmQuoteHonorsQuotedCost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.actor(t, "1", false)
	pusher := f.actor(t, "2", false)
	challenge := f.submit(t, author, "x", SubmitOptions{})

	// Quoted offline, confirmed live: the price is the quoted one.
	quote, err := f.quotes.RequestQuote(ctx, pusher, challenge.ID, 1)
	if err != nil {
		t.Fatalf("RequestQuote: %v", err)
	}
	if quote.Cost != 21 {
		t.Fatalf("quote cost = %d, want 21", quote.Cost)
	}
	f.goLive(t)

	result, err := f.quotes.ConfirmQuote(ctx, pusher, quote.ID)
	if err != nil {
		t.Fatalf("ConfirmQuote: %v", err)
	}
	if result.Cost != 21 {
		t.Errorf("confirmed cost = %d, want the quoted 21", result.Cost)
	}
}

func TestConfirmQuoteChallengeNoLongerActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.actor(t, "1", true)
	pusher := f.actor(t, "2", false)
	challenge := f.submit(t, admin, "x", SubmitOptions{})

	quote, err := f.quotes.RequestQuote(ctx, pusher, challenge.ID, 1)
	if err != nil {
		t.Fatalf("RequestQuote: %v", err)
	}
	if _, err := f.challenges.SetStatus(ctx, admin, challenge.ID, domain.StatusRemoved); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	before := f.balance(t, pusher.Account.ID)

	if _, err := f.quotes.ConfirmQuote(ctx, pusher, quote.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("got %v, want ErrInvalidState", err)
	}
	if got := f.balance(t, pusher.Account.ID); got != before {
		t.Errorf("balance changed on failed confirm: %d -> %d", before, got)
	}
	if _, err := f.store.GetQuote(ctx, quote.ID); !errors.Is(err, domain.ErrQuoteNotFound) {
		t.Errorf("dead quote not deleted: %v", err)
	}
}

func TestConfirmQuoteAfterRemovalKeepsChallengeRemoved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.actor(t, "1", false)
	pusher := f.actor(t, "2", false)
	challenge := f.submit(t, author, "x", SubmitOptions{})

	quote, err := f.quotes.RequestQuote(ctx, pusher, challenge.ID, 2)
	if err != nil {
		t.Fatalf("RequestQuote: %v", err)
	}
	if _, err := f.challenges.Remove(ctx, author, challenge.ID, RefundForfeit); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	removed := f.challenge(t, challenge.ID)
	ledgerBefore, err := f.store.GetLedger(ctx)
	if err != nil {
		t.Fatalf("GetLedger: %v", err)
	}
	balanceBefore := f.balance(t, pusher.Account.ID)

	// The quote predates the removal; confirming it must not write the
	// challenge back to life with its pre-removal totals.
	if _, err := f.quotes.ConfirmQuote(ctx, pusher, quote.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("got %v, want ErrInvalidState", err)
	}

	after := f.challenge(t, challenge.ID)
	if after.Status != domain.StatusRemoved {
		t.Errorf("status = %s, want removed", after.Status)
	}
	if after.TotalSpent != removed.TotalSpent || after.TotalPushes != removed.TotalPushes {
		t.Errorf("totals = %d/%d, want unchanged %d/%d",
			after.TotalSpent, after.TotalPushes, removed.TotalSpent, removed.TotalPushes)
	}
	if got := f.balance(t, pusher.Account.ID); got != balanceBefore {
		t.Errorf("pusher balance changed: %d -> %d", balanceBefore, got)
	}
	ledgerAfter, err := f.store.GetLedger(ctx)
	if err != nil {
		t.Fatalf("GetLedger: %v", err)
	}
	if *ledgerAfter != *ledgerBefore {
		t.Errorf("ledger changed: %+v -> %+v", ledgerBefore, ledgerAfter)
	}
	if _, err := f.store.GetQuote(ctx, quote.ID); !errors.Is(err, domain.ErrQuoteNotFound) {
		t.Errorf("dead quote not deleted: %v", err)
	}
}

func TestConfirmQuoteInsufficientAtConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.actor(t, "1", false)
	pusher := f.actor(t, "2", false)
	challenge := f.submit(t, author, "x", SubmitOptions{})

	quote, err := f.quotes.RequestQuote(ctx, pusher, challenge.ID, 1)
	if err != nil {
		t.Fatalf("RequestQuote: %v", err)
	}
	f.drain(t, pusher.Account.ID, quote.Cost-1)

	if _, err := f.quotes.ConfirmQuote(ctx, pusher, quote.ID); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
	if _, err := f.store.GetQuote(ctx, quote.ID); !errors.Is(err, domain.ErrQuoteNotFound) {
		t.Errorf("dead quote not deleted: %v", err)
	}
}

// wrappingAuthority decorates Debit errors the way a transport layer would,
// so sentinel checks must unwrap rather than compare directly.
type wrappingAuthority struct {
	*MockAuthority
}

func (w wrappingAuthority) Debit(ctx context.Context, platform, platformID string, amount int64) (int64, error) {
	bal, err := w.MockAuthority.Debit(ctx, platform, platformID, amount)
	if err != nil {
		return 0, fmt.Errorf("lumia debit: %w", err)
	}
	return bal, nil
}

func TestConfirmQuoteDropsQuoteOnWrappedDebitError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.actor(t, "1", false)
	pusher := f.actor(t, "2", false)
	challenge := f.submit(t, author, "x", SubmitOptions{})

	quotes := NewQuoteService(f.store, wrappingAuthority{f.authority}, f.notifier, f.clock)
	quotes.now = func() time.Time { return f.now }

	quote, err := quotes.RequestQuote(ctx, pusher, challenge.ID, 1)
	if err != nil {
		t.Fatalf("RequestQuote: %v", err)
	}
	// The authority is short while the local account is not.
	if _, err := f.authority.Debit(ctx, "telegram", "2", startingBalance); err != nil {
		t.Fatalf("drain authority: %v", err)
	}
	before := f.balance(t, pusher.Account.ID)

	if _, err := quotes.ConfirmQuote(ctx, pusher, quote.ID); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("got %v, want wrapped ErrInsufficientBalance", err)
	}
	if got := f.balance(t, pusher.Account.ID); got != before {
		t.Errorf("balance changed on failed confirm: %d -> %d", before, got)
	}
	if _, err := f.store.GetQuote(ctx, quote.ID); !errors.Is(err, domain.ErrQuoteNotFound) {
		t.Errorf("dead quote not deleted: %v", err)
	}
}

func TestConfirmQuoteSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.actor(t, "1", false)
	pusher := f.actor(t, "2", false)
	challenge := f.submit(t, author, "x", SubmitOptions{})
	before := f.balance(t, pusher.Account.ID)

	quote, err := f.quotes.RequestQuote(ctx, pusher, challenge.ID, 1)
	if err != nil {
		t.Fatalf("RequestQuote: %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.quotes.ConfirmQuote(ctx, pusher, quote.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrQuoteLocked), errors.Is(err, domain.ErrQuoteNotFound):
		default:
			t.Errorf("unexpected confirm error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("quote confirmed %d times, want exactly 1", wins)
	}
	if got := f.balance(t, pusher.Account.ID); got != before-quote.Cost {
		t.Errorf("balance = %d, want %d (charged once)", got, before-quote.Cost)
	}
}

func TestConfirmQuoteOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.actor(t, "1", false)
	other := f.actor(t, "2", false)
	challenge := f.submit(t, author, "x", SubmitOptions{})

	quote, err := f.quotes.RequestQuote(ctx, author, challenge.ID, 1)
	if err != nil {
		t.Fatalf("RequestQuote: %v", err)
	}
	if _, err := f.quotes.ConfirmQuote(ctx, other, quote.ID); !errors.Is(err, domain.ErrQuoteNotFound) {
		t.Errorf("foreign confirm: got %v, want ErrQuoteNotFound", err)
	}
}

func TestConfirmWhileLiveFeedsSessionCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.actor(t, "1", false)
	pusher := f.actor(t, "2", false)
	challenge := f.submit(t, author, "x", SubmitOptions{})
	f.goLive(t)

	quote, err := f.quotes.RequestQuote(ctx, pusher, challenge.ID, 2)
	if err != nil {
		t.Fatalf("RequestQuote: %v", err)
	}
	if _, err := f.quotes.ConfirmQuote(ctx, pusher, quote.ID); err != nil {
		t.Fatalf("ConfirmQuote: %v", err)
	}

	sessionID, live := f.clock.CurrentSessionID()
	if !live {
		t.Fatal("clock not live")
	}
	session, err := f.store.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session.NumbersSpent != quote.Cost || session.Pushes != 2 {
		t.Errorf("session counters = %d/%d, want %d/2", session.NumbersSpent, session.Pushes, quote.Cost)
	}
}

func TestCancelQuote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.actor(t, "1", false)
	other := f.actor(t, "2", false)
	challenge := f.submit(t, author, "x", SubmitOptions{})

	quote, err := f.quotes.RequestQuote(ctx, author, challenge.ID, 1)
	if err != nil {
		t.Fatalf("RequestQuote: %v", err)
	}

	if err := f.quotes.CancelQuote(ctx, other, quote.ID); !errors.Is(err, domain.ErrQuoteNotFound) {
		t.Errorf("foreign cancel: got %v, want ErrQuoteNotFound", err)
	}
	if err := f.quotes.CancelQuote(ctx, author, quote.ID); err != nil {
		t.Fatalf("CancelQuote: %v", err)
	}

	open, err := f.quotes.OpenQuotes(ctx, author)
	if err != nil {
		t.Fatalf("OpenQuotes: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("open quotes after cancel = %d, want 0", len(open))
	}
}

func TestPruneExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.actor(t, "1", false)
	challenge := f.submit(t, author, "x", SubmitOptions{})

	if _, err := f.quotes.RequestQuote(ctx, author, challenge.ID, 1); err != nil {
		t.Fatalf("RequestQuote: %v", err)
	}
	f.advance(31 * time.Second)
	if _, err := f.quotes.RequestQuote(ctx, author, challenge.ID, 1); err != nil {
		t.Fatalf("RequestQuote: %v", err)
	}

	pruned, err := f.quotes.PruneExpired(ctx)
	if err != nil {
		t.Fatalf("PruneExpired: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
	open, err := f.quotes.OpenQuotes(ctx, author)
	if err != nil {
		t.Fatalf("OpenQuotes: %v", err)
	}
	if len(open) != 1 {
		t.Errorf("open quotes = %d, want the fresh one", len(open))
	}
}
