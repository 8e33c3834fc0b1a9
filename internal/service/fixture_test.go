package service

import (
	"context"
	"testing"
	"time"

	"github.com/push21/challengebot/internal/config"
	"github.com/push21/challengebot/internal/domain"
)

// fixture wires every service against the in-memory store and the mock
// balance authority, with a controllable clock.
type fixture struct {
	store       *fakeStore
	authority   *MockAuthority
	notifier    *Notifier
	clock       *StreamClock
	users       *UserService
	quotes      *QuoteService
	challenges  *ChallengeService
	maintenance *MaintenanceService

	now time.Time
}

const startingBalance = 100000

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:     newFakeStore(),
		authority: NewMockAuthority(startingBalance),
		notifier:  NewNotifier(),
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	cfg := &config.Config{
		SubmissionBaseCost: 210,
		PushBaseCost:       21,
		StartingBalance:    startingBalance,
	}
	clock := func() time.Time { return f.now }

	f.clock = NewStreamClock(f.store, f.notifier)
	f.clock.now = clock
	f.users = NewUserService(f.store, f.authority)
	refunds := NewRefundDistributor(f.store, f.authority)
	f.challenges = NewChallengeService(f.store, f.authority, f.notifier, f.clock, refunds, cfg)
	f.challenges.now = clock
	f.clock.SetLifecycle(f.challenges)
	f.quotes = NewQuoteService(f.store, f.authority, f.notifier, f.clock)
	f.quotes.now = clock
	f.maintenance = NewMaintenanceService(f.store, f.clock, f.challenges)
	f.maintenance.now = clock
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) actor(t *testing.T, platformID string, admin bool) *domain.Actor {
	t.Helper()
	actor, err := f.users.FindOrCreate(context.Background(), "telegram", platformID, "user-"+platformID, admin)
	if err != nil {
		t.Fatalf("FindOrCreate(%q): %v", platformID, err)
	}
	return actor
}

func (f *fixture) submit(t *testing.T, actor *domain.Actor, body string, opts SubmitOptions) *domain.Challenge {
	t.Helper()
	challenge, _, err := f.challenges.Submit(context.Background(), actor, body, opts)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return challenge
}

func (f *fixture) challenge(t *testing.T, id int64) *domain.Challenge {
	t.Helper()
	c, err := f.store.GetChallenge(context.Background(), id)
	if err != nil {
		t.Fatalf("GetChallenge(%d): %v", id, err)
	}
	return c
}

func (f *fixture) saveChallenge(t *testing.T, c *domain.Challenge) {
	t.Helper()
	if err := f.store.SaveChallenge(context.Background(), c); err != nil {
		t.Fatalf("SaveChallenge(%d): %v", c.ID, err)
	}
}

func (f *fixture) balance(t *testing.T, accountID int64) int64 {
	t.Helper()
	account, err := f.store.GetAccount(context.Background(), accountID)
	if err != nil {
		t.Fatalf("GetAccount(%d): %v", accountID, err)
	}
	return account.Balance
}

func (f *fixture) drain(t *testing.T, accountID int64, leave int64) {
	t.Helper()
	bal := f.balance(t, accountID)
	if _, err := f.store.AdjustAccountBalance(context.Background(), accountID, -(bal - leave)); err != nil {
		t.Fatalf("drain account %d: %v", accountID, err)
	}
}

func (f *fixture) goLive(t *testing.T) {
	t.Helper()
	if err := f.clock.GoLive(context.Background(), time.Time{}); err != nil {
		t.Fatalf("GoLive: %v", err)
	}
}

func (f *fixture) goOffline(t *testing.T) {
	t.Helper()
	if err := f.clock.GoOffline(context.Background(), time.Time{}); err != nil {
		t.Fatalf("GoOffline: %v", err)
	}
}
