package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/push21/challengebot/internal/domain"
)

// fakeStore is an in-memory Store for tests. InTx holds one big lock and
// restores a snapshot on error, so transactional semantics match what the
// services expect from Postgres.
type fakeStore struct {
	mu   *sync.Mutex
	data *fakeData
	inTx bool
}

type fakeData struct {
	users      map[int64]*domain.User
	accounts   map[int64]*domain.Account
	challenges map[int64]*domain.Challenge
	quotes     map[string]*domain.Quote
	pushes     []*domain.Push
	sessions   map[int64]*domain.StreamSession
	clock      domain.GameClock
	ledger     domain.Ledger
	nextID     int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		mu: &sync.Mutex{},
		data: &fakeData{
			users:      make(map[int64]*domain.User),
			accounts:   make(map[int64]*domain.Account),
			challenges: make(map[int64]*domain.Challenge),
			quotes:     make(map[string]*domain.Quote),
			sessions:   make(map[int64]*domain.StreamSession),
		},
	}
}

func (f *fakeStore) lock() func() {
	if f.inTx {
		return func() {}
	}
	f.mu.Lock()
	return f.mu.Unlock
}

func (d *fakeData) clone() *fakeData {
	c := &fakeData{
		users:      make(map[int64]*domain.User, len(d.users)),
		accounts:   make(map[int64]*domain.Account, len(d.accounts)),
		challenges: make(map[int64]*domain.Challenge, len(d.challenges)),
		quotes:     make(map[string]*domain.Quote, len(d.quotes)),
		sessions:   make(map[int64]*domain.StreamSession, len(d.sessions)),
		pushes:     append([]*domain.Push(nil), d.pushes...),
		clock:      d.clock,
		ledger:     d.ledger,
		nextID:     d.nextID,
	}
	for id, u := range d.users {
		cp := *u
		c.users[id] = &cp
	}
	for id, a := range d.accounts {
		cp := *a
		c.accounts[id] = &cp
	}
	for id, ch := range d.challenges {
		cp := *ch
		c.challenges[id] = &cp
	}
	for id, q := range d.quotes {
		cp := *q
		c.quotes[id] = &cp
	}
	for id, s := range d.sessions {
		cp := *s
		c.sessions[id] = &cp
	}
	return c
}

func (f *fakeStore) InTx(ctx context.Context, fn func(Store) error) error {
	if f.inTx {
		return errors.New("nested transaction")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := f.data.clone()
	if err := fn(&fakeStore{mu: f.mu, data: f.data, inTx: true}); err != nil {
		*f.data = *snap
		return err
	}
	return nil
}

func (f *fakeStore) id() int64 {
	f.data.nextID++
	return f.data.nextID
}

// Users and accounts

func (f *fakeStore) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	defer f.lock()()
	u, ok := f.data.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// The ForUpdate variants delegate to the plain reads: InTx already holds the
// single lock for the whole transaction, so row locking is a no-op here.

func (f *fakeStore) GetUserForUpdate(ctx context.Context, id int64) (*domain.User, error) {
	return f.GetUser(ctx, id)
}

func (f *fakeStore) SaveUser(ctx context.Context, u *domain.User) error {
	defer f.lock()()
	if _, ok := f.data.users[u.ID]; !ok {
		return domain.ErrUserNotFound
	}
	cp := *u
	f.data.users[u.ID] = &cp
	return nil
}

func (f *fakeStore) ListUnprocessedUsers(ctx context.Context, day time.Time) ([]*domain.User, error) {
	defer f.lock()()
	var out []*domain.User
	for _, u := range f.data.users {
		if u.LastProcessedOn == nil || u.LastProcessedOn.Before(truncateDay(day)) {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (f *fakeStore) CreateUserWithAccount(ctx context.Context, u *domain.User, a *domain.Account) error {
	defer f.lock()()
	u.ID = f.id()
	a.ID = f.id()
	a.UserID = u.ID
	cu, ca := *u, *a
	f.data.users[u.ID] = &cu
	f.data.accounts[a.ID] = &ca
	return nil
}

func (f *fakeStore) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	defer f.lock()()
	a, ok := f.data.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) GetAccountByPlatform(ctx context.Context, platform, platformID string) (*domain.Account, error) {
	defer f.lock()()
	for _, a := range f.data.accounts {
		if a.Platform == platform && a.PlatformID == platformID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrAccountNotFound
}

func (f *fakeStore) ListUserAccounts(ctx context.Context, userID int64) ([]*domain.Account, error) {
	defer f.lock()()
	var out []*domain.Account
	for _, a := range f.data.accounts {
		if a.UserID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) AdjustAccountBalance(ctx context.Context, accountID, delta int64) (int64, error) {
	defer f.lock()()
	a, ok := f.data.accounts[accountID]
	if !ok {
		return 0, domain.ErrAccountNotFound
	}
	if a.Balance+delta < 0 {
		return 0, domain.ErrInsufficientBalance
	}
	a.Balance += delta
	return a.Balance, nil
}

func (f *fakeStore) UpdateAccountDisplayName(ctx context.Context, accountID int64, name string) error {
	defer f.lock()()
	a, ok := f.data.accounts[accountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	a.DisplayName = name
	return nil
}

// Challenges

func (f *fakeStore) CreateChallenge(ctx context.Context, c *domain.Challenge) error {
	defer f.lock()()
	c.ID = f.id()
	c.CreatedAt = time.Now()
	cp := *c
	f.data.challenges[c.ID] = &cp
	return nil
}

func (f *fakeStore) GetChallenge(ctx context.Context, id int64) (*domain.Challenge, error) {
	defer f.lock()()
	c, ok := f.data.challenges[id]
	if !ok {
		return nil, domain.ErrChallengeNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) GetChallengeForUpdate(ctx context.Context, id int64) (*domain.Challenge, error) {
	return f.GetChallenge(ctx, id)
}

func (f *fakeStore) SaveChallenge(ctx context.Context, c *domain.Challenge) error {
	defer f.lock()()
	if _, ok := f.data.challenges[c.ID]; !ok {
		return domain.ErrChallengeNotFound
	}
	cp := *c
	f.data.challenges[c.ID] = &cp
	return nil
}

func (f *fakeStore) ListChallengesByStatus(ctx context.Context, status domain.ChallengeStatus) ([]*domain.Challenge, error) {
	defer f.lock()()
	var out []*domain.Challenge
	for _, c := range f.data.challenges {
		if c.Status == status {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) ListChallengesByStatusForUpdate(ctx context.Context, status domain.ChallengeStatus) ([]*domain.Challenge, error) {
	return f.ListChallengesByStatus(ctx, status)
}

func (f *fakeStore) ExecutingChallenge(ctx context.Context) (*domain.Challenge, error) {
	defer f.lock()()
	for _, c := range f.data.challenges {
		if c.Executing {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

// Quotes

func (f *fakeStore) CreateQuote(ctx context.Context, q *domain.Quote) error {
	defer f.lock()()
	cp := *q
	f.data.quotes[q.ID] = &cp
	return nil
}

func (f *fakeStore) GetQuote(ctx context.Context, id string) (*domain.Quote, error) {
	defer f.lock()()
	q, ok := f.data.quotes[id]
	if !ok {
		return nil, domain.ErrQuoteNotFound
	}
	cp := *q
	return &cp, nil
}

func (f *fakeStore) DeleteQuote(ctx context.Context, id string) error {
	defer f.lock()()
	delete(f.data.quotes, id)
	return nil
}

func (f *fakeStore) ListUserQuotes(ctx context.Context, userID int64) ([]*domain.Quote, error) {
	defer f.lock()()
	var out []*domain.Quote
	for _, q := range f.data.quotes {
		if q.UserID == userID {
			cp := *q
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) LockQuote(ctx context.Context, id string) (bool, error) {
	defer f.lock()()
	q, ok := f.data.quotes[id]
	if !ok || q.Locked {
		return false, nil
	}
	q.Locked = true
	return true, nil
}

func (f *fakeStore) DeleteExpiredQuotes(ctx context.Context, before time.Time) (int64, error) {
	defer f.lock()()
	var n int64
	for id, q := range f.data.quotes {
		if q.CreatedAt.Before(before) {
			delete(f.data.quotes, id)
			n++
		}
	}
	return n, nil
}

// Push ledger

func (f *fakeStore) CreatePush(ctx context.Context, p *domain.Push) error {
	defer f.lock()()
	p.ID = f.id()
	p.CreatedAt = time.Now()
	cp := *p
	f.data.pushes = append(f.data.pushes, &cp)
	return nil
}

func (f *fakeStore) UserPushTotal(ctx context.Context, userID, challengeID int64) (int, error) {
	defer f.lock()()
	total := 0
	for _, p := range f.data.pushes {
		if p.UserID == userID && p.ChallengeID == challengeID {
			total += p.Quantity
		}
	}
	return total, nil
}

func (f *fakeStore) ChallengePusherTotals(ctx context.Context, challengeID int64) ([]domain.PusherTotal, error) {
	defer f.lock()()
	type key struct{ user, account int64 }
	totals := make(map[key]int64)
	for _, p := range f.data.pushes {
		if p.ChallengeID == challengeID {
			totals[key{p.UserID, p.AccountID}] += p.Cost
		}
	}
	var out []domain.PusherTotal
	for k, spent := range totals {
		out = append(out, domain.PusherTotal{UserID: k.user, AccountID: k.account, Spent: spent})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out, nil
}

// Stream sessions

func (f *fakeStore) CreateSession(ctx context.Context, s *domain.StreamSession) error {
	defer f.lock()()
	s.ID = f.id()
	cp := *s
	f.data.sessions[s.ID] = &cp
	return nil
}

func (f *fakeStore) GetSession(ctx context.Context, id int64) (*domain.StreamSession, error) {
	defer f.lock()()
	s, ok := f.data.sessions[id]
	if !ok {
		return nil, errors.New("session not found")
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) GetSessionForUpdate(ctx context.Context, id int64) (*domain.StreamSession, error) {
	return f.GetSession(ctx, id)
}

func (f *fakeStore) SaveSession(ctx context.Context, s *domain.StreamSession) error {
	defer f.lock()()
	cp := *s
	f.data.sessions[s.ID] = &cp
	return nil
}

func (f *fakeStore) LatestUnfinalizedSession(ctx context.Context) (*domain.StreamSession, error) {
	defer f.lock()()
	var latest *domain.StreamSession
	for _, s := range f.data.sessions {
		if s.Finalized {
			continue
		}
		if latest == nil || s.StartedAt.After(latest.StartedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeStore) LatestFinalizedSession(ctx context.Context) (*domain.StreamSession, error) {
	defer f.lock()()
	var latest *domain.StreamSession
	for _, s := range f.data.sessions {
		if !s.Finalized || s.EndedAt == nil {
			continue
		}
		if latest == nil || s.EndedAt.After(*latest.EndedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeStore) SessionStartedSince(ctx context.Context, t time.Time) (bool, error) {
	defer f.lock()()
	for _, s := range f.data.sessions {
		if s.StartedAt.After(t) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) AddSessionCounters(ctx context.Context, sessionID, spent, pushes int64) error {
	defer f.lock()()
	s, ok := f.data.sessions[sessionID]
	if !ok {
		return errors.New("session not found")
	}
	s.NumbersSpent += spent
	s.Pushes += pushes
	return nil
}

// Singletons

func (f *fakeStore) GetClock(ctx context.Context) (*domain.GameClock, error) {
	defer f.lock()()
	cp := f.data.clock
	return &cp, nil
}

func (f *fakeStore) GetClockForUpdate(ctx context.Context) (*domain.GameClock, error) {
	return f.GetClock(ctx)
}

func (f *fakeStore) SaveClock(ctx context.Context, c *domain.GameClock) error {
	defer f.lock()()
	f.data.clock = *c
	return nil
}

func (f *fakeStore) GetLedger(ctx context.Context) (*domain.Ledger, error) {
	defer f.lock()()
	cp := f.data.ledger
	return &cp, nil
}

func (f *fakeStore) GetLedgerForUpdate(ctx context.Context) (*domain.Ledger, error) {
	return f.GetLedger(ctx)
}

func (f *fakeStore) SaveLedger(ctx context.Context, l *domain.Ledger) error {
	defer f.lock()()
	f.data.ledger = *l
	return nil
}
