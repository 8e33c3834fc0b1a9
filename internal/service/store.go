package service

import (
	"context"
	"time"

	"github.com/push21/challengebot/internal/domain"
)

// Store is the persistence boundary for the engine. InTx runs fn against a
// transactional view of the store and commits only if fn returns nil; the
// lifecycle rules rely on that isolation for their read-validate-mutate
// sequences. The Store passed to fn must not be used to open another
// transaction.
type Store interface {
	InTx(ctx context.Context, fn func(Store) error) error

	// Users and accounts
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	// GetUserForUpdate locks the row until the surrounding transaction ends.
	// Every read-modify-write of a user inside InTx must go through it.
	GetUserForUpdate(ctx context.Context, id int64) (*domain.User, error)
	SaveUser(ctx context.Context, u *domain.User) error
	// ListUnprocessedUsers locks the returned rows; the engagement tick
	// saves each of them back.
	ListUnprocessedUsers(ctx context.Context, day time.Time) ([]*domain.User, error)
	CreateUserWithAccount(ctx context.Context, u *domain.User, a *domain.Account) error
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
	GetAccountByPlatform(ctx context.Context, platform, platformID string) (*domain.Account, error)
	ListUserAccounts(ctx context.Context, userID int64) ([]*domain.Account, error)
	// AdjustAccountBalance applies delta atomically and returns the new
	// balance. A debit that would go negative fails with
	// domain.ErrInsufficientBalance and leaves the balance untouched.
	AdjustAccountBalance(ctx context.Context, accountID, delta int64) (int64, error)
	UpdateAccountDisplayName(ctx context.Context, accountID int64, name string) error

	// Challenges
	CreateChallenge(ctx context.Context, c *domain.Challenge) error
	GetChallenge(ctx context.Context, id int64) (*domain.Challenge, error)
	// GetChallengeForUpdate is the row-locking variant; SaveChallenge writes
	// back every mutable field, so any transaction that mutates a challenge
	// has to hold its row lock from the first read.
	GetChallengeForUpdate(ctx context.Context, id int64) (*domain.Challenge, error)
	SaveChallenge(ctx context.Context, c *domain.Challenge) error
	ListChallengesByStatus(ctx context.Context, status domain.ChallengeStatus) ([]*domain.Challenge, error)
	// ListChallengesByStatusForUpdate locks every returned row; used by the
	// batch passes (aging, archival, cadence) that save the rows back.
	ListChallengesByStatusForUpdate(ctx context.Context, status domain.ChallengeStatus) ([]*domain.Challenge, error)
	// ExecutingChallenge returns nil, nil when no challenge is executing. The
	// returned row is locked: callers mutate the executing slot.
	ExecutingChallenge(ctx context.Context) (*domain.Challenge, error)

	// Quotes
	CreateQuote(ctx context.Context, q *domain.Quote) error
	GetQuote(ctx context.Context, id string) (*domain.Quote, error)
	DeleteQuote(ctx context.Context, id string) error
	ListUserQuotes(ctx context.Context, userID int64) ([]*domain.Quote, error)
	// LockQuote flips locked from false to true. It reports false when the
	// quote is already locked or gone, so at most one caller ever wins.
	LockQuote(ctx context.Context, id string) (bool, error)
	DeleteExpiredQuotes(ctx context.Context, before time.Time) (int64, error)

	// Push ledger
	CreatePush(ctx context.Context, p *domain.Push) error
	UserPushTotal(ctx context.Context, userID, challengeID int64) (int, error)
	ChallengePusherTotals(ctx context.Context, challengeID int64) ([]domain.PusherTotal, error)

	// Stream sessions
	CreateSession(ctx context.Context, s *domain.StreamSession) error
	GetSession(ctx context.Context, id int64) (*domain.StreamSession, error)
	// GetSessionForUpdate locks the session row for finalization.
	GetSessionForUpdate(ctx context.Context, id int64) (*domain.StreamSession, error)
	SaveSession(ctx context.Context, s *domain.StreamSession) error
	// Latest*Session return nil, nil when no matching session exists.
	LatestUnfinalizedSession(ctx context.Context) (*domain.StreamSession, error)
	LatestFinalizedSession(ctx context.Context) (*domain.StreamSession, error)
	SessionStartedSince(ctx context.Context, t time.Time) (bool, error)
	AddSessionCounters(ctx context.Context, sessionID, spent, pushes int64) error

	// Singletons. The ForUpdate variants lock the singleton row; both the
	// clock and the ledger are read-modify-written, so mutating transactions
	// must serialize on them.
	GetClock(ctx context.Context) (*domain.GameClock, error)
	GetClockForUpdate(ctx context.Context) (*domain.GameClock, error)
	SaveClock(ctx context.Context, c *domain.GameClock) error
	GetLedger(ctx context.Context) (*domain.Ledger, error)
	GetLedgerForUpdate(ctx context.Context) (*domain.Ledger, error)
	SaveLedger(ctx context.Context, l *domain.Ledger) error
}
