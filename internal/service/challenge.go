package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/push21/challengebot/internal/config"
	"github.com/push21/challengebot/internal/domain"
)

// ChallengeService owns the challenge state machine: submit, digout, remove,
// execute, session ticks, GM override, and the maintenance-driven transitions.
type ChallengeService struct {
	store     Store
	authority BalanceAuthority
	notifier  *Notifier
	liveness  LivenessSource
	refunds   *RefundDistributor

	submissionBase  int64
	defaultPushBase int64

	// Serializes finalize-then-launch so two concurrent executes can never
	// both flip a challenge to executing. Per-process only.
	executeMu sync.Mutex

	now func() time.Time
}

func NewChallengeService(store Store, authority BalanceAuthority, notifier *Notifier, liveness LivenessSource, refunds *RefundDistributor, cfg *config.Config) *ChallengeService {
	return &ChallengeService{
		store:           store,
		authority:       authority,
		notifier:        notifier,
		liveness:        liveness,
		refunds:         refunds,
		submissionBase:  cfg.SubmissionBaseCost,
		defaultPushBase: cfg.PushBaseCost,
		now:             time.Now,
	}
}

// SubmitOptions configures the duration mode of a new challenge. Zero value
// means a one-off with a single session.
type SubmitOptions struct {
	Recurring         bool
	CadenceUnit       domain.CadenceUnit
	CadenceDays       int
	RequiredPerPeriod int
	SessionsTotal     int
}

// Submit charges the actor the day's escalating submission price and creates
// an ACTIVE challenge.
func (s *ChallengeService) Submit(ctx context.Context, actor *domain.Actor, body string, opts SubmitOptions) (*domain.Challenge, int64, error) {
	now := s.now()
	live := s.liveness.IsLive()

	sessionsTotal := opts.SessionsTotal
	if sessionsTotal <= 0 {
		sessionsTotal = 1
	}

	challenge := &domain.Challenge{
		AuthorID:      actor.User.ID,
		Body:          body,
		PushBaseCost:  s.defaultPushBase,
		Status:        domain.StatusActive,
		DurationMode:  domain.DurationOneOff,
		SessionsTotal: sessionsTotal,
	}
	if opts.Recurring {
		challenge.DurationMode = domain.DurationRecurring
		challenge.CadenceUnit = opts.CadenceUnit
		challenge.CadenceDays = opts.CadenceDays
		challenge.RequiredPerPeriod = opts.RequiredPerPeriod
		anchor := now
		challenge.PeriodAnchor = &anchor
	}

	var cost int64
	err := s.store.InTx(ctx, func(tx Store) error {
		user, err := tx.GetUserForUpdate(ctx, actor.User.ID)
		if err != nil {
			return err
		}

		prior := user.SubmissionsOn(now)
		cost = ApplyLiveDiscount(SubmissionCost(s.submissionBase, prior), live)

		if err := s.debit(ctx, tx, actor.Account.ID, cost); err != nil {
			return err
		}

		if err := tx.CreateChallenge(ctx, challenge); err != nil {
			return err
		}

		resetOn := now
		user.SubmissionsToday = prior + 1
		user.SubmissionsResetOn = &resetOn
		user.TotalNumbersSpent += cost
		stampActivity(user, now, live)
		if err := tx.SaveUser(ctx, user); err != nil {
			return err
		}

		return s.creditLedgerSpend(ctx, tx, cost)
	})
	if err != nil {
		return nil, 0, err
	}

	s.notifier.Publish(Event{Kind: EventChallengeSubmitted, Challenge: challenge, UserID: actor.User.ID, Amount: cost, At: now})
	return challenge, cost, nil
}

// Digout revives an archived challenge. Works exactly once per challenge,
// costs 21% of everything spent on it, and resets the age clock.
func (s *ChallengeService) Digout(ctx context.Context, actor *domain.Actor, challengeID int64) (*domain.Challenge, int64, error) {
	now := s.now()
	live := s.liveness.IsLive()

	var challenge *domain.Challenge
	var cost int64
	err := s.store.InTx(ctx, func(tx Store) error {
		var err error
		challenge, err = tx.GetChallengeForUpdate(ctx, challengeID)
		if err != nil {
			return err
		}
		if challenge.DugOut {
			return domain.ErrAlreadyProcessed
		}
		if challenge.Status != domain.StatusArchived {
			return domain.ErrInvalidState
		}

		cost = ApplyLiveDiscount(DigoutCost(challenge.TotalSpent), live)

		if err := s.debit(ctx, tx, actor.Account.ID, cost); err != nil {
			return err
		}

		challenge.Status = domain.StatusActive
		challenge.DugOut = true
		challenge.AgeDays = 0
		reactivated := now
		challenge.ReactivatedAt = &reactivated
		challenge.LastAgedOn = &reactivated
		if err := tx.SaveChallenge(ctx, challenge); err != nil {
			return err
		}

		user, err := tx.GetUserForUpdate(ctx, actor.User.ID)
		if err != nil {
			return err
		}
		user.TotalNumbersSpent += cost
		stampActivity(user, now, live)
		if err := tx.SaveUser(ctx, user); err != nil {
			return err
		}

		return s.creditLedgerSpend(ctx, tx, cost)
	})
	if err != nil {
		return nil, 0, err
	}

	s.notifier.Publish(Event{Kind: EventChallengeDugOut, Challenge: challenge, UserID: actor.User.ID, Amount: cost, At: now})
	return challenge, cost, nil
}

// RemovalResult reports what happened to the refund pool.
type RemovalResult struct {
	Challenge     *domain.Challenge
	Policy        RefundPolicy
	Pool          int64
	Refunded      int64
	Forfeited     int64
	FailedRefunds int
}

// Remove retires a challenge at the author's (or an admin's) request. The
// status change and the sink forfeit commit together; individual refund
// payouts run after commit, best-effort.
func (s *ChallengeService) Remove(ctx context.Context, actor *domain.Actor, challengeID int64, policy RefundPolicy) (*RemovalResult, error) {
	now := s.now()

	var challenge *domain.Challenge
	var plan *refundPlan
	err := s.store.InTx(ctx, func(tx Store) error {
		var err error
		challenge, err = tx.GetChallengeForUpdate(ctx, challengeID)
		if err != nil {
			return err
		}
		if challenge.AuthorID != actor.User.ID && !actor.User.IsAdmin {
			return domain.ErrUnauthorized
		}
		if challenge.Status != domain.StatusActive && challenge.Status != domain.StatusInProgress {
			return domain.ErrInvalidState
		}

		totals, err := tx.ChallengePusherTotals(ctx, challengeID)
		if err != nil {
			return fmt.Errorf("pusher totals: %w", err)
		}
		plan = s.refunds.plan(policy, challenge.AuthorID, totals)

		challenge.Status = domain.StatusRemoved
		challenge.Executing = false
		if err := tx.SaveChallenge(ctx, challenge); err != nil {
			return err
		}

		if plan.forfeited > 0 {
			ledger, err := tx.GetLedgerForUpdate(ctx)
			if err != nil {
				return err
			}
			ledger.SinkBalance += plan.forfeited
			if err := tx.SaveLedger(ctx, ledger); err != nil {
				return err
			}
		}

		user, err := tx.GetUserForUpdate(ctx, actor.User.ID)
		if err != nil {
			return err
		}
		stampActivity(user, now, s.liveness.IsLive())
		return tx.SaveUser(ctx, user)
	})
	if err != nil {
		return nil, err
	}

	// Removal is already committed; payout failures are surfaced, not
	// rolled back.
	refunded, failed := s.refunds.payout(ctx, plan)

	result := &RemovalResult{
		Challenge:     challenge,
		Policy:        policy,
		Pool:          plan.pool,
		Refunded:      refunded,
		Forfeited:     plan.forfeited,
		FailedRefunds: failed,
	}
	s.notifier.Publish(Event{Kind: EventChallengeRemoved, Challenge: challenge, UserID: actor.User.ID, Amount: plan.pool, At: now})
	return result, nil
}

// Execute finishes whichever challenge is currently running, then launches
// the given one. Admin only.
func (s *ChallengeService) Execute(ctx context.Context, actor *domain.Actor, challengeID int64) (*domain.Challenge, error) {
	if !actor.User.IsAdmin {
		return nil, domain.ErrUnauthorized
	}

	s.executeMu.Lock()
	defer s.executeMu.Unlock()

	now := s.now()
	var challenge *domain.Challenge
	err := s.store.InTx(ctx, func(tx Store) error {
		if err := s.finalizeExecuting(ctx, tx, challengeID, now); err != nil {
			return err
		}

		var err error
		challenge, err = tx.GetChallengeForUpdate(ctx, challengeID)
		if err != nil {
			return err
		}
		if challenge.Status != domain.StatusActive && challenge.Status != domain.StatusInProgress {
			return domain.ErrInvalidState
		}

		challenge.Status = domain.StatusInProgress
		challenge.Executing = true
		if challenge.StartedOn == nil {
			started := now
			challenge.StartedOn = &started
		}
		return tx.SaveChallenge(ctx, challenge)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Publish(Event{Kind: EventChallengeExecuted, Challenge: challenge, UserID: actor.User.ID, At: now})
	return challenge, nil
}

// finalizeExecuting clears the executing slot. A challenge that got at least
// one session is forced to COMPLETED; one that never ticked stays
// IN_PROGRESS, paused. skipID exempts the challenge about to be launched.
func (s *ChallengeService) finalizeExecuting(ctx context.Context, tx Store, skipID int64, now time.Time) error {
	prior, err := tx.ExecutingChallenge(ctx)
	if err != nil {
		return fmt.Errorf("executing challenge: %w", err)
	}
	if prior == nil || prior.ID == skipID {
		return nil
	}

	prior.Executing = false
	if prior.SessionsDone > 0 {
		prior.Status = domain.StatusCompleted
	}
	if err := tx.SaveChallenge(ctx, prior); err != nil {
		return err
	}
	if prior.Status == domain.StatusCompleted {
		s.notifier.Publish(Event{Kind: EventChallengeCompleted, Challenge: prior, At: now})
	}
	return nil
}

// FinalizeExecuting is the stream-offline entry point for the same rule.
func (s *ChallengeService) FinalizeExecuting(ctx context.Context) error {
	return s.store.InTx(ctx, func(tx Store) error {
		return s.finalizeExecuting(ctx, tx, 0, s.now())
	})
}

// Tick advances the executing challenge's session counter by one. No-op when
// nothing is executing. Driven by the external scheduler.
func (s *ChallengeService) Tick(ctx context.Context) (*domain.Challenge, error) {
	now := s.now()
	var challenge *domain.Challenge
	err := s.store.InTx(ctx, func(tx Store) error {
		var err error
		challenge, err = tx.ExecutingChallenge(ctx)
		if err != nil {
			return fmt.Errorf("executing challenge: %w", err)
		}
		if challenge == nil {
			return nil
		}

		challenge.SessionsDone++
		challenge.PeriodSessions++
		if challenge.SessionsDone >= challenge.SessionsTotal {
			challenge.Status = domain.StatusCompleted
			challenge.Executing = false
		}
		return tx.SaveChallenge(ctx, challenge)
	})
	if err != nil || challenge == nil {
		return nil, err
	}

	s.notifier.Publish(Event{Kind: EventSessionTicked, Challenge: challenge, At: now})
	if challenge.Status == domain.StatusCompleted {
		s.notifier.Publish(Event{Kind: EventChallengeCompleted, Challenge: challenge, At: now})
	}
	return challenge, nil
}

// ArchiveExpired moves every active challenge whose broadcast-day age reached
// the limit to ARCHIVED.
func (s *ChallengeService) ArchiveExpired(ctx context.Context) (int, error) {
	var n int
	err := s.store.InTx(ctx, func(tx Store) error {
		var err error
		n, err = s.archiveExpired(ctx, tx)
		return err
	})
	return n, err
}

func (s *ChallengeService) archiveExpired(ctx context.Context, tx Store) (int, error) {
	active, err := tx.ListChallengesByStatusForUpdate(ctx, domain.StatusActive)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range active {
		if c.AgeDays < config.ArchiveAgeDays {
			continue
		}
		c.Status = domain.StatusArchived
		if err := tx.SaveChallenge(ctx, c); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// failOneOffs fails paused one-off challenges: they had to complete within
// the broadcast day they started.
func (s *ChallengeService) failOneOffs(ctx context.Context, tx Store) (int, error) {
	inProgress, err := tx.ListChallengesByStatusForUpdate(ctx, domain.StatusInProgress)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range inProgress {
		if c.Executing || c.DurationMode != domain.DurationOneOff {
			continue
		}
		c.Status = domain.StatusFailed
		c.FailReason = "one-off challenge not completed within its broadcast day"
		if err := tx.SaveChallenge(ctx, c); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// enforceCadence checks recurring challenges against their per-period session
// requirement at each period boundary.
func (s *ChallengeService) enforceCadence(ctx context.Context, tx Store, now time.Time) (int, error) {
	inProgress, err := tx.ListChallengesByStatusForUpdate(ctx, domain.StatusInProgress)
	if err != nil {
		return 0, err
	}
	failed := 0
	for _, c := range inProgress {
		if c.Executing || c.DurationMode != domain.DurationRecurring {
			continue
		}
		period := c.CadencePeriod()
		if period <= 0 || c.PeriodAnchor == nil {
			continue
		}
		if now.Before(c.PeriodAnchor.Add(period)) {
			continue
		}

		if c.PeriodSessions >= c.RequiredPerPeriod {
			c.PeriodSessions = 0
			anchor := now
			c.PeriodAnchor = &anchor
		} else {
			c.Status = domain.StatusFailed
			c.FailReason = fmt.Sprintf("cadence missed: %d of %d sessions in the %s period",
				c.PeriodSessions, c.RequiredPerPeriod, c.CadenceUnit)
			failed++
		}
		if err := tx.SaveChallenge(ctx, c); err != nil {
			return failed, err
		}
	}
	return failed, nil
}

// SetStatus is the GM escape hatch: any status to any status, bypassing the
// transition rules. Only existence is checked.
func (s *ChallengeService) SetStatus(ctx context.Context, actor *domain.Actor, challengeID int64, status domain.ChallengeStatus) (*domain.Challenge, error) {
	if !actor.User.IsAdmin {
		return nil, domain.ErrUnauthorized
	}
	if !status.Valid() {
		return nil, domain.ErrInvalidState
	}

	var challenge *domain.Challenge
	err := s.store.InTx(ctx, func(tx Store) error {
		var err error
		challenge, err = tx.GetChallengeForUpdate(ctx, challengeID)
		if err != nil {
			return err
		}
		challenge.Status = status
		if status != domain.StatusInProgress {
			challenge.Executing = false
		}
		return tx.SaveChallenge(ctx, challenge)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Publish(Event{Kind: EventGMOverride, Challenge: challenge, UserID: actor.User.ID, At: s.now()})
	return challenge, nil
}

// Get loads one challenge.
func (s *ChallengeService) Get(ctx context.Context, id int64) (*domain.Challenge, error) {
	return s.store.GetChallenge(ctx, id)
}

// ListByStatus lists challenges in a given status.
func (s *ChallengeService) ListByStatus(ctx context.Context, status domain.ChallengeStatus) ([]*domain.Challenge, error) {
	return s.store.ListChallengesByStatus(ctx, status)
}

// ageActive bumps the broadcast-day age of every active challenge not yet
// aged on the given date. Called from the stream clock's go-live transaction.
func (s *ChallengeService) ageActive(ctx context.Context, tx Store, today time.Time) error {
	active, err := tx.ListChallengesByStatusForUpdate(ctx, domain.StatusActive)
	if err != nil {
		return err
	}
	for _, c := range active {
		if c.LastAgedOn != nil && domain.SameDate(*c.LastAgedOn, today) {
			continue
		}
		c.AgeDays++
		aged := today
		c.LastAgedOn = &aged
		if err := tx.SaveChallenge(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// debit charges the local balance cache and mirrors the charge to the
// balance authority. Insufficient funds abort before any mutation.
func (s *ChallengeService) debit(ctx context.Context, tx Store, accountID, amount int64) error {
	account, err := tx.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if account.Balance < amount {
		return domain.ErrInsufficientBalance
	}
	if _, err := tx.AdjustAccountBalance(ctx, accountID, -amount); err != nil {
		return err
	}
	if _, err := s.authority.Debit(ctx, account.Platform, account.PlatformID, amount); err != nil {
		return fmt.Errorf("authority debit: %w", err)
	}
	return nil
}

func (s *ChallengeService) creditLedgerSpend(ctx context.Context, tx Store, amount int64) error {
	ledger, err := tx.GetLedgerForUpdate(ctx)
	if err != nil {
		return err
	}
	ledger.TotalNumbersSpent += amount
	if err := tx.SaveLedger(ctx, ledger); err != nil {
		return err
	}
	if sessionID, ok := s.liveness.CurrentSessionID(); ok {
		return tx.AddSessionCounters(ctx, sessionID, amount, 0)
	}
	return nil
}
