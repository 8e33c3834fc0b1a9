package service

import (
	"context"
	"fmt"
	"time"

	"github.com/push21/challengebot/internal/domain"
)

// MaintenanceService is the once-daily batch job: advances the clocks, ticks
// user engagement counters, enforces cadence, archives and fails challenges.
// Safe to re-invoke; a run that already happened today is a reported no-op,
// and a failed run rolls back whole, watermark included, so the next
// invocation redoes the day.
type MaintenanceService struct {
	store      Store
	liveness   LivenessSource
	challenges *ChallengeService
	now        func() time.Time
}

func NewMaintenanceService(store Store, liveness LivenessSource, challenges *ChallengeService) *MaintenanceService {
	return &MaintenanceService{
		store:      store,
		liveness:   liveness,
		challenges: challenges,
		now:        time.Now,
	}
}

type MaintenanceResult struct {
	AlreadyRan    bool
	RealDay       int64
	BroadcastDay  int64
	UsersTicked   int
	CadenceFailed int
	Archived      int
	OneOffsFailed int
}

// RunDaily executes the day's maintenance. Everything, watermark included,
// commits in one transaction.
func (s *MaintenanceService) RunDaily(ctx context.Context, now time.Time) (*MaintenanceResult, error) {
	if now.IsZero() {
		now = s.now()
	}

	result := &MaintenanceResult{}
	err := s.store.InTx(ctx, func(tx Store) error {
		clock, err := tx.GetClockForUpdate(ctx)
		if err != nil {
			return err
		}

		if clock.LastMaintenanceAt != nil && domain.SameDate(*clock.LastMaintenanceAt, now) {
			result.AlreadyRan = true
			result.RealDay = clock.RealDay
			result.BroadcastDay = clock.BroadcastDay
			return nil
		}

		var since time.Time
		if clock.LastMaintenanceAt != nil {
			since = *clock.LastMaintenanceAt
		}

		clock.RealDay++

		sessionsSince, err := tx.SessionStartedSince(ctx, since)
		if err != nil {
			return fmt.Errorf("sessions since watermark: %w", err)
		}

		if sessionsSince {
			if clock.LastBroadcastAdvanceOn == nil || !domain.SameDate(*clock.LastBroadcastAdvanceOn, now) {
				clock.BroadcastDay++
				advancedOn := now
				clock.LastBroadcastAdvanceOn = &advancedOn
			}
		}

		result.UsersTicked, err = s.tickEngagement(ctx, tx, now, since)
		if err != nil {
			return fmt.Errorf("engagement tick: %w", err)
		}

		result.CadenceFailed, err = s.challenges.enforceCadence(ctx, tx, now)
		if err != nil {
			return fmt.Errorf("cadence enforcement: %w", err)
		}

		// Archival and contiguity failure would disrupt a broadcast in
		// progress, and mean nothing for a day with no broadcast at all.
		if sessionsSince && !s.liveness.IsLive() {
			result.Archived, err = s.challenges.archiveExpired(ctx, tx)
			if err != nil {
				return fmt.Errorf("archive expired: %w", err)
			}
			result.OneOffsFailed, err = s.challenges.failOneOffs(ctx, tx)
			if err != nil {
				return fmt.Errorf("fail one-offs: %w", err)
			}
		}

		watermark := now
		clock.LastMaintenanceAt = &watermark
		if err := tx.SaveClock(ctx, clock); err != nil {
			return err
		}

		result.RealDay = clock.RealDay
		result.BroadcastDay = clock.BroadcastDay
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// tickEngagement processes every user whose watermark is behind today: those
// active since the previous maintenance get a seen day plus a live or offline
// day depending on the broadcast state their last action was taken under.
func (s *MaintenanceService) tickEngagement(ctx context.Context, tx Store, now, since time.Time) (int, error) {
	users, err := tx.ListUnprocessedUsers(ctx, now)
	if err != nil {
		return 0, err
	}

	ticked := 0
	for _, u := range users {
		if u.LastActiveAt != nil && u.LastActiveAt.After(since) {
			u.SeenDays++
			if u.LastActiveLive {
				u.ActiveDaysLive++
			} else {
				u.ActiveDaysOffline++
			}
		}
		processed := now
		u.LastProcessedOn = &processed
		if err := tx.SaveUser(ctx, u); err != nil {
			return ticked, err
		}
		ticked++
	}
	return ticked, nil
}
