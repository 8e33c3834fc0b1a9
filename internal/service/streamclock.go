package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/push21/challengebot/internal/domain"
)

// LivenessSource is how the rest of the engine asks whether the broadcast is
// live. Only the stream clock implements it.
type LivenessSource interface {
	IsLive() bool
	CurrentSessionID() (int64, bool)
}

// Lifecycle is the slice of the challenge service the stream clock drives:
// aging on go-live, archival and executing-slot cleanup on go-offline.
type Lifecycle interface {
	ArchiveExpired(ctx context.Context) (int, error)
	FinalizeExecuting(ctx context.Context) error
	ageActive(ctx context.Context, tx Store, today time.Time) error
}

// StreamClock tracks broadcast liveness. The in-memory state is a cache over
// the session table, rebuilt on startup; the table is the source of truth.
type StreamClock struct {
	store     Store
	notifier  *Notifier
	lifecycle Lifecycle
	now       func() time.Time

	// Serializes whole go-live/go-offline transitions: the liveness check
	// and the transaction it guards must be one step, or two deliveries of
	// the same webhook both open a session. The database backstops this
	// with a unique index on the open session.
	transitionMu sync.Mutex

	mu        sync.Mutex
	live      bool
	sessionID int64
	startedAt time.Time
}

func NewStreamClock(store Store, notifier *Notifier) *StreamClock {
	return &StreamClock{store: store, notifier: notifier, now: time.Now}
}

// SetLifecycle wires the challenge service in after construction; the
// dependency is circular otherwise (challenges consult the clock for
// liveness).
func (c *StreamClock) SetLifecycle(l Lifecycle) {
	c.lifecycle = l
}

func (c *StreamClock) IsLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

func (c *StreamClock) CurrentSessionID() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.live
}

// Recover rehydrates liveness from the most recent unfinalized session, if
// any. Called once on process start.
func (c *StreamClock) Recover(ctx context.Context) error {
	session, err := c.store.LatestUnfinalizedSession(ctx)
	if err != nil {
		return fmt.Errorf("latest unfinalized session: %w", err)
	}
	if session == nil {
		return nil
	}

	c.mu.Lock()
	c.live = true
	c.sessionID = session.ID
	c.startedAt = session.StartedAt
	c.mu.Unlock()

	slog.Info("recovered live session", "session_id", session.ID, "started_at", session.StartedAt)
	return nil
}

// GoLive handles the stream-start webhook. No-op when already live.
// Atomically: advance the broadcast day (unless one already advanced on this
// calendar date, or the previous session ended on it), age every active
// challenge not yet aged today, and open a new session record.
func (c *StreamClock) GoLive(ctx context.Context, ts time.Time) error {
	if ts.IsZero() {
		ts = c.now()
	}

	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()

	if c.IsLive() {
		return nil
	}

	session := &domain.StreamSession{StartedAt: ts}
	err := c.store.InTx(ctx, func(tx Store) error {
		clock, err := tx.GetClockForUpdate(ctx)
		if err != nil {
			return err
		}

		advance := clock.LastBroadcastAdvanceOn == nil || !domain.SameDate(*clock.LastBroadcastAdvanceOn, ts)
		if advance {
			lastFinalized, err := tx.LatestFinalizedSession(ctx)
			if err != nil {
				return err
			}
			if lastFinalized != nil && lastFinalized.EndedAt != nil && domain.SameDate(*lastFinalized.EndedAt, ts) {
				advance = false
			}
		}
		if advance {
			clock.BroadcastDay++
			advancedOn := ts
			clock.LastBroadcastAdvanceOn = &advancedOn
			if err := tx.SaveClock(ctx, clock); err != nil {
				return err
			}
		}

		if c.lifecycle != nil {
			if err := c.lifecycle.ageActive(ctx, tx, ts); err != nil {
				return fmt.Errorf("age challenges: %w", err)
			}
		}

		return tx.CreateSession(ctx, session)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.live = true
	c.sessionID = session.ID
	c.startedAt = ts
	c.mu.Unlock()

	c.notifier.Publish(Event{Kind: EventWentLive, At: ts})
	return nil
}

// GoOffline handles the stream-end webhook. Finalizes the session record,
// then, outside that transaction, archives expired challenges and finalizes
// any executing one.
func (c *StreamClock) GoOffline(ctx context.Context, ts time.Time) error {
	if ts.IsZero() {
		ts = c.now()
	}

	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()

	c.mu.Lock()
	if !c.live {
		c.mu.Unlock()
		return nil
	}
	sessionID := c.sessionID
	c.mu.Unlock()

	err := c.store.InTx(ctx, func(tx Store) error {
		session, err := tx.GetSessionForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		ended := ts
		session.EndedAt = &ended
		session.DurationSeconds = int64(ts.Sub(session.StartedAt).Seconds())
		session.Finalized = true
		return tx.SaveSession(ctx, session)
	})
	if err != nil {
		return err
	}

	if c.lifecycle != nil {
		if _, err := c.lifecycle.ArchiveExpired(ctx); err != nil {
			slog.Error("archive after offline", "error", err)
		}
		if err := c.lifecycle.FinalizeExecuting(ctx); err != nil {
			slog.Error("finalize executing after offline", "error", err)
		}
	}

	c.mu.Lock()
	c.live = false
	c.sessionID = 0
	c.startedAt = time.Time{}
	c.mu.Unlock()

	c.notifier.Publish(Event{Kind: EventWentOffline, At: ts})
	return nil
}
