package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/push21/challengebot/internal/domain"
)

const sessionColumns = `id, started_at, ended_at, duration_seconds, finalized, numbers_spent, pushes`

func scanSession(row pgx.Row) (*domain.StreamSession, error) {
	s := &domain.StreamSession{}
	err := row.Scan(&s.ID, &s.StartedAt, &s.EndedAt, &s.DurationSeconds,
		&s.Finalized, &s.NumbersSpent, &s.Pushes)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p *Postgres) CreateSession(ctx context.Context, s *domain.StreamSession) error {
	err := p.db.QueryRow(ctx, `
		INSERT INTO stream_sessions (started_at) VALUES ($1) RETURNING id`,
		s.StartedAt).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (p *Postgres) getSession(ctx context.Context, id int64, lock string) (*domain.StreamSession, error) {
	s, err := scanSession(p.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM stream_sessions WHERE id = $1`+lock, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

func (p *Postgres) GetSession(ctx context.Context, id int64) (*domain.StreamSession, error) {
	return p.getSession(ctx, id, "")
}

// GetSessionForUpdate locks the row so finalization cannot race the relative
// counter updates.
func (p *Postgres) GetSessionForUpdate(ctx context.Context, id int64) (*domain.StreamSession, error) {
	return p.getSession(ctx, id, ` FOR UPDATE`)
}

func (p *Postgres) SaveSession(ctx context.Context, s *domain.StreamSession) error {
	_, err := p.db.Exec(ctx, `
		UPDATE stream_sessions SET
			ended_at = $2,
			duration_seconds = $3,
			finalized = $4
		WHERE id = $1`,
		s.ID, s.EndedAt, s.DurationSeconds, s.Finalized)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (p *Postgres) LatestUnfinalizedSession(ctx context.Context) (*domain.StreamSession, error) {
	s, err := scanSession(p.db.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM stream_sessions
		WHERE NOT finalized ORDER BY started_at DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest unfinalized session: %w", err)
	}
	return s, nil
}

func (p *Postgres) LatestFinalizedSession(ctx context.Context) (*domain.StreamSession, error) {
	s, err := scanSession(p.db.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM stream_sessions
		WHERE finalized ORDER BY ended_at DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest finalized session: %w", err)
	}
	return s, nil
}

func (p *Postgres) SessionStartedSince(ctx context.Context, t time.Time) (bool, error) {
	var exists bool
	err := p.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM stream_sessions WHERE started_at > $1)`, t).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sessions since: %w", err)
	}
	return exists, nil
}

func (p *Postgres) AddSessionCounters(ctx context.Context, sessionID, spent, pushes int64) error {
	_, err := p.db.Exec(ctx, `
		UPDATE stream_sessions SET
			numbers_spent = numbers_spent + $2,
			pushes = pushes + $3
		WHERE id = $1`, sessionID, spent, pushes)
	if err != nil {
		return fmt.Errorf("add session counters: %w", err)
	}
	return nil
}

func (p *Postgres) getClock(ctx context.Context, lock string) (*domain.GameClock, error) {
	c := &domain.GameClock{}
	err := p.db.QueryRow(ctx, `
		SELECT real_day, broadcast_day, last_maintenance_at, last_broadcast_advance_on
		FROM game_clock WHERE id`+lock).
		Scan(&c.RealDay, &c.BroadcastDay, &c.LastMaintenanceAt, &c.LastBroadcastAdvanceOn)
	if err != nil {
		return nil, fmt.Errorf("get clock: %w", err)
	}
	return c, nil
}

func (p *Postgres) GetClock(ctx context.Context) (*domain.GameClock, error) {
	return p.getClock(ctx, "")
}

// GetClockForUpdate serializes day advancement: go-live and maintenance both
// read-modify-write the singleton.
func (p *Postgres) GetClockForUpdate(ctx context.Context) (*domain.GameClock, error) {
	return p.getClock(ctx, ` FOR UPDATE`)
}

func (p *Postgres) SaveClock(ctx context.Context, c *domain.GameClock) error {
	_, err := p.db.Exec(ctx, `
		UPDATE game_clock SET
			real_day = $1,
			broadcast_day = $2,
			last_maintenance_at = $3,
			last_broadcast_advance_on = $4
		WHERE id`,
		c.RealDay, c.BroadcastDay, c.LastMaintenanceAt, c.LastBroadcastAdvanceOn)
	if err != nil {
		return fmt.Errorf("save clock: %w", err)
	}
	return nil
}

func (p *Postgres) getLedger(ctx context.Context, lock string) (*domain.Ledger, error) {
	l := &domain.Ledger{}
	err := p.db.QueryRow(ctx, `
		SELECT total_numbers_spent, total_pushes, sink_balance
		FROM global_ledger WHERE id`+lock).
		Scan(&l.TotalNumbersSpent, &l.TotalPushes, &l.SinkBalance)
	if err != nil {
		return nil, fmt.Errorf("get ledger: %w", err)
	}
	return l, nil
}

func (p *Postgres) GetLedger(ctx context.Context) (*domain.Ledger, error) {
	return p.getLedger(ctx, "")
}

// GetLedgerForUpdate serializes the global totals; every confirm and removal
// increments them through a read-modify-write.
func (p *Postgres) GetLedgerForUpdate(ctx context.Context) (*domain.Ledger, error) {
	return p.getLedger(ctx, ` FOR UPDATE`)
}

func (p *Postgres) SaveLedger(ctx context.Context, l *domain.Ledger) error {
	_, err := p.db.Exec(ctx, `
		UPDATE global_ledger SET
			total_numbers_spent = $1,
			total_pushes = $2,
			sink_balance = $3
		WHERE id`,
		l.TotalNumbersSpent, l.TotalPushes, l.SinkBalance)
	if err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}
