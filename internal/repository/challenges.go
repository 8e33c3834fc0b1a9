package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/push21/challengebot/internal/domain"
)

const challengeColumns = `id, author_id, body, push_base_cost, total_spent,
	total_pushes, age_days, last_aged_on, status, executing, dug_out,
	reactivated_at, duration_mode, cadence_unit, cadence_days,
	required_per_period, period_sessions, period_anchor, sessions_done,
	sessions_total, started_on, fail_reason, created_at, updated_at`

func scanChallenge(row pgx.Row) (*domain.Challenge, error) {
	c := &domain.Challenge{}
	err := row.Scan(&c.ID, &c.AuthorID, &c.Body, &c.PushBaseCost, &c.TotalSpent,
		&c.TotalPushes, &c.AgeDays, &c.LastAgedOn, &c.Status, &c.Executing, &c.DugOut,
		&c.ReactivatedAt, &c.DurationMode, &c.CadenceUnit, &c.CadenceDays,
		&c.RequiredPerPeriod, &c.PeriodSessions, &c.PeriodAnchor, &c.SessionsDone,
		&c.SessionsTotal, &c.StartedOn, &c.FailReason, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (p *Postgres) CreateChallenge(ctx context.Context, c *domain.Challenge) error {
	err := p.db.QueryRow(ctx, `
		INSERT INTO challenges (author_id, body, push_base_cost, status,
			duration_mode, cadence_unit, cadence_days, required_per_period,
			period_anchor, sessions_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`,
		c.AuthorID, c.Body, c.PushBaseCost, c.Status,
		c.DurationMode, c.CadenceUnit, c.CadenceDays, c.RequiredPerPeriod,
		c.PeriodAnchor, c.SessionsTotal).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert challenge: %w", err)
	}
	return nil
}

func (p *Postgres) getChallenge(ctx context.Context, id int64, lock string) (*domain.Challenge, error) {
	c, err := scanChallenge(p.db.QueryRow(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id = $1`+lock, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	return c, nil
}

func (p *Postgres) GetChallenge(ctx context.Context, id int64) (*domain.Challenge, error) {
	return p.getChallenge(ctx, id, "")
}

// GetChallengeForUpdate locks the challenge row for the rest of the
// transaction, so a concurrent confirm or removal waits here instead of
// overwriting the row from a stale read.
func (p *Postgres) GetChallengeForUpdate(ctx context.Context, id int64) (*domain.Challenge, error) {
	return p.getChallenge(ctx, id, ` FOR UPDATE`)
}

func (p *Postgres) SaveChallenge(ctx context.Context, c *domain.Challenge) error {
	_, err := p.db.Exec(ctx, `
		UPDATE challenges SET
			total_spent = $2,
			total_pushes = $3,
			age_days = $4,
			last_aged_on = $5,
			status = $6,
			executing = $7,
			dug_out = $8,
			reactivated_at = $9,
			period_sessions = $10,
			period_anchor = $11,
			sessions_done = $12,
			started_on = $13,
			fail_reason = $14,
			updated_at = NOW()
		WHERE id = $1`,
		c.ID, c.TotalSpent, c.TotalPushes, c.AgeDays, c.LastAgedOn, c.Status,
		c.Executing, c.DugOut, c.ReactivatedAt, c.PeriodSessions, c.PeriodAnchor,
		c.SessionsDone, c.StartedOn, c.FailReason)
	if err != nil {
		return fmt.Errorf("save challenge: %w", err)
	}
	return nil
}

func (p *Postgres) listChallengesByStatus(ctx context.Context, status domain.ChallengeStatus, lock string) ([]*domain.Challenge, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+challengeColumns+` FROM challenges WHERE status = $1 ORDER BY id`+lock, status)
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	defer rows.Close()

	var challenges []*domain.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan challenge: %w", err)
		}
		challenges = append(challenges, c)
	}
	return challenges, rows.Err()
}

func (p *Postgres) ListChallengesByStatus(ctx context.Context, status domain.ChallengeStatus) ([]*domain.Challenge, error) {
	return p.listChallengesByStatus(ctx, status, "")
}

// ListChallengesByStatusForUpdate locks every returned row; the batch passes
// save the rows back field-by-field.
func (p *Postgres) ListChallengesByStatusForUpdate(ctx context.Context, status domain.ChallengeStatus) ([]*domain.Challenge, error) {
	return p.listChallengesByStatus(ctx, status, ` FOR UPDATE`)
}

// ExecutingChallenge locks the executing row: every caller mutates the slot.
func (p *Postgres) ExecutingChallenge(ctx context.Context) (*domain.Challenge, error) {
	c, err := scanChallenge(p.db.QueryRow(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE executing LIMIT 1 FOR UPDATE`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("executing challenge: %w", err)
	}
	return c, nil
}
