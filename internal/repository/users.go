package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/push21/challengebot/internal/domain"
)

const userColumns = `id, is_admin, total_numbers_spent, total_pushes,
	submissions_today, submissions_reset_on, seen_days, active_days_live,
	active_days_offline, last_processed_on, last_active_at, last_active_live,
	created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	u := &domain.User{}
	err := row.Scan(&u.ID, &u.IsAdmin, &u.TotalNumbersSpent, &u.TotalPushes,
		&u.SubmissionsToday, &u.SubmissionsResetOn, &u.SeenDays, &u.ActiveDaysLive,
		&u.ActiveDaysOffline, &u.LastProcessedOn, &u.LastActiveAt, &u.LastActiveLive,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (p *Postgres) getUser(ctx context.Context, id int64, lock string) (*domain.User, error) {
	u, err := scanUser(p.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`+lock, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (p *Postgres) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return p.getUser(ctx, id, "")
}

// GetUserForUpdate locks the user row; SaveUser writes all counters back, so
// concurrent transactions must queue behind this read.
func (p *Postgres) GetUserForUpdate(ctx context.Context, id int64) (*domain.User, error) {
	return p.getUser(ctx, id, ` FOR UPDATE`)
}

func (p *Postgres) SaveUser(ctx context.Context, u *domain.User) error {
	_, err := p.db.Exec(ctx, `
		UPDATE users SET
			is_admin = $2,
			total_numbers_spent = $3,
			total_pushes = $4,
			submissions_today = $5,
			submissions_reset_on = $6,
			seen_days = $7,
			active_days_live = $8,
			active_days_offline = $9,
			last_processed_on = $10,
			last_active_at = $11,
			last_active_live = $12,
			updated_at = NOW()
		WHERE id = $1`,
		u.ID, u.IsAdmin, u.TotalNumbersSpent, u.TotalPushes,
		u.SubmissionsToday, u.SubmissionsResetOn, u.SeenDays, u.ActiveDaysLive,
		u.ActiveDaysOffline, u.LastProcessedOn, u.LastActiveAt, u.LastActiveLive)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// ListUnprocessedUsers locks the returned rows: the engagement tick saves
// every one of them back.
func (p *Postgres) ListUnprocessedUsers(ctx context.Context, day time.Time) ([]*domain.User, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE last_processed_on IS NULL OR last_processed_on < $1::date
		ORDER BY id FOR UPDATE`, day)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (p *Postgres) CreateUserWithAccount(ctx context.Context, u *domain.User, a *domain.Account) error {
	err := p.db.QueryRow(ctx, `
		INSERT INTO users (is_admin) VALUES ($1)
		RETURNING id, created_at, updated_at`,
		u.IsAdmin).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	a.UserID = u.ID
	err = p.db.QueryRow(ctx, `
		INSERT INTO accounts (user_id, platform, platform_id, display_name, balance)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		a.UserID, a.Platform, a.PlatformID, a.DisplayName, a.Balance).
		Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

const accountColumns = `id, user_id, platform, platform_id, display_name, balance, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	a := &domain.Account{}
	err := row.Scan(&a.ID, &a.UserID, &a.Platform, &a.PlatformID, &a.DisplayName,
		&a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (p *Postgres) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	a, err := scanAccount(p.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (p *Postgres) GetAccountByPlatform(ctx context.Context, platform, platformID string) (*domain.Account, error) {
	a, err := scanAccount(p.db.QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE platform = $1 AND platform_id = $2`, platform, platformID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account by platform: %w", err)
	}
	return a, nil
}

func (p *Postgres) ListUserAccounts(ctx context.Context, userID int64) ([]*domain.Account, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// AdjustAccountBalance applies delta only if the result stays non-negative;
// the WHERE clause is what makes concurrent debits safe.
func (p *Postgres) AdjustAccountBalance(ctx context.Context, accountID, delta int64) (int64, error) {
	var balance int64
	err := p.db.QueryRow(ctx, `
		UPDATE accounts SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1 AND balance + $2 >= 0
		RETURNING balance`, accountID, delta).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrInsufficientBalance
	}
	if err != nil {
		return 0, fmt.Errorf("adjust balance: %w", err)
	}
	return balance, nil
}

func (p *Postgres) UpdateAccountDisplayName(ctx context.Context, accountID int64, name string) error {
	_, err := p.db.Exec(ctx, `
		UPDATE accounts SET display_name = $2, updated_at = NOW() WHERE id = $1`,
		accountID, name)
	if err != nil {
		return fmt.Errorf("update display name: %w", err)
	}
	return nil
}
