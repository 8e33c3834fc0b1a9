package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/push21/challengebot/internal/domain"
)

// UserService resolves platform identities into unified users. Many accounts
// may link to one user; a brand-new identity gets both created together, with
// the account balance seeded from the balance authority.
type UserService struct {
	store     Store
	authority BalanceAuthority
}

func NewUserService(store Store, authority BalanceAuthority) *UserService {
	return &UserService{store: store, authority: authority}
}

// FindOrCreate returns the actor for a platform identity, creating the
// User+Account pair on first contact.
func (s *UserService) FindOrCreate(ctx context.Context, platform, platformID, displayName string, isAdmin bool) (*domain.Actor, error) {
	account, err := s.store.GetAccountByPlatform(ctx, platform, platformID)
	if err == nil {
		if displayName != "" && displayName != account.DisplayName {
			if err := s.store.UpdateAccountDisplayName(ctx, account.ID, displayName); err == nil {
				account.DisplayName = displayName
			}
		}
		user, err := s.store.GetUser(ctx, account.UserID)
		if err != nil {
			return nil, fmt.Errorf("get user %d: %w", account.UserID, err)
		}
		return &domain.Actor{User: user, Account: account}, nil
	}
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return nil, fmt.Errorf("get account: %w", err)
	}

	balance, err := s.authority.Balance(ctx, platform, platformID)
	if err != nil {
		return nil, fmt.Errorf("seed balance: %w", err)
	}

	user := &domain.User{IsAdmin: isAdmin}
	account = &domain.Account{
		Platform:    platform,
		PlatformID:  platformID,
		DisplayName: displayName,
		Balance:     balance,
	}
	err = s.store.InTx(ctx, func(tx Store) error {
		return tx.CreateUserWithAccount(ctx, user, account)
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &domain.Actor{User: user, Account: account}, nil
}

// GetByID loads a user by internal id.
func (s *UserService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return s.store.GetUser(ctx, id)
}

// stampActivity records when and under what broadcast state the user last
// acted; maintenance buckets engagement days from these two fields.
func stampActivity(u *domain.User, now time.Time, live bool) {
	t := now
	u.LastActiveAt = &t
	u.LastActiveLive = live
}
