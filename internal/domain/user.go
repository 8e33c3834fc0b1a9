package domain

import (
	"time"
)

// User is the unified wallet identity behind one or more platform accounts.
// Spend counters and engagement days live here; the actual currency balance
// lives on the Account, one per platform.
type User struct {
	ID      int64
	IsAdmin bool

	TotalNumbersSpent int64
	TotalPushes       int64

	SubmissionsToday   int
	SubmissionsResetOn *time.Time

	SeenDays          int
	ActiveDaysLive    int
	ActiveDaysOffline int
	LastProcessedOn   *time.Time

	LastActiveAt   *time.Time
	LastActiveLive bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SubmissionsOn returns the user's submission count for the given calendar
// date, treating a stale reset watermark as zero.
func (u *User) SubmissionsOn(day time.Time) int {
	if u.SubmissionsResetOn == nil || !SameDate(*u.SubmissionsResetOn, day) {
		return 0
	}
	return u.SubmissionsToday
}

// Account is one platform identity linked to a User. Balance is the unit the
// economy debits and credits; it caches the external balance authority.
type Account struct {
	ID          int64
	UserID      int64
	Platform    string
	PlatformID  string
	DisplayName string
	Balance     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Actor is a resolved caller: the unified user plus the platform account the
// request arrived on.
type Actor struct {
	User    *User
	Account *Account
}

// SameDate reports whether two instants fall on the same calendar date in UTC.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
