package domain

import (
	"time"
)

// Quote is a short-lived, single-use price commitment for a push. It is
// consumed (deleted) on confirm, explicit deletion, or expiry.
type Quote struct {
	ID          string
	UserID      int64
	AccountID   int64
	ChallengeID int64
	Quantity    int
	Cost        int64
	Locked      bool
	CreatedAt   time.Time
}

// Expired reports whether the quote is older than ttl at the given instant.
func (q *Quote) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(q.CreatedAt) > ttl
}
