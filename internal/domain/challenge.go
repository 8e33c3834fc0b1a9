package domain

import (
	"time"
)

type ChallengeStatus string

const (
	StatusActive     ChallengeStatus = "active"
	StatusArchived   ChallengeStatus = "archived"
	StatusInProgress ChallengeStatus = "in_progress"
	StatusCompleted  ChallengeStatus = "completed"
	StatusFailed     ChallengeStatus = "failed"
	StatusRemoved    ChallengeStatus = "removed"
)

// Terminal reports whether no further transitions are allowed from s,
// GM override excepted.
func (s ChallengeStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRemoved:
		return true
	}
	return false
}

func (s ChallengeStatus) Valid() bool {
	switch s {
	case StatusActive, StatusArchived, StatusInProgress, StatusCompleted, StatusFailed, StatusRemoved:
		return true
	}
	return false
}

type DurationMode string

const (
	DurationOneOff    DurationMode = "one_off"
	DurationRecurring DurationMode = "recurring"
)

type CadenceUnit string

const (
	CadenceDaily   CadenceUnit = "daily"
	CadenceWeekly  CadenceUnit = "weekly"
	CadenceMonthly CadenceUnit = "monthly"
	CadenceCustom  CadenceUnit = "custom"
)

// Challenge is the central game object. It is never physically deleted;
// terminal statuses stand in for deletion.
type Challenge struct {
	ID       int64
	AuthorID int64
	Body     string

	PushBaseCost int64
	TotalSpent   int64
	TotalPushes  int64

	AgeDays    int
	LastAgedOn *time.Time

	Status    ChallengeStatus
	Executing bool

	DugOut        bool
	ReactivatedAt *time.Time

	DurationMode      DurationMode
	CadenceUnit       CadenceUnit
	CadenceDays       int
	RequiredPerPeriod int
	PeriodSessions    int
	PeriodAnchor      *time.Time

	SessionsDone  int
	SessionsTotal int

	StartedOn  *time.Time
	FailReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CadencePeriod returns the length of one cadence period. Zero for
// non-recurring challenges.
func (c *Challenge) CadencePeriod() time.Duration {
	if c.DurationMode != DurationRecurring {
		return 0
	}
	switch c.CadenceUnit {
	case CadenceDaily:
		return 24 * time.Hour
	case CadenceWeekly:
		return 7 * 24 * time.Hour
	case CadenceMonthly:
		return 30 * 24 * time.Hour
	case CadenceCustom:
		return time.Duration(c.CadenceDays) * 24 * time.Hour
	}
	return 0
}

// Push is an immutable ledger line recording one confirmed push.
type Push struct {
	ID          int64
	UserID      int64
	AccountID   int64
	ChallengeID int64
	Quantity    int
	Cost        int64
	CreatedAt   time.Time
}

// PusherTotal is one contributor's cumulative spend on a challenge, grouped
// by the account the pushes were paid from.
type PusherTotal struct {
	UserID    int64
	AccountID int64
	Spent     int64
}
