package domain

import (
	"time"
)

// StreamSession is one broadcast occurrence with session-scoped economic
// counters. A session with Finalized=false is the currently live one (or a
// crash leftover the stream clock recovers from).
type StreamSession struct {
	ID              int64
	StartedAt       time.Time
	EndedAt         *time.Time
	DurationSeconds int64
	Finalized       bool
	NumbersSpent    int64
	Pushes          int64
}

// GameClock is the singleton dual-clock record. RealDay advances exactly once
// per maintenance run; BroadcastDay advances at most once per calendar date.
type GameClock struct {
	RealDay                int64
	BroadcastDay           int64
	LastMaintenanceAt      *time.Time
	LastBroadcastAdvanceOn *time.Time
}

// Ledger is the singleton global economy record, including the community sink
// that collects forfeited NUMBERS.
type Ledger struct {
	TotalNumbersSpent int64
	TotalPushes       int64
	SinkBalance       int64
}
