package config

import "time"

const (
	// Quote lifetime
	QuoteTTL = 30 * time.Second

	// Broadcast-day age at which an active challenge is archived
	ArchiveAgeDays = 21

	// Fraction of prior spend charged to dig a challenge back out
	DigoutRate = "0.21"

	// Multiplier applied to costs while the broadcast is live
	LiveDiscountRate = "0.79"

	// Per-pusher refund share on removal
	RefundRate = "0.21"

	// Session ticker cadence for the executing challenge
	SessionTickInterval = 15 * time.Second

	// How often the daily loop checks whether maintenance is due
	MaintenanceCheckInterval = 10 * time.Minute

	// Platform name used by the chat adapter
	PlatformTelegram = "telegram"
)
