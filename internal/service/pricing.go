package service

import (
	"github.com/shopspring/decimal"

	"github.com/push21/challengebot/internal/config"
)

var (
	digoutRate   = decimal.RequireFromString(config.DigoutRate)
	liveDiscount = decimal.RequireFromString(config.LiveDiscountRate)
	refundRate   = decimal.RequireFromString(config.RefundRate)
)

// SubmissionCost is the price of the (prior+1)-th challenge submission of the
// day: base * (prior+1)^2.
func SubmissionCost(base int64, priorToday int) int64 {
	n := int64(priorToday) + 1
	return base * n * n
}

// PushCost prices a push of quantity units on top of the user's prior pushes
// on the same challenge. Each unit escalates quadratically on its own:
// sum over i=1..quantity of base * (prior+i)^2.
func PushCost(base int64, priorPushes, quantity int) int64 {
	var total int64
	for i := 1; i <= quantity; i++ {
		n := int64(priorPushes + i)
		total += base * n * n
	}
	return total
}

// DigoutCost is the price of reviving an archived challenge: ceil of 21% of
// everything spent on it so far.
func DigoutCost(totalSpent int64) int64 {
	return decimal.NewFromInt(totalSpent).Mul(digoutRate).Ceil().IntPart()
}

// ApplyLiveDiscount discounts an amount while the broadcast is live. Rounds
// up, so fractional NUMBERS are never given away.
func ApplyLiveDiscount(amount int64, live bool) int64 {
	if !live {
		return amount
	}
	return decimal.NewFromInt(amount).Mul(liveDiscount).Ceil().IntPart()
}

// RefundShare is one pusher's refund on removal: floor of 21% of their spend.
func RefundShare(spent int64) int64 {
	return decimal.NewFromInt(spent).Mul(refundRate).Floor().IntPart()
}
