package domain

import "errors"

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrAccountNotFound     = errors.New("account not found")
	ErrChallengeNotFound   = errors.New("challenge not found")
	ErrQuoteNotFound       = errors.New("quote not found")
	ErrInvalidState        = errors.New("operation not allowed in current status")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrQuoteExpired        = errors.New("quote expired")
	ErrQuoteAmbiguous      = errors.New("multiple open quotes, specify quote id")
	ErrQuoteLocked         = errors.New("quote already being confirmed")
	ErrUnauthorized        = errors.New("not allowed for this user")
	ErrAlreadyProcessed    = errors.New("already processed")
	ErrInvalidAmount       = errors.New("invalid amount")
)
