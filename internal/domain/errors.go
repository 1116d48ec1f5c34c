package domain

import "errors"

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBelowMinimum      = errors.New("earnings below minimum withdrawal")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidAddress    = errors.New("destination address too short")
	ErrNotPending        = errors.New("withdrawal not found or already processed")
	ErrTicketNotFound    = errors.New("ticket not found or already resolved")
	ErrAccessDenied      = errors.New("access denied")
	ErrUnknownCurrency   = errors.New("unknown currency")
	ErrEmptyMessage      = errors.New("message is empty")
)
