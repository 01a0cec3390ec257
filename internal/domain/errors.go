package domain

import "errors"

// Sentinel errors returned by the engine and store. Callers match them with
// errors.Is; the wrapping message carries the detail.
var (
	ErrValidation           = errors.New("invalid order")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientPosition = errors.New("insufficient position")
	ErrPriceUnavailable     = errors.New("price unavailable")
	ErrAccountNotFound      = errors.New("account not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrForbidden            = errors.New("order belongs to another account")
)
