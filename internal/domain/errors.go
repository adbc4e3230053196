package domain

import "errors"

// Typed failures surfaced by the engine. Callers match with errors.Is; the
// HTTP layer maps them to response codes. Errors raised inside a checkout or
// cancellation transaction always roll the whole transaction back.
var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrProductNotFound   = errors.New("product not found")
	ErrCartNotFound      = errors.New("cart not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrEmptySelection    = errors.New("no cart lines selected")
	ErrInvalidQuantity   = errors.New("quantity must be a positive integer")
	ErrInvalidSize       = errors.New("size is not in the canonical size set")
	ErrNotOrderOwner     = errors.New("order belongs to another buyer")
	ErrAlreadyDelivered  = errors.New("delivered orders cannot be cancelled")
)
