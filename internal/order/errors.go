package order

import "errors"

// Stack and lifecycle signals. Duplicate, locked and invalid-fill results are
// recoverable control flow; callers decide whether to retry or give up.
var (
	ErrDuplicateOrder       = errors.New("order already on stack")
	ErrLockedOrder          = errors.New("order is locked")
	ErrMissingOrder         = errors.New("order not found")
	ErrInvalidFillQuantity  = errors.New("invalid fill quantity")
	ErrZeroTrade            = errors.New("zero trade")
	ErrInactiveOrder        = errors.New("order is inactive")
	ErrOrderIDAlreadySet    = errors.New("order id already set")
	ErrControllerAlreadySet = errors.New("order already has a controlling algo")
	ErrNotController        = errors.New("algo does not control order")
	ErrNoFill               = errors.New("order has no fill")
	ErrMultiLegFill         = errors.New("fill extraction needs a single leg order")
	ErrInvalidTransition    = errors.New("invalid exchange status transition")
	ErrUnknownTier          = errors.New("unknown order tier")
)
