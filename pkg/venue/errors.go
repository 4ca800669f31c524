package venue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrContractNotFound  = errors.New("contract not found")
	ErrAmbiguousContract = errors.New("ambiguous contract")
	ErrVenueTimeout      = errors.New("venue call timed out")
	ErrVenueRejected     = errors.New("venue rejected request")
	ErrNoHistoricalData  = errors.New("no historical data")
)

// Call runs fn with a deadline and turns a deadline hit into ErrVenueTimeout.
// Cancellation by the caller is returned as is.
func Call[T any](ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	out, err := fn(ctx)
	if err != nil && IsTimeout(err) {
		var zero T
		return zero, fmt.Errorf("%w: %s after %s: %v", ErrVenueTimeout, name, timeout, err)
	}
	return out, err
}

// IsTimeout reports deadline and network timeout errors.
func IsTimeout(err error) bool {
	if errors.Is(err, ErrVenueTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
