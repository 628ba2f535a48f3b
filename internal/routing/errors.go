package routing

import "errors"

var (
	// ErrProviderUnavailable covers transport failures, 5xx answers and open
	// circuits.
	ErrProviderUnavailable = errors.New("routing provider unavailable")
	ErrNoRouteFound        = errors.New("no route found between the given points")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrInvalidCoordinates  = errors.New("invalid coordinates")
)

// Error is a provider failure with the provider's own code.
type Error struct {
	Provider string
	Code     string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether the same request may succeed later.
func (e *Error) IsRetryable() bool {
	return errors.Is(e.Err, ErrProviderUnavailable) || errors.Is(e.Err, ErrRateLimitExceeded)
}
