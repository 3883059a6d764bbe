package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/inkfolio/folio/internal/dedup"
)

var (
	// ErrRateLimitExceeded is matched by every *RateLimitError.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrRequestCanceled is returned to callers whose request was cancelled
	// with CancelRequest or CancelAllRequests.
	ErrRequestCanceled = dedup.ErrCanceled

	// ErrTypeMismatch is returned when the value cached or produced for a key
	// is not of the type the caller asked for.
	ErrTypeMismatch = errors.New("cached value has unexpected type")

	// ErrClosed is returned by Fetch after Close.
	ErrClosed = errors.New("orchestrator closed")
)

// RateLimitError is returned by Fetch when an endpoint's window is full.
// work is never invoked in that case.
type RateLimitError struct {
	Endpoint   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s, retry in %s", e.Endpoint, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("rate limit exceeded for %s", e.Endpoint)
}

// Is reports whether target is ErrRateLimitExceeded.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}
