package reddit

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the four upstream failure classes. Callers classify
// with errors.Is; RateLimitError additionally carries the suggested back-off.
var (
	ErrAuth      = errors.New("reddit: authentication rejected")
	ErrRateLimit = errors.New("reddit: rate limited")
	ErrTransient = errors.New("reddit: transient upstream failure")
	ErrFatal     = errors.New("reddit: malformed upstream response")
)

// RateLimitError signals upstream throttling. RetryAfter is zero when the
// upstream did not suggest a delay.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("reddit: rate limited, retry after %s", e.RetryAfter)
	}
	return "reddit: rate limited"
}

// Is makes errors.Is(err, ErrRateLimit) match.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimit
}
