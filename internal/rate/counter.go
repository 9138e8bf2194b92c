package rate

import (
	"context"
	"fmt"
	"time"
)

// failureRetention bounds how far back progressive backoff looks when
// counting failures.
const failureRetention = time.Hour

// Quota is one (limit, window) pair. A Check call may carry several quotas
// for the same key; the first violated quota blocks the whole check.
type Quota struct {
	Limit  int
	Window time.Duration
}

// Result reports a limiter decision. RetryAfter is only meaningful when
// Allowed is false; it is the earliest delay after which a retry can succeed.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Counter is the rate limiting port shared by the memory and Redis backends.
//
// Check admits or blocks an event under every given quota. An admitted event
// is recorded against each quota's window; a blocked event is not recorded.
//
// CheckProgressive consults the failure history recorded via RecordFailure
// and blocks while the progressive delay from the most recent failure has
// not elapsed. It records nothing.
//
// Reset clears the failure history and the event windows of the given quotas,
// typically after a successful authentication.
type Counter interface {
	Check(ctx context.Context, scope, identifier string, quotas ...Quota) (Result, error)
	CheckProgressive(ctx context.Context, scope, identifier string, base, max time.Duration) (Result, error)
	RecordFailure(ctx context.Context, scope, identifier string) error
	Reset(ctx context.Context, scope, identifier string, quotas ...Quota) error
	Prune(ctx context.Context, olderThan time.Duration) error
}

// progressiveDelay computes the backoff imposed by n trailing failures.
// Zero failures impose no delay.
func progressiveDelay(n int, base, max time.Duration) time.Duration {
	if n <= 0 {
		return 0
	}
	shift := uint(n - 1)
	if shift > 30 {
		shift = 30
	}
	delay := base << shift
	if delay > max || delay <= 0 {
		delay = max
	}
	return delay
}

func eventKey(scope, identifier string, window time.Duration) string {
	return fmt.Sprintf("ek:rl:%s:%s:%d", scope, identifier, int64(window.Seconds()))
}

func failureKey(scope, identifier string) string {
	return fmt.Sprintf("ek:rlf:%s:%s", scope, identifier)
}
