// Package retry runs an operation under an explicit attempt budget with
// exponential backoff between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds the attempts and the backoff growth for one operation.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Default matches the usual transient-network posture: three attempts,
// 200ms doubling to a 5s ceiling.
var Default = Policy{
	MaxAttempts:    3,
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = Default.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = Default.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = Default.MaxBackoff
	}
	return p
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do gives up immediately instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn until it succeeds, returns a permanent error, exhausts the
// attempt budget, or ctx is canceled during a backoff wait.
func Do(ctx context.Context, p Policy, fn func() error) error {
	p = p.withDefaults()

	backoff := p.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			break
		}
		if !sleepWithContext(ctx, backoff) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff, p.MaxBackoff)
	}
	return fmt.Errorf("after %d attempts: %w", p.MaxAttempts, lastErr)
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
