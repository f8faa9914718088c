package retry

import (
	"context"
	"log"
	"time"
)

// Policy is a bounded exponential backoff schedule applied around upstream
// network calls. Only transient conditions are retried; the caller decides
// what counts as transient via the retryable predicate.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy mirrors the upstream clients' schedule: 3 attempts,
// 2s/4s waits capped at 10s.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   2 * time.Second,
	MaxDelay:    10 * time.Second,
}

// Do invokes fn up to MaxAttempts times, sleeping between attempts with
// exponential backoff. A non-retryable error, context cancellation, or
// attempt exhaustion ends the loop; the last error is returned.
func (p Policy) Do(ctx context.Context, op string, retryable func(error) bool, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	delay := p.BaseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt == attempts {
			return err
		}

		log.Printf("%s failed (attempt %d/%d), retrying in %v: %v", op, attempt, attempts, delay, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return err
}
