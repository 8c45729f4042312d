// Package retry provides the bounded exponential backoff policy shared by
// the embedding, vector store, and completion clients.
package retry

import (
	"context"
	"time"

	"github.com/desknow-ai/desknow/internal/domain"
)

// Policy controls how many times an operation is retried and how long to
// wait between attempts. The delay doubles after every failed attempt.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultPolicy matches the retry behavior used for external service calls:
// up to 3 retries starting at one second.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// Do runs fn, retrying transient failures with exponential backoff. A
// non-transient error returns immediately. Exhausting all retries escalates
// the last transient error to a permanent one. Context cancellation aborts
// the wait and returns the context error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	delay := p.InitialDelay
	if delay <= 0 {
		delay = 1 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
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

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !domain.IsTransient(lastErr) {
			return lastErr
		}
	}

	return domain.NewPermanentError("retries exhausted", lastErr)
}
