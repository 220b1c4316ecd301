package database

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/BradenHooton/ticketguard/internal/models"
)

// Backoff computes the delay before a retry. Delay is a pure function of the
// attempt number and a jitter sample in [0, 1), so it can be tested without sleeping.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// JitterFraction is the share of the computed delay that is randomized (0 disables jitter).
	JitterFraction float64
}

// DefaultBackoff is used for serializable transaction retries.
var DefaultBackoff = Backoff{
	Initial:        20 * time.Millisecond,
	Max:            500 * time.Millisecond,
	Multiplier:     2,
	JitterFraction: 0.5,
}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int, jitter float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(b.Initial)
	for i := 0; i < attempt && d < float64(b.Max); i++ {
		d *= b.Multiplier
	}
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.JitterFraction > 0 {
		// Keep (1-JitterFraction) of the delay fixed and spread the rest.
		d = d*(1-b.JitterFraction) + d*b.JitterFraction*jitter
	}
	return time.Duration(d)
}

// RetryPolicy retries a unit of work on models.ErrConcurrencyConflict.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     Backoff
	// Jitter and Sleep are overridable for tests.
	Jitter func() float64
	Sleep  func(ctx context.Context, d time.Duration) error
	// OnRetry, when set, is called before each retry with the 1-based retry number.
	OnRetry func(retry int, err error)
}

// NewRetryPolicy returns a policy with maxRetries retries after the first attempt.
func NewRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxRetries + 1,
		Backoff:     DefaultBackoff,
	}
}

// Do runs fn until it succeeds, fails with a non-conflict error, or the attempt budget is spent.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	jitter := p.Jitter
	if jitter == nil {
		jitter = rand.Float64
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, models.ErrConcurrencyConflict) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err)
		}
		if serr := sleep(ctx, p.Backoff.Delay(attempt, jitter())); serr != nil {
			return serr
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
