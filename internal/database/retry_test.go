package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/BradenHooton/ticketguard/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestBackoff_Delay_GrowsAndCaps(t *testing.T) {
	b := Backoff{Initial: 10 * time.Millisecond, Max: 100 * time.Millisecond, Multiplier: 2}

	assert.Equal(t, 10*time.Millisecond, b.Delay(0, 0))
	assert.Equal(t, 20*time.Millisecond, b.Delay(1, 0))
	assert.Equal(t, 40*time.Millisecond, b.Delay(2, 0))
	assert.Equal(t, 80*time.Millisecond, b.Delay(3, 0))
	assert.Equal(t, 100*time.Millisecond, b.Delay(4, 0))
	assert.Equal(t, 100*time.Millisecond, b.Delay(20, 0))
}

func TestBackoff_Delay_JitterBounds(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2, JitterFraction: 0.5}

	// Half of the delay is fixed, half is scaled by the jitter sample.
	assert.Equal(t, 50*time.Millisecond, b.Delay(0, 0))
	assert.Equal(t, 75*time.Millisecond, b.Delay(0, 0.5))
	assert.Equal(t, 100*time.Millisecond, b.Delay(0, 1))
	assert.Equal(t, 100*time.Millisecond, b.Delay(1, 0))
}

func TestBackoff_Delay_NegativeAttempt(t *testing.T) {
	b := Backoff{Initial: 10 * time.Millisecond, Max: 100 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 10*time.Millisecond, b.Delay(-3, 0))
}

func noSleepPolicy(maxRetries int, slept *[]time.Duration) RetryPolicy {
	p := NewRetryPolicy(maxRetries)
	p.Jitter = func() float64 { return 0 }
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return p
}

func TestRetryPolicy_RetriesConflictsThenSucceeds(t *testing.T) {
	var slept []time.Duration
	p := noSleepPolicy(3, &slept)

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("commit: %w", models.ErrConcurrencyConflict)
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, slept, 2)
	assert.Less(t, slept[0], slept[1])
}

func TestRetryPolicy_SurfacesConflictAfterBudget(t *testing.T) {
	var slept []time.Duration
	p := noSleepPolicy(2, &slept)

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return models.ErrConcurrencyConflict
	})

	assert.ErrorIs(t, err, models.ErrConcurrencyConflict)
	assert.Equal(t, 3, calls)
	assert.Len(t, slept, 2)
}

func TestRetryPolicy_DoesNotRetryOtherErrors(t *testing.T) {
	var slept []time.Duration
	p := noSleepPolicy(5, &slept)
	boom := errors.New("boom")

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Empty(t, slept)
}

func TestRetryPolicy_StopsWhenContextCancelled(t *testing.T) {
	p := NewRetryPolicy(5)
	p.Backoff = Backoff{Initial: time.Hour, Max: time.Hour, Multiplier: 1}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Do(ctx, func(ctx context.Context) error {
		return models.ErrConcurrencyConflict
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryPolicy_OnRetryReportsEachRetry(t *testing.T) {
	var slept []time.Duration
	p := noSleepPolicy(3, &slept)

	var retries []int
	p.OnRetry = func(retry int, err error) {
		assert.ErrorIs(t, err, models.ErrConcurrencyConflict)
		retries = append(retries, retry)
	}

	_ = p.Do(context.Background(), func(ctx context.Context) error {
		return models.ErrConcurrencyConflict
	})
	assert.Equal(t, []int{1, 2, 3}, retries)
}
