package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFailureDelay_Target(t *testing.T) {
	d := NewFailureDelay(100*time.Millisecond, 50*time.Millisecond)

	assert.Equal(t, 100*time.Millisecond, d.Target(0))
	assert.Equal(t, 125*time.Millisecond, d.Target(0.5))
	assert.Equal(t, 100*time.Millisecond, d.Target(-1))
}

func TestFailureDelay_WaitFrom_SleepsRemainder(t *testing.T) {
	d := NewFailureDelay(100*time.Millisecond, 0)

	var slept time.Duration
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		slept = dur
		return nil
	}

	assert.NoError(t, d.WaitFrom(context.Background(), time.Now().Add(-40*time.Millisecond)))
	assert.Greater(t, slept, time.Duration(0))
	assert.LessOrEqual(t, slept, 60*time.Millisecond)
}

func TestFailureDelay_WaitFrom_NoSleepWhenAlreadySlow(t *testing.T) {
	d := NewFailureDelay(10*time.Millisecond, 0)
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		t.Fatal("should not sleep")
		return nil
	}

	assert.NoError(t, d.WaitFrom(context.Background(), time.Now().Add(-time.Second)))
}

func TestFailureDelay_WaitFrom_HonoursContext(t *testing.T) {
	d := NewFailureDelay(time.Hour, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, d.WaitFrom(ctx, time.Now()), context.Canceled)
}

func TestFailureDelay_NilIsNoop(t *testing.T) {
	var d *FailureDelay
	assert.NoError(t, d.WaitFrom(context.Background(), time.Now()))
}
