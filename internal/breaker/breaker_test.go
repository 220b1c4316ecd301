package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/ticketguard/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errDependency = errors.New("connection refused")

func testSettings() Settings {
	return Settings{
		FailureRatio:      0.5,
		MinimumThroughput: 4,
		SamplingDuration:  10 * time.Second,
		BreakDuration:     30 * time.Second,
		OperationTimeout:  50 * time.Millisecond,
	}
}

func newTestRegistry(t *testing.T) (*Registry, *fakeClock, *metrics.Collector) {
	t.Helper()
	clock := newFakeClock()
	m := metrics.NewNopCollector()
	return NewRegistry(testSettings(), slog.Default(), m, WithClock(clock.Now)), clock, m
}

func fail(ctx context.Context) error { return errDependency }
func succeed(ctx context.Context) error { return nil }

func TestRegistry_StartsClosed(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	assert.Equal(t, StateClosed, r.State("cache.get"))
}

func TestRegistry_DoesNotOpenBelowMinimumThroughput(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, Do(ctx, r, "op", fail), errDependency)
	}
	assert.Equal(t, StateClosed, r.State("op"))
}

func TestRegistry_OpensAtFailureRatioAndFailsFast(t *testing.T) {
	r, _, m := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, Do(ctx, r, "op", succeed))
	require.NoError(t, Do(ctx, r, "op", succeed))
	assert.ErrorIs(t, Do(ctx, r, "op", fail), errDependency)
	assert.Equal(t, StateClosed, r.State("op"))

	// 2 failures / 4 calls reaches the 0.5 ratio at minimum throughput.
	assert.ErrorIs(t, Do(ctx, r, "op", fail), errDependency)
	require.Equal(t, StateOpen, r.State("op"))

	var calls int32
	for i := 0; i < 10; i++ {
		err := Do(ctx, r, "op", func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
		assert.ErrorIs(t, err, ErrCircuitOpen)

		var openErr *OpenError
		require.ErrorAs(t, err, &openErr)
		assert.Equal(t, "op", openErr.Operation)
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "wrapped operation must not run while open")
	assert.Equal(t, float64(10), testutil.ToFloat64(m.BreakerRejectedTotal.WithLabelValues("op")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BreakerTransitionsTotal.WithLabelValues("op", "closed", "open")))
}

func TestRegistry_ResetClosesCircuitsAndGauges(t *testing.T) {
	r, _, m := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_ = Do(ctx, r, "op", fail)
	}
	require.Equal(t, StateOpen, r.State("op"))
	require.Equal(t, float64(StateOpen), testutil.ToFloat64(m.BreakerState.WithLabelValues("op")))

	r.Reset()

	assert.Equal(t, float64(StateClosed), testutil.ToFloat64(m.BreakerState.WithLabelValues("op")))
	assert.Equal(t, StateClosed, r.State("op"))
	assert.NoError(t, Do(ctx, r, "op", succeed))
}

func TestRegistry_OperationsAreIndependent(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_ = Do(ctx, r, "cache.incr", fail)
	}

	assert.Equal(t, StateOpen, r.State("cache.incr"))
	assert.Equal(t, StateClosed, r.State("cache.get"))
	assert.NoError(t, Do(ctx, r, "cache.get", succeed))
}

func openCircuit(t *testing.T, r *Registry, name string) {
	t.Helper()
	for i := 0; i < 4; i++ {
		_ = Do(context.Background(), r, name, fail)
	}
	require.Equal(t, StateOpen, r.State(name))
}

func TestRegistry_HalfOpenProbeSuccessCloses(t *testing.T) {
	r, clock, _ := newTestRegistry(t)
	openCircuit(t, r, "op")

	clock.Advance(29 * time.Second)
	assert.Equal(t, StateOpen, r.State("op"))

	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, r.State("op"))

	require.NoError(t, Do(context.Background(), r, "op", succeed))
	assert.Equal(t, StateClosed, r.State("op"))

	// Counters were reset: one failure does not reopen.
	_ = Do(context.Background(), r, "op", fail)
	assert.Equal(t, StateClosed, r.State("op"))
}

func TestRegistry_HalfOpenProbeFailureReopens(t *testing.T) {
	r, clock, _ := newTestRegistry(t)
	openCircuit(t, r, "op")

	clock.Advance(30 * time.Second)
	assert.ErrorIs(t, Do(context.Background(), r, "op", fail), errDependency)
	assert.Equal(t, StateOpen, r.State("op"))

	// Break timer restarted from the failed probe.
	clock.Advance(29 * time.Second)
	assert.ErrorIs(t, Do(context.Background(), r, "op", succeed), ErrCircuitOpen)
	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, r.State("op"))
}

func TestRegistry_HalfOpenAdmitsSingleProbe(t *testing.T) {
	r, clock, _ := newTestRegistry(t)
	openCircuit(t, r, "op")
	clock.Advance(30 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- Do(context.Background(), r, "op", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	var calls int32
	err := Do(context.Background(), r, "op", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, r.State("op"))
}

func TestRegistry_TimeoutCountsAsFailure(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	hang := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	for i := 0; i < 4; i++ {
		assert.ErrorIs(t, Do(context.Background(), r, "slow", hang), context.DeadlineExceeded)
	}
	assert.Equal(t, StateOpen, r.State("slow"))
}

func TestRegistry_CallerCancellationIsIgnored(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 10; i++ {
		_ = Do(ctx, r, "op", func(ctx context.Context) error { return ctx.Err() })
	}
	assert.Equal(t, StateClosed, r.State("op"))
}

func TestRegistry_FailuresAgeOutOfSamplingWindow(t *testing.T) {
	r, clock, _ := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = Do(ctx, r, "op", fail)
	}
	clock.Advance(20 * time.Second)

	_ = Do(ctx, r, "op", fail)
	assert.Equal(t, StateClosed, r.State("op"))
}

func TestExecute_ReturnsValue(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	val, err := Execute(context.Background(), r, "op", func(ctx context.Context) (int64, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), val)
}

func TestRegistry_ConcurrentCallsAreSafe(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			op := succeed
			if i%2 == 0 {
				op = fail
			}
			_ = Do(context.Background(), r, "op", op)
			_ = r.State("op")
		}(i)
	}
	wg.Wait()

	assert.Contains(t, []State{StateClosed, StateOpen}, r.State("op"))
}
