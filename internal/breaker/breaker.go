// Package breaker guards calls to an unreliable dependency with a per-operation
// circuit breaker. Each operation name owns an independent state machine.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/ticketguard/internal/metrics"
)

// ErrCircuitOpen is matched by every error returned for a rejected call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// OpenError is returned when a call is rejected without running the operation.
type OpenError struct {
	Operation string
	State     State
	RetryAt   time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker for %q is %s", e.Operation, e.State)
}

func (e *OpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// Settings configures every circuit created by a Registry.
type Settings struct {
	// FailureRatio opens the circuit when failures/total is greater than or equal to it;
	// reaching the ratio is enough.
	FailureRatio float64
	// MinimumThroughput is the number of sampled calls required before the ratio is evaluated.
	MinimumThroughput int
	SamplingDuration  time.Duration
	BreakDuration     time.Duration
	// OperationTimeout bounds each call; a call that runs past it counts as a failure.
	OperationTimeout time.Duration
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	// outcomeIgnored is a call abandoned by its caller; it says nothing about the dependency.
	outcomeIgnored
)

type circuit struct {
	name string

	mu            sync.Mutex
	state         State
	window        *window
	openUntil     time.Time
	probeInFlight bool
}

// Registry owns the circuits of one process. Create it once at startup and share it.
type Registry struct {
	settings Settings
	logger   *slog.Logger
	metrics  *metrics.Collector
	now      func() time.Time

	mu       sync.Mutex
	circuits map[string]*circuit
}

type Option func(*Registry)

// WithClock replaces the wall clock, for simulated time in tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func NewRegistry(settings Settings, logger *slog.Logger, m *metrics.Collector, opts ...Option) *Registry {
	if settings.MinimumThroughput < 1 {
		settings.MinimumThroughput = 1
	}
	r := &Registry{
		settings: settings,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		circuits: make(map[string]*circuit),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) circuit(name string) *circuit {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.circuits[name]
	if !ok {
		c = &circuit{
			name:   name,
			state:  StateClosed,
			window: newWindow(r.settings.SamplingDuration),
		}
		r.circuits[name] = c
		if r.metrics != nil {
			r.metrics.BreakerState.WithLabelValues(name).Set(float64(StateClosed))
		}
	}
	return c
}

// State returns the state an incoming call for name would observe.
func (r *Registry) State(name string) State {
	c := r.circuit(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	r.advance(c, r.now())
	return c.state
}

// Reset drops every circuit and reports each one as closed again. Intended for tests.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.metrics != nil {
		for name := range r.circuits {
			r.metrics.BreakerState.WithLabelValues(name).Set(float64(StateClosed))
		}
	}
	r.circuits = make(map[string]*circuit)
}

// Execute runs fn under the circuit for name.
func Execute[T any](ctx context.Context, r *Registry, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	c := r.circuit(name)
	probe, err := r.before(c)
	if err != nil {
		return zero, err
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.settings.OperationTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, r.settings.OperationTimeout)
	}
	val, err := fn(callCtx)
	cancel()

	r.after(c, probe, classify(ctx, err))
	return val, err
}

// Do is Execute for operations without a result.
func Do(ctx context.Context, r *Registry, name string, fn func(context.Context) error) error {
	_, err := Execute(ctx, r, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func classify(parent context.Context, err error) outcome {
	if err == nil {
		return outcomeSuccess
	}
	if parent.Err() != nil {
		return outcomeIgnored
	}
	return outcomeFailure
}

// advance applies the break-elapsed transition. Caller holds c.mu.
func (r *Registry) advance(c *circuit, now time.Time) {
	if c.state == StateOpen && !now.Before(c.openUntil) {
		r.setState(c, Transition(c.state, EventBreakElapsed))
		c.probeInFlight = false
	}
}

func (r *Registry) before(c *circuit) (probe bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r.advance(c, r.now())

	switch c.state {
	case StateClosed:
		return false, nil
	case StateHalfOpen:
		if c.probeInFlight {
			r.reject(c)
			return false, &OpenError{Operation: c.name, State: c.state}
		}
		c.probeInFlight = true
		return true, nil
	default:
		r.reject(c)
		return false, &OpenError{Operation: c.name, State: c.state, RetryAt: c.openUntil}
	}
}

func (r *Registry) after(c *circuit, probe bool, result outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := r.now()

	if probe {
		c.probeInFlight = false
		if c.state != StateHalfOpen {
			return
		}
		switch result {
		case outcomeSuccess:
			r.setState(c, Transition(c.state, EventSuccess))
			c.window.reset()
		case outcomeFailure:
			r.setState(c, Transition(c.state, EventFailure))
			c.openUntil = now.Add(r.settings.BreakDuration)
		}
		return
	}

	// Late results from calls admitted before the circuit left Closed are dropped.
	if c.state != StateClosed || result == outcomeIgnored {
		return
	}

	c.window.record(now, result == outcomeFailure)
	if result != outcomeFailure {
		return
	}

	total, failures := c.window.totals(now)
	if total < r.settings.MinimumThroughput {
		return
	}
	if float64(failures)/float64(total) >= r.settings.FailureRatio {
		r.setState(c, Transition(c.state, EventThresholdExceeded))
		c.openUntil = now.Add(r.settings.BreakDuration)
		c.window.reset()
	}
}

func (r *Registry) reject(c *circuit) {
	if r.metrics != nil {
		r.metrics.BreakerRejectedTotal.WithLabelValues(c.name).Inc()
	}
}

// setState records a transition. Caller holds c.mu.
func (r *Registry) setState(c *circuit, next State) {
	if c.state == next {
		return
	}
	from := c.state
	c.state = next

	if r.metrics != nil {
		r.metrics.BreakerTransitionsTotal.WithLabelValues(c.name, from.String(), next.String()).Inc()
		r.metrics.BreakerState.WithLabelValues(c.name).Set(float64(next))
	}

	attrs := []any{
		slog.String("operation", c.name),
		slog.String("from", from.String()),
		slog.String("to", next.String()),
	}
	switch next {
	case StateOpen:
		r.logger.Warn("circuit breaker opened",
			append(attrs, slog.Duration("break_duration", r.settings.BreakDuration))...)
	case StateHalfOpen:
		r.logger.Info("circuit breaker half-open, admitting probe", attrs...)
	case StateClosed:
		r.logger.Info("circuit breaker reset", attrs...)
	}
}
