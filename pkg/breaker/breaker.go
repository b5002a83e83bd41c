// Package breaker implements a circuit breaker with optional cross-process
// shared state.
//
// A breaker protects a call site against a degraded external dependency:
// consecutive failures trip the circuit open, open circuits reject calls
// without touching the network, and after a cool-off period a single probe
// call is admitted to test for recovery. When a SharedStore is attached,
// breaker state is mirrored to an external key-value store so that multiple
// process instances agree on the circuit state, and the half-open probe slot
// is arbitrated through the store rather than only an in-process lock.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the circuit state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrProbeInProgress is returned to callers rejected during half-open while
// another caller holds the probe slot.
var ErrProbeInProgress = errors.New("circuit half-open: probe in progress")

// OpenError is the typed rejection returned while the circuit is open.
// The wrapped operation is never invoked.
type OpenError struct {
	Name        string
	State       State
	LastFailure time.Time
	Timeout     time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit %q is %s (last failure %s, retry after %s)",
		e.Name, e.State, e.LastFailure.Format(time.RFC3339), e.Timeout)
}

// IsOpen reports whether err is an open-circuit rejection.
func IsOpen(err error) bool {
	var oe *OpenError
	return errors.As(err, &oe)
}

// SharedStore mirrors breaker state across process instances. All methods
// must be safe for concurrent use. Implementations live outside this
// package; see the Redis adapter in internal/infrastructure/redis.
type SharedStore interface {
	// GetState returns the shared state and last failure time for name.
	// found is false when the shared store has no record yet.
	GetState(ctx context.Context, name string) (state State, lastFailure time.Time, found bool, err error)
	// SetState records the state and last failure time for name.
	SetState(ctx context.Context, name string, state State, lastFailure time.Time) error
	// AcquireProbe attempts to take the single half-open probe slot for
	// name, valid for ttl. It must be a conditional set: acquired is false
	// when another instance already holds the slot.
	AcquireProbe(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)
	// ReleaseProbe releases the probe slot for name.
	ReleaseProbe(ctx context.Context, name string) error
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config holds breaker thresholds and timing.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the circuit open.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open probe
	// successes required to close the circuit again.
	SuccessThreshold int
	// Timeout is how long an open circuit rejects calls before admitting
	// a probe.
	Timeout time.Duration
	// ProbeTTL bounds how long the shared probe slot is held; it guards
	// against a crashed prober wedging the circuit. Defaults to Timeout.
	ProbeTTL time.Duration
	// IsFailure classifies which errors count toward the failure
	// threshold. Errors it rejects propagate without affecting breaker
	// state. Nil counts every non-nil error.
	IsFailure func(error) bool
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.FailureThreshold <= 0 {
		out.FailureThreshold = 5
	}
	if out.SuccessThreshold <= 0 {
		out.SuccessThreshold = 1
	}
	if out.Timeout <= 0 {
		out.Timeout = 30 * time.Second
	}
	if out.ProbeTTL <= 0 {
		out.ProbeTTL = out.Timeout
	}
	return out
}

// Counts is a snapshot of breaker counters.
type Counts struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastFailureTime      time.Time
	LastSuccessTime      time.Time
	StateChanges         int
}

// Breaker protects a single named call site.
type Breaker struct {
	name  string
	cfg   Config
	clock Clock
	store SharedStore

	onStateChange func(name string, from, to State)

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	lastFailure   time.Time
	lastSuccess   time.Time
	stateChanges  int
	probeInFlight bool
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock injects a clock, used by tests to control time.
func WithClock(c Clock) Option {
	return func(b *Breaker) { b.clock = c }
}

// WithSharedStore attaches a cross-process state store. Store failures
// degrade the breaker to local-only state; they never fail the protected
// call.
func WithSharedStore(s SharedStore) Option {
	return func(b *Breaker) { b.store = s }
}

// WithStateChangeHook registers a callback invoked on every state
// transition, for logging and metrics.
func WithStateChangeHook(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onStateChange = fn }
}

// New creates a breaker for the given call-site name.
func New(name string, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		name:  name,
		cfg:   cfg.withDefaults(),
		clock: systemClock{},
		state: StateClosed,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name returns the breaker's call-site name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, folding in shared state and open-timeout
// expiry.
func (b *Breaker) State(ctx context.Context) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.syncFromStore(ctx)
	b.maybeExpireOpen()
	return b.state
}

// Counts returns a snapshot of the breaker counters.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Counts{
		ConsecutiveFailures:  b.failures,
		ConsecutiveSuccesses: b.successes,
		LastFailureTime:      b.lastFailure,
		LastSuccessTime:      b.lastSuccess,
		StateChanges:         b.stateChanges,
	}
}

// Reset forces the breaker back to closed and clears counters.
func (b *Breaker) Reset(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(ctx, StateClosed)
	b.failures = 0
	b.successes = 0
}

// Execute runs fn under the breaker's policy. While the circuit is open it
// returns an *OpenError without invoking fn. During half-open exactly one
// caller is admitted as the probe; concurrent callers receive
// ErrProbeInProgress rather than being queued.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	release, err := b.admit(ctx)
	if err != nil {
		return err
	}

	callErr := fn(ctx)
	if release != nil {
		release()
	}
	b.record(ctx, callErr)
	return callErr
}

// Run executes fn under b and returns its value. It exists because Execute
// loses the result type behind a closure.
func Run[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var fnErr error
		out, fnErr = fn(ctx)
		return fnErr
	})
	return out, err
}

// admit decides whether the caller may invoke the protected operation. The
// returned release func is non-nil only for the half-open probe holder.
func (b *Breaker) admit(ctx context.Context) (release func(), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.syncFromStore(ctx)
	b.maybeExpireOpen()

	switch b.state {
	case StateClosed:
		return nil, nil
	case StateOpen:
		return nil, &OpenError{
			Name:        b.name,
			State:       StateOpen,
			LastFailure: b.lastFailure,
			Timeout:     b.cfg.Timeout,
		}
	case StateHalfOpen:
		if b.probeInFlight {
			return nil, ErrProbeInProgress
		}
		if b.store != nil {
			acquired, storeErr := b.store.AcquireProbe(ctx, b.name, b.cfg.ProbeTTL)
			if storeErr == nil && !acquired {
				return nil, ErrProbeInProgress
			}
			// On store error fall through: the local flag still
			// guarantees a single probe per process.
		}
		b.probeInFlight = true
		return func() {
			b.mu.Lock()
			b.probeInFlight = false
			b.mu.Unlock()
			if b.store != nil {
				_ = b.store.ReleaseProbe(ctx, b.name)
			}
		}, nil
	}
	return nil, nil
}

// record updates counters and state after a call. Errors not matching the
// failure classifier leave the breaker untouched.
func (b *Breaker) record(ctx context.Context, callErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if callErr == nil {
		b.onSuccess(ctx)
		return
	}
	if b.cfg.IsFailure != nil && !b.cfg.IsFailure(callErr) {
		return
	}
	b.onFailure(ctx)
}

func (b *Breaker) onSuccess(ctx context.Context) {
	b.failures = 0
	b.successes++
	b.lastSuccess = b.clock.Now()

	if b.state == StateHalfOpen && b.successes >= b.cfg.SuccessThreshold {
		b.transition(ctx, StateClosed)
	}
}

func (b *Breaker) onFailure(ctx context.Context) {
	b.successes = 0
	b.failures++
	b.lastFailure = b.clock.Now()

	switch b.state {
	case StateHalfOpen:
		// A failed probe reopens immediately.
		b.transition(ctx, StateOpen)
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(ctx, StateOpen)
		} else if b.store != nil {
			// Keep the shared failure clock fresh even before
			// tripping.
			_ = b.store.SetState(ctx, b.name, b.state, b.lastFailure)
		}
	}
}

// maybeExpireOpen moves open to half-open once the timeout has elapsed.
// Caller must hold b.mu.
func (b *Breaker) maybeExpireOpen() {
	if b.state != StateOpen {
		return
	}
	if b.clock.Now().Sub(b.lastFailure) >= b.cfg.Timeout {
		b.transition(context.Background(), StateHalfOpen)
	}
}

// syncFromStore adopts shared state when another instance has moved the
// circuit. Store failures are ignored: local state wins. Caller must hold
// b.mu.
func (b *Breaker) syncFromStore(ctx context.Context) {
	if b.store == nil {
		return
	}
	state, lastFailure, found, err := b.store.GetState(ctx, b.name)
	if err != nil || !found {
		return
	}
	if state != b.state {
		from := b.state
		b.state = state
		b.stateChanges++
		b.successes = 0
		if b.onStateChange != nil {
			b.onStateChange(b.name, from, state)
		}
	}
	if lastFailure.After(b.lastFailure) {
		b.lastFailure = lastFailure
	}
}

// transition changes state and mirrors it to the shared store. Caller must
// hold b.mu.
func (b *Breaker) transition(ctx context.Context, to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.stateChanges++
	b.successes = 0
	if to == StateClosed {
		b.failures = 0
	}
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
	if b.store != nil {
		_ = b.store.SetState(ctx, b.name, to, b.lastFailure)
	}
}
