package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errBoom = errors.New("boom")

func newTestBreaker(t *testing.T, cfg Config, opts ...Option) (*Breaker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	opts = append(opts, WithClock(clock))
	return New("test", cfg, opts...), clock
}

func failN(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return errBoom })
	}
}

func TestBreaker_StaysClosedBelowThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 5, Timeout: 30 * time.Second})

	failN(b, 4)

	assert.Equal(t, StateClosed, b.State(context.Background()))
	assert.Equal(t, 4, b.Counts().ConsecutiveFailures)
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 5, Timeout: 30 * time.Second})

	failN(b, 5)

	assert.Equal(t, StateOpen, b.State(context.Background()))
}

func TestBreaker_OpenRejectsWithoutInvoking(t *testing.T) {
	b, clock := newTestBreaker(t, Config{FailureThreshold: 1, Timeout: 30 * time.Second})
	failN(b, 1)

	calls := 0
	clock.Advance(29 * time.Second)
	err := b.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	require.Error(t, err)
	var oe *OpenError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "test", oe.Name)
	assert.Equal(t, StateOpen, oe.State)
	assert.Equal(t, 30*time.Second, oe.Timeout)
	assert.False(t, oe.LastFailure.IsZero())
	assert.Equal(t, 0, calls, "wrapped operation must not run while open")
	assert.True(t, IsOpen(err))
}

func TestBreaker_SuccessDoesNotResetOtherErrors(t *testing.T) {
	// Errors outside the classifier must not move the failure counter.
	b, _ := newTestBreaker(t, Config{
		FailureThreshold: 2,
		Timeout:          30 * time.Second,
		IsFailure:        func(err error) bool { return errors.Is(err, errBoom) },
	})

	failN(b, 1)
	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("business error") })
	assert.Equal(t, 1, b.Counts().ConsecutiveFailures)
	assert.Equal(t, StateClosed, b.State(context.Background()))

	failN(b, 1)
	assert.Equal(t, StateOpen, b.State(context.Background()))
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	b, clock := newTestBreaker(t, Config{FailureThreshold: 1, Timeout: 30 * time.Second})
	failN(b, 1)

	clock.Advance(31 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State(context.Background()))
}

func TestBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	b, clock := newTestBreaker(t, Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: 30 * time.Second})
	failN(b, 1)
	clock.Advance(31 * time.Second)

	const callers = 8
	probeStarted := make(chan struct{})
	probeRelease := make(chan struct{})

	results := make(chan error, callers)
	admitted := 0

	var probeWg sync.WaitGroup
	probeWg.Add(1)
	go func() {
		defer probeWg.Done()
		results <- b.Execute(context.Background(), func(context.Context) error {
			close(probeStarted)
			<-probeRelease
			return nil
		})
	}()

	// All competing callers run while the probe is provably in flight.
	<-probeStarted
	var othersWg sync.WaitGroup
	for i := 1; i < callers; i++ {
		othersWg.Add(1)
		go func() {
			defer othersWg.Done()
			results <- b.Execute(context.Background(), func(context.Context) error { return nil })
		}()
	}
	othersWg.Wait()

	close(probeRelease)
	probeWg.Wait()
	close(results)

	rejected := 0
	for err := range results {
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, ErrProbeInProgress):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, admitted, "exactly one probe admitted")
	assert.Equal(t, callers-1, rejected)
	assert.Equal(t, StateClosed, b.State(context.Background()))
}

func TestBreaker_SuccessThresholdCloses(t *testing.T) {
	b, clock := newTestBreaker(t, Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 30 * time.Second})
	failN(b, 1)
	clock.Advance(31 * time.Second)

	require.NoError(t, b.Execute(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, StateHalfOpen, b.State(context.Background()), "one success of two keeps half-open")

	require.NoError(t, b.Execute(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, StateClosed, b.State(context.Background()))
	assert.Equal(t, 0, b.Counts().ConsecutiveFailures)
}

func TestBreaker_ProbeFailureReopensImmediately(t *testing.T) {
	b, clock := newTestBreaker(t, Config{FailureThreshold: 5, SuccessThreshold: 1, Timeout: 30 * time.Second})
	failN(b, 5)
	clock.Advance(31 * time.Second)

	err := b.Execute(context.Background(), func(context.Context) error { return errBoom })
	require.ErrorIs(t, err, errBoom)

	// One probe failure reopens; the normal threshold does not apply.
	assert.Equal(t, StateOpen, b.State(context.Background()))
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 1, Timeout: 30 * time.Second})
	failN(b, 1)
	require.Equal(t, StateOpen, b.State(context.Background()))

	b.Reset(context.Background())
	assert.Equal(t, StateClosed, b.State(context.Background()))
	assert.Equal(t, 0, b.Counts().ConsecutiveFailures)
}

func TestRun_ReturnsValue(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 1, Timeout: time.Second})

	got, err := Run(context.Background(), b, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestRegistry_GetOrCreateReturnsSameInstance(t *testing.T) {
	r := NewRegistry()
	a := r.GetOrCreate("external_api", Config{FailureThreshold: 3})
	b := r.GetOrCreate("external_api", Config{FailureThreshold: 99})
	c := r.GetOrCreate("fx_api", Config{FailureThreshold: 3})

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestRegistry_IsolatedInstances(t *testing.T) {
	r1 := NewRegistry()
	r2 := NewRegistry()

	b1 := r1.GetOrCreate("external_api", Config{FailureThreshold: 1, Timeout: time.Minute})
	failN(b1, 1)

	b2 := r2.GetOrCreate("external_api", Config{FailureThreshold: 1, Timeout: time.Minute})
	assert.Equal(t, StateOpen, b1.State(context.Background()))
	assert.Equal(t, StateClosed, b2.State(context.Background()))
}

func TestBreaker_StateChangeHook(t *testing.T) {
	var transitions []string
	clock := &fakeClock{now: time.Now()}
	b := New("hooked", Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: 10 * time.Second},
		WithClock(clock),
		WithStateChangeHook(func(name string, from, to State) {
			transitions = append(transitions, string(from)+"->"+string(to))
		}),
	)

	failN(b, 1)
	clock.Advance(11 * time.Second)
	require.NoError(t, b.Execute(context.Background(), func(context.Context) error { return nil }))

	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, transitions)
}
