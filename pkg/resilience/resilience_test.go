package resilience

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

func newTestBreaker(clock *fakeClock, threshold int) (*CircuitBreaker, *[]State) {
	var transitions []State
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     10 * time.Second,
		Now:              clock.Now,
		OnStateChange: func(_ string, _, to State) {
			transitions = append(transitions, to)
		},
	})
	return cb, &transitions
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb, transitions := newTestBreaker(clock, 3)

	for range 2 {
		require.NoError(t, cb.Allow())
		cb.Record(errBoom)
	}
	assert.Equal(t, StateClosed, cb.GetState())

	require.NoError(t, cb.Allow())
	cb.Record(errBoom)
	assert.Equal(t, StateOpen, cb.GetState())

	err := cb.Allow()
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, []State{StateOpen}, *transitions)
}

func TestCircuitBreakerSuccessResetsCount(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb, _ := newTestBreaker(clock, 2)

	cb.Record(errBoom)
	cb.Record(nil)
	cb.Record(errBoom)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb, transitions := newTestBreaker(clock, 1)

	cb.Record(errBoom)
	require.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	clock.Advance(10 * time.Second)
	require.NoError(t, cb.Allow(), "first call after cool-down is the probe")
	assert.Equal(t, StateHalfOpen, cb.GetState())
	require.ErrorIs(t, cb.Allow(), ErrCircuitOpen, "only one probe at a time")

	cb.Record(nil)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, *transitions)
}

func TestCircuitBreakerFailedProbeRestartsCoolDown(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb, _ := newTestBreaker(clock, 1)

	cb.Record(errBoom)
	clock.Advance(10 * time.Second)
	require.NoError(t, cb.Allow())
	cb.Record(errBoom)
	assert.Equal(t, StateOpen, cb.GetState())

	clock.Advance(9 * time.Second)
	require.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
	clock.Advance(time.Second)
	require.NoError(t, cb.Allow())
}

func TestCircuitBreakerReleaseFreesProbeSlot(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb, transitions := newTestBreaker(clock, 2)

	require.NoError(t, cb.Allow())
	cb.Release()
	cb.Record(errBoom)
	assert.Equal(t, StateClosed, cb.GetState(), "release in the closed state changes nothing")

	cb.Record(errBoom)
	clock.Advance(10 * time.Second)
	require.NoError(t, cb.Allow())
	cb.Release()
	assert.Equal(t, StateHalfOpen, cb.GetState())
	require.NoError(t, cb.Allow(), "released slot admits the next probe")
	require.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
	cb.Record(nil)
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, *transitions)
}

func TestCircuitBreakerFailureWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker("windowed", CircuitBreakerConfig{
		FailureThreshold: 2,
		FailureWindow:    time.Minute,
		Now:              clock.Now,
	})

	cb.Record(errBoom)
	clock.Advance(2 * time.Minute)
	cb.Record(errBoom)
	assert.Equal(t, StateClosed, cb.GetState(), "stale failure falls out of the window")

	cb.Record(errBoom)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreakerExecuteAndReset(t *testing.T) {
	cb := NewCircuitBreaker("exec", CircuitBreakerConfig{FailureThreshold: 1})
	err := cb.Execute(func() error { return errBoom })
	require.ErrorIs(t, err, errBoom)

	calls := 0
	err = cb.Execute(func() error { calls++; return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls)

	cb.Reset()
	require.NoError(t, cb.Execute(func() error { calls++; return nil }))
	assert.Equal(t, 1, calls)
}

func TestCircuitBreakerConcurrentRecords(t *testing.T) {
	cb := NewCircuitBreaker("concurrent", CircuitBreakerConfig{FailureThreshold: 1000})
	var wg sync.WaitGroup
	for i := range 64 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for range 100 {
				if cb.Allow() == nil {
					if i%2 == 0 {
						cb.Record(nil)
					} else {
						cb.Record(errBoom)
					}
				}
			}
		}(i)
	}
	wg.Wait()
	assert.Contains(t, []State{StateClosed, StateOpen, StateHalfOpen}, cb.GetState())
}

func TestCallReturnsResult(t *testing.T) {
	v, err := Call(context.Background(), time.Second, "fast", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestCallAbandonsSlowWork(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := Call(context.Background(), 20*time.Millisecond, "slow", func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCallHonoursParentDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := Call(ctx, 0, "parent", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		time.Sleep(5 * time.Millisecond)
		return "late", nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithTimeoutPropagatesError(t *testing.T) {
	err := WithTimeout(context.Background(), time.Second, "op", func(ctx context.Context) error {
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
}

func TestRetry(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), "flaky", RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, func() error {
		attempts++
		if attempts < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	attempts := 0
	err := Retry(context.Background(), "fatal", RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Retryable:    func(err error) bool { return !errors.Is(err, fatal) },
	}, func() error {
		attempts++
		return fatal
	})
	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, attempts)
}

func TestRetryExhausted(t *testing.T) {
	err := Retry(context.Background(), "always", RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}, func() error {
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "all 2 attempts failed")
}
