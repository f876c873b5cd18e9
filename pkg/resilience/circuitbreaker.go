// Package resilience provides fault-tolerance primitives: a circuit breaker,
// exponential-backoff retry, and context-bound call wrappers that abandon
// work once a deadline passes.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is in the Open state.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current phase of a circuit breaker.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig controls failure thresholds and recovery timing.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int
	// FailureWindow restarts the consecutive-failure count when the previous
	// failure is older than the window. Zero disables the window.
	FailureWindow time.Duration
	// OnStateChange is called with the mutex held; it must not call back
	// into the breaker.
	OnStateChange func(name string, from, to State)
	// Now overrides the clock.
	Now func() time.Time
}

func defaultCBConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		ResetTimeout:        30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// CircuitBreaker tracks consecutive failures and trips open when the
// threshold is reached. After a cool-down period it transitions to
// half-open and allows a probe request.
//
// Allow and Record in the Closed state only touch atomics; the mutex is taken
// for failures and for every transition.
type CircuitBreaker struct {
	name                string
	cfg                 CircuitBreakerConfig
	mu                  sync.Mutex
	state               atomic.Int32
	consecutiveFailures atomic.Int64
	logger              *slog.Logger
	lastFailureTime     time.Time
	openedAt            time.Time
	halfOpenRequests    int
}

// NewCircuitBreaker creates a CircuitBreaker with the given config, filling
// in defaults for zero values.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	defaults := defaultCBConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaults.ResetTimeout
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = defaults.HalfOpenMaxRequests
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
	}
}

// Name returns the breaker's name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute runs fn if the circuit allows it, recording success or failure.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn()
	cb.Record(err)
	return err
}

// GetState returns the current State of the circuit breaker.
func (cb *CircuitBreaker) GetState() State {
	return State(cb.state.Load())
}

// Allow reports whether a call may proceed. A nil return obliges the caller
// to report the outcome through Record.
func (cb *CircuitBreaker) Allow() error {
	if State(cb.state.Load()) == StateClosed {
		return nil
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch State(cb.state.Load()) {
	case StateClosed:
		return nil
	case StateOpen:
		elapsed := cb.cfg.Now().Sub(cb.openedAt)
		if elapsed >= cb.cfg.ResetTimeout {
			cb.transition(StateHalfOpen)
			cb.halfOpenRequests = 1
			cb.logger.Info("circuit transitioning to half-open",
				"after", cb.cfg.ResetTimeout,
			)
			return nil
		}
		return fmt.Errorf("%w: %s (retry after %v)", ErrCircuitOpen, cb.name, cb.cfg.ResetTimeout-elapsed)
	case StateHalfOpen:
		if cb.halfOpenRequests >= cb.cfg.HalfOpenMaxRequests {
			return fmt.Errorf("%w: %s (half-open probe limit reached)", ErrCircuitOpen, cb.name)
		}
		cb.halfOpenRequests++
		return nil
	}
	return nil
}

// Record reports the outcome of a call admitted by Allow.
func (cb *CircuitBreaker) Record(err error) {
	if err == nil {
		cb.onSuccess()
		return
	}
	cb.onFailure()
}

// Release hands back an admission from Allow without an outcome, for calls
// that never ran or whose result says nothing about the dependency. The
// state is left as it is; a half-open probe slot becomes free again.
func (cb *CircuitBreaker) Release() {
	if State(cb.state.Load()) == StateClosed {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if State(cb.state.Load()) == StateHalfOpen && cb.halfOpenRequests > 0 {
		cb.halfOpenRequests--
	}
}

func (cb *CircuitBreaker) onSuccess() {
	if State(cb.state.Load()) == StateClosed {
		if cb.consecutiveFailures.Load() != 0 {
			cb.consecutiveFailures.Store(0)
		}
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if State(cb.state.Load()) == StateHalfOpen {
		cb.transition(StateClosed)
		cb.consecutiveFailures.Store(0)
		cb.halfOpenRequests = 0
		cb.logger.Info("circuit closed (recovered)")
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	now := cb.cfg.Now()
	if cb.cfg.FailureWindow > 0 && !cb.lastFailureTime.IsZero() && now.Sub(cb.lastFailureTime) > cb.cfg.FailureWindow {
		cb.consecutiveFailures.Store(0)
	}
	cb.lastFailureTime = now
	failures := cb.consecutiveFailures.Add(1)
	switch State(cb.state.Load()) {
	case StateClosed:
		if failures >= int64(cb.cfg.FailureThreshold) {
			cb.openedAt = now
			cb.transition(StateOpen)
			cb.logger.Warn("circuit opened", "consecutive_failures", failures, "threshold", cb.cfg.FailureThreshold)
		}
	case StateHalfOpen:
		cb.openedAt = now
		cb.halfOpenRequests = 0
		cb.transition(StateOpen)
		cb.logger.Warn("circuit re-opened (half-open probe failed)")
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := State(cb.state.Swap(int32(to)))
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
}

// Reset forces the circuit breaker back to the Closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
	cb.consecutiveFailures.Store(0)
	cb.halfOpenRequests = 0
	cb.logger.Info("circuit manually reset")
}
