// Package fallback decides, per query, whether the dense retrieval path may
// run. It owns one circuit breaker for the embedding provider and one for the
// vector index; the sparse path is never gated.
package fallback

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/resilience"
)

const (
	BreakerEmbedder    = "embedder"
	BreakerVectorIndex = "vector_index"
)

type Option func(*resilience.CircuitBreakerConfig)

// WithClock replaces time.Now in both breakers.
func WithClock(now func() time.Time) Option {
	return func(c *resilience.CircuitBreakerConfig) { c.Now = now }
}

type Controller struct {
	embedder *resilience.CircuitBreaker
	vectors  *resilience.CircuitBreaker
	logger   *slog.Logger
}

// New builds the two breakers. m may be nil.
func New(cfg config.BreakerConfig, m *metrics.Metrics, opts ...Option) *Controller {
	logger := slog.Default().With("component", "fallback")
	onChange := func(name string, from, to resilience.State) {
		logger.Warn("breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		if m != nil {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	build := func(name string, c config.CircuitConfig) *resilience.CircuitBreaker {
		bc := resilience.CircuitBreakerConfig{
			FailureThreshold:    c.FailureThreshold,
			ResetTimeout:        c.CoolDown,
			HalfOpenMaxRequests: 1,
			FailureWindow:       c.Window,
			OnStateChange:       onChange,
		}
		for _, opt := range opts {
			opt(&bc)
		}
		if m != nil {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(resilience.StateClosed))
		}
		return resilience.NewCircuitBreaker(name, bc)
	}
	return &Controller{
		embedder: build(BreakerEmbedder, cfg.Embedder),
		vectors:  build(BreakerVectorIndex, cfg.VectorIndex),
		logger:   logger,
	}
}

// AllowEmbed reports whether the embedding provider may be called. A nil
// return must be followed by RecordEmbed.
func (c *Controller) AllowEmbed() error {
	return c.embedder.Allow()
}

func (c *Controller) RecordEmbed(err error) {
	record(c.embedder, err)
}

// AllowDense reports whether the vector index may be queried. A nil return
// must be followed by RecordDense.
func (c *Controller) AllowDense() error {
	return c.vectors.Allow()
}

// RecordDense records a vector query outcome. An empty index is a valid
// answer, not a failure.
func (c *Controller) RecordDense(err error) {
	if errors.Is(err, apperrors.ErrEmptyIndex) {
		err = nil
	}
	record(c.vectors, err)
}

// ReleaseDense gives back an AllowDense admission when the query never
// reached the vector index.
func (c *Controller) ReleaseDense() {
	c.vectors.Release()
}

// DenseOpen reports whether either breaker is currently open, meaning the
// next query will most likely run sparse-only.
func (c *Controller) DenseOpen() bool {
	return c.embedder.GetState() == resilience.StateOpen || c.vectors.GetState() == resilience.StateOpen
}

// States returns the state of each breaker by name.
func (c *Controller) States() map[string]resilience.State {
	return map[string]resilience.State{
		BreakerEmbedder:    c.embedder.GetState(),
		BreakerVectorIndex: c.vectors.GetState(),
	}
}

// Reset closes both breakers.
func (c *Controller) Reset() {
	c.embedder.Reset()
	c.vectors.Reset()
}

// record ignores outcomes that say nothing about the health of the
// dependency: malformed input and callers giving up. They neither count as
// failures nor close a half-open breaker.
func record(cb *resilience.CircuitBreaker, err error) {
	if errors.Is(err, apperrors.ErrInvalidInput) || errors.Is(err, context.Canceled) {
		cb.Release()
		return
	}
	cb.Record(err)
}
