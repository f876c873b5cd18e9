// Package searcher is the entry point for queries and index writes. It puts
// the result cache in front of the query pipeline and keeps the cache
// consistent with the index.
package searcher

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/occupation"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/searcher/fallback"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/searcher/pipeline"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/metrics"
)

const invalidateTimeout = 5 * time.Second

// Dependencies wires a Service. Engine and Provider are required; a nil
// Cache disables result caching.
type Dependencies struct {
	Engine   *indexer.Engine
	Provider embedding.Provider
	Detector embedding.Detector
	Cache    cache.Cache
	Fallback *fallback.Controller
	Metrics  *metrics.Metrics
}

// Stats is a point-in-time view of the service.
type Stats struct {
	Index    indexer.Stats     `json:"index"`
	Cache    *cache.Stats      `json:"cache,omitempty"`
	Breakers map[string]string `json:"breakers"`
}

type Service struct {
	cfg      *config.Config
	engine   *indexer.Engine
	pipeline *pipeline.Orchestrator
	cache    cache.Cache
	group    singleflight.Group
	// generation moves before and after every index write. A result is
	// cached only if no write overlapped its computation or its Put.
	generation atomic.Uint64
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewService(cfg *config.Config, deps Dependencies) (*Service, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("searcher: engine is required")
	}
	if deps.Fallback == nil {
		deps.Fallback = fallback.New(cfg.Breaker, deps.Metrics)
	}
	orch, err := pipeline.New(cfg, pipeline.Dependencies{
		Provider: deps.Provider,
		Detector: deps.Detector,
		Dense:    deps.Engine.Vectors(),
		Sparse:   deps.Engine.Sparse(),
		Fallback: deps.Fallback,
		Metrics:  deps.Metrics,
	})
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:      cfg,
		engine:   deps.Engine,
		pipeline: orch,
		cache:    deps.Cache,
		metrics:  deps.Metrics,
		logger:   slog.Default().With("component", "searcher"),
	}
	deps.Engine.BeforeChange(func(string) { s.generation.Add(1) })
	deps.Engine.OnChange(s.indexChanged)
	return s, nil
}

// Search answers req from the cache when possible and runs the pipeline
// otherwise. Only complete, non-degraded responses are cached, so while a
// breaker is open a cached answer wins over a degraded live one.
func (s *Service) Search(ctx context.Context, req pipeline.Request) (*pipeline.Response, error) {
	if s.cache == nil {
		return s.pipeline.Search(ctx, req)
	}
	start := time.Now()
	req, err := s.pipeline.Normalize(req)
	if err != nil {
		s.count("invalid")
		return nil, err
	}
	key := cache.Fingerprint(cache.Key{
		Text:          req.Text,
		Language:      req.Language,
		Limit:         req.Limit,
		Prefix:        req.Prefix,
		MinConfidence: req.MinConfidence,
	})
	if entry, ok := s.cache.Get(ctx, key); ok {
		resp := cachedResponse(entry, time.Since(start))
		if s.metrics != nil {
			s.metrics.CacheHitsTotal.Inc()
			s.metrics.QueryLatency.WithLabelValues("cache").Observe(resp.Took.Seconds())
		}
		s.count("cached")
		return resp, nil
	}
	if s.metrics != nil {
		s.metrics.CacheMissesTotal.Inc()
	}

	gen := s.generation.Load()
	v, err, shared := s.group.Do(key, func() (any, error) {
		resp, err := s.pipeline.Search(ctx, req)
		if err != nil {
			return nil, err
		}
		if !resp.Degraded {
			s.store(ctx, key, gen, resp)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	resp := v.(*pipeline.Response)
	if shared {
		out := *resp
		out.Results = slices.Clone(resp.Results)
		return &out, nil
	}
	return resp, nil
}

// store caches resp unless the index moved since gen was read. A write that
// lands between the check and the Put is caught by the second check; one
// that lands after it invalidates the cache itself.
func (s *Service) store(ctx context.Context, key string, gen uint64, resp *pipeline.Response) {
	if s.generation.Load() != gen {
		return
	}
	s.cache.Put(ctx, key, &cache.Entry{
		Language:      resp.Language,
		Items:         resp.Results,
		LowConfidence: resp.LowConfidence,
	}, s.cfg.Cache.TTL)
	if s.generation.Load() == gen {
		return
	}
	if err := s.cache.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Error("dropping stale cached result failed", "key", key, "error", err)
	}
}

// Similar returns up to limit codes nearest to code in language's space.
func (s *Service) Similar(ctx context.Context, code, language string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parsed, err := occupation.ParseCode(code)
	if err != nil {
		return nil, err
	}
	language, limit, err = s.options(language, limit)
	if err != nil {
		return nil, err
	}
	return s.engine.Vectors().Neighbors(string(parsed), language, limit)
}

// Suggest completes a partially typed phrase from indexed titles, keywords
// and synonyms.
func (s *Service) Suggest(ctx context.Context, prefix, language string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(prefix) == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, "suggestion prefix is empty")
	}
	language, limit, err := s.options(language, limit)
	if err != nil {
		return nil, err
	}
	return s.engine.Sparse().Suggest(prefix, language, limit), nil
}

// Index adds or replaces one occupation in every index layer.
func (s *Service) Index(ctx context.Context, doc indexer.Document) error {
	return s.engine.Index(ctx, doc)
}

// Remove deletes one occupation. Removing an unknown code succeeds.
func (s *Service) Remove(ctx context.Context, code string) error {
	return s.engine.Remove(ctx, code)
}

func (s *Service) Stats() Stats {
	st := Stats{
		Index:    s.engine.Stats(),
		Breakers: make(map[string]string),
	}
	for name, state := range s.pipeline.Fallback().States() {
		st.Breakers[name] = state.String()
	}
	if s.cache != nil {
		cs := s.cache.Stats()
		st.Cache = &cs
	}
	return st
}

// Fallback exposes the breakers, mainly for health reporting.
func (s *Service) Fallback() *fallback.Controller {
	return s.pipeline.Fallback()
}

func (s *Service) indexChanged(code string) {
	s.generation.Add(1)
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
	defer cancel()
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Error("result cache invalidation failed", "code", code, "error", err)
	}
}

// options validates a language and limit pair, applying defaults.
func (s *Service) options(language string, limit int) (string, int, error) {
	if language == "" {
		language = s.cfg.Index.DefaultLanguage
	}
	if !s.cfg.Index.SupportsLanguage(language) {
		return "", 0, fmt.Errorf("%w: %w", apperrors.ErrInvalidInput,
			apperrors.Newf(apperrors.ErrInvalidLanguage, "language %q is not supported", language))
	}
	switch {
	case limit == 0:
		limit = s.cfg.Search.DefaultLimit
	case limit < 0 || limit > s.cfg.Search.MaxResults:
		return "", 0, apperrors.Newf(apperrors.ErrInvalidInput, "limit must be between 1 and %d, got %d", s.cfg.Search.MaxResults, limit)
	}
	return language, limit, nil
}

func (s *Service) count(outcome string) {
	if s.metrics != nil {
		s.metrics.QueriesTotal.WithLabelValues(outcome).Inc()
	}
}

func cachedResponse(e *cache.Entry, took time.Duration) *pipeline.Response {
	return &pipeline.Response{
		QueryID:       uuid.NewString(),
		Language:      e.Language,
		Results:       e.Items,
		Empty:         len(e.Items) == 0,
		LowConfidence: e.LowConfidence,
		Cached:        true,
		State:         pipeline.StateCompleted,
		Took:          took,
	}
}
