// Package pipeline runs one search query through language resolution,
// embedding, concurrent dense and sparse retrieval and fusion. Failures of
// the dense path degrade the query to sparse-only; the query fails only when
// no retrieval path produced an answer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/indexer/sparse"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/indexer/vector"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/occupation"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/searcher/fallback"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/searcher/fusion"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/tracing"
)

const (
	PathEmbedder = "embedder"
	PathDense    = "dense"
	PathSparse   = "sparse"
)

// DenseIndex is the part of the vector index the pipeline reads.
type DenseIndex interface {
	Query(language string, vec []float32, k int) ([]vector.Hit, error)
}

// SparseIndex is the part of the sparse matcher the pipeline reads.
type SparseIndex interface {
	Query(language, text string, k int) ([]sparse.Match, error)
}

// Request is one search. Zero values select defaults: Limit 0 means the
// configured default and an empty Language asks the detector.
type Request struct {
	Text          string  `json:"text"`
	Language      string  `json:"language,omitempty"`
	Limit         int     `json:"limit,omitempty"`
	MinConfidence float64 `json:"min_confidence,omitempty"`
	Prefix        string  `json:"prefix,omitempty"`
}

// PathFailure records why a retrieval path contributed nothing.
type PathFailure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

// Response is the outcome of a query that did not fail. Empty, Degraded and
// LowConfidence are independent signals.
type Response struct {
	QueryID       string        `json:"query_id"`
	Language      string        `json:"language"`
	Results       []fusion.Item `json:"results"`
	Empty         bool          `json:"empty"`
	Degraded      bool          `json:"degraded"`
	LowConfidence bool          `json:"low_confidence"`
	Cached        bool          `json:"cached"`
	State         State         `json:"state"`
	Path          []State       `json:"path,omitempty"`
	Failures      []PathFailure `json:"failures,omitempty"`
	Took          time.Duration `json:"took"`
}

// Dependencies are the collaborators of an Orchestrator. Detector, Fallback
// and Metrics are optional.
type Dependencies struct {
	Provider embedding.Provider
	Detector embedding.Detector
	Dense    DenseIndex
	Sparse   SparseIndex
	Fallback *fallback.Controller
	Metrics  *metrics.Metrics
}

type Orchestrator struct {
	index    config.IndexConfig
	search   config.SearchConfig
	fusion   config.FusionConfig
	tracing  bool
	provider embedding.Provider
	detector embedding.Detector
	dense    DenseIndex
	sparse   SparseIndex
	breakers *fallback.Controller
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   *slog.Logger
}

func New(cfg *config.Config, deps Dependencies) (*Orchestrator, error) {
	if deps.Provider == nil || deps.Dense == nil || deps.Sparse == nil {
		return nil, errors.New("pipeline: provider, dense and sparse indexes are required")
	}
	if deps.Detector == nil {
		deps.Detector = embedding.NewScriptDetector(cfg.Index.Languages)
	}
	if deps.Fallback == nil {
		deps.Fallback = fallback.New(cfg.Breaker, deps.Metrics)
	}
	return &Orchestrator{
		index:    cfg.Index,
		search:   cfg.Search,
		fusion:   cfg.Fusion,
		tracing:  cfg.Tracing.Enabled,
		provider: deps.Provider,
		detector: deps.Detector,
		dense:    deps.Dense,
		sparse:   deps.Sparse,
		breakers: deps.Fallback,
		metrics:  deps.Metrics,
		now:      time.Now,
		logger:   slog.Default().With("component", "pipeline"),
	}, nil
}

// Fallback returns the breaker controller in use.
func (o *Orchestrator) Fallback() *fallback.Controller {
	return o.breakers
}

// Normalize validates req and fills in defaults. Search calls it; callers
// that key caches on a request call it first so that equivalent requests
// share a key.
func (o *Orchestrator) Normalize(req Request) (Request, error) {
	req.Text = strings.Join(strings.Fields(req.Text), " ")
	if req.Text == "" {
		return req, apperrors.New(apperrors.ErrInvalidInput, "query text is empty")
	}
	if n := o.search.MaxQueryLength; n > 0 && utf8.RuneCountInString(req.Text) > n {
		return req, apperrors.Newf(apperrors.ErrInvalidInput, "query longer than %d characters", n)
	}
	switch {
	case req.Limit == 0:
		req.Limit = o.search.DefaultLimit
	case req.Limit < 0 || req.Limit > o.search.MaxResults:
		return req, apperrors.Newf(apperrors.ErrInvalidInput, "limit must be between 1 and %d, got %d", o.search.MaxResults, req.Limit)
	}
	if req.MinConfidence < 0 || req.MinConfidence > 1 {
		return req, apperrors.Newf(apperrors.ErrInvalidInput, "min confidence must be between 0 and 1, got %v", req.MinConfidence)
	}
	if err := occupation.ValidatePrefix(req.Prefix); err != nil {
		return req, err
	}
	if req.Language != "" && !o.index.SupportsLanguage(req.Language) {
		return req, fmt.Errorf("%w: %w", apperrors.ErrInvalidInput,
			apperrors.Newf(apperrors.ErrInvalidLanguage, "language %q is not supported", req.Language))
	}
	return req, nil
}

// Search runs req to completion. The only errors are malformed input and
// ErrPipelineFailed.
func (o *Orchestrator) Search(ctx context.Context, req Request) (*Response, error) {
	start := o.now()
	req, err := o.Normalize(req)
	if err != nil {
		o.countQuery("invalid")
		return nil, err
	}

	qc := newQueryContext(uuid.NewString(), o.now)
	ctx = logger.WithQueryID(ctx, qc.ID)
	log := o.logger.With("query_id", qc.ID)
	if o.search.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.search.QueryTimeout)
		defer cancel()
	}
	if o.tracing {
		var root *tracing.Span
		ctx, root = tracing.StartSpan(ctx, "search", qc.ID)
		defer func() {
			root.SetAttr("state", string(qc.State()))
			root.End()
			root.Log(ctx, log)
		}()
	}

	o.resolveLanguage(ctx, qc, req)
	var failures []PathFailure
	fail := func(path string, err error) {
		reason := failureReason(err)
		failures = append(failures, PathFailure{Path: path, Reason: reason, Error: err.Error()})
		if o.metrics != nil {
			o.metrics.PathFailuresTotal.WithLabelValues(path, reason).Inc()
		}
		log.Warn("retrieval path lost", "path", path, "reason", reason, "error", err)
	}

	// The dense admission is taken before embedding so an open vector
	// index breaker also spares the embedding call.
	var vec []float32
	if err := o.breakers.AllowDense(); err != nil {
		fail(PathDense, err)
		if err := qc.Advance(StateDegraded, "vector index unavailable"); err != nil {
			return nil, err
		}
	} else if vec, err = o.embed(ctx, qc, req.Text); err != nil {
		o.breakers.ReleaseDense()
		fail(PathEmbedder, err)
		if err := qc.Advance(StateDegraded, "embedding unavailable"); err != nil {
			return nil, err
		}
	} else if err := qc.Advance(StateEmbedded, ""); err != nil {
		o.breakers.ReleaseDense()
		return nil, err
	}

	r := o.retrieve(ctx, qc.Language, req.Text, vec)
	denseOK := vec != nil && r.denseErr == nil
	sparseOK := r.sparseErr == nil
	if vec != nil && r.denseErr != nil {
		fail(PathDense, r.denseErr)
		if err := qc.Advance(StateDegraded, "vector index unavailable"); err != nil {
			return nil, err
		}
	}
	if r.sparseErr != nil {
		fail(PathSparse, r.sparseErr)
	}
	if !denseOK && !sparseOK {
		_ = qc.Advance(StateFailed, "no retrieval path answered")
		o.countQuery("failed")
		log.Error("query failed", "path", qc.Path())
		return nil, apperrors.Newf(apperrors.ErrPipelineFailed, "no retrieval path answered (%s)", summarize(failures))
	}
	if !sparseOK && !qc.Degraded() {
		if err := qc.Advance(StateDegraded, "sparse matcher unavailable"); err != nil {
			return nil, err
		}
	}
	if err := qc.Advance(StateRetrieved, ""); err != nil {
		return nil, err
	}

	opts := fusion.OptionsFromConfig(o.fusion)
	opts.DenseAvailable = denseOK
	if !sparseOK {
		opts.SparseWeight = 0
	}
	opts.Limit = req.Limit
	opts.MinConfidence = req.MinConfidence
	opts.Prefix = req.Prefix
	fuseStart := o.now()
	fused := fusion.Fuse(r.dense, r.lexical, opts)
	o.observeStage("fuse", fuseStart)
	if err := qc.Advance(StateFused, ""); err != nil {
		return nil, err
	}
	if err := qc.Advance(StateCompleted, ""); err != nil {
		return nil, err
	}

	resp := &Response{
		QueryID:       qc.ID,
		Language:      qc.Language,
		Results:       fused.Items,
		Empty:         len(fused.Items) == 0,
		Degraded:      qc.Degraded(),
		LowConfidence: fused.LowConfidence,
		State:         qc.State(),
		Path:          qc.Path(),
		Failures:      failures,
		Took:          o.now().Sub(start),
	}
	o.record(resp)
	log.Info("query completed",
		"language", resp.Language,
		"results", len(resp.Results),
		"degraded", resp.Degraded,
		"low_confidence", resp.LowConfidence,
		"took_ms", resp.Took.Milliseconds(),
	)
	return resp, nil
}

// resolveLanguage never fails: a detector error selects the default language.
func (o *Orchestrator) resolveLanguage(ctx context.Context, qc *QueryContext, req Request) {
	qc.Language = req.Language
	reason := "requested"
	if qc.Language == "" {
		lang, err := o.detector.Detect(req.Text)
		if err != nil || !o.index.SupportsLanguage(lang) {
			logger.FromContext(ctx).Debug("language detection fell back to default", "error", err, "detected", lang)
			lang, reason = o.index.DefaultLanguage, "default"
		} else {
			qc.Detected, reason = true, "detected"
		}
		qc.Language = lang
	}
	_ = qc.Advance(StateLanguageResolved, reason)
}

// embed returns nil and the reason when the dense path cannot run.
func (o *Orchestrator) embed(ctx context.Context, qc *QueryContext, text string) ([]float32, error) {
	if err := o.breakers.AllowEmbed(); err != nil {
		return nil, err
	}
	ctx, span := o.span(ctx, "embed")
	defer span.End()
	start := o.now()
	vec, err := resilience.Call(ctx, o.search.EmbedTimeout, "embed", func(ctx context.Context) ([]float32, error) {
		return o.provider.Embed(ctx, text, qc.Language)
	})
	o.observeStage("embed", start)
	o.breakers.RecordEmbed(err)
	if err != nil {
		span.SetAttr("error", err.Error())
		return nil, classifyProviderError(err)
	}
	return vec, nil
}

type retrieval struct {
	dense     []vector.Hit
	lexical   []sparse.Match
	denseErr  error
	sparseErr error
}

// retrieve queries both paths concurrently and waits for both to settle.
// Each call is abandoned once its own deadline or the query's passes. A
// non-nil vec means the dense path was already admitted by the breaker.
func (o *Orchestrator) retrieve(ctx context.Context, language, text string, vec []float32) retrieval {
	var r retrieval
	k := max(o.search.CandidatePool, o.search.MaxResults)
	g, gctx := errgroup.WithContext(ctx)
	if vec != nil {
		g.Go(func() error {
			ctx, span := o.span(gctx, "dense")
			defer span.End()
			start := o.now()
			hits, err := resilience.Call(ctx, o.search.RetrievalTimeout, "dense retrieval", func(context.Context) ([]vector.Hit, error) {
				return o.dense.Query(language, vec, k)
			})
			o.observeStage("dense", start)
			o.breakers.RecordDense(err)
			if errors.Is(err, apperrors.ErrEmptyIndex) {
				hits, err = nil, nil
			}
			span.SetAttr("hits", len(hits))
			r.dense, r.denseErr = hits, err
			return nil
		})
	}
	g.Go(func() error {
		ctx, span := o.span(gctx, "sparse")
		defer span.End()
		start := o.now()
		matches, err := resilience.Call(ctx, o.search.RetrievalTimeout, "sparse retrieval", func(context.Context) ([]sparse.Match, error) {
			return o.sparse.Query(language, text, k)
		})
		o.observeStage("sparse", start)
		if errors.Is(err, apperrors.ErrEmptyIndex) {
			matches, err = nil, nil
		}
		span.SetAttr("matches", len(matches))
		r.lexical, r.sparseErr = matches, err
		return nil
	})
	_ = g.Wait()
	return r
}

func (o *Orchestrator) span(ctx context.Context, name string) (context.Context, *tracing.Span) {
	if !o.tracing {
		return ctx, &tracing.Span{Attrs: map[string]any{}}
	}
	return tracing.StartChildSpan(ctx, name)
}

func (o *Orchestrator) observeStage(stage string, start time.Time) {
	if o.metrics != nil {
		o.metrics.StageLatency.WithLabelValues(stage).Observe(o.now().Sub(start).Seconds())
	}
}

func (o *Orchestrator) countQuery(outcome string) {
	if o.metrics != nil {
		o.metrics.QueriesTotal.WithLabelValues(outcome).Inc()
	}
}

func (o *Orchestrator) record(resp *Response) {
	outcome := "completed"
	switch {
	case resp.Degraded:
		outcome = "degraded"
	case resp.Empty:
		outcome = "empty"
	}
	o.countQuery(outcome)
	if o.metrics == nil {
		return
	}
	o.metrics.QueryLatency.WithLabelValues("live").Observe(resp.Took.Seconds())
	o.metrics.ResultsCount.Observe(float64(len(resp.Results)))
	if resp.LowConfidence {
		o.metrics.LowConfidenceTotal.Inc()
	}
}

// classifyProviderError maps a deadline onto ErrProviderTimeout and any
// other unclassified failure onto ErrProviderError.
func classifyProviderError(err error) error {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, apperrors.ErrProviderTimeout),
		errors.Is(err, apperrors.ErrProviderError),
		errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", apperrors.ErrProviderTimeout, err)
	default:
		return fmt.Errorf("%w: %w", apperrors.ErrProviderError, err)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "breaker_open"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, apperrors.ErrProviderTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

func summarize(failures []PathFailure) string {
	parts := make([]string, len(failures))
	for i, f := range failures {
		parts[i] = f.Path + ": " + f.Reason
	}
	return strings.Join(parts, ", ")
}
