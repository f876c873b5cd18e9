// Package builder embeds catalog records and writes them into the index.
// Bulk builds run on a bounded worker pool; a record that cannot be embedded
// after its retries is reported and skipped, never fatal to the build.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/occupation"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/resilience"
)

// Failure names a record the build skipped.
type Failure struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Result summarises one build.
type Result struct {
	Indexed  int           `json:"indexed"`
	Failed   int           `json:"failed"`
	Failures []Failure     `json:"failures,omitempty"`
	Took     time.Duration `json:"took"`
}

// Indexer is the write side of the index the builder feeds.
type Indexer interface {
	Index(ctx context.Context, doc indexer.Document) error
}

type Builder struct {
	target   Indexer
	provider embedding.Provider
	index    config.IndexConfig
	retry    resilience.RetryConfig
	pool     *ants.Pool
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a builder with cfg.Builder.Workers workers. Call Close to
// release them.
func New(cfg *config.Config, target Indexer, provider embedding.Provider, m *metrics.Metrics) (*Builder, error) {
	workers := cfg.Builder.Workers
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}
	return &Builder{
		target:   target,
		provider: provider,
		index:    cfg.Index,
		retry: resilience.RetryConfig{
			MaxAttempts:  cfg.Builder.RetryAttempts,
			InitialDelay: cfg.Builder.RetryDelay,
			Retryable: func(err error) bool {
				return !errors.Is(err, apperrors.ErrInvalidInput) && !errors.Is(err, context.Canceled)
			},
		},
		pool:    pool,
		metrics: m,
		logger:  slog.Default().With("component", "builder"),
	}, nil
}

func (b *Builder) Close() {
	b.pool.Release()
}

// Languages returns the languages embedded per record: every configured
// language, or only the default one when all languages share a space.
func (b *Builder) Languages() []string {
	if b.index.CrossLingual {
		return []string{b.index.DefaultLanguage}
	}
	return slices.Clone(b.index.Languages)
}

// Document embeds rec for each language and returns it ready for indexing.
func (b *Builder) Document(ctx context.Context, rec occupation.Record) (indexer.Document, error) {
	if _, err := occupation.ParseCode(string(rec.Code)); err != nil {
		return indexer.Document{}, err
	}
	vectors := make(map[string][]float32, len(b.index.Languages))
	for _, lang := range b.Languages() {
		text := rec.EmbeddingText(lang)
		var vec []float32
		err := resilience.Retry(ctx, "embed "+string(rec.Code), b.retry, func() error {
			var err error
			vec, err = b.provider.Embed(ctx, text, lang)
			return err
		})
		if err != nil {
			return indexer.Document{}, fmt.Errorf("embedding %s (%s): %w", rec.Code, lang, err)
		}
		vectors[lang] = vec
	}
	return indexer.NewDocument(rec, vectors), nil
}

// IndexRecord embeds and indexes a single record.
func (b *Builder) IndexRecord(ctx context.Context, rec occupation.Record) error {
	doc, err := b.Document(ctx, rec)
	if err == nil {
		err = b.target.Index(ctx, doc)
	}
	b.count(err)
	return err
}

// Build indexes records concurrently. It returns early with ctx's error if
// ctx ends; the result then covers the records finished so far.
func (b *Builder) Build(ctx context.Context, records []occupation.Record) (Result, error) {
	start := time.Now()
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		res Result
	)
	record := func(code string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			res.Failed++
			res.Failures = append(res.Failures, Failure{Code: code, Error: err.Error()})
			return
		}
		res.Indexed++
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		err := b.pool.Submit(func() {
			defer wg.Done()
			err := b.IndexRecord(ctx, rec)
			if err != nil {
				b.logger.Warn("record skipped", "code", rec.Code, "error", err)
			}
			record(string(rec.Code), err)
		})
		if err != nil {
			wg.Done()
			b.count(err)
			record(string(rec.Code), fmt.Errorf("submitting to worker pool: %w", err))
		}
	}
	wg.Wait()

	slices.SortFunc(res.Failures, func(x, y Failure) int {
		return strings.Compare(x.Code, y.Code)
	})
	res.Took = time.Since(start)
	b.logger.Info("index build finished",
		"records", len(records),
		"indexed", res.Indexed,
		"failed", res.Failed,
		"took_ms", res.Took.Milliseconds(),
	)
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("index build interrupted: %w", err)
	}
	return res, nil
}

// BuildFromCatalog indexes every record the catalog lists.
func (b *Builder) BuildFromCatalog(ctx context.Context, cat catalog.Catalog) (Result, error) {
	records, err := cat.ListAll(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("listing catalog: %w", err)
	}
	return b.Build(ctx, records)
}

func (b *Builder) count(err error) {
	if b.metrics == nil {
		return
	}
	status := "indexed"
	if err != nil {
		status = "failed"
	}
	b.metrics.BuildRecordsTotal.WithLabelValues(status).Inc()
}
