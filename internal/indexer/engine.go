package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/indexer/sparse"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/indexer/vector"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/occupation"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/metrics"
)

// Document is everything the engine indexes for one occupation: the lexical
// fields and one embedding per language.
type Document struct {
	Code     string
	Title    string
	Keywords []string
	Synonyms map[string][]string
	Vectors  map[string][]float32
}

// NewDocument builds a Document from a catalog record and its embeddings.
func NewDocument(rec occupation.Record, vectors map[string][]float32) Document {
	return Document{
		Code:     string(rec.Code),
		Title:    rec.Title,
		Keywords: rec.Keywords,
		Synonyms: rec.Synonyms,
		Vectors:  vectors,
	}
}

func (d Document) sparse() sparse.Document {
	return sparse.Document{Code: d.Code, Title: d.Title, Keywords: d.Keywords, Synonyms: d.Synonyms}
}

// Stats summarises index contents.
type Stats struct {
	Documents int            `json:"documents"`
	Terms     int            `json:"terms"`
	Spaces    map[string]int `json:"spaces"`
}

// Engine keeps the vector index, the sparse matcher and the persistent store
// in step. Writes are validated in full, persisted, and only then applied to
// memory, so a rejected or failed write leaves every layer unchanged.
type Engine struct {
	vectors   *vector.Index
	sparse    *sparse.Matcher
	store     *store.Store
	cfg       config.IndexConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
	writeMu   sync.Mutex
	before    []func(code string)
	listeners []func(code string)
}

// NewEngine creates an engine over empty in-memory indexes. st may be nil,
// in which case nothing is persisted.
func NewEngine(cfg config.IndexConfig, sparseCfg config.SparseConfig, st *store.Store, m *metrics.Metrics) (*Engine, error) {
	vi, err := vector.New(cfg.Dimension, cfg.Languages, cfg.CrossLingual)
	if err != nil {
		return nil, fmt.Errorf("creating vector index: %w", err)
	}
	return &Engine{
		vectors: vi,
		sparse:  sparse.NewMatcher(sparseCfg.PartialCeiling),
		store:   st,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "indexer"),
	}, nil
}

// Vectors exposes the dense index for querying.
func (e *Engine) Vectors() *vector.Index {
	return e.vectors
}

// Sparse exposes the lexical matcher for querying.
func (e *Engine) Sparse() *sparse.Matcher {
	return e.sparse
}

// OnChange registers fn to run after every successful Index or Remove, and
// with an empty code after Reset. Listeners must be registered before the
// engine is shared.
func (e *Engine) OnChange(fn func(code string)) {
	e.listeners = append(e.listeners, fn)
}

// BeforeChange registers fn to run once a write has been validated and just
// before any layer is modified. It also runs for writes that then fail.
func (e *Engine) BeforeChange(fn func(code string)) {
	e.before = append(e.before, fn)
}

// Index adds or replaces doc in every layer.
func (e *Engine) Index(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := occupation.ParseCode(doc.Code); err != nil {
		e.recordOp("index", err)
		return err
	}
	if doc.Title == "" {
		err := apperrors.Newf(apperrors.ErrInvalidInput, "occupation %s has no title", doc.Code)
		e.recordOp("index", err)
		return err
	}
	ops, err := e.vectorOps(doc)
	if err == nil {
		err = e.vectors.Validate(ops)
	}
	if err != nil {
		e.recordOp("index", err)
		return fmt.Errorf("indexing %s: %w", doc.Code, err)
	}

	e.announce(doc.Code)
	e.writeMu.Lock()
	if e.store != nil {
		if err := e.store.Put(store.Entry{Doc: doc.sparse(), Vectors: doc.Vectors}); err != nil {
			e.writeMu.Unlock()
			e.recordOp("index", err)
			return fmt.Errorf("persisting %s: %w", doc.Code, err)
		}
	}
	if err := e.sparse.Index(doc.sparse()); err != nil {
		e.writeMu.Unlock()
		e.recordOp("index", err)
		return err
	}
	if err := e.vectors.Apply(ops); err != nil {
		e.writeMu.Unlock()
		e.recordOp("index", err)
		return err
	}
	e.writeMu.Unlock()

	e.recordOp("index", nil)
	e.logger.Debug("occupation indexed", "code", doc.Code, "languages", len(doc.Vectors))
	e.notify(doc.Code)
	return nil
}

// Remove deletes code from every layer. Removing an absent code succeeds.
func (e *Engine) Remove(ctx context.Context, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := occupation.ParseCode(code); err != nil {
		e.recordOp("remove", err)
		return err
	}
	ops := make([]vector.Op, 0, len(e.cfg.Languages))
	for _, lang := range e.cfg.Languages {
		ops = append(ops, vector.Op{Code: code, Language: lang, Delete: true})
	}

	e.announce(code)
	e.writeMu.Lock()
	if e.store != nil {
		if err := e.store.Delete(code); err != nil {
			e.writeMu.Unlock()
			e.recordOp("remove", err)
			return fmt.Errorf("deleting %s from store: %w", code, err)
		}
	}
	e.sparse.Remove(code)
	err := e.vectors.Apply(ops)
	e.writeMu.Unlock()
	if err != nil {
		e.recordOp("remove", err)
		return err
	}

	e.recordOp("remove", nil)
	e.logger.Debug("occupation removed", "code", code)
	e.notify(code)
	return nil
}

// Load rebuilds the in-memory indexes from the store. Vectors for languages
// that are no longer configured, or whose length no longer matches, are
// skipped with a warning.
func (e *Engine) Load(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	entries, err := e.store.Load()
	if err != nil {
		return 0, fmt.Errorf("loading stored index: %w", err)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	var ops []vector.Op
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := e.sparse.Index(entry.Doc); err != nil {
			e.logger.Warn("skipping stored document", "code", entry.Doc.Code, "error", err)
			continue
		}
		valid := make(map[string][]float32, len(entry.Vectors))
		for _, lang := range sortedKeys(entry.Vectors) {
			op := vector.Op{Code: entry.Doc.Code, Language: lang, Vector: entry.Vectors[lang]}
			if err := e.vectors.Validate([]vector.Op{op}); err != nil {
				e.logger.Warn("skipping stored vector", "code", entry.Doc.Code, "language", lang, "error", err)
				continue
			}
			valid[lang] = op.Vector
		}
		// Same space resolution as Index, so a shared space gets the same
		// vector it held before the restart.
		docOps, err := e.vectorOps(Document{Code: entry.Doc.Code, Vectors: valid})
		if err != nil {
			e.logger.Warn("skipping stored vectors", "code", entry.Doc.Code, "error", err)
			continue
		}
		for _, op := range docOps {
			if !op.Delete {
				ops = append(ops, op)
			}
		}
	}
	if err := e.vectors.Apply(ops); err != nil {
		return 0, err
	}
	e.updateGauges()
	e.logger.Info("index loaded from store",
		"documents", len(entries),
		"vectors", len(ops),
	)
	return len(entries), nil
}

// Reset empties the store and both in-memory indexes.
func (e *Engine) Reset() error {
	e.announce("")
	e.writeMu.Lock()
	if e.store != nil {
		if err := e.store.Reset(); err != nil {
			e.writeMu.Unlock()
			return fmt.Errorf("resetting store: %w", err)
		}
	}
	e.sparse.Reset()
	e.vectors.Reset()
	e.writeMu.Unlock()

	e.logger.Info("index reset")
	e.notify("")
	return nil
}

// Stats reports document, term and per-space vector counts.
func (e *Engine) Stats() Stats {
	return Stats{
		Documents: e.sparse.DocCount(),
		Terms:     e.sparse.TermCount(),
		Spaces:    e.vectors.Sizes(),
	}
}

// Close closes the store.
func (e *Engine) Close() error {
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}

// vectorOps turns doc.Vectors into one upsert or delete per space, so an
// update also clears spaces the new document no longer covers. In a shared
// space the default language wins, then the first language alphabetically.
func (e *Engine) vectorOps(doc Document) ([]vector.Op, error) {
	langs := sortedKeys(doc.Vectors)
	if i := slices.Index(langs, e.cfg.DefaultLanguage); i > 0 {
		langs = append([]string{langs[i]}, slices.Delete(langs, i, i+1)...)
	}

	bySpace := make(map[string]vector.Op)
	for _, lang := range langs {
		space, err := e.vectors.Space(lang)
		if err != nil {
			return nil, err
		}
		if _, taken := bySpace[space]; taken {
			continue
		}
		bySpace[space] = vector.Op{Code: doc.Code, Language: lang, Vector: doc.Vectors[lang]}
	}
	for _, lang := range e.cfg.Languages {
		space, err := e.vectors.Space(lang)
		if err != nil {
			return nil, err
		}
		if _, taken := bySpace[space]; !taken {
			bySpace[space] = vector.Op{Code: doc.Code, Language: lang, Delete: true}
		}
	}

	ops := make([]vector.Op, 0, len(bySpace))
	for _, space := range sortedKeys(bySpace) {
		ops = append(ops, bySpace[space])
	}
	return ops, nil
}

func (e *Engine) announce(code string) {
	for _, fn := range e.before {
		fn(code)
	}
}

func (e *Engine) notify(code string) {
	e.updateGauges()
	for _, fn := range e.listeners {
		fn(code)
	}
}

func (e *Engine) recordOp(op string, err error) {
	if e.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = string(apperrors.KindOf(err))
	}
	e.metrics.IndexOperationsTotal.WithLabelValues(op, status).Inc()
}

func (e *Engine) updateGauges() {
	if e.metrics == nil {
		return
	}
	for space, n := range e.vectors.Sizes() {
		e.metrics.IndexEntries.WithLabelValues(space).Set(float64(n))
	}
	e.metrics.IndexEntries.WithLabelValues("sparse").Set(float64(e.sparse.DocCount()))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
