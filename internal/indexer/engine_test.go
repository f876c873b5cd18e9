package indexer

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/occupation"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/metrics"
)

func testIndexConfig() config.IndexConfig {
	return config.IndexConfig{
		Dimension:       3,
		Languages:       []string{"en", "hi"},
		DefaultLanguage: "en",
	}
}

func newTestEngine(t *testing.T, cfg config.IndexConfig) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open("", true)
	require.NoError(t, err)
	e, err := NewEngine(cfg, config.SparseConfig{PartialCeiling: 0.95}, st, metrics.New(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, st
}

func sewingDocument() Document {
	return Document{
		Code:     "75320001",
		Title:    "Sewing Machine Operator",
		Keywords: []string{"sewing machine operator"},
		Synonyms: map[string][]string{"hi": {"सिलाई मशीन ऑपरेटर"}},
		Vectors: map[string][]float32{
			"en": {1, 0, 0},
			"hi": {0, 1, 0},
		},
	}
}

func TestIndexUpdatesEveryLayer(t *testing.T) {
	e, st := newTestEngine(t, testIndexConfig())
	var changed []string
	e.OnChange(func(code string) { changed = append(changed, code) })

	require.NoError(t, e.Index(context.Background(), sewingDocument()))

	hits, err := e.Vectors().Query("en", []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "75320001", hits[0].Code)

	matches, err := e.Sparse().Query("en", "sewing machine operator", 1)
	require.NoError(t, err)
	assert.Equal(t, occupation.MatchExact, matches[0].MatchType)

	docs, vecs, err := st.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, docs)
	assert.Equal(t, 2, vecs)
	assert.Equal(t, []string{"75320001"}, changed)
	assert.Equal(t, Stats{Documents: 1, Terms: e.Sparse().TermCount(), Spaces: map[string]int{"en": 1, "hi": 1}}, e.Stats())
}

func TestIndexRejectsInvalidDocumentsWithoutSideEffects(t *testing.T) {
	e, st := newTestEngine(t, testIndexConfig())

	bad := sewingDocument()
	bad.Vectors["hi"] = []float32{1, 2}
	assert.ErrorIs(t, e.Index(context.Background(), bad), apperrors.ErrDimensionMismatch)

	bad = sewingDocument()
	bad.Vectors["fr"] = []float32{1, 0, 0}
	assert.ErrorIs(t, e.Index(context.Background(), bad), apperrors.ErrInvalidLanguage)

	bad = sewingDocument()
	bad.Code = "7532"
	assert.ErrorIs(t, e.Index(context.Background(), bad), apperrors.ErrInvalidInput)

	bad = sewingDocument()
	bad.Title = ""
	assert.ErrorIs(t, e.Index(context.Background(), bad), apperrors.ErrInvalidInput)

	assert.Equal(t, 0, e.Sparse().DocCount())
	docs, _, err := st.Counts()
	require.NoError(t, err)
	assert.Zero(t, docs)
}

func TestReindexDropsLanguagesNoLongerPresent(t *testing.T) {
	e, _ := newTestEngine(t, testIndexConfig())
	require.NoError(t, e.Index(context.Background(), sewingDocument()))

	doc := sewingDocument()
	delete(doc.Vectors, "hi")
	require.NoError(t, e.Index(context.Background(), doc))
	assert.False(t, e.Vectors().Contains("75320001", "hi"))
	assert.True(t, e.Vectors().Contains("75320001", "en"))
}

func TestRemove(t *testing.T) {
	e, st := newTestEngine(t, testIndexConfig())
	ctx := context.Background()
	require.NoError(t, e.Index(ctx, sewingDocument()))

	require.NoError(t, e.Remove(ctx, "75320001"))
	require.NoError(t, e.Remove(ctx, "75320001"))

	matches, err := e.Sparse().Query("en", "sewing machine operator", 5)
	assert.ErrorIs(t, err, apperrors.ErrEmptyIndex)
	assert.Empty(t, matches)
	assert.Equal(t, map[string]int{"en": 0, "hi": 0}, e.Vectors().Sizes())
	docs, vecs, err := st.Counts()
	require.NoError(t, err)
	assert.Zero(t, docs+vecs)
}

func TestLoadRestoresFromStore(t *testing.T) {
	cfg := testIndexConfig()
	st, err := store.Open("", true)
	require.NoError(t, err)
	defer st.Close()

	first, err := NewEngine(cfg, config.SparseConfig{PartialCeiling: 0.95}, st, nil)
	require.NoError(t, err)
	require.NoError(t, first.Index(context.Background(), sewingDocument()))

	cfg.Languages = []string{"en"}
	second, err := NewEngine(cfg, config.SparseConfig{PartialCeiling: 0.95}, st, nil)
	require.NoError(t, err)
	n, err := second.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, second.Sparse().DocCount())
	assert.Equal(t, map[string]int{"en": 1}, second.Vectors().Sizes(), "vectors of dropped languages are skipped")
}

func TestCrossLingualPrefersDefaultLanguage(t *testing.T) {
	cfg := testIndexConfig()
	cfg.CrossLingual = true
	e, _ := newTestEngine(t, cfg)
	require.NoError(t, e.Index(context.Background(), sewingDocument()))

	hits, err := e.Vectors().Query("hi", []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
}

func TestCrossLingualLoadKeepsDefaultLanguageVector(t *testing.T) {
	cfg := testIndexConfig()
	cfg.CrossLingual = true
	st, err := store.Open("", true)
	require.NoError(t, err)
	defer st.Close()

	first, err := NewEngine(cfg, config.SparseConfig{PartialCeiling: 0.95}, st, nil)
	require.NoError(t, err)
	require.NoError(t, first.Index(context.Background(), sewingDocument()))

	second, err := NewEngine(cfg, config.SparseConfig{PartialCeiling: 0.95}, st, nil)
	require.NoError(t, err)
	_, err = second.Load(context.Background())
	require.NoError(t, err)

	hits, err := second.Vectors().Query("hi", []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6, "the shared space holds the default-language vector after a restart")
}

func TestBeforeChangeRunsAheadOfTheWrite(t *testing.T) {
	e, _ := newTestEngine(t, testIndexConfig())
	type seen struct {
		code string
		docs int
	}
	var before []seen
	e.BeforeChange(func(code string) { before = append(before, seen{code, e.Stats().Documents}) })

	require.NoError(t, e.Index(context.Background(), sewingDocument()))
	require.NoError(t, e.Remove(context.Background(), "75320001"))
	require.NoError(t, e.Reset())
	assert.Equal(t, []seen{{"75320001", 0}, {"75320001", 1}, {"", 0}}, before)

	bad := sewingDocument()
	bad.Title = ""
	require.Error(t, e.Index(context.Background(), bad))
	assert.Len(t, before, 3, "rejected writes are not announced")
}

func TestResetNotifiesWithoutHoldingWriteLock(t *testing.T) {
	e, _ := newTestEngine(t, testIndexConfig())
	require.NoError(t, e.Index(context.Background(), sewingDocument()))
	var unlocked bool
	e.OnChange(func(string) {
		if unlocked = e.writeMu.TryLock(); unlocked {
			e.writeMu.Unlock()
		}
	})
	require.NoError(t, e.Reset())
	assert.True(t, unlocked)
}

func TestReset(t *testing.T) {
	e, st := newTestEngine(t, testIndexConfig())
	require.NoError(t, e.Index(context.Background(), sewingDocument()))
	var changed []string
	e.OnChange(func(code string) { changed = append(changed, code) })
	require.NoError(t, e.Reset())
	assert.Equal(t, []string{""}, changed)
	assert.Equal(t, 0, e.Stats().Documents)
	docs, _, err := st.Counts()
	require.NoError(t, err)
	assert.Zero(t, docs)
}

func TestCanceledContext(t *testing.T) {
	e, _ := newTestEngine(t, testIndexConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, e.Index(ctx, sewingDocument()), context.Canceled)
	assert.ErrorIs(t, e.Remove(ctx, "75320001"), context.Canceled)
}
