package vector

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/errors"
)

func newTestIndex(t *testing.T, dim int) *Index {
	t.Helper()
	idx, err := New(dim, []string{"en", "hi"}, false)
	require.NoError(t, err)
	return idx
}

func randomVector(r *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(r.NormFloat64())
	}
	return v
}

func TestQueryReturnsSelfFirst(t *testing.T) {
	const dim = 32
	idx := newTestIndex(t, dim)
	r := rand.New(rand.NewPCG(1, 2))
	vectors := make(map[string][]float32)
	for i := range 200 {
		code := fmt.Sprintf("%08d", 10000000+i)
		vectors[code] = randomVector(r, dim)
		require.NoError(t, idx.InsertOrUpdate(code, "en", vectors[code]))
	}

	for code, v := range vectors {
		hits, err := idx.Query("en", v, 3)
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, code, hits[0].Code)
		assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
		assert.GreaterOrEqual(t, hits[0].Similarity, hits[1].Similarity)
		assert.GreaterOrEqual(t, hits[1].Similarity, hits[2].Similarity)
	}
}

func TestQueryIsScaleInvariant(t *testing.T) {
	idx := newTestIndex(t, 3)
	require.NoError(t, idx.InsertOrUpdate("11111111", "en", []float32{1, 0, 0}))
	require.NoError(t, idx.InsertOrUpdate("22222222", "en", []float32{0, 1, 0}))

	hits, err := idx.Query("en", []float32{40, 1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, "11111111", hits[0].Code)

	scaled, err := idx.Query("en", []float32{0.4, 0.01, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, hits, scaled)
}

func TestQueryTiesBreakOnCode(t *testing.T) {
	idx := newTestIndex(t, 2)
	for _, code := range []string{"30000000", "10000000", "20000000"} {
		require.NoError(t, idx.InsertOrUpdate(code, "en", []float32{1, 1}))
	}
	hits, err := idx.Query("en", []float32{1, 1}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "10000000", hits[0].Code)
	assert.Equal(t, "20000000", hits[1].Code)
}

func TestQueryDeterministic(t *testing.T) {
	idx := newTestIndex(t, 16)
	r := rand.New(rand.NewPCG(7, 7))
	for i := range 100 {
		require.NoError(t, idx.InsertOrUpdate(fmt.Sprintf("%08d", i), "en", randomVector(r, 16)))
	}
	q := randomVector(r, 16)
	first, err := idx.Query("en", q, 10)
	require.NoError(t, err)
	for range 10 {
		again, err := idx.Query("en", q, 10)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestQueryErrors(t *testing.T) {
	idx := newTestIndex(t, 3)

	_, err := idx.Query("en", []float32{1, 0, 0}, 5)
	assert.ErrorIs(t, err, apperrors.ErrEmptyIndex)

	require.NoError(t, idx.InsertOrUpdate("11111111", "en", []float32{1, 0, 0}))

	tests := []struct {
		name string
		lang string
		vec  []float32
		k    int
		want error
	}{
		{"wrong dimension", "en", []float32{1, 0}, 5, apperrors.ErrDimensionMismatch},
		{"unknown language", "fr", []float32{1, 0, 0}, 5, apperrors.ErrInvalidLanguage},
		{"zero vector", "en", []float32{0, 0, 0}, 5, apperrors.ErrInvalidVector},
		{"nan component", "en", []float32{float32(math.NaN()), 0, 0}, 5, apperrors.ErrInvalidVector},
		{"non-positive k", "en", []float32{1, 0, 0}, 0, apperrors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := idx.Query(tt.lang, tt.vec, tt.k)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err = idx.Query("hi", []float32{1, 0, 0}, 5)
	assert.ErrorIs(t, err, apperrors.ErrEmptyIndex, "languages keep separate spaces")
}

func TestInsertRejectsInvalidVectors(t *testing.T) {
	idx := newTestIndex(t, 3)
	assert.ErrorIs(t, idx.InsertOrUpdate("11111111", "en", []float32{1, 2}), apperrors.ErrDimensionMismatch)
	assert.ErrorIs(t, idx.InsertOrUpdate("11111111", "en", []float32{0, 0, 0}), apperrors.ErrInvalidVector)
	assert.ErrorIs(t, idx.InsertOrUpdate("11111111", "ta", []float32{1, 0, 0}), apperrors.ErrInvalidLanguage)
	assert.Equal(t, 0, idx.Len("en"))
}

func TestInsertReplacesExisting(t *testing.T) {
	idx := newTestIndex(t, 2)
	require.NoError(t, idx.InsertOrUpdate("11111111", "en", []float32{1, 0}))
	require.NoError(t, idx.InsertOrUpdate("22222222", "en", []float32{0, 1}))
	require.NoError(t, idx.InsertOrUpdate("11111111", "en", []float32{0, 1}))

	assert.Equal(t, 2, idx.Len("en"))
	hits, err := idx.Query("en", []float32{1, 0}, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, hits[0].Similarity, 1e-9)
}

func TestDelete(t *testing.T) {
	idx := newTestIndex(t, 2)
	require.NoError(t, idx.InsertOrUpdate("11111111", "en", []float32{1, 0}))
	require.NoError(t, idx.InsertOrUpdate("11111111", "hi", []float32{1, 0}))

	require.NoError(t, idx.Delete("11111111", "en"))
	require.NoError(t, idx.Delete("11111111", "en"), "deleting an absent entry is a no-op")
	assert.False(t, idx.Contains("11111111", "en"))
	assert.True(t, idx.Contains("11111111", "hi"))

	_, err := idx.Query("en", []float32{1, 0}, 1)
	assert.ErrorIs(t, err, apperrors.ErrEmptyIndex)
}

func TestNeighbors(t *testing.T) {
	idx := newTestIndex(t, 2)
	require.NoError(t, idx.InsertOrUpdate("11111111", "en", []float32{1, 0}))
	require.NoError(t, idx.InsertOrUpdate("22222222", "en", []float32{0.9, 0.1}))
	require.NoError(t, idx.InsertOrUpdate("33333333", "en", []float32{0, 1}))

	codes, err := idx.Neighbors("11111111", "en", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"22222222", "33333333"}, codes)

	_, err = idx.Neighbors("99999999", "en", 5)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestApplyIsAllOrNothing(t *testing.T) {
	idx := newTestIndex(t, 2)
	err := idx.Apply([]Op{
		{Code: "11111111", Language: "en", Vector: []float32{1, 0}},
		{Code: "22222222", Language: "en", Vector: []float32{1}},
	})
	require.ErrorIs(t, err, apperrors.ErrDimensionMismatch)
	assert.Equal(t, 0, idx.Len("en"))

	require.NoError(t, idx.Apply([]Op{
		{Code: "11111111", Language: "en", Vector: []float32{1, 0}},
		{Code: "11111111", Language: "hi", Vector: []float32{0, 1}},
		{Code: "22222222", Language: "en", Vector: []float32{0, 1}},
	}))
	assert.Equal(t, map[string]int{"en": 2, "hi": 1}, idx.Sizes())
}

func TestCrossLingualSharesOneSpace(t *testing.T) {
	idx, err := New(2, []string{"en", "hi", "ta"}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{SharedSpace}, idx.Spaces())

	require.NoError(t, idx.InsertOrUpdate("11111111", "en", []float32{1, 0}))
	hits, err := idx.Query("hi", []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "11111111", hits[0].Code)
}

func TestNewValidates(t *testing.T) {
	_, err := New(0, []string{"en"}, false)
	assert.Error(t, err)
	_, err = New(8, nil, false)
	assert.Error(t, err)
}

func TestConcurrentReadersSeeCompleteSnapshots(t *testing.T) {
	const dim = 8
	idx := newTestIndex(t, dim)
	r := rand.New(rand.NewPCG(3, 4))
	require.NoError(t, idx.InsertOrUpdate("00000000", "en", randomVector(r, dim)))

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			wr := rand.New(rand.NewPCG(uint64(w), 9))
			for i := range 100 {
				_ = idx.InsertOrUpdate(fmt.Sprintf("%d%07d", w+1, i), "en", randomVector(wr, dim))
			}
		}(w)
	}
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q := []float32{1, 1, 1, 1, 1, 1, 1, 1}
			for range 100 {
				hits, err := idx.Query("en", q, 5)
				if assert.NoError(t, err) {
					for i := 1; i < len(hits); i++ {
						assert.False(t, weaker(hits[i-1], hits[i]))
					}
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 401, idx.Len("en"))
}
