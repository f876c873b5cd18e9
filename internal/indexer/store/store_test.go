package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/indexer/sparse"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sewingEntry() Entry {
	return Entry{
		Doc: sparse.Document{
			Code:     "75320001",
			Title:    "Sewing Machine Operator",
			Keywords: []string{"sewing machine operator"},
			Synonyms: map[string][]string{"hi": {"सिलाई मशीन ऑपरेटर"}},
		},
		Vectors: map[string][]float32{
			"en": {0.25, -0.5, 1},
			"hi": {1, 0, 0},
		},
	}
}

func TestPutAndLoad(t *testing.T) {
	s := openMemory(t)
	require.NoError(t, s.Put(sewingEntry()))
	require.NoError(t, s.Put(Entry{
		Doc:     sparse.Document{Code: "75310100", Title: "Tailor"},
		Vectors: map[string][]float32{"en": {0, 1, 0}},
	}))

	entries, err := s.Load()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "75310100", entries[0].Doc.Code)
	assert.Equal(t, sewingEntry(), entries[1])

	docs, vecs, err := s.Counts()
	require.NoError(t, err)
	assert.Equal(t, 2, docs)
	assert.Equal(t, 3, vecs)
}

func TestPutReplacesVectors(t *testing.T) {
	s := openMemory(t)
	require.NoError(t, s.Put(sewingEntry()))

	updated := sewingEntry()
	delete(updated.Vectors, "hi")
	updated.Doc.Title = "Sewing Machinist"
	require.NoError(t, s.Put(updated))

	entries, err := s.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Sewing Machinist", entries[0].Doc.Title)
	assert.NotContains(t, entries[0].Vectors, "hi")
}

func TestDelete(t *testing.T) {
	s := openMemory(t)
	require.NoError(t, s.Put(sewingEntry()))
	require.NoError(t, s.Delete("75320001"))
	require.NoError(t, s.Delete("75320001"))

	entries, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCheckModel(t *testing.T) {
	s := openMemory(t)

	dropped, err := s.CheckModel("hash-v1", 3)
	require.NoError(t, err)
	assert.Zero(t, dropped)

	require.NoError(t, s.Put(sewingEntry()))

	dropped, err = s.CheckModel("hash-v1", 3)
	require.NoError(t, err)
	assert.Zero(t, dropped, "same model keeps vectors")

	dropped, err = s.CheckModel("text-embedding-3-small", 1536)
	require.NoError(t, err)
	assert.Equal(t, 2, dropped)

	entries, err := s.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1, "documents survive a model change")
	assert.Empty(t, entries[0].Vectors)
}

func TestReset(t *testing.T) {
	s := openMemory(t)
	require.NoError(t, s.Put(sewingEntry()))
	require.NoError(t, s.Reset())
	docs, vecs, err := s.Counts()
	require.NoError(t, err)
	assert.Zero(t, docs)
	assert.Zero(t, vecs)
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0, -1.5, 3.25, 1e-7}
	got, err := decodeVector(encodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestReopenFromDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, false)
	require.NoError(t, err)
	require.NoError(t, s.Put(sewingEntry()))
	require.NoError(t, s.Close())

	s, err = Open(dir, false)
	require.NoError(t, err)
	defer s.Close()
	entries, err := s.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, sewingEntry(), entries[0])
}
