package sparse

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/occupation"
	apperrors "github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/errors"
)

func seedMatcher(t *testing.T) *Matcher {
	t.Helper()
	m := NewMatcher(0.95)
	docs := []Document{
		{
			Code:     "75320001",
			Title:    "Sewing Machine Operator",
			Keywords: []string{"sewing machine operator", "garment stitching"},
			Synonyms: map[string][]string{
				"en": {"tailoring machinist"},
				"hi": {"सिलाई मशीन ऑपरेटर"},
			},
		},
		{
			Code:     "75310100",
			Title:    "Tailor",
			Keywords: []string{"tailor", "dress maker"},
			Synonyms: map[string][]string{"hi": {"दर्जी"}},
		},
		{
			Code:     "81530200",
			Title:    "Industrial Sewing Machine Setter",
			Keywords: []string{"machine setter"},
		},
	}
	for _, d := range docs {
		require.NoError(t, m.Index(d))
	}
	return m
}

func TestQueryExactPhrase(t *testing.T) {
	m := seedMatcher(t)
	matches, err := m.Query("en", "Sewing Machine Operators", 5)
	require.NoError(t, err)
	require.NotEmpty(t, matches)

	top := matches[0]
	assert.Equal(t, "75320001", top.Code)
	assert.Equal(t, occupation.MatchExact, top.MatchType)
	assert.Equal(t, ExactScore, top.Score)
	assert.Equal(t, []string{"sewing", "machine", "operator"}, top.Highlights)

	for _, other := range matches[1:] {
		assert.Less(t, other.Score, ExactScore)
		assert.NotEqual(t, occupation.MatchExact, other.MatchType)
	}
}

func TestQuerySynonymMatch(t *testing.T) {
	m := seedMatcher(t)
	matches, err := m.Query("hi", "दर्जी", 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "75310100", matches[0].Code)
	assert.Equal(t, occupation.MatchExact, matches[0].MatchType)

	matches, err = m.Query("en", "machinist for tailoring shirts", 5)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "75320001", matches[0].Code)
	assert.Equal(t, occupation.MatchSynonym, matches[0].MatchType)
	assert.Less(t, matches[0].Score, 0.95+1e-9)
}

func TestQueryPartialIsBelowExact(t *testing.T) {
	m := seedMatcher(t)
	matches, err := m.Query("en", "machine", 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, match := range matches {
		assert.Equal(t, occupation.MatchSemantic, match.MatchType)
		assert.Greater(t, match.Score, 0.0)
		assert.Less(t, match.Score, ExactScore)
	}
}

func TestQueryTieBreaksOnTitleLengthThenCode(t *testing.T) {
	m := NewMatcher(0.95)
	require.NoError(t, m.Index(Document{Code: "20000002", Title: "Welder Apprentice", Keywords: []string{"welder"}}))
	require.NoError(t, m.Index(Document{Code: "20000001", Title: "Welder Apprentice", Keywords: []string{"welder"}}))
	require.NoError(t, m.Index(Document{Code: "30000000", Title: "Welder", Keywords: []string{"welder"}}))

	matches, err := m.Query("en", "welder", 10)
	require.NoError(t, err)
	codes := make([]string, len(matches))
	for i, match := range matches {
		codes[i] = match.Code
	}
	assert.Equal(t, []string{"30000000", "20000001", "20000002"}, codes)
}

func TestQueryDeterministic(t *testing.T) {
	m := seedMatcher(t)
	first, err := m.Query("en", "sewing machine", 10)
	require.NoError(t, err)
	for range 20 {
		again, err := m.Query("en", "sewing machine", 10)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestQueryEmptyIndex(t *testing.T) {
	m := NewMatcher(0.95)
	_, err := m.Query("en", "anything", 5)
	require.ErrorIs(t, err, apperrors.ErrEmptyIndex)
}

func TestQueryNoTermsAndBadK(t *testing.T) {
	m := seedMatcher(t)
	matches, err := m.Query("en", "the of", 5)
	require.NoError(t, err)
	assert.Empty(t, matches)

	_, err = m.Query("en", "tailor", 0)
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestIndexReplacesAndRemoveDeletes(t *testing.T) {
	m := seedMatcher(t)
	require.NoError(t, m.Index(Document{Code: "75310100", Title: "Tailor", Keywords: []string{"alterations"}}))

	matches, err := m.Query("en", "dress maker", 5)
	require.NoError(t, err)
	for _, match := range matches {
		assert.NotEqual(t, "75310100", match.Code, "stale keyword must not match after replacement")
	}

	m.Remove("75320001")
	m.Remove("99999999")
	matches, err = m.Query("en", "sewing machine operator", 5)
	require.NoError(t, err)
	for _, match := range matches {
		assert.NotEqual(t, "75320001", match.Code)
	}
	assert.Equal(t, 2, m.DocCount())
}

func TestIndexRejectsMissingCode(t *testing.T) {
	m := NewMatcher(0.95)
	assert.ErrorIs(t, m.Index(Document{Title: "Orphan"}), apperrors.ErrInvalidInput)
}

func TestScoreMonotonicInOverlap(t *testing.T) {
	m := NewMatcher(0.95)
	require.NoError(t, m.Index(Document{Code: "10000000", Keywords: []string{"senior garment machine operator"}}))
	require.NoError(t, m.Index(Document{Code: "20000000", Keywords: []string{"bus driver"}}))

	var last float64
	for _, q := range []string{"garment", "garment machine", "garment machine operator"} {
		matches, err := m.Query("en", q, 1)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.GreaterOrEqual(t, matches[0].Score, last, q)
		last = matches[0].Score
	}
}

func TestSuggest(t *testing.T) {
	m := seedMatcher(t)
	assert.Equal(t, []string{"Sewing Machine Operator"}, m.Suggest("sew", "en", 5))
	assert.Equal(t, []string{"Tailor", "tailoring machinist"}, m.Suggest("TAIL", "en", 5))
	assert.Equal(t, []string{"सिलाई मशीन ऑपरेटर"}, m.Suggest("सिलाई", "hi", 5))
	assert.Empty(t, m.Suggest("सिलाई", "en", 5))
	assert.Empty(t, m.Suggest("", "en", 5))
}

func TestConcurrentIndexAndQuery(t *testing.T) {
	m := seedMatcher(t)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := range 50 {
				code := fmt.Sprintf("9%03d%04d", i, j)
				_ = m.Index(Document{Code: code, Title: "Packer", Keywords: []string{"packer"}})
			}
		}(i)
		go func() {
			defer wg.Done()
			for range 50 {
				_, err := m.Query("en", "sewing machine operator", 5)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3+8*50, m.DocCount())
}
