package catalog

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/occupation"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/sqldb"
)

var (
	sewing = occupation.Record{
		Code:        "75320001",
		Title:       "Sewing Machine Operator",
		Description: "Operates industrial sewing machines",
		Keywords:    []string{"sewing machine operator", "stitching"},
		Synonyms:    map[string][]string{"hi": {"सिलाई मशीन ऑपरेटर"}},
	}
	tailor = occupation.Record{
		Code:     "75310100",
		Title:    "Tailor",
		Keywords: []string{"tailor"},
	}
	driver = occupation.Record{
		Code:  "83220100",
		Title: "Taxi Driver",
	}
)

func newSQLCatalog(t *testing.T) *SQL {
	t.Helper()
	client, err := sqldb.Open(context.Background(), config.DatabaseConfig{Driver: sqldb.DriverSQLite, Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	c := NewSQL(client)
	require.NoError(t, c.Migrate(context.Background()))
	require.NoError(t, c.Migrate(context.Background()), "migrate is idempotent")
	return c
}

func TestSQLUpsertAndLookup(t *testing.T) {
	c := newSQLCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.UpsertAll(ctx, []occupation.Record{sewing, tailor}))

	got, err := c.Lookup(ctx, "75320001")
	require.NoError(t, err)
	assert.Equal(t, sewing, got)

	got, err = c.Lookup(ctx, "75310100")
	require.NoError(t, err)
	assert.Empty(t, got.Synonyms)
	assert.Equal(t, []string{"tailor"}, got.Keywords)

	updated := tailor
	updated.Title = "Tailor, General"
	require.NoError(t, c.Upsert(ctx, updated))
	got, err = c.Lookup(ctx, "75310100")
	require.NoError(t, err)
	assert.Equal(t, "Tailor, General", got.Title)

	_, err = c.Lookup(ctx, "99999999")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSQLUpsertRejectsBadCodeAtomically(t *testing.T) {
	c := newSQLCatalog(t)
	ctx := context.Background()
	err := c.UpsertAll(ctx, []occupation.Record{sewing, {Code: "12", Title: "Bad"}})
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)

	all, err := c.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSQLListAllAndHierarchy(t *testing.T) {
	c := newSQLCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.UpsertAll(ctx, []occupation.Record{driver, sewing, tailor}))

	all, err := c.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, occupation.Code("75310100"), all[0].Code)

	group, err := c.ByHierarchy(ctx, occupation.LevelSubMajorGroup, "753")
	require.NoError(t, err)
	assert.Len(t, group, 2)

	division, err := c.ByHierarchy(ctx, occupation.LevelDivision, "8")
	require.NoError(t, err)
	require.Len(t, division, 1)
	assert.Equal(t, "Taxi Driver", division[0].Title)

	_, err = c.ByHierarchy(ctx, occupation.LevelDivision, "75")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = c.ByHierarchy(ctx, "sector", "7")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestSQLDelete(t *testing.T) {
	c := newSQLCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.Upsert(ctx, sewing))
	require.NoError(t, c.Delete(ctx, "75320001"))
	require.NoError(t, c.Delete(ctx, "75320001"))
	_, err := c.Lookup(ctx, "75320001")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestStatic(t *testing.T) {
	s := NewStatic(tailor, sewing)
	ctx := context.Background()

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, tailor.Code, all[0].Code)

	s.Delete(tailor.Code)
	_, err = s.Lookup(ctx, tailor.Code)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	s.Put(driver)
	got, err := s.Lookup(ctx, driver.Code)
	require.NoError(t, err)
	assert.Equal(t, driver, got)

	group, err := s.ByHierarchy(ctx, occupation.LevelSubMajorGroup, "753")
	require.NoError(t, err)
	require.Len(t, group, 1)
	assert.Equal(t, sewing.Code, group[0].Code)
	_, err = s.ByHierarchy(ctx, occupation.LevelMinorGroup, "75x2")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

var (
	_ Browser = (*SQL)(nil)
	_ Browser = (*Static)(nil)
)

func TestDecodeRecords(t *testing.T) {
	records, err := DecodeRecords(strings.NewReader(`[
		{"code": " 75320001 ", "title": "Sewing Machine Operator", "keywords": ["stitching"]},
		{"code": "75310100", "title": "Tailor", "synonyms": {"hi": ["दर्जी"]}}
	]`))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, occupation.Code("75320001"), records[0].Code)
	assert.Equal(t, []string{"दर्जी"}, records[1].Synonyms["hi"])

	_, err = DecodeRecords(strings.NewReader(`[{"code": "abc", "title": "x"}]`))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = DecodeRecords(strings.NewReader(`[{"code": "75320001"}]`))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = DecodeRecords(strings.NewReader(`{`))
	assert.Error(t, err)
}
