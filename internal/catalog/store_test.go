package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Init(context.Background()))
	return s
}

func strptr(v string) *string { return &v }

func TestInit_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init(context.Background()))
}

func TestBatchUpsert_ReturnsRowsInInputOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	records := []UpsertRecord{
		{DownloadURL: "https://a/1", GameName: "Zelda", Filename: "Zelda.nes"},
		{DownloadURL: "https://a/2", GameName: "Mario", Filename: "Mario.nes"},
		{DownloadURL: "https://a/3", GameName: "Metroid", Filename: "Metroid.nes"},
	}
	rows, err := s.BatchUpsert(ctx, records)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "Zelda", rows[0].GameName)
	assert.Equal(t, "Mario", rows[1].GameName)
	assert.Equal(t, "Metroid", rows[2].GameName)
	for _, r := range rows {
		assert.Nil(t, r.Description)
		assert.Positive(t, r.ID)
	}
}

func TestBatchUpsert_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	records := []UpsertRecord{
		{DownloadURL: "https://a/1", GameName: "Zelda", Filename: "Zelda.nes", Tags: []string{"USA"}},
		{DownloadURL: "https://a/2", GameName: "Mario", Filename: "Mario.nes"},
	}
	first, err := s.BatchUpsert(ctx, records)
	require.NoError(t, err)
	second, err := s.BatchUpsert(ctx, records)
	require.NoError(t, err)

	// Same ids on the second pass, same row count overall.
	require.Len(t, second, 2)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, first[1].ID, second[1].ID)

	n, err := s.CountGames(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestBatchUpsert_ConflictPreservesEnrichment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows, err := s.BatchUpsert(ctx, []UpsertRecord{
		{DownloadURL: "https://a/1", GameName: "Zelda", Filename: "Zelda (USA).nes", Region: "USA"},
	})
	require.NoError(t, err)
	id := rows[0].ID

	_, err = s.UpdateFields(ctx, id, EnrichmentFields{Description: strptr("lore")})
	require.NoError(t, err)

	// Re-crawl with a different region.
	rows, err = s.BatchUpsert(ctx, []UpsertRecord{
		{DownloadURL: "https://a/1", GameName: "Zelda", Filename: "Zelda (Europe).nes", Region: "Europe"},
	})
	require.NoError(t, err)
	assert.Equal(t, id, rows[0].ID)
	require.NotNil(t, rows[0].Description)
	assert.Equal(t, "lore", *rows[0].Description)

	games, err := s.GamesByIDs(ctx, []int64{id})
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, "Europe", games[0].Region)
	require.NotNil(t, games[0].Description)
	assert.Equal(t, "lore", *games[0].Description)
}

func TestUpdateFields_SetsAndReturnsRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows, err := s.BatchUpsert(ctx, []UpsertRecord{
		{DownloadURL: "https://a/1", GameName: "Zelda", Filename: "Zelda.nes"},
	})
	require.NoError(t, err)

	rating := 4.25
	g, err := s.UpdateFields(ctx, rows[0].ID, EnrichmentFields{
		Description: strptr("An adventure."),
		Rating:      &rating,
		ReleaseDate: strptr("1986-02-21"),
		Developer:   strptr("Nintendo"),
		Publisher:   strptr("Nintendo"),
		Genre:       strptr("Adventure"),
		Images:      []string{"https://img/cover.png"},
	})
	require.NoError(t, err)

	assert.Equal(t, "An adventure.", *g.Description)
	assert.Equal(t, 4.25, *g.Rating)
	assert.Equal(t, "1986-02-21", *g.ReleaseDate)
	assert.Equal(t, "Nintendo", *g.Developer)
	assert.Equal(t, "Nintendo", *g.Publisher)
	assert.Equal(t, "Adventure", *g.Genre)
	assert.Equal(t, []string{"https://img/cover.png"}, g.Images)
	assert.True(t, g.Enriched())
}

func TestUpdateFields_EmptyDescriptionSentinel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows, err := s.BatchUpsert(ctx, []UpsertRecord{
		{DownloadURL: "https://a/1", GameName: "Obscure", Filename: "Obscure.nes"},
	})
	require.NoError(t, err)

	g, err := s.UpdateFields(ctx, rows[0].ID, EnrichmentFields{Description: strptr("")})
	require.NoError(t, err)

	// Empty string is distinct from NULL: the provider was asked.
	require.NotNil(t, g.Description)
	assert.Equal(t, "", *g.Description)
	assert.True(t, g.Enriched())
}

func TestUpdateFields_MissingRow(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpdateFields(context.Background(), 12345, EnrichmentFields{Description: strptr("x")})
	assert.Error(t, err)
}

func TestDeleteByURLs_ReturnsDeletedIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows, err := s.BatchUpsert(ctx, []UpsertRecord{
		{DownloadURL: "https://a/U1", GameName: "One", Filename: "One.nes"},
		{DownloadURL: "https://a/U2", GameName: "Two", Filename: "Two.nes"},
	})
	require.NoError(t, err)

	deleted, err := s.DeleteByURLs(ctx, []string{"https://a/U2"})
	require.NoError(t, err)
	assert.Equal(t, []int64{rows[1].ID}, deleted)

	urls, err := s.AllURLs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a/U1"}, urls)
}

func TestDeleteAllGames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.BatchUpsert(ctx, []UpsertRecord{
		{DownloadURL: "https://a/1", GameName: "One", Filename: "One.nes"},
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteAllGames(ctx))
	n, err := s.CountGames(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAppendSearchLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.AppendSearchLog(ctx, "  Mario  ", 7)
	s.AppendSearchLog(ctx, "", 0) // ignored

	st, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.SearchLogs)
}

func TestGetStats_CountsEnriched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows, err := s.BatchUpsert(ctx, []UpsertRecord{
		{DownloadURL: "https://a/1", GameName: "One", Filename: "One.nes"},
		{DownloadURL: "https://a/2", GameName: "Two", Filename: "Two.nes"},
	})
	require.NoError(t, err)
	_, err = s.UpdateFields(ctx, rows[0].ID, EnrichmentFields{Description: strptr("")})
	require.NoError(t, err)

	st, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.Games)
	assert.EqualValues(t, 1, st.Enriched)
}

func TestGamesByIDs_RoundTripsTags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows, err := s.BatchUpsert(ctx, []UpsertRecord{
		{DownloadURL: "https://a/1", GameName: "Mega Man", Filename: "Mega Man (USA, Europe).zip",
			Platform: "NES", GroupName: "No-Intro", Region: "USA, Europe", Size: "128 KB",
			Tags: []string{"USA, Europe"}},
	})
	require.NoError(t, err)

	games, err := s.GamesByIDs(ctx, []int64{rows[0].ID})
	require.NoError(t, err)
	require.Len(t, games, 1)
	g := games[0]
	assert.Equal(t, "Mega Man", g.GameName)
	assert.Equal(t, "NES", g.Platform)
	assert.Equal(t, "No-Intro", g.GroupName)
	assert.Equal(t, "USA, Europe", g.Region)
	assert.Equal(t, "128 KB", g.Size)
	assert.Equal(t, []string{"USA, Europe"}, g.Tags)
	assert.False(t, g.CreatedAt.IsZero())
	assert.False(t, g.Enriched())
}
