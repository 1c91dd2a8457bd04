package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Myrient-Search/Myrient-Search/internal/async"
	"github.com/Myrient-Search/Myrient-Search/internal/catalog"
	"github.com/Myrient-Search/Myrient-Search/internal/crawler"
	"github.com/Myrient-Search/Myrient-Search/internal/igdb"
	"github.com/Myrient-Search/Myrient-Search/internal/pipeline"
	"github.com/Myrient-Search/Myrient-Search/internal/scheduler"
	"github.com/Myrient-Search/Myrient-Search/internal/searchindex"
)

const testAdminKey = "test-key"

type fixture struct {
	store *catalog.Store
	index *searchindex.Index
	pipe  *pipeline.Pipeline
	srv   *httptest.Server
}

func newFixture(t *testing.T, archiveURL string) *fixture {
	t.Helper()

	store, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Init(context.Background()))

	index, err := searchindex.New("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	if archiveURL == "" {
		archiveURL = "http://127.0.0.1:0/files/"
	}
	pipe := pipeline.New(pipeline.Config{
		Crawler:  crawler.Config{BaseURL: archiveURL, Concurrency: 2, BatchSize: 100},
		Enricher: pipeline.EnricherConfig{Workers: 1, LookupBatch: 10, WorkerDelay: 10 * time.Millisecond},
		DataDir:  t.TempDir(),
	}, store, index, igdb.New(igdb.Config{}))

	sched := scheduler.New(filepath.Join(t.TempDir(), "schedule.json"), pipe)
	t.Cleanup(sched.Stop)

	srv := httptest.NewServer(New(store, index, pipe, sched, testAdminKey).Handler())
	t.Cleanup(srv.Close)
	return &fixture{store: store, index: index, pipe: pipe, srv: srv}
}

func doReq(t *testing.T, method, url, key, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("X-Admin-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func TestAdmin_RequiresKey(t *testing.T) {
	f := newFixture(t, "")

	resp, _ := doReq(t, http.MethodGet, f.srv.URL+"/admin/pipeline", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doReq(t, http.MethodGet, f.srv.URL+"/admin/pipeline", "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doReq(t, http.MethodGet, f.srv.URL+"/admin/pipeline", testAdminKey, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdmin_DisabledWithoutConfiguredKey(t *testing.T) {
	f := newFixture(t, "")
	bare := httptest.NewServer(New(f.store, f.index, f.pipe, scheduler.New(filepath.Join(t.TempDir(), "s.json"), f.pipe), "").Handler())
	defer bare.Close()

	resp, _ := doReq(t, http.MethodGet, bare.URL+"/admin/pipeline", "anything", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSearch_ReturnsRankedGamesAndLogsQuery(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	rows, err := f.store.BatchUpsert(ctx, []catalog.UpsertRecord{
		{DownloadURL: "https://a/1", GameName: "Super Mario Bros.", Filename: "Super Mario Bros. (USA).nes", Platform: "NES"},
		{DownloadURL: "https://a/2", GameName: "Super Metroid", Filename: "Super Metroid (USA).sfc", Platform: "SNES"},
		{DownloadURL: "https://a/3", GameName: "Sonic", Filename: "Sonic (USA).md", Platform: "Genesis"},
	})
	require.NoError(t, err)
	games, err := f.store.GamesByIDs(ctx, []int64{rows[0].ID, rows[1].ID, rows[2].ID})
	require.NoError(t, err)
	require.NoError(t, f.index.Add(ctx, searchindex.FromGames(games)))

	resp, payload := doReq(t, http.MethodGet, f.srv.URL+"/api/search?q=super", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "super", payload["query"])
	assert.EqualValues(t, 2, payload["total"])
	results, ok := payload["results"].([]any)
	require.True(t, ok)
	assert.Len(t, results, 2)

	st, err := f.store.GetStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.SearchLogs)
}

func TestSearch_Validation(t *testing.T) {
	f := newFixture(t, "")

	resp, _ := doReq(t, http.MethodGet, f.srv.URL+"/api/search", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doReq(t, http.MethodGet, f.srv.URL+"/api/search?q=x&limit=9999", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPipeline_StartStopLifecycle(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(150 * time.Millisecond)
		fmt.Fprint(w, "<table></table>")
	}))
	defer slow.Close()
	f := newFixture(t, slow.URL+"/files/")

	resp, payload := doReq(t, http.MethodPost, f.srv.URL+"/admin/pipeline/start", testAdminKey, `{"mode":"incremental"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.NotEmpty(t, payload["run_id"])

	resp, _ = doReq(t, http.MethodPost, f.srv.URL+"/admin/pipeline/start", testAdminKey, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doReq(t, http.MethodGet, f.srv.URL+"/admin/pipeline", testAdminKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doReq(t, http.MethodPost, f.srv.URL+"/admin/pipeline/stop", testAdminKey, "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	f.pipe.Wait()

	resp, _ = doReq(t, http.MethodPost, f.srv.URL+"/admin/pipeline/stop", testAdminKey, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	snap := f.pipe.Snapshot()
	assert.Equal(t, async.StatusIdle, snap.Status)
}

func TestPipeline_StartRejectsUnknownMode(t *testing.T) {
	f := newFixture(t, "")
	resp, _ := doReq(t, http.MethodPost, f.srv.URL+"/admin/pipeline/start", testAdminKey, `{"mode":"turbo"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSchedule_RoundTripAndValidation(t *testing.T) {
	f := newFixture(t, "")

	resp, payload := doReq(t, http.MethodGet, f.srv.URL+"/admin/schedule", testAdminKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, payload["enabled"])

	resp, payload = doReq(t, http.MethodPost, f.srv.URL+"/admin/schedule", testAdminKey,
		`{"enabled":true,"mode":"clean","expression":"0 4 * * *"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, payload["enabled"])
	assert.Equal(t, "0 4 * * *", payload["expression"])

	resp, _ = doReq(t, http.MethodPost, f.srv.URL+"/admin/schedule", testAdminKey,
		`{"enabled":true,"mode":"clean","expression":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Rejected config does not replace the applied one.
	resp, payload = doReq(t, http.MethodGet, f.srv.URL+"/admin/schedule", testAdminKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0 4 * * *", payload["expression"])
}

func TestStatus_ReportsCounts(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	rows, err := f.store.BatchUpsert(ctx, []catalog.UpsertRecord{
		{DownloadURL: "https://a/1", GameName: "One", Filename: "One.nes"},
	})
	require.NoError(t, err)
	games, err := f.store.GamesByIDs(ctx, []int64{rows[0].ID})
	require.NoError(t, err)
	require.NoError(t, f.index.Add(ctx, searchindex.FromGames(games)))

	resp, payload := doReq(t, http.MethodGet, f.srv.URL+"/admin/status", testAdminKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", payload["store"])
	assert.EqualValues(t, 1, payload["games"])
	assert.EqualValues(t, 1, payload["index_docs"])
	assert.EqualValues(t, 0, payload["index_failures"])
	assert.Equal(t, "idle", payload["pipeline"])
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, "")
	resp, payload := doReq(t, http.MethodGet, f.srv.URL+"/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", payload["status"])
}
