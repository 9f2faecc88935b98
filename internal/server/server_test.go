package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/quarrysearch/quarry/internal/errors"
	"github.com/quarrysearch/quarry/internal/search"
	"github.com/quarrysearch/quarry/internal/store"
	"github.com/quarrysearch/quarry/internal/telemetry"
)

// stubSearcher returns canned results, or an error if set.
type stubSearcher struct {
	results []*search.Result
	err     error
	gotOpts search.Options
}

func (s *stubSearcher) Search(ctx context.Context, query string, opts search.Options) ([]*search.Result, error) {
	s.gotOpts = opts
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

func newTestServer(t *testing.T, searcher Searcher) (*Server, store.Registry) {
	t.Helper()

	registry, err := store.NewSQLiteRegistry("")
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })

	srv := New("127.0.0.1:0", searcher, registry, telemetry.NewQueryMetrics(), slog.Default())
	return srv, registry
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t, &stubSearcher{})
	rec := doRequest(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Search(t *testing.T) {
	searcher := &stubSearcher{
		results: []*search.Result{
			{
				Content:        "The Pomodoro Technique is a productivity method.",
				Source:         "sample.txt",
				Citation:       "sample.txt",
				FinalScore:     0.87,
				Similarity:     0.91,
				DisplaySnippet: "The Pomodoro Technique is a productivity method.",
			},
		},
	}
	srv, _ := newTestServer(t, searcher)

	threshold := 0.2
	rec := doRequest(t, srv, http.MethodPost, "/search", map[string]any{
		"query":                "Pomodoro Technique",
		"limit":                5,
		"similarity_threshold": threshold,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []struct {
			Content    string  `json:"content"`
			Source     string  `json:"source"`
			FinalScore float64 `json:"final_score"`
			Similarity float64 `json:"similarity"`
		} `json:"results"`
		TotalResults     int     `json:"total_results"`
		ProcessingTimeMs float64 `json:"processing_time_ms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.TotalResults)
	assert.Equal(t, "sample.txt", resp.Results[0].Source)
	assert.Equal(t, 0.87, resp.Results[0].FinalScore)
	assert.GreaterOrEqual(t, resp.ProcessingTimeMs, 0.0)

	assert.Equal(t, 5, searcher.gotOpts.Limit)
	assert.Equal(t, threshold, searcher.gotOpts.Threshold)
}

func TestServer_SearchEmptyIndex(t *testing.T) {
	srv, _ := newTestServer(t, &stubSearcher{results: []*search.Result{}})

	rec := doRequest(t, srv, http.MethodPost, "/search", map[string]any{"query": "anything"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results      []any `json:"results"`
		TotalResults int   `json:"total_results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.TotalResults)
	assert.NotNil(t, resp.Results)
}

func TestServer_SearchRejectsInvalidThreshold(t *testing.T) {
	searcher := &stubSearcher{}
	srv, _ := newTestServer(t, searcher)

	for _, bad := range []float64{1.1, -0.5} {
		rec := doRequest(t, srv, http.MethodPost, "/search", map[string]any{
			"query":                "q",
			"similarity_threshold": bad,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "threshold %v", bad)
	}

	// Rejection is synchronous: the engine is never consulted.
	assert.Zero(t, searcher.gotOpts)
}

func TestServer_SearchRejectsEmptyQuery(t *testing.T) {
	srv, _ := newTestServer(t, &stubSearcher{})
	rec := doRequest(t, srv, http.MethodPost, "/search", map[string]any{"query": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SearchTimeoutIs504(t *testing.T) {
	srv, _ := newTestServer(t, &stubSearcher{
		err: qerrors.QueryTimeoutError("query exceeded 5s", context.DeadlineExceeded),
	})
	rec := doRequest(t, srv, http.MethodPost, "/search", map[string]any{"query": "slow"})
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestServer_FoldersScan(t *testing.T) {
	srv, _ := newTestServer(t, &stubSearcher{})

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("# hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.exe"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.txt"), []byte("x"), 0o644))

	rec := doRequest(t, srv, http.MethodPost, "/folders/scan", map[string]any{"folder_path": dir})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		FolderPath string `json:"folder_path"`
		Files      []struct {
			Name      string `json:"name"`
			Extension string `json:"extension"`
			Size      int64  `json:"size"`
		} `json:"files"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, dir, resp.FolderPath)
	require.Len(t, resp.Files, 2)

	names := []string{resp.Files[0].Name, resp.Files[1].Name}
	assert.Contains(t, names, "a.txt")
	assert.Contains(t, names, "b.md")
}

func TestServer_FoldersScanMissingFolder(t *testing.T) {
	srv, _ := newTestServer(t, &stubSearcher{})
	rec := doRequest(t, srv, http.MethodPost, "/folders/scan", map[string]any{
		"folder_path": "/no/such/folder",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_FoldersList(t *testing.T) {
	srv, registry := newTestServer(t, &stubSearcher{})

	dir := t.TempDir()
	require.NoError(t, registry.AddFolder(context.Background(), dir))

	rec := doRequest(t, srv, http.MethodGet, "/folders/list", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ConnectedFolders []string `json:"connected_folders"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.ConnectedFolders, dir)
}

func TestServer_Stats(t *testing.T) {
	srv, registry := newTestServer(t, &stubSearcher{})
	ctx := context.Background()

	doc := &store.DocumentRecord{
		ID:        "doc1",
		Path:      "/tmp/a.txt",
		Folder:    "/tmp",
		Status:    store.StatusIndexed,
		UpdatedAt: time.Now(),
	}
	require.NoError(t, registry.SaveDocument(ctx, doc))
	require.NoError(t, registry.SaveChunks(ctx, []*store.ChunkRecord{
		{ID: "c1", DocID: "doc1", Path: "a.txt", Content: "one"},
		{ID: "c2", DocID: "doc1", Path: "a.txt", Content: "two"},
	}))

	rec := doRequest(t, srv, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		TotalChunks   int `json:"total_chunks"`
		UniqueSources int `json:"unique_sources"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.TotalChunks)
	assert.Equal(t, 1, resp.UniqueSources)
}

func TestServer_ErrorBodyCarriesCode(t *testing.T) {
	srv, _ := newTestServer(t, &stubSearcher{
		err: fmt.Errorf("plain failure"),
	})
	rec := doRequest(t, srv, http.MethodPost, "/search", map[string]any{"query": "q"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "plain failure")
}
