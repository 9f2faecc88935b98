// Package server exposes the HTTP API consumed by front ends: search,
// folder inspection, stats, and a liveness probe.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quarrysearch/quarry/internal/config"
	qerrors "github.com/quarrysearch/quarry/internal/errors"
	"github.com/quarrysearch/quarry/internal/extract"
	"github.com/quarrysearch/quarry/internal/search"
	"github.com/quarrysearch/quarry/internal/store"
	"github.com/quarrysearch/quarry/internal/telemetry"
)

// Searcher is the query side of the engine, as the server needs it.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]*search.Result, error)
}

// Server is the HTTP API server.
type Server struct {
	engine   Searcher
	registry store.Registry
	metrics  *telemetry.QueryMetrics
	logger   *slog.Logger
	httpSrv  *http.Server
}

// New creates the API server listening on addr.
func New(addr string, engine Searcher, registry store.Registry, metrics *telemetry.QueryMetrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:   engine,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("POST /folders/scan", s.handleFoldersScan)
	mux.HandleFunc("GET /folders/list", s.handleFoldersList)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the underlying HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// ListenAndServe starts the server and blocks until the context is
// cancelled, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpSrv.Addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type searchRequest struct {
	Query               string   `json:"query"`
	Limit               int      `json:"limit"`
	SimilarityThreshold *float64 `json:"similarity_threshold"`
}

type searchResult struct {
	Content        string  `json:"content"`
	Source         string  `json:"source"`
	Citation       string  `json:"citation"`
	FinalScore     float64 `json:"final_score"`
	Similarity     float64 `json:"similarity"`
	DisplaySnippet string  `json:"display_snippet"`
}

type searchResponse struct {
	Results          []searchResult `json:"results"`
	TotalResults     int            `json:"total_results"`
	ProcessingTimeMs float64        `json:"processing_time_ms"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, qerrors.ConfigError("invalid JSON body", err))
		return
	}

	// Parameter validation happens synchronously, before any work starts.
	if strings.TrimSpace(req.Query) == "" {
		s.writeError(w, http.StatusBadRequest, qerrors.ConfigError("query must not be empty", nil))
		return
	}
	if req.Limit < 0 {
		s.writeError(w, http.StatusBadRequest, qerrors.ConfigError("limit must not be negative", nil))
		return
	}
	var threshold float64
	if req.SimilarityThreshold != nil {
		threshold = *req.SimilarityThreshold
		if err := config.ValidateThreshold(threshold); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	results, err := s.engine.Search(r.Context(), req.Query, search.Options{
		Limit:     req.Limit,
		Threshold: threshold,
	})
	if err != nil {
		s.writeSearchError(w, err)
		return
	}

	out := make([]searchResult, len(results))
	for i, res := range results {
		out[i] = searchResult{
			Content:        res.Content,
			Source:         res.Source,
			Citation:       res.Citation,
			FinalScore:     res.FinalScore,
			Similarity:     res.Similarity,
			DisplaySnippet: res.DisplaySnippet,
		}
	}

	s.writeJSON(w, http.StatusOK, searchResponse{
		Results:          out,
		TotalResults:     len(out),
		ProcessingTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
	})
}

type scanRequest struct {
	FolderPath string `json:"folder_path"`
}

type scanFile struct {
	Name      string `json:"name"`
	Extension string `json:"extension"`
	Size      int64  `json:"size"`
}

type scanResponse struct {
	FolderPath string     `json:"folder_path"`
	Files      []scanFile `json:"files"`
}

// handleFoldersScan is a pure read of filesystem state: it lists the
// supported documents under a folder without triggering indexing.
func (s *Server) handleFoldersScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, qerrors.ConfigError("invalid JSON body", err))
		return
	}
	if req.FolderPath == "" {
		s.writeError(w, http.StatusBadRequest, qerrors.ConfigError("folder_path is required", nil))
		return
	}

	info, err := os.Stat(req.FolderPath)
	if err != nil || !info.IsDir() {
		s.writeError(w, http.StatusNotFound,
			qerrors.New(qerrors.ErrCodeFileNotFound, fmt.Sprintf("not a readable folder: %s", req.FolderPath), err))
		return
	}

	files := []scanFile{}
	entries, err := os.ReadDir(req.FolderPath)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, qerrors.InternalError("read folder", err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if !extract.Supported(entry.Name()) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, scanFile{
			Name:      entry.Name(),
			Extension: strings.TrimPrefix(filepath.Ext(entry.Name()), "."),
			Size:      fi.Size(),
		})
	}

	s.writeJSON(w, http.StatusOK, scanResponse{FolderPath: req.FolderPath, Files: files})
}

type foldersResponse struct {
	ConnectedFolders []string `json:"connected_folders"`
}

func (s *Server) handleFoldersList(w http.ResponseWriter, r *http.Request) {
	folders, err := s.registry.ListFolders(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	paths := make([]string, len(folders))
	for i, f := range folders {
		paths[i] = f.Path
	}
	s.writeJSON(w, http.StatusOK, foldersResponse{ConnectedFolders: paths})
}

type statsResponse struct {
	TotalChunks   int                 `json:"total_chunks"`
	UniqueSources int                 `json:"unique_sources"`
	Queries       *telemetry.Snapshot `json:"queries,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	chunks, err := s.registry.CountChunks(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	sources, err := s.registry.CountDocuments(r.Context(), store.StatusIndexed)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := statsResponse{TotalChunks: chunks, UniqueSources: sources}
	if s.metrics != nil {
		snap := s.metrics.Stats()
		resp.Queries = &snap
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeSearchError maps engine errors to HTTP statuses: timeouts become
// 504, bad input 400, everything else 500.
func (s *Server) writeSearchError(w http.ResponseWriter, err error) {
	switch qerrors.GetCode(err) {
	case qerrors.ErrCodeQueryTimeout:
		s.writeError(w, http.StatusGatewayTimeout, err)
	case qerrors.ErrCodeConfigInvalid, qerrors.ErrCodeInvalidInput:
		s.writeError(w, http.StatusBadRequest, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	s.writeJSON(w, status, errorResponse{
		Error: err.Error(),
		Code:  qerrors.GetCode(err),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response failed", "error", err)
	}
}
