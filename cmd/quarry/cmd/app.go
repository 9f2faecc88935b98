package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/quarrysearch/quarry/internal/chunk"
	"github.com/quarrysearch/quarry/internal/config"
	"github.com/quarrysearch/quarry/internal/embed"
	"github.com/quarrysearch/quarry/internal/index"
	"github.com/quarrysearch/quarry/internal/scanner"
	"github.com/quarrysearch/quarry/internal/search"
	"github.com/quarrysearch/quarry/internal/store"
	"github.com/quarrysearch/quarry/internal/telemetry"
)

// app holds the wired application components. Writable apps hold the
// writer lock; read-only apps (search, stats) do not.
type app struct {
	cfg         *config.Config
	registry    store.Registry
	vectors     *store.HNSWIndex
	lexical     *store.BleveLexicalIndex
	embedder    embed.Embedder
	coordinator *index.Coordinator
	engine      *search.Engine
	metrics     *telemetry.QueryMetrics
	logger      *slog.Logger

	vectorPath string
	lock       *index.WriterLock
}

// registerConfiguredFolders registers the folders listed under
// paths.folders in the config file. Re-adding a registered folder is a
// no-op, so this runs on every writable open and the next sync picks
// the folders up.
func registerConfiguredFolders(ctx context.Context, registry store.Registry, folders []string) error {
	for _, f := range folders {
		abs, err := filepath.Abs(f)
		if err != nil {
			return fmt.Errorf("resolve configured folder %s: %w", f, err)
		}
		if err := registry.AddFolder(ctx, abs); err != nil {
			return err
		}
	}
	return nil
}

// openApp wires up the full stack. With writable set, it takes the
// single-writer lock and verifies embedder compatibility with the
// existing index.
func openApp(ctx context.Context, writable bool) (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDataDir != "" {
		cfg.Paths.DataDir = flagDataDir
	}
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	logger := slog.Default()
	a := &app{
		cfg:        cfg,
		logger:     logger,
		metrics:    telemetry.NewQueryMetrics(),
		vectorPath: filepath.Join(cfg.Paths.DataDir, "vectors.hnsw"),
	}

	if writable {
		a.lock = index.NewWriterLock(cfg.Paths.DataDir)
		ok, err := a.lock.TryLock()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("another quarry process holds the index lock (%s)", a.lock.Path())
		}
	}

	closeOnErr := func(err error) (*app, error) {
		a.Close()
		return nil, err
	}

	a.registry, err = store.NewSQLiteRegistry(filepath.Join(cfg.Paths.DataDir, "registry.db"))
	if err != nil {
		return closeOnErr(err)
	}

	if writable {
		if err := registerConfiguredFolders(ctx, a.registry, cfg.Paths.Folders); err != nil {
			return closeOnErr(err)
		}
	}

	a.embedder, err = embed.New(ctx, embed.FactoryConfig{
		Provider:   cfg.Embeddings.Provider,
		Model:      cfg.Embeddings.Model,
		OllamaHost: cfg.Embeddings.OllamaHost,
		BatchSize:  cfg.Embeddings.BatchSize,
		CacheSize:  cfg.Embeddings.CacheSize,
	}, logger)
	if err != nil {
		return closeOnErr(err)
	}

	a.vectors, err = store.NewHNSWIndex(store.DefaultVectorIndexConfig(a.embedder.Dimensions()))
	if err != nil {
		return closeOnErr(err)
	}
	if _, statErr := os.Stat(a.vectorPath); statErr == nil {
		if err := a.vectors.Load(a.vectorPath); err != nil {
			return closeOnErr(err)
		}
	}

	a.lexical, err = store.NewBleveLexicalIndex(filepath.Join(cfg.Paths.DataDir, "lexical.bleve"), logger)
	if err != nil {
		return closeOnErr(err)
	}

	a.coordinator = index.NewCoordinator(index.Config{
		Registry: a.registry,
		Vectors:  a.vectors,
		Lexical:  a.lexical,
		Embedder: a.embedder,
		Chunker: chunk.NewTextChunker(chunk.Options{
			MaxChunkTokens: cfg.Chunking.MaxChunkTokens,
			OverlapTokens:  cfg.Chunking.OverlapTokens,
			MinChunkTokens: cfg.Chunking.MinChunkTokens,
		}),
		Scanner:     scanner.New(cfg.Indexing.MaxFileSize),
		Logger:      logger,
		Workers:     cfg.Indexing.Workers,
		MaxAttempts: cfg.Indexing.MaxAttempts,
		MaxFileSize: cfg.Indexing.MaxFileSize,
		VectorPath:  a.vectorPath,
	})

	if writable {
		if err := a.coordinator.VerifyEmbedder(ctx); err != nil {
			return closeOnErr(err)
		}
	}

	a.engine, err = search.NewEngine(a.vectors, a.lexical, a.registry, a.embedder,
		search.EngineConfig{
			Weights: search.Weights{
				Similarity: cfg.Search.SimilarityWeight,
				Lexical:    cfg.Search.LexicalWeight,
				Recency:    cfg.Search.RecencyWeight,
			},
			DefaultLimit: cfg.Search.DefaultLimit,
			MaxLimit:     cfg.Search.MaxLimit,
			QueryTimeout: cfg.Search.QueryTimeout.Std(),
		},
		search.WithMetrics(a.metrics),
		search.WithLogger(logger),
	)
	if err != nil {
		return closeOnErr(err)
	}

	return a, nil
}

// Close releases everything in reverse wiring order.
func (a *app) Close() {
	if a.lexical != nil {
		_ = a.lexical.Close()
	}
	if a.vectors != nil {
		_ = a.vectors.Close()
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.registry != nil {
		_ = a.registry.Close()
	}
	if a.lock != nil {
		_ = a.lock.Unlock()
	}
}
