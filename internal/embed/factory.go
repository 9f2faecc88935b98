package embed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	qerrors "github.com/quarrysearch/quarry/internal/errors"
)

// FactoryConfig selects and configures an embedding provider.
type FactoryConfig struct {
	Provider   string // "ollama" or "static"
	Model      string
	OllamaHost string
	BatchSize  int
	CacheSize  int
	Timeout    time.Duration
}

// New creates the configured embedder, wrapped in an LRU cache. When the
// ollama provider is unreachable the factory falls back to the static
// embedder so indexing still works offline, with reduced semantic quality.
func New(ctx context.Context, cfg FactoryConfig, logger *slog.Logger) (Embedder, error) {
	inner, err := newProvider(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("embedder ready",
		"provider", cfg.Provider,
		"model", inner.ModelName(),
		"dimensions", inner.Dimensions())

	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}

func newProvider(ctx context.Context, cfg FactoryConfig, logger *slog.Logger) (Embedder, error) {
	switch cfg.Provider {
	case "", "static":
		return NewStaticEmbedder(), nil

	case "ollama":
		embedder, err := NewOllamaEmbedder(ctx, OllamaConfig{
			Host:      cfg.OllamaHost,
			Model:     cfg.Model,
			BatchSize: cfg.BatchSize,
			Timeout:   cfg.Timeout,
		})
		if err != nil {
			logger.Warn("ollama unavailable, falling back to static embedder",
				"host", cfg.OllamaHost, "error", err)
			return NewStaticEmbedder(), nil
		}
		return embedder, nil

	default:
		return nil, qerrors.ConfigError(
			fmt.Sprintf("unknown embedding provider %q (want ollama or static)", cfg.Provider), nil)
	}
}
