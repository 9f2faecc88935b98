// Package config loads and validates Quarry configuration.
//
// Configuration sources, lowest to highest priority:
//  1. Built-in defaults
//  2. quarry.yaml in the data directory (or an explicit path)
//  3. .env file in the working directory (via godotenv)
//  4. QUARRY_* environment variables
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	qerrors "github.com/quarrysearch/quarry/internal/errors"
)

// Duration wraps time.Duration so yaml files can use human-readable values
// like "5s" or "2m". Plain integers are read as nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var ns int64
	if err := node.Decode(&ns); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(ns)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the complete Quarry configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Paths      PathsConfig      `yaml:"paths"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Search     SearchConfig     `yaml:"search"`
	Indexing   IndexingConfig   `yaml:"indexing"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// PathsConfig configures on-disk locations and watched folders.
type PathsConfig struct {
	// DataDir is where the registry, vector index, and lexical index live.
	// Defaults to ~/.quarry.
	DataDir string `yaml:"data_dir"`

	// Folders are the watched folders to index.
	Folders []string `yaml:"folders"`
}

// ChunkingConfig configures the document chunker.
type ChunkingConfig struct {
	// MaxChunkTokens is the maximum tokens per chunk (default: 512).
	MaxChunkTokens int `yaml:"max_chunk_tokens"`

	// OverlapTokens is the overlap between adjacent chunks (default: 64).
	OverlapTokens int `yaml:"overlap_tokens"`

	// MinChunkTokens is the minimum viable chunk size (default: 100).
	MinChunkTokens int `yaml:"min_chunk_tokens"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "static" (offline, default) or "ollama".
	Provider string `yaml:"provider"`

	// Model is the model name for remote providers.
	Model string `yaml:"model"`

	// BatchSize is texts per embedding request (default: 32).
	BatchSize int `yaml:"batch_size"`

	// OllamaHost is the Ollama API endpoint (default: http://localhost:11434).
	OllamaHost string `yaml:"ollama_host"`

	// CacheSize is the LRU embedding cache capacity (default: 4096 entries).
	CacheSize int `yaml:"cache_size"`
}

// SearchConfig configures retrieval and score fusion.
//
// Fusion is a weighted sum: final = sim*SimilarityWeight + lex*LexicalWeight +
// rec*RecencyWeight, clamped to [0,1]. The weights must sum to 1.0. A missing
// auxiliary signal contributes 0; its weight is forfeited, not renormalized,
// which keeps the combination monotonic in each signal.
type SearchConfig struct {
	SimilarityWeight float64 `yaml:"similarity_weight"`
	LexicalWeight    float64 `yaml:"lexical_weight"`
	RecencyWeight    float64 `yaml:"recency_weight"`

	// DefaultLimit is the default number of results (default: 10).
	DefaultLimit int `yaml:"default_limit"`

	// MaxLimit is the maximum allowed results per query (default: 100).
	MaxLimit int `yaml:"max_limit"`

	// DefaultThreshold is the default similarity threshold (default: 0).
	DefaultThreshold float64 `yaml:"default_threshold"`

	// QueryTimeout is the maximum query duration (default: 5s).
	QueryTimeout Duration `yaml:"query_timeout"`
}

// IndexingConfig configures the indexing coordinator.
type IndexingConfig struct {
	// Workers is the number of documents indexed concurrently.
	// Defaults to min(NumCPU, 4).
	Workers int `yaml:"workers"`

	// MaxFileSize is the largest file to index in bytes (default: 100MB).
	MaxFileSize int64 `yaml:"max_file_size"`

	// MaxAttempts is how many times a failed document is retried before it is
	// surfaced and parked (default: 5).
	MaxAttempts int `yaml:"max_attempts"`

	// RescanInterval is the period of the timer-driven reconciliation pass
	// (default: 2m).
	RescanInterval Duration `yaml:"rescan_interval"`

	// WatchDebounce is the quiet period after filesystem events before an
	// early reconciliation is scheduled (default: 2s).
	WatchDebounce Duration `yaml:"watch_debounce"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	// Addr is the listen address (default: 127.0.0.1:8756).
	Addr string `yaml:"addr"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// CurrentVersion is the config schema version.
const CurrentVersion = 1

// Default returns the built-in default configuration.
func Default() *Config {
	workers := runtime.NumCPU()
	if workers > 4 {
		workers = 4
	}

	return &Config{
		Version: CurrentVersion,
		Paths: PathsConfig{
			DataDir: defaultDataDir(),
		},
		Chunking: ChunkingConfig{
			MaxChunkTokens: 512,
			OverlapTokens:  64,
			MinChunkTokens: 100,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "static",
			Model:      "embeddinggemma",
			BatchSize:  32,
			OllamaHost: "http://localhost:11434",
			CacheSize:  4096,
		},
		Search: SearchConfig{
			SimilarityWeight: 0.70,
			LexicalWeight:    0.20,
			RecencyWeight:    0.10,
			DefaultLimit:     10,
			MaxLimit:         100,
			DefaultThreshold: 0,
			QueryTimeout:     Duration(5 * time.Second),
		},
		Indexing: IndexingConfig{
			Workers:        workers,
			MaxFileSize:    100 * 1024 * 1024,
			MaxAttempts:    5,
			RescanInterval: Duration(2 * time.Minute),
			WatchDebounce:  Duration(2 * time.Second),
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8756",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".quarry")
	}
	return filepath.Join(home, ".quarry")
}

// Load reads configuration from the given path (empty means
// <data_dir>/quarry.yaml), then applies .env and environment overrides.
// A missing config file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	// .env is optional; ignore absence.
	_ = godotenv.Load()

	if path == "" {
		path = filepath.Join(cfg.Paths.DataDir, "quarry.yaml")
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults apply.
	case err != nil:
		return nil, qerrors.New(qerrors.ErrCodeConfigNotFound,
			fmt.Sprintf("cannot read config %s: %v", path, err), err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, qerrors.ConfigError(fmt.Sprintf("invalid YAML in %s", path), err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides applies QUARRY_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QUARRY_DATA_DIR"); v != "" {
		cfg.Paths.DataDir = v
	}
	if v := os.Getenv("QUARRY_EMBED_PROVIDER"); v != "" {
		cfg.Embeddings.Provider = v
	}
	if v := os.Getenv("QUARRY_OLLAMA_HOST"); v != "" {
		cfg.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("QUARRY_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("QUARRY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("QUARRY_SIMILARITY_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.SimilarityWeight = f
		}
	}
	if v := os.Getenv("QUARRY_LEXICAL_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.LexicalWeight = f
		}
	}
	if v := os.Getenv("QUARRY_RECENCY_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.RecencyWeight = f
		}
	}
}

// Validate checks configuration invariants. Violations are configuration
// errors, rejected before any work starts.
func (c *Config) Validate() error {
	sum := c.Search.SimilarityWeight + c.Search.LexicalWeight + c.Search.RecencyWeight
	if math.Abs(sum-1.0) > 0.001 {
		return qerrors.ConfigError(
			fmt.Sprintf("fusion weights must sum to 1.0, got %.3f", sum), nil)
	}
	for name, w := range map[string]float64{
		"similarity_weight": c.Search.SimilarityWeight,
		"lexical_weight":    c.Search.LexicalWeight,
		"recency_weight":    c.Search.RecencyWeight,
	} {
		if w < 0 || w > 1 || math.IsNaN(w) {
			return qerrors.ConfigError(fmt.Sprintf("%s must be in [0,1]", name), nil)
		}
	}

	if c.Search.DefaultLimit <= 0 {
		return qerrors.ConfigError("default_limit must be positive", nil)
	}
	if c.Search.MaxLimit < c.Search.DefaultLimit {
		return qerrors.ConfigError("max_limit must be >= default_limit", nil)
	}
	if err := ValidateThreshold(c.Search.DefaultThreshold); err != nil {
		return err
	}
	if c.Search.QueryTimeout <= 0 {
		return qerrors.ConfigError("query_timeout must be positive", nil)
	}

	if c.Chunking.MaxChunkTokens <= 0 {
		return qerrors.ConfigError("max_chunk_tokens must be positive", nil)
	}
	if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.MaxChunkTokens {
		return qerrors.ConfigError("overlap_tokens must be in [0, max_chunk_tokens)", nil)
	}

	if c.Indexing.Workers <= 0 {
		return qerrors.ConfigError("indexing workers must be positive", nil)
	}
	if c.Indexing.MaxAttempts <= 0 {
		return qerrors.ConfigError("max_attempts must be positive", nil)
	}

	return nil
}

// ValidateThreshold checks that a similarity threshold is a finite number in
// [0,1]. Shared by config validation and the search API.
func ValidateThreshold(t float64) error {
	if math.IsNaN(t) || math.IsInf(t, 0) || t < 0 || t > 1 {
		return qerrors.ConfigError(
			fmt.Sprintf("similarity_threshold must be in [0,1], got %v", t), nil)
	}
	return nil
}

// Save writes the configuration to the given path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
