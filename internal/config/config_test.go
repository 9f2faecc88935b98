package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrysearch/quarry/configs"
	qerrors "github.com/quarrysearch/quarry/internal/errors"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, CurrentVersion, cfg.Version)
	assert.Equal(t, 512, cfg.Chunking.MaxChunkTokens)
	assert.Equal(t, 64, cfg.Chunking.OverlapTokens)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, 5*time.Second, cfg.Search.QueryTimeout.Std())
	assert.InDelta(t, 1.0,
		cfg.Search.SimilarityWeight+cfg.Search.LexicalWeight+cfg.Search.RecencyWeight,
		0.001)
}

func TestValidate_WeightsMustSumToOne(t *testing.T) {
	cfg := Default()
	cfg.Search.SimilarityWeight = 0.5
	cfg.Search.LexicalWeight = 0.5
	cfg.Search.RecencyWeight = 0.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, qerrors.ErrCodeConfigInvalid, qerrors.GetCode(err))
	assert.Contains(t, err.Error(), "sum to 1.0")
}

func TestValidate_NegativeWeight(t *testing.T) {
	cfg := Default()
	cfg.Search.SimilarityWeight = 1.2
	cfg.Search.LexicalWeight = -0.2
	cfg.Search.RecencyWeight = 0

	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidate_Limits(t *testing.T) {
	cfg := Default()
	cfg.Search.DefaultLimit = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Search.MaxLimit = cfg.Search.DefaultLimit - 1
	assert.Error(t, cfg.Validate())
}

func TestValidate_ChunkingBounds(t *testing.T) {
	cfg := Default()
	cfg.Chunking.OverlapTokens = cfg.Chunking.MaxChunkTokens
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlap_tokens")

	cfg = Default()
	cfg.Chunking.MaxChunkTokens = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateThreshold(t *testing.T) {
	assert.NoError(t, ValidateThreshold(0))
	assert.NoError(t, ValidateThreshold(0.5))
	assert.NoError(t, ValidateThreshold(1))

	assert.Error(t, ValidateThreshold(-0.5))
	assert.Error(t, ValidateThreshold(1.1))
	assert.Error(t, ValidateThreshold(math.NaN()))
	assert.Error(t, ValidateThreshold(math.Inf(1)))
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Search.DefaultLimit, cfg.Search.DefaultLimit)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quarry.yaml")
	yaml := `
search:
  similarity_weight: 0.6
  lexical_weight: 0.3
  recency_weight: 0.1
  default_limit: 25
chunking:
  max_chunk_tokens: 256
  overlap_tokens: 32
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, cfg.Search.SimilarityWeight, 1e-9)
	assert.Equal(t, 25, cfg.Search.DefaultLimit)
	assert.Equal(t, 256, cfg.Chunking.MaxChunkTokens)
	// Untouched keys keep their defaults.
	assert.Equal(t, "static", cfg.Embeddings.Provider)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quarry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search: [not a map"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, qerrors.ErrCodeConfigInvalid, qerrors.GetCode(err))
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quarry.yaml")
	yaml := `
search:
  similarity_weight: 1.0
  lexical_weight: 1.0
  recency_weight: 1.0
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1.0")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("QUARRY_EMBED_PROVIDER", "ollama")
	t.Setenv("QUARRY_ADDR", "127.0.0.1:9999")
	t.Setenv("QUARRY_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvWeightOverrides(t *testing.T) {
	t.Setenv("QUARRY_SIMILARITY_WEIGHT", "0.8")
	t.Setenv("QUARRY_LEXICAL_WEIGHT", "0.1")
	t.Setenv("QUARRY_RECENCY_WEIGHT", "0.1")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.InDelta(t, 0.8, cfg.Search.SimilarityWeight, 1e-9)
}

func TestLoad_DurationStrings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quarry.yaml")
	yaml := `
search:
  query_timeout: 30s
indexing:
  rescan_interval: 10m
  watch_debounce: 250ms
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Search.QueryTimeout.Std())
	assert.Equal(t, 10*time.Minute, cfg.Indexing.RescanInterval.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.Indexing.WatchDebounce.Std())
}

func TestLoad_BadDurationRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quarry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search:\n  query_timeout: soon\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, qerrors.ErrCodeConfigInvalid, qerrors.GetCode(err))
}

func TestConfigTemplate_IsValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quarry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2*time.Minute, cfg.Indexing.RescanInterval.Std())
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "quarry.yaml")

	cfg := Default()
	cfg.Search.DefaultLimit = 42
	cfg.Paths.Folders = []string{"/tmp/docs"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.Search.DefaultLimit)
	assert.Equal(t, []string{"/tmp/docs"}, loaded.Paths.Folders)
}
