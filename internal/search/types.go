// Package search implements hybrid retrieval: approximate nearest-neighbor
// search over embeddings fused with BM25 keyword scores and a recency signal.
package search

import "time"

// Result is a single ranked search hit. Results are produced only by the
// fusion step; callers never assemble them ad hoc.
type Result struct {
	// ChunkID identifies the underlying chunk.
	ChunkID string

	// Content is the full chunk text.
	Content string

	// Source is the document path relative to its folder.
	Source string

	// Citation is the human-readable source locator.
	Citation string

	// FinalScore is the fused relevance score in [0,1].
	FinalScore float64

	// Similarity is the raw cosine similarity component in [0,1].
	Similarity float64

	// DisplaySnippet is a trimmed preview of the content.
	DisplaySnippet string

	// StartOffset is the chunk's starting rune offset, for tie-breaking.
	StartOffset int
}

// Options are per-query search parameters.
type Options struct {
	// Limit bounds the number of results (0 takes the configured default).
	Limit int

	// Threshold filters out results with FinalScore below it, inclusive:
	// a result at exactly the threshold survives. 0 admits everything.
	Threshold float64
}

// Weights are the fusion coefficients. They must sum to 1.0; config
// validation enforces this before a weights value reaches the engine.
type Weights struct {
	Similarity float64
	Lexical    float64
	Recency    float64
}

// DefaultWeights favors semantic similarity with a lexical boost and a
// mild recency preference.
func DefaultWeights() Weights {
	return Weights{Similarity: 0.70, Lexical: 0.20, Recency: 0.10}
}

// EngineConfig configures the search engine.
type EngineConfig struct {
	Weights      Weights
	DefaultLimit int
	MaxLimit     int
	QueryTimeout time.Duration
}

// DefaultEngineConfig returns the engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Weights:      DefaultWeights(),
		DefaultLimit: 10,
		MaxLimit:     100,
		QueryTimeout: 5 * time.Second,
	}
}
