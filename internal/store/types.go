// Package store provides vector storage (HNSW), the lexical index (Bleve),
// and the source registry (SQLite). This is the persistence layer for all
// indexed data.
package store

import (
	"context"
	"fmt"
	"time"
)

// DocStatus is a document's position in the indexing lifecycle.
type DocStatus string

const (
	StatusPending  DocStatus = "pending"
	StatusIndexing DocStatus = "indexing"
	StatusIndexed  DocStatus = "indexed"
	StatusFailed   DocStatus = "failed"
	StatusDeleted  DocStatus = "deleted"
)

// State keys for the registry's key-value table. The dimension and model
// guard detects embedder changes that would corrupt the vector index.
const (
	StateKeyIndexDimension = "index_embedding_dimension"
	StateKeyIndexModel     = "index_embedding_model"
)

// DocumentRecord tracks one source file through the indexing lifecycle.
type DocumentRecord struct {
	ID          string // SHA256(path)[:16]
	Path        string // Absolute path
	Folder      string // Registered folder this document belongs to
	Fingerprint string // SHA256 of content
	Size        int64
	ModTime     time.Time
	Status      DocStatus
	ChunkCount  int
	Attempts    int       // Consecutive failed indexing attempts
	NextRetryAt time.Time // Zero unless Status is failed
	LastError   string
	IndexedAt   time.Time
	UpdatedAt   time.Time
}

// ChunkRecord is the persisted metadata for one chunk. Content lives here
// so search results never re-read source files.
type ChunkRecord struct {
	ID          string
	DocID       string
	Path        string
	Content     string
	StartOffset int
	EndOffset   int
	Heading     string
	Page        int
	Paragraph   int
	ModTime     time.Time // Parent document mtime, used for recency scoring
}

// Folder is a registered root directory for indexing.
type Folder struct {
	Path    string
	AddedAt time.Time
}

// Registry persists documents, chunks, and folders in SQLite.
type Registry interface {
	// Document operations
	SaveDocument(ctx context.Context, doc *DocumentRecord) error
	GetDocumentByPath(ctx context.Context, path string) (*DocumentRecord, error)
	ListDocuments(ctx context.Context) ([]*DocumentRecord, error)
	ListDocumentsByStatus(ctx context.Context, status DocStatus) ([]*DocumentRecord, error)
	DeleteDocument(ctx context.Context, id string) error
	CountDocuments(ctx context.Context, status DocStatus) (int, error)

	// Chunk operations
	SaveChunks(ctx context.Context, chunks []*ChunkRecord) error
	GetChunks(ctx context.Context, ids []string) ([]*ChunkRecord, error)
	GetChunkIDsByDoc(ctx context.Context, docID string) ([]string, error)
	DeleteChunksByDoc(ctx context.Context, docID string) error
	CountChunks(ctx context.Context) (int, error)

	// Folder operations
	AddFolder(ctx context.Context, path string) error
	ListFolders(ctx context.Context) ([]*Folder, error)
	RemoveFolder(ctx context.Context, path string) error

	// State operations (key-value store for runtime state)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Lifecycle
	Close() error
}

// VectorResult is a single nearest-neighbor hit.
type VectorResult struct {
	ID       string  // Chunk ID
	Distance float32 // Cosine distance, 0 (identical) to 2 (opposite)
	Score    float32 // Normalized similarity, 0-1
}

// VectorIndexConfig configures the vector index.
type VectorIndexConfig struct {
	// Dimensions is the embedding dimension (256 static, 768 ollama default)
	Dimensions int

	// M is HNSW max connections per layer
	M int

	// EfSearch is HNSW query-time search width
	EfSearch int
}

// DefaultVectorIndexConfig returns sensible defaults for the vector index.
func DefaultVectorIndexConfig(dimensions int) VectorIndexConfig {
	return VectorIndexConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   64,
	}
}

// VectorIndex provides approximate nearest-neighbor search over embeddings.
type VectorIndex interface {
	// Add inserts vectors with their IDs. If an ID exists, it is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds k nearest neighbors to the query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by ID.
	Delete(ctx context.Context, ids []string) error

	// Contains checks if an ID exists.
	Contains(id string) bool

	// Count returns the number of live vectors.
	Count() int

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// LexicalResult is a single keyword-search hit. Scores are raw BM25 and
// unbounded; callers normalize within a result set before fusing.
type LexicalResult struct {
	ID    string
	Score float64
}

// LexicalIndex provides keyword search over chunk content.
type LexicalIndex interface {
	// Index adds or replaces chunks in the index.
	Index(ctx context.Context, chunks []*ChunkRecord) error

	// Search returns chunks matching the query, scored by BM25.
	Search(ctx context.Context, query string, limit int) ([]*LexicalResult, error)

	// Delete removes chunks by ID.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of indexed chunks.
	Count() (uint64, error)

	Close() error
}

// ErrDimensionMismatch indicates a vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
