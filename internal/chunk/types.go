package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Chunk size defaults (based on 2025 RAG research)
const (
	DefaultMaxChunkTokens = 512 // Optimal for 85-90% recall
	DefaultOverlapTokens  = 64  // ~12.5% overlap
	DefaultMinChunkTokens = 100 // Minimum viable chunk
	TokensPerChar         = 4   // Rough approximation: 4 chars = 1 token
)

// Chunk is a retrievable unit of document text. Offsets are rune offsets
// into the extracted text, so they remain stable across byte encodings.
type Chunk struct {
	ID          string // SHA256(doc_id:start_offset)[:16]
	DocID       string
	Path        string // Relative to the indexed folder root
	Content     string
	StartOffset int // Rune offset, inclusive
	EndOffset   int // Rune offset, exclusive
	Heading     string // Nearest markdown heading above the chunk, if any
	Page        int    // 1-indexed page for paginated formats, 0 otherwise
	Paragraph   int    // 1-indexed paragraph the chunk starts in
}

// PageMark records where a page's text begins, as a rune offset.
type PageMark struct {
	Page   int
	Offset int
}

// Input is the source text a chunker splits.
type Input struct {
	DocID string
	Path  string
	Text  string
	Pages []PageMark // Sorted by Offset; empty for unpaginated formats
}

// Options configures chunk sizing. Zero values take the package defaults.
type Options struct {
	MaxChunkTokens int
	OverlapTokens  int
	MinChunkTokens int
}

func (o Options) withDefaults() Options {
	if o.MaxChunkTokens == 0 {
		o.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if o.OverlapTokens == 0 {
		o.OverlapTokens = DefaultOverlapTokens
	}
	if o.MinChunkTokens == 0 {
		o.MinChunkTokens = DefaultMinChunkTokens
	}
	if o.OverlapTokens >= o.MaxChunkTokens {
		o.OverlapTokens = o.MaxChunkTokens / 8
	}
	return o
}

// ChunkID derives a deterministic chunk identifier from the document id and
// the chunk's start offset. Same text and config always yield the same ids,
// so a re-index of unchanged content is a no-op at the diffing stage.
func ChunkID(docID string, startOffset int) string {
	input := fmt.Sprintf("%s:%d", docID, startOffset)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}
