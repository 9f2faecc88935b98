package store

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLexicalIndex(t *testing.T) *BleveLexicalIndex {
	t.Helper()
	idx, err := NewBleveLexicalIndex("", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestBleveLexicalIndex_IndexAndSearch(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	err := idx.Index(ctx, []*ChunkRecord{
		{ID: "c1", Content: "The Pomodoro Technique uses a kitchen timer to break work into intervals."},
		{ID: "c2", Content: "Semantic search finds documents by meaning rather than exact keywords."},
		{ID: "c3", Content: "Grocery list: tomatoes, basil, and olive oil."},
	})
	require.NoError(t, err)

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	results, err := idx.Search(ctx, "pomodoro timer", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "c1", results[0].ID)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestBleveLexicalIndex_Stemming(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []*ChunkRecord{
		{ID: "c1", Content: "Work intervals are separated by short breaks."},
	}))

	// English analyzer stems, so the singular query matches the plural text.
	results, err := idx.Search(ctx, "interval break", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "c1", results[0].ID)
}

func TestBleveLexicalIndex_EmptyQuery(t *testing.T) {
	idx := newTestLexicalIndex(t)

	results, err := idx.Search(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBleveLexicalIndex_Delete(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []*ChunkRecord{
		{ID: "c1", Content: "alpha beta gamma"},
		{ID: "c2", Content: "alpha delta epsilon"},
	}))
	require.NoError(t, idx.Delete(ctx, []string{"c1"}))

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	results, err := idx.Search(ctx, "alpha", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c2", results[0].ID)
}

func TestBleveLexicalIndex_Reindex(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []*ChunkRecord{
		{ID: "c1", Content: "original text about cooking"},
	}))
	require.NoError(t, idx.Index(ctx, []*ChunkRecord{
		{ID: "c1", Content: "replacement text about sailing"},
	}))

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	results, err := idx.Search(ctx, "cooking", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = idx.Search(ctx, "sailing", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
}
