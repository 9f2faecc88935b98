package search

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrysearch/quarry/internal/chunk"
	"github.com/quarrysearch/quarry/internal/embed"
	"github.com/quarrysearch/quarry/internal/store"
	"github.com/quarrysearch/quarry/internal/telemetry"
)

type engineFixture struct {
	engine   *Engine
	registry store.Registry
	vectors  store.VectorIndex
	lexical  store.LexicalIndex
	embedder embed.Embedder
	metrics  *telemetry.QueryMetrics
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	registry, err := store.NewSQLiteRegistry("")
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })

	embedder := embed.NewStaticEmbedder()

	vectors, err := store.NewHNSWIndex(store.DefaultVectorIndexConfig(embedder.Dimensions()))
	require.NoError(t, err)
	t.Cleanup(func() { vectors.Close() })

	lexical, err := store.NewBleveLexicalIndex("", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { lexical.Close() })

	metrics := telemetry.NewQueryMetrics()
	engine, err := NewEngine(vectors, lexical, registry, embedder, DefaultEngineConfig(),
		WithMetrics(metrics))
	require.NoError(t, err)

	return &engineFixture{
		engine:   engine,
		registry: registry,
		vectors:  vectors,
		lexical:  lexical,
		embedder: embedder,
		metrics:  metrics,
	}
}

// indexChunk pushes one chunk through all three stores the way the
// coordinator does during indexing.
func (fx *engineFixture) indexChunk(t *testing.T, id, docID, path, content string, start, end int) {
	t.Helper()
	ctx := context.Background()

	rec := &store.ChunkRecord{
		ID:          id,
		DocID:       docID,
		Path:        path,
		Content:     content,
		StartOffset: start,
		EndOffset:   end,
	}
	require.NoError(t, fx.registry.SaveChunks(ctx, []*store.ChunkRecord{rec}))
	require.NoError(t, fx.lexical.Index(ctx, []*store.ChunkRecord{rec}))

	vec, err := fx.embedder.Embed(ctx, content)
	require.NoError(t, err)
	require.NoError(t, fx.vectors.Add(ctx, []string{id}, [][]float32{vec}))
}

func TestEngine_EmptyIndexReturnsEmpty(t *testing.T) {
	fx := newEngineFixture(t)

	results, err := fx.engine.Search(context.Background(), "anything at all", Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEngine_EmptyQueryReturnsNothing(t *testing.T) {
	fx := newEngineFixture(t)

	results, err := fx.engine.Search(context.Background(), "   ", Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEngine_RoutesQueriesToRelevantSources(t *testing.T) {
	fx := newEngineFixture(t)

	fx.indexChunk(t, "c1", "doc1", "sample.txt",
		"The Pomodoro Technique is a productivity method using twenty five minute focus intervals followed by short breaks.",
		0, 110)
	fx.indexChunk(t, "c2", "doc2", "example_document.md",
		"Semantic search uses embedding vectors to match documents by meaning rather than exact keywords.",
		0, 96)

	results, err := fx.engine.Search(context.Background(), "Pomodoro Technique", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "sample.txt", results[0].Source)
	assert.Greater(t, results[0].FinalScore, 0.0)

	results, err = fx.engine.Search(context.Background(), "semantic search", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "example_document.md", results[0].Source)
}

func TestEngine_ScoresStayInBounds(t *testing.T) {
	fx := newEngineFixture(t)

	for i := 0; i < 5; i++ {
		fx.indexChunk(t, fmt.Sprintf("c%d", i), fmt.Sprintf("doc%d", i),
			fmt.Sprintf("doc%d.txt", i),
			fmt.Sprintf("Document number %d discusses topic %d in detail.", i, i),
			0, 50)
	}

	results, err := fx.engine.Search(context.Background(), "document topic", Options{})
	require.NoError(t, err)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.FinalScore, 0.0)
		assert.LessOrEqual(t, r.FinalScore, 1.0)
		assert.GreaterOrEqual(t, r.Similarity, 0.0)
		assert.LessOrEqual(t, r.Similarity, 1.0)
	}
}

func TestEngine_ThresholdIsInclusive(t *testing.T) {
	fx := newEngineFixture(t)

	fx.indexChunk(t, "c1", "doc1", "a.txt", "Beekeeping requires patience and good equipment.", 0, 48)

	results, err := fx.engine.Search(context.Background(), "beekeeping equipment", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	top := results[0].FinalScore

	// A threshold exactly at the top score still admits it.
	results, err = fx.engine.Search(context.Background(), "beekeeping equipment", Options{Threshold: top})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, top, results[0].FinalScore)

	// A threshold above it filters everything.
	results, err = fx.engine.Search(context.Background(), "beekeeping equipment", Options{Threshold: 1.0})
	require.NoError(t, err)
	if top < 1.0 {
		assert.Empty(t, results)
	}
}

func TestEngine_LimitBoundsResults(t *testing.T) {
	fx := newEngineFixture(t)

	for i := 0; i < 10; i++ {
		fx.indexChunk(t, fmt.Sprintf("c%d", i), fmt.Sprintf("doc%d", i),
			fmt.Sprintf("doc%d.txt", i),
			fmt.Sprintf("Gardening note %d: water the tomato plants in row %d every morning.", i, i),
			0, 70)
	}

	results, err := fx.engine.Search(context.Background(), "tomato plants", Options{Limit: 3})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 3)
	assert.NotEmpty(t, results)
}

func TestEngine_RepeatQueryIsDeterministic(t *testing.T) {
	fx := newEngineFixture(t)

	for i := 0; i < 6; i++ {
		fx.indexChunk(t, fmt.Sprintf("c%d", i), fmt.Sprintf("doc%d", i),
			fmt.Sprintf("doc%d.txt", i),
			fmt.Sprintf("Climbing guide part %d covers rope handling and knots.", i),
			0, 60)
	}

	first, err := fx.engine.Search(context.Background(), "rope knots", Options{})
	require.NoError(t, err)
	second, err := fx.engine.Search(context.Background(), "rope knots", Options{})
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ChunkID, second[i].ChunkID)
		assert.Equal(t, first[i].FinalScore, second[i].FinalScore)
	}
}

func TestEngine_NearDuplicatesCollapse(t *testing.T) {
	fx := newEngineFixture(t)

	text := "Sourdough starter needs daily feeding with equal parts flour and water."
	fx.indexChunk(t, "c1", "doc1", "bread.txt", text, 0, 72)
	fx.indexChunk(t, "c2", "doc2", "copy.txt", text, 0, 72)

	results, err := fx.engine.Search(context.Background(), "sourdough starter feeding", Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestEngine_ResultsCarrySnippetAndCitation(t *testing.T) {
	fx := newEngineFixture(t)

	long := "A very long exposition on fermentation. "
	content := ""
	for i := 0; i < 20; i++ {
		content += long
	}
	fx.indexChunk(t, "c1", "doc1", "ferment.txt", content, 0, len([]rune(content)))

	results, err := fx.engine.Search(context.Background(), "fermentation exposition", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	r := results[0]
	assert.NotEmpty(t, r.Citation)
	assert.Contains(t, r.Citation, "ferment.txt")
	assert.LessOrEqual(t, len([]rune(r.DisplaySnippet)), snippetRunes+1)
}

func TestEngine_ParagraphCitationsMatchDocumentOrder(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	text := "Espresso extraction rewards patience and a burr grinder set to a consistent fine grind.\n\n" +
		"Steam wands do most of their milk texturing work in the first few seconds of contact."

	chunker := chunk.NewTextChunker(chunk.Options{
		MaxChunkTokens: 30,
		OverlapTokens:  2,
		MinChunkTokens: 4,
	})
	chunks := chunker.Split(&chunk.Input{DocID: "doc-essay", Path: "essay.txt", Text: text})
	require.Len(t, chunks, 2)
	require.Equal(t, 1, chunks[0].Paragraph)
	require.Equal(t, 2, chunks[1].Paragraph)

	ids := make([]string, len(chunks))
	vecs := make([][]float32, len(chunks))
	for i, ch := range chunks {
		rec := &store.ChunkRecord{
			ID:          ch.ID,
			DocID:       ch.DocID,
			Path:        ch.Path,
			Content:     ch.Content,
			StartOffset: ch.StartOffset,
			EndOffset:   ch.EndOffset,
			Heading:     ch.Heading,
			Page:        ch.Page,
			Paragraph:   ch.Paragraph,
		}
		require.NoError(t, fx.registry.SaveChunks(ctx, []*store.ChunkRecord{rec}))
		require.NoError(t, fx.lexical.Index(ctx, []*store.ChunkRecord{rec}))

		vec, err := fx.embedder.Embed(ctx, ch.Content)
		require.NoError(t, err)
		ids[i] = ch.ID
		vecs[i] = vec
	}
	require.NoError(t, fx.vectors.Add(ctx, ids, vecs))

	results, err := fx.engine.Search(ctx, "espresso extraction grind", Options{Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for _, r := range results {
		switch r.StartOffset {
		case chunks[0].StartOffset:
			assert.Equal(t, "essay.txt, para. 1", r.Citation)
		case chunks[1].StartOffset:
			assert.Equal(t, "essay.txt, para. 2", r.Citation)
		}
	}
}

func TestEngine_RecordsMetrics(t *testing.T) {
	fx := newEngineFixture(t)

	fx.indexChunk(t, "c1", "doc1", "a.txt", "Content about woodworking joints.", 0, 33)

	_, err := fx.engine.Search(context.Background(), "woodworking", Options{})
	require.NoError(t, err)
	_, err = fx.engine.Search(context.Background(), "zzqx nonexistent gibberish", Options{Threshold: 0.99})
	require.NoError(t, err)

	snap := fx.metrics.Stats()
	assert.Equal(t, uint64(2), snap.TotalQueries)
	assert.GreaterOrEqual(t, snap.ZeroResultQueries, uint64(1))
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short text", snippet("  short text  "))

	long := ""
	for i := 0; i < 60; i++ {
		long += "word "
	}
	s := snippet(long)
	assert.LessOrEqual(t, len([]rune(s)), snippetRunes+1)
	assert.NotContains(t, s, "  ")
}
