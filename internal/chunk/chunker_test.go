package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextChunker_Split_Empty(t *testing.T) {
	chunker := NewTextChunker(Options{})

	assert.Empty(t, chunker.Split(&Input{DocID: "doc1", Text: ""}))
	assert.Empty(t, chunker.Split(&Input{DocID: "doc1", Text: "   \n\n \t \n"}))
}

func TestTextChunker_Split_ShortTextIsOneChunk(t *testing.T) {
	chunker := NewTextChunker(Options{})

	text := "A single short note.\n\nWith two paragraphs."
	chunks := chunker.Split(&Input{DocID: "doc1", Path: "note.txt", Text: text})

	require.Len(t, chunks, 1)
	assert.Equal(t, "A single short note.\n\nWith two paragraphs.", chunks[0].Content)
	assert.Equal(t, "doc1", chunks[0].DocID)
	assert.Equal(t, "note.txt", chunks[0].Path)
	assert.Equal(t, 1, chunks[0].Paragraph)
}

func TestTextChunker_Split_Deterministic(t *testing.T) {
	chunker := NewTextChunker(Options{MaxChunkTokens: 50, OverlapTokens: 8, MinChunkTokens: 10})

	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("The quick brown fox jumps over the lazy dog near the river. ")
		if i%5 == 4 {
			sb.WriteString("\n\n")
		}
	}
	in := &Input{DocID: "doc1", Path: "fox.txt", Text: sb.String()}

	first := chunker.Split(in)
	second := chunker.Split(in)

	require.NotEmpty(t, first)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].StartOffset, second[i].StartOffset)
		assert.Equal(t, first[i].EndOffset, second[i].EndOffset)
		assert.Equal(t, first[i].Content, second[i].Content)
	}
}

func TestTextChunker_Split_OffsetsMonotonic(t *testing.T) {
	chunker := NewTextChunker(Options{MaxChunkTokens: 40, OverlapTokens: 5, MinChunkTokens: 10})

	var sb strings.Builder
	for i := 0; i < 30; i++ {
		sb.WriteString("Sentence number with several plain words to fill the budget. ")
	}
	chunks := chunker.Split(&Input{DocID: "doc1", Path: "a.txt", Text: sb.String()})

	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		assert.Greater(t, chunks[i].StartOffset, chunks[i-1].StartOffset)
		assert.Greater(t, chunks[i].EndOffset, chunks[i-1].EndOffset)
	}
	for _, c := range chunks {
		runes := []rune(sb.String())
		assert.Equal(t, string(runes[c.StartOffset:c.EndOffset]), c.Content)
	}
}

func TestTextChunker_Split_ParagraphBoundariesPreferred(t *testing.T) {
	chunker := NewTextChunker(Options{MaxChunkTokens: 30, OverlapTokens: 4, MinChunkTokens: 5})

	para := strings.Repeat("Words fill the paragraph here. ", 3)
	text := strings.TrimSpace(strings.Repeat(para+"\n\n", 4))

	chunks := chunker.Split(&Input{DocID: "doc1", Path: "p.txt", Text: text})
	require.Greater(t, len(chunks), 1)

	// No chunk should start or end mid-word.
	for _, c := range chunks {
		assert.False(t, strings.HasPrefix(c.Content, " "))
		assert.False(t, strings.HasSuffix(c.Content, " "))
	}
}

func TestTextChunker_Split_OversizedSentenceWindowsOverlap(t *testing.T) {
	chunker := NewTextChunker(Options{MaxChunkTokens: 20, OverlapTokens: 5, MinChunkTokens: 5})

	// One giant "sentence" with no terminal punctuation or newlines.
	text := strings.Repeat("abcdefghi ", 60)
	chunks := chunker.Split(&Input{DocID: "doc1", Path: "big.txt", Text: text})

	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		// Each window starts before the previous one ends.
		assert.Less(t, chunks[i].StartOffset, chunks[i-1].EndOffset,
			"windows should share the overlap region")
	}
}

func TestTextChunker_Split_HeadingHints(t *testing.T) {
	chunker := NewTextChunker(Options{MinChunkTokens: 1, MaxChunkTokens: 16, OverlapTokens: 2})

	text := "# Getting Started\n\n" +
		strings.Repeat("Setup instructions go here with details. ", 4) +
		"\n\n## Configuration\n\n" +
		strings.Repeat("Every option is documented below at length. ", 4)

	chunks := chunker.Split(&Input{DocID: "doc1", Path: "guide.md", Text: text})
	require.NotEmpty(t, chunks)

	var sawStarted, sawConfig bool
	for _, c := range chunks {
		switch c.Heading {
		case "Getting Started":
			sawStarted = true
		case "Configuration":
			sawConfig = true
		}
	}
	assert.True(t, sawStarted)
	assert.True(t, sawConfig)
}

func TestTextChunker_Split_PageHints(t *testing.T) {
	chunker := NewTextChunker(Options{MinChunkTokens: 1, MaxChunkTokens: 10, OverlapTokens: 1})

	pageOne := strings.Repeat("First page prose sentence here. ", 3)
	pageTwo := strings.Repeat("Second page prose sentence here. ", 3)
	text := pageOne + "\n\n" + pageTwo

	in := &Input{
		DocID: "doc1",
		Path:  "doc.pdf",
		Text:  text,
		Pages: []PageMark{
			{Page: 1, Offset: 0},
			{Page: 2, Offset: len([]rune(pageOne)) + 2},
		},
	}

	chunks := chunker.Split(in)
	require.NotEmpty(t, chunks)

	var sawP1, sawP2 bool
	for _, c := range chunks {
		switch c.Page {
		case 1:
			sawP1 = true
		case 2:
			sawP2 = true
		}
	}
	assert.True(t, sawP1)
	assert.True(t, sawP2)
}

func TestChunkID_Stable(t *testing.T) {
	a := ChunkID("doc1", 128)
	b := ChunkID("doc1", 128)
	c := ChunkID("doc1", 129)
	d := ChunkID("doc2", 128)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Len(t, a, 16)
}

func TestPageFor(t *testing.T) {
	pages := []PageMark{{Page: 1, Offset: 0}, {Page: 2, Offset: 100}, {Page: 3, Offset: 250}}

	assert.Equal(t, 0, pageFor(nil, 50))
	assert.Equal(t, 1, pageFor(pages, 0))
	assert.Equal(t, 1, pageFor(pages, 99))
	assert.Equal(t, 2, pageFor(pages, 100))
	assert.Equal(t, 3, pageFor(pages, 9999))
}
