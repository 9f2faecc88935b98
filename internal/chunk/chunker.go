package chunk

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// headingPattern matches markdown headers: # Title, ## Title, etc.
var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// TextChunker splits extracted text on semantic boundaries, preferring
// paragraph breaks, then sentence breaks, and only falling back to
// fixed-width windows when a single sentence exceeds the chunk budget.
// Splitting is deterministic: the same text and options always produce
// the same boundaries and ids.
type TextChunker struct {
	opts Options
}

// NewTextChunker creates a chunker with the given options.
func NewTextChunker(opts Options) *TextChunker {
	return &TextChunker{opts: opts.withDefaults()}
}

// paragraph is a non-blank run of lines, as a rune span.
type paragraph struct {
	start   int
	end     int
	index   int    // 1-indexed position in the document
	heading string // Heading in effect at this paragraph
}

// Split chunks the input text. Empty or whitespace-only text yields zero
// chunks; text below the minimum chunk size yields exactly one.
func (c *TextChunker) Split(in *Input) []Chunk {
	runes := []rune(in.Text)
	paras := splitParagraphs(runes)
	if len(paras) == 0 {
		return nil
	}

	first, last := paras[0], paras[len(paras)-1]

	// Short documents become a single chunk regardless of structure.
	if spanTokens(last.end-first.start) < c.opts.MinChunkTokens {
		return c.emit(nil, in, runes, first.start, last.end, first)
	}

	var chunks []Chunk
	groupStart := -1
	var groupFirst paragraph

	flush := func(end int) {
		if groupStart >= 0 {
			chunks = c.emit(chunks, in, runes, groupStart, end, groupFirst)
			groupStart = -1
		}
	}

	var prevEnd int
	for _, p := range paras {
		pTokens := spanTokens(p.end - p.start)

		if pTokens > c.opts.MaxChunkTokens {
			// Oversized paragraph: close the running group, then split
			// this one down by sentences.
			flush(prevEnd)
			chunks = c.splitOversized(chunks, in, runes, p)
			prevEnd = p.end
			continue
		}

		if groupStart >= 0 && spanTokens(p.end-groupStart) > c.opts.MaxChunkTokens {
			flush(prevEnd)
		}
		if groupStart < 0 {
			groupStart = p.start
			groupFirst = p
		}
		prevEnd = p.end
	}
	flush(prevEnd)

	return chunks
}

// splitOversized breaks a paragraph that exceeds the chunk budget into
// sentence groups, windowing any sentence that is itself too large.
func (c *TextChunker) splitOversized(chunks []Chunk, in *Input, runes []rune, p paragraph) []Chunk {
	sents := splitSentences(runes, p.start, p.end)

	groupStart := -1
	var prevEnd int

	flush := func(end int) {
		if groupStart >= 0 {
			chunks = c.emit(chunks, in, runes, groupStart, end, p)
			groupStart = -1
		}
	}

	for _, s := range sents {
		if spanTokens(s.end-s.start) > c.opts.MaxChunkTokens {
			flush(prevEnd)
			chunks = c.window(chunks, in, runes, s.start, s.end, p)
			prevEnd = s.end
			continue
		}
		if groupStart >= 0 && spanTokens(s.end-groupStart) > c.opts.MaxChunkTokens {
			flush(prevEnd)
		}
		if groupStart < 0 {
			groupStart = s.start
		}
		prevEnd = s.end
	}
	flush(prevEnd)

	return chunks
}

// window slices [start, end) into fixed-width chunks. Adjacent windows
// share the configured overlap so no meaning is lost at a cut boundary.
func (c *TextChunker) window(chunks []Chunk, in *Input, runes []rune, start, end int, p paragraph) []Chunk {
	width := c.opts.MaxChunkTokens * TokensPerChar
	step := width - c.opts.OverlapTokens*TokensPerChar
	if step < 1 {
		step = 1
	}

	for st := start; st < end; st += step {
		en := st + width
		if en > end {
			en = end
		}
		chunks = c.emit(chunks, in, runes, st, en, p)
		if en == end {
			break
		}
	}
	return chunks
}

// emit trims a span and appends it as a chunk.
func (c *TextChunker) emit(chunks []Chunk, in *Input, runes []rune, start, end int, p paragraph) []Chunk {
	for start < end && unicode.IsSpace(runes[start]) {
		start++
	}
	for end > start && unicode.IsSpace(runes[end-1]) {
		end--
	}
	if start >= end {
		return chunks
	}

	return append(chunks, Chunk{
		ID:          ChunkID(in.DocID, start),
		DocID:       in.DocID,
		Path:        in.Path,
		Content:     string(runes[start:end]),
		StartOffset: start,
		EndOffset:   end,
		Heading:     p.heading,
		Page:        pageFor(in.Pages, start),
		Paragraph:   p.index,
	})
}

// splitParagraphs groups non-blank lines into paragraphs, tracking the
// markdown heading in effect at each one.
func splitParagraphs(runes []rune) []paragraph {
	var paras []paragraph
	var heading string

	lineStart := 0
	paraStart := -1
	var paraEnd int
	index := 0

	closePara := func() {
		if paraStart >= 0 {
			index++
			paras = append(paras, paragraph{
				start:   paraStart,
				end:     paraEnd,
				index:   index,
				heading: heading,
			})
			paraStart = -1
		}
	}

	for i := 0; i <= len(runes); i++ {
		if i < len(runes) && runes[i] != '\n' {
			continue
		}

		line := string(runes[lineStart:i])
		if strings.TrimSpace(line) == "" {
			closePara()
		} else {
			if m := headingPattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
				heading = strings.TrimSpace(m[2])
			}
			if paraStart < 0 {
				paraStart = lineStart
			}
			paraEnd = i
		}
		lineStart = i + 1
	}
	closePara()

	return paras
}

// span is a half-open rune range.
type span struct {
	start int
	end   int
}

// splitSentences splits [start, end) on terminal punctuation followed by
// whitespace, and on hard line breaks.
func splitSentences(runes []rune, start, end int) []span {
	var sents []span
	sentStart := start

	for i := start; i < end; i++ {
		r := runes[i]
		boundary := r == '\n' ||
			((r == '.' || r == '!' || r == '?') &&
				(i+1 >= end || unicode.IsSpace(runes[i+1])))
		if !boundary {
			continue
		}
		if i+1 > sentStart {
			sents = append(sents, span{start: sentStart, end: i + 1})
		}
		sentStart = i + 1
		for sentStart < end && unicode.IsSpace(runes[sentStart]) && runes[sentStart] != '\n' {
			sentStart++
		}
		i = sentStart - 1
	}
	if sentStart < end {
		sents = append(sents, span{start: sentStart, end: end})
	}

	return sents
}

// pageFor returns the 1-indexed page containing the given rune offset,
// or 0 when the document is unpaginated.
func pageFor(pages []PageMark, offset int) int {
	if len(pages) == 0 {
		return 0
	}
	i := sort.Search(len(pages), func(i int) bool {
		return pages[i].Offset > offset
	})
	if i == 0 {
		return pages[0].Page
	}
	return pages[i-1].Page
}

func spanTokens(n int) int {
	return n / TokensPerChar
}
