package search

import (
	"sort"
	"strings"
)

// candidate is an internal scored chunk, pre-citation.
type candidate struct {
	result Result
	docID  string
	start  int
	end    int
}

// dedupe collapses tight clusters so one document cannot crowd out diverse
// sources: chunks of the same document with overlapping or adjacent spans
// keep only their highest-scoring representative, as do chunks with
// identical normalized text regardless of document. Input must already be
// sorted by score descending; order is preserved.
func dedupe(cands []candidate) []candidate {
	kept := make([]candidate, 0, len(cands))
	seenText := make(map[string]bool, len(cands))

	for _, c := range cands {
		norm := normalizeText(c.result.Content)
		if norm != "" && seenText[norm] {
			continue
		}

		overlaps := false
		for _, k := range kept {
			if k.docID == c.docID && spansTouch(k.start, k.end, c.start, c.end) {
				overlaps = true
				break
			}
		}
		if overlaps {
			continue
		}

		seenText[norm] = true
		kept = append(kept, c)
	}
	return kept
}

// spansTouch reports whether two half-open rune spans overlap or are
// directly adjacent.
func spansTouch(aStart, aEnd, bStart, bEnd int) bool {
	return aStart <= bEnd && bStart <= aEnd
}

// normalizeText collapses whitespace and case so formatting differences do
// not defeat duplicate detection.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// sortCandidates orders by score descending, ties broken by shorter source
// path, then by lower start offset. Deterministic for identical inputs.
func sortCandidates(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.result.FinalScore != b.result.FinalScore {
			return a.result.FinalScore > b.result.FinalScore
		}
		if len(a.result.Source) != len(b.result.Source) {
			return len(a.result.Source) < len(b.result.Source)
		}
		if a.result.Source != b.result.Source {
			return a.result.Source < b.result.Source
		}
		return a.start < b.start
	})
}
