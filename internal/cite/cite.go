// Package cite formats human-readable source citations for chunks.
package cite

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Location describes where a chunk came from. Zero values mean the
// corresponding locator is unavailable.
type Location struct {
	// Path is the document path; the base name appears in the citation.
	Path string

	// Page is the 1-based page number, for paginated formats.
	Page int

	// Heading is the nearest section heading, for markdown.
	Heading string

	// Paragraph is the 1-based paragraph number within the document.
	// Zero means the locator is unavailable.
	Paragraph int
}

// Format renders a citation like "manual.pdf, p. 12" or
// "notes.md, § Getting Started". Pure function: no I/O, and incomplete
// metadata degrades to coarser locators instead of failing, down to the
// "unknown source" fallback when even the path is missing.
func Format(loc Location) string {
	name := filepath.Base(strings.TrimSpace(loc.Path))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "unknown source"
	}

	switch {
	case loc.Page > 0:
		return fmt.Sprintf("%s, p. %d", name, loc.Page)
	case loc.Heading != "":
		return fmt.Sprintf("%s, § %s", name, loc.Heading)
	case loc.Paragraph > 0:
		return fmt.Sprintf("%s, para. %d", name, loc.Paragraph)
	default:
		return name
	}
}
