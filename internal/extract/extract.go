// Package extract converts on-disk documents into plain text.
//
// Extraction is format-specific and pure from the coordinator's point of view:
// text = Extract(path). Failures are contained at the document boundary and
// reported as extraction errors; a corrupt file never aborts a batch.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	qerrors "github.com/quarrysearch/quarry/internal/errors"
)

// Result holds extracted text plus structural hints for citation locators.
type Result struct {
	// Text is the full extracted plain text.
	Text string

	// Pages maps a character offset in Text to the 1-indexed page it starts,
	// for paginated formats. Empty for unpaginated formats.
	Pages []PageSpan
}

// PageSpan records where a page's text begins inside Result.Text.
type PageSpan struct {
	Page   int // 1-indexed
	Offset int // rune offset into Text
}

// SupportedExtensions lists the file extensions the extractor handles.
func SupportedExtensions() []string {
	return []string{".txt", ".text", ".md", ".markdown", ".pdf", ".docx"}
}

// Supported reports whether a path's extension has an extractor.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedExtensions() {
		if ext == s {
			return true
		}
	}
	return false
}

// Extract reads the file at path and returns its plain text.
// maxSize caps the file size in bytes; 0 means no cap.
func Extract(path string, maxSize int64) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeFileNotFound,
			fmt.Sprintf("cannot stat %s", path), err)
	}
	if maxSize > 0 && info.Size() > maxSize {
		return nil, qerrors.New(qerrors.ErrCodeFileTooLarge,
			fmt.Sprintf("%s is %d bytes, limit %d", path, info.Size(), maxSize), nil)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt", ".text", ".md", ".markdown":
		return extractPlain(path)
	case ".pdf":
		return extractPDF(path)
	case ".docx":
		return extractDocx(path)
	default:
		return nil, qerrors.New(qerrors.ErrCodeUnsupportedFormat,
			fmt.Sprintf("no extractor for %s", ext), nil)
	}
}

// extractPlain reads text and markdown files as-is.
func extractPlain(path string) (*Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, qerrors.ExtractionError(fmt.Sprintf("read %s", path), err)
	}

	if isBinaryContent(content) {
		return nil, qerrors.ExtractionError(
			fmt.Sprintf("%s looks binary despite text extension", path), nil)
	}

	return &Result{Text: normalizeNewlines(string(content))}, nil
}

// extractPDF extracts plain text per page, recording page offsets so the
// citation formatter can produce "p.N" locators without re-reading the file.
func extractPDF(path string) (*Result, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, qerrors.ExtractionError(fmt.Sprintf("open pdf %s", path), err)
	}
	defer f.Close()

	var sb strings.Builder
	var pages []PageSpan

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip unreadable pages rather than failing the document
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, PageSpan{Page: i, Offset: len([]rune(sb.String()))})
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}

	out := strings.TrimSpace(sb.String())
	if out == "" && numPages > 0 {
		return nil, qerrors.ExtractionError(
			fmt.Sprintf("no extractable text in %s", path), nil)
	}

	return &Result{Text: out, Pages: pages}, nil
}

// normalizeNewlines converts CRLF and CR line endings to LF.
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// isBinaryContent checks the first 512 bytes for null bytes.
func isBinaryContent(content []byte) bool {
	checkLen := 512
	if len(content) < checkLen {
		checkLen = len(content)
	}
	return bytes.IndexByte(content[:checkLen], 0) >= 0
}

// drainLimited reads at most n bytes from r.
func drainLimited(r io.Reader, n int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, n))
}
