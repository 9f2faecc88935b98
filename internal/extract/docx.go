package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"strings"

	qerrors "github.com/quarrysearch/quarry/internal/errors"
)

// maxDocxXMLBytes caps how much of word/document.xml is read.
const maxDocxXMLBytes = 64 * 1024 * 1024

// extractDocx pulls paragraph text out of a DOCX archive's word/document.xml.
func extractDocx(path string) (*Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, qerrors.ExtractionError(fmt.Sprintf("read %s", path), err)
	}

	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, qerrors.ExtractionError(fmt.Sprintf("%s is not a valid docx archive", path), err)
	}

	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return nil, qerrors.ExtractionError("open word/document.xml", err)
		}
		data, err := drainLimited(rc, maxDocxXMLBytes)
		rc.Close()
		if err != nil {
			return nil, qerrors.ExtractionError("read word/document.xml", err)
		}

		text, err := parseDocumentXML(data)
		if err != nil {
			return nil, qerrors.ExtractionError(fmt.Sprintf("parse %s", path), err)
		}
		return &Result{Text: text}, nil
	}

	return nil, qerrors.ExtractionError(
		fmt.Sprintf("%s has no word/document.xml", path), nil)
}

// documentXML mirrors the paragraph/run/text nesting of word/document.xml.
type documentXML struct {
	Body struct {
		Paragraphs []docxParagraph `xml:"p"`
	} `xml:"body"`
}

type docxParagraph struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Text []docxText `xml:"t"`
}

type docxText struct {
	Content string `xml:",chardata"`
}

// parseDocumentXML joins paragraph text with blank lines so the chunker's
// paragraph splitting sees the original document structure.
func parseDocumentXML(content []byte) (string, error) {
	var doc documentXML
	if err := xml.Unmarshal(content, &doc); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, para := range doc.Body.Paragraphs {
		var line strings.Builder
		for _, run := range para.Runs {
			for _, t := range run.Text {
				line.WriteString(t.Content)
			}
		}
		if s := strings.TrimSpace(line.String()); s != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(s)
		}
	}

	return sb.String(), nil
}
