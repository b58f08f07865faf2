// Package extract converts raw uploaded file bytes into normalized UTF-8 plain
// text with LF line endings. It is side-effect free: no I/O beyond the given
// bytes.
package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"compliance-doc-engine/internal/model"
)

// SupportedTypes is the set of accepted declared file types.
var SupportedTypes = map[string]bool{
	"pdf":  true,
	"docx": true,
	"doc":  true,
	"txt":  true,
	"md":   true,
}

// Extract dispatches on the declared file type and returns normalized text.
// Unknown types fail with model.ErrUnsupportedFormat; unreadable content fails
// with model.ErrExtraction.
func Extract(data []byte, fileType string) (string, error) {
	if !SupportedTypes[fileType] {
		return "", fmt.Errorf("%w: %q", model.ErrUnsupportedFormat, fileType)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty file", model.ErrExtraction)
	}

	var text string
	var err error
	switch fileType {
	case "pdf":
		text, err = extractPDF(data)
	case "docx", "doc":
		// Modern .doc uploads are almost always OOXML; legacy OLE content is
		// not a zip archive and fails below as unreadable.
		text, err = extractDOCX(data)
	case "txt", "md":
		text, err = extractPlain(data)
	}
	if err != nil {
		return "", err
	}
	return normalize(text), nil
}

func extractPDF(data []byte) (text string, err error) {
	// The pdf parser panics on some malformed inputs; convert that to an
	// extraction error instead of taking down the worker.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: malformed pdf: %v", model.ErrExtraction, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrExtraction, err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrExtraction, err)
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrExtraction, err)
	}
	return string(out), nil
}

func extractDOCX(data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: not an OOXML archive: %v", model.ErrExtraction, err)
	}
	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("%w: %v", model.ErrExtraction, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("%w: %v", model.ErrExtraction, err)
		}
		return parseDocumentXML(content)
	}
	return "", fmt.Errorf("%w: archive has no word/document.xml", model.ErrExtraction)
}

// documentXML mirrors the parts of word/document.xml we read. Namespaces are
// ignored; encoding/xml matches on local names.
type documentXML struct {
	Body struct {
		Paragraphs []docxParagraph `xml:"p"`
	} `xml:"body"`
}

type docxParagraph struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Texts []string `xml:"t"`
}

func parseDocumentXML(content []byte) (string, error) {
	var doc documentXML
	if err := xml.Unmarshal(content, &doc); err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrExtraction, err)
	}
	var sb strings.Builder
	for i, p := range doc.Body.Paragraphs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		for _, r := range p.Runs {
			for _, t := range r.Texts {
				sb.WriteString(t)
			}
		}
	}
	return sb.String(), nil
}

func extractPlain(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: content is not valid UTF-8", model.ErrExtraction)
	}
	return string(data), nil
}

// normalize converts line endings to LF, strips NUL bytes, and trims
// surrounding whitespace.
func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	return strings.TrimSpace(text)
}
