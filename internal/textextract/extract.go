package textextract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Extract pulls plain text out of a document asset so the tone and
// typography dimensions have a corpus to match keywords against. Image
// assets never pass through here.
func Extract(data io.ReaderAt, size int64, mimeType string) (string, error) {
	switch strings.ToLower(mimeType) {
	case "application/pdf", "pdf", ".pdf":
		return extractPDF(data, size)
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "docx", ".docx":
		return extractDOCX(data, size)
	case "text/plain", "txt", ".txt":
		return extractTXT(data, size)
	default:
		return "", fmt.Errorf("unsupported document type: %s", mimeType)
	}
}

func Supported(mimeType string) bool {
	switch strings.ToLower(mimeType) {
	case "application/pdf", "pdf", ".pdf",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "docx", ".docx",
		"text/plain", "txt", ".txt":
		return true
	}
	return false
}

func extractPDF(data io.ReaderAt, size int64) (string, error) {
	reader, err := pdf.NewReader(data, size)
	if err != nil {
		return "", fmt.Errorf("open PDF: %w", err)
	}

	var buf strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		buf.WriteString(text)
		buf.WriteString("\n")
	}
	return buf.String(), nil
}

var xmlTagRe = regexp.MustCompile(`<[^>]+>`)

func extractDOCX(data io.ReaderAt, size int64) (string, error) {
	reader, err := zip.NewReader(data, size)
	if err != nil {
		return "", fmt.Errorf("open DOCX: %w", err)
	}

	for _, f := range reader.File {
		if filepath.Base(f.Name) != "document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open document.xml: %w", err)
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("read document.xml: %w", err)
		}
		// Paragraph closers become newlines, remaining markup is stripped.
		text := strings.ReplaceAll(string(raw), "</w:p>", "\n")
		return xmlTagRe.ReplaceAllString(text, ""), nil
	}
	return "", fmt.Errorf("document.xml not found in DOCX")
}

func extractTXT(data io.ReaderAt, size int64) (string, error) {
	buf := make([]byte, size)
	if _, err := data.ReadAt(buf, 0); err != nil && err != io.EOF {
		return "", fmt.Errorf("read text file: %w", err)
	}
	return string(bytes.TrimRight(buf, "\x00")), nil
}

// ReaderAtFromBytes adapts an in-memory file to the io.ReaderAt the
// extractors need.
func ReaderAtFromBytes(data []byte) io.ReaderAt {
	return bytes.NewReader(data)
}
