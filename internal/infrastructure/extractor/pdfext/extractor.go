package pdfext

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/opn-tools/permit-assistant/internal/core/domain"
	"github.com/opn-tools/permit-assistant/internal/core/ports"
)

// Extractor pulls plain text out of stored submissions. PDF files are read
// page by page; anything else is treated as UTF-8 text.
type Extractor struct {
	storage ports.ObjectStorage
}

func NewExtractor(storage ports.ObjectStorage) *Extractor {
	return &Extractor{storage: storage}
}

var pdfMagic = []byte("%PDF-")

// maxPages bounds extraction for pathological documents; permit
// submissions are far below this.
const maxPages = 500

func (e *Extractor) Extract(ctx context.Context, session *domain.Session) (string, error) {
	reader, err := e.storage.Open(ctx, session.StoragePath)
	if err != nil {
		return "", fmt.Errorf("open submission: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read submission: %w", err)
	}

	if bytes.HasPrefix(raw, pdfMagic) {
		return extractPDF(raw, session.Filename)
	}

	if !utf8.Valid(raw) {
		return "", fmt.Errorf("unsupported binary format: %s", session.Filename)
	}
	return cleanText(string(raw)), nil
}

func extractPDF(raw []byte, filename string) (string, error) {
	doc, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("parse pdf %s: %w", filename, err)
	}

	pages := doc.NumPage()
	if pages > maxPages {
		pages = maxPages
	}

	var b strings.Builder
	for pageNum := 1; pageNum <= pages; pageNum++ {
		page := doc.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages the library cannot decode instead of failing
			// the whole submission.
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	return cleanText(b.String()), nil
}

var blankRuns = regexp.MustCompile(`[ \t]+`)

func cleanText(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		out = append(out, strings.TrimSpace(blankRuns.ReplaceAllString(line, " ")))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
