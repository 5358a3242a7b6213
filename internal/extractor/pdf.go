// Package extractor turns PDF byte streams into ordered page text.
package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/offprint-io/docqa/internal/domain"
)

// PDF extracts per-page text from PDF byte streams. Stateless; a pure
// transform of bytes to structured text.
type PDF struct{}

// NewPDF creates a PDF extractor.
func NewPDF() *PDF {
	return &PDF{}
}

// Extract returns one (page number, text) pair per page, in document order.
// Page numbers are 1-based. Fails with domain.ErrExtraction when the stream
// is not a valid PDF or no page carries an extractable text layer (e.g. a
// pure image scan). Never retried: the caller must supply a different file.
func (e *PDF) Extract(filename string, data []byte) (pages []domain.Page, err error) {
	// ledongthuc/pdf panics on some malformed inputs instead of returning an error.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("%s: malformed pdf: %v: %w", filename, r, domain.ErrExtraction)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%s: open pdf: %v: %w", filename, err, domain.ErrExtraction)
	}

	total := reader.NumPage()
	if total == 0 {
		return nil, fmt.Errorf("%s: pdf has no pages: %w", filename, domain.ErrExtraction)
	}

	pages = make([]domain.Page, 0, total)
	hasText := false

	for num := 1; num <= total; num++ {
		page := reader.Page(num)
		if page.V.IsNull() {
			pages = append(pages, domain.Page{Number: num})
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page poisons the whole document: partial
			// extractions would silently lose content.
			return nil, fmt.Errorf("%s: page %d: extract text: %v: %w",
				filename, num, err, domain.ErrExtraction)
		}

		if strings.TrimSpace(text) != "" {
			hasText = true
		}
		pages = append(pages, domain.Page{Number: num, Text: text})
	}

	if !hasText {
		return nil, fmt.Errorf("%s: no extractable text layer: %w", filename, domain.ErrExtraction)
	}

	return pages, nil
}
