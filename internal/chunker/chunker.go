// Package chunker splits page text into overlapping retrieval chunks.
package chunker

import (
	"strings"

	"github.com/offprint-io/docqa/internal/domain"
)

// DefaultSize is the default chunk length in runes.
const DefaultSize = 1000

// DefaultOverlap is the default number of runes shared between consecutive chunks.
const DefaultOverlap = 200

// boundaries are preferred cut separators, in priority order. A cut lands
// immediately after the separator so the break stays with the earlier chunk.
var boundaries = []string{"\n\n", "\n", ". ", " "}

// Chunker splits a page's text into a deterministic sliding window of chunks.
// Cuts prefer paragraph, line, sentence, then word boundaries inside the
// second half of the window, falling back to a hard cut at the size limit.
type Chunker struct {
	size    int
	overlap int
}

// New creates a Chunker. size and overlap are in runes; invalid values fall
// back to the defaults, and overlap is clamped below size.
func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split chunks one page of a document. Chunk spans are rune offsets into the
// page text, indices are contiguous from 0, and consecutive spans overlap by
// up to the configured overlap. Identical input always produces identical
// boundaries. An empty (or whitespace-only) page yields no chunks.
func (c *Chunker) Split(documentID string, page domain.Page) []domain.Chunk {
	if strings.TrimSpace(page.Text) == "" {
		return nil
	}

	runes := []rune(page.Text)
	n := len(runes)

	if n <= c.size {
		return []domain.Chunk{{
			DocumentID: documentID,
			Page:       page.Number,
			Index:      0,
			Span:       domain.Span{Start: 0, End: n},
			Text:       page.Text,
		}}
	}

	var chunks []domain.Chunk
	start := 0

	for {
		end := start + c.size
		if end >= n {
			chunks = append(chunks, c.chunk(documentID, page.Number, len(chunks), runes, start, n))
			return chunks
		}

		cut := c.findCut(runes, start, end)
		chunks = append(chunks, c.chunk(documentID, page.Number, len(chunks), runes, start, cut))

		start = cut - c.overlap
		if prev := chunks[len(chunks)-1].Span.Start; start <= prev {
			start = prev + 1
		}
	}
}

func (c *Chunker) chunk(documentID string, pageNum, index int, runes []rune, start, end int) domain.Chunk {
	return domain.Chunk{
		DocumentID: documentID,
		Page:       pageNum,
		Index:      index,
		Span:       domain.Span{Start: start, End: end},
		Text:       string(runes[start:end]),
	}
}

// findCut picks the cut position in (start, end]. Boundaries are only taken
// from the second half of the window so boundary-dense text cannot degrade
// into tiny chunks; with none present the cut is hard at the size limit.
func (c *Chunker) findCut(runes []rune, start, end int) int {
	low := start + c.size/2

	for _, sep := range boundaries {
		if cut := lastBoundary(runes, low, end, []rune(sep)); cut > start {
			return cut
		}
	}
	return end
}

// lastBoundary returns the position just after the last occurrence of sep
// that ends at or before hi and after lo, or -1 when absent.
func lastBoundary(runes []rune, lo, hi int, sep []rune) int {
	for pos := hi - len(sep); pos >= lo; pos-- {
		if matchAt(runes, pos, sep) {
			return pos + len(sep)
		}
	}
	return -1
}

func matchAt(runes []rune, pos int, sep []rune) bool {
	if pos < 0 || pos+len(sep) > len(runes) {
		return false
	}
	for i, r := range sep {
		if runes[pos+i] != r {
			return false
		}
	}
	return true
}
