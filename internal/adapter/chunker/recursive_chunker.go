package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"medrag/internal/domain"
)

// DefaultSeparators in priority order. A window that contains none of them is
// cut at the size limit.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " "}

// Span is a half-open rune range [Start, End) of a text.
type Span struct {
	Start int
	End   int
}

type RecursiveChunker struct {
	size       int
	overlap    int
	separators [][]rune
}

// NewRecursiveChunker creates a chunker emitting chunks of at most size runes
// that share up to overlap runes with their predecessor.
func NewRecursiveChunker(size, overlap int) *RecursiveChunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	seps := make([][]rune, len(DefaultSeparators))
	for i, s := range DefaultSeparators {
		seps[i] = []rune(s)
	}
	return &RecursiveChunker{
		size:       size,
		overlap:    overlap,
		separators: seps,
	}
}

func (c *RecursiveChunker) Size() int    { return c.size }
func (c *RecursiveChunker) Overlap() int { return c.overlap }

// Chunk serializes rec and splits it. Offsets refer to rec.Text().
func (c *RecursiveChunker) Chunk(rec domain.Record) []domain.Chunk {
	text := rec.Text()
	if strings.TrimSpace(rec.Transcription) == "" {
		return nil
	}

	runes := []rune(text)
	spans := c.split(runes)
	chunks := make([]domain.Chunk, 0, len(spans))
	for i, sp := range spans {
		chunks = append(chunks, domain.Chunk{
			ID:         generateChunkID(rec.SourceID, i),
			SourceID:   rec.SourceID,
			Specialty:  strings.TrimSpace(rec.Specialty),
			SampleName: strings.TrimSpace(rec.SampleName),
			Ordinal:    i,
			Start:      sp.Start,
			End:        sp.End,
			Content:    string(runes[sp.Start:sp.End]),
		})
	}
	return chunks
}

// Split returns the chunk spans of text. Whitespace-only text yields none.
func (c *RecursiveChunker) Split(text string) []Span {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return c.split([]rune(text))
}

func (c *RecursiveChunker) split(runes []rune) []Span {
	var spans []Span
	start := 0
	for {
		if len(runes)-start <= c.size {
			spans = append(spans, Span{Start: start, End: len(runes)})
			return spans
		}

		end := start + c.cut(runes[start:start+c.size])
		spans = append(spans, Span{Start: start, End: end})
		start = c.nextStart(runes, end)
	}
}

// cut returns the chunk length for window: just past the last occurrence of
// the highest-priority separator that keeps the chunk longer than the overlap.
func (c *RecursiveChunker) cut(window []rune) int {
	for _, sep := range c.separators {
		idx := lastIndex(window, sep)
		if idx >= 0 && idx+len(sep) > c.overlap {
			return idx + len(sep)
		}
	}
	return len(window)
}

// nextStart backs off overlap runes from end and then moves forward to the
// first word start inside the overlap, if there is one.
func (c *RecursiveChunker) nextStart(runes []rune, end int) int {
	next := end - c.overlap
	for i := next; i < end; i++ {
		if i > 0 && unicode.IsSpace(runes[i-1]) && !unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return next
}

func lastIndex(s, sep []rune) int {
	for i := len(s) - len(sep); i >= 0; i-- {
		match := true
		for j := range sep {
			if s[i+j] != sep[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func generateChunkID(sourceID string, ordinal int) string {
	data := fmt.Sprintf("%s:%d", sourceID, ordinal)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:8])
}
