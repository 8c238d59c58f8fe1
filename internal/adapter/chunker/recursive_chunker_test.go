package chunker

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"medrag/internal/domain"
)

func sampleRecord() domain.Record {
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&sb, "Line %d of the history. The patient reports seasonal sneezing and itchy eyes.", i)
		if i%5 == 4 {
			sb.WriteString("\n\n")
		} else {
			sb.WriteString("\n")
		}
	}
	sb.WriteString("ASSESSMENT: Allergic rhinitis, température normale, no fever.")
	return domain.Record{
		SourceID:      "src-1",
		Specialty:     "Allergy / Immunology",
		SampleName:    "Allergic Rhinitis",
		Transcription: sb.String(),
	}
}

func reconstruct(t *testing.T, chunks []domain.Chunk) string {
	t.Helper()
	var sb strings.Builder
	for i, c := range chunks {
		if i == 0 {
			sb.WriteString(c.Content)
			continue
		}
		prev := chunks[i-1]
		if c.Start > prev.End {
			t.Fatalf("gap between chunk %d (end %d) and %d (start %d)", i-1, prev.End, i, c.Start)
		}
		runes := []rune(c.Content)
		sb.WriteString(string(runes[prev.End-c.Start:]))
	}
	return sb.String()
}

func TestRecursiveChunker_CoversBlob(t *testing.T) {
	rec := sampleRecord()
	c := NewRecursiveChunker(1000, 200)

	chunks := c.Chunk(rec)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}

	if got := reconstruct(t, chunks); got != rec.Text() {
		t.Errorf("reconstructed text differs from blob")
	}

	for i, ch := range chunks {
		n := utf8.RuneCountInString(ch.Content)
		if n > 1000 {
			t.Errorf("chunk %d has %d runes, max 1000", i, n)
		}
		if n != ch.End-ch.Start {
			t.Errorf("chunk %d: content length %d != span %d", i, n, ch.End-ch.Start)
		}
		if ch.Ordinal != i {
			t.Errorf("chunk %d: ordinal %d", i, ch.Ordinal)
		}
		if ch.SourceID != "src-1" || ch.Specialty != "Allergy / Immunology" {
			t.Errorf("chunk %d: metadata not propagated: %+v", i, ch)
		}
		if i > 0 {
			shared := chunks[i-1].End - ch.Start
			if shared < 1 || shared > 200 {
				t.Errorf("chunk %d shares %d runes with predecessor", i, shared)
			}
		}
	}
}

func TestRecursiveChunker_FirstChunkHasLabels(t *testing.T) {
	chunks := NewRecursiveChunker(1000, 200).Chunk(sampleRecord())
	if !strings.HasPrefix(chunks[0].Content, "Specialty: Allergy / Immunology\nSample Name: Allergic Rhinitis\nTranscription: ") {
		t.Errorf("unexpected first chunk prefix: %q", chunks[0].Content[:60])
	}
}

func TestRecursiveChunker_PrefersParagraphBreak(t *testing.T) {
	c := NewRecursiveChunker(20, 5)
	text := "aaaaaaaaaa bbbb\n\ncccccccccccccccccc"

	spans := c.Split(text)
	want := []Span{{0, 17}, {12, 32}, {27, 35}}
	if fmt.Sprint(spans) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, spans)
	}
}

func TestRecursiveChunker_CharacterFallback(t *testing.T) {
	c := NewRecursiveChunker(10, 3)

	spans := c.Split("abcdefghijklmnopqrstuvwxyz")
	want := []Span{{0, 10}, {7, 17}, {14, 24}, {21, 26}}
	if fmt.Sprint(spans) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, spans)
	}
}

func TestRecursiveChunker_OverlapSnapsToWord(t *testing.T) {
	c := NewRecursiveChunker(20, 8)
	text := "one two three four five six seven eight"

	var got []string
	runes := []rune(text)
	for _, sp := range c.Split(text) {
		got = append(got, string(runes[sp.Start:sp.End]))
	}
	want := []string{"one two three four ", "four five six seven ", "seven eight"}
	if fmt.Sprintf("%q", got) != fmt.Sprintf("%q", want) {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestRecursiveChunker_ShortText(t *testing.T) {
	spans := NewRecursiveChunker(1000, 200).Split("Brief note.")
	if len(spans) != 1 || spans[0] != (Span{0, 11}) {
		t.Errorf("expected one span covering the text, got %v", spans)
	}
}

func TestRecursiveChunker_WhitespaceOnly(t *testing.T) {
	c := NewRecursiveChunker(1000, 200)

	if spans := c.Split(" \n\t "); len(spans) != 0 {
		t.Errorf("expected no spans, got %v", spans)
	}

	rec := domain.Record{SourceID: "x", Specialty: "Urology", Transcription: "   \n"}
	if chunks := c.Chunk(rec); len(chunks) != 0 {
		t.Errorf("expected no chunks for blank transcription, got %d", len(chunks))
	}
}

func TestRecursiveChunker_StableIDs(t *testing.T) {
	c := NewRecursiveChunker(200, 40)
	a := c.Chunk(sampleRecord())
	b := c.Chunk(sampleRecord())

	seen := make(map[string]bool)
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Errorf("chunk %d: ID not deterministic", i)
		}
		if len(a[i].ID) != 16 {
			t.Errorf("chunk %d: expected 16 hex chars, got %q", i, a[i].ID)
		}
		if seen[a[i].ID] {
			t.Errorf("duplicate chunk ID %s", a[i].ID)
		}
		seen[a[i].ID] = true
	}
}

func TestNewRecursiveChunker_InvalidOverlap(t *testing.T) {
	c := NewRecursiveChunker(10, 10)
	if c.Overlap() != 0 {
		t.Errorf("expected overlap reset to 0, got %d", c.Overlap())
	}
}
