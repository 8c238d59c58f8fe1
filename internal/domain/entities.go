package domain

import (
	"strings"
	"unicode/utf8"
)

// Record is one row of the transcription corpus.
type Record struct {
	SourceID      string
	Row           int
	Specialty     string
	SampleName    string
	Transcription string
}

// Text serializes the record into the labeled blob that gets chunked.
func (r Record) Text() string {
	var sb strings.Builder
	sb.WriteString("Specialty: ")
	sb.WriteString(strings.TrimSpace(r.Specialty))
	sb.WriteString("\nSample Name: ")
	sb.WriteString(strings.TrimSpace(r.SampleName))
	sb.WriteString("\nTranscription: ")
	sb.WriteString(strings.TrimSpace(r.Transcription))
	return sb.String()
}

// Chunk is a contiguous slice of a record blob. Start and End are rune
// offsets into Record.Text().
type Chunk struct {
	ID         string `json:"id"`
	SourceID   string `json:"source_id"`
	Specialty  string `json:"specialty"`
	SampleName string `json:"sample_name,omitempty"`
	Ordinal    int    `json:"ordinal"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Content    string `json:"content"`
}

type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// Prompt is the grounded generation input.
type Prompt struct {
	System string
	User   string
}

func (p Prompt) String() string {
	return p.System + "\n\nQuestion: " + p.User
}

// Answer is a generated answer plus the chunks it was grounded on, in
// retrieval order.
type Answer struct {
	Text      string
	Citations []ScoredChunk
}

// Response is the shape consumed by UI collaborators.
type Response struct {
	Answer  string            `json:"answer"`
	Context []ResponseContext `json:"context"`
	Error   string            `json:"error,omitempty"`
}

type ResponseContext struct {
	Content  string          `json:"content"`
	Metadata ContextMetadata `json:"metadata"`
	Score    float64         `json:"score"`
}

type ContextMetadata struct {
	SourceID  string `json:"source_id"`
	Specialty string `json:"specialty"`
}

// NewResponse converts an answer into the UI response shape.
func NewResponse(a Answer) Response {
	ctx := make([]ResponseContext, 0, len(a.Citations))
	for _, c := range a.Citations {
		ctx = append(ctx, ResponseContext{
			Content: c.Chunk.Content,
			Metadata: ContextMetadata{
				SourceID:  c.Chunk.SourceID,
				Specialty: c.Chunk.Specialty,
			},
			Score: c.Score,
		})
	}
	return Response{Answer: a.Text, Context: ctx}
}

// Citation is a numbered source line as rendered to users.
type Citation struct {
	Number    int     `json:"number"`
	SourceID  string  `json:"source_id"`
	Specialty string  `json:"specialty"`
	Snippet   string  `json:"snippet"`
	Score     float64 `json:"score"`
}

// SnippetRunes is the length of a citation snippet.
const SnippetRunes = 300

// Sources numbers the answer's sources from 1 in retrieval order.
func (a Answer) Sources() []Citation {
	out := make([]Citation, len(a.Citations))
	for i, c := range a.Citations {
		out[i] = Citation{
			Number:    i + 1,
			SourceID:  c.Chunk.SourceID,
			Specialty: c.Chunk.Specialty,
			Snippet:   Snippet(c.Chunk.Content, SnippetRunes),
			Score:     c.Score,
		}
	}
	return out
}

// Snippet returns the first n runes of the chunk content on one line.
func Snippet(content string, n int) string {
	flat := strings.ReplaceAll(content, "\n", " ")
	if utf8.RuneCountInString(flat) <= n {
		return flat
	}
	runes := []rune(flat)
	return string(runes[:n]) + "..."
}

// IndexMeta describes a persisted vector index.
type IndexMeta struct {
	SchemaVersion  int    `json:"schema_version" yaml:"schema_version"`
	BuildID        string `json:"build_id" yaml:"build_id"`
	BuiltAt        int64  `json:"built_at" yaml:"built_at"`
	Metric         string `json:"metric" yaml:"metric"`
	Dimension      int    `json:"dimension" yaml:"dimension"`
	EmbeddingModel string `json:"embedding_model" yaml:"embedding_model"`
	ChunkSize      int    `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap   int    `json:"chunk_overlap" yaml:"chunk_overlap"`
	Entries        int    `json:"entries" yaml:"entries"`
}
