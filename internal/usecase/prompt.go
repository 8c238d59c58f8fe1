package usecase

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"medrag/internal/domain"
)

//go:embed templates/*.txt
var promptTemplates embed.FS

const systemTemplate = "templates/system_prompt.txt"

// PromptAssembler renders the grounded system instruction from retrieved
// chunks. It holds no mutable state and is safe for concurrent use.
type PromptAssembler struct {
	tmpl     *template.Template
	fallback string
}

type promptData struct {
	Fallback string
	Chunks   []domain.ScoredChunk
}

// NewPromptAssembler parses the embedded template. fallback is the phrase
// the model must use when the context cannot answer the question.
func NewPromptAssembler(fallback string) (*PromptAssembler, error) {
	content, err := promptTemplates.ReadFile(systemTemplate)
	if err != nil {
		return nil, fmt.Errorf("template not found: %w", err)
	}

	tmpl, err := template.New("system").Funcs(templateFuncs()).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	return &PromptAssembler{tmpl: tmpl, fallback: fallback}, nil
}

func (a *PromptAssembler) Fallback() string { return a.fallback }

// Assemble builds the prompt for query from chunks in the given order. The
// output depends only on its inputs.
func (a *PromptAssembler) Assemble(query string, chunks []domain.ScoredChunk) (domain.Prompt, error) {
	var buf bytes.Buffer
	if err := a.tmpl.Execute(&buf, promptData{Fallback: a.fallback, Chunks: chunks}); err != nil {
		return domain.Prompt{}, fmt.Errorf("failed to render template: %w", err)
	}

	return domain.Prompt{
		System: strings.TrimRight(buf.String(), "\n"),
		User:   strings.TrimSpace(query),
	}, nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatChunks": func(chunks []domain.ScoredChunk) string {
			parts := make([]string, len(chunks))
			for i, c := range chunks {
				parts[i] = fmt.Sprintf("Source ID: %s\nSpecialty: %s\nContent: %s",
					c.Chunk.SourceID, c.Chunk.Specialty, c.Chunk.Content)
			}
			return strings.Join(parts, "\n\n")
		},
	}
}
