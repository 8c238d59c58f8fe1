package port

import "medrag/internal/domain"

// Chunker splits a corpus record into overlapping chunks.
type Chunker interface {
	// Chunk returns the record's chunks in ordinal order. Whitespace-only
	// records yield none.
	Chunk(rec domain.Record) []domain.Chunk
}

// CorpusLoader reads transcription records from the configured corpus.
type CorpusLoader interface {
	Load() ([]domain.Record, error)
}
