package store

import (
	"fmt"

	"medrag/internal/domain"
)

// CurrentSchemaVersion is the current on-disk schema version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

// MetricCosine is the only similarity metric the index supports.
const MetricCosine = "cosine"

// CheckSchema validates metadata read from disk against what this build can serve.
func CheckSchema(meta domain.IndexMeta) error {
	switch {
	case meta.SchemaVersion == 0:
		return fmt.Errorf("schema version missing")
	case meta.SchemaVersion < CurrentSchemaVersion:
		return fmt.Errorf("schema v%d is older than v%d, rebuild the index", meta.SchemaVersion, CurrentSchemaVersion)
	case meta.SchemaVersion > CurrentSchemaVersion:
		return fmt.Errorf("index created by newer version (v%d > v%d)", meta.SchemaVersion, CurrentSchemaVersion)
	}
	if meta.Metric != MetricCosine {
		return fmt.Errorf("unsupported metric %q", meta.Metric)
	}
	if meta.Dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", meta.Dimension)
	}
	return nil
}

// Compatibility describes how an existing index differs from the current
// embedder and chunking settings.
type Compatibility struct {
	Compatible bool
	Reason     string
}

// CheckCompatibility compares meta with the settings a query or append would use.
// Chunk settings are only compared when non-zero.
func CheckCompatibility(meta domain.IndexMeta, dimension int, model string, chunkSize, chunkOverlap int) Compatibility {
	switch {
	case meta.Dimension != dimension:
		return Compatibility{Reason: fmt.Sprintf("index dimension %d, embedder dimension %d", meta.Dimension, dimension)}
	case meta.EmbeddingModel != model:
		return Compatibility{Reason: fmt.Sprintf("index built with model %q, embedder is %q", meta.EmbeddingModel, model)}
	case chunkSize > 0 && meta.ChunkSize != chunkSize:
		return Compatibility{Reason: fmt.Sprintf("index chunk size %d, configured %d", meta.ChunkSize, chunkSize)}
	case chunkSize > 0 && meta.ChunkOverlap != chunkOverlap:
		return Compatibility{Reason: fmt.Sprintf("index chunk overlap %d, configured %d", meta.ChunkOverlap, chunkOverlap)}
	}
	return Compatibility{Compatible: true}
}
