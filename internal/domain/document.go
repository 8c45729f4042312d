package domain

import (
	"fmt"
	"time"
)

// ChunkingStrategy selects how a document is split before indexing
type ChunkingStrategy string

const (
	ChunkingStrategyFixedSize ChunkingStrategy = "fixed_size"
	ChunkingStrategySemantic  ChunkingStrategy = "semantic"
)

// IngestState represents the state of the ingestion pipeline for a document
type IngestState string

const (
	IngestStatePending  IngestState = "pending"
	IngestStateChunked  IngestState = "chunked"
	IngestStateEmbedded IngestState = "embedded"
	IngestStateIndexed  IngestState = "indexed"
	IngestStateReady    IngestState = "ready"
	IngestStateFailed   IngestState = "failed"
)

// Document represents a knowledge base document
type Document struct {
	ID         string
	Title      string
	Content    string
	Category   string
	Tags       []string
	ChunkCount int
	Strategy   ChunkingStrategy
	State      IngestState
	// LastGoodState is the last pipeline state that completed before a
	// failure, so ingestion can resume from that point.
	LastGoodState IngestState
	Error         string
	Retries       int32
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewDocument creates a new Document in the pending state
func NewDocument(id, title, content, category string, tags []string, strategy ChunkingStrategy, now time.Time) *Document {
	return &Document{
		ID:            id,
		Title:         title,
		Content:       content,
		Category:      category,
		Tags:          tags,
		Strategy:      strategy,
		State:         IngestStatePending,
		LastGoodState: IngestStatePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ValidateDocument validates a Document instance
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}

	if d.ID == "" {
		return fmt.Errorf("document ID is required")
	}

	if d.Title == "" {
		return fmt.Errorf("document Title is required")
	}

	if d.Content == "" {
		return fmt.Errorf("document Content is required")
	}

	if !isValidChunkingStrategy(d.Strategy) {
		return fmt.Errorf("document Strategy is invalid: %s", d.Strategy)
	}

	if !isValidIngestState(d.State) {
		return fmt.Errorf("document State is invalid: %s", d.State)
	}

	return nil
}

// Advance moves the pipeline to the next state and records it as the last
// state known to have completed.
func (d *Document) Advance(next IngestState) {
	d.LastGoodState = next
	d.State = next
}

// Fail transitions the pipeline to failed, retaining LastGoodState so a
// retry can resume rather than restart.
func (d *Document) Fail(err error) {
	d.State = IngestStateFailed
	if err != nil {
		d.Error = err.Error()
	}
}

// Terminal reports whether the pipeline has finished, successfully or not.
func (s IngestState) Terminal() bool {
	return s == IngestStateReady || s == IngestStateFailed
}

// isValidChunkingStrategy checks if a ChunkingStrategy is valid
func isValidChunkingStrategy(s ChunkingStrategy) bool {
	switch s {
	case ChunkingStrategyFixedSize, ChunkingStrategySemantic:
		return true
	}
	return false
}

// isValidIngestState checks if an IngestState is valid
func isValidIngestState(s IngestState) bool {
	switch s {
	case IngestStatePending, IngestStateChunked, IngestStateEmbedded,
		IngestStateIndexed, IngestStateReady, IngestStateFailed:
		return true
	}
	return false
}
