package domain

import "time"

// RetrievalResult is a single ranked hit from the vector store. Results are
// produced fresh per query and never persisted as-is.
type RetrievalResult struct {
	ChunkID    string
	DocumentID string
	ChunkIndex int
	Content    string
	Score      float32
	Title      string
	Category   string
	Tags       []string
}

// Citation binds a marker number in a generated answer to one retrieved source.
// Markers are 1-based and index into the retrieved source list.
type Citation struct {
	Marker   int    `json:"marker"`
	SourceID string `json:"source_id"`
}

// QueryRecord captures one RAG query for analytics. Created once per query
// and immutable afterward.
type QueryRecord struct {
	ID              string
	QueryText       string
	Answer          string
	Sources         []RetrievalResult
	Citations       []Citation
	RetrievalMethod string
	RetrievalTimeMS float64
	ResponseTimeMS  float64
	NumChunks       int
	TicketID        string
	CreatedAt       time.Time
}
