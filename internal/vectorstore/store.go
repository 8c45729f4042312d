// Package vectorstore defines the contract the retrieval pipeline requires
// of an external similarity index.
package vectorstore

import "context"

// Metadata is the document context carried alongside each indexed vector.
type Metadata struct {
	DocumentID string
	ChunkIndex int
	Title      string
	Category   string
	Tags       []string
}

// Item is one vector to index, keyed by chunk identity.
type Item struct {
	ID       string
	Vector   []float32
	Content  string
	Metadata Metadata
}

// Match is one similarity hit. Score is cosine similarity: higher is more
// relevant.
type Match struct {
	ID       string
	Score    float32
	Content  string
	Metadata Metadata
}

// Store is the external similarity index. Implementations must make Upsert
// idempotent (writing an existing ID overwrites), return Query results in
// descending score order with ties broken by insertion order, and treat an
// empty collection as an empty result rather than an error.
type Store interface {
	// Upsert writes items into the collection, overwriting entries whose
	// ID already exists.
	Upsert(ctx context.Context, collection string, items []Item) error

	// Query returns up to k matches for the vector, ordered by descending
	// similarity.
	Query(ctx context.Context, collection string, vector []float32, k int) ([]Match, error)

	// DeleteDocument removes every chunk owned by a document as a single
	// all-or-nothing operation.
	DeleteDocument(ctx context.Context, collection, documentID string) error

	// Count returns the number of vectors in the collection.
	Count(ctx context.Context, collection string) (int, error)
}
