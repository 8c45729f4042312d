package domain

import "fmt"

// Chunk represents a contiguous passage of a document indexed independently
// for retrieval. Its identity is the owning document ID plus a zero-based
// ordinal that is contiguous and unique within the document.
type Chunk struct {
	DocumentID string
	Index      int
	Content    string
	Embedding  []float32

	// Denormalized document metadata carried into the vector store payload.
	Title    string
	Category string
	Tags     []string
}

// ChunkID returns the stable vector store identifier for a chunk.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s:%d", documentID, index)
}

// ID returns the chunk's vector store identifier.
func (c *Chunk) ID() string {
	return ChunkID(c.DocumentID, c.Index)
}
