package service

import (
	"context"
	"log"
	"strings"

	"github.com/desknow-ai/desknow/internal/domain"
	"github.com/desknow-ai/desknow/internal/vectorstore"
)

const (
	// MinTopK and MaxTopK bound how many chunks one query may retrieve.
	MinTopK = 1
	MaxTopK = 10
	// DefaultTopK is used when the caller does not ask for a specific count.
	DefaultTopK = 5
)

// QueryEmbedder generates an embedding for a single query string.
type QueryEmbedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// RetrievalFilter narrows results by document metadata after retrieval.
type RetrievalFilter struct {
	Category string
	Tag      string
}

// RetrievalService embeds a query and looks up the most similar chunks in
// the vector store.
type RetrievalService struct {
	embedder   QueryEmbedder
	store      vectorstore.Store
	collection string
}

// NewRetrievalService creates a RetrievalService over one collection.
func NewRetrievalService(embedder QueryEmbedder, store vectorstore.Store, collection string) *RetrievalService {
	return &RetrievalService{
		embedder:   embedder,
		store:      store,
		collection: collection,
	}
}

// ClampTopK forces k into the [MinTopK, MaxTopK] range, substituting the
// default for zero.
func ClampTopK(k int) int {
	if k == 0 {
		return DefaultTopK
	}
	if k < MinTopK {
		return MinTopK
	}
	if k > MaxTopK {
		return MaxTopK
	}
	return k
}

// Retrieve returns up to k chunks ranked by descending similarity. An
// unreachable vector store degrades to an empty result with a warning
// instead of failing the query. No results is a valid outcome.
func (s *RetrievalService) Retrieve(ctx context.Context, query string, k int, filter *RetrievalFilter) ([]domain.RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyQuery
	}
	k = ClampTopK(k)

	embedding, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := s.store.Query(ctx, s.collection, embedding, k)
	if err != nil {
		if domain.IsUnavailable(err) {
			log.Printf("retrieval degraded: vector store unreachable: %v", err)
			return []domain.RetrievalResult{}, nil
		}
		return nil, err
	}

	results := make([]domain.RetrievalResult, 0, len(matches))
	for _, m := range matches {
		if !matchesFilter(m.Metadata, filter) {
			continue
		}
		results = append(results, domain.RetrievalResult{
			ChunkID:    m.ID,
			DocumentID: m.Metadata.DocumentID,
			ChunkIndex: m.Metadata.ChunkIndex,
			Content:    m.Content,
			Score:      m.Score,
			Title:      m.Metadata.Title,
			Category:   m.Metadata.Category,
			Tags:       m.Metadata.Tags,
		})
	}

	return results, nil
}

func matchesFilter(m vectorstore.Metadata, filter *RetrievalFilter) bool {
	if filter == nil {
		return true
	}
	if filter.Category != "" && !strings.EqualFold(m.Category, filter.Category) {
		return false
	}
	if filter.Tag != "" {
		found := false
		for _, tag := range m.Tags {
			if strings.EqualFold(tag, filter.Tag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
