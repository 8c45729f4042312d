package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/desknow-ai/desknow/internal/domain"
	"github.com/desknow-ai/desknow/internal/telemetry"
)

// retrievalMethod names the single retrieval strategy currently wired.
const retrievalMethod = "vector"

// DefaultQueryTimeout bounds a full retrieve-and-generate round trip.
const DefaultQueryTimeout = 90 * time.Second

// QueryRequest is one customer question plus its retrieval options.
type QueryRequest struct {
	Query    string
	TopK     int
	Category string
	Tag      string
	TicketID string
}

// SourceView is one retrieved source as exposed to clients, with the chunk
// body trimmed to a snippet.
type SourceView struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Snippet  string  `json:"snippet"`
	Score    float32 `json:"score"`
	Category string  `json:"category,omitempty"`
}

// QueryResponse is the answer to one RAG query together with its sources
// and timing. ResponseTimeMS covers answer generation only; TotalTimeMS is
// the full retrieve-and-generate round trip.
type QueryResponse struct {
	QueryID         string            `json:"query_id"`
	Answer          string            `json:"answer"`
	Sources         []SourceView      `json:"sources"`
	Citations       []domain.Citation `json:"citations"`
	RetrievalTimeMS float64           `json:"retrieval_time_ms"`
	ResponseTimeMS  float64           `json:"response_time_ms"`
	TotalTimeMS     float64           `json:"total_time_ms"`
	NumChunks       int               `json:"num_chunks"`
}

// RAGService wires retrieval, answer generation, and metrics capture into
// the single query operation clients call.
type RAGService struct {
	retrieval *RetrievalService
	answer    *AnswerService
	metrics   *MetricsRecorder
	timeout   time.Duration
}

// NewRAGService creates a RAGService with the default end-to-end deadline.
func NewRAGService(retrieval *RetrievalService, answer *AnswerService, metrics *MetricsRecorder) *RAGService {
	return &RAGService{
		retrieval: retrieval,
		answer:    answer,
		metrics:   metrics,
		timeout:   DefaultQueryTimeout,
	}
}

// Query retrieves context for the question, generates a grounded answer,
// and records the round trip asynchronously. Retrieval degradation (an
// unreachable store) still produces an answer, generated from an empty
// context.
func (s *RAGService) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "RAGService.Query", telemetry.SpanAttributes{
		Operation: "query",
	})
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var filter *RetrievalFilter
	if req.Category != "" || req.Tag != "" {
		filter = &RetrievalFilter{Category: req.Category, Tag: req.Tag}
	}

	start := time.Now()
	chunks, err := s.retrieval.Retrieve(ctx, req.Query, req.TopK, filter)
	if err != nil {
		return nil, err
	}
	retrievalTime := time.Since(start)

	generationStart := time.Now()
	answer, err := s.answer.Generate(ctx, req.Query, chunks)
	if err != nil {
		return nil, err
	}
	generationTime := time.Since(generationStart)

	resp := &QueryResponse{
		QueryID:         uuid.New().String(),
		Answer:          answer.Text,
		Sources:         sourceViews(chunks),
		Citations:       answer.Citations,
		RetrievalTimeMS: float64(retrievalTime.Microseconds()) / 1000.0,
		ResponseTimeMS:  float64(generationTime.Microseconds()) / 1000.0,
		TotalTimeMS:     float64(time.Since(start).Microseconds()) / 1000.0,
		NumChunks:       len(chunks),
	}

	s.metrics.Record(&domain.QueryRecord{
		ID:              resp.QueryID,
		QueryText:       req.Query,
		Answer:          answer.Text,
		Sources:         chunks,
		Citations:       answer.Citations,
		RetrievalMethod: retrievalMethod,
		RetrievalTimeMS: resp.RetrievalTimeMS,
		ResponseTimeMS:  resp.ResponseTimeMS,
		NumChunks:       len(chunks),
		TicketID:        req.TicketID,
		CreatedAt:       time.Now().UTC(),
	})

	return resp, nil
}

const snippetLimit = 220

func sourceViews(chunks []domain.RetrievalResult) []SourceView {
	views := make([]SourceView, len(chunks))
	for i, c := range chunks {
		views[i] = SourceView{
			ID:       c.ChunkID,
			Title:    c.Title,
			Snippet:  snippet(c.Content),
			Score:    c.Score,
			Category: c.Category,
		}
	}
	return views
}

// snippet trims chunk content to a preview, cutting on a rune boundary.
func snippet(content string) string {
	runes := []rune(content)
	if len(runes) <= snippetLimit {
		return content
	}
	return string(runes[:snippetLimit]) + "..."
}
