package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/desknow-ai/desknow/internal/api"
	"github.com/desknow-ai/desknow/internal/domain"
	"github.com/desknow-ai/desknow/internal/repository"
)

type QueryLogReader interface {
	ListRecent(ctx context.Context, limit int) ([]*domain.QueryRecord, error)
	Stats(ctx context.Context) (*repository.QueryStats, error)
}

type AnalyticsHandler struct {
	queries QueryLogReader
}

func NewAnalyticsHandler(queries QueryLogReader) *AnalyticsHandler {
	return &AnalyticsHandler{queries: queries}
}

type QueryRecordResponse struct {
	ID              string            `json:"id"`
	QueryText       string            `json:"query_text"`
	Answer          string            `json:"answer"`
	Citations       []domain.Citation `json:"citations"`
	RetrievalMethod string            `json:"retrieval_method"`
	RetrievalTimeMS float64           `json:"retrieval_time_ms"`
	ResponseTimeMS  float64           `json:"response_time_ms"`
	NumChunks       int               `json:"num_chunks"`
	TicketID        string            `json:"ticket_id,omitempty"`
	CreatedAt       string            `json:"created_at"`
}

func queryRecordToResponse(rec *domain.QueryRecord) *QueryRecordResponse {
	return &QueryRecordResponse{
		ID:              rec.ID,
		QueryText:       rec.QueryText,
		Answer:          rec.Answer,
		Citations:       rec.Citations,
		RetrievalMethod: rec.RetrievalMethod,
		RetrievalTimeMS: rec.RetrievalTimeMS,
		ResponseTimeMS:  rec.ResponseTimeMS,
		NumChunks:       rec.NumChunks,
		TicketID:        rec.TicketID,
		CreatedAt:       rec.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

func (h *AnalyticsHandler) ListQueries(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := h.queries.ListRecent(r.Context(), limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*QueryRecordResponse, len(records))
	for i, rec := range records {
		responses[i] = queryRecordToResponse(rec)
	}

	api.Success(w, http.StatusOK, responses)
}

func (h *AnalyticsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queries.Stats(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, stats)
}
