package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/desknow-ai/desknow/internal/api"
	"github.com/desknow-ai/desknow/internal/service"
	"github.com/desknow-ai/desknow/internal/vectorstore"
)

type QueryService interface {
	Query(ctx context.Context, req service.QueryRequest) (*service.QueryResponse, error)
}

type RAGHandler struct {
	svc        QueryService
	store      vectorstore.Store
	collection string
}

func NewRAGHandler(svc QueryService, store vectorstore.Store, collection string) *RAGHandler {
	return &RAGHandler{svc: svc, store: store, collection: collection}
}

type QueryRequest struct {
	Query    string `json:"query"`
	TopK     int    `json:"top_k"`
	Category string `json:"category"`
	Tag      string `json:"tag"`
	TicketID string `json:"ticket_id"`
}

func (h *RAGHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK < 0 {
		api.Error(w, http.StatusBadRequest, "top_k must be positive")
		return
	}

	resp, err := h.svc.Query(r.Context(), service.QueryRequest{
		Query:    req.Query,
		TopK:     req.TopK,
		Category: req.Category,
		Tag:      req.Tag,
		TicketID: req.TicketID,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, resp)
}

type RAGHealthResponse struct {
	Status     string `json:"status"`
	Collection string `json:"collection"`
	ChunkCount int    `json:"chunk_count"`
}

// Health reports whether the vector store is reachable and how many chunks
// it currently holds.
func (h *RAGHandler) Health(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.Count(r.Context(), h.collection)
	if err != nil {
		api.JSON(w, http.StatusServiceUnavailable, RAGHealthResponse{
			Status:     "degraded",
			Collection: h.collection,
		})
		return
	}

	api.JSON(w, http.StatusOK, RAGHealthResponse{
		Status:     "ok",
		Collection: h.collection,
		ChunkCount: count,
	})
}
