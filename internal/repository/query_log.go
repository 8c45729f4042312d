package repository

import (
	"context"
	"encoding/json"

	"github.com/desknow-ai/desknow/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QueryLogRepository stores one immutable record per RAG query for analytics.
type QueryLogRepository struct {
	pool *pgxpool.Pool
}

func NewQueryLogRepository(pool *pgxpool.Pool) *QueryLogRepository {
	return &QueryLogRepository{pool: pool}
}

func (r *QueryLogRepository) Create(ctx context.Context, rec *domain.QueryRecord) error {
	sourcesJSON, err := json.Marshal(rec.Sources)
	if err != nil {
		return err
	}
	citationsJSON, err := json.Marshal(rec.Citations)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO rag_queries (id, query_text, answer, sources, citations, retrieval_method, retrieval_time_ms, response_time_ms, num_chunks, ticket_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID,
		rec.QueryText,
		rec.Answer,
		sourcesJSON,
		citationsJSON,
		rec.RetrievalMethod,
		rec.RetrievalTimeMS,
		rec.ResponseTimeMS,
		rec.NumChunks,
		nullableString(rec.TicketID),
		rec.CreatedAt,
	)
	return err
}

// ListRecent returns the newest query records, most recent first.
func (r *QueryLogRepository) ListRecent(ctx context.Context, limit int) ([]*domain.QueryRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, query_text, answer, sources, citations, retrieval_method, retrieval_time_ms, response_time_ms, num_chunks, ticket_id, created_at
		 FROM rag_queries
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.QueryRecord
	for rows.Next() {
		var rec domain.QueryRecord
		var sources, citations []byte
		var ticketID *string
		err := rows.Scan(
			&rec.ID, &rec.QueryText, &rec.Answer, &sources, &citations,
			&rec.RetrievalMethod, &rec.RetrievalTimeMS, &rec.ResponseTimeMS,
			&rec.NumChunks, &ticketID, &rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if len(sources) > 0 {
			if err := json.Unmarshal(sources, &rec.Sources); err != nil {
				return nil, err
			}
		}
		if len(citations) > 0 {
			if err := json.Unmarshal(citations, &rec.Citations); err != nil {
				return nil, err
			}
		}
		if ticketID != nil {
			rec.TicketID = *ticketID
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// QueryStats aggregates the metrics the recorder captures.
type QueryStats struct {
	TotalQueries       int64   `json:"total_queries"`
	AvgRetrievalTimeMS float64 `json:"avg_retrieval_time_ms"`
	AvgResponseTimeMS  float64 `json:"avg_response_time_ms"`
	AvgChunks          float64 `json:"avg_chunks"`
}

func (r *QueryLogRepository) Stats(ctx context.Context) (*QueryStats, error) {
	var s QueryStats
	err := r.pool.QueryRow(ctx,
		`SELECT count(*),
				coalesce(avg(retrieval_time_ms), 0),
				coalesce(avg(response_time_ms), 0),
				coalesce(avg(num_chunks), 0)
		 FROM rag_queries`,
	).Scan(&s.TotalQueries, &s.AvgRetrievalTimeMS, &s.AvgResponseTimeMS, &s.AvgChunks)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
