// Package pgvector implements the vector store contract on Postgres with the
// pgvector extension, for deployments that already run Postgres and do not
// want a separate similarity service.
package pgvector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/desknow-ai/desknow/internal/domain"
	"github.com/desknow-ai/desknow/internal/vectorstore"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"
)

// Store implements vectorstore.Store over a chunks table with a pgvector
// embedding column. A monotonically increasing seq column breaks score ties
// by insertion order.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pgvector-backed store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Upsert inserts items, overwriting rows whose chunk ID already exists.
func (s *Store) Upsert(ctx context.Context, collection string, items []vectorstore.Item) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable("begin upsert", err)
	}
	defer tx.Rollback(ctx)

	for _, item := range items {
		tags, err := json.Marshal(item.Metadata.Tags)
		if err != nil {
			return fmt.Errorf("marshal tags: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO chunks (id, collection, document_id, chunk_index, content, title, category, tags, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (id) DO UPDATE SET
				content = EXCLUDED.content,
				title = EXCLUDED.title,
				category = EXCLUDED.category,
				tags = EXCLUDED.tags,
				embedding = EXCLUDED.embedding`,
			item.ID,
			collection,
			item.Metadata.DocumentID,
			item.Metadata.ChunkIndex,
			item.Content,
			item.Metadata.Title,
			item.Metadata.Category,
			tags,
			pgv.NewVector(item.Vector),
		)
		if err != nil {
			return fmt.Errorf("upsert chunk %s: %w", item.ID, err)
		}
	}

	return tx.Commit(ctx)
}

// Query returns up to k matches by cosine similarity, ties broken by
// insertion order (seq).
func (s *Store) Query(ctx context.Context, collection string, vector []float32, k int) ([]vectorstore.Match, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, chunk_index, content, title, category, tags,
				1 - (embedding <=> $1) AS score
		 FROM chunks
		 WHERE collection = $2
		 ORDER BY embedding <=> $1, seq
		 LIMIT $3`,
		pgv.NewVector(vector),
		collection,
		k,
	)
	if err != nil {
		return nil, unavailable("query chunks", err)
	}
	defer rows.Close()

	matches := make([]vectorstore.Match, 0, k)
	for rows.Next() {
		var m vectorstore.Match
		var tags []byte
		err := rows.Scan(
			&m.ID,
			&m.Metadata.DocumentID,
			&m.Metadata.ChunkIndex,
			&m.Content,
			&m.Metadata.Title,
			&m.Metadata.Category,
			&tags,
			&m.Score,
		)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &m.Metadata.Tags); err != nil {
				return nil, fmt.Errorf("unmarshal tags: %w", err)
			}
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("read chunks", err)
	}

	return matches, nil
}

// DeleteDocument removes every chunk owned by a document in one statement.
func (s *Store) DeleteDocument(ctx context.Context, collection, documentID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM chunks WHERE collection = $1 AND document_id = $2`,
		collection,
		documentID,
	)
	if err != nil {
		return unavailable("delete document chunks", err)
	}
	return nil
}

// Count returns the number of chunks in the collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM chunks WHERE collection = $1`,
		collection,
	).Scan(&count)
	if err != nil && err != pgx.ErrNoRows {
		return 0, unavailable("count chunks", err)
	}
	return count, nil
}

func unavailable(op string, err error) error {
	return domain.NewDomainErrorWithCause(domain.ErrCodeStoreUnavailable, op, err)
}
