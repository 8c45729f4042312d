package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/desknow-ai/desknow/internal/domain"
	"github.com/desknow-ai/desknow/internal/pagination"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DocumentRepository persists knowledge base documents and their pipeline state.
type DocumentRepository struct {
	pool *pgxpool.Pool
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

// Upsert inserts a document, replacing an existing record on re-ingestion.
func (r *DocumentRepository) Upsert(ctx context.Context, d *domain.Document) error {
	tags, err := json.Marshal(d.Tags)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO documents (id, title, content, category, tags, chunk_count, strategy, state, last_good_state, error, retries, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			category = EXCLUDED.category,
			tags = EXCLUDED.tags,
			chunk_count = EXCLUDED.chunk_count,
			strategy = EXCLUDED.strategy,
			state = EXCLUDED.state,
			last_good_state = EXCLUDED.last_good_state,
			error = EXCLUDED.error,
			retries = EXCLUDED.retries,
			updated_at = EXCLUDED.updated_at`,
		d.ID, d.Title, d.Content, nullableString(d.Category), tags, d.ChunkCount,
		d.Strategy, d.State, d.LastGoodState, nullableString(d.Error), d.Retries,
		d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, title, content, category, tags, chunk_count, strategy, state, last_good_state, error, retries, created_at, updated_at
		 FROM documents WHERE id = $1`,
		id,
	)
	return scanDocument(row)
}

// List returns documents ordered by most recently updated, cursor-paginated.
func (r *DocumentRepository) List(ctx context.Context, cursor *pagination.Cursor, limit int) (*pagination.PageResult[*domain.Document], error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error
	if cursor != nil {
		rows, err = r.pool.Query(ctx,
			`SELECT id, title, content, category, tags, chunk_count, strategy, state, last_good_state, error, retries, created_at, updated_at
			 FROM documents
			 WHERE (updated_at, id) < ($1, $2)
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $3`,
			cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.pool.Query(ctx,
			`SELECT id, title, content, category, tags, chunk_count, strategy, state, last_good_state, error, retries, created_at, updated_at
			 FROM documents
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $1`,
			limit+1,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	result := &pagination.PageResult[*domain.Document]{
		Items:   items,
		HasMore: hasMore,
	}
	if hasMore {
		last := items[len(items)-1]
		result.Cursor = pagination.EncodeCursor(last.ID, last.UpdatedAt)
	}
	return result, nil
}

func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// UpdateState records a pipeline transition.
func (r *DocumentRepository) UpdateState(ctx context.Context, id string, state, lastGood domain.IngestState, errMsg string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE documents SET state = $1, last_good_state = $2, error = $3, updated_at = $4 WHERE id = $5`,
		state, lastGood, nullableString(errMsg), time.Now().UTC(), id,
	)
	return err
}

// SetChunkCount keeps chunk_count equal to the number of chunks indexed for
// the document.
func (r *DocumentRepository) SetChunkCount(ctx context.Context, id string, count int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE documents SET chunk_count = $1, updated_at = $2 WHERE id = $3`,
		count, time.Now().UTC(), id,
	)
	return err
}

// IncrementRetries bumps the ingestion retry counter.
func (r *DocumentRepository) IncrementRetries(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE documents SET retries = retries + 1 WHERE id = $1`,
		id,
	)
	return err
}

// ListFailed returns failed documents still under the retry budget, oldest
// first, for the background worker to resume.
func (r *DocumentRepository) ListFailed(ctx context.Context, maxRetries int32, limit int) ([]*domain.Document, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, content, category, tags, chunk_count, strategy, state, last_good_state, error, retries, created_at, updated_at
		 FROM documents
		 WHERE state = $1 AND retries < $2
		 ORDER BY updated_at ASC
		 LIMIT $3`,
		domain.IngestStateFailed, maxRetries, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var d domain.Document
	var category, errMsg *string
	var tags []byte
	err := row.Scan(
		&d.ID, &d.Title, &d.Content, &category, &tags, &d.ChunkCount,
		&d.Strategy, &d.State, &d.LastGoodState, &errMsg, &d.Retries,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	if category != nil {
		d.Category = *category
	}
	if errMsg != nil {
		d.Error = *errMsg
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &d.Tags); err != nil {
			return nil, err
		}
	}
	return &d, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
