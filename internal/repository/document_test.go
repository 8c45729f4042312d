//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/desknow-ai/desknow/internal/domain"
	"github.com/desknow-ai/desknow/internal/pagination"
	"github.com/desknow-ai/desknow/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDoc() *domain.Document {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return domain.NewDocument(
		uuid.NewString(),
		"Password Reset Guide",
		"To reset your password, open the login page and click Forgot Password.",
		"account",
		[]string{"passwords", "login"},
		domain.ChunkingStrategyFixedSize,
		now,
	)
}

func TestDocumentRepository_UpsertAndGet(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	doc := newTestDoc()
	require.NoError(t, repo.Upsert(ctx, doc))

	got, err := repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, doc.Title, got.Title)
	assert.Equal(t, doc.Content, got.Content)
	assert.Equal(t, doc.Category, got.Category)
	assert.Equal(t, doc.Tags, got.Tags)
	assert.Equal(t, domain.IngestStatePending, got.State)
	assert.Equal(t, domain.ChunkingStrategyFixedSize, got.Strategy)
	assert.WithinDuration(t, doc.CreatedAt, got.CreatedAt, time.Millisecond)
}

func TestDocumentRepository_UpsertReplacesExisting(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	doc := newTestDoc()
	require.NoError(t, repo.Upsert(ctx, doc))

	doc.Title = "Password Reset Guide v2"
	doc.Content = "Updated content."
	doc.UpdatedAt = doc.UpdatedAt.Add(time.Minute)
	require.NoError(t, repo.Upsert(ctx, doc))

	got, err := repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Password Reset Guide v2", got.Title)
	assert.Equal(t, "Updated content.", got.Content)
}

func TestDocumentRepository_GetByID_NotFound(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	_, err := repo.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestDocumentRepository_List_Pagination(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < 5; i++ {
		doc := newTestDoc()
		doc.UpdatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Upsert(ctx, doc))
	}

	page1, err := repo.List(ctx, nil, 3)
	require.NoError(t, err)
	require.Len(t, page1.Items, 3)
	assert.True(t, page1.HasMore)
	require.NotEmpty(t, page1.Cursor)

	// Most recently updated first
	assert.True(t, page1.Items[0].UpdatedAt.After(page1.Items[1].UpdatedAt))

	cursor, err := pagination.DecodeCursor(page1.Cursor)
	require.NoError(t, err)

	page2, err := repo.List(ctx, cursor, 3)
	require.NoError(t, err)
	assert.Len(t, page2.Items, 2)
	assert.False(t, page2.HasMore)

	// No overlap between pages
	seen := map[string]bool{}
	for _, d := range page1.Items {
		seen[d.ID] = true
	}
	for _, d := range page2.Items {
		assert.False(t, seen[d.ID])
	}
}

func TestDocumentRepository_Delete(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	doc := newTestDoc()
	require.NoError(t, repo.Upsert(ctx, doc))
	require.NoError(t, repo.Delete(ctx, doc.ID))

	_, err := repo.GetByID(ctx, doc.ID)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)

	err = repo.Delete(ctx, doc.ID)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestDocumentRepository_UpdateState(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	doc := newTestDoc()
	require.NoError(t, repo.Upsert(ctx, doc))

	require.NoError(t, repo.UpdateState(ctx, doc.ID, domain.IngestStateFailed, domain.IngestStateChunked, "embedding request failed"))

	got, err := repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IngestStateFailed, got.State)
	assert.Equal(t, domain.IngestStateChunked, got.LastGoodState)
	assert.Equal(t, "embedding request failed", got.Error)
}

func TestDocumentRepository_FailedRetryFlow(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	failed := newTestDoc()
	failed.State = domain.IngestStateFailed
	failed.LastGoodState = domain.IngestStateChunked
	require.NoError(t, repo.Upsert(ctx, failed))

	ready := newTestDoc()
	ready.State = domain.IngestStateReady
	require.NoError(t, repo.Upsert(ctx, ready))

	docs, err := repo.ListFailed(ctx, 3, 20)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, failed.ID, docs[0].ID)

	// Retries at the budget are no longer listed
	require.NoError(t, repo.IncrementRetries(ctx, failed.ID))
	require.NoError(t, repo.IncrementRetries(ctx, failed.ID))
	require.NoError(t, repo.IncrementRetries(ctx, failed.ID))

	docs, err = repo.ListFailed(ctx, 3, 20)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestDocumentRepository_SetChunkCount(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	doc := newTestDoc()
	require.NoError(t, repo.Upsert(ctx, doc))
	require.NoError(t, repo.SetChunkCount(ctx, doc.ID, 7))

	got, err := repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.ChunkCount)
}
