package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/desknow-ai/desknow/internal/domain"
	"github.com/desknow-ai/desknow/internal/vectorstore"
)

// MockDocumentStore is a mock implementation of DocumentStore
type MockDocumentStore struct {
	mock.Mock
}

func (m *MockDocumentStore) Upsert(ctx context.Context, d *domain.Document) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockDocumentStore) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentStore) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDocumentStore) UpdateState(ctx context.Context, id string, state, lastGood domain.IngestState, errMsg string) error {
	args := m.Called(ctx, id, state, lastGood, errMsg)
	return args.Error(0)
}

func (m *MockDocumentStore) SetChunkCount(ctx context.Context, id string, count int) error {
	args := m.Called(ctx, id, count)
	return args.Error(0)
}

// stubEmbedder returns one placeholder vector per input text, or a fixed
// error when set.
type stubEmbedder struct {
	err   error
	calls int
}

func (s *stubEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1.0}
	}
	return out, nil
}

func newIngestFixture() (*MockDocumentStore, *stubEmbedder, *MockVectorStore, *IngestService) {
	docs := new(MockDocumentStore)
	embedder := &stubEmbedder{}
	store := new(MockVectorStore)
	svc := NewIngestService(docs, embedder, store, nil, "support_kb", 2)
	return docs, embedder, store, svc
}

func mustParseTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return parsed
}

func TestIngestService_Ingest_Success(t *testing.T) {
	docs, embedder, store, svc := newIngestFixture()

	docs.On("GetByID", mock.Anything, "doc-1").Return(nil, domain.ErrDocumentNotFound)
	docs.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	docs.On("UpdateState", mock.Anything, "doc-1", mock.Anything, mock.Anything, "").Return(nil)
	docs.On("SetChunkCount", mock.Anything, "doc-1", mock.Anything).Return(nil)

	store.On("DeleteDocument", mock.Anything, "support_kb", "doc-1").Return(nil)
	store.On("Upsert", mock.Anything, "support_kb", mock.MatchedBy(func(items []vectorstore.Item) bool {
		if len(items) == 0 {
			return false
		}
		first := items[0]
		return first.ID == "doc-1:0" &&
			first.Metadata.DocumentID == "doc-1" &&
			first.Metadata.ChunkIndex == 0 &&
			first.Metadata.Title == "Password Guide"
	})).Return(nil)

	doc, err := svc.Ingest(context.Background(), IngestRequest{
		ID:       "doc-1",
		Title:    "Password Guide",
		Content:  strings.Repeat("Reset your password via account settings. ", 30),
		Category: "account",
		Strategy: domain.ChunkingStrategyFixedSize,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.IngestStateReady, doc.State)
	assert.Equal(t, domain.IngestStateReady, doc.LastGoodState)
	assert.Greater(t, doc.ChunkCount, 0)

	docs.AssertCalled(t, "UpdateState", mock.Anything, "doc-1",
		domain.IngestStateReady, domain.IngestStateReady, "")
	assert.Equal(t, 1, embedder.calls)
	store.AssertExpectations(t)
}

func TestIngestService_Ingest_EmptyContent(t *testing.T) {
	_, _, _, svc := newIngestFixture()

	_, err := svc.Ingest(context.Background(), IngestRequest{ID: "doc-1", Content: "   "})
	assert.ErrorIs(t, err, domain.ErrEmptyDocumentContent)
}

func TestIngestService_Ingest_UnknownStrategy(t *testing.T) {
	_, _, _, svc := newIngestFixture()

	_, err := svc.Ingest(context.Background(), IngestRequest{
		ID:       "doc-1",
		Content:  "some content",
		Strategy: domain.ChunkingStrategy("recursive"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidChunkingStrategy)
}

func TestIngestService_Ingest_GeneratesIDAndDefaults(t *testing.T) {
	docs, _, store, svc := newIngestFixture()

	docs.On("GetByID", mock.Anything, mock.Anything).Return(nil, domain.ErrDocumentNotFound)
	docs.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	docs.On("UpdateState", mock.Anything, mock.Anything, mock.Anything, mock.Anything, "").Return(nil)
	docs.On("SetChunkCount", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	store.On("DeleteDocument", mock.Anything, "support_kb", mock.Anything).Return(nil)
	store.On("Upsert", mock.Anything, "support_kb", mock.Anything).Return(nil)

	doc, err := svc.Ingest(context.Background(), IngestRequest{Content: "short document"})
	require.NoError(t, err)

	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, "Untitled", doc.Title)
	assert.Equal(t, domain.ChunkingStrategyFixedSize, doc.Strategy)
}

func TestIngestService_Ingest_EmbeddingFailureMarksFailed(t *testing.T) {
	docs, embedder, store, svc := newIngestFixture()

	cause := domain.NewPermanentError("retries exhausted", nil)

	docs.On("GetByID", mock.Anything, "doc-1").Return(nil, domain.ErrDocumentNotFound)
	docs.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	docs.On("UpdateState", mock.Anything, "doc-1", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	embedder.err = cause

	doc, err := svc.Ingest(context.Background(), IngestRequest{ID: "doc-1", Content: "some content"})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, domain.IngestStateFailed, doc.State)
	// Chunking completed, so a resume can restart from there.
	assert.Equal(t, domain.IngestStateChunked, doc.LastGoodState)
	store.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything)

	// Nothing was indexed, so the persisted chunk count must not move.
	assert.Equal(t, 0, doc.ChunkCount)
	docs.AssertNotCalled(t, "SetChunkCount", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestService_Ingest_ChunkCountFollowsIndex(t *testing.T) {
	docs, _, store, svc := newIngestFixture()

	docs.On("GetByID", mock.Anything, "doc-1").Return(nil, domain.ErrDocumentNotFound).Once()
	docs.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	docs.On("UpdateState", mock.Anything, "doc-1", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	docs.On("SetChunkCount", mock.Anything, "doc-1", 1).Return(nil)
	store.On("DeleteDocument", mock.Anything, "support_kb", "doc-1").Return(nil)

	indexFailure := domain.NewDomainError(domain.ErrCodeStoreUnavailable, "connection refused")
	store.On("Upsert", mock.Anything, "support_kb", mock.Anything).Return(indexFailure).Once()

	doc, err := svc.Ingest(context.Background(), IngestRequest{ID: "doc-1", Content: "some content"})
	require.Error(t, err)
	assert.Equal(t, domain.IngestStateFailed, doc.State)
	assert.Equal(t, 0, doc.ChunkCount)
	docs.AssertNotCalled(t, "SetChunkCount", mock.Anything, mock.Anything, mock.Anything)

	// Once the chunks land in the store, the count follows.
	docs.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	store.On("Upsert", mock.Anything, "support_kb", mock.Anything).Return(nil)
	require.NoError(t, svc.Resume(context.Background(), "doc-1"))
	docs.AssertCalled(t, "SetChunkCount", mock.Anything, "doc-1", 1)
}

func TestIngestService_Ingest_ReplaceKeepsCreatedAt(t *testing.T) {
	docs, _, store, svc := newIngestFixture()

	existing := &domain.Document{ID: "doc-1", CreatedAt: mustParseTime(t, "2026-01-02T10:00:00Z")}
	docs.On("GetByID", mock.Anything, "doc-1").Return(existing, nil)
	docs.On("Upsert", mock.Anything, mock.MatchedBy(func(d *domain.Document) bool {
		return d.CreatedAt.Equal(existing.CreatedAt)
	})).Return(nil)
	docs.On("UpdateState", mock.Anything, "doc-1", mock.Anything, mock.Anything, "").Return(nil)
	docs.On("SetChunkCount", mock.Anything, "doc-1", mock.Anything).Return(nil)
	store.On("DeleteDocument", mock.Anything, "support_kb", "doc-1").Return(nil)
	store.On("Upsert", mock.Anything, "support_kb", mock.Anything).Return(nil)

	_, err := svc.Ingest(context.Background(), IngestRequest{ID: "doc-1", Content: "updated content"})
	require.NoError(t, err)

	// Old chunks are dropped before the new set lands.
	store.AssertCalled(t, "DeleteDocument", mock.Anything, "support_kb", "doc-1")
	docs.AssertExpectations(t)
}

func TestIngestService_Resume_SkipsNonFailed(t *testing.T) {
	docs, embedder, _, svc := newIngestFixture()

	docs.On("GetByID", mock.Anything, "doc-1").
		Return(&domain.Document{ID: "doc-1", State: domain.IngestStateReady}, nil)

	err := svc.Resume(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Zero(t, embedder.calls)
}

func TestIngestService_Resume_IndexedGoesStraightToReady(t *testing.T) {
	docs, embedder, _, svc := newIngestFixture()

	docs.On("GetByID", mock.Anything, "doc-1").Return(&domain.Document{
		ID:            "doc-1",
		Content:       "content",
		Strategy:      domain.ChunkingStrategyFixedSize,
		State:         domain.IngestStateFailed,
		LastGoodState: domain.IngestStateIndexed,
	}, nil)
	docs.On("UpdateState", mock.Anything, "doc-1",
		domain.IngestStateReady, domain.IngestStateReady, "").Return(nil)

	err := svc.Resume(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Zero(t, embedder.calls)
	docs.AssertExpectations(t)
}

func TestIngestService_Delete_ClearsIndexFirst(t *testing.T) {
	docs, _, store, svc := newIngestFixture()

	docs.On("GetByID", mock.Anything, "doc-1").Return(&domain.Document{ID: "doc-1"}, nil)
	store.On("DeleteDocument", mock.Anything, "support_kb", "doc-1").Return(nil)
	docs.On("Delete", mock.Anything, "doc-1").Return(nil)

	err := svc.Delete(context.Background(), "doc-1")
	require.NoError(t, err)
	store.AssertExpectations(t)
	docs.AssertExpectations(t)
}

func TestIngestService_Delete_NotFound(t *testing.T) {
	docs, _, store, svc := newIngestFixture()

	docs.On("GetByID", mock.Anything, "missing").Return(nil, domain.ErrDocumentNotFound)

	err := svc.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	store.AssertNotCalled(t, "DeleteDocument", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestService_DocumentLocksAreEvicted(t *testing.T) {
	docs, _, store, svc := newIngestFixture()

	docs.On("GetByID", mock.Anything, mock.Anything).Return(nil, domain.ErrDocumentNotFound)
	docs.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	docs.On("UpdateState", mock.Anything, mock.Anything, mock.Anything, mock.Anything, "").Return(nil)
	docs.On("SetChunkCount", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	store.On("DeleteDocument", mock.Anything, "support_kb", mock.Anything).Return(nil)
	store.On("Upsert", mock.Anything, "support_kb", mock.Anything).Return(nil)

	for _, id := range []string{"doc-1", "doc-2", "doc-3"} {
		_, err := svc.Ingest(context.Background(), IngestRequest{ID: id, Content: "some content"})
		require.NoError(t, err)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Empty(t, svc.locks)
}

func TestIngestService_ConcurrentSameID_Serialized(t *testing.T) {
	docs, _, store, svc := newIngestFixture()

	var inflight, maxInflight atomic.Int32
	docs.On("GetByID", mock.Anything, "doc-1").Return(nil, domain.ErrDocumentNotFound)
	docs.On("Upsert", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		n := inflight.Add(1)
		if n > maxInflight.Load() {
			maxInflight.Store(n)
		}
		time.Sleep(5 * time.Millisecond)
		inflight.Add(-1)
	}).Return(nil)
	docs.On("UpdateState", mock.Anything, "doc-1", mock.Anything, mock.Anything, "").Return(nil)
	docs.On("SetChunkCount", mock.Anything, "doc-1", mock.Anything).Return(nil)
	store.On("DeleteDocument", mock.Anything, "support_kb", "doc-1").Return(nil)
	store.On("Upsert", mock.Anything, "support_kb", mock.Anything).Return(nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Ingest(context.Background(), IngestRequest{ID: "doc-1", Content: "some content"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInflight.Load())

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Empty(t, svc.locks)
}
