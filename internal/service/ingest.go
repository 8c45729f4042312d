package service

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/desknow-ai/desknow/internal/chunking"
	"github.com/desknow-ai/desknow/internal/domain"
	"github.com/desknow-ai/desknow/internal/telemetry"
	"github.com/desknow-ai/desknow/internal/vectorstore"
)

// DefaultIngestConcurrency bounds how many documents may run the pipeline
// at the same time.
const DefaultIngestConcurrency = 4

// DocumentStore is the metadata persistence the ingestion pipeline needs.
type DocumentStore interface {
	Upsert(ctx context.Context, d *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	Delete(ctx context.Context, id string) error
	UpdateState(ctx context.Context, id string, state, lastGood domain.IngestState, errMsg string) error
	SetChunkCount(ctx context.Context, id string, count int) error
}

// Embedder turns chunk texts into vectors.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// Archiver keeps a copy of the raw document body outside the index. Archive
// failures are logged, never fatal.
type Archiver interface {
	Archive(ctx context.Context, doc *domain.Document) error
}

// IngestRequest describes one document to push through the pipeline.
type IngestRequest struct {
	ID       string
	Title    string
	Content  string
	Category string
	Tags     []string
	Strategy domain.ChunkingStrategy
}

// IngestService runs documents through the chunk, embed, index pipeline and
// tracks their state. A semaphore bounds pipeline concurrency and a
// per-document lock serializes conflicting operations on the same ID.
type IngestService struct {
	docs       DocumentStore
	embedder   Embedder
	store      vectorstore.Store
	archiver   Archiver
	collection string

	sem *semaphore.Weighted

	mu    sync.Mutex
	locks map[string]*docLock
}

// docLock serializes operations on one document ID. Entries are refcounted
// so the lock table shrinks back once nobody is waiting on an ID.
type docLock struct {
	mu   sync.Mutex
	refs int
}

// NewIngestService creates an IngestService. The archiver may be nil when
// raw-body archival is not configured. Concurrency values below one fall
// back to the default.
func NewIngestService(docs DocumentStore, embedder Embedder, store vectorstore.Store, archiver Archiver, collection string, concurrency int) *IngestService {
	if concurrency < 1 {
		concurrency = DefaultIngestConcurrency
	}
	return &IngestService{
		docs:       docs,
		embedder:   embedder,
		store:      store,
		archiver:   archiver,
		collection: collection,
		sem:        semaphore.NewWeighted(int64(concurrency)),
		locks:      make(map[string]*docLock),
	}
}

// lockDocument blocks until the caller holds the ID's lock and returns the
// release func.
func (s *IngestService) lockDocument(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &docLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// Ingest validates the request, records the document as pending, and runs
// the pipeline to completion. Re-ingesting an existing ID replaces its
// chunks atomically from the reader's perspective: old chunks are removed
// before the new set is indexed.
func (s *IngestService) Ingest(ctx context.Context, req IngestRequest) (*domain.Document, error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestService.Ingest", telemetry.SpanAttributes{
		DocumentID: req.ID,
		Collection: s.collection,
		Operation:  "ingest",
	})
	defer span.End()

	if strings.TrimSpace(req.Content) == "" {
		return nil, domain.ErrEmptyDocumentContent
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = domain.ChunkingStrategyFixedSize
	}
	if _, err := chunking.ForStrategy(strategy); err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	title := req.Title
	if title == "" {
		title = "Untitled"
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	unlock := s.lockDocument(id)
	defer unlock()

	now := time.Now().UTC()
	doc := domain.NewDocument(id, title, req.Content, req.Category, req.Tags, strategy, now)

	// A re-ingest of a known ID keeps its retry history out of the new run.
	if existing, err := s.docs.GetByID(ctx, id); err == nil && existing != nil {
		doc.CreatedAt = existing.CreatedAt
	}

	if err := s.docs.Upsert(ctx, doc); err != nil {
		return nil, err
	}

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, doc); err != nil {
			log.Printf("archive failed for document %s: %v", doc.ID, err)
		}
	}

	if err := s.run(ctx, doc); err != nil {
		return doc, err
	}
	return doc, nil
}

// Resume re-runs the pipeline for a previously failed document from its
// last completed stage. The caller holds responsibility for retry budgets.
func (s *IngestService) Resume(ctx context.Context, id string) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	unlock := s.lockDocument(id)
	defer unlock()

	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if doc.State != domain.IngestStateFailed {
		return nil
	}
	return s.run(ctx, doc)
}

// run drives the pipeline stages. Chunking and embedding are deterministic
// recomputations, so a resume only skips work when the index stage already
// completed. Any stage failure marks the document failed and keeps the last
// completed state for the next attempt.
func (s *IngestService) run(ctx context.Context, doc *domain.Document) error {
	if doc.LastGoodState == domain.IngestStateIndexed {
		doc.Advance(domain.IngestStateReady)
		return s.persistState(ctx, doc, "")
	}

	chunker, err := chunking.ForStrategy(doc.Strategy)
	if err != nil {
		return s.fail(ctx, doc, err)
	}
	texts := chunker.Chunk(doc.Content)
	if len(texts) == 0 {
		return s.fail(ctx, doc, domain.ErrEmptyDocumentContent)
	}
	doc.Advance(domain.IngestStateChunked)
	if err := s.persistState(ctx, doc, ""); err != nil {
		return err
	}

	vectors, err := s.embedder.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return s.fail(ctx, doc, err)
	}
	doc.Advance(domain.IngestStateEmbedded)
	if err := s.persistState(ctx, doc, ""); err != nil {
		return err
	}

	items := make([]vectorstore.Item, len(texts))
	for i, text := range texts {
		items[i] = vectorstore.Item{
			ID:      domain.ChunkID(doc.ID, i),
			Vector:  vectors[i],
			Content: text,
			Metadata: vectorstore.Metadata{
				DocumentID: doc.ID,
				ChunkIndex: i,
				Title:      doc.Title,
				Category:   doc.Category,
				Tags:       doc.Tags,
			},
		}
	}

	// Drop any chunks from a previous version first so a shrinking document
	// leaves no stale tail behind.
	if err := s.store.DeleteDocument(ctx, s.collection, doc.ID); err != nil {
		return s.fail(ctx, doc, err)
	}
	if err := s.store.Upsert(ctx, s.collection, items); err != nil {
		return s.fail(ctx, doc, err)
	}
	doc.Advance(domain.IngestStateIndexed)
	if err := s.persistState(ctx, doc, ""); err != nil {
		return err
	}

	// chunk_count tracks what is actually indexed, so it only moves once the
	// new chunk set is in the store.
	doc.ChunkCount = len(texts)
	if err := s.docs.SetChunkCount(ctx, doc.ID, len(texts)); err != nil {
		return err
	}

	doc.Advance(domain.IngestStateReady)
	return s.persistState(ctx, doc, "")
}

// Delete removes a document and all of its indexed chunks. The index is
// cleared first so a partial failure can never leave orphaned vectors
// behind a deleted record.
func (s *IngestService) Delete(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "IngestService.Delete", telemetry.SpanAttributes{
		DocumentID: id,
		Collection: s.collection,
		Operation:  "delete",
	})
	defer span.End()

	unlock := s.lockDocument(id)
	defer unlock()

	if _, err := s.docs.GetByID(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, s.collection, id); err != nil {
		return err
	}
	return s.docs.Delete(ctx, id)
}

func (s *IngestService) fail(ctx context.Context, doc *domain.Document, cause error) error {
	doc.Fail(cause)
	if err := s.persistState(ctx, doc, doc.Error); err != nil {
		log.Printf("failed to persist failure for document %s: %v", doc.ID, err)
	}
	return cause
}

func (s *IngestService) persistState(ctx context.Context, doc *domain.Document, errMsg string) error {
	return s.docs.UpdateState(ctx, doc.ID, doc.State, doc.LastGoodState, errMsg)
}
