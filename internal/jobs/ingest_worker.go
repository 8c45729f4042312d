package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/desknow-ai/desknow/internal/domain"
)

const (
	// MaxRetries is the maximum number of pipeline retries per document
	MaxRetries = 3

	// failedBatchSize limits how many failed documents one pass picks up
	failedBatchSize = 20
)

// FailedDocumentRepository lists documents whose ingestion failed and
// records retry attempts against them
type FailedDocumentRepository interface {
	ListFailed(ctx context.Context, maxRetries int32, limit int) ([]*domain.Document, error)
	IncrementRetries(ctx context.Context, id string) error
	UpdateState(ctx context.Context, id string, state, lastGood domain.IngestState, errMsg string) error
}

// IngestResumer re-runs the ingestion pipeline for one document
type IngestResumer interface {
	Resume(ctx context.Context, id string) error
}

// IngestWorker retries failed document ingestions in the background
type IngestWorker struct {
	repo   FailedDocumentRepository
	ingest IngestResumer
}

// NewIngestWorker creates a new IngestWorker instance
func NewIngestWorker(repo FailedDocumentRepository, ingest IngestResumer) *IngestWorker {
	return &IngestWorker{
		repo:   repo,
		ingest: ingest,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *IngestWorker) ProcessJobs(ctx context.Context) error {
	docs, err := w.repo.ListFailed(ctx, MaxRetries, failedBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list failed documents: %w", err)
	}

	if len(docs) == 0 {
		return nil
	}

	log.Printf("Retrying %d failed document ingestions", len(docs))

	for _, doc := range docs {
		if err := w.processDocument(ctx, doc); err != nil {
			log.Printf("Error retrying document %s: %v", doc.ID, err)
		}
	}

	return nil
}

func (w *IngestWorker) processDocument(ctx context.Context, doc *domain.Document) error {
	if err := w.repo.IncrementRetries(ctx, doc.ID); err != nil {
		return fmt.Errorf("failed to increment retries: %w", err)
	}

	resumeErr := w.ingest.Resume(ctx, doc.ID)
	if resumeErr == nil {
		log.Printf("Document %s recovered after %d retries", doc.ID, doc.Retries+1)
		return nil
	}

	if doc.Retries+1 >= MaxRetries {
		log.Printf("Document %s exceeded max retries (%d), abandoning", doc.ID, MaxRetries)
		errMsg := fmt.Sprintf("max retries exceeded: %v", resumeErr)
		if err := w.repo.UpdateState(ctx, doc.ID, domain.IngestStateFailed, doc.LastGoodState, errMsg); err != nil {
			return fmt.Errorf("failed to record abandonment: %w", err)
		}
		return nil
	}

	log.Printf("Document %s retry %d/%d failed: %v", doc.ID, doc.Retries+1, MaxRetries, resumeErr)
	return resumeErr
}
