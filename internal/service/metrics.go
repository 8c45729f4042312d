package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/desknow-ai/desknow/internal/domain"
)

// QueryLogStore persists query analytics records.
type QueryLogStore interface {
	Create(ctx context.Context, rec *domain.QueryRecord) error
}

// MetricsRecorder writes query records off the request path. Persistence
// failures are logged and dropped so analytics can never fail a query.
type MetricsRecorder struct {
	store   QueryLogStore
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewMetricsRecorder creates a MetricsRecorder with a bounded write timeout.
func NewMetricsRecorder(store QueryLogStore) *MetricsRecorder {
	return &MetricsRecorder{
		store:   store,
		timeout: 5 * time.Second,
	}
}

// Record persists the record asynchronously. It returns immediately; the
// write runs on its own context so a finished request cannot cancel it.
func (m *MetricsRecorder) Record(rec *domain.QueryRecord) {
	if m == nil || m.store == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		if err := m.store.Create(ctx, rec); err != nil {
			log.Printf("dropping query metrics record %s: %v", rec.ID, err)
		}
	}()
}

// Wait blocks until all in-flight writes finish. Used on shutdown and in
// tests.
func (m *MetricsRecorder) Wait() {
	m.wg.Wait()
}
