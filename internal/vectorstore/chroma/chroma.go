// Package chroma implements the vector store contract over the Chroma HTTP
// API. Chroma reports cosine distance; scores are converted to cosine
// similarity so higher means more relevant.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/desknow-ai/desknow/internal/domain"
	"github.com/desknow-ai/desknow/internal/retry"
	"github.com/desknow-ai/desknow/internal/vectorstore"
)

const defaultTimeout = 15 * time.Second

// Config holds connection parameters for a Chroma server.
type Config struct {
	Host        string
	Port        int
	Timeout     time.Duration
	RetryPolicy retry.Policy
}

// Store is a REST client to Chroma implementing vectorstore.Store.
type Store struct {
	baseURL string
	client  *http.Client
	policy  retry.Policy

	mu          sync.Mutex
	collections map[string]string // name -> collection id
}

// New creates a Chroma store client. The connection is verified lazily; use
// Connect to acquire the collection eagerly on startup.
func New(cfg Config) *Store {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	policy := cfg.RetryPolicy
	if policy.MaxRetries == 0 && policy.InitialDelay == 0 {
		policy = retry.DefaultPolicy()
	}
	return &Store{
		baseURL:     fmt.Sprintf("http://%s:%d/api/v1", cfg.Host, cfg.Port),
		client:      &http.Client{Timeout: timeout},
		policy:      policy,
		collections: make(map[string]string),
	}
}

// Connect verifies the server is reachable and resolves the collection,
// retrying while the store is still coming up.
func (s *Store) Connect(ctx context.Context, collection string) error {
	return s.policy.Do(ctx, func(ctx context.Context) error {
		_, err := s.collectionID(ctx, collection)
		return asRetryable(err)
	})
}

// Upsert writes items, overwriting entries whose ID already exists.
// Re-ingestion is idempotent: it never duplicates chunks.
func (s *Store) Upsert(ctx context.Context, collection string, items []vectorstore.Item) error {
	if len(items) == 0 {
		return nil
	}

	ids := make([]string, len(items))
	embeddings := make([][]float32, len(items))
	documents := make([]string, len(items))
	metadatas := make([]map[string]any, len(items))
	for i, item := range items {
		ids[i] = item.ID
		embeddings[i] = item.Vector
		documents[i] = item.Content
		metadatas[i] = encodeMetadata(item.Metadata)
	}

	body := map[string]any{
		"ids":        ids,
		"embeddings": embeddings,
		"documents":  documents,
		"metadatas":  metadatas,
	}

	return s.policy.Do(ctx, func(ctx context.Context) error {
		id, err := s.collectionID(ctx, collection)
		if err != nil {
			return asRetryable(err)
		}
		return asRetryable(s.postJSON(ctx, fmt.Sprintf("/collections/%s/upsert", id), body, nil))
	})
}

// Query returns up to k matches ordered by descending similarity. An empty
// collection yields an empty result.
func (s *Store) Query(ctx context.Context, collection string, vector []float32, k int) ([]vectorstore.Match, error) {
	id, err := s.collectionID(ctx, collection)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"query_embeddings": [][]float32{vector},
		"n_results":        k,
		"include":          []string{"documents", "metadatas", "distances"},
	}

	var resp struct {
		IDs       [][]string         `json:"ids"`
		Distances [][]float32        `json:"distances"`
		Documents [][]string         `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
	}
	if err := s.postJSON(ctx, fmt.Sprintf("/collections/%s/query", id), body, &resp); err != nil {
		return nil, err
	}

	if len(resp.IDs) == 0 {
		return []vectorstore.Match{}, nil
	}

	matches := make([]vectorstore.Match, 0, len(resp.IDs[0]))
	for i, matchID := range resp.IDs[0] {
		m := vectorstore.Match{ID: matchID}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			// Cosine distance -> cosine similarity.
			m.Score = 1 - resp.Distances[0][i]
		}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) {
			m.Content = resp.Documents[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			m.Metadata = decodeMetadata(resp.Metadatas[0][i])
		}
		matches = append(matches, m)
	}

	return matches, nil
}

// DeleteDocument removes every chunk owned by a document.
func (s *Store) DeleteDocument(ctx context.Context, collection, documentID string) error {
	body := map[string]any{
		"where": map[string]any{"document_id": documentID},
	}

	return s.policy.Do(ctx, func(ctx context.Context) error {
		id, err := s.collectionID(ctx, collection)
		if err != nil {
			return asRetryable(err)
		}
		return asRetryable(s.postJSON(ctx, fmt.Sprintf("/collections/%s/delete", id), body, nil))
	})
}

// Count returns the number of vectors in the collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	id, err := s.collectionID(ctx, collection)
	if err != nil {
		return 0, err
	}

	var count int
	if err := s.getJSON(ctx, fmt.Sprintf("/collections/%s/count", id), &count); err != nil {
		return 0, err
	}
	return count, nil
}

// collectionID resolves (get-or-create) and caches the collection UUID.
func (s *Store) collectionID(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	if id, ok := s.collections[name]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	body := map[string]any{
		"name":          name,
		"get_or_create": true,
		"metadata":      map[string]any{"hnsw:space": "cosine"},
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := s.postJSON(ctx, "/collections", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", domain.NewPermanentError("chroma returned empty collection id", nil)
	}

	s.mu.Lock()
	s.collections[name] = resp.ID
	s.mu.Unlock()
	return resp.ID, nil
}

func (s *Store) postJSON(ctx context.Context, path string, body, out any) error {
	return s.doJSON(ctx, http.MethodPost, path, body, out)
}

func (s *Store) getJSON(ctx context.Context, path string, out any) error {
	return s.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (s *Store) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return domain.NewPermanentError("marshal chroma request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return domain.NewPermanentError("build chroma request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeStoreUnavailable, "chroma unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return domain.NewTransientError(fmt.Sprintf("chroma %s %s: %s", method, path, resp.Status), nil)
	}
	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.NewPermanentError(fmt.Sprintf("chroma %s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(payload))), nil)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return domain.NewPermanentError("decode chroma response", err)
		}
	}
	return nil
}

// asRetryable lets the backoff policy retry while the store is unreachable,
// not just on 5xx responses.
func asRetryable(err error) error {
	if err == nil {
		return nil
	}
	if domain.IsUnavailable(err) && !domain.IsTransient(err) {
		return domain.NewTransientError("store unreachable", err)
	}
	return err
}

func encodeMetadata(m vectorstore.Metadata) map[string]any {
	// Chroma metadata values must be scalars; tags are comma-joined.
	return map[string]any{
		"document_id": m.DocumentID,
		"chunk_index": m.ChunkIndex,
		"title":       m.Title,
		"category":    m.Category,
		"tags":        strings.Join(m.Tags, ","),
	}
}

func decodeMetadata(raw map[string]any) vectorstore.Metadata {
	m := vectorstore.Metadata{}
	if v, ok := raw["document_id"].(string); ok {
		m.DocumentID = v
	}
	if v, ok := raw["chunk_index"].(float64); ok {
		m.ChunkIndex = int(v)
	}
	if v, ok := raw["title"].(string); ok {
		m.Title = v
	}
	if v, ok := raw["category"].(string); ok {
		m.Category = v
	}
	if v, ok := raw["tags"].(string); ok && v != "" {
		m.Tags = strings.Split(v, ",")
	}
	return m
}
