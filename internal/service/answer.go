package service

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/desknow-ai/desknow/internal/domain"
	"github.com/desknow-ai/desknow/internal/retry"
)

// systemPrompt instructs the model to answer strictly from the supplied
// context and to mark sources with bracketed numbers.
const systemPrompt = "You are a helpful customer support assistant. " +
	"Use ONLY the provided context to answer the customer's question. " +
	"If the context does not contain enough information to answer, say so honestly. " +
	"Cite your sources using [1], [2], [3] notation matching the numbered context sections. " +
	"Be concise and direct."

const (
	defaultMaxAnswerTokens   = 1024
	defaultCompletionTimeout = 60 * time.Second
)

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// CompletionClient produces a chat completion for one system/user prompt pair.
type CompletionClient interface {
	GenerateCompletion(ctx context.Context, system, user string, maxTokens int, timeout time.Duration) (string, error)
}

// Answer is a generated response together with the citations parsed out
// of it.
type Answer struct {
	Text      string
	Citations []domain.Citation
}

// AnswerService assembles a grounded prompt from retrieved chunks, calls
// the completion model, and extracts citation markers from the reply.
type AnswerService struct {
	client    CompletionClient
	policy    retry.Policy
	maxTokens int
	timeout   time.Duration
}

// NewAnswerService creates an AnswerService with the default generation
// retry policy of two attempts after the first failure.
func NewAnswerService(client CompletionClient) *AnswerService {
	return &AnswerService{
		client: client,
		policy: retry.Policy{
			MaxRetries:   2,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
		},
		maxTokens: defaultMaxAnswerTokens,
		timeout:   defaultCompletionTimeout,
	}
}

// Generate builds the prompt from the retrieved chunks and asks the model
// for an answer. Transient upstream failures are retried per the service
// policy. When no chunks are available the model is still called, with an
// explicit empty-context notice, so it can answer honestly.
func (s *AnswerService) Generate(ctx context.Context, query string, chunks []domain.RetrievalResult) (*Answer, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyQuery
	}

	user := buildUserPrompt(query, chunks)

	var text string
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		var callErr error
		text, callErr = s.client.GenerateCompletion(ctx, systemPrompt, user, s.maxTokens, s.timeout)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	return &Answer{
		Text:      text,
		Citations: extractCitations(text, chunks),
	}, nil
}

// buildUserPrompt numbers each chunk as a context section and appends the
// question. Sections keep retrieval order, so marker [i] always refers to
// the i-th retrieved chunk.
func buildUserPrompt(query string, chunks []domain.RetrievalResult) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	if len(chunks) == 0 {
		b.WriteString("(no relevant documents were found)\n")
	}
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, chunk.Title, chunk.Content)
	}
	fmt.Fprintf(&b, "\nQuestion: %s", query)
	return b.String()
}

// extractCitations parses bracketed markers out of the answer and maps them
// back to the chunks they cite, preserving first-appearance order and
// dropping duplicates. Markers outside the valid range are logged and
// skipped rather than failing the answer.
func extractCitations(text string, chunks []domain.RetrievalResult) []domain.Citation {
	citations := []domain.Citation{}
	seen := make(map[int]bool)

	for _, match := range citationPattern.FindAllStringSubmatch(text, -1) {
		marker, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if marker < 1 || marker > len(chunks) {
			log.Printf("answer cited [%d] but only %d context sections were provided", marker, len(chunks))
			continue
		}
		if seen[marker] {
			continue
		}
		seen[marker] = true
		citations = append(citations, domain.Citation{
			Marker:   marker,
			SourceID: chunks[marker-1].ChunkID,
		})
	}

	return citations
}
