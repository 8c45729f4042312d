package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/desknow-ai/desknow/internal/domain"
	"github.com/desknow-ai/desknow/internal/retry"
)

// MockCompletionClient is a mock implementation of CompletionClient
type MockCompletionClient struct {
	mock.Mock
}

func (m *MockCompletionClient) GenerateCompletion(ctx context.Context, system, user string, maxTokens int, timeout time.Duration) (string, error) {
	args := m.Called(ctx, system, user, maxTokens, timeout)
	return args.String(0), args.Error(1)
}

func fastAnswerService(client CompletionClient) *AnswerService {
	svc := NewAnswerService(client)
	svc.policy = retry.Policy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	return svc
}

func testChunks() []domain.RetrievalResult {
	return []domain.RetrievalResult{
		{ChunkID: "doc-1:0", DocumentID: "doc-1", Title: "Password Guide", Content: "Reset via settings.", Score: 0.9},
		{ChunkID: "doc-2:3", DocumentID: "doc-2", Title: "Lockout FAQ", Content: "Contact support after five attempts.", Score: 0.8},
	}
}

func TestAnswerService_Generate_BuildsNumberedPrompt(t *testing.T) {
	client := new(MockCompletionClient)
	svc := fastAnswerService(client)

	var captured string
	client.On("GenerateCompletion", mock.Anything, systemPrompt, mock.Anything, defaultMaxAnswerTokens, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.String(2) }).
		Return("Reset it in settings [1].", nil)

	answer, err := svc.Generate(context.Background(), "how do I reset?", testChunks())
	require.NoError(t, err)
	assert.Equal(t, "Reset it in settings [1].", answer.Text)

	assert.True(t, strings.HasPrefix(captured, "Context:\n"))
	assert.Contains(t, captured, "[1] Password Guide\nReset via settings.")
	assert.Contains(t, captured, "[2] Lockout FAQ\nContact support after five attempts.")
	assert.True(t, strings.HasSuffix(captured, "Question: how do I reset?"))
	// Sections must appear in retrieval order.
	assert.Less(t, strings.Index(captured, "[1]"), strings.Index(captured, "[2]"))
}

func TestAnswerService_Generate_EmptyContext(t *testing.T) {
	client := new(MockCompletionClient)
	svc := fastAnswerService(client)

	var captured string
	client.On("GenerateCompletion", mock.Anything, systemPrompt, mock.Anything, defaultMaxAnswerTokens, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.String(2) }).
		Return("I don't have enough information to answer that.", nil)

	answer, err := svc.Generate(context.Background(), "what is the refund policy?", nil)
	require.NoError(t, err)
	assert.Contains(t, captured, "(no relevant documents were found)")
	assert.Empty(t, answer.Citations)
}

func TestAnswerService_Generate_EmptyQuery(t *testing.T) {
	svc := fastAnswerService(new(MockCompletionClient))
	_, err := svc.Generate(context.Background(), "  ", testChunks())
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)
}

func TestAnswerService_Generate_RetriesTransient(t *testing.T) {
	client := new(MockCompletionClient)
	svc := fastAnswerService(client)

	client.On("GenerateCompletion", mock.Anything, systemPrompt, mock.Anything, defaultMaxAnswerTokens, mock.Anything).
		Return("", domain.NewTransientError("rate limited", nil)).Once()
	client.On("GenerateCompletion", mock.Anything, systemPrompt, mock.Anything, defaultMaxAnswerTokens, mock.Anything).
		Return("Answer [1].", nil).Once()

	answer, err := svc.Generate(context.Background(), "q", testChunks())
	require.NoError(t, err)
	assert.Equal(t, "Answer [1].", answer.Text)
	client.AssertNumberOfCalls(t, "GenerateCompletion", 2)
}

func TestAnswerService_Generate_PermanentFailsImmediately(t *testing.T) {
	client := new(MockCompletionClient)
	svc := fastAnswerService(client)

	client.On("GenerateCompletion", mock.Anything, systemPrompt, mock.Anything, defaultMaxAnswerTokens, mock.Anything).
		Return("", domain.NewPermanentError("content rejected", nil))

	_, err := svc.Generate(context.Background(), "q", testChunks())
	require.Error(t, err)
	client.AssertNumberOfCalls(t, "GenerateCompletion", 1)
}

func TestExtractCitations(t *testing.T) {
	chunks := testChunks()

	tests := []struct {
		name string
		text string
		want []domain.Citation
	}{
		{
			name: "single citation",
			text: "Reset your password in settings [1].",
			want: []domain.Citation{{Marker: 1, SourceID: "doc-1:0"}},
		},
		{
			name: "first appearance order with duplicates",
			text: "See [2] and also [1], again [2].",
			want: []domain.Citation{
				{Marker: 2, SourceID: "doc-2:3"},
				{Marker: 1, SourceID: "doc-1:0"},
			},
		},
		{
			name: "out of range markers dropped",
			text: "According to [3] and [0], also [1].",
			want: []domain.Citation{{Marker: 1, SourceID: "doc-1:0"}},
		},
		{
			name: "no citations",
			text: "I don't have that information.",
			want: []domain.Citation{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractCitations(tt.text, chunks))
		})
	}
}
