package openai

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/desknow-ai/desknow/internal/domain"
	"github.com/desknow-ai/desknow/internal/retry"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	// DefaultEmbeddingModel is the OpenAI model used for generating embeddings
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// DefaultCompletionModel is the chat model used for answer generation
	DefaultCompletionModel = openai.GPT4oMini
	// DefaultEmbeddingDimensions is the expected dimension of embeddings
	DefaultEmbeddingDimensions = 1536
	// DefaultBatchSize bounds how many texts go into one embedding request
	DefaultBatchSize = 100
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when an embedding has wrong dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrNoAPIKey is returned when the OpenAI API key is not set
	ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set")
)

// ResolveEmbeddingModel maps a configured model name to the API type. Empty
// names fall back to the default model.
func ResolveEmbeddingModel(name string) openai.EmbeddingModel {
	if name == "" {
		return DefaultEmbeddingModel
	}
	return openai.EmbeddingModel(name)
}

// API defines the subset of the OpenAI API the client uses
type API interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	CreateChatCompletion(ctx context.Context, system, user string, maxTokens int) (string, error)
}

type openAIAdapter struct {
	client          *openai.Client
	embeddingModel  openai.EmbeddingModel
	completionModel string
}

// NewOpenAIAdapter wraps the go-openai SDK. An empty baseURL targets the
// public API.
func NewOpenAIAdapter(apiKey, baseURL string, embeddingModel openai.EmbeddingModel, completionModel string) API {
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}
	if completionModel == "" {
		completionModel = DefaultCompletionModel
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &openAIAdapter{
		client:          openai.NewClientWithConfig(cfg),
		embeddingModel:  embeddingModel,
		completionModel: completionModel,
	}
}

func (a *openAIAdapter) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: a.embeddingModel,
	})
	if err != nil {
		return nil, classifyAPIError("embedding request failed", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, domain.NewPermanentError("embedding count mismatch", nil)
	}

	// The API may return data out of order; Index restores input order.
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, domain.NewPermanentError("embedding index out of range", nil)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (a *openAIAdapter) CreateChatCompletion(ctx context.Context, system, user string, maxTokens int) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.completionModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.7,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", classifyAPIError("completion request failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.NewPermanentError("no completion choices returned", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyAPIError maps SDK errors onto the transient/permanent taxonomy.
// Timeouts and 5xx/429 responses are retryable; client errors are not.
func classifyAPIError(message string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode >= 500 || apiErr.HTTPStatusCode == 429 {
			return domain.NewTransientError(message, err)
		}
		return domain.NewPermanentError(message, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.NewTransientError(message, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewTransientError(message, err)
	}

	return domain.NewPermanentError(message, err)
}

// Config holds client configuration
type Config struct {
	APIKey              string
	BaseURL             string
	EmbeddingModel      openai.EmbeddingModel
	CompletionModel     string
	EmbeddingDimensions int
	BatchSize           int
	// RequestsPerSecond throttles embedding requests; zero disables the limiter.
	RequestsPerSecond float64
	RetryPolicy       retry.Policy
}

// Client wraps the OpenAI API with batching, throttling, and retries.
type Client struct {
	api        API
	dimensions int
	batchSize  int
	limiter    *rate.Limiter
	policy     retry.Policy
}

// NewClient creates a new OpenAI client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new OpenAI client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	policy := cfg.RetryPolicy
	if policy.MaxRetries == 0 && policy.InitialDelay == 0 {
		policy = retry.DefaultPolicy()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		api:        NewOpenAIAdapter(cfg.APIKey, cfg.BaseURL, cfg.EmbeddingModel, cfg.CompletionModel),
		dimensions: dimensions,
		batchSize:  batchSize,
		limiter:    limiter,
		policy:     policy,
	}
}

// NewClientFromEnv creates a new OpenAI client using OPENAI_API_KEY
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClient(apiKey), nil
}

// Dimensions returns the embedding dimension the client validates against.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// GenerateEmbedding generates an embedding for a single text.
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	vectors, err := c.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// GenerateEmbeddings generates embeddings for an ordered list of texts,
// batching requests to bound request count. The returned vectors preserve
// input order 1:1.
func (c *Client) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyText
	}
	for _, t := range texts {
		if t == "" {
			return nil, ErrEmptyText
		}
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		var batchVectors [][]float32
		err := c.policy.Do(ctx, func(ctx context.Context) error {
			var callErr error
			batchVectors, callErr = c.api.CreateEmbeddings(ctx, batch)
			return callErr
		})
		if err != nil {
			return nil, err
		}

		for _, v := range batchVectors {
			if len(v) != c.dimensions {
				return nil, ErrWrongDimensions
			}
		}
		vectors = append(vectors, batchVectors...)
	}

	return vectors, nil
}

// GenerateCompletion invokes the chat completion API once with a bounded
// timeout. Retry policy is owned by the caller so the answer path can apply
// its own backoff.
func (c *Client) GenerateCompletion(ctx context.Context, system, user string, maxTokens int, timeout time.Duration) (string, error) {
	if user == "" {
		return "", ErrEmptyText
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.api.CreateChatCompletion(callCtx, system, user, maxTokens)
}
