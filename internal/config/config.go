package config

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// VectorBackend selects the similarity index: "chroma" or "pgvector".
	VectorBackend string `envconfig:"VECTOR_BACKEND" default:"chroma"`
	Collection    string `envconfig:"COLLECTION" default:"support_kb"`

	ChromaHost string `envconfig:"CHROMA_HOST" default:"localhost"`
	ChromaPort int    `envconfig:"CHROMA_PORT" default:"8000"`

	OpenAIAPIKey        string  `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL       string  `envconfig:"OPENAI_BASE_URL"`
	EmbeddingModel      string  `envconfig:"EMBEDDING_MODEL"`
	CompletionModel     string  `envconfig:"COMPLETION_MODEL"`
	EmbeddingDimensions int     `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`
	EmbeddingBatchSize  int     `envconfig:"EMBEDDING_BATCH_SIZE" default:"100"`
	EmbeddingRPS        float64 `envconfig:"EMBEDDING_RPS" default:"5"`

	IngestConcurrency  int    `envconfig:"INGEST_CONCURRENCY" default:"4"`
	WorkerPollInterval string `envconfig:"WORKER_POLL_INTERVAL" default:"30s"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"desknow-documents"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("DESKNOW", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}
