package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/desknow-ai/desknow/internal/api/handlers"
	"github.com/desknow-ai/desknow/internal/config"
	"github.com/desknow-ai/desknow/internal/database"
	"github.com/desknow-ai/desknow/internal/jobs"
	"github.com/desknow-ai/desknow/internal/openai"
	"github.com/desknow-ai/desknow/internal/repository"
	"github.com/desknow-ai/desknow/internal/server"
	"github.com/desknow-ai/desknow/internal/service"
	"github.com/desknow-ai/desknow/internal/storage"
	"github.com/desknow-ai/desknow/internal/telemetry"
	"github.com/desknow-ai/desknow/internal/vectorstore"
	"github.com/desknow-ai/desknow/internal/vectorstore/chroma"
	"github.com/desknow-ai/desknow/internal/vectorstore/pgvector"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the desknow API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	docRepo := repository.NewDocumentRepository(pool)
	queryLogRepo := repository.NewQueryLogRepository(pool)

	store, err := buildVectorStore(ctx, cfg, pool)
	if err != nil {
		return err
	}

	if !cfg.HasOpenAI() {
		return fmt.Errorf("DESKNOW_OPENAI_API_KEY is required")
	}
	aiClient := openai.NewClientWithConfig(openai.Config{
		APIKey:              cfg.OpenAIAPIKey,
		BaseURL:             cfg.OpenAIBaseURL,
		EmbeddingModel:      openai.ResolveEmbeddingModel(cfg.EmbeddingModel),
		CompletionModel:     cfg.CompletionModel,
		EmbeddingDimensions: cfg.EmbeddingDimensions,
		BatchSize:           cfg.EmbeddingBatchSize,
		RequestsPerSecond:   cfg.EmbeddingRPS,
	})

	var archiver service.Archiver
	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready, archiving raw documents", cfg.S3Bucket)
		archiver = s3Client
	}

	ingestSvc := service.NewIngestService(docRepo, aiClient, store, archiver, cfg.Collection, cfg.IngestConcurrency)
	retrievalSvc := service.NewRetrievalService(aiClient, store, cfg.Collection)
	answerSvc := service.NewAnswerService(aiClient)
	metrics := service.NewMetricsRecorder(queryLogRepo)
	ragSvc := service.NewRAGService(retrievalSvc, answerSvc, metrics)

	pollInterval, err := time.ParseDuration(cfg.WorkerPollInterval)
	if err != nil {
		return fmt.Errorf("invalid worker poll interval %q: %w", cfg.WorkerPollInterval, err)
	}
	ingestWorker := jobs.NewWorker("ingest", jobs.NewIngestWorker(docRepo, ingestSvc), pollInterval)
	go ingestWorker.Start(ctx)
	log.Println("ingest retry worker started")

	routerCfg := server.RouterConfig{
		RAGHandler:       handlers.NewRAGHandler(ragSvc, store, cfg.Collection),
		DocumentHandler:  handlers.NewDocumentHandler(ingestSvc, docRepo),
		AnalyticsHandler: handlers.NewAnalyticsHandler(queryLogRepo),
	}

	router := server.NewRouter(routerCfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	ingestWorker.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Let in-flight analytics writes land before exiting.
	metrics.Wait()

	log.Println("server exited")
	return nil
}

func buildVectorStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (vectorstore.Store, error) {
	switch cfg.VectorBackend {
	case "chroma":
		store := chroma.New(chroma.Config{
			Host: cfg.ChromaHost,
			Port: cfg.ChromaPort,
		})
		if err := store.Connect(ctx, cfg.Collection); err != nil {
			// Queries degrade to empty results until the store comes back.
			log.Printf("chroma not reachable at startup: %v", err)
		} else {
			log.Printf("connected to chroma at %s:%d", cfg.ChromaHost, cfg.ChromaPort)
		}
		return store, nil
	case "pgvector":
		log.Println("using pgvector similarity index")
		return pgvector.New(pool), nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q (expected chroma or pgvector)", cfg.VectorBackend)
	}
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	// Create postgres driver instance
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	// Create migrate instance with file source
	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	// Run migrations
	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Get migration version and status
	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
