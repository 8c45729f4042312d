//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/desknow-ai/desknow/internal/api/handlers"
	"github.com/desknow-ai/desknow/internal/jobs"
	"github.com/desknow-ai/desknow/internal/repository"
	"github.com/desknow-ai/desknow/internal/server"
	"github.com/desknow-ai/desknow/internal/service"
	"github.com/desknow-ai/desknow/internal/storage"
	"github.com/desknow-ai/desknow/internal/testutil"
	"github.com/desknow-ai/desknow/internal/vectorstore/pgvector"
)

const (
	e2eCollection = "support_kb"
	e2eDimensions = 1536
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	S3Client     *storage.S3Client
	Worker       *jobs.Worker
	BinaryDir    string
	HTTPClient   *http.Client
}

// SetupE2EEnv creates a full E2E test environment: containers, an in-process
// server wired to the pgvector backend, and a deterministic stand-in for the
// embedding and completion APIs so tests need no external AI service.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)

	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          "desknow-documents-e2e",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	serverURL, worker, serverCloser := startServer(t, pool, s3Client, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		RustFSC:      s3C,
		Pool:         pool,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		S3Client:     s3Client,
		Worker:       worker,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
	if e.BinaryDir != "" {
		os.RemoveAll(e.BinaryDir)
	}
}

// BuildBinaries builds the desknow client binary for CLI tests
func (e *E2ETestEnv) BuildBinaries() {
	tmpDir, err := os.MkdirTemp("", "desknow-e2e-*")
	if err != nil {
		e.T.Fatalf("failed to create temp dir: %v", err)
	}
	e.BinaryDir = tmpDir

	cmd := exec.Command("go", "build", "-o", filepath.Join(tmpDir, "desknow"), "./cmd/desknow")
	cmd.Dir = "../.."
	if out, err := cmd.CombinedOutput(); err != nil {
		e.T.Fatalf("failed to build desknow: %v\n%s", err, out)
	}
}

// RunDesknow runs the desknow CLI command against the test server
func (e *E2ETestEnv) RunDesknow(workDir string, args ...string) (string, error) {
	return e.RunDesknowWithInput(workDir, "", args...)
}

// RunDesknowWithInput runs the desknow CLI command with stdin input
func (e *E2ETestEnv) RunDesknowWithInput(workDir string, input string, args ...string) (string, error) {
	cmd := exec.Command(filepath.Join(e.BinaryDir, "desknow"), args...)
	cmd.Dir = workDir
	if input != "" {
		cmd.Stdin = bytes.NewReader([]byte(input))
	}
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("DESKNOW_API_URL=%s", e.ServerURL),
	)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// APIResponse represents a standard API response
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path string) (*APIResponse, error) {
	return e.doRequest("GET", path, nil)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body interface{}) (*APIResponse, error) {
	return e.doRequest("POST", path, body)
}

// Delete performs a DELETE request
func (e *E2ETestEnv) Delete(path string) (*APIResponse, error) {
	return e.doRequest("DELETE", path, nil)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}) (*APIResponse, error) {
	url := e.ServerURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}

	return &apiResp, nil
}

// startServer starts the HTTP server with the full pipeline wired to the
// pgvector backend and a deterministic AI stand-in.
func startServer(t *testing.T, pool *pgxpool.Pool, s3Client *storage.S3Client, port int) (string, *jobs.Worker, func()) {
	docRepo := repository.NewDocumentRepository(pool)
	queryLogRepo := repository.NewQueryLogRepository(pool)
	store := pgvector.New(pool)

	ai := &bagOfWordsAI{}

	ingestSvc := service.NewIngestService(docRepo, ai, store, s3Client, e2eCollection, 2)
	retrievalSvc := service.NewRetrievalService(ai, store, e2eCollection)
	answerSvc := service.NewAnswerService(ai)
	metrics := service.NewMetricsRecorder(queryLogRepo)
	ragSvc := service.NewRAGService(retrievalSvc, answerSvc, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	worker := jobs.NewWorker("ingest", jobs.NewIngestWorker(docRepo, ingestSvc), 500*time.Millisecond)
	go worker.Start(ctx)

	cfg := server.RouterConfig{
		RAGHandler:       handlers.NewRAGHandler(ragSvc, store, e2eCollection),
		DocumentHandler:  handlers.NewDocumentHandler(ingestSvc, docRepo),
		AnalyticsHandler: handlers.NewAnalyticsHandler(queryLogRepo),
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: server.NewRouter(cfg),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, worker, func() {
		worker.Stop()
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
		metrics.Wait()
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// bagOfWordsAI is a deterministic stand-in for the embedding and completion
// APIs. Embeddings hash words into a fixed-size normalized bag-of-words
// vector, so texts sharing vocabulary score high on cosine similarity, and
// completions always cite the first context section.
type bagOfWordsAI struct{}

func (b *bagOfWordsAI) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return bagOfWords(text), nil
}

func (b *bagOfWordsAI) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = bagOfWords(text)
	}
	return vectors, nil
}

func (b *bagOfWordsAI) GenerateCompletion(ctx context.Context, system, user string, maxTokens int, timeout time.Duration) (string, error) {
	if strings.Contains(user, "(no relevant documents were found)") {
		return "I could not find anything relevant in the knowledge base.", nil
	}
	return "Based on the documentation, see the referenced section [1].", nil
}

func bagOfWords(text string) []float32 {
	v := make([]float32, e2eDimensions)
	words := strings.Fields(strings.ToLower(text))
	for _, w := range words {
		w = strings.Trim(w, ".,!?:;\"'()[]")
		if w == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%e2eDimensions]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range v {
			v[i] *= scale
		}
	}
	return v
}
