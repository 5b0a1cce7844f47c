package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/osvaldoandrade/mpsflow/internal/engine"
	_ "github.com/osvaldoandrade/mpsflow/pkg/auth/static"
	"github.com/osvaldoandrade/mpsflow/pkg/config"
	"github.com/osvaldoandrade/mpsflow/pkg/domain"

	"github.com/alicebob/miniredis/v2"
)

type countingEngine struct {
	loads int
}

func (e *countingEngine) Load(ctx context.Context, path string) (*engine.Model, error) {
	e.loads++
	return &engine.Model{Path: path, Kind: engine.KindLP}, nil
}

func (e *countingEngine) BatchSolve(ctx context.Context, models []*engine.Model, s engine.Settings) (*engine.Batch, error) {
	obj := -464.75
	iters := 120
	results := make([]engine.Result, len(models))
	for i := range results {
		results[i] = &engine.LPResult{
			TerminationStatus: "Optimal",
			Objective:         &obj,
			PrimalSolution:    []float64{80, 25.5},
			Iterations:        &iters,
		}
	}
	return &engine.Batch{Results: results}, nil
}

func newTestConfig(t *testing.T, redisAddr string) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfigOptional("")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	base := t.TempDir()
	if err := os.WriteFile(filepath.Join(base, "afiro.mps"), []byte("NAME AFIRO\nENDATA\n"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	cfg.LogLevel = "error"
	cfg.Env = "test"
	cfg.Solver.BaseDir = base
	cfg.Solver.MaxBatchSize = 8
	cfg.RedisAddr = redisAddr
	cfg.History.Backend = "redis"
	cfg.RateLimit.Backend = "redis"
	cfg.RateLimit.Solve = config.RateLimitBucketConfig{RequestsPerMinute: 1, BurstSize: 2}
	cfg.Artifacts.Backend = "local"
	cfg.Artifacts.LocalDir = t.TempDir()
	cfg.Auth.Provider = "static"
	cfg.Auth.Config = json.RawMessage(`{"token":"test-token","subject":"ci"}`)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config validate: %v", err)
	}
	return cfg
}

func call(t *testing.T, method, url, token, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func TestHTTPIntegrationFlow(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg := newTestConfig(t, mr.Addr())
	eng := &countingEngine{}
	app, err := NewApplication(cfg, WithSolver(eng))
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	SetupMappings(app)
	server := httptest.NewServer(app.Engine)
	t.Cleanup(server.Close)

	resp, body := call(t, http.MethodGet, server.URL+"/health", "", "")
	if resp.StatusCode != http.StatusOK || string(body) != `{"status":"healthy"}` {
		t.Fatalf("health: %d %s", resp.StatusCode, body)
	}

	resp, _ = call(t, http.MethodPost, server.URL+"/solve_mps", "", `{"file_name":"afiro.mps"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp, body = call(t, http.MethodPost, server.URL+"/solve_mps", "test-token", `{"file_name":"afiro.mps","batch_size":2}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("solve: %d %s", resp.StatusCode, body)
	}
	var solved domain.SolveResponse
	if err := json.Unmarshal(body, &solved); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if solved.Status != "Optimal" || solved.ObjectiveValue == nil || *solved.ObjectiveValue != -464.75 {
		t.Fatalf("unexpected response: %s", body)
	}
	if solved.Details["primal_solution"] != "[80 25.5]" || solved.Details["problem_category"] != "LP" {
		t.Fatalf("unexpected details: %v", solved.Details)
	}
	if eng.loads != 2 {
		t.Fatalf("loads = %d, want 2", eng.loads)
	}
	solveID := resp.Header.Get("X-Solve-Id")
	if solveID == "" || resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("missing id headers: %v", resp.Header)
	}

	resp, body = call(t, http.MethodGet, server.URL+"/v1/solves/"+solveID, "test-token", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get solve: %d %s", resp.StatusCode, body)
	}
	var rec domain.SolveRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.FileName != "afiro.mps" || rec.BatchSize != 2 || rec.RequestID == "" || !strings.HasPrefix(rec.ArtifactURL, "file://") {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if _, err := os.Stat(filepath.Join(cfg.Artifacts.LocalDir, "solves", solveID, "response.json")); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}

	resp, body = call(t, http.MethodPost, server.URL+"/solve_mps", "test-token", `{"file_name":"../../etc/passwd"}`)
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(string(body), "Invalid file path specified.") {
		t.Fatalf("traversal: %d %s", resp.StatusCode, body)
	}
	if eng.loads != 2 {
		t.Fatal("rejected path reached the engine")
	}

	// burst of 2 is spent by the two authorized solves above
	resp, _ = call(t, http.MethodPost, server.URL+"/solve_mps", "test-token", `{"file_name":"missing.mps"}`)
	if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}

	resp, body = call(t, http.MethodGet, server.URL+"/metrics", "", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "mpsflow_solve_requests_total") {
		t.Fatalf("metrics: %d", resp.StatusCode)
	}
}

func TestNewApplication_RedisUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	cfg := newTestConfig(t, mr.Addr())
	mr.Close()

	if _, err := NewApplication(cfg, WithSolver(&countingEngine{})); err == nil {
		t.Fatal("expected error when redis is unreachable")
	}
}

func TestNewApplication_MemoryBackends(t *testing.T) {
	cfg := newTestConfig(t, "127.0.0.1:1")
	cfg.History.Backend = "memory"
	cfg.RateLimit.Backend = "memory"
	cfg.Auth.Provider = ""

	app, err := NewApplication(cfg, WithSolver(&countingEngine{}))
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	if app.Redis != nil || app.Validator != nil {
		t.Fatal("memory backends must not open redis or enable auth")
	}
	SetupMappings(app)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/solve_mps", strings.NewReader(`{"file_name":"missing.mps"}`))
	req.Header.Set("Content-Type", "application/json")
	app.Engine.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "File not found inside the container at: ") {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
}
