package bench

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/mpsflow/internal/engine"
	"github.com/osvaldoandrade/mpsflow/pkg/app"
	_ "github.com/osvaldoandrade/mpsflow/pkg/auth/static" // Register static auth provider.
	"github.com/osvaldoandrade/mpsflow/pkg/config"
	"github.com/osvaldoandrade/mpsflow/pkg/domain"
)

const benchToken = "bench-token"

// instantEngine answers every solve immediately so the benchmark measures the
// HTTP, validation, reshaping and history path only.
type instantEngine struct{}

func (instantEngine) Load(ctx context.Context, path string) (*engine.Model, error) {
	return &engine.Model{Path: path, Kind: engine.KindLP}, nil
}

func (instantEngine) BatchSolve(ctx context.Context, models []*engine.Model, s engine.Settings) (*engine.Batch, error) {
	obj := 1.0
	primal := make([]float64, 64)
	results := make([]engine.Result, len(models))
	for i := range results {
		results[i] = &engine.LPResult{TerminationStatus: "Optimal", Objective: &obj, PrimalSolution: primal}
	}
	return &engine.Batch{Results: results}, nil
}

func newBenchApp(b *testing.B, history string) *app.Application {
	b.Helper()
	gin.SetMode(gin.ReleaseMode)

	mr, err := miniredis.Run()
	if err != nil {
		b.Fatalf("miniredis start: %v", err)
	}
	b.Cleanup(mr.Close)

	base := b.TempDir()
	if err := os.WriteFile(filepath.Join(base, "bench.mps"), []byte("NAME BENCH\nENDATA\n"), 0o644); err != nil {
		b.Fatalf("write model: %v", err)
	}

	cfg, err := config.LoadConfigOptional("")
	if err != nil {
		b.Fatalf("config: %v", err)
	}
	cfg.LogLevel = "error"
	cfg.RedisAddr = mr.Addr()
	cfg.Solver.BaseDir = base
	cfg.History.Backend = history
	// Benchmarks keep rate limiting disabled.
	cfg.RateLimit = config.RateLimitConfig{Backend: "memory"}
	cfg.Auth.Provider = "static"
	cfg.Auth.Config, _ = json.Marshal(map[string]any{"token": benchToken, "subject": "bench"})

	a, err := app.NewApplication(cfg, app.WithSolver(instantEngine{}))
	if err != nil {
		b.Fatalf("app init: %v", err)
	}
	app.SetupMappings(a)
	b.Cleanup(func() { _ = a.TracingShutdown(context.Background()) })
	return a
}

func doJSONRequest(b *testing.B, h http.Handler, method, path, bearerToken string, body []byte) (int, []byte) {
	b.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code, w.Body.Bytes()
}

func benchmarkSolve(b *testing.B, history string, batch int) {
	a := newBenchApp(b, history)
	body, _ := json.Marshal(domain.SolveRequest{FileName: "bench.mps", TimeLimit: 1, BatchSize: batch})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		status, resp := doJSONRequest(b, a.Engine, http.MethodPost, "/solve_mps", benchToken, body)
		if status != http.StatusOK {
			b.Fatalf("solve status %d body=%s", status, string(resp))
		}
	}
}

func BenchmarkHTTP_SolveNoHistory(b *testing.B)    { benchmarkSolve(b, "none", 1) }
func BenchmarkHTTP_SolveMemoryHistory(b *testing.B) { benchmarkSolve(b, "memory", 1) }
func BenchmarkHTTP_SolveRedisHistory(b *testing.B)  { benchmarkSolve(b, "redis", 1) }
func BenchmarkHTTP_SolveBatch16(b *testing.B)       { benchmarkSolve(b, "none", 16) }
