package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/osvaldoandrade/mpsflow/internal/runner"

	"github.com/google/uuid"
)

// SolveError reports a batch entry whose solver process did not produce a
// usable solution.
type SolveError struct {
	Index    int
	Status   runner.Status
	ExitCode int
	Message  string
}

func (e *SolveError) Error() string {
	return fmt.Sprintf("batch entry %d: %s (exit code %d): %s", e.Index, e.Status, e.ExitCode, e.Message)
}

// HiGHS solves each batch entry with its own HiGHS process. Entries run
// concurrently; solution files live in workDir until parsed.
type HiGHS struct {
	exe     string
	workDir string
	runner  *runner.Runner
	logger  *slog.Logger
}

func NewHiGHS(exe, workDir string, logger *slog.Logger) *HiGHS {
	if logger == nil {
		logger = slog.Default()
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &HiGHS{
		exe:     exe,
		workDir: workDir,
		runner:  runner.New(io.Discard, logger),
		logger:  logger,
	}
}

func (h *HiGHS) Load(ctx context.Context, path string) (*Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadModel(path)
}

func (h *HiGHS) BatchSolve(ctx context.Context, models []*Model, settings Settings) (*Batch, error) {
	if len(models) == 0 {
		return nil, ErrEmptyBatch
	}
	if err := os.MkdirAll(h.workDir, 0o755); err != nil {
		return nil, fmt.Errorf("work dir: %w", err)
	}

	batchID := uuid.NewString()
	results := make([]Result, len(models))
	errs := make([]error, len(models))

	start := time.Now()
	var wg sync.WaitGroup
	for i, m := range models {
		wg.Add(1)
		go func(i int, m *Model) {
			defer wg.Done()
			results[i], errs[i] = h.solveOne(ctx, batchID, i, m, settings)
		}(i, m)
	}
	wg.Wait()
	elapsed := time.Since(start)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	h.logger.Debug("batch solved", "batchId", batchID, "size", len(models), "elapsed", elapsed.String())
	return &Batch{Results: results, Elapsed: elapsed}, nil
}

func (h *HiGHS) solveOne(ctx context.Context, batchID string, i int, m *Model, settings Settings) (Result, error) {
	out := filepath.Join(h.workDir, fmt.Sprintf("%s-%d.sol", batchID, i))
	defer os.Remove(out)

	outcome, err := h.runner.Run(ctx, runner.Invocation{
		Engine: "HiGHS",
		Exe:    h.exe,
		Args:   h.args(m, out, settings),
		Input:  m.Path,
		Output: out,
		Done:   "solved",
	})
	if err != nil {
		return nil, err
	}
	if !outcome.Succeeded() {
		return nil, &SolveError{Index: i, Status: outcome.Status, ExitCode: outcome.ExitCode, Message: outcome.Message}
	}

	f, err := os.Open(out)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sol, err := ParseSolution(f)
	if err != nil {
		return nil, fmt.Errorf("batch entry %d: %w", i, err)
	}
	return toResult(m.Kind, sol, parseTranscript(outcome.Transcript)), nil
}

// args extends the plain HiGHS invocation with the time limit and, for
// continuous models, the solve method. The MIP solver picks its own method.
func (h *HiGHS) args(m *Model, out string, settings Settings) []string {
	args := runner.HiGHSArgs(m.Path, out)
	if settings.TimeLimit > 0 {
		args = append(args, "--time_limit", strconv.FormatFloat(settings.TimeLimit, 'g', -1, 64))
	}
	if m.Kind == KindLP && settings.Method != "" {
		args = append(args, "--solver", string(settings.Method))
	}
	return args
}
