package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/osvaldoandrade/mpsflow/internal/runner"
	"github.com/osvaldoandrade/mpsflow/internal/solveclient"
	"github.com/osvaldoandrade/mpsflow/pkg/config"
	"github.com/osvaldoandrade/mpsflow/pkg/domain"
)

type runCall struct {
	method    string
	exe       string
	input     string
	output    string
	solveType runner.SolveType
}

type fakeRunner struct {
	calls       []runCall
	writeOutput bool
	// status, when set, is returned as is without touching the output file.
	status   runner.Status
	exitCode int
	err      error
}

func (f *fakeRunner) RunSCIP(ctx context.Context, exe, input, output string, solveType runner.SolveType) (runner.Outcome, error) {
	f.calls = append(f.calls, runCall{"scip", exe, input, output, solveType})
	return f.finish(output)
}

func (f *fakeRunner) RunHiGHS(ctx context.Context, exe, input, output string) (runner.Outcome, error) {
	f.calls = append(f.calls, runCall{method: "highs", exe: exe, input: input, output: output})
	return f.finish(output)
}

func (f *fakeRunner) finish(output string) (runner.Outcome, error) {
	if f.err != nil {
		return runner.Outcome{}, f.err
	}
	if f.status != "" {
		return runner.Outcome{Status: f.status, ExitCode: f.exitCode, Output: output}, nil
	}
	if f.writeOutput {
		if err := os.WriteFile(output, []byte("x"), 0o644); err != nil {
			return runner.Outcome{}, err
		}
		return runner.Outcome{Status: runner.StatusSucceeded, Output: output}, nil
	}
	return runner.Outcome{Status: runner.StatusNoOutput, Output: output}, nil
}

type remoteCall struct {
	modelPath string
	serverURL string
}

type fakeRemote struct {
	calls []remoteCall
	err   error
}

func (f *fakeRemote) Solve(ctx context.Context, modelPath, serverURL string) (*solveclient.Result, error) {
	f.calls = append(f.calls, remoteCall{modelPath, serverURL})
	if f.err != nil {
		return nil, f.err
	}
	return &solveclient.Result{StatusCode: 200, Response: domain.SolveResponse{Status: "Optimal"}}, nil
}

type recordingObserver struct {
	started  []Stage
	finished []Stage
}

func (o *recordingObserver) StageStarted(stage Stage, input string) { o.started = append(o.started, stage) }
func (o *recordingObserver) StageFinished(res StageResult)          { o.finished = append(o.finished, res.Stage) }

func testConfig() config.Workflow {
	return config.Workflow{
		SCIPExe:  "dummy/path/to/scip.exe",
		HiGHSExe: "dummy/path/to/highs.exe",
		CuOptURL: "http://dummy-url:8000/solve_mps",
	}
}

func TestSolveCuOpt(t *testing.T) {
	rem := &fakeRemote{}
	d := NewDispatcher(testConfig(), &fakeRunner{}, rem, nil)

	rep, err := d.SolveCuOpt(context.Background(), "my_model.mps")
	if err != nil {
		t.Fatalf("SolveCuOpt: %v", err)
	}
	if len(rem.calls) != 1 || rem.calls[0] != (remoteCall{"my_model.mps", "http://dummy-url:8000/solve_mps"}) {
		t.Fatalf("unexpected remote calls: %+v", rem.calls)
	}
	if len(rep.Stages) != 1 || rep.Stages[0].Remote == nil {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestSolveSCIP_PassesArgumentsThrough(t *testing.T) {
	run := &fakeRunner{}
	d := NewDispatcher(testConfig(), run, &fakeRemote{}, nil)

	if _, err := d.SolveSCIP(context.Background(), "my_model.mps", "my_solution.sol"); err != nil {
		t.Fatalf("SolveSCIP: %v", err)
	}
	want := runCall{"scip", "dummy/path/to/scip.exe", "my_model.mps", "my_solution.sol", runner.SolveTypeSolve}
	if len(run.calls) != 1 || run.calls[0] != want {
		t.Fatalf("calls = %+v, want %+v", run.calls, want)
	}
}

func TestSolveHiGHS_PassesArgumentsThrough(t *testing.T) {
	run := &fakeRunner{}
	d := NewDispatcher(testConfig(), run, &fakeRemote{}, nil)

	if _, err := d.SolveHiGHS(context.Background(), "my_model.mps", "my_solution.sol"); err != nil {
		t.Fatalf("SolveHiGHS: %v", err)
	}
	want := runCall{method: "highs", exe: "dummy/path/to/highs.exe", input: "my_model.mps", output: "my_solution.sol"}
	if len(run.calls) != 1 || run.calls[0] != want {
		t.Fatalf("calls = %+v, want %+v", run.calls, want)
	}
}

func TestPresolveAndSolve_ChainsPresolvedOutput(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "presolved.mps")
	run := &fakeRunner{writeOutput: true}
	rem := &fakeRemote{}
	obs := &recordingObserver{}
	d := NewDispatcher(testConfig(), run, rem, obs)

	rep, err := d.PresolveAndSolve(context.Background(), "my_model.mps", output)
	if err != nil {
		t.Fatalf("PresolveAndSolve: %v", err)
	}
	want := runCall{"scip", "dummy/path/to/scip.exe", "my_model.mps", output, runner.SolveTypePresolve}
	if len(run.calls) != 1 || run.calls[0] != want {
		t.Fatalf("presolve calls = %+v, want %+v", run.calls, want)
	}
	if len(rem.calls) != 1 || rem.calls[0].modelPath != output {
		t.Fatalf("remote should receive the presolved path, got %+v", rem.calls)
	}
	if rep.SkipReason != "" || len(rep.Stages) != 2 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if len(obs.started) != 2 || obs.started[0] != StagePresolve || obs.finished[1] != StageSolveCuOpt {
		t.Fatalf("unexpected observer sequence: %+v / %+v", obs.started, obs.finished)
	}
}

func TestPresolveAndSolve_SkipsRemoteWithoutArtifact(t *testing.T) {
	dir := t.TempDir()
	run := &fakeRunner{writeOutput: false}
	rem := &fakeRemote{}
	d := NewDispatcher(testConfig(), run, rem, nil)

	rep, err := d.PresolveAndSolve(context.Background(), "my_model.mps", filepath.Join(dir, "presolved.mps"))
	if err != nil {
		t.Fatalf("PresolveAndSolve: %v", err)
	}
	if len(rem.calls) != 0 {
		t.Fatalf("remote must not be called, got %+v", rem.calls)
	}
	if rep.SkipReason != SkipReasonPresolve {
		t.Fatalf("skip reason = %q", rep.SkipReason)
	}
}

func TestPresolveAndSolve_FailedPresolveStopsChainDespiteArtifact(t *testing.T) {
	cases := []struct {
		name     string
		status   runner.Status
		exitCode int
	}{
		{"non-zero exit", runner.StatusFailed, 3},
		{"no output this run", runner.StatusNoOutput, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			output := filepath.Join(t.TempDir(), "presolved.mps")
			if err := os.WriteFile(output, []byte("from an earlier run"), 0o644); err != nil {
				t.Fatalf("write artifact: %v", err)
			}
			run := &fakeRunner{status: tc.status, exitCode: tc.exitCode}
			rem := &fakeRemote{}
			d := NewDispatcher(testConfig(), run, rem, nil)

			rep, err := d.PresolveAndSolve(context.Background(), "in.mps", output)
			if err != nil {
				t.Fatalf("PresolveAndSolve: %v", err)
			}
			if len(rem.calls) != 0 {
				t.Fatalf("remote solve ran after %s presolve: %v", tc.status, rem.calls)
			}
			if rep.SkipReason != SkipReasonPresolve || len(rep.Stages) != 1 {
				t.Fatalf("unexpected report: %+v", rep)
			}
		})
	}
}

func TestPresolveAndSolve_PreconditionStopsChain(t *testing.T) {
	pre := &runner.PreconditionError{What: "input file", Path: "my_model.mps"}
	run := &fakeRunner{err: pre}
	rem := &fakeRemote{}
	d := NewDispatcher(testConfig(), run, rem, nil)

	_, err := d.PresolveAndSolve(context.Background(), "my_model.mps", "presolved.mps")
	if !errors.Is(err, pre) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	if len(rem.calls) != 0 {
		t.Fatal("remote must not be called after a failed precondition")
	}
}

func TestSolveCuOpt_PropagatesRemoteError(t *testing.T) {
	remErr := &solveclient.StatusError{Code: 500, Body: "boom"}
	d := NewDispatcher(testConfig(), &fakeRunner{}, &fakeRemote{err: remErr}, nil)

	rep, err := d.SolveCuOpt(context.Background(), "m.mps")
	var se *solveclient.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if len(rep.Stages) != 1 || rep.Stages[0].Err == nil {
		t.Fatalf("stage error not recorded: %+v", rep)
	}
}
