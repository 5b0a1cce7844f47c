// Package workflow chains local and remote solver steps.
package workflow

import (
	"context"
	"os"

	"github.com/osvaldoandrade/mpsflow/internal/runner"
	"github.com/osvaldoandrade/mpsflow/internal/solveclient"
	"github.com/osvaldoandrade/mpsflow/pkg/config"
)

type Stage string

const (
	StagePresolve   Stage = "presolve"
	StageSolveSCIP  Stage = "solve-scip"
	StageSolveHiGHS Stage = "solve-highs"
	StageSolveCuOpt Stage = "solve-cuopt"
)

// SkipReasonPresolve is reported when presolve left no model to solve.
const SkipReasonPresolve = "presolve failed, solve skipped"

type SolverRunner interface {
	RunSCIP(ctx context.Context, exe, input, output string, solveType runner.SolveType) (runner.Outcome, error)
	RunHiGHS(ctx context.Context, exe, input, output string) (runner.Outcome, error)
}

type RemoteSolver interface {
	Solve(ctx context.Context, modelPath, serverURL string) (*solveclient.Result, error)
}

// Observer is notified around each stage; the CLI uses it for progress output.
type Observer interface {
	StageStarted(stage Stage, input string)
	StageFinished(result StageResult)
}

type StageResult struct {
	Stage   Stage
	Input   string
	Outcome *runner.Outcome
	Remote  *solveclient.Result
	Err     error
}

type Report struct {
	Stages     []StageResult
	SkipReason string
}

// Dispatcher runs one workflow per call against an explicit configuration.
type Dispatcher struct {
	cfg      config.Workflow
	runner   SolverRunner
	remote   RemoteSolver
	observer Observer
}

func NewDispatcher(cfg config.Workflow, r SolverRunner, remote RemoteSolver, obs Observer) *Dispatcher {
	return &Dispatcher{cfg: cfg, runner: r, remote: remote, observer: obs}
}

func (d *Dispatcher) SolveCuOpt(ctx context.Context, input string) (*Report, error) {
	rep := &Report{}
	err := d.remoteStage(ctx, rep, input)
	return rep, err
}

func (d *Dispatcher) SolveSCIP(ctx context.Context, input, output string) (*Report, error) {
	rep := &Report{}
	_, err := d.localStage(rep, StageSolveSCIP, input, func() (runner.Outcome, error) {
		return d.runner.RunSCIP(ctx, d.cfg.SCIPExe, input, output, runner.SolveTypeSolve)
	})
	return rep, err
}

func (d *Dispatcher) SolveHiGHS(ctx context.Context, input, output string) (*Report, error) {
	rep := &Report{}
	_, err := d.localStage(rep, StageSolveHiGHS, input, func() (runner.Outcome, error) {
		return d.runner.RunHiGHS(ctx, d.cfg.HiGHSExe, input, output)
	})
	return rep, err
}

// PresolveAndSolve presolves with SCIP and sends the presolved model, not
// the original input, to the remote service. The remote stage runs only if
// presolve succeeded and the presolved file exists.
func (d *Dispatcher) PresolveAndSolve(ctx context.Context, input, output string) (*Report, error) {
	rep := &Report{}
	outcome, err := d.localStage(rep, StagePresolve, input, func() (runner.Outcome, error) {
		return d.runner.RunSCIP(ctx, d.cfg.SCIPExe, input, output, runner.SolveTypePresolve)
	})
	if err != nil {
		return rep, err
	}
	if !outcome.Succeeded() || !fileExists(output) {
		rep.SkipReason = SkipReasonPresolve
		return rep, nil
	}
	err = d.remoteStage(ctx, rep, output)
	return rep, err
}

func (d *Dispatcher) localStage(rep *Report, stage Stage, input string, run func() (runner.Outcome, error)) (*runner.Outcome, error) {
	d.started(stage, input)
	out, err := run()
	res := StageResult{Stage: stage, Input: input, Err: err}
	if err == nil {
		res.Outcome = &out
	}
	rep.Stages = append(rep.Stages, res)
	d.finished(res)
	return res.Outcome, err
}

func (d *Dispatcher) remoteStage(ctx context.Context, rep *Report, input string) error {
	d.started(StageSolveCuOpt, input)
	out, err := d.remote.Solve(ctx, input, d.cfg.CuOptURL)
	res := StageResult{Stage: StageSolveCuOpt, Input: input, Remote: out, Err: err}
	rep.Stages = append(rep.Stages, res)
	d.finished(res)
	return err
}

func (d *Dispatcher) started(stage Stage, input string) {
	if d.observer != nil {
		d.observer.StageStarted(stage, input)
	}
}

func (d *Dispatcher) finished(res StageResult) {
	if d.observer != nil {
		d.observer.StageFinished(res)
	}
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}
