// Package runner drives local solver executables as child processes.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusNoOutput  Status = "no_output"
	StatusFailed    Status = "failed"
)

// PreconditionError is returned before any process is spawned.
type PreconditionError struct {
	What string
	Path string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s not found at '%s'", e.What, e.Path)
}

// Invocation describes one solver process. When Script is non-empty it is
// written to the process stdin, which is then closed.
type Invocation struct {
	Engine string
	Exe    string
	Args   []string
	Script string
	Input  string
	Output string
	// Done is the message reported when the run succeeds.
	Done string
}

// Outcome reports how a solver process ended. It is informational: a failed
// solver run is not a Go error.
type Outcome struct {
	Status     Status
	ExitCode   int
	Output     string
	Message    string
	Transcript string
	Duration   time.Duration
}

func (o Outcome) Succeeded() bool { return o.Status == StatusSucceeded }

type Runner struct {
	out    io.Writer
	logger *slog.Logger
}

// New returns a Runner that streams solver output to out (may be nil).
func New(out io.Writer, logger *slog.Logger) *Runner {
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{out: out, logger: logger}
}

// RunSCIP feeds SCIP the presolve or solve script for input and output.
func (r *Runner) RunSCIP(ctx context.Context, exe, input, output string, solveType SolveType) (Outcome, error) {
	script, err := SCIPScript(solveType, input, output)
	if err != nil {
		return Outcome{}, err
	}
	done := fmt.Sprintf("Solve complete. Solution saved to: '%s'", output)
	if solveType == SolveTypePresolve {
		done = fmt.Sprintf("Presolving complete. New model saved to: '%s'", output)
	}
	return r.Run(ctx, Invocation{
		Engine: "SCIP",
		Exe:    exe,
		Script: script,
		Input:  input,
		Output: output,
		Done:   done,
	})
}

// RunHiGHS solves input with HiGHS and writes the solution file to output.
func (r *Runner) RunHiGHS(ctx context.Context, exe, input, output string) (Outcome, error) {
	return r.Run(ctx, Invocation{
		Engine: "HiGHS",
		Exe:    exe,
		Args:   HiGHSArgs(input, output),
		Input:  input,
		Output: output,
		Done:   fmt.Sprintf("Solve complete. Solution saved to: '%s'", output),
	})
}

// Run checks preconditions, runs the process to completion and classifies
// the result. Only precondition violations are returned as errors.
func (r *Runner) Run(ctx context.Context, inv Invocation) (Outcome, error) {
	exe, err := resolveExecutable(inv.Exe)
	if err != nil {
		return Outcome{}, &PreconditionError{What: inv.Engine + " executable", Path: inv.Exe}
	}
	if _, err := os.Stat(inv.Input); err != nil {
		return Outcome{}, &PreconditionError{What: "input file", Path: inv.Input}
	}
	// an output left by an earlier run must not count as this run's artifact
	if err := clearOutput(inv.Input, inv.Output); err != nil {
		return Outcome{}, err
	}

	fmt.Fprintf(r.out, "-> Starting %s process for '%s'...\n", inv.Engine, inv.Input)
	log := r.logger.With("engine", inv.Engine, "input", inv.Input, "output", inv.Output)
	log.Debug("solver process starting", "exe", exe, "args", inv.Args)

	start := time.Now()
	code, transcript, runErr := r.exec(ctx, exe, inv)
	out := Outcome{
		ExitCode:   code,
		Output:     inv.Output,
		Transcript: transcript,
		Duration:   time.Since(start),
	}

	fmt.Fprintf(r.out, "\n-> %s process finished with return code: %d\n", inv.Engine, code)
	switch {
	case runErr != nil:
		out.Status = StatusFailed
		out.Message = fmt.Sprintf("An error occurred during the %s process: %v", inv.Engine, runErr)
	case code != 0:
		out.Status = StatusFailed
		out.Message = fmt.Sprintf("An error occurred during the %s process.", inv.Engine)
	case inv.Output != "" && fileExists(inv.Output):
		out.Status = StatusSucceeded
		out.Message = inv.Done
	default:
		out.Status = StatusNoOutput
		out.Message = fmt.Sprintf("%s ran successfully but did not create an output file. "+
			"This often means the problem was solved during presolve (e.g., found to be infeasible).", inv.Engine)
	}
	log.Info("solver process finished", "status", string(out.Status), "exitCode", code, "duration", out.Duration.String())
	return out, nil
}

// exec starts the process with combined stdout/stderr, writes the script,
// closes stdin, drains the output and waits. A non-nil error means the
// process could not be started or waited on for reasons other than its
// exit status.
func (r *Runner) exec(ctx context.Context, exe string, inv Invocation) (int, string, error) {
	cmd := exec.CommandContext(ctx, exe, inv.Args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, "", err
	}
	cmd.Stderr = cmd.Stdout

	var stdin io.WriteCloser
	if inv.Script != "" {
		if stdin, err = cmd.StdinPipe(); err != nil {
			return -1, "", err
		}
	}

	if err := cmd.Start(); err != nil {
		return -1, "", err
	}

	if stdin != nil {
		if _, err := io.WriteString(stdin, inv.Script); err != nil {
			r.logger.Warn("write solver script", "engine", inv.Engine, "err", err)
		}
		_ = stdin.Close()
	}

	var transcript bytes.Buffer
	if _, err := io.Copy(io.MultiWriter(r.out, &transcript), stdout); err != nil {
		r.logger.Warn("read solver output", "engine", inv.Engine, "err", err)
	}

	err = cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), transcript.String(), nil
	}
	if err != nil {
		return -1, transcript.String(), err
	}
	return 0, transcript.String(), nil
}

func resolveExecutable(exe string) (string, error) {
	if strings.TrimSpace(exe) == "" {
		return "", os.ErrNotExist
	}
	if fileExists(exe) {
		return exe, nil
	}
	if !strings.ContainsRune(exe, os.PathSeparator) {
		return exec.LookPath(exe)
	}
	return "", os.ErrNotExist
}

func clearOutput(input, output string) error {
	if output == "" || filepath.Clean(output) == filepath.Clean(input) {
		return nil
	}
	if err := os.Remove(output); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale output %s: %w", output, err)
	}
	return nil
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}
