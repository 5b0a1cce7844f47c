package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/osvaldoandrade/mpsflow/internal/runner"
	"github.com/osvaldoandrade/mpsflow/internal/solveclient"
	"github.com/osvaldoandrade/mpsflow/internal/workflow"
	"github.com/osvaldoandrade/mpsflow/pkg/config"
	"github.com/osvaldoandrade/mpsflow/pkg/domain"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// errReported marks errors already printed to the user.
var errReported = errors.New("reported")

// cliEnv holds the collaborators a command needs. Tests replace them.
type cliEnv struct {
	out       io.Writer
	errOut    io.Writer
	tty       bool
	loadCfg   func(path string) (config.Workflow, error)
	newRunner func(out io.Writer, logger *slog.Logger) workflow.SolverRunner
	newRemote func(opts ...solveclient.Option) workflow.RemoteSolver
	newHealth func(opts ...solveclient.Option) healthChecker
}

type healthChecker interface {
	Health(ctx context.Context, serverURL string) (*domain.HealthResponse, error)
}

func defaultEnv() *cliEnv {
	return &cliEnv{
		out:     os.Stdout,
		errOut:  os.Stderr,
		tty:     term.IsTerminal(int(os.Stdout.Fd())),
		loadCfg: config.LoadWorkflow,
		newRunner: func(out io.Writer, logger *slog.Logger) workflow.SolverRunner {
			return runner.New(out, logger)
		},
		newRemote: func(opts ...solveclient.Option) workflow.RemoteSolver {
			return solveclient.New(opts...)
		},
		newHealth: func(opts ...solveclient.Option) healthChecker {
			return solveclient.New(opts...)
		},
	}
}

func main() {
	env := defaultEnv()
	root := newRootCmd(env)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(env.errOut, newUI(env.tty).err("[ERROR]"), err.Error())
		}
		os.Exit(1)
	}
}

func newRootCmd(env *cliEnv) *cobra.Command {
	var (
		cfgPath   string
		verbose   bool
		timeLimit float64
		batchSize int
	)
	ui := newUI(env.tty)

	root := &cobra.Command{
		Use:   "mpsflow",
		Short: "Presolve and solve MPS models with SCIP, HiGHS and cuOpt",
		Long:  "mpsflow runs local SCIP/HiGHS executables and a remote cuOpt solve service on MPS models.",
	}
	root.SetHelpTemplate(helpTemplate(ui))
	root.SetOut(env.out)
	root.SetErr(env.errOut)
	root.SilenceUsage = true
	root.SilenceErrors = true

	root.PersistentFlags().StringVar(&cfgPath, "config", getenv("MPSFLOW_CONFIG", "config.yaml"), "Workflow config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")
	root.PersistentFlags().Float64Var(&timeLimit, "time-limit", solveclient.DefaultTimeLimit, "Remote solve time limit (seconds)")
	root.PersistentFlags().IntVar(&batchSize, "batch-size", solveclient.DefaultBatchSize, "Remote batch size")

	// setup loads the configuration and builds a dispatcher. Configuration
	// problems are printed once and stop the command before any step runs.
	setup := func(obs workflow.Observer) (*workflow.Dispatcher, error) {
		wf, err := env.loadCfg(cfgPath)
		if err != nil {
			fmt.Fprintf(env.out, "%s %v\n", ui.err("Configuration Error:"), err)
			return nil, errReported
		}
		if timeLimit <= 0 {
			return nil, errors.New("--time-limit must be positive")
		}
		if batchSize < 1 {
			return nil, errors.New("--batch-size must be >= 1")
		}
		logger := newLogger(env.errOut, verbose)
		remote := env.newRemote(solveclient.WithTimeLimit(timeLimit), solveclient.WithBatchSize(batchSize))
		return workflow.NewDispatcher(wf, env.newRunner(env.out, logger), remote, obs), nil
	}

	solveCuOpt := &cobra.Command{
		Use:     "solve-cuopt <input_file>",
		Short:   "Solve a model on the remote cuOpt service",
		Example: "mpsflow solve-cuopt models/afiro.mps --time-limit 60",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			obs := newObserver(env, ui, 1)
			d, err := setup(obs)
			if err != nil {
				return err
			}
			rep, err := d.SolveCuOpt(cmd.Context(), args[0])
			return finish(env, ui, rep, err)
		},
	}

	solveSCIP := &cobra.Command{
		Use:     "solve-scip <input_file> <output_file>",
		Short:   "Solve a model with the local SCIP executable",
		Example: "mpsflow solve-scip models/afiro.mps afiro.sol",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			obs := newObserver(env, ui, 1)
			d, err := setup(obs)
			if err != nil {
				return err
			}
			rep, err := d.SolveSCIP(cmd.Context(), args[0], args[1])
			return finish(env, ui, rep, err)
		},
	}

	solveHiGHS := &cobra.Command{
		Use:     "solve-highs <input_file> <output_file>",
		Short:   "Solve a model with the local HiGHS executable",
		Example: "mpsflow solve-highs models/afiro.mps afiro.sol",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			obs := newObserver(env, ui, 1)
			d, err := setup(obs)
			if err != nil {
				return err
			}
			rep, err := d.SolveHiGHS(cmd.Context(), args[0], args[1])
			return finish(env, ui, rep, err)
		},
	}

	presolveAndSolve := &cobra.Command{
		Use:     "presolve-and-solve <input_file> <output_file>",
		Short:   "Presolve with SCIP, then solve the presolved model on cuOpt",
		Example: "mpsflow presolve-and-solve models/afiro.mps presolved.mps",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			obs := newObserver(env, ui, 2)
			d, err := setup(obs)
			if err != nil {
				return err
			}
			rep, err := d.PresolveAndSolve(cmd.Context(), args[0], args[1])
			return finish(env, ui, rep, err)
		},
	}

	health := &cobra.Command{
		Use:   "health",
		Short: "Check the remote solve service liveness probe",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := env.loadCfg(cfgPath)
			if err != nil {
				fmt.Fprintf(env.out, "%s %v\n", ui.err("Configuration Error:"), err)
				return errReported
			}
			h, err := env.newHealth().Health(cmd.Context(), wf.CuOptURL)
			if err != nil {
				return err
			}
			fmt.Fprintf(env.out, "%s solve service is %s\n", ui.ok("[OK]"), h.Status)
			return nil
		},
	}

	root.AddCommand(solveCuOpt, solveSCIP, solveHiGHS, presolveAndSolve, health)
	return root
}

// finish prints the report footer and maps hard errors to the exit status.
// Solver outcomes (no output, non-zero exit) were already reported by the
// observer and do not fail the command; stage errors were printed there too.
func finish(env *cliEnv, ui *ui, rep *workflow.Report, err error) error {
	if rep != nil && rep.SkipReason != "" {
		fmt.Fprintf(env.out, "%s %s\n", ui.warn("[WARN]"), rep.SkipReason)
	}
	if err == nil {
		return nil
	}
	if rep != nil && len(rep.Stages) > 0 && rep.Stages[len(rep.Stages)-1].Err != nil {
		return errReported
	}
	return err
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})).With("service", "mpsflow")
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func helpTemplate(ui *ui) string {
	title := ui.title("mpsflow")
	return fmt.Sprintf(`%s: presolve and solve MPS models

Usage:
  {{.UseLine}}

Commands:
{{range .Commands}}{{if (or .IsAvailableCommand .IsAdditionalHelpTopicCommand)}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

Flags:
  {{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

Global Flags:
  {{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

Examples:
  mpsflow solve-cuopt models/afiro.mps
  mpsflow solve-scip models/afiro.mps afiro.sol
  mpsflow solve-highs models/afiro.mps afiro.sol
  mpsflow presolve-and-solve models/afiro.mps presolved.mps --config config.yaml

`, title)
}
