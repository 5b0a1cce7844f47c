package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/osvaldoandrade/mpsflow/internal/runner"
	"github.com/osvaldoandrade/mpsflow/internal/solveclient"
	"github.com/osvaldoandrade/mpsflow/internal/workflow"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

func newUI(tty bool) *ui {
	mk := func(attrs ...color.Attribute) func(a ...any) string {
		c := color.New(attrs...)
		if !tty {
			c.DisableColor()
		}
		return c.SprintFunc()
	}
	return &ui{
		title: mk(color.FgHiCyan, color.Bold),
		ok:    mk(color.FgGreen, color.Bold),
		info:  mk(color.FgCyan),
		warn:  mk(color.FgYellow),
		err:   mk(color.FgRed, color.Bold),
		dim:   mk(color.FgHiBlack),
	}
}

// cliObserver prints stage progress. Spinner and progress bar are only used
// on a terminal.
type cliObserver struct {
	env  *cliEnv
	ui   *ui
	spin *spinner.Spinner
	bar  *progressbar.ProgressBar
}

func newObserver(env *cliEnv, ui *ui, stages int) *cliObserver {
	o := &cliObserver{env: env, ui: ui}
	if env.tty && stages > 1 {
		o.bar = progressbar.NewOptions(stages,
			progressbar.OptionSetWriter(env.errOut),
			progressbar.OptionSetDescription("presolve-and-solve"),
			progressbar.OptionSetWidth(18),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	return o
}

func (o *cliObserver) StageStarted(stage workflow.Stage, input string) {
	fmt.Fprintf(o.env.out, "%s %s %s\n", o.ui.info("[INFO]"), stageLabel(stage), o.ui.dim(input))
	if stage == workflow.StageSolveCuOpt && o.env.tty {
		o.spin = spinner.New(spinner.CharSets[14], 120*time.Millisecond, spinner.WithWriter(o.env.errOut))
		o.spin.Suffix = " Waiting for solve service..."
		o.spin.Start()
	}
}

func (o *cliObserver) StageFinished(res workflow.StageResult) {
	if o.spin != nil {
		o.spin.Stop()
		o.spin = nil
	}
	if o.bar != nil {
		_ = o.bar.Add(1)
	}
	switch {
	case res.Err != nil:
		o.printError(res.Err)
	case res.Outcome != nil:
		o.printOutcome(*res.Outcome)
	case res.Remote != nil:
		o.printRemote(res.Remote)
	}
}

func (o *cliObserver) printOutcome(out runner.Outcome) {
	tag := o.ui.ok("[OK]")
	switch out.Status {
	case runner.StatusNoOutput:
		tag = o.ui.warn("[WARN]")
	case runner.StatusFailed:
		tag = o.ui.err("[FAILED]")
	}
	fmt.Fprintf(o.env.out, "%s %s %s\n", tag, out.Message, o.ui.dim(fmt.Sprintf("(%s)", out.Duration.Round(time.Millisecond))))
}

func (o *cliObserver) printRemote(res *solveclient.Result) {
	fmt.Fprintf(o.env.out, "Status Code: %d\n", res.StatusCode)
	fmt.Fprintln(o.env.out, "Response JSON:")
	var buf bytes.Buffer
	if err := json.Indent(&buf, res.Raw, "", "  "); err != nil {
		fmt.Fprintln(o.env.out, string(res.Raw))
		return
	}
	fmt.Fprintln(o.env.out, buf.String())
}

func (o *cliObserver) printError(err error) {
	var (
		pe *runner.PreconditionError
		se *solveclient.StatusError
		de *solveclient.DecodeError
	)
	switch {
	case errors.As(err, &pe):
		fmt.Fprintf(o.env.out, "%s %v\n", o.ui.err("Error:"), err)
	case errors.As(err, &se):
		fmt.Fprintf(o.env.out, "Status Code: %d\n", se.Code)
		fmt.Fprintf(o.env.out, "%s %v\n", o.ui.err("[ERROR]"), err)
	case errors.As(err, &de):
		fmt.Fprintln(o.env.out, "Response was not valid JSON:")
		fmt.Fprintln(o.env.out, de.Body)
	default:
		fmt.Fprintf(o.env.out, "%s %v\n", o.ui.err("[ERROR]"), err)
	}
}

func stageLabel(stage workflow.Stage) string {
	switch stage {
	case workflow.StagePresolve:
		return "Presolving with SCIP:"
	case workflow.StageSolveSCIP:
		return "Solving with SCIP:"
	case workflow.StageSolveHiGHS:
		return "Solving with HiGHS:"
	case workflow.StageSolveCuOpt:
		return "Solving with cuOpt:"
	}
	return string(stage) + ":"
}
