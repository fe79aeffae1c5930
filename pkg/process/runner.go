// Package process runs shell cells and turns failed runs into tracebacks.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/nakkulla/notebook-slack-ntfy/pkg/failure"
	"github.com/nakkulla/notebook-slack-ntfy/pkg/monitor"
)

// CellEnv is set in the environment of every cell to the cell's label.
const CellEnv = "NOTEBOOK_SLACK_NTFY_CELL"

const defaultWaitDelay = 5 * time.Second

// Command is one shell cell.
type Command struct {
	// Label identifies the cell in tracebacks, e.g. "<cell 3>".
	Label  string
	Name   string
	Source string
}

// Config configures a Runner.
type Config struct {
	Shell     string
	ShellArgs []string
	Dir       string
	Env       []string
	TailLines int
	Launcher  Launcher
	Logger    zerolog.Logger
}

// Runner executes shell cells.
type Runner struct {
	shell     string
	shellArgs []string
	dir       string
	env       []string
	tailLines int
	launcher  Launcher
	logger    zerolog.Logger
}

// NewRunner creates a runner. Cells run as `Shell ShellArgs... SOURCE`;
// the defaults are /bin/sh -c, inside a PTY.
func NewRunner(cfg Config) *Runner {
	r := &Runner{
		shell:     cfg.Shell,
		shellArgs: cfg.ShellArgs,
		dir:       cfg.Dir,
		env:       cfg.Env,
		tailLines: cfg.TailLines,
		launcher:  cfg.Launcher,
		logger:    cfg.Logger.With().Str("component", "runner").Logger(),
	}
	if r.shell == "" {
		r.shell = "/bin/sh"
	}
	if len(r.shellArgs) == 0 {
		r.shellArgs = []string{"-c"}
	}
	if r.launcher == nil {
		r.launcher = NewPTYLauncher()
	}
	if r.tailLines <= 0 {
		r.tailLines = monitor.DefaultTailLines
	}
	return r
}

// Run executes c and writes its output to out. A non-zero exit is reported
// as *ExitError.
func (r *Runner) Run(ctx context.Context, c Command, out io.Writer) error {
	args := append(append([]string{}, r.shellArgs...), c.Source)
	// #nosec G204 - running the notebook's cells is the point of this tool
	cmd := exec.CommandContext(ctx, r.shell, args...)
	cmd.Dir = r.dir
	cmd.Env = r.environ(c)
	cmd.Cancel = func() error {
		// Send SIGTERM first for graceful shutdown; WaitDelay escalates.
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = defaultWaitDelay

	output := monitor.NewOutputMonitor(r.tailLines)
	start := time.Now()

	wait, err := r.launcher.Launch(cmd, out, output)
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", c.Label, err)
	}
	err = wait()
	output.Flush()
	duration := time.Since(start)

	if err == nil {
		r.logger.Debug().Str("cell", c.Label).Dur("duration", duration).Msg("shell cell finished")
		return nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("failed to run %s: %w", c.Label, err)
	}

	e := &ExitError{
		Command:  c,
		Shell:    r.shell,
		ExitCode: exitErr.ExitCode(),
		State:    exitErr.ProcessState.String(),
		Duration: duration,
		Output:   output.Tail(),
		Canceled: ctx.Err() != nil,
		Err:      exitErr,
	}
	r.logger.Debug().
		Str("cell", c.Label).
		Int("exit_code", e.ExitCode).
		Dur("duration", duration).
		Int("output_lines", output.TotalLines()).
		Dur("idle", time.Since(output.LastOutputTime())).
		Msg("shell cell failed")
	return e
}

// environ builds the cell environment, replacing any inherited CellEnv.
func (r *Runner) environ(c Command) []string {
	base := r.env
	if base == nil {
		base = os.Environ()
	}
	env := make([]string, 0, len(base)+1)
	for _, e := range base {
		// Skip if already set to avoid duplication
		if !strings.HasPrefix(e, CellEnv+"=") {
			env = append(env, e)
		}
	}
	return append(env, CellEnv+"="+c.Label)
}

// ExitError reports a shell cell that exited unsuccessfully.
type ExitError struct {
	Command  Command
	Shell    string
	ExitCode int
	// State is the process state as printed by os.ProcessState, e.g.
	// "exit status 2" or "signal: killed".
	State    string
	Duration time.Duration
	// Output holds the last lines the cell printed.
	Output   []string
	Canceled bool
	Err      error
}

func (e *ExitError) Error() string {
	if e.Canceled {
		return fmt.Sprintf("%s canceled: %s", e.Command.Label, e.State)
	}
	return fmt.Sprintf("%s failed: %s", e.Command.Label, e.State)
}

func (e *ExitError) Unwrap() error { return e.Err }

// FailureType implements failure.Typer.
func (e *ExitError) FailureType() string { return "ExitError" }

// Frames implements failure.Framer: one frame for the cell, with the run
// details as locals.
func (e *ExitError) Frames() []failure.Frame {
	fn := e.Command.Name
	if fn == "" {
		fn = "<module>"
	}
	locals := []failure.Local{
		{Name: "exit_code", Value: fmt.Sprint(e.ExitCode)},
		{Name: "shell", Value: e.Shell},
		{Name: "duration", Value: e.Duration.Round(time.Millisecond).String()},
	}
	if len(e.Output) > 0 {
		locals = append(locals, failure.Local{Name: "output", Value: strings.Join(e.Output, "\n")})
	}
	return []failure.Frame{{
		Function: fn,
		File:     e.Command.Label,
		Source:   e.Command.Source,
		Locals:   locals,
	}}
}
