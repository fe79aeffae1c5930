package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/nakkulla/notebook-slack-ntfy/pkg/config"
	"github.com/nakkulla/notebook-slack-ntfy/pkg/interceptor"
	"github.com/nakkulla/notebook-slack-ntfy/pkg/notebook"
	"github.com/nakkulla/notebook-slack-ntfy/pkg/notification"
	"github.com/nakkulla/notebook-slack-ntfy/pkg/process"
	"github.com/nakkulla/notebook-slack-ntfy/pkg/session"
	"github.com/nakkulla/notebook-slack-ntfy/pkg/traceback"
)

// Dependencies holds all the dependencies for the application
type Dependencies struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Session *session.Session
	Runner  *process.Runner

	removeHook func()
}

// NewDependencies creates all dependencies with the given configuration.
// Cell output and tracebacks go to display.
func NewDependencies(cfg *config.Config, display io.Writer, logger zerolog.Logger) (*Dependencies, error) {
	mode, err := traceback.ParseMode(cfg.TracebackMode)
	if err != nil {
		return nil, err
	}
	variant, err := interceptor.ParseVariant(cfg.Variant)
	if err != nil {
		return nil, err
	}
	policy, err := interceptor.ParseDeliveryPolicy(cfg.OnDeliveryError)
	if err != nil {
		return nil, err
	}

	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	deps.Session = session.New(
		session.WithDisplay(display),
		session.WithFormatter(traceback.New(traceback.WithMode(mode), traceback.WithColor(cfg.Color))),
		session.WithLogger(logger),
	)

	var launcher process.Launcher = process.NewPTYLauncher()
	if !cfg.PTY {
		launcher = process.PipeLauncher{}
	}
	deps.Runner = process.NewRunner(process.Config{
		Shell:     cfg.Shell,
		TailLines: cfg.TailLines,
		Launcher:  launcher,
		Logger:    logger,
	})

	if cfg.Quiet {
		logger.Debug().Msg("quiet mode, no failure notifications")
		return deps, nil
	}

	opts := []interceptor.Option{
		interceptor.WithVariant(variant),
		interceptor.WithDeliveryPolicy(policy),
		interceptor.WithLogger(logger),
	}
	if cfg.DryRun {
		opts = append(opts, interceptor.WithNotifier(
			notification.NewLogNotifier(interceptor.SlackFormatter(deps.Session), logger),
		))
	}
	deps.removeHook = interceptor.Register(deps.Session, notification.Config{
		WebhookURL:   cfg.WebhookURL,
		Title:        cfg.Title,
		NotebookLink: cfg.NotebookLink,
	}, opts...)

	return deps, nil
}

// Close cleans up all dependencies
func (d *Dependencies) Close() {
	if d.removeHook != nil {
		d.removeHook()
		d.removeHook = nil
	}
}

// Application represents the main application
type Application struct {
	deps     *Dependencies
	exitCode int
}

// NewApplication creates a new application with the given dependencies
func NewApplication(deps *Dependencies) *Application {
	return &Application{
		deps: deps,
	}
}

// Run executes the notebook's cells in order. It stops at the first failed
// cell unless continue_on_error is set, and when ctx is canceled.
func (a *Application) Run(ctx context.Context, nb *notebook.Notebook) error {
	log := a.deps.Logger.With().Str("notebook", nb.Path).Logger()
	log.Info().Int("cells", len(nb.Cells)).Msg("running notebook")

	failed := 0
	for i, c := range nb.Cells {
		if ctx.Err() != nil {
			break
		}

		result := a.deps.Session.RunCell(ctx, a.shellCell(i+1, c))
		if result.HookErr != nil {
			log.Warn().Err(result.HookErr).Int("cell", i+1).Msg("failure hook error")
		}
		if result.Success() {
			continue
		}

		failed++
		log.Error().Int("cell", i+1).Str("type", result.Failure.Type).Msg("cell failed")
		if !a.deps.Config.ContinueOnError {
			break
		}
	}

	switch {
	case ctx.Err() != nil:
		a.exitCode = 130
		return ctx.Err()
	case failed > 0:
		a.exitCode = 1
		return fmt.Errorf("%d of %d cells failed", failed, len(nb.Cells))
	}
	a.exitCode = 0
	return nil
}

// shellCell adapts a notebook cell to a session cell run by the shell.
func (a *Application) shellCell(index int, c notebook.Cell) session.Cell {
	cmd := process.Command{
		Label:  fmt.Sprintf("<cell %d>", index),
		Name:   c.Title,
		Source: c.Source,
	}
	return session.Cell{
		Name:   c.Title,
		Source: c.Source,
		Run: func(ctx context.Context, out io.Writer) error {
			return a.deps.Runner.Run(ctx, cmd, out)
		},
	}
}

// ExitCode returns the process exit code for the last Run
func (a *Application) ExitCode() int {
	return a.exitCode
}
