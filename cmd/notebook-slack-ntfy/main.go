package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/nakkulla/notebook-slack-ntfy/pkg/config"
	"github.com/nakkulla/notebook-slack-ntfy/pkg/logging"
	"github.com/nakkulla/notebook-slack-ntfy/pkg/notebook"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// flags are the command line settings that override the config file.
type flags struct {
	configPath string
	help       bool
	set        *flag.FlagSet
	values     config.Config
}

func newFlags(stderr io.Writer) *flags {
	f := &flags{set: flag.NewFlagSet("notebook-slack-ntfy", flag.ContinueOnError)}
	fs := f.set
	fs.SetOutput(stderr)
	fs.Usage = func() { printUsage(stderr) }

	fs.StringVar(&f.configPath, "config", "", "Path to config file")
	fs.StringVar(&f.values.WebhookURL, "webhook", "", "Slack incoming webhook URL")
	fs.StringVar(&f.values.Title, "title", "", "Message header")
	fs.StringVar(&f.values.NotebookLink, "link", "", "Notebook URL for the \"Go to notebook\" button")
	fs.StringVar(&f.values.Variant, "variant", "", "Hook variant: handler or observer")
	fs.StringVar(&f.values.OnDeliveryError, "on-delivery-error", "", "What to do when Slack delivery fails: propagate or log")
	fs.StringVar(&f.values.TracebackMode, "traceback-mode", "", "Displayed traceback: plain, context or verbose")
	fs.StringVar(&f.values.LogLevel, "log-level", "", "Log level")
	fs.BoolVar(&f.values.DryRun, "dry-run", false, "Log the Slack payload instead of posting it")
	fs.BoolVar(&f.values.Quiet, "quiet", false, "Disable all notifications")
	fs.BoolVar(&f.values.ContinueOnError, "continue-on-error", false, "Keep running cells after a failure")
	fs.BoolVar(&f.values.PTY, "pty", true, "Run cells in a pseudo-terminal")
	fs.BoolVarP(&f.help, "help", "h", false, "Show help message")
	return f
}

// apply copies the flags given on the command line over cfg.
func (f *flags) apply(cfg *config.Config) {
	strs := map[string]*string{
		"webhook":           &cfg.WebhookURL,
		"title":             &cfg.Title,
		"link":              &cfg.NotebookLink,
		"variant":           &cfg.Variant,
		"on-delivery-error": &cfg.OnDeliveryError,
		"traceback-mode":    &cfg.TracebackMode,
		"log-level":         &cfg.LogLevel,
	}
	for name, dst := range strs {
		if f.set.Changed(name) {
			v, _ := f.set.GetString(name)
			*dst = v
		}
	}

	bools := map[string]*bool{
		"dry-run":           &cfg.DryRun,
		"quiet":             &cfg.Quiet,
		"continue-on-error": &cfg.ContinueOnError,
		"pty":               &cfg.PTY,
	}
	for name, dst := range bools {
		if f.set.Changed(name) {
			v, _ := f.set.GetBool(name)
			*dst = v
		}
	}
}

// run is main without the process exit, returning the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	f := newFlags(stderr)
	if err := f.set.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if f.help {
		printUsage(stdout)
		return 0
	}
	if f.set.NArg() != 1 {
		fmt.Fprintln(stderr, "Error: exactly one notebook path is required")
		printUsage(stderr)
		return 2
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	f.apply(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: invalid configuration: %v\n", err)
		return 2
	}

	logger := logging.NewLogger(logging.Options{Level: cfg.LogLevel, Out: stderr})

	nb, err := notebook.Load(f.set.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Error loading notebook: %v\n", err)
		return 1
	}

	deps, err := NewDependencies(cfg, stdout, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating dependencies: %v\n", err)
		return 1
	}
	defer deps.Close()

	app := NewApplication(deps)
	if err := app.Run(ctx, nb); err != nil {
		logger.Error().Err(err).Msg("notebook run failed")
	}
	return app.ExitCode()
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "notebook-slack-ntfy - run a notebook and post cell failures to Slack")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: notebook-slack-ntfy [OPTIONS] NOTEBOOK")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "NOTEBOOK is a percent-format script: cells start at lines beginning with \"# %%\".")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fmt.Fprintln(w, "      --config string             Path to config file")
	fmt.Fprintln(w, "      --webhook string            Slack incoming webhook URL")
	fmt.Fprintln(w, "      --title string              Message header (default \"Notebook error\")")
	fmt.Fprintln(w, "      --link string               Notebook URL for the \"Go to notebook\" button")
	fmt.Fprintln(w, "      --variant string            handler (default) or observer")
	fmt.Fprintln(w, "      --on-delivery-error string  propagate (default) or log")
	fmt.Fprintln(w, "      --traceback-mode string     plain, context (default) or verbose")
	fmt.Fprintln(w, "      --log-level string          Log level (default \"info\")")
	fmt.Fprintln(w, "      --dry-run                   Log the Slack payload instead of posting it")
	fmt.Fprintln(w, "      --quiet                     Disable all notifications")
	fmt.Fprintln(w, "      --continue-on-error         Keep running cells after a failure")
	fmt.Fprintln(w, "      --pty                       Run cells in a pseudo-terminal (default true)")
	fmt.Fprintln(w, "  -h, --help                      Show help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment Variables:")
	fmt.Fprintln(w, "  NOTEBOOK_SLACK_WEBHOOK_URL        Slack incoming webhook URL")
	fmt.Fprintln(w, "  NOTEBOOK_SLACK_TITLE              Message header")
	fmt.Fprintln(w, "  NOTEBOOK_SLACK_NOTEBOOK_LINK      Notebook URL")
	fmt.Fprintln(w, "  NOTEBOOK_SLACK_VARIANT            handler or observer")
	fmt.Fprintln(w, "  NOTEBOOK_SLACK_ON_DELIVERY_ERROR  propagate or log")
	fmt.Fprintln(w, "  NOTEBOOK_SLACK_QUIET              Disable notifications (true/false)")
	fmt.Fprintln(w, "  NOTEBOOK_SLACK_DRY_RUN            Log instead of posting (true/false)")
	fmt.Fprintln(w, "  NOTEBOOK_SLACK_CONTINUE_ON_ERROR  Keep going after a failed cell (true/false)")
	fmt.Fprintln(w, "  NOTEBOOK_SLACK_SHELL              Shell used for cells (default /bin/sh)")
	fmt.Fprintln(w, "  NOTEBOOK_SLACK_PTY                Run cells in a PTY (default true)")
	fmt.Fprintln(w, "  NOTEBOOK_SLACK_TAIL_LINES         Output lines kept for tracebacks (default 20)")
	fmt.Fprintln(w, "  NOTEBOOK_SLACK_COLOR              Colored tracebacks (true/false)")
	fmt.Fprintln(w, "  NOTEBOOK_SLACK_TRACEBACK_MODE     plain, context or verbose")
	fmt.Fprintln(w, "  NOTEBOOK_SLACK_LOG_LEVEL          Log level")
	fmt.Fprintln(w, "  NOTEBOOK_SLACK_CONFIG             Path to config file")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration file: ~/.config/notebook-slack-ntfy/config.yaml")
}
