// Package interceptor connects a session's failure hooks to a notifier.
package interceptor

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nakkulla/notebook-slack-ntfy/pkg/failure"
	"github.com/nakkulla/notebook-slack-ntfy/pkg/notification"
	"github.com/nakkulla/notebook-slack-ntfy/pkg/session"
	"github.com/nakkulla/notebook-slack-ntfy/pkg/traceback"
)

// Variant selects how the interceptor attaches to the host.
type Variant int

const (
	// VariantExceptionHandler installs an exception handler. It notifies,
	// then displays the traceback and returns it to the host.
	VariantExceptionHandler Variant = iota
	// VariantPostRunObserver installs a post-run observer that notifies
	// when the cell failed and leaves the display to the host.
	VariantPostRunObserver
)

// ParseVariant parses a variant name as used in configuration files.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(s) {
	case "handler", "exception_handler", "":
		return VariantExceptionHandler, nil
	case "observer", "post_run":
		return VariantPostRunObserver, nil
	}
	return VariantExceptionHandler, fmt.Errorf("unknown interceptor variant %q (use handler or observer)", s)
}

func (v Variant) String() string {
	switch v {
	case VariantExceptionHandler:
		return "handler"
	case VariantPostRunObserver:
		return "observer"
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}

// DeliveryPolicy decides what happens when the notifier fails.
type DeliveryPolicy int

const (
	// PropagateDeliveryErrors returns the notifier error to the host.
	PropagateDeliveryErrors DeliveryPolicy = iota
	// LogDeliveryErrors logs the notifier error and carries on.
	LogDeliveryErrors
)

// ParseDeliveryPolicy parses a policy name as used in configuration files.
func ParseDeliveryPolicy(s string) (DeliveryPolicy, error) {
	switch strings.ToLower(s) {
	case "propagate", "":
		return PropagateDeliveryErrors, nil
	case "log":
		return LogDeliveryErrors, nil
	}
	return PropagateDeliveryErrors, fmt.Errorf("unknown delivery error policy %q (use propagate or log)", s)
}

func (p DeliveryPolicy) String() string {
	if p == LogDeliveryErrors {
		return "log"
	}
	return "propagate"
}

// Host is the part of a session the interceptor needs.
type Host interface {
	AddExceptionHandler(h session.ExceptionHandler) (remove func())
	AddPostRunObserver(o session.PostRunObserver) (remove func())
	Formatter() *traceback.Formatter
}

// options holds Register settings.
type options struct {
	variant  Variant
	policy   DeliveryPolicy
	notifier notification.Notifier
	logger   zerolog.Logger
}

// Option configures Register.
type Option func(*options)

// WithVariant selects the integration point.
func WithVariant(v Variant) Option { return func(o *options) { o.variant = v } }

// WithDeliveryPolicy selects what to do with notifier errors.
func WithDeliveryPolicy(p DeliveryPolicy) Option { return func(o *options) { o.policy = p } }

// WithNotifier replaces the Slack client, for example with a dry-run
// notification.LogNotifier.
func WithNotifier(n notification.Notifier) Option { return func(o *options) { o.notifier = n } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// SlackFormatter derives the formatter used for Slack messages from the
// host's formatter: verbose, without color.
func SlackFormatter(host Host) *traceback.Formatter {
	return host.Formatter().With(traceback.WithMode(traceback.ModeVerbose), traceback.WithColor(false))
}

// Register installs one failure hook on host that sends cfg-described
// notifications. Every call installs a new, independent hook. The returned
// function removes it.
func Register(host Host, cfg notification.Config, opts ...Option) (remove func()) {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.notifier == nil {
		o.notifier = notification.NewSlackClient(SlackFormatter(host), notification.WithLogger(o.logger))
	}

	icp := &interceptor{
		cfg:      cfg,
		notifier: o.notifier,
		policy:   o.policy,
		logger:   o.logger.With().Str("component", "interceptor").Logger(),
	}

	icp.logger.Debug().Str("variant", o.variant.String()).Bool("notebook_link", cfg.NotebookLink != "").Msg("registering failure interceptor")
	switch o.variant {
	case VariantPostRunObserver:
		return host.AddPostRunObserver(icp.afterRun)
	default:
		return host.AddExceptionHandler(icp.handleException)
	}
}

type interceptor struct {
	cfg      notification.Config
	notifier notification.Notifier
	policy   DeliveryPolicy
	logger   zerolog.Logger
}

// handleException adapts the exception handler arguments.
func (i *interceptor) handleException(ctx context.Context, s *session.Session, etype string, value error, tb []failure.Frame, offset int) ([]string, error) {
	f := &failure.CapturedFailure{Type: etype, Value: value, Traceback: skipFrames(tb, offset)}
	if err := i.notify(ctx, f); err != nil {
		return nil, err
	}

	stb := s.Formatter().Structured(f)
	s.ShowTraceback(stb)
	return stb, nil
}

// skipFrames drops the offset outermost frames.
func skipFrames(tb []failure.Frame, offset int) []failure.Frame {
	if offset <= 0 {
		return tb
	}
	if offset >= len(tb) {
		return nil
	}
	return tb[offset:]
}

// afterRun adapts the post-run observer arguments.
func (i *interceptor) afterRun(ctx context.Context, s *session.Session, result *session.ExecutionResult) error {
	if result.Success() {
		return nil
	}
	f := s.CurrentFailure()
	if f == nil {
		return nil
	}
	return i.notify(ctx, f)
}

func (i *interceptor) notify(ctx context.Context, f *failure.CapturedFailure) error {
	err := i.notifier.Notify(ctx, f, i.cfg)
	if err == nil {
		return nil
	}
	if i.policy == LogDeliveryErrors {
		i.logger.Warn().Err(err).Str("failure_type", f.Type).Msg("failure notification not delivered")
		return nil
	}
	return fmt.Errorf("notify slack: %w", err)
}
