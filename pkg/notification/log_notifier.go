package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/nakkulla/notebook-slack-ntfy/pkg/failure"
	"github.com/nakkulla/notebook-slack-ntfy/pkg/interfaces"
)

// LogNotifier builds the Slack payload and logs it instead of posting it.
// Useful for trying out a notebook without a webhook.
type LogNotifier struct {
	renderer interfaces.TracebackRenderer
	logger   zerolog.Logger
}

var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a new log notifier
func NewLogNotifier(renderer interfaces.TracebackRenderer, logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{
		renderer: renderer,
		logger:   logger.With().Str("component", "log_notifier").Logger(),
	}
}

// Notify implements the Notifier interface
func (n *LogNotifier) Notify(_ context.Context, f *failure.CapturedFailure, cfg Config) error {
	msg := BuildMessage(n.renderer.Text(n.renderer.Structured(f)), cfg)
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	n.logger.Info().
		Str("failure_type", f.Type).
		Str("webhook", redactWebhook(cfg.WebhookURL)).
		RawJSON("payload", payload).
		Msg(">>> DRY RUN: slack notification not sent")
	return nil
}

// redactWebhook keeps the scheme and host of a webhook URL; the path of a
// Slack webhook is the secret.
func redactWebhook(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<invalid>"
	}
	if u.Path == "" || u.Path == "/" {
		return u.Scheme + "://" + u.Host
	}
	return u.Scheme + "://" + u.Host + "/..."
}
