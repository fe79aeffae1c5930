package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/rs/zerolog"

	"github.com/nakkulla/notebook-slack-ntfy/pkg/failure"
	"github.com/nakkulla/notebook-slack-ntfy/pkg/interfaces"
)

const maxErrorBody = 512

// DeliveryError is returned when the webhook answers with a non-2xx status.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("slack webhook returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("slack webhook returned status %d: %s", e.StatusCode, e.Body)
}

// SlackClient posts failure notifications to a Slack incoming webhook.
type SlackClient struct {
	renderer   interfaces.TracebackRenderer
	httpClient *http.Client
	logger     zerolog.Logger
}

// Ensure SlackClient implements Notifier
var _ Notifier = (*SlackClient)(nil)

// Option configures a SlackClient.
type Option func(*SlackClient)

// WithHTTPClient replaces the default pooled client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *SlackClient) { s.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *SlackClient) { s.logger = l.With().Str("component", "slack_notifier").Logger() }
}

// NewSlackClient creates a client rendering tracebacks with renderer, which
// should be a verbose, color-free formatter.
func NewSlackClient(renderer interfaces.TracebackRenderer, opts ...Option) *SlackClient {
	c := &SlackClient{
		renderer:   renderer,
		httpClient: cleanhttp.DefaultPooledClient(),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Render returns the traceback text embedded in the message.
func (c *SlackClient) Render(f *failure.CapturedFailure) string {
	return c.renderer.Text(c.renderer.Structured(f))
}

// Notify posts one message for f. It does not retry.
func (c *SlackClient) Notify(ctx context.Context, f *failure.CapturedFailure, cfg Config) error {
	msg := BuildMessage(c.Render(f), cfg)

	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.WebhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("failure_type", f.Type).Msg("slack delivery failed")
		return fmt.Errorf("failed to send slack notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		derr := &DeliveryError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
		c.logger.Error().Err(derr).Str("failure_type", f.Type).Msg("slack rejected notification")
		return derr
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Info().Str("failure_type", f.Type).Int("status", resp.StatusCode).Msg("failure notification sent to slack")
	return nil
}
