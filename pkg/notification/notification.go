// Package notification delivers captured cell failures to Slack.
package notification

import (
	"context"

	"github.com/nakkulla/notebook-slack-ntfy/pkg/failure"
)

// Config describes where and how a failure notification is posted. It is
// built once and reused for every failure; nothing in it is validated until a
// notification is actually sent.
type Config struct {
	WebhookURL string
	Title      string
	// NotebookLink is optional. When empty the message has no button.
	NotebookLink string
}

// Notifier delivers a captured failure.
type Notifier interface {
	Notify(ctx context.Context, f *failure.CapturedFailure, cfg Config) error
}
