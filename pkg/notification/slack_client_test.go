package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nakkulla/notebook-slack-ntfy/pkg/failure"
	"github.com/nakkulla/notebook-slack-ntfy/pkg/traceback"
)

// webhookRecorder is a fake Slack webhook.
type webhookRecorder struct {
	status int

	mu       sync.Mutex
	requests [][]byte
	headers  []http.Header
}

func (w *webhookRecorder) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.mu.Lock()
	w.requests = append(w.requests, body)
	w.headers = append(w.headers, r.Header.Clone())
	w.mu.Unlock()

	rw.WriteHeader(w.status)
	if w.status >= 300 {
		_, _ = rw.Write([]byte("invalid_payload\n"))
		return
	}
	_, _ = rw.Write([]byte("ok"))
}

func (w *webhookRecorder) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.requests)
}

func slackRenderer() *traceback.Formatter {
	return traceback.New(traceback.WithMode(traceback.ModeVerbose), traceback.WithColor(false))
}

func valueError() *failure.CapturedFailure {
	return &failure.CapturedFailure{
		Type:  "ValueError",
		Value: errors.New("bad value"),
		Traceback: []failure.Frame{
			{Function: "main", File: "<cell 1>", Line: 1, Source: "x = parse('a-b')"},
		},
	}
}

func TestSlackClient_Notify_Success(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusNoContent} {
		rec := &webhookRecorder{status: status}
		srv := httptest.NewServer(rec)

		client := NewSlackClient(slackRenderer())
		err := client.Notify(context.Background(), valueError(), Config{
			WebhookURL: srv.URL + "/services/T/B/X",
			Title:      "Notebook error",
		})
		srv.Close()

		require.NoError(t, err)
		require.Equal(t, 1, rec.count())
		assert.Equal(t, "application/json", rec.headers[0].Get("Content-Type"))

		var body map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(rec.requests[0], &body))
		assert.Len(t, body, 1, "only attachments are posted: %s", rec.requests[0])
		assert.Contains(t, body, "attachments")

		_, blocks := decodeBlocks(t, rec.requests[0])
		assert.Len(t, blocks, 2)
	}
}

func TestSlackClient_Notify_NonSuccessStatus(t *testing.T) {
	rec := &webhookRecorder{status: http.StatusNotFound}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	client := NewSlackClient(slackRenderer())
	err := client.Notify(context.Background(), valueError(), Config{WebhookURL: srv.URL, Title: "t"})

	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, http.StatusNotFound, derr.StatusCode)
	assert.Equal(t, "invalid_payload", derr.Body)
	assert.Equal(t, 1, rec.count(), "delivery must not be retried")
}

func TestSlackClient_Notify_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewSlackClient(slackRenderer())
	err := client.Notify(context.Background(), valueError(), Config{WebhookURL: url, Title: "t"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send slack notification")
}

func TestSlackClient_Notify_InvalidURL(t *testing.T) {
	client := NewSlackClient(slackRenderer())
	err := client.Notify(context.Background(), valueError(), Config{WebhookURL: "://nope", Title: "t"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create request")
}

func TestSlackClient_EndToEnd(t *testing.T) {
	rec := &webhookRecorder{status: http.StatusOK}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	var logs bytes.Buffer
	client := NewSlackClient(slackRenderer(),
		WithHTTPClient(srv.Client()),
		WithLogger(zerolog.New(&logs)),
	)

	fl := &failure.CapturedFailure{Type: "ValueError", Value: errors.New("bad value")}
	require.NoError(t, client.Notify(context.Background(), fl, Config{
		WebhookURL: srv.URL,
		Title:      "Notebook error",
	}))

	require.Equal(t, 1, rec.count())
	_, blocks := decodeBlocks(t, rec.requests[0])
	require.Len(t, blocks, 2)

	assert.Equal(t, "Notebook error", textOf(t, blocks[0])["text"])

	body := textOf(t, blocks[1])["text"].(string)
	assert.True(t, strings.HasPrefix(body, "``` ValueError"), body)
	assert.True(t, strings.HasSuffix(body, "```"))
	assert.Contains(t, body, "ValueError: bad value")

	assert.Contains(t, logs.String(), "failure notification sent to slack")
	assert.Contains(t, logs.String(), `"component":"slack_notifier"`)
}

func TestSlackClient_Render_UsesVerboseFrames(t *testing.T) {
	fl := valueError()
	fl.Traceback[0].Locals = []failure.Local{{Name: "exit_code", Value: "2"}}

	text := NewSlackClient(slackRenderer()).Render(fl)

	assert.Contains(t, text, "---> 1 x = parse('a-b')")
	assert.Contains(t, text, "exit_code = 2")
	assert.NotContains(t, text, "\x1b[")
}

func TestDeliveryError_Message(t *testing.T) {
	assert.Equal(t, "slack webhook returned status 500", (&DeliveryError{StatusCode: 500}).Error())
	assert.Equal(t, "slack webhook returned status 403: no_team", (&DeliveryError{StatusCode: 403, Body: "no_team"}).Error())
}
