package notification

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodeBlocks marshals msg and returns the blocks of its only attachment.
func decodeBlocks(t *testing.T, payload []byte) (map[string]any, []any) {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(payload, &body))

	attachments, ok := body["attachments"].([]any)
	require.True(t, ok, "attachments missing: %s", payload)
	require.Len(t, attachments, 1)

	attachment := attachments[0].(map[string]any)
	blocks, ok := attachment["blocks"].([]any)
	require.True(t, ok, "blocks missing: %s", payload)
	return attachment, blocks
}

func textOf(t *testing.T, block any) map[string]any {
	t.Helper()
	text, ok := block.(map[string]any)["text"].(map[string]any)
	require.True(t, ok)
	return text
}

func TestStripLeadingSeparator(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "leading run", in: "-----\nValueError", want: "\nValueError"},
		{name: "run followed by text", in: "---- KeyError", want: " KeyError"},
		{name: "no dashes", in: "ValueError: x", want: "ValueError: x"},
		{name: "dash in the middle untouched", in: "a - b\n--- c", want: "a - b\n--- c"},
		{name: "only the first line", in: "--x\n--y", want: "x\n--y"},
		{name: "empty", in: "", want: ""},
		{name: "only dashes", in: "------", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StripLeadingSeparator(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, StripLeadingSeparator(got), "stripping must be idempotent")
		})
	}
}

func TestBuildMessage_WithoutLink(t *testing.T) {
	cfg := Config{WebhookURL: "https://hooks.example/abc", Title: "Notebook error"}
	text := "------- ValueError   Traceback\nx - y\nValueError: bad value"

	payload, err := json.Marshal(BuildMessage(text, cfg))
	require.NoError(t, err)

	attachment, blocks := decodeBlocks(t, payload)
	assert.Equal(t, AccentColor, attachment["color"])
	require.Len(t, blocks, 2)

	header := blocks[0].(map[string]any)
	assert.Equal(t, "header", header["type"])
	assert.Equal(t, "plain_text", textOf(t, header)["type"])
	assert.Equal(t, "Notebook error", textOf(t, header)["text"])

	body := blocks[1].(map[string]any)
	assert.Equal(t, "section", body["type"])
	assert.Equal(t, "mrkdwn", textOf(t, body)["type"])
	assert.Equal(t, "``` ValueError   Traceback\nx - y\nValueError: bad value```", textOf(t, body)["text"])
	assert.NotContains(t, body, "accessory")
}

func TestBuildMessage_WithLink(t *testing.T) {
	link := "https://notebooks.example/n/42?cell=3&x=%20y"
	cfg := Config{WebhookURL: "https://hooks.example/abc", Title: "t", NotebookLink: link}

	payload, err := json.Marshal(BuildMessage("trace", cfg))
	require.NoError(t, err)

	_, blocks := decodeBlocks(t, payload)
	require.Len(t, blocks, 3)

	pointer := blocks[2].(map[string]any)
	assert.Equal(t, "section", pointer["type"])
	assert.Equal(t, "mrkdwn", textOf(t, pointer)["type"])
	assert.Equal(t, "👉", textOf(t, pointer)["text"])

	accessory, ok := pointer["accessory"].(map[string]any)
	require.True(t, ok, "accessory missing: %s", payload)
	assert.Equal(t, "button", accessory["type"])
	assert.Equal(t, link, accessory["url"])
	assert.Equal(t, "Go to notebook", accessory["text"].(map[string]any)["text"])
	assert.Equal(t, "plain_text", accessory["text"].(map[string]any)["type"])
}

func TestBuildMessage_Deterministic(t *testing.T) {
	cfg := Config{WebhookURL: "https://hooks.example/abc", Title: "t", NotebookLink: "https://nb"}

	a, err := json.Marshal(BuildMessage("trace", cfg))
	require.NoError(t, err)
	b, err := json.Marshal(BuildMessage("trace", cfg))
	require.NoError(t, err)

	assert.JSONEq(t, string(a), string(b))
}

func TestBuildMessage_WireBody(t *testing.T) {
	text := "----- ValueError   Traceback\nValueError: bad value"

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "without link",
			cfg:  Config{WebhookURL: "https://hooks.example/abc", Title: "Notebook error"},
			want: `{"attachments":[{"color":"#f2c744","blocks":[
				{"type":"header","text":{"type":"plain_text","text":"Notebook error"}},
				{"type":"section","text":{"type":"mrkdwn","text":"`+"``` ValueError   Traceback\\nValueError: bad value```"+`"}}
			]}]}`,
		},
		{
			name: "with link",
			cfg:  Config{WebhookURL: "https://hooks.example/abc", Title: "Notebook error", NotebookLink: "https://nb.example/1"},
			want: `{"attachments":[{"color":"#f2c744","blocks":[
				{"type":"header","text":{"type":"plain_text","text":"Notebook error"}},
				{"type":"section","text":{"type":"mrkdwn","text":"`+"``` ValueError   Traceback\\nValueError: bad value```"+`"}},
				{"type":"section","text":{"type":"mrkdwn","text":"👉"},
				 "accessory":{"type":"button","text":{"type":"plain_text","text":"Go to notebook"},"url":"https://nb.example/1"}}
			]}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := json.Marshal(BuildMessage(text, tt.cfg))
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(payload))
		})
	}
}
