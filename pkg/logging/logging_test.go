package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewLogger_Level(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{level: "debug", want: zerolog.DebugLevel},
		{level: "WARN", want: zerolog.WarnLevel},
		{level: "", want: zerolog.InfoLevel},
		{level: "chatty", want: zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := NewLogger(Options{Level: tt.level, Out: &bytes.Buffer{}})
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

func TestNewLogger_Output(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Options{Level: "info", Out: &buf, NoColor: true})

	logger.Debug().Msg("hidden")
	logger.Info().Str("component", "runner").Msg("cell finished")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "cell finished")
	assert.Contains(t, out, "service="+ServiceName)
	assert.Contains(t, out, "component=runner")
	assert.NotContains(t, out, "\x1b[")
}
