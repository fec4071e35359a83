package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesJSONOutsideDev(t *testing.T) {
	var buf bytes.Buffer
	l := New("prod", &buf).With("chat")

	l.Info("joined room %s", "general")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "joined room general", line["message"])
	assert.Equal(t, "chat", line["component"])
}

func TestLoggerLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	l := New("prod", &buf)
	l.SetLevel(zerolog.InfoLevel)

	l.Debug("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestInitReplacesGlobal(t *testing.T) {
	prev := GlobalLogger
	defer func() { GlobalLogger = prev }()

	var buf bytes.Buffer
	Init("dev", &buf)
	Error("boom %d", 1)

	assert.Contains(t, buf.String(), "boom 1")
}
