package logging

import (
	"booklend/internal/config"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}

	for input, want := range tests {
		assert.Equal(t, want, parseLevel(input), "level %q", input)
	}
}

func TestNewHandlerJSON(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := slog.New(newHandler(config.LoggerConfig{Level: "warn", Encoding: "json"}, buf))

	logger.Info("dropped")
	logger.Warn("kept", "loan_id", 7)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, float64(7), entry["loan_id"])
}

func TestNewHandlerText(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := slog.New(newHandler(config.LoggerConfig{Level: "debug", Encoding: "text"}, buf))

	logger.DebugContext(context.Background(), "scanning", "count", 2)

	assert.Contains(t, buf.String(), "msg=scanning")
	assert.Contains(t, buf.String(), "count=2")
}

func TestNewLoggerSetsDefault(t *testing.T) {
	previous := slog.Default()
	defer slog.SetDefault(previous)

	logger := NewLogger(config.LoggerConfig{Level: "error"})

	assert.Same(t, logger, slog.Default())
	assert.False(t, logger.Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelError))
}
