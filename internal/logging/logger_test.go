package logging

import (
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
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for name, want := range tests {
		assert.Equal(t, want, ParseLevel(name), name)
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "warn", Format: "json", Writer: &buf})

	logger.Info("skipped")
	logger.WithEntity("Post").Warn("generated name collision", slog.String("name", "comments_count"))

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "generated name collision", record["msg"])
	assert.Equal(t, "Post", record["entity"])
	assert.Equal(t, "comments_count", record["name"])
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "info", Writer: &buf})

	logger.WithFields("relationship", "votes").Info("loaded")
	assert.Contains(t, buf.String(), "msg=loaded")
	assert.Contains(t, buf.String(), "relationship=votes")
}

func TestMultiHandler(t *testing.T) {
	var debugBuf, errorBuf bytes.Buffer
	h := newMultiHandler(
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&errorBuf, &slog.HandlerOptions{Level: slog.LevelError}),
	)

	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))

	logger := slog.New(h).With("entity", "Post").WithGroup("read")
	logger.Debug("fallback", "accessor", "votes_count")
	logger.Error("failed", "accessor", "shares_count")

	assert.Contains(t, debugBuf.String(), "read.accessor=votes_count")
	assert.Contains(t, debugBuf.String(), "read.accessor=shares_count")
	assert.NotContains(t, errorBuf.String(), "votes_count")
	assert.Contains(t, errorBuf.String(), "entity=Post")
	assert.Contains(t, errorBuf.String(), "read.accessor=shares_count")
}
