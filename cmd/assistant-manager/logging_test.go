package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/assistant-manager/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLevel("loud"))
}

func TestColorHandler_LevelsAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := newHandler(config.LoggingConfig{Level: "info"}, &buf)
	logger := slog.New(h).With("component", "registry")

	logger.Debug("hidden")
	logger.Info("assistant added", "assistant_id", 42)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "assistant added")
	assert.Contains(t, out, "component=")
	assert.Contains(t, out, "registry")
	assert.Contains(t, out, "42")
}

func TestJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	slog.New(newHandler(config.LoggingConfig{Format: "json"}, &buf)).Info("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}

func TestSetupLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "manager.log")
	logger, closeLog, err := setupLogger(config.LoggingConfig{Level: "info", File: path})
	require.NoError(t, err)

	logger.Warn("degraded", "assistant_id", 7)
	closeLog()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "WRN degraded assistant_id=7")
	assert.NotContains(t, string(data), "\x1b[")
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("ASSISTANT_MANAGER_CONFIG", "/etc/am.yaml")
	assert.Equal(t, "/etc/am.yaml", getConfigPath())

	t.Setenv("ASSISTANT_MANAGER_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "assistant-manager", "config.yaml"), getConfigPath())
}
