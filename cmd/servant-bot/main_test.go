// ABOUTME: Tests for path resolution and the terminal log handler
// ABOUTME: Covers XDG fallbacks, level filtering, and attribute formatting

package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("SERVANT_CONFIG", "/etc/servant.toml")
	assert.Equal(t, "/etc/servant.toml", getConfigPath())

	t.Setenv("SERVANT_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	assert.Equal(t, filepath.Join("/xdg/config", "servant-bot", "config.yaml"), getConfigPath())
}

func TestGetDataPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/xdg/data")
	assert.Equal(t, filepath.Join("/xdg/data", "servant-bot"), getDataPath())
}

func TestSetupLogger(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	logger := setupLogger("warn", &buf)

	logger.Info("hidden")
	logger.With("component", "bot").WithGroup("req").Warn("slow", "room", "!a", "ms", 1200)
	logger.Error("failed", "error", "boom")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if assert.Len(t, lines, 2) {
		assert.Contains(t, lines[0], "WRN slow")
		assert.Contains(t, lines[0], "component=bot")
		assert.Contains(t, lines[0], "req.room=!a")
		assert.Contains(t, lines[0], "req.ms=1200")
		assert.Contains(t, lines[1], "ERR failed")
		assert.Contains(t, lines[1], "error=boom")
	}
}

func TestSetupLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		debug bool
		info  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"", false, true},
		{"error", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := setupLogger(tt.level, &bytes.Buffer{})
			assert.Equal(t, tt.debug, logger.Enabled(t.Context(), -4))
			assert.Equal(t, tt.info, logger.Enabled(t.Context(), 0))
		})
	}
}
