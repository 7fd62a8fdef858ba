package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presenter-ai/internal/infra/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("anything else"))
}

func TestNewWithFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	log, closer, err := New(config.LoggerConfig{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	log.Info("hello", "key", "value")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"key":"value"`)
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", Clip("short", 100))
	assert.Equal(t, "short", Clip("short", 0))

	long := strings.Repeat("x", 50)
	clipped := Clip(long, 10)
	assert.Equal(t, "xxxxxxxxxx...", clipped)
}
