package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel(" DEBUG "))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestInit_WritesToStdoutAndFile(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	path := filepath.Join(t.TempDir(), "addrscan.log")
	var stdout bytes.Buffer
	closer, err := initWithStdout(Config{Level: "warn", File: path, MaxSizeMB: 1, MaxBackups: 1}, &stdout)
	require.NoError(t, err)

	slog.Info("hidden")
	slog.Warn("chain skipped", "chain", "eth")
	require.NoError(t, closer.Close())

	assert.NotContains(t, stdout.String(), "hidden")
	assert.Contains(t, stdout.String(), "chain=eth")
	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "chain skipped")
}
