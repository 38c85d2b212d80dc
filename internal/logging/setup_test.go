package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/caption/internal/logging"
)

func TestOptionsLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelInfo, logging.Options{}.Level())
	assert.Equal(t, slog.LevelDebug, logging.Options{Verbose: true}.Level())
	assert.Equal(t, slog.LevelWarn, logging.Options{Quiet: true}.Level())
	assert.Equal(t, slog.LevelDebug, logging.Options{Verbose: true, Quiet: true}.Level())
}

// Setup replaces the process default logger, so these tests do not run in parallel.
func TestSetup_LogFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "caption.log")
	closeLog, err := logging.Setup(logging.Options{Stderr: &stderr, LogFile: path, Quiet: true})
	require.NoError(t, err)

	slog.Debug("frame detail", "n", 1)
	slog.Warn("server busy")
	closeLog()

	assert.NotContains(t, stderr.String(), "frame detail")
	assert.Contains(t, stderr.String(), "server busy")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2, "log file records debug too")

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "frame detail", rec["msg"])
}

func TestSetup_BadLogFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	closeLog, err := logging.Setup(logging.Options{LogFile: filepath.Join(t.TempDir(), "missing", "x.log")})
	require.Error(t, err)
	closeLog()
}
