package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("DEBUG"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, ERROR, ParseLevel(" error "))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "impact.log")
	logger, err := NewLogger(Config{Level: INFO, OutputFile: path, JSONFormat: true})
	require.NoError(t, err)

	logger.Slog().Info("doc issue created", "doc_id", "doc:alpha-guide")
	logger.Slog().Debug("hidden")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"doc_id":"doc:alpha-guide"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestRotate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "impact.log")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", 64)), 0644))

	require.NoError(t, rotate(path, 32, 3))

	_, err := os.Stat(path + ".1")
	assert.NoError(t, err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
