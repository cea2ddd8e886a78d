package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLoggerFunctions_NoNilPointers(t *testing.T) {
	logger = nil
	assert.NotPanics(t, func() {
		Debug("test debug", "key", "value")
		Info("test info", "key", "value")
		Warn("test warn", "key", "value")
		Error("test error", "key", "value")
	})
}

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.log")
	Init(true, path)
	require.NotNil(t, GetLogger())

	Debug("refetch", "feature", "notifications", "count", 1)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "refetch")
	assert.Contains(t, string(data), "feature=notifications")
}

func TestNewStructured(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "sync.log")

	log := NewStructured(Options{Level: "warn", File: path, Console: &console})
	log.Info("dropped")
	log.Warn("kept", zap.String("feature", "polls"))
	require.NoError(t, log.Sync())

	assert.NotContains(t, console.String(), "dropped")
	assert.Contains(t, console.String(), "kept")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"feature":"polls"`)
}

func TestNewStructuredWithoutOutputsIsNop(t *testing.T) {
	log := NewStructured(Options{})
	assert.False(t, log.Core().Enabled(zapcore.ErrorLevel))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLogLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, zapcore.InfoLevel, parseLogLevel("verbose"))
}
