// internal/logging/logger_test.go
package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerConfig_Validate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		config := &LoggerConfig{Level: LevelInfo, Format: FormatJSON}
		assert.NoError(t, config.Validate())
	})

	t.Run("empty is valid", func(t *testing.T) {
		config := &LoggerConfig{}
		assert.NoError(t, config.Validate())
	})

	t.Run("invalid level", func(t *testing.T) {
		config := &LoggerConfig{Level: "loud"}
		assert.Error(t, config.Validate())
	})

	t.Run("invalid format", func(t *testing.T) {
		config := &LoggerConfig{Format: "xml"}
		assert.Error(t, config.Validate())
	})
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&LoggerConfig{Level: LevelInfo, Format: FormatJSON, Output: &buf})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("breaker opened")
	require.NoError(t, logger.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "breaker opened", entry["msg"])
	assert.Contains(t, entry, "timestamp")
}

func TestNew_ConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&LoggerConfig{Level: LevelDebug, Format: FormatConsole, Output: &buf})
	require.NoError(t, err)

	logger.Debug("probe started")
	assert.Contains(t, buf.String(), "DEBUG")
	assert.Contains(t, buf.String(), "probe started")
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&LoggerConfig{Output: &buf})
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), ContextKeyService, "replica-1")
	WithContext(ctx, logger).Info("probe failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "replica-1", entry["service"])

	assert.Same(t, logger, WithContext(context.Background(), logger))
}
