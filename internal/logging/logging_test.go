package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should write json in production", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&buf, Options{Environment: "production"})

		logger.Info("auction created", "auction_id", 1)
		logger.Debug("hidden")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "auction created", line["msg"])
		assert.EqualValues(t, 1, line["auction_id"])
	})

	t.Run("should honor explicit level and format", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&buf, Options{Level: "warn", Format: "text", Environment: "development"})

		logger.Info("dropped")
		logger.Warn("kept")

		assert.NotContains(t, buf.String(), "dropped")
		assert.Contains(t, buf.String(), "kept")
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("", false))
	assert.Equal(t, slog.LevelInfo, parseLevel("", true))
	assert.Equal(t, slog.LevelError, parseLevel("error", true))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus", false))
}
