package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowmerak/engage.go/internal/config"
)

func TestNewWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWriter(&buf, config.LogConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", slog.String("method", "engage"))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "shown", record["msg"])
	assert.Equal(t, "engage", record["method"])
}

func TestNewWriter_Text(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWriter(&buf, config.LogConfig{Level: "debug"})
	require.NoError(t, err)

	logger.Debug("visible")
	assert.Contains(t, buf.String(), "msg=visible")
}

func TestNewWriter_Errors(t *testing.T) {
	_, err := NewWriter(&bytes.Buffer{}, config.LogConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = NewWriter(&bytes.Buffer{}, config.LogConfig{Format: "xml"})
	assert.Error(t, err)
}
