package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadArgs(t *testing.T) {
	t.Run("inline with comments", func(t *testing.T) {
		a, err := loadArgs(`{
			// required
			"api_key": "key",
			"api_signature": "signature", // trailing comma below
		}`)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"api_key": "key", "api_signature": "signature"}, a.AsMap())
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "engage.hujson")
		require.NoError(t, os.WriteFile(path, []byte(`{"event_name": "launch", /* note */ "custom_data": {"n": 1}}`), 0o600))

		a, err := loadArgs(path)
		require.NoError(t, err)
		name, ok, err := a.String("event_name")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "launch", name)
	})

	t.Run("empty", func(t *testing.T) {
		a, err := loadArgs("  ")
		require.NoError(t, err)
		assert.Empty(t, a.Keys())
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := loadArgs(`{"unterminated": `)
		assert.Error(t, err)

		_, err = loadArgs(filepath.Join(t.TempDir(), "missing.json"))
		assert.Error(t, err)
	})
}
