package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ANTHROPIC_API_KEY",
		"ANTHROPIC_MODEL",
		"MAX_TOKENS",
		"REQUEST_TIMEOUT",
		"DECK_API_BASE_URL",
		"LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)

	config, err := Load(filepath.Join("testdata", "deck.env"))
	require.NoError(t, err)

	assert.Equal(t, "test-key", config.AnthropicAPIKey)
	assert.Equal(t, "claude-3-5-sonnet-20241022", config.Model)
	assert.Equal(t, 2048, config.MaxTokens)
	assert.Equal(t, 5*time.Second, config.RequestTimeout)
	assert.Equal(t, "http://localhost:8000/api/deck", config.DeckAPIBaseURL)
	assert.NoError(t, config.Validate())
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultDeckAPIBaseURL, config.DeckAPIBaseURL)
	assert.Equal(t, DefaultModel, config.Model)
	assert.Equal(t, DefaultMaxTokens, config.MaxTokens)
	assert.Equal(t, DefaultRequestTimeout, config.RequestTimeout)
	assert.ErrorIs(t, config.Validate(), ErrMissingAPIKey)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("DECK_API_BASE_URL", "http://upstream.test/api/deck")
	t.Setenv("LOG_LEVEL", "debug")

	config, err := Load(filepath.Join("testdata", "deck.env"))
	require.NoError(t, err)

	assert.Equal(t, "http://upstream.test/api/deck", config.DeckAPIBaseURL)
	assert.Equal(t, slog.LevelDebug, config.SlogLevel())
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join("testdata", "missing.env"))
	assert.Error(t, err)
}
