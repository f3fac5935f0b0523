package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3001, cfg.Port)
	assert.Equal(t, ":3001", cfg.BindAddr())
	assert.Equal(t, "http://localhost:3000", cfg.FrontendURL)
	assert.Equal(t, "auto", cfg.ResponderMode)
	assert.Equal(t, 500, cfg.CompletionMaxTokens)
	assert.InDelta(t, 0.7, cfg.CompletionTemperature, 1e-9)
	assert.Equal(t, 15*time.Second, cfg.CompletionTimeout)
	assert.Empty(t, cfg.DatabaseURL)
	assert.False(t, cfg.CompletionEnabled())
}

func TestLoadAPIKeyEnablesCompletion(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("OPENAI_API_KEY", "  sk-test  ")
	t.Setenv("PORT", "9191")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
	assert.True(t, cfg.CompletionEnabled())
	assert.Equal(t, ":9191", cfg.BindAddr())
}

func TestLoadKeywordModeDisablesCompletion(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("RESPONDER_MODE", "KEYWORD")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.CompletionEnabled())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":                   "70000",
		"COMPLETION_TIMEOUT":     "100ms",
		"COMPLETION_TEMPERATURE": "3",
		"COMPLETION_MAX_TOKENS":  "0",
		"RESPONDER_MODE":         "gpt",
		"LOG_LEVEL":              "loud",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			_, err := Load()
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadRejectsUnparseableDuration(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_SHUTDOWN_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadClientDefaults(t *testing.T) {
	t.Setenv("CHAT_API_URL", "")
	t.Setenv("CHAT_WS_URL", "")
	t.Setenv("CHAT_API_KEY", "")

	cfg, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3001", cfg.APIURL)
	assert.Equal(t, "ws://localhost:3001/ws", cfg.WSURL)
	assert.Empty(t, cfg.APIKey)
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"PORT",
		"APP_BIND_HOST",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"FRONTEND_URL",
		"RESPONDER_MODE",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"OPENAI_MODEL",
		"COMPLETION_MAX_TOKENS",
		"COMPLETION_TEMPERATURE",
		"COMPLETION_TIMEOUT",
		"DATABASE_URL",
		"WS_OUTBOUND_BUFFER",
		"LOG_LEVEL",
		"LOG_FORMAT",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
