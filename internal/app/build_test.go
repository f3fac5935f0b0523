package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/garagechat/internal/config"
	"github.com/ent0n29/garagechat/internal/logging"
)

func testConfig() config.Config {
	return config.Config{
		Port:                  3001,
		MetricsNamespace:      "garagechat_test",
		FrontendURL:           "http://localhost:3000",
		ResponderMode:         "auto",
		CompletionMaxTokens:   500,
		CompletionTemperature: 0.7,
		WSOutboundBuffer:      8,
	}
}

func TestBuildDefaultsToMemoryAndKeywordReplies(t *testing.T) {
	res, err := Build(context.Background(), testConfig(), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Cleanup() })

	assert.Equal(t, "memory", res.Store)
	assert.False(t, res.Responder.Enabled())

	rec := httptest.NewRecorder()
	res.API.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"store":"memory"`)
}

func TestBuildWithSQLite(t *testing.T) {
	cfg := testConfig()
	cfg.DatabaseURL = "sqlite://" + filepath.Join(t.TempDir(), "chat.db")
	cfg.OpenAIAPIKey = "sk-test"

	res, err := Build(context.Background(), cfg, logging.Nop())
	require.NoError(t, err)
	assert.Equal(t, "sqlite", res.Store)
	assert.True(t, res.Responder.Enabled())
	require.NoError(t, res.Cleanup())
}

func TestBuildRejectsUnknownStore(t *testing.T) {
	cfg := testConfig()
	cfg.DatabaseURL = "mongodb://localhost"
	_, err := Build(context.Background(), cfg, logging.Nop())
	require.Error(t, err)
}

func TestBuildRejectsCompletionModeWithoutKey(t *testing.T) {
	cfg := testConfig()
	cfg.ResponderMode = "completion"
	_, err := Build(context.Background(), cfg, logging.Nop())
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestBuildKeywordModeIgnoresKey(t *testing.T) {
	cfg := testConfig()
	cfg.ResponderMode = "keyword"
	cfg.OpenAIAPIKey = "sk-test"

	res, err := Build(context.Background(), cfg, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Cleanup() })
	assert.Equal(t, cfg.CompletionEnabled(), res.Responder.Enabled())
	assert.False(t, res.Responder.Enabled())
}
