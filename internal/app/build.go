package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ent0n29/garagechat/internal/config"
	"github.com/ent0n29/garagechat/internal/conversation"
	"github.com/ent0n29/garagechat/internal/httpapi"
	"github.com/ent0n29/garagechat/internal/observability"
	"github.com/ent0n29/garagechat/internal/registry"
	"github.com/ent0n29/garagechat/internal/relay"
	"github.com/ent0n29/garagechat/internal/responder"
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Relay     *relay.Service
	Registry  *registry.Registry
	Responder *responder.Responder
	Metrics   *observability.Metrics
	Store     string

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*BuildResult, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.ResponderMode))
	if mode == "completion" && !cfg.CompletionEnabled() {
		return nil, fmt.Errorf("%w: RESPONDER_MODE=completion requires OPENAI_API_KEY", config.ErrInvalidConfig)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := conversation.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("conversation store init failed: %w", err)
	}
	backend := conversation.Backend(cfg.DatabaseURL)

	gen, err := responder.New(responder.Config{
		Mode:        cfg.ResponderMode,
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.OpenAIModel,
		MaxTokens:   cfg.CompletionMaxTokens,
		Temperature: cfg.CompletionTemperature,
		Timeout:     cfg.CompletionTimeout,
	}, metrics)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("responder init failed: %w", err)
	}

	logger.Info().
		Str("mode", cfg.ResponderMode).
		Bool("completion_api", cfg.CompletionEnabled()).
		Dur("timeout", cfg.CompletionTimeout).
		Msg("responder configured")

	reg := registry.New()
	reg.SetChangeHook(metrics.SetActiveConnections)

	svc := relay.NewService(store, reg, gen, metrics, logger, relay.WithStoreBackend(backend))
	api := httpapi.New(cfg, svc, metrics, logger)

	cleanup := func() error {
		reg.CloseAll(1001, "server shutting down")
		if err := store.Close(); err != nil {
			return fmt.Errorf("close conversation store: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Relay:     svc,
		Registry:  reg,
		Responder: gen,
		Metrics:   metrics,
		Store:     backend,
		Cleanup:   cleanup,
	}, nil
}
