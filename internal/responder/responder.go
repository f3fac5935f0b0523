package responder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/garagechat/internal/conversation"
)

// Context is the per-request bundle handed to a generator.
type Context struct {
	UserRole      string
	UserProfile   map[string]any
	PriorMessages []conversation.Message
}

// Generator turns a user message into a reply. Implementations never fail;
// upstream problems are absorbed into a fallback reply.
type Generator interface {
	Generate(ctx context.Context, message string, c Context) string
}

// Completer is a reply source that may fail.
type Completer interface {
	Complete(ctx context.Context, message string, c Context) (string, error)
}

// Observer receives one outcome per generated reply.
type Observer interface {
	ObserveGenerate(source, outcome string, latency time.Duration)
}

const (
	SourceCompletion = "completion"
	SourceFallback   = "fallback"
	SourceKeyword    = "keyword"

	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Config controls responder construction.
type Config struct {
	Mode        string
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Responder is the generator wired into the relay.
type Responder struct {
	gen     Generator
	enabled bool
}

func New(cfg Config, obs Observer) (*Responder, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}
	hasKey := strings.TrimSpace(cfg.APIKey) != ""

	switch mode {
	case "auto":
		if !hasKey {
			return &Responder{gen: NewKeywordResponder(obs)}, nil
		}
		return newCompletionResponder(cfg, obs), nil
	case "completion":
		if !hasKey {
			return nil, errors.New("completion mode requires an API key")
		}
		return newCompletionResponder(cfg, obs), nil
	case "keyword":
		return &Responder{gen: NewKeywordResponder(obs)}, nil
	default:
		return nil, fmt.Errorf("unsupported responder mode %q", cfg.Mode)
	}
}

func newCompletionResponder(cfg Config, obs Observer) *Responder {
	primary := NewCompletionGenerator(CompletionConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	})
	return &Responder{
		gen:     NewFallbackGenerator(primary, NewKeywordResponder(nil), cfg.Timeout, obs),
		enabled: true,
	}
}

func (r *Responder) Generate(ctx context.Context, message string, c Context) string {
	return r.gen.Generate(ctx, message, c)
}

// Enabled reports whether replies come from the hosted completion API.
func (r *Responder) Enabled() bool {
	return r.enabled
}
