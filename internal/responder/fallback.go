package responder

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

const defaultCompletionTimeout = 15 * time.Second

// FallbackGenerator tries the primary completer under a timeout and answers
// from the fallback generator on any failure.
type FallbackGenerator struct {
	primary  Completer
	fallback Generator
	timeout  time.Duration
	obs      Observer
}

func NewFallbackGenerator(primary Completer, fallback Generator, timeout time.Duration, obs Observer) *FallbackGenerator {
	if timeout <= 0 {
		timeout = defaultCompletionTimeout
	}
	return &FallbackGenerator{
		primary:  primary,
		fallback: fallback,
		timeout:  timeout,
		obs:      obs,
	}
}

func (g *FallbackGenerator) Generate(ctx context.Context, message string, c Context) string {
	started := time.Now()
	if g.primary != nil {
		primaryCtx, cancel := context.WithTimeout(ctx, g.timeout)
		text, err := g.primary.Complete(primaryCtx, message, c)
		cancel()
		if err == nil {
			g.observe(SourceCompletion, OutcomeOK, started)
			return text
		}

		outcome := OutcomeError
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = OutcomeTimeout
		}
		evt := zerolog.Ctx(ctx).Warn().Err(err).Str("outcome", outcome)
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			evt = evt.Int("status", statusErr.Code).Bool("retryable", statusErr.Retryable())
		}
		evt.Msg("completion failed, using keyword reply")
		g.observe(SourceFallback, outcome, started)
	}
	// The caller may already be gone; the reply is still produced so it can be recorded.
	return g.fallback.Generate(context.WithoutCancel(ctx), message, c)
}

func (g *FallbackGenerator) observe(source, outcome string, started time.Time) {
	if g.obs != nil {
		g.obs.ObserveGenerate(source, outcome, time.Since(started))
	}
}
