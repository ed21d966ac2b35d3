package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/versolabs/verso-core/internal/config"
)

// Gateway fronts a Synthesizer with the operational behavior every
// backend needs: request validation, a provider rate limit, a dynamic
// per-request timeout scaled to text length, and exponential-backoff
// retries for transient failures. Permanent failures surface
// immediately.
type Gateway struct {
	backend Synthesizer
	cfg     config.TTSConfig
	limiter *rate.Limiter
	log     *slog.Logger

	// TimeoutFactor stretches the computed timeout. Regeneration passes
	// raise it for chunks that failed at the normal deadline.
	TimeoutFactor int
}

func NewGateway(backend Synthesizer, cfg config.TTSConfig, log *slog.Logger) *Gateway {
	perMinute := cfg.CallsPerMinute
	if perMinute <= 0 {
		perMinute = 60
	}
	return &Gateway{
		backend:       backend,
		cfg:           cfg,
		limiter:       rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		log:           log.With(slog.String("component", "tts-gateway")),
		TimeoutFactor: 1,
	}
}

// timeoutFor scales the deadline with text length so long chunks are
// not cut off mid-synthesis, capped so a runaway request cannot hold
// the pipeline indefinitely.
func (g *Gateway) timeoutFor(text string) time.Duration {
	base := time.Duration(g.cfg.TimeoutMS) * time.Millisecond
	perChar := time.Duration(g.cfg.TimeoutPerCharMS) * time.Millisecond
	cap := time.Duration(g.cfg.TimeoutCapMS) * time.Millisecond

	timeout := perChar * time.Duration(len(text))
	if timeout < base {
		timeout = base
	}
	if timeout > cap {
		timeout = cap
	}
	factor := g.TimeoutFactor
	if factor < 1 {
		factor = 1
	}
	timeout *= time.Duration(factor)
	if timeout > cap*time.Duration(factor) {
		timeout = cap * time.Duration(factor)
	}
	return timeout
}

// Synthesize runs one synthesis call with retries. Only rate limits and
// timeouts are retried; anything else is a permanent failure for this
// request and is reported to the caller for slot-level handling.
func (g *Gateway) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if req.Text == "" {
		return nil, ErrEmptyText
	}
	if req.Voice == "" {
		req.Voice = g.cfg.Voice
	}
	if req.Temperature == 0 {
		req.Temperature = g.cfg.Temperature
	}
	if req.Speed == 0 {
		req.Speed = g.cfg.Speed
	}

	timeout := g.timeoutFor(req.Text)

	attempt := 0
	operation := func() ([]byte, error) {
		attempt++
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("rate limiter wait: %w", err))
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		started := time.Now()
		data, err := g.backend.Synthesize(callCtx, req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("%w after %s: %s", ErrTimeout, timeout, err)
			}
			if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout) {
				g.log.Warn("synthesis attempt failed, retrying",
					slog.Int("attempt", attempt),
					slog.Int("chars", len(req.Text)),
					slog.String("error", err.Error()))
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}

		g.log.Debug("synthesis complete",
			slog.Int("chars", len(req.Text)),
			slog.Int("bytes", len(data)),
			slog.Duration("elapsed", time.Since(started)))
		return data, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = time.Second
	expo.Multiplier = 2

	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(g.cfg.RetryAttempts)))
	if err != nil {
		return nil, fmt.Errorf("synthesize after %d attempts: %w", attempt, err)
	}
	return data, nil
}

// Pace sleeps the configured inter-call delay. The pipeline calls it
// between chunk syntheses to keep a polite cadence toward the provider.
func (g *Gateway) Pace(ctx context.Context) error {
	delay := time.Duration(g.cfg.InterCallDelayMS) * time.Millisecond
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TestConnection delegates to the backend probe.
func (g *Gateway) TestConnection(ctx context.Context) error {
	return g.backend.TestConnection(ctx)
}

func (g *Gateway) Close() error {
	return g.backend.Close()
}

// NewBackend builds the configured synthesis backend.
func NewBackend(cfg config.TTSConfig, log *slog.Logger) (Synthesizer, error) {
	switch cfg.Mode {
	case "http":
		return NewHTTPSynthesizer(cfg, log), nil
	case "exec":
		return NewExecSynthesizer(cfg, log)
	case "mock":
		return NewMockSynthesizer(), nil
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}
