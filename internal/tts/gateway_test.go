package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/versolabs/verso-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func gatewayConfig() config.TTSConfig {
	return config.TTSConfig{
		Mode:             "mock",
		Voice:            "tara",
		Temperature:      0.7,
		Speed:            1.0,
		RetryAttempts:    3,
		CallsPerMinute:   6000,
		TimeoutMS:        1000,
		TimeoutPerCharMS: 10,
		TimeoutCapMS:     5000,
		InterCallDelayMS: 0,
	}
}

func TestGatewayRejectsEmptyText(t *testing.T) {
	g := NewGateway(NewMockSynthesizer(), gatewayConfig(), newLogger())
	if _, err := g.Synthesize(context.Background(), Request{}); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

func TestGatewaySynthesizes(t *testing.T) {
	mock := NewMockSynthesizer()
	g := NewGateway(mock, gatewayConfig(), newLogger())

	data, err := g.Synthesize(context.Background(), Request{Text: "two words"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(data) != 2*mock.SamplesPerWord*2 {
		t.Fatalf("unexpected audio length: %d", len(data))
	}
	if len(mock.Calls) != 1 || mock.Calls[0] != "two words" {
		t.Fatalf("unexpected backend calls: %v", mock.Calls)
	}
}

func TestGatewayAppliesVoiceDefaults(t *testing.T) {
	mock := NewMockSynthesizer()
	g := NewGateway(mock, gatewayConfig(), newLogger())
	if _, err := g.Synthesize(context.Background(), Request{Text: "hello there"}); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
}

func TestGatewayRetriesRateLimit(t *testing.T) {
	mock := NewMockSynthesizer()
	mock.Err = ErrRateLimited
	mock.ErrCount = 2

	cfg := gatewayConfig()
	g := NewGateway(mock, cfg, newLogger())

	data, err := g.Synthesize(context.Background(), Request{Text: "retry me"})
	if err != nil {
		t.Fatalf("expected retries to recover, got %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected audio after retries")
	}
	if len(mock.Calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(mock.Calls))
	}
}

func TestGatewayDoesNotRetryPermanentErrors(t *testing.T) {
	mock := NewMockSynthesizer()
	mock.Err = errors.New("model exploded")
	mock.ErrCount = -1

	g := NewGateway(mock, gatewayConfig(), newLogger())
	if _, err := g.Synthesize(context.Background(), Request{Text: "boom"}); err == nil {
		t.Fatal("expected error")
	}
	if len(mock.Calls) != 1 {
		t.Fatalf("permanent error should not be retried, got %d attempts", len(mock.Calls))
	}
}

func TestGatewayExhaustsRetries(t *testing.T) {
	mock := NewMockSynthesizer()
	mock.Err = ErrRateLimited
	mock.ErrCount = -1

	cfg := gatewayConfig()
	cfg.RetryAttempts = 2
	g := NewGateway(mock, cfg, newLogger())

	if _, err := g.Synthesize(context.Background(), Request{Text: "never works"}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited after exhaustion, got %v", err)
	}
	if len(mock.Calls) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(mock.Calls))
	}
}

func TestTimeoutScalesWithTextLength(t *testing.T) {
	g := NewGateway(NewMockSynthesizer(), gatewayConfig(), newLogger())

	short := g.timeoutFor("hi")
	if short != time.Second {
		t.Fatalf("short text should use base timeout, got %v", short)
	}

	long := g.timeoutFor(string(make([]byte, 400)))
	if long != 4*time.Second {
		t.Fatalf("expected per-char scaling to 4s, got %v", long)
	}

	huge := g.timeoutFor(string(make([]byte, 100000)))
	if huge != 5*time.Second {
		t.Fatalf("expected cap at 5s, got %v", huge)
	}
}

func TestTimeoutFactorExtendsDeadline(t *testing.T) {
	g := NewGateway(NewMockSynthesizer(), gatewayConfig(), newLogger())
	g.TimeoutFactor = 2
	if got := g.timeoutFor("hi"); got != 2*time.Second {
		t.Fatalf("expected doubled timeout, got %v", got)
	}
}

func TestNewBackendModes(t *testing.T) {
	cfg := gatewayConfig()
	if _, err := NewBackend(cfg, newLogger()); err != nil {
		t.Fatalf("mock backend: %v", err)
	}

	cfg.Mode = "http"
	cfg.Endpoint = "http://localhost:5005/v1/audio/speech"
	if _, err := NewBackend(cfg, newLogger()); err != nil {
		t.Fatalf("http backend: %v", err)
	}

	cfg.Mode = "exec"
	cfg.Command = `orpheus-cli --quiet`
	if _, err := NewBackend(cfg, newLogger()); err != nil {
		t.Fatalf("exec backend: %v", err)
	}

	cfg.Mode = "carrier-pigeon"
	if _, err := NewBackend(cfg, newLogger()); err == nil {
		t.Fatal("expected unknown mode to fail")
	}
}
