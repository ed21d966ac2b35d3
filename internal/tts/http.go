package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/versolabs/verso-core/internal/config"
)

// HTTPSynthesizer talks to an Orpheus-compatible synthesis endpoint.
// The server accepts a JSON body and answers with either raw audio
// bytes or a JSON envelope carrying base64 audio, depending on the
// deployment.
type HTTPSynthesizer struct {
	cfg    config.TTSConfig
	client *http.Client
	log    *slog.Logger
}

type synthRequest struct {
	Text        string  `json:"text"`
	Voice       string  `json:"voice"`
	Temperature float64 `json:"temperature"`
	Speed       float64 `json:"speed"`
}

type synthResponse struct {
	Audio string `json:"audio"`
	Error string `json:"error,omitempty"`
}

func NewHTTPSynthesizer(cfg config.TTSConfig, log *slog.Logger) *HTTPSynthesizer {
	return &HTTPSynthesizer{
		cfg: cfg,
		// Per-request deadlines come from the caller's context, so the
		// client itself carries no timeout.
		client: &http.Client{},
		log:    log.With(slog.String("component", "tts-http")),
	}
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	body, err := json.Marshal(synthRequest{
		Text:        req.Text,
		Voice:       req.Voice,
		Temperature: req.Temperature,
		Speed:       req.Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create synthesis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, err)
		}
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("synthesis server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read synthesis response: %w", err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("synthesis server returned empty body")
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		var envelope synthResponse
		if err := json.Unmarshal(payload, &envelope); err != nil {
			return nil, fmt.Errorf("decode synthesis envelope: %w", err)
		}
		if envelope.Error != "" {
			return nil, fmt.Errorf("synthesis server error: %s", envelope.Error)
		}
		data, err := base64.StdEncoding.DecodeString(envelope.Audio)
		if err != nil {
			return nil, fmt.Errorf("decode synthesis audio: %w", err)
		}
		return data, nil
	}
	return payload, nil
}

// TestConnection checks the endpoint is reachable and authenticated by
// synthesizing a trivial phrase.
func (s *HTTPSynthesizer) TestConnection(ctx context.Context) error {
	_, err := s.Synthesize(ctx, Request{
		Text:        "Connection test.",
		Voice:       s.cfg.Voice,
		Temperature: s.cfg.Temperature,
		Speed:       s.cfg.Speed,
	})
	if err != nil {
		return fmt.Errorf("tts connection test: %w", err)
	}
	s.log.Info("tts connection verified", slog.String("endpoint", s.cfg.Endpoint))
	return nil
}

func (s *HTTPSynthesizer) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
