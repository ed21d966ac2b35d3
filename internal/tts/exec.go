package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/versolabs/verso-core/internal/config"
)

// ExecSynthesizer shells out to a local synthesis command. The request
// is written to the child's stdin as JSON and audio bytes are read back
// from stdout, so any model runner with a small wrapper script can act
// as the backend.
type ExecSynthesizer struct {
	argv []string
	cfg  config.TTSConfig
	log  *slog.Logger
}

func NewExecSynthesizer(cfg config.TTSConfig, log *slog.Logger) (*ExecSynthesizer, error) {
	argv, err := shellwords.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("tts command is empty")
	}
	return &ExecSynthesizer{
		argv: argv,
		cfg:  cfg,
		log:  log.With(slog.String("component", "tts-exec")),
	}, nil
}

func (s *ExecSynthesizer) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	input, err := json.Marshal(synthRequest{
		Text:        req.Text,
		Voice:       req.Voice,
		Temperature: req.Temperature,
		Speed:       req.Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal synthesis request: %w", err)
	}

	cmd := exec.CommandContext(ctx, s.argv[0], s.argv[1:]...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: command killed at deadline", ErrTimeout)
		}
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("tts command failed: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("tts command failed: %w", err)
	}

	data := stdout.Bytes()
	if len(data) == 0 {
		return nil, fmt.Errorf("tts command produced no audio")
	}
	s.log.Debug("exec synthesis complete",
		slog.Int("chars", len(req.Text)),
		slog.Int("bytes", len(data)))
	return data, nil
}

// TestConnection verifies the command exists and runs end to end.
func (s *ExecSynthesizer) TestConnection(ctx context.Context) error {
	if _, err := exec.LookPath(s.argv[0]); err != nil {
		return fmt.Errorf("tts command not found: %w", err)
	}
	if _, err := s.Synthesize(ctx, Request{
		Text:        "Connection test.",
		Voice:       s.cfg.Voice,
		Temperature: s.cfg.Temperature,
		Speed:       s.cfg.Speed,
	}); err != nil {
		return fmt.Errorf("tts connection test: %w", err)
	}
	return nil
}

func (s *ExecSynthesizer) Close() error { return nil }
