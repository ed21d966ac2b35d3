package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/versolabs/verso-core/internal/config"
)

// ExecTranscriber shells out to a whisper-style CLI. The audio is
// written to a temp file, the command is invoked with --audio/--model/
// --language flags, and the transcript is read back as JSON from
// stdout.
type ExecTranscriber struct {
	argv []string
	cfg  config.STTConfig
	log  *slog.Logger
}

// execTranscript mirrors the whisper CLI output shape. Word-level
// segments are optional; not every model emits them.
type execTranscript struct {
	Text  string `json:"text"`
	Words []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words,omitempty"`
}

func NewExecTranscriber(cfg config.STTConfig, log *slog.Logger) (*ExecTranscriber, error) {
	argv, err := shellwords.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &ExecTranscriber{
		argv: argv,
		cfg:  cfg,
		log:  log.With(slog.String("component", "stt-exec")),
	}, nil
}

func (t *ExecTranscriber) Transcribe(ctx context.Context, audio []byte) (Transcript, error) {
	if len(audio) == 0 {
		return Transcript{}, fmt.Errorf("empty audio payload")
	}

	dir, err := os.MkdirTemp("", "verso-stt-*")
	if err != nil {
		return Transcript{}, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	audioPath := filepath.Join(dir, "chunk.wav")
	if err := os.WriteFile(audioPath, audio, 0o644); err != nil {
		return Transcript{}, fmt.Errorf("write temp audio: %w", err)
	}

	args := append([]string{}, t.argv[1:]...)
	args = append(args, "--audio", audioPath)
	if t.cfg.ModelPath != "" {
		args = append(args, "--model", t.cfg.ModelPath)
	}
	if t.cfg.Language != "" {
		args = append(args, "--language", t.cfg.Language)
	}

	cmd := exec.CommandContext(ctx, t.argv[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return Transcript{}, fmt.Errorf("stt command failed: %w: %s", err, detail)
		}
		return Transcript{}, fmt.Errorf("stt command failed: %w", err)
	}

	var raw execTranscript
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		// Some CLIs emit plain text instead of JSON.
		text := strings.TrimSpace(stdout.String())
		if text == "" {
			return Transcript{}, ErrNoSpeech
		}
		return Transcript{Text: text}, nil
	}

	out := Transcript{Text: strings.TrimSpace(raw.Text)}
	if out.Text == "" {
		return Transcript{}, ErrNoSpeech
	}
	for _, w := range raw.Words {
		out.WordTimings = append(out.WordTimings, WordTiming{
			Word:  strings.TrimSpace(w.Word),
			Start: w.Start,
			End:   w.End,
		})
	}
	t.log.Debug("transcription complete",
		slog.Int("audio_bytes", len(audio)),
		slog.Int("words", len(out.WordTimings)))
	return out, nil
}

func (t *ExecTranscriber) Close() error { return nil }
