package stt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/versolabs/verso-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestMockScriptsInOrder(t *testing.T) {
	m := NewMockTranscriber(
		Transcript{Text: "first"},
		Transcript{Text: "second"},
	)
	ctx := context.Background()

	a, err := m.Transcribe(ctx, []byte{1})
	if err != nil || a.Text != "first" {
		t.Fatalf("unexpected first transcript: %v %v", a, err)
	}
	b, _ := m.Transcribe(ctx, []byte{1})
	if b.Text != "second" {
		t.Fatalf("unexpected second transcript: %v", b)
	}
	// Past the script end the last entry repeats.
	c, _ := m.Transcribe(ctx, []byte{1})
	if c.Text != "second" {
		t.Fatalf("expected last script repeated, got %v", c)
	}
	if m.Calls() != 3 {
		t.Fatalf("expected 3 calls, got %d", m.Calls())
	}
}

func TestMockWithoutScriptReportsNoSpeech(t *testing.T) {
	m := NewMockTranscriber()
	if _, err := m.Transcribe(context.Background(), []byte{1}); !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("expected ErrNoSpeech, got %v", err)
	}
}

func TestNewTranscriberModes(t *testing.T) {
	cfg := config.STTConfig{Mode: "mock"}
	if _, err := NewTranscriber(cfg, newLogger()); err != nil {
		t.Fatalf("mock: %v", err)
	}

	cfg = config.STTConfig{Mode: "exec", Command: "whisper-cli --output-json", ModelPath: "/models/base.bin", Language: "en"}
	if _, err := NewTranscriber(cfg, newLogger()); err != nil {
		t.Fatalf("exec: %v", err)
	}

	cfg = config.STTConfig{Mode: "telepathy"}
	if _, err := NewTranscriber(cfg, newLogger()); err == nil {
		t.Fatal("expected unknown mode to fail")
	}
}

func TestExecTranscriberRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecTranscriber(config.STTConfig{Mode: "exec"}, newLogger()); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestExecTranscriberRejectsEmptyAudio(t *testing.T) {
	tr, err := NewExecTranscriber(config.STTConfig{Mode: "exec", Command: "whisper-cli"}, newLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := tr.Transcribe(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty audio")
	}
}
