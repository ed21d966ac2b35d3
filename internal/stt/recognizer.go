package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/versolabs/verso-core/internal/config"
)

// WordTiming is one recognized word with its position in the audio.
type WordTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Transcript is the result of recognizing one piece of audio.
type Transcript struct {
	Text        string       `json:"text"`
	WordTimings []WordTiming `json:"word_timings,omitempty"`
}

// Transcriber converts audio bytes back into text. The pipeline uses it
// to check that synthesized audio actually says what the chunk text
// says.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (Transcript, error)
	Close() error
}

// ErrNoSpeech is returned when recognition yields no text at all.
var ErrNoSpeech = errors.New("stt: no speech recognized")

// NewTranscriber builds the configured recognition backend.
func NewTranscriber(cfg config.STTConfig, log *slog.Logger) (Transcriber, error) {
	switch cfg.Mode {
	case "exec":
		return NewExecTranscriber(cfg, log)
	case "mock":
		return NewMockTranscriber(), nil
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}
