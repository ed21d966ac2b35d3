package tts

import (
	"context"
	"errors"
)

// Request carries one synthesis call. Voice settings ride along with the
// text so per-chapter overrides reach the backend without global state.
type Request struct {
	Text        string
	Voice       string
	Temperature float64
	Speed       float64
}

// Synthesizer turns text into audio bytes. Implementations return either
// a complete WAV container or raw 16-bit PCM at the configured format;
// the assembler handles both.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
	TestConnection(ctx context.Context) error
	Close() error
}

var (
	// ErrEmptyText is returned when a request carries no text.
	ErrEmptyText = errors.New("tts: empty text")

	// ErrRateLimited marks a provider rejection that is worth retrying
	// after a pause.
	ErrRateLimited = errors.New("tts: rate limited")

	// ErrTimeout marks a synthesis call that exceeded its deadline.
	ErrTimeout = errors.New("tts: synthesis timed out")
)
