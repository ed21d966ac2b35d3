package stt

import (
	"context"
	"sync"
)

// MockTranscriber returns scripted transcripts in order, then repeats
// the last one. With no script it echoes nothing, which callers treat
// as recognition failure.
type MockTranscriber struct {
	mu      sync.Mutex
	Scripts []Transcript
	Err     error
	calls   int
}

func NewMockTranscriber(scripts ...Transcript) *MockTranscriber {
	return &MockTranscriber{Scripts: scripts}
}

func (m *MockTranscriber) Transcribe(ctx context.Context, audio []byte) (Transcript, error) {
	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.Err != nil {
		return Transcript{}, m.Err
	}
	if len(m.Scripts) == 0 {
		return Transcript{}, ErrNoSpeech
	}
	idx := m.calls - 1
	if idx >= len(m.Scripts) {
		idx = len(m.Scripts) - 1
	}
	return m.Scripts[idx], nil
}

func (m *MockTranscriber) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockTranscriber) Close() error { return nil }
