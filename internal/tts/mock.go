package tts

import (
	"context"
	"encoding/binary"
	"strings"
	"sync"
)

// MockSynthesizer produces deterministic raw PCM proportional to word
// count. It exists for development runs and tests, where real synthesis
// latency and provider accounts are unwanted.
type MockSynthesizer struct {
	mu sync.Mutex

	// SamplesPerWord controls how much audio each word yields.
	SamplesPerWord int

	// Err, when set, is returned by the next ErrCount calls before the
	// mock recovers. Tests use it to script transient failures.
	Err      error
	ErrCount int

	// Calls records every synthesized text in order. Requests keeps the
	// full request so tests can assert on voice and prosody parameters.
	Calls    []string
	Requests []Request
}

func NewMockSynthesizer() *MockSynthesizer {
	return &MockSynthesizer{SamplesPerWord: 800}
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req.Text)
	m.Requests = append(m.Requests, req)
	if m.Err != nil && m.ErrCount != 0 {
		if m.ErrCount > 0 {
			m.ErrCount--
		}
		return nil, m.Err
	}

	words := len(strings.Fields(req.Text))
	if words == 0 {
		return nil, ErrEmptyText
	}
	samples := words * m.SamplesPerWord
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(2000)))
	}
	return data, nil
}

func (m *MockSynthesizer) TestConnection(ctx context.Context) error { return ctx.Err() }

func (m *MockSynthesizer) Close() error { return nil }
