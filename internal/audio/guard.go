package audio

import (
	"context"
	"fmt"
	"log/slog"
)

// Guard phrases are nonsense sentences wrapped around chunk text purely
// to give the synthesis model leading and trailing context. They never
// appear in real prose, so their sample spans can be measured once and
// trimmed from every synthesized chunk.
const (
	GuardStart = "Xerxes zigzag buffalo nickel chrome."
	GuardEnd   = "Plasma cookie vertigo umbrella jazz."
)

// SynthFunc produces audio bytes for a piece of text. The trimmer takes
// a function rather than a concrete client so it stays decoupled from
// the synthesis gateway.
type SynthFunc func(ctx context.Context, text string) ([]byte, error)

// GuardTrimmer wraps chunk text in guard phrases and trims the
// corresponding samples from the synthesized audio.
type GuardTrimmer struct {
	asm          *Assembler
	log          *slog.Logger
	startSamples int
	endSamples   int
}

// NewGuardTrimmer measures the guard phrases with a reference synthesis
// so later trims are sample-accurate. Measurement failure disables the
// trimmer rather than failing the pipeline.
func NewGuardTrimmer(ctx context.Context, asm *Assembler, synth SynthFunc, log *slog.Logger) *GuardTrimmer {
	g := &GuardTrimmer{asm: asm, log: log.With(slog.String("component", "guard-trimmer"))}

	startSamples, err := g.measure(ctx, synth, GuardStart)
	if err != nil {
		g.log.Warn("guard phrase measurement failed, trimming disabled", slog.String("error", err.Error()))
		return g
	}
	endSamples, err := g.measure(ctx, synth, GuardEnd)
	if err != nil {
		g.log.Warn("guard phrase measurement failed, trimming disabled", slog.String("error", err.Error()))
		return g
	}

	g.startSamples = startSamples
	g.endSamples = endSamples
	g.log.Info("guard phrases measured",
		slog.Int("start_samples", startSamples),
		slog.Int("end_samples", endSamples))
	return g
}

func (g *GuardTrimmer) measure(ctx context.Context, synth SynthFunc, phrase string) (int, error) {
	data, err := synth(ctx, phrase)
	if err != nil {
		return 0, fmt.Errorf("synthesize guard phrase: %w", err)
	}
	buf, err := g.asm.Decode(data)
	if err != nil {
		return 0, fmt.Errorf("decode guard phrase: %w", err)
	}
	return len(buf.Data), nil
}

// Enabled reports whether both guard spans were measured.
func (g *GuardTrimmer) Enabled() bool {
	return g.startSamples > 0 && g.endSamples > 0
}

// Wrap surrounds chunk text with the guard phrases.
func (g *GuardTrimmer) Wrap(text string) string {
	return GuardStart + " " + text + " " + GuardEnd
}

// Trim removes the measured guard spans from synthesized audio and
// returns canonical WAV bytes. When the audio is shorter than the guard
// spans the input is returned untrimmed; losing real samples would be
// worse than keeping the guards.
func (g *GuardTrimmer) Trim(data []byte) ([]byte, error) {
	buf, err := g.asm.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode for guard trim: %w", err)
	}
	samples := buf.Data
	if len(samples) <= g.startSamples+g.endSamples {
		g.log.Warn("audio shorter than guard spans, returning untrimmed",
			slog.Int("samples", len(samples)))
		return g.asm.EncodeWAV(samples), nil
	}
	trimmed := samples[g.startSamples : len(samples)-g.endSamples]
	return g.asm.EncodeWAV(trimmed), nil
}
