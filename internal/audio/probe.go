package audio

import (
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"
)

// Info describes a WAV file on disk.
type Info struct {
	Path       string
	SizeBytes  int64
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// Report is the outcome of validating a file against the configured
// target quality settings.
type Report struct {
	Info              Info
	MeetsRequirements bool
	Mismatches        []string
}

// Probe reads container metadata and duration from a WAV file.
func (a *Assembler) Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return Info{}, fmt.Errorf("stat audio file: %w", err)
	}

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return Info{}, fmt.Errorf("not a valid wav file: %s", path)
	}
	dur, err := dec.Duration()
	if err != nil {
		return Info{}, fmt.Errorf("read wav duration: %w", err)
	}

	return Info{
		Path:       path,
		SizeBytes:  stat.Size(),
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
		Duration:   dur,
	}, nil
}

// Validate probes a produced file and flags every deviation from the
// configured quality settings. Mismatches are reported, not fatal.
func (a *Assembler) Validate(path string) (Report, error) {
	info, err := a.Probe(path)
	if err != nil {
		return Report{}, err
	}

	report := Report{Info: info, MeetsRequirements: true}
	fail := func(msg string) {
		report.MeetsRequirements = false
		report.Mismatches = append(report.Mismatches, msg)
	}

	if info.SampleRate != a.cfg.SampleRate {
		fail(fmt.Sprintf("sample rate %d != configured %d", info.SampleRate, a.cfg.SampleRate))
	}
	if info.Channels != a.cfg.Channels {
		fail(fmt.Sprintf("channels %d != configured %d", info.Channels, a.cfg.Channels))
	}
	if info.BitDepth != a.cfg.BitDepth {
		fail(fmt.Sprintf("bit depth %d != configured %d", info.BitDepth, a.cfg.BitDepth))
	}
	if info.SizeBytes == 0 {
		fail("file is empty")
	}
	if info.Duration <= 0 {
		fail("no audio data")
	}

	for _, m := range report.Mismatches {
		a.log.Warn("audio quality mismatch", "path", path, "mismatch", m)
	}
	return report, nil
}
