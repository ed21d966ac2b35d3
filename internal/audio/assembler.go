package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/versolabs/verso-core/internal/config"
)

// ErrNoChunks is returned when stitching is requested with no input.
var ErrNoChunks = errors.New("no audio chunks provided")

// Assembler stitches per-chunk audio into a continuous track and owns
// the WAV container conventions for everything the pipeline writes.
type Assembler struct {
	cfg config.AudioConfig
	log *slog.Logger
}

func NewAssembler(cfg config.AudioConfig, log *slog.Logger) *Assembler {
	return &Assembler{
		cfg: cfg,
		log: log.With(slog.String("component", "assembler")),
	}
}

// Decode parses chunk audio into interleaved samples. WAV input is
// decoded through its own header; headerless input is treated as raw
// 16-bit little-endian PCM at the configured format, which is what the
// synthesis providers return.
func (a *Assembler) Decode(data []byte) (*gaudio.IntBuffer, error) {
	if len(data) == 0 {
		return nil, errors.New("empty audio payload")
	}
	if bytes.HasPrefix(data, []byte("RIFF")) {
		dec := wav.NewDecoder(bytes.NewReader(data))
		buf, err := dec.FullPCMBuffer()
		if err != nil {
			return nil, fmt.Errorf("decode wav: %w", err)
		}
		return buf, nil
	}
	return a.decodeRawPCM(data)
}

func (a *Assembler) decodeRawPCM(data []byte) (*gaudio.IntBuffer, error) {
	if len(data)%2 != 0 {
		return nil, errors.New("raw pcm payload not 16-bit aligned")
	}
	samples := make([]int, len(data)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	return &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: a.cfg.Channels, SampleRate: a.cfg.SampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}, nil
}

// Stitch concatenates chunk audio in input order, applying a short fade
// out to every non-last chunk and fade in to every non-first chunk so
// splice points do not click, then optionally peak-normalizes the
// result. A single input is returned unchanged.
func (a *Assembler) Stitch(chunks [][]byte) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}
	if len(chunks) == 1 {
		return chunks[0], nil
	}

	a.log.Info("stitching audio chunks", slog.Int("count", len(chunks)))

	var combined []int
	for i, chunk := range chunks {
		buf, err := a.Decode(chunk)
		if err != nil {
			return nil, fmt.Errorf("decode chunk %d: %w", i+1, err)
		}
		samples := buf.Data
		if i > 0 {
			a.fadeIn(samples)
		}
		if i < len(chunks)-1 {
			a.fadeOut(samples)
		}
		combined = append(combined, samples...)
	}

	if a.cfg.Normalize {
		normalizePeak(combined)
	}

	return a.EncodeWAV(combined), nil
}

func (a *Assembler) fadeSamples() int {
	return a.cfg.FadeMS * a.cfg.SampleRate / 1000 * a.cfg.Channels
}

func (a *Assembler) fadeIn(samples []int) {
	n := a.fadeSamples()
	if n > len(samples) {
		n = len(samples)
	}
	for i := 0; i < n; i++ {
		samples[i] = samples[i] * i / n
	}
}

func (a *Assembler) fadeOut(samples []int) {
	n := a.fadeSamples()
	if n > len(samples) {
		n = len(samples)
	}
	offset := len(samples) - n
	for i := 0; i < n; i++ {
		samples[offset+i] = samples[offset+i] * (n - i) / n
	}
}

// normalizePeak scales samples so the loudest peak sits just under full
// scale. Silence is left untouched.
func normalizePeak(samples []int) {
	peak := 0
	for _, s := range samples {
		if s > peak {
			peak = s
		}
		if -s > peak {
			peak = -s
		}
	}
	if peak == 0 {
		return
	}
	const target = 32440 // ~ -0.5 dBFS for 16-bit
	if peak >= target {
		return
	}
	for i, s := range samples {
		samples[i] = s * target / peak
	}
}

// EncodeWAV serializes interleaved 16-bit samples into a canonical WAV
// container at the configured sample rate and channel count.
func (a *Assembler) EncodeWAV(samples []int) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s)))
	}
	return a.WrapRawPCM(pcm)
}

// WrapRawPCM prefixes raw 16-bit PCM with a canonical RIFF/WAVE header.
func (a *Assembler) WrapRawPCM(pcm []byte) []byte {
	sampleRate := a.cfg.SampleRate
	channels := a.cfg.Channels
	bitsPerSample := 16
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	var header bytes.Buffer
	header.WriteString("RIFF")
	binary.Write(&header, binary.LittleEndian, uint32(36+len(pcm)))
	header.WriteString("WAVE")
	header.WriteString("fmt ")
	binary.Write(&header, binary.LittleEndian, uint32(16))
	binary.Write(&header, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&header, binary.LittleEndian, uint16(channels))
	binary.Write(&header, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&header, binary.LittleEndian, uint32(byteRate))
	binary.Write(&header, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&header, binary.LittleEndian, uint16(bitsPerSample))
	header.WriteString("data")
	binary.Write(&header, binary.LittleEndian, uint32(len(pcm)))

	return append(header.Bytes(), pcm...)
}

// SaveWAV writes chunk audio to disk, wrapping headerless payloads so
// every file on disk is a self-describing container.
func (a *Assembler) SaveWAV(data []byte, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create audio dir: %w", err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		data = a.WrapRawPCM(data)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write audio file: %w", err)
	}
	a.log.Debug("audio saved", slog.String("path", path), slog.Int("bytes", len(data)))
	return nil
}
