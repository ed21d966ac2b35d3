package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/versolabs/verso-core/internal/store"
	"github.com/versolabs/verso-core/internal/tts"
)

type chunkOutcome struct {
	completed bool
	status    string
	accuracy  float64
	errMsg    string
}

// processChunk synthesizes, verifies, and persists one chunk. Only
// synthesis or persistence errors fail the chunk; a verification score
// below threshold is a normal outcome recorded on the version so batch
// reprocessing can pick the chunk up later. Failures never propagate as
// errors because the chapter run continues around them.
func (p *Pipeline) processChunk(ctx context.Context, chunk store.Chunk, settings store.ChapterSettings, base string) chunkOutcome {
	fail := func(msg string) chunkOutcome {
		p.metrics.chunksFailed.Add(ctx, 1)
		if err := p.store.UpdateChunkStatus(chunk.ID, store.StatusFailed, msg); err != nil {
			p.log.Error("failed to record chunk failure", slog.String("error", err.Error()))
		}
		return chunkOutcome{status: store.StatusFailed, errMsg: msg}
	}

	if err := p.store.UpdateChunkStatus(chunk.ID, store.StatusProcessing, ""); err != nil {
		return fail(fmt.Sprintf("mark processing: %s", err))
	}

	text := chunk.Text
	if p.trimmer != nil && p.trimmer.Enabled() {
		text = p.trimmer.Wrap(text)
	}

	started := time.Now()
	data, err := p.gateway.Synthesize(ctx, tts.Request{
		Text:        text,
		Voice:       pickString(chunk.Voice, settings.Voice),
		Temperature: pickFloat(chunk.Temperature, settings.Temperature),
		Speed:       pickFloat(chunk.Speed, settings.Speed),
	})
	if err != nil {
		return fail(fmt.Sprintf("synthesis: %s", err))
	}
	p.metrics.synthSeconds.Record(ctx, time.Since(started).Seconds())

	if p.trimmer != nil && p.trimmer.Enabled() {
		trimmed, err := p.trimmer.Trim(data)
		if err != nil {
			p.log.Warn("guard trim failed, keeping untrimmed audio",
				slog.Int("chunk_number", chunk.Number),
				slog.String("error", err.Error()))
		} else {
			data = trimmed
		}
	}

	wavPath := p.chunkWavPath(chunk, base)
	if err := p.asm.SaveWAV(data, wavPath); err != nil {
		return fail(fmt.Sprintf("save audio: %s", err))
	}
	if err := p.writeArtifact(p.chunkPath(base, chunk.Number, ".txt"), chunk.Text); err != nil {
		p.log.Warn("failed to write chunk text artifact", slog.String("error", err.Error()))
	}

	result := p.verifier.Verify(ctx, chunk.Text, data)
	if result.Transcript != "" {
		if err := p.writeArtifact(p.chunkPath(base, chunk.Number, "_transcription.txt"), result.Transcript); err != nil {
			p.log.Warn("failed to write transcription artifact", slog.String("error", err.Error()))
		}
		if err := p.verifier.WriteDiffHTML(p.chunkPath(base, chunk.Number, "_diff.html"), chunk.Text, result.Transcript, result); err != nil {
			p.log.Warn("failed to write diff artifact", slog.String("error", err.Error()))
		}
	}

	// A transcriber error or a disabled run leaves the version unverified
	// rather than scored at zero.
	verified := !result.Skipped && result.ErrorMessage == ""
	duration := p.audioDuration(data)
	version, err := p.store.CreateAudioVersion(chunk.ID, wavPath, duration, result.Accuracy, verified)
	if err != nil {
		return fail(fmt.Sprintf("record audio version: %s", err))
	}
	if p.cfg.Verification.WordTimings && len(result.WordTimings) > 0 {
		if err := p.store.ReplaceWordTimings(chunk.ID, version.ID, result.WordTimings); err != nil {
			p.log.Warn("failed to store word timings", slog.String("error", err.Error()))
		}
	}

	note := ""
	if !result.Passed {
		note = result.ErrorMessage
		if note == "" {
			note = fmt.Sprintf("verification accuracy %.3f below threshold %.3f",
				result.Accuracy, p.cfg.Verification.Threshold)
		}
		p.log.Warn("verification below threshold, keeping chunk",
			slog.Int("chunk_number", chunk.Number),
			slog.Float64("accuracy", result.Accuracy),
			slog.String("note", note))
	}

	if err := p.store.UpdateChunkStatus(chunk.ID, store.StatusCompleted, note); err != nil {
		return fail(fmt.Sprintf("mark completed: %s", err))
	}
	p.metrics.chunksProcessed.Add(ctx, 1)

	p.log.Debug("chunk processed",
		slog.Int("chunk_number", chunk.Number),
		slog.Float64("accuracy", result.Accuracy),
		slog.Float64("duration_s", duration))
	return chunkOutcome{completed: true, status: store.StatusCompleted, accuracy: result.Accuracy, errMsg: note}
}

// chunkWavPath names a chunk's audio file. The first synthesis takes
// the plain stem; every later version gets a version-and-timestamp
// suffix so a reprocess never overwrites the file a prior version row
// points at.
func (p *Pipeline) chunkWavPath(chunk store.Chunk, base string) string {
	versions, err := p.store.AudioVersions(chunk.ID)
	if err != nil {
		p.log.Warn("failed to list audio versions for naming", slog.String("error", err.Error()))
	}
	if len(versions) == 0 {
		return p.chunkPath(base, chunk.Number, ".wav")
	}
	suffix := fmt.Sprintf("_v%d_%s.wav", len(versions)+1, time.Now().UTC().Format("20060102_150405"))
	return p.chunkPath(base, chunk.Number, suffix)
}

func pickString(chunkLevel, chapterLevel string) string {
	if chunkLevel != "" {
		return chunkLevel
	}
	return chapterLevel
}

func pickFloat(chunkLevel, chapterLevel float64) float64 {
	if chunkLevel != 0 {
		return chunkLevel
	}
	return chapterLevel
}

func (p *Pipeline) audioDuration(data []byte) float64 {
	buf, err := p.asm.Decode(data)
	if err != nil {
		return 0
	}
	frames := len(buf.Data) / p.cfg.Audio.Channels
	return float64(frames) / float64(p.cfg.Audio.SampleRate)
}

// stitchChapter assembles the active audio of every completed,
// non-excluded chunk in chapter order and records the result as the
// active chapter audio version.
func (p *Pipeline) stitchChapter(ctx context.Context, chapter store.Chapter, base, suffix string, excluded []int) (string, float64, error) {
	chunks, err := p.store.ChunksForChapter(chapter.ID)
	if err != nil {
		return "", 0, err
	}

	excludedSet := make(map[int]bool, len(excluded))
	for _, n := range excluded {
		excludedSet[n] = true
	}

	var (
		payloads [][]byte
		included []int
		texts    []string
	)
	for _, chunk := range chunks {
		// Verification compares against every chunk's text so missing
		// audio shows up as missing words instead of silently shrinking
		// the reference.
		if !excludedSet[chunk.Number] {
			texts = append(texts, chunk.Text)
		}
		if chunk.Status != store.StatusCompleted || excludedSet[chunk.Number] {
			continue
		}
		version, err := p.store.ActiveAudioVersion(chunk.ID)
		if err != nil {
			p.log.Warn("completed chunk has no active audio, skipping",
				slog.Int("chunk_number", chunk.Number))
			continue
		}
		data, err := os.ReadFile(version.FilePath)
		if err != nil {
			p.log.Warn("chunk audio unreadable, skipping",
				slog.Int("chunk_number", chunk.Number),
				slog.String("error", err.Error()))
			continue
		}
		payloads = append(payloads, data)
		included = append(included, chunk.Number)
	}

	if len(payloads) == 0 {
		return "", 0, ErrNoUsableChunks
	}

	stitched, err := p.asm.Stitch(payloads)
	if err != nil {
		return "", 0, fmt.Errorf("stitch chapter: %w", err)
	}

	outPath := filepath.Join(p.cfg.Pipeline.OutputDir, base+suffix+".wav")
	if err := p.asm.SaveWAV(stitched, outPath); err != nil {
		return "", 0, err
	}
	if _, err := p.asm.Validate(outPath); err != nil {
		p.log.Warn("stitched file validation failed", slog.String("error", err.Error()))
	}

	if _, err := p.store.CreateChapterAudioVersion(chapter.ID, outPath, checksum(stitched), included, excluded); err != nil {
		return "", 0, err
	}

	accuracy := 0.0
	if p.cfg.Verification.Enabled {
		result := p.verifier.Verify(ctx, strings.Join(texts, " "), stitched)
		accuracy = result.Accuracy
		if !result.Passed {
			p.log.Warn("chapter-level verification below threshold",
				slog.String("chapter_id", chapter.ID),
				slog.Float64("accuracy", accuracy))
		}
	}
	return outPath, accuracy, nil
}

func (p *Pipeline) writeArtifact(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func (p *Pipeline) writeReport(base string, report Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(p.cfg.Pipeline.OutputDir, base+"_report.json")
	return p.writeArtifact(path, string(data))
}
