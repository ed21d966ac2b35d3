package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/versolabs/verso-core/internal/store"
	"github.com/versolabs/verso-core/internal/textseg"
)

// ReprocessChunk resynthesizes one chunk with the stretched regen
// deadline and records a new audio version. The chapter file is left
// alone; the operator restitches once the chunk sounds right.
func (p *Pipeline) ReprocessChunk(ctx context.Context, chunkID string) (store.AudioVersion, error) {
	chunk, err := p.store.GetChunk(chunkID)
	if err != nil {
		return store.AudioVersion{}, err
	}
	chapter, err := p.store.GetChapter(chunk.ChapterID)
	if err != nil {
		return store.AudioVersion{}, err
	}
	settings, err := p.store.GetChapterSettings(chapter.ID)
	if err != nil {
		return store.AudioVersion{}, err
	}

	prevFactor := p.gateway.TimeoutFactor
	p.gateway.TimeoutFactor = p.cfg.Pipeline.RegenTimeoutFactor
	defer func() { p.gateway.TimeoutFactor = prevFactor }()

	outcome := p.processChunk(ctx, chunk, settings, p.chapterBase(chapter))
	if !outcome.completed {
		return store.AudioVersion{}, fmt.Errorf("reprocess chunk %d: %s", chunk.Number, outcome.errMsg)
	}
	return p.store.ActiveAudioVersion(chunk.ID)
}

// SetChunkParams records per-chunk voice, temperature, and speed
// overrides. They apply on the next synthesis of the chunk; zero
// values fall back to the chapter settings.
func (p *Pipeline) SetChunkParams(chunkID, voice string, temperature, speed float64) (store.Chunk, error) {
	if err := p.store.UpdateChunkParams(chunkID, voice, temperature, speed); err != nil {
		return store.Chunk{}, err
	}
	return p.store.GetChunk(chunkID)
}

// MarkChunkForReprocess flags a completed chunk so the next batch
// reprocess picks it up, without synthesizing anything now.
func (p *Pipeline) MarkChunkForReprocess(chunkID string) (store.Chunk, error) {
	if _, err := p.store.GetChunk(chunkID); err != nil {
		return store.Chunk{}, err
	}
	if err := p.store.UpdateChunkStatus(chunkID, store.StatusNeedsReprocess, ""); err != nil {
		return store.Chunk{}, err
	}
	return p.store.GetChunk(chunkID)
}

// UpdateChunkText replaces a chunk's text and immediately reprocesses
// it, so edit-and-fix is one operation for the caller.
func (p *Pipeline) UpdateChunkText(ctx context.Context, chunkID, text string) (store.AudioVersion, error) {
	cleaned := textseg.Clean(text, textseg.CleanOptions{
		ForceAUSpelling:  p.cfg.Text.ForceAUSpelling,
		EnsureTerminator: p.cfg.Text.EnsureTerminator,
	})
	if cleaned == "" {
		return store.AudioVersion{}, fmt.Errorf("replacement text is empty after cleaning")
	}
	if err := p.store.UpdateChunkText(chunkID, cleaned); err != nil {
		return store.AudioVersion{}, err
	}
	return p.ReprocessChunk(ctx, chunkID)
}

// BatchReprocess reruns every chunk in a chapter that failed, was
// flagged, or scored below the verification threshold. A fixed delay
// between chunks keeps the provider cadence polite. Returns how many
// chunks were recovered.
func (p *Pipeline) BatchReprocess(ctx context.Context, chapterID string) (int, error) {
	chapter, err := p.store.GetChapter(chapterID)
	if err != nil {
		return 0, err
	}
	settings, err := p.store.GetChapterSettings(chapterID)
	if err != nil {
		return 0, err
	}
	candidates, err := p.store.ReprocessCandidates(chapterID, p.cfg.Verification.Threshold)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	p.log.Info("batch reprocess starting",
		slog.String("chapter_id", chapterID),
		slog.Int("candidates", len(candidates)))

	prevFactor := p.gateway.TimeoutFactor
	p.gateway.TimeoutFactor = p.cfg.Pipeline.RegenTimeoutFactor
	defer func() { p.gateway.TimeoutFactor = prevFactor }()

	base := p.chapterBase(chapter)
	delay := time.Duration(p.cfg.Pipeline.ReprocessDelayMS) * time.Millisecond

	recovered := 0
	for i, chunk := range candidates {
		if i > 0 && delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return recovered, ctx.Err()
			}
		}
		outcome := p.processChunk(ctx, chunk, settings, base)
		if outcome.completed {
			recovered++
		}
	}

	if recovered > 0 {
		if _, err := p.Restitch(ctx, chapterID, nil); err != nil {
			return recovered, fmt.Errorf("restitch after batch reprocess: %w", err)
		}
	}
	return recovered, nil
}

// InsertChunk adds new narration text at a slot inside an existing
// chapter, shifting later chunks up. The chunk lands pending; the
// operator synthesizes it with a reprocess call and restitches when
// ready, so inserting several chunks costs one stitch, not one each.
func (p *Pipeline) InsertChunk(ctx context.Context, chapterID string, number int, text string) (store.Chunk, error) {
	cleaned := textseg.Clean(text, textseg.CleanOptions{
		ForceAUSpelling:  p.cfg.Text.ForceAUSpelling,
		EnsureTerminator: p.cfg.Text.EnsureTerminator,
	})
	if cleaned == "" {
		return store.Chunk{}, fmt.Errorf("inserted text is empty after cleaning")
	}
	if _, err := p.store.GetChapter(chapterID); err != nil {
		return store.Chunk{}, err
	}
	return p.store.InsertChunkAt(chapterID, number, cleaned)
}

// Restitch rebuilds the chapter file from stored chunk audio without
// any synthesis, optionally leaving chunks out by number. At least one
// chunk must remain included.
func (p *Pipeline) Restitch(ctx context.Context, chapterID string, excluded []int) (store.ChapterAudioVersion, error) {
	chapter, err := p.store.GetChapter(chapterID)
	if err != nil {
		return store.ChapterAudioVersion{}, err
	}

	suffix := ""
	if _, err := p.store.ActiveChapterAudioVersion(chapterID); err == nil {
		// Later stitches get timestamped names so earlier files survive
		// for comparison.
		suffix = "_restitch_" + time.Now().UTC().Format("20060102_150405")
	}

	outPath, _, err := p.stitchChapter(ctx, chapter, p.chapterBase(chapter), suffix, excluded)
	if err != nil {
		return store.ChapterAudioVersion{}, err
	}
	p.log.Info("chapter restitched",
		slog.String("chapter_id", chapterID),
		slog.String("output", outPath),
		slog.Int("excluded", len(excluded)))
	return p.store.ActiveChapterAudioVersion(chapterID)
}

// Summary exposes the store's chapter roll-up for the HTTP and CLI
// surfaces.
func (p *Pipeline) Summary(chapterID string) (store.ChapterSummary, error) {
	return p.store.ChapterSummary(chapterID)
}

// WordMap returns the chapter-wide word timeline. Empty unless word
// timings were captured during verification.
func (p *Pipeline) WordMap(chapterID string) ([]store.ChapterWord, error) {
	if _, err := p.store.GetChapter(chapterID); err != nil {
		return nil, err
	}
	return p.store.ChapterWordMap(chapterID)
}
