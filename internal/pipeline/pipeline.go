package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/versolabs/verso-core/internal/audio"
	"github.com/versolabs/verso-core/internal/bus"
	"github.com/versolabs/verso-core/internal/config"
	"github.com/versolabs/verso-core/internal/jobs"
	"github.com/versolabs/verso-core/internal/protocol"
	"github.com/versolabs/verso-core/internal/store"
	"github.com/versolabs/verso-core/internal/textseg"
	"github.com/versolabs/verso-core/internal/tts"
	"github.com/versolabs/verso-core/internal/verify"
)

// ErrNoUsableChunks is the only fatal outcome of chapter processing:
// nothing at all could be synthesized, so there is nothing to stitch.
var ErrNoUsableChunks = errors.New("pipeline: no usable chunks")

// Pipeline orchestrates the full text-to-narration flow: segment,
// synthesize, verify, persist, stitch. Every step records its outcome
// in the store so an interrupted run resumes where it stopped.
type Pipeline struct {
	cfg      config.Config
	store    *store.Store
	seg      *textseg.Segmenter
	gateway  *tts.Gateway
	verifier *verify.Verifier
	asm      *audio.Assembler
	trimmer  *audio.GuardTrimmer
	bus      *bus.Client
	registry *jobs.Registry
	metrics  *metrics
	log      *slog.Logger
}

// Deps carries the collaborators the pipeline composes. Bus and
// trimmer may be nil.
type Deps struct {
	Store    *store.Store
	Seg      *textseg.Segmenter
	Gateway  *tts.Gateway
	Verifier *verify.Verifier
	Asm      *audio.Assembler
	Trimmer  *audio.GuardTrimmer
	Bus      *bus.Client
	Registry *jobs.Registry
}

func New(cfg config.Config, deps Deps, log *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		store:    deps.Store,
		seg:      deps.Seg,
		gateway:  deps.Gateway,
		verifier: deps.Verifier,
		asm:      deps.Asm,
		trimmer:  deps.Trimmer,
		bus:      deps.Bus,
		registry: deps.Registry,
		metrics:  newMetrics(),
		log:      log.With(slog.String("component", "pipeline")),
	}
}

// ProcessRequest describes one chapter to narrate.
type ProcessRequest struct {
	SourceFile    string
	ProjectTitle  string
	ChapterNumber int
	ChapterTitle  string
	Text          string

	// Optional per-chapter voice overrides.
	Voice       string
	Temperature float64
	Speed       float64

	// JobID, when set, attaches the run to a job the caller already
	// registered. Empty means the pipeline creates one.
	JobID string
}

// Report summarizes a finished chapter run.
type Report struct {
	JobID           string  `json:"job_id"`
	ProjectID       string  `json:"project_id"`
	ChapterID       string  `json:"chapter_id"`
	OutputPath      string  `json:"output_path,omitempty"`
	TotalChunks     int     `json:"total_chunks"`
	Completed       int     `json:"completed"`
	Failed          int     `json:"failed"`
	Resumed         int     `json:"resumed"`
	Coverage        float64 `json:"coverage"`
	ChapterAccuracy float64 `json:"chapter_accuracy,omitempty"`
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
}

// ProcessChapter runs the full pipeline for one chapter. Individual
// chunk failures degrade coverage but never abort the run; only zero
// usable chunks is fatal.
func (p *Pipeline) ProcessChapter(ctx context.Context, req ProcessRequest) (Report, error) {
	started := time.Now()

	text := textseg.Clean(req.Text, textseg.CleanOptions{
		ForceAUSpelling:  p.cfg.Text.ForceAUSpelling,
		EnsureTerminator: p.cfg.Text.EnsureTerminator,
	})
	if text == "" {
		return Report{}, errors.New("chapter text is empty after cleaning")
	}

	project, chapter, err := p.ensureChapter(req)
	if err != nil {
		return Report{}, err
	}
	if err := p.applySettings(chapter.ID, req); err != nil {
		return Report{}, err
	}

	chunks, err := p.ensureChunks(chapter.ID, text)
	if err != nil {
		return Report{}, err
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = p.registry.Create("process_chapter", chapter.ID).ID
	}
	p.registry.Update(jobID, func(j *jobs.Job) {
		j.State = jobs.StateRunning
		j.ChapterID = chapter.ID
		j.TotalChunks = len(chunks)
	})
	if err := p.store.UpdateChapterStatus(chapter.ID, store.StatusProcessing); err != nil {
		return Report{}, err
	}

	report := Report{
		JobID:       jobID,
		ProjectID:   project.ID,
		ChapterID:   chapter.ID,
		TotalChunks: len(chunks),
	}

	settings, err := p.store.GetChapterSettings(chapter.ID)
	if err != nil {
		return Report{}, err
	}

	base := p.chapterBase(chapter)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if p.canResume(chunk) {
			report.Resumed++
			report.Completed++
			p.publishProgress(jobID, chapter.ID, chunk, len(chunks), store.StatusCompleted, 0, "")
			p.registry.Update(jobID, func(j *jobs.Job) { j.DoneChunks++ })
			continue
		}

		if i > 0 {
			if err := p.gateway.Pace(ctx); err != nil {
				return report, err
			}
		}

		outcome := p.processChunk(ctx, chunk, settings, base)
		if outcome.completed {
			report.Completed++
		} else {
			report.Failed++
		}
		p.publishProgress(jobID, chapter.ID, chunk, len(chunks), outcome.status, outcome.accuracy, outcome.errMsg)
		p.registry.Update(jobID, func(j *jobs.Job) { j.DoneChunks++ })
	}

	// Second pass over failed slots with a stretched deadline. Chunks
	// that timed out at the normal deadline often succeed here.
	if report.Failed > 0 && p.cfg.Pipeline.RegenAttempts > 0 {
		recovered := p.regenerateFailed(ctx, chapter.ID, settings, base)
		report.Completed += recovered
		report.Failed -= recovered
	}

	report.Coverage = p.wordCoverage(chapter.ID, text)
	if report.Completed == 0 {
		p.store.UpdateChapterStatus(chapter.ID, store.StatusFailed)
		p.finishJob(jobID, jobs.StateFailed, ErrNoUsableChunks.Error())
		p.publishDone(jobID, chapter.ID, report, ErrNoUsableChunks.Error())
		return report, ErrNoUsableChunks
	}
	if report.Coverage < p.cfg.Pipeline.CoverageThreshold {
		p.log.Warn("chapter coverage below threshold",
			slog.String("chapter_id", chapter.ID),
			slog.Float64("coverage", report.Coverage),
			slog.Float64("threshold", p.cfg.Pipeline.CoverageThreshold))
	}

	outputPath, accuracy, err := p.stitchChapter(ctx, chapter, base, "", nil)
	if err != nil {
		p.store.UpdateChapterStatus(chapter.ID, store.StatusFailed)
		p.finishJob(jobID, jobs.StateFailed, err.Error())
		p.publishDone(jobID, chapter.ID, report, err.Error())
		return report, err
	}
	report.OutputPath = outputPath
	report.ChapterAccuracy = accuracy
	report.ElapsedSeconds = time.Since(started).Seconds()

	if err := p.writeReport(base, report); err != nil {
		p.log.Warn("failed to write chapter report", slog.String("error", err.Error()))
	}

	p.store.UpdateChapterStatus(chapter.ID, store.StatusCompleted)
	p.finishJob(jobID, jobs.StateCompleted, "")
	p.publishDone(jobID, chapter.ID, report, "")
	p.metrics.chapterSeconds.Record(ctx, report.ElapsedSeconds)

	p.log.Info("chapter processed",
		slog.String("chapter_id", chapter.ID),
		slog.Int("chunks", report.TotalChunks),
		slog.Int("failed", report.Failed),
		slog.Int("resumed", report.Resumed),
		slog.Float64("coverage", report.Coverage),
		slog.String("output", report.OutputPath))
	return report, nil
}

func (p *Pipeline) ensureChapter(req ProcessRequest) (store.Project, store.Chapter, error) {
	project, err := p.store.FindProjectBySource(req.SourceFile)
	if errors.Is(err, store.ErrNotFound) {
		title := req.ProjectTitle
		if title == "" {
			title = filepath.Base(req.SourceFile)
		}
		project, err = p.store.CreateProject(title, req.SourceFile)
	}
	if err != nil {
		return store.Project{}, store.Chapter{}, err
	}

	chapter, err := p.store.FindChapter(project.ID, req.ChapterNumber)
	if errors.Is(err, store.ErrNotFound) {
		chapter, err = p.store.CreateChapter(project.ID, req.ChapterNumber, req.ChapterTitle)
	}
	if err != nil {
		return store.Project{}, store.Chapter{}, err
	}
	return project, chapter, nil
}

func (p *Pipeline) applySettings(chapterID string, req ProcessRequest) error {
	if req.Voice == "" && req.Temperature == 0 && req.Speed == 0 {
		return nil
	}
	return p.store.SetChapterSettings(store.ChapterSettings{
		ChapterID:   chapterID,
		Voice:       req.Voice,
		Temperature: req.Temperature,
		Speed:       req.Speed,
	})
}

// ensureChunks persists the segmentation on first contact and returns
// the stored chunk rows. A chapter that was segmented before keeps its
// stored chunks so chunk numbers, edits, and audio versions survive
// restarts.
func (p *Pipeline) ensureChunks(chapterID, text string) ([]store.Chunk, error) {
	existing, err := p.store.ChunksForChapter(chapterID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	pieces := p.seg.Segment(text, p.cfg.Text.ChunkMaxChars)
	pos := 0
	for i, piece := range pieces {
		start := strings.Index(text[pos:], piece)
		if start >= 0 {
			start += pos
		} else {
			start = pos
		}
		end := start + len(piece)
		if _, err := p.store.CreateChunk(chapterID, i+1, piece, start, end); err != nil {
			return nil, err
		}
		pos = end
	}
	return p.store.ChunksForChapter(chapterID)
}

// canResume reports whether a chunk's stored audio is still valid: the
// chunk completed, the active version was synthesized from the text the
// chunk holds now, and the audio file is still on disk when filesystem
// probing is on.
func (p *Pipeline) canResume(chunk store.Chunk) bool {
	if chunk.Status != store.StatusCompleted {
		return false
	}
	version, err := p.store.ActiveAudioVersion(chunk.ID)
	if err != nil {
		return false
	}
	if version.ContentHash != "" && version.ContentHash != chunk.ContentHash {
		return false
	}
	if p.cfg.Pipeline.FilesystemResumeProbe {
		if _, err := os.Stat(version.FilePath); err != nil {
			p.log.Warn("active audio file missing, resynthesizing",
				slog.String("chunk_id", chunk.ID),
				slog.String("path", version.FilePath))
			return false
		}
	}
	return true
}

func (p *Pipeline) regenerateFailed(ctx context.Context, chapterID string, settings store.ChapterSettings, base string) int {
	chunks, err := p.store.ChunksForChapter(chapterID)
	if err != nil {
		p.log.Warn("failed to load chunks for regeneration", slog.String("error", err.Error()))
		return 0
	}

	prevFactor := p.gateway.TimeoutFactor
	p.gateway.TimeoutFactor = p.cfg.Pipeline.RegenTimeoutFactor
	defer func() { p.gateway.TimeoutFactor = prevFactor }()

	recovered := 0
	for _, chunk := range chunks {
		if chunk.Status != store.StatusFailed {
			continue
		}
		for attempt := 1; attempt <= p.cfg.Pipeline.RegenAttempts; attempt++ {
			if ctx.Err() != nil {
				return recovered
			}
			p.log.Info("regenerating failed chunk",
				slog.Int("chunk_number", chunk.Number),
				slog.Int("attempt", attempt))
			outcome := p.processChunk(ctx, chunk, settings, base)
			if outcome.completed {
				recovered++
				break
			}
		}
	}
	return recovered
}

// wordCoverage is the fraction of the chapter's words carried by
// completed chunks. Counting words instead of chunks keeps one long
// failed chunk from looking as cheap as a short one.
func (p *Pipeline) wordCoverage(chapterID, text string) float64 {
	total := textseg.WordCount(text)
	if total == 0 {
		return 0
	}
	chunks, err := p.store.ChunksForChapter(chapterID)
	if err != nil {
		p.log.Warn("failed to load chunks for coverage", slog.String("error", err.Error()))
		return 0
	}
	covered := 0
	for _, chunk := range chunks {
		if chunk.Status == store.StatusCompleted {
			covered += textseg.WordCount(chunk.Text)
		}
	}
	if covered > total {
		return 1
	}
	return float64(covered) / float64(total)
}

func (p *Pipeline) finishJob(jobID, state, errMsg string) {
	p.registry.Update(jobID, func(j *jobs.Job) {
		j.State = state
		j.Error = errMsg
	})
}

func (p *Pipeline) publishProgress(jobID, chapterID string, chunk store.Chunk, total int, status string, accuracy float64, errMsg string) {
	err := p.bus.PublishJSON(protocol.SubjectChunkProgress, protocol.ChunkProgress{
		JobID:       jobID,
		ChapterID:   chapterID,
		ChunkID:     chunk.ID,
		ChunkNumber: chunk.Number,
		TotalChunks: total,
		Status:      status,
		Accuracy:    accuracy,
		Error:       errMsg,
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		p.log.Debug("progress publish failed", slog.String("error", err.Error()))
	}
}

func (p *Pipeline) publishDone(jobID, chapterID string, report Report, errMsg string) {
	err := p.bus.PublishJSON(protocol.SubjectChapterDone, protocol.ChapterDone{
		JobID:        jobID,
		ChapterID:    chapterID,
		FilePath:     report.OutputPath,
		TotalChunks:  report.TotalChunks,
		FailedChunks: report.Failed,
		Coverage:     report.Coverage,
		Succeeded:    errMsg == "",
		Error:        errMsg,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		p.log.Debug("done publish failed", slog.String("error", err.Error()))
	}
}

var unsafePathRe = regexp.MustCompile(`[^a-z0-9]+`)

// chapterBase is the filename stem shared by every artifact of a
// chapter: chunk audio, transcripts, diffs, the stitched file, and the
// report.
func (p *Pipeline) chapterBase(chapter store.Chapter) string {
	title := strings.ToLower(strings.TrimSpace(chapter.Title))
	title = unsafePathRe.ReplaceAllString(title, "_")
	title = strings.Trim(title, "_")
	if title == "" {
		return fmt.Sprintf("chapter_%02d", chapter.Number)
	}
	return fmt.Sprintf("chapter_%02d_%s", chapter.Number, title)
}

func (p *Pipeline) chunkPath(base string, number int, ext string) string {
	return filepath.Join(p.cfg.Pipeline.OutputDir, fmt.Sprintf("%s_chunk_%03d%s", base, number, ext))
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
