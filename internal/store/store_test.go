package store

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/versolabs/verso-core/internal/config"
	"github.com/versolabs/verso-core/internal/stt"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")}
	s, err := Open(cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedChapter(t *testing.T, s *Store) Chapter {
	t.Helper()
	p, err := s.CreateProject("Test Book", "/tmp/book.txt")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	ch, err := s.CreateChapter(p.ID, 1, "Chapter One")
	if err != nil {
		t.Fatalf("create chapter: %v", err)
	}
	return ch
}

func TestProjectRoundTrip(t *testing.T) {
	s := newStore(t)
	p, err := s.CreateProject("My Book", "/books/my.txt")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.FindProjectBySource("/books/my.txt")
	if err != nil {
		t.Fatalf("find by source: %v", err)
	}
	if got.ID != p.ID || got.Title != "My Book" {
		t.Fatalf("unexpected project: %+v", got)
	}
	if _, err := s.FindProjectBySource("/nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChunkLifecycle(t *testing.T) {
	s := newStore(t)
	ch := seedChapter(t, s)

	c, err := s.CreateChunk(ch.ID, 1, "Some chunk text.", 0, 16)
	if err != nil {
		t.Fatalf("create chunk: %v", err)
	}
	if c.Status != StatusPending || c.ContentHash == "" {
		t.Fatalf("unexpected new chunk: %+v", c)
	}

	if err := s.UpdateChunkStatus(c.ID, StatusProcessing, ""); err != nil {
		t.Fatalf("to processing: %v", err)
	}
	if err := s.UpdateChunkStatus(c.ID, StatusCompleted, ""); err != nil {
		t.Fatalf("to completed: %v", err)
	}
	// Re-applying the same status is a no-op, not an error.
	if err := s.UpdateChunkStatus(c.ID, StatusCompleted, ""); err != nil {
		t.Fatalf("idempotent update: %v", err)
	}

	got, err := s.GetChunk(c.ID)
	if err != nil {
		t.Fatalf("get chunk: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("unexpected status: %s", got.Status)
	}

	if err := s.UpdateChunkStatus("missing", StatusFailed, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestContentHashChangesWithText(t *testing.T) {
	s := newStore(t)
	ch := seedChapter(t, s)
	c, err := s.CreateChunk(ch.ID, 1, "original", 0, 8)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.UpdateChunkText(c.ID, "revised"); err != nil {
		t.Fatalf("update text: %v", err)
	}
	got, _ := s.GetChunk(c.ID)
	if got.ContentHash == c.ContentHash {
		t.Fatal("hash should change with text")
	}
	if got.Status != StatusPending {
		t.Fatalf("edited chunk should return to pending, got %s", got.Status)
	}
}

func TestInsertChunkAtKeepsNumberingContiguous(t *testing.T) {
	s := newStore(t)
	ch := seedChapter(t, s)
	for i := 1; i <= 3; i++ {
		if _, err := s.CreateChunk(ch.ID, i, "chunk", 0, 0); err != nil {
			t.Fatalf("create chunk %d: %v", i, err)
		}
	}

	inserted, err := s.InsertChunkAt(ch.ID, 2, "inserted text")
	if err != nil {
		t.Fatalf("insert at: %v", err)
	}
	if inserted.Number != 2 {
		t.Fatalf("expected number 2, got %d", inserted.Number)
	}

	chunks, err := s.ChunksForChapter(ch.ID)
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Number != i+1 {
			t.Fatalf("numbering gap at index %d: %d", i, c.Number)
		}
	}
	if chunks[1].Text != "inserted text" {
		t.Fatalf("inserted chunk not at slot 2: %q", chunks[1].Text)
	}
}

func TestAudioVersionMonotonicAndSingleActive(t *testing.T) {
	s := newStore(t)
	ch := seedChapter(t, s)
	c, _ := s.CreateChunk(ch.ID, 1, "text", 0, 0)

	v1, err := s.CreateAudioVersion(c.ID, "/out/c1_v1.wav", 1.5, 0.99, true)
	if err != nil {
		t.Fatalf("version 1: %v", err)
	}
	v2, err := s.CreateAudioVersion(c.ID, "/out/c1_v2.wav", 1.6, 0.97, true)
	if err != nil {
		t.Fatalf("version 2: %v", err)
	}
	if v1.Version != 1 || v2.Version != 2 {
		t.Fatalf("versions not monotonic: %d, %d", v1.Version, v2.Version)
	}
	if v1.ContentHash != c.ContentHash {
		t.Fatalf("version should carry the chunk's content hash: %q vs %q", v1.ContentHash, c.ContentHash)
	}

	active, err := s.ActiveAudioVersion(c.ID)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active.ID != v2.ID {
		t.Fatal("latest version should be active")
	}

	all, err := s.AudioVersions(c.ID)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	activeCount := 0
	for _, v := range all {
		if v.IsActive {
			activeCount++
		}
	}
	if activeCount != 1 {
		t.Fatalf("expected exactly one active version, got %d", activeCount)
	}
}

func TestChapterAudioVersionRoundTrip(t *testing.T) {
	s := newStore(t)
	ch := seedChapter(t, s)

	v1, err := s.CreateChapterAudioVersion(ch.ID, "/out/ch1.wav", "abc123", []int{1, 2, 3}, nil)
	if err != nil {
		t.Fatalf("chapter version 1: %v", err)
	}
	v2, err := s.CreateChapterAudioVersion(ch.ID, "/out/ch1_restitch.wav", "def456", []int{1, 3}, []int{2})
	if err != nil {
		t.Fatalf("chapter version 2: %v", err)
	}
	if v1.Version != 1 || v2.Version != 2 {
		t.Fatalf("chapter versions not monotonic")
	}

	active, err := s.ActiveChapterAudioVersion(ch.ID)
	if err != nil {
		t.Fatalf("active chapter version: %v", err)
	}
	if active.ID != v2.ID {
		t.Fatal("latest stitch should be active")
	}
	if len(active.IncludedChunks) != 2 || active.ExcludedChunks[0] != 2 {
		t.Fatalf("inclusion lists not preserved: %+v", active)
	}
	if active.Checksum != "def456" {
		t.Fatalf("checksum not preserved: %s", active.Checksum)
	}
}

func TestReprocessCandidates(t *testing.T) {
	s := newStore(t)
	ch := seedChapter(t, s)

	good, _ := s.CreateChunk(ch.ID, 1, "good", 0, 0)
	failed, _ := s.CreateChunk(ch.ID, 2, "failed", 0, 0)
	flagged, _ := s.CreateChunk(ch.ID, 3, "flagged", 0, 0)
	lowScore, _ := s.CreateChunk(ch.ID, 4, "low score", 0, 0)
	zeroScore, _ := s.CreateChunk(ch.ID, 5, "zero score", 0, 0)
	unverified, _ := s.CreateChunk(ch.ID, 6, "unverified", 0, 0)

	s.UpdateChunkStatus(good.ID, StatusCompleted, "")
	s.CreateAudioVersion(good.ID, "/out/1.wav", 1, 0.99, true)
	s.UpdateChunkStatus(failed.ID, StatusFailed, "synthesis exploded")
	s.UpdateChunkStatus(flagged.ID, StatusNeedsReprocess, "")
	s.UpdateChunkStatus(lowScore.ID, StatusCompleted, "")
	s.CreateAudioVersion(lowScore.ID, "/out/4.wav", 1, 0.5, true)

	// A verified zero is a real score; an unverified version has no
	// score at all and must not look like one.
	s.UpdateChunkStatus(zeroScore.ID, StatusCompleted, "")
	s.CreateAudioVersion(zeroScore.ID, "/out/5.wav", 1, 0, true)
	s.UpdateChunkStatus(unverified.ID, StatusCompleted, "")
	s.CreateAudioVersion(unverified.ID, "/out/6.wav", 1, 0, false)

	candidates, err := s.ReprocessCandidates(ch.ID, 0.85)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(candidates) != 4 {
		t.Fatalf("expected 4 candidates, got %d: %+v", len(candidates), candidates)
	}
	numbers := map[int]bool{}
	for _, c := range candidates {
		numbers[c.Number] = true
	}
	if !numbers[2] || !numbers[3] || !numbers[4] || !numbers[5] {
		t.Fatalf("wrong candidate set: %v", numbers)
	}
	if numbers[6] {
		t.Fatal("unverified chunk should not be a score-based candidate")
	}
}

func TestUpdateChunkParams(t *testing.T) {
	s := newStore(t)
	ch := seedChapter(t, s)
	c, _ := s.CreateChunk(ch.ID, 1, "text", 0, 0)

	if err := s.UpdateChunkParams(c.ID, "leah", 0.4, 1.2); err != nil {
		t.Fatalf("set params: %v", err)
	}
	got, _ := s.GetChunk(c.ID)
	if got.Voice != "leah" || got.Temperature != 0.4 || got.Speed != 1.2 {
		t.Fatalf("params not stored: %+v", got)
	}

	if err := s.UpdateChunkParams(c.ID, "", 0, 0); err != nil {
		t.Fatalf("clear params: %v", err)
	}
	got, _ = s.GetChunk(c.ID)
	if got.Voice != "" || got.Temperature != 0 || got.Speed != 0 {
		t.Fatalf("params not cleared: %+v", got)
	}

	if err := s.UpdateChunkParams("missing", "v", 0, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChapterSummary(t *testing.T) {
	s := newStore(t)
	ch := seedChapter(t, s)

	a, _ := s.CreateChunk(ch.ID, 1, "a", 0, 0)
	b, _ := s.CreateChunk(ch.ID, 2, "b", 0, 0)
	s.CreateChunk(ch.ID, 3, "c", 0, 0)

	s.UpdateChunkStatus(a.ID, StatusCompleted, "")
	s.CreateAudioVersion(a.ID, "/out/a.wav", 2.0, 0.9, true)
	s.UpdateChunkStatus(b.ID, StatusFailed, "boom")

	sum, err := s.ChapterSummary(ch.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalChunks != 3 || sum.Completed != 1 || sum.Failed != 1 || sum.Pending != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.TotalDurationS != 2.0 {
		t.Fatalf("unexpected duration: %f", sum.TotalDurationS)
	}
}

func TestChapterSettings(t *testing.T) {
	s := newStore(t)
	ch := seedChapter(t, s)

	got, err := s.GetChapterSettings(ch.ID)
	if err != nil {
		t.Fatalf("empty settings: %v", err)
	}
	if got.Voice != "" {
		t.Fatalf("expected zero settings, got %+v", got)
	}

	if err := s.SetChapterSettings(ChapterSettings{ChapterID: ch.ID, Voice: "leah", Temperature: 0.5, Speed: 1.1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetChapterSettings(ChapterSettings{ChapterID: ch.ID, Voice: "zoe", Temperature: 0.6, Speed: 0.9}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ = s.GetChapterSettings(ch.ID)
	if got.Voice != "zoe" || got.Speed != 0.9 {
		t.Fatalf("upsert did not replace: %+v", got)
	}
}

func TestWordTimings(t *testing.T) {
	s := newStore(t)
	ch := seedChapter(t, s)
	c, _ := s.CreateChunk(ch.ID, 1, "hello world", 0, 0)
	v, _ := s.CreateAudioVersion(c.ID, "/out/1.wav", 1, 0.99, true)

	timings := []stt.WordTiming{
		{Word: "hello", Start: 0.0, End: 0.4},
		{Word: "world", Start: 0.45, End: 0.9},
	}
	if err := s.ReplaceWordTimings(c.ID, v.ID, timings); err != nil {
		t.Fatalf("replace timings: %v", err)
	}
	got, err := s.WordTimingsForChunk(c.ID)
	if err != nil {
		t.Fatalf("read timings: %v", err)
	}
	if len(got) != 2 || got[0].Word != "hello" || got[1].End != 0.9 {
		t.Fatalf("unexpected timings: %+v", got)
	}
}

func TestChapterWordMapOffsetsAcrossChunks(t *testing.T) {
	s := newStore(t)
	ch := seedChapter(t, s)

	a, _ := s.CreateChunk(ch.ID, 1, "hello world", 0, 0)
	b, _ := s.CreateChunk(ch.ID, 2, "again", 0, 0)
	s.CreateChunk(ch.ID, 3, "never done", 0, 0)

	s.UpdateChunkStatus(a.ID, StatusCompleted, "")
	va, _ := s.CreateAudioVersion(a.ID, "/out/a.wav", 2.0, 0.99, true)
	s.ReplaceWordTimings(a.ID, va.ID, []stt.WordTiming{
		{Word: "hello", Start: 0.0, End: 0.4},
		{Word: "world", Start: 0.5, End: 0.9},
	})

	s.UpdateChunkStatus(b.ID, StatusCompleted, "")
	vb, _ := s.CreateAudioVersion(b.ID, "/out/b.wav", 1.0, 0.98, true)
	s.ReplaceWordTimings(b.ID, vb.ID, []stt.WordTiming{
		{Word: "again", Start: 0.1, End: 0.6},
	})

	words, err := s.ChapterWordMap(ch.ID)
	if err != nil {
		t.Fatalf("word map: %v", err)
	}
	if len(words) != 3 {
		t.Fatalf("expected 3 words, got %d: %+v", len(words), words)
	}
	// Second chunk's words shift by the first chunk's duration.
	last := words[2]
	if last.Word != "again" || last.ChunkNumber != 2 || last.Start != 2.1 {
		t.Fatalf("unexpected offset word: %+v", last)
	}
}

func TestInjectableClock(t *testing.T) {
	s := newStore(t)
	fixed := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	s.SetClock(func() time.Time { return fixed })

	p, err := s.CreateProject("Clock Book", "/c.txt")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !p.CreatedAt.Equal(fixed) {
		t.Fatalf("expected fixed timestamp, got %v", p.CreatedAt)
	}
}
