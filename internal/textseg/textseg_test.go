package textseg

import (
	"io"
	"log/slog"
	"strings"
	"testing"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newSegmenter(t *testing.T) *Segmenter {
	t.Helper()
	seg, err := NewSegmenter(newLogger())
	if err != nil {
		t.Fatalf("new segmenter: %v", err)
	}
	return seg
}

func TestCleanIdempotent(t *testing.T) {
	opts := CleanOptions{ForceAUSpelling: true, EnsureTerminator: true}
	inputs := []string{
		"He said “hello” — twice…",
		"Multiple   spaces\tand\nnewlines",
		"Trailing words without stop",
		"Already terminated!",
		"",
	}
	for _, in := range inputs {
		once := Clean(in, opts)
		twice := Clean(once, opts)
		if once != twice {
			t.Fatalf("clean not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestCleanNormalizesUnicode(t *testing.T) {
	got := Clean("“Quoted” ‘text’ — dash…", CleanOptions{})
	if strings.ContainsAny(got, "“”‘’—…") {
		t.Fatalf("unicode punctuation survived cleaning: %q", got)
	}
	if !strings.Contains(got, `"Quoted"`) {
		t.Fatalf("expected ascii quotes, got %q", got)
	}
}

func TestCleanAUSpelling(t *testing.T) {
	got := Clean("organize the colour scheme", CleanOptions{ForceAUSpelling: true})
	if got != "organise the colour scheme" {
		t.Fatalf("expected AU spelling conversion, got %q", got)
	}

	got = Clean("Organize the plan. We realize it now.", CleanOptions{ForceAUSpelling: true})
	if !strings.Contains(got, "Organise") || !strings.Contains(got, "realise") {
		t.Fatalf("expected case-preserving conversion, got %q", got)
	}
}

func TestCleanDoesNotTouchSubstrings(t *testing.T) {
	// "colorful" contains "color" but is not a whole-word match.
	got := Clean("a colorful display", CleanOptions{ForceAUSpelling: true})
	if got != "a colorful display" {
		t.Fatalf("substring was rewritten: %q", got)
	}
}

func TestCleanEnsuresTerminator(t *testing.T) {
	got := Clean("no terminator here", CleanOptions{EnsureTerminator: true})
	if !strings.HasSuffix(got, ".") {
		t.Fatalf("expected trailing period, got %q", got)
	}
}

func TestSegmentShortTextPassthrough(t *testing.T) {
	seg := newSegmenter(t)
	chunks := seg.Segment("A short sentence.", 1000)
	if len(chunks) != 1 || chunks[0] != "A short sentence." {
		t.Fatalf("expected passthrough, got %v", chunks)
	}
}

func TestSegmentNeverSplitsSentences(t *testing.T) {
	seg := newSegmenter(t)
	text := strings.TrimSpace(strings.Repeat("This is a complete sentence about nothing in particular. ", 40))
	chunks := seg.Segment(text, 200)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > 200 {
			t.Fatalf("chunk %d exceeds limit: %d chars", i, len(chunk))
		}
		if !strings.HasSuffix(chunk, ".") {
			t.Fatalf("chunk %d does not end on a sentence boundary: %q", i, chunk)
		}
	}
	// Concatenating chunks with single spaces reconstructs the sentence set.
	if strings.Join(chunks, " ") != text {
		t.Fatalf("chunks do not reconstruct original text")
	}
}

func TestSegmentOversizedSentenceKeptIntact(t *testing.T) {
	seg := newSegmenter(t)
	long := "This single sentence keeps going " + strings.Repeat("and going ", 30) + "until it finally stops."
	text := "Short one. " + long + " Another short one."
	chunks := seg.Segment(text, 100)

	found := false
	for _, chunk := range chunks {
		if chunk == long {
			found = true
		}
	}
	if !found {
		t.Fatalf("oversized sentence was not kept intact: %v", chunks)
	}
}

func TestDetectChapters(t *testing.T) {
	text := "Chapter 1: The Beginning\nSome opening text here.\nMore text.\nChapter 2 The Middle\nMiddle content.\n"
	chapters := DetectChapters(text)
	if len(chapters) != 2 {
		t.Fatalf("expected 2 chapters, got %d", len(chapters))
	}
	if chapters[0].Number != 1 || chapters[0].Title != "The Beginning" {
		t.Fatalf("unexpected first chapter: %+v", chapters[0])
	}
	if chapters[0].Content != "Some opening text here.\nMore text." {
		t.Fatalf("unexpected first chapter content: %q", chapters[0].Content)
	}
	if chapters[1].Number != 2 {
		t.Fatalf("unexpected second chapter number: %d", chapters[1].Number)
	}
	if chapters[0].WordCount != 6 {
		t.Fatalf("unexpected word count: %d", chapters[0].WordCount)
	}
}

func TestSplitManual(t *testing.T) {
	text := "Intro ramble. PART ONE begins here with content. PART TWO ends it."
	chapters := SplitManual(text, []string{"PART ONE", "PART TWO"})
	if len(chapters) != 2 {
		t.Fatalf("expected 2 chapters, got %d", len(chapters))
	}
	if !strings.HasPrefix(chapters[0].Content, "PART ONE") {
		t.Fatalf("unexpected first content: %q", chapters[0].Content)
	}
	if chapters[1].EndPosition != len(text) {
		t.Fatalf("last chapter should end at text end")
	}
}
