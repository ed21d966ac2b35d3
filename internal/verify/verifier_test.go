package verify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/versolabs/verso-core/internal/config"
	"github.com/versolabs/verso-core/internal/stt"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newVerifier(t *testing.T, transcriber stt.Transcriber) *Verifier {
	t.Helper()
	cfg := config.VerificationConfig{Enabled: true, Threshold: 0.85}
	return NewVerifier(cfg, transcriber, newLogger())
}

func TestCompareIdenticalText(t *testing.T) {
	v := newVerifier(t, stt.NewMockTranscriber())
	r := v.Compare("The quick brown fox jumps over the lazy dog.", "the quick brown fox jumps over the lazy dog")
	if !r.Passed {
		t.Fatalf("expected pass, got %+v", r)
	}
	if r.Accuracy < 0.999 {
		t.Fatalf("expected perfect accuracy, got %f", r.Accuracy)
	}
	if len(r.MissingWords) != 0 || len(r.ExtraWords) != 0 {
		t.Fatalf("expected no word drift: %+v", r)
	}
}

func TestComparePunctuationIgnored(t *testing.T) {
	v := newVerifier(t, stt.NewMockTranscriber())
	r := v.Compare("Hello, world! How are you?", "hello world how are you")
	if !r.Passed || r.Accuracy < 0.999 {
		t.Fatalf("punctuation should not count against accuracy: %+v", r)
	}
}

func TestCompareSpellingVariantsFold(t *testing.T) {
	v := newVerifier(t, stt.NewMockTranscriber())
	r := v.Compare("I realise the colour of the theatre.", "I realize the color of the theater.")
	if !r.Passed || r.Accuracy < 0.999 {
		t.Fatalf("regional spellings should compare equal: %+v", r)
	}
}

func TestCompareDetectsMissingWords(t *testing.T) {
	v := newVerifier(t, stt.NewMockTranscriber())
	r := v.Compare("one two three four five", "one two four five")
	found := false
	for _, w := range r.MissingWords {
		if w == "three" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected 'three' in missing words, got %v", r.MissingWords)
	}
	if r.WordErrRate <= 0 {
		t.Fatalf("expected nonzero word error rate, got %f", r.WordErrRate)
	}
}

func TestCompareDetectsExtraWords(t *testing.T) {
	v := newVerifier(t, stt.NewMockTranscriber())
	r := v.Compare("one two three", "one two extra three")
	found := false
	for _, w := range r.ExtraWords {
		if w == "extra" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected 'extra' in extra words, got %v", r.ExtraWords)
	}
}

func TestCompareGarbageFails(t *testing.T) {
	v := newVerifier(t, stt.NewMockTranscriber())
	r := v.Compare("a meaningful sentence about narration quality", "zzz qqq xxx")
	if r.Passed {
		t.Fatalf("garbage transcript should fail: %+v", r)
	}
}

func TestCompareEmptyTranscript(t *testing.T) {
	v := newVerifier(t, stt.NewMockTranscriber())
	r := v.Compare("some source text", "")
	if r.Passed || r.Accuracy != 0 || r.WordErrRate != 1.0 {
		t.Fatalf("empty transcript should fail hard: %+v", r)
	}
}

func TestCompareBothEmpty(t *testing.T) {
	v := newVerifier(t, stt.NewMockTranscriber())
	r := v.Compare("", "")
	if !r.Passed {
		t.Fatalf("two empty strings should trivially pass: %+v", r)
	}
}

func TestVerifyDisabledSkips(t *testing.T) {
	cfg := config.VerificationConfig{Enabled: false, Threshold: 0.85}
	v := NewVerifier(cfg, stt.NewMockTranscriber(), newLogger())
	r := v.Verify(context.Background(), "anything", []byte{1, 2, 3})
	if !r.Passed || !r.Skipped {
		t.Fatalf("disabled verification should pass and mark skipped: %+v", r)
	}
}

func TestVerifyTranscriberError(t *testing.T) {
	mock := stt.NewMockTranscriber()
	mock.Err = errors.New("model not loaded")
	v := newVerifier(t, mock)

	r := v.Verify(context.Background(), "some text", []byte{1})
	if r.Passed {
		t.Fatal("transcriber failure should fail verification")
	}
	if r.ErrorMessage == "" {
		t.Fatal("expected error message recorded")
	}
}

func TestVerifyEndToEnd(t *testing.T) {
	mock := stt.NewMockTranscriber(stt.Transcript{Text: "the narrator reads this chunk aloud"})
	v := newVerifier(t, mock)

	r := v.Verify(context.Background(), "The narrator reads this chunk aloud.", []byte{1})
	if !r.Passed {
		t.Fatalf("expected pass: %+v", r)
	}
	if r.Transcript == "" {
		t.Fatal("expected transcript recorded on result")
	}
}

func TestWriteDiffHTML(t *testing.T) {
	v := newVerifier(t, stt.NewMockTranscriber())
	r := v.Compare("one two three", "one two")
	path := filepath.Join(t.TempDir(), "diff.html")
	if err := v.WriteDiffHTML(path, "one two three", "one two", r); err != nil {
		t.Fatalf("write diff: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read diff: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "three") || !strings.Contains(out, "Accuracy") {
		t.Fatalf("diff artifact missing content: %s", out)
	}
}
