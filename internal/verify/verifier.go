package verify

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/versolabs/verso-core/internal/config"
	"github.com/versolabs/verso-core/internal/stt"
)

// Result is the verdict for one chunk of synthesized audio.
type Result struct {
	Passed       bool
	Skipped      bool
	Accuracy     float64
	WordErrRate  float64
	CharErrRate  float64
	MissingWords []string
	ExtraWords   []string
	Transcript   string
	WordTimings  []stt.WordTiming
	ErrorMessage string
}

// Verifier transcribes synthesized audio and scores the transcript
// against the source text. Spelling-variant pairs are folded to one
// form before comparison so regional spelling never counts as an
// error.
type Verifier struct {
	cfg         config.VerificationConfig
	transcriber stt.Transcriber
	dmp         *diffmatchpatch.DiffMatchPatch
	log         *slog.Logger
}

func NewVerifier(cfg config.VerificationConfig, transcriber stt.Transcriber, log *slog.Logger) *Verifier {
	return &Verifier{
		cfg:         cfg,
		transcriber: transcriber,
		dmp:         diffmatchpatch.New(),
		log:         log.With(slog.String("component", "verifier")),
	}
}

// Verify transcribes the audio and compares it to text. Recognition
// failures produce a failing result with the error recorded rather
// than aborting the pipeline; the chunk can be regenerated later.
func (v *Verifier) Verify(ctx context.Context, text string, audio []byte) Result {
	if !v.cfg.Enabled {
		return Result{Passed: true, Skipped: true, Accuracy: 1.0}
	}

	transcript, err := v.transcriber.Transcribe(ctx, audio)
	if err != nil {
		v.log.Warn("transcription failed", slog.String("error", err.Error()))
		return Result{
			Passed:       false,
			WordErrRate:  1.0,
			CharErrRate:  1.0,
			ErrorMessage: err.Error(),
		}
	}

	result := v.Compare(text, transcript.Text)
	result.Transcript = transcript.Text
	if v.cfg.WordTimings {
		result.WordTimings = transcript.WordTimings
	}
	return result
}

// Compare scores a transcript against the source text without running
// recognition. Both sides are normalized first.
func (v *Verifier) Compare(text, transcript string) Result {
	orig := normalize(text)
	got := normalize(transcript)

	if orig == "" && got == "" {
		return Result{Passed: true, Accuracy: 1.0}
	}
	if got == "" {
		return Result{
			Passed:       false,
			WordErrRate:  1.0,
			CharErrRate:  1.0,
			MissingWords: strings.Fields(orig),
		}
	}

	accuracy := v.similarity(orig, got)
	missing, extra := v.wordDiff(orig, got)

	origWords := len(strings.Fields(orig))
	if origWords == 0 {
		origWords = 1
	}
	wer := float64(len(missing)+len(extra)) / float64(origWords)
	if wer > 1.0 {
		wer = 1.0
	}

	return Result{
		Passed:       accuracy >= v.cfg.Threshold,
		Accuracy:     accuracy,
		WordErrRate:  wer,
		CharErrRate:  1.0 - accuracy,
		MissingWords: missing,
		ExtraWords:   extra,
	}
}

// similarity is the classic sequence-match ratio: twice the matched
// character count over the total length of both strings.
func (v *Verifier) similarity(a, b string) float64 {
	diffs := v.dmp.DiffMain(a, b, false)
	matched := 0
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			matched += len(d.Text)
		}
	}
	total := len(a) + len(b)
	if total == 0 {
		return 1.0
	}
	return 2.0 * float64(matched) / float64(total)
}

// wordDiff diffs at word granularity by encoding each word as one rune,
// so a reordered or dropped word counts once instead of per character.
func (v *Verifier) wordDiff(orig, got string) (missing, extra []string) {
	a := strings.Join(strings.Fields(orig), "\n") + "\n"
	b := strings.Join(strings.Fields(got), "\n") + "\n"

	ca, cb, lines := v.dmp.DiffLinesToChars(a, b)
	diffs := v.dmp.DiffCharsToLines(v.dmp.DiffMain(ca, cb, false), lines)

	for _, d := range diffs {
		words := strings.Fields(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			missing = append(missing, words...)
		case diffmatchpatch.DiffInsert:
			extra = append(extra, words...)
		}
	}
	return missing, extra
}

var (
	punctRe = regexp.MustCompile(`[^\w\s]`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// spellingFolds maps regional spellings to one canonical form so
// colour/color style pairs compare equal. Recognition models emit
// whichever spelling they were trained on.
var spellingFolds = map[string]string{
	"colour":     "color",
	"colours":    "colors",
	"flavour":    "flavor",
	"flavours":   "flavors",
	"behaviour":  "behavior",
	"behaviours": "behaviors",
	"organise":   "organize",
	"organised":  "organized",
	"organises":  "organizes",
	"realise":    "realize",
	"realised":   "realized",
	"realises":   "realizes",
	"recognise":  "recognize",
	"recognised": "recognized",
	"recognises": "recognizes",
	"centre":     "center",
	"centres":    "centers",
	"metre":      "meter",
	"metres":     "meters",
	"theatre":    "theater",
	"theatres":   "theaters",
	"grey":       "gray",
	"practise":   "practice",
	"practised":  "practiced",
	"travelling": "traveling",
	"travelled":  "traveled",
}

func normalize(text string) string {
	text = strings.ToLower(text)
	text = punctRe.ReplaceAllString(text, "")
	text = spaceRe.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	words := strings.Fields(text)
	for i, w := range words {
		if folded, ok := spellingFolds[w]; ok {
			words[i] = folded
		}
	}
	return strings.Join(words, " ")
}
