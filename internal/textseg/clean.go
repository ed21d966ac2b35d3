package textseg

import (
	"regexp"
	"strings"
	"unicode"
)

// auSpellings maps US variants to the Australian spelling used for narration.
// Keys are matched as whole words, case-insensitively.
var auSpellings = map[string]string{
	"color":     "colour",
	"colors":    "colours",
	"favor":     "favour",
	"honor":     "honour",
	"labor":     "labour",
	"organize":  "organise",
	"organized": "organised",
	"recognize": "recognise",
	"realize":   "realise",
	"analyze":   "analyse",
	"center":    "centre",
	"theater":   "theatre",
}

var unicodeReplacer = strings.NewReplacer(
	"“", `"`, "”", `"`,
	"‘", `'`, "’", `'`,
	"–", "-", "—", "-",
	"…", "...",
	" ", " ",
)

var (
	whitespaceRe  = regexp.MustCompile(`\s+`)
	disallowedRe  = regexp.MustCompile(`[^a-zA-Z0-9_ .,!?;:'"()\-]`)
	sentenceGapRe = regexp.MustCompile(`([.!?])\s*([A-Z])`)
	auWordRe      map[string]*regexp.Regexp
)

func init() {
	auWordRe = make(map[string]*regexp.Regexp, len(auSpellings))
	for us := range auSpellings {
		auWordRe[us] = regexp.MustCompile(`(?i)\b` + us + `\b`)
	}
}

// CleanOptions controls the normalization applied before segmentation.
type CleanOptions struct {
	ForceAUSpelling  bool
	EnsureTerminator bool
}

// Clean normalizes chapter text for synthesis. It is deterministic and
// idempotent: Clean(Clean(x)) == Clean(x).
func Clean(text string, opts CleanOptions) string {
	text = unicodeReplacer.Replace(text)
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = disallowedRe.ReplaceAllString(text, "")
	text = sentenceGapRe.ReplaceAllString(text, "$1 $2")

	if opts.ForceAUSpelling {
		for us, au := range auSpellings {
			text = auWordRe[us].ReplaceAllStringFunc(text, func(match string) string {
				return matchCase(match, au)
			})
		}
	}

	text = strings.TrimSpace(text)
	if opts.EnsureTerminator && text != "" {
		last := rune(text[len(text)-1])
		if !strings.ContainsRune(".!?;:", last) {
			text += "."
		}
	}
	return text
}

// matchCase carries the source word's leading capitalization onto the
// replacement so mid-sentence and sentence-initial words both read right.
func matchCase(source, replacement string) string {
	if source == "" || replacement == "" {
		return replacement
	}
	if source == strings.ToUpper(source) && len(source) > 1 {
		return strings.ToUpper(replacement)
	}
	if unicode.IsUpper(rune(source[0])) {
		return strings.ToUpper(replacement[:1]) + replacement[1:]
	}
	return replacement
}

// WordCount counts whitespace-separated tokens, the unit used for
// coverage accounting.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
