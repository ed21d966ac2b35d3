package textseg

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
)

// Segmenter splits cleaned chapter text into sentence-safe chunks.
type Segmenter struct {
	tokenizer *sentences.DefaultSentenceTokenizer
	log       *slog.Logger
}

func NewSegmenter(log *slog.Logger) (*Segmenter, error) {
	tokenizer, err := english.NewSentenceTokenizer(nil)
	if err != nil {
		return nil, fmt.Errorf("load sentence tokenizer: %w", err)
	}
	return &Segmenter{
		tokenizer: tokenizer,
		log:       log.With(slog.String("component", "segmenter")),
	}, nil
}

// Sentences tokenizes text into trimmed sentences.
func (s *Segmenter) Sentences(text string) []string {
	var out []string
	for _, sent := range s.tokenizer.Tokenize(text) {
		if t := strings.TrimSpace(sent.Text); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Segment greedily packs sentences into chunks of at most maxChars. A
// sentence is never split across chunks; a single sentence longer than
// maxChars becomes its own oversized chunk and is logged as a warning,
// since splitting mid-sentence degrades synthesis quality more than an
// oversized request does.
func (s *Segmenter) Segment(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= maxChars {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, sentence := range s.Sentences(text) {
		if len(sentence) > maxChars {
			flush()
			s.log.Warn("sentence exceeds chunk limit, keeping intact",
				slog.Int("length", len(sentence)),
				slog.Int("max_chars", maxChars))
			chunks = append(chunks, sentence)
			continue
		}
		if current.Len() > 0 && current.Len()+len(sentence)+1 > maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
	}
	flush()
	return chunks
}
