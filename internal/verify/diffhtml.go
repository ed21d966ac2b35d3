package verify

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
)

// WriteDiffHTML renders a side-by-side style diff between the chunk
// text and its transcript and writes it as a review artifact next to
// the chunk audio. Reviewers open it to see exactly which words drifted.
func (v *Verifier) WriteDiffHTML(path, text, transcript string, result Result) error {
	diffs := v.dmp.DiffMain(normalize(text), normalize(transcript), false)
	body := v.dmp.DiffPrettyHtml(diffs)

	var missing, extra string
	if len(result.MissingWords) > 0 {
		missing = html.EscapeString(strings.Join(result.MissingWords, ", "))
	}
	if len(result.ExtraWords) > 0 {
		extra = html.EscapeString(strings.Join(result.ExtraWords, ", "))
	}

	verdict := "FAILED"
	if result.Passed {
		verdict = "PASSED"
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	b.WriteString("<title>Chunk verification</title>\n")
	b.WriteString("<style>body{font-family:monospace;margin:2em;max-width:60em}" +
		"ins{background:#c8f7c5;text-decoration:none}" +
		"del{background:#f7c5c5}" +
		"dt{font-weight:bold;margin-top:1em}</style>\n")
	b.WriteString("</head>\n<body>\n")
	fmt.Fprintf(&b, "<h1>Verification %s</h1>\n", verdict)
	fmt.Fprintf(&b, "<dl>\n<dt>Accuracy</dt><dd>%.4f</dd>\n", result.Accuracy)
	fmt.Fprintf(&b, "<dt>Word error rate</dt><dd>%.4f</dd>\n", result.WordErrRate)
	if missing != "" {
		fmt.Fprintf(&b, "<dt>Missing words</dt><dd>%s</dd>\n", missing)
	}
	if extra != "" {
		fmt.Fprintf(&b, "<dt>Extra words</dt><dd>%s</dd>\n", extra)
	}
	b.WriteString("</dl>\n<h2>Diff</h2>\n<p>")
	b.WriteString(body)
	b.WriteString("</p>\n</body>\n</html>\n")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create diff dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write diff html: %w", err)
	}
	return nil
}
