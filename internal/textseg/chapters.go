package textseg

import (
	"regexp"
	"strconv"
	"strings"
)

// Chapter is a detected logical section of a source document.
type Chapter struct {
	Number        int
	Title         string
	Content       string
	StartPosition int
	EndPosition   int
	WordCount     int
}

var chapterHeadingRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^Chapter\s+(\d+)[.:\-\s]*(.*)$`),
	regexp.MustCompile(`(?i)^Ch\.\s*(\d+)[.:\-\s]*(.*)$`),
	regexp.MustCompile(`(?i)^Part\s+(\d+)[.:\-\s]*(.*)$`),
	regexp.MustCompile(`^(\d+)[.:\-\s]+(.*)$`),
}

func matchChapterHeading(line string) (int, string, bool) {
	for _, re := range chapterHeadingRes {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		num, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		title := ""
		if len(m) > 2 {
			title = strings.TrimSpace(m[2])
		}
		return num, title, true
	}
	return 0, "", false
}

// DetectChapters scans a document for chapter headings and returns the
// ordered chapter list with character positions and word counts.
func DetectChapters(text string) []Chapter {
	lines := strings.Split(text, "\n")

	var chapters []Chapter
	var current *Chapter
	var content []string
	offset := 0

	closeCurrent := func(end int) {
		if current == nil {
			return
		}
		current.Content = strings.TrimSpace(strings.Join(content, "\n"))
		current.EndPosition = end
		current.WordCount = WordCount(current.Content)
		chapters = append(chapters, *current)
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if num, title, ok := matchChapterHeading(line); ok {
			closeCurrent(offset)
			current = &Chapter{Number: num, Title: title, StartPosition: offset}
			content = nil
		} else if current != nil {
			content = append(content, line)
		}
		offset += len(raw) + 1
	}
	closeCurrent(len(text))

	return chapters
}

// SplitManual builds chapters from operator-supplied break strings, for
// documents whose headings the detector cannot recognize.
func SplitManual(text string, breaks []string) []Chapter {
	var chapters []Chapter
	cursor := 0

	for _, breakText := range breaks {
		start := strings.Index(text[cursor:], breakText)
		if start == -1 {
			continue
		}
		start += cursor
		if len(chapters) > 0 {
			prev := &chapters[len(chapters)-1]
			prev.Content = strings.TrimSpace(text[prev.StartPosition:start])
			prev.EndPosition = start
			prev.WordCount = WordCount(prev.Content)
		}
		chapters = append(chapters, Chapter{
			Number:        len(chapters) + 1,
			Title:         strings.TrimSpace(breakText),
			StartPosition: start,
		})
		cursor = start
	}

	if len(chapters) > 0 {
		last := &chapters[len(chapters)-1]
		last.Content = strings.TrimSpace(text[last.StartPosition:])
		last.EndPosition = len(text)
		last.WordCount = WordCount(last.Content)
	}
	return chapters
}
