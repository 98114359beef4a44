package pipeline

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
)

// ErrUnsupportedFormat marks formats the renderer cannot canonicalize; the
// job routes to review rather than failing outright.
var ErrUnsupportedFormat = errors.New("unsupported document format")

var (
	tagPattern       = regexp.MustCompile(`<[^>]*>`)
	blankRunPattern  = regexp.MustCompile(`\n{3,}`)
	trailingSpaceRe  = regexp.MustCompile(`[ \t]+\n`)
	interiorSpaceRe  = regexp.MustCompile(`[ \t]{2,}`)
	blockTagPattern  = regexp.MustCompile(`(?i)</(p|div|tr|table|h[1-6]|li|section)>|<br\s*/?>`)
	tableRowPattern  = regexp.MustCompile(`(?i)<tr[\s>]`)
	tableCellPattern = regexp.MustCompile(`(?i)</t[dh]>`)
)

// Render converts raw document bytes into the canonical line-numbered text
// all evidence quotes point into. Rendering is deterministic: the same bytes
// always produce the same text, so quote offsets stay stable across refetches.
func Render(contentType string, raw []byte) (string, int, error) {
	mediaType := contentType
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = mediaType[:i]
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))

	var text string
	switch {
	case strings.Contains(mediaType, "xml"), strings.Contains(mediaType, "html"):
		text = renderMarkup(string(raw))
	case mediaType == "" || strings.HasPrefix(mediaType, "text/"):
		text = string(raw)
	default:
		return "", 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mediaType)
	}

	text = canonicalize(text)
	if strings.TrimSpace(text) == "" {
		return "", 0, fmt.Errorf("%w: rendered text is empty", ErrUnsupportedFormat)
	}
	return text, strings.Count(text, "\n") + 1, nil
}

// renderMarkup flattens XML/HTML to text: block-level closings become line
// breaks, table cells become column separators, all other tags drop out.
func renderMarkup(s string) string {
	s = tableCellPattern.ReplaceAllString(s, " | ")
	s = blockTagPattern.ReplaceAllString(s, "\n")
	s = tableRowPattern.ReplaceAllString(s, "\n<tr ")
	s = tagPattern.ReplaceAllString(s, "")
	return html.UnescapeString(s)
}

func canonicalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = trailingSpaceRe.ReplaceAllString(s, "\n")
	s = interiorSpaceRe.ReplaceAllString(s, " ")
	s = blankRunPattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// LineOf maps a character offset in canonical text to its 1-based line
// number, preserving the chars-to-lines mapping the renderer promises.
func LineOf(text string, offset int) int {
	if offset > len(text) {
		offset = len(text)
	}
	return strings.Count(text[:offset], "\n") + 1
}
