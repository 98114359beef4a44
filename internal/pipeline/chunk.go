package pipeline

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/luv91/tariffstack/internal/domain"
)

// Chunking bounds. Paragraph boundaries are preferred; oversized paragraphs
// are split hard with a short overlap so a quote spanning the cut is still
// findable in one of the two chunks.
const (
	chunkMin     = 200
	chunkMax     = 1200
	chunkOverlap = 50
)

var (
	headingPattern  = regexp.MustCompile(`^[A-Z][A-Z0-9 .,&()-]{4,80}$`)
	tableHintRegexp = regexp.MustCompile(`\|.*\|`)
)

// Chunk splits canonical text into ordered chunks with char offsets into the
// original text.
func Chunk(documentID, text string) []domain.DocumentChunk {
	var chunks []domain.DocumentChunk
	emit := func(start, end int) {
		body := text[start:end]
		if strings.TrimSpace(body) == "" {
			return
		}
		chunks = append(chunks, domain.DocumentChunk{
			ID:         uuid.NewString(),
			DocumentID: documentID,
			Ordinal:    len(chunks),
			CharStart:  start,
			CharEnd:    end,
			Text:       body,
			Type:       classifyChunk(body),
		})
	}

	paraStart := 0
	segStart := 0
	flush := func(end int) {
		if end <= segStart {
			return
		}
		// Hard-split oversized segments with overlap.
		for end-segStart > chunkMax {
			cut := segStart + chunkMax
			if nl := strings.LastIndexByte(text[segStart:cut], '\n'); nl > chunkMin {
				cut = segStart + nl
			}
			emit(segStart, cut)
			segStart = cut - chunkOverlap
			if segStart < 0 {
				segStart = 0
			}
		}
		emit(segStart, end)
		segStart = end
	}

	for {
		idx := strings.Index(text[paraStart:], "\n\n")
		if idx < 0 {
			flush(len(text))
			break
		}
		paraEnd := paraStart + idx
		// Merge short paragraphs until the minimum size is reached.
		if paraEnd-segStart >= chunkMin {
			flush(paraEnd)
			segStart = paraEnd
		}
		paraStart = paraEnd + 2
	}
	return chunks
}

func classifyChunk(body string) domain.ChunkType {
	trimmed := strings.TrimSpace(body)
	lines := strings.Split(trimmed, "\n")

	tableLines := 0
	for _, l := range lines {
		if tableHintRegexp.MatchString(l) {
			tableLines++
		}
	}
	if tableLines >= 2 || (len(lines) > 0 && tableLines == len(lines)) {
		return domain.ChunkTable
	}
	if len(lines) == 1 && headingPattern.MatchString(trimmed) {
		return domain.ChunkHeading
	}
	return domain.ChunkNarrative
}
