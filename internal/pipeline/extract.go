package pipeline

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/luv91/tariffstack/internal/chapter99"
	"github.com/luv91/tariffstack/internal/domain"
)

// Extraction is one proposed change with the verbatim quote and chunk that
// back it. The quote must survive the write gate's exact-substring check.
type Extraction struct {
	Candidate domain.CandidateChange
	ChunkID   string
	Quote     string
}

// Reader is the external reasoning step for narrative documents without
// tabular rate structures. Implementations must return verbatim quotes; the
// write gate rejects anything it cannot find in the chunk text.
type Reader interface {
	Read(ctx context.Context, doc domain.OfficialDocument, chunks []domain.DocumentChunk) ([]Extraction, error)
}

// Table rows come out of the renderer as "9903.88.03 | 8544.42.90 | 25% |
// 2025-01-01" style lines. The extractor only trusts rows carrying both a
// Chapter-99 code and an HTS code; everything else is left to the Reader.
var (
	chapter99Pattern = regexp.MustCompile(`9903\.\d{2}\.\d{2}`)
	htsPattern       = regexp.MustCompile(`\b(\d{4})\.(\d{2})\.(\d{2})(?:\.(\d{2}))?\b`)
	percentPattern   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:%|percent)`)
	datePattern      = regexp.MustCompile(`\b(20\d{2}-\d{2}-\d{2})\b`)
	longDatePattern  = regexp.MustCompile(`\b(January|February|March|April|May|June|July|August|September|October|November|December)\s+(\d{1,2}),\s+(20\d{2})\b`)
)

var monthNumbers = map[string]string{
	"January": "01", "February": "02", "March": "03", "April": "04",
	"May": "05", "June": "06", "July": "07", "August": "08",
	"September": "09", "October": "10", "November": "11", "December": "12",
}

// TableExtractor deterministically parses tabular chunks into candidates.
type TableExtractor struct{}

// NewTableExtractor builds the deterministic table-path extractor.
func NewTableExtractor() *TableExtractor {
	return &TableExtractor{}
}

// Extract scans table chunks row by row. Each accepted row yields one
// candidate whose quote is the exact table row text.
func (t *TableExtractor) Extract(doc domain.OfficialDocument, chunks []domain.DocumentChunk, defaultStart domain.Date, datasetTag string) []Extraction {
	var out []Extraction
	for _, chunk := range chunks {
		if chunk.Type != domain.ChunkTable {
			continue
		}
		for _, line := range strings.Split(chunk.Text, "\n") {
			ext, ok := t.extractRow(doc, chunk, line, defaultStart, datasetTag)
			if ok {
				out = append(out, ext)
			}
		}
	}
	return out
}

func (t *TableExtractor) extractRow(doc domain.OfficialDocument, chunk domain.DocumentChunk, line string, defaultStart domain.Date, datasetTag string) (Extraction, bool) {
	code := chapter99Pattern.FindString(line)
	if code == "" {
		return Extraction{}, false
	}
	res := chapter99.Resolve(code)
	if res == nil {
		return Extraction{}, false
	}

	// The base HTS is the first non-9903 code on the row.
	var hts8, hts10 string
	for _, m := range htsPattern.FindAllString(line, -1) {
		if strings.HasPrefix(m, "9903.") {
			continue
		}
		h8, full, ok := domain.NormalizeHTS(m)
		if ok {
			hts8, hts10 = h8, full
			break
		}
	}
	if hts8 == "" {
		return Extraction{}, false
	}

	cand := domain.CandidateChange{
		ID:               uuid.NewString(),
		ProgramID:        res.ProgramID,
		HTS8:             hts8,
		Chapter99:        code,
		Role:             res.Role,
		EffectiveStart:   defaultStart,
		SourceDocumentID: doc.ID,
		DatasetTag:       datasetTag,
		Status:           domain.CandidatePending,
	}
	if hts10 != hts8 {
		cand.HTS10 = &hts10
	}
	if res.Material != "" {
		m := res.Material
		cand.Material = &m
	}

	if pm := percentPattern.FindStringSubmatch(line); pm != nil {
		if v, err := strconv.ParseFloat(pm[1], 64); err == nil {
			rate := v / 100
			cand.Rate = &rate
		}
	} else if res.DefaultRate > 0 {
		r := res.DefaultRate
		cand.Rate = &r
	}
	if start, ok := effectiveDateIn(line); ok {
		cand.EffectiveStart = start
	}

	return Extraction{
		Candidate: cand,
		ChunkID:   chunk.ID,
		Quote:     strings.TrimSpace(line),
	}, true
}

// effectiveDateIn finds an ISO or long-form date in a row.
func effectiveDateIn(s string) (domain.Date, bool) {
	if m := datePattern.FindStringSubmatch(s); m != nil {
		if d, err := domain.ParseDate(m[1]); err == nil {
			return d, true
		}
	}
	if m := longDatePattern.FindStringSubmatch(s); m != nil {
		day := m[2]
		if len(day) == 1 {
			day = "0" + day
		}
		if d, err := domain.ParseDate(m[3] + "-" + monthNumbers[m[1]] + "-" + day); err == nil {
			return d, true
		}
	}
	return domain.Date{}, false
}
