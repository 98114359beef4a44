package domain

import (
	"strings"
	"time"
)

// Role distinguishes rows that impose a duty from rows that suppress one.
// Exclusions win over impositions within their window.
type Role string

const (
	RoleImpose  Role = "impose"
	RoleExclude Role = "exclude"
)

// IEEPA Reciprocal output variants.
const (
	VariantStandard        = "standard"
	VariantAnnexIIExempt   = "annex_ii_exempt"
	VariantSection232Exempt = "section_232_exempt"
	VariantUSContentExempt = "us_content_exempt"
)

// RateRow is one temporal assertion in the rate store: for a subject key and
// program, within [EffectiveStart, EffectiveEnd), this Chapter-99 code and
// rate apply. Rows are append-only; supersession closes the predecessor's
// window and links the chain.
type RateRow struct {
	ID        int64  `json:"id" db:"id"`
	ProgramID string `json:"program_id" db:"program_id"`

	// Subject keys. HTS8 is required; the rest narrow the subject.
	HTS8         string  `json:"hts_8digit" db:"hts_8digit"`
	HTS10        *string `json:"hts_10digit,omitempty" db:"hts_10digit"`
	Country      *string `json:"country_code,omitempty" db:"country_code"`
	CountryGroup *string `json:"country_group,omitempty" db:"country_group"`
	Material     *string `json:"material,omitempty" db:"material"`
	Variant      *string `json:"variant,omitempty" db:"variant"`

	// Outcome. Rate may be nil while a change is announced but unquantified;
	// Formula, when set, is evaluated against the MFN base (e.g. "15% - MFN").
	Chapter99 string   `json:"chapter_99_code" db:"chapter_99_code"`
	Rate      *float64 `json:"duty_rate,omitempty" db:"duty_rate"`
	Formula   *string  `json:"formula,omitempty" db:"formula"`

	Role           Role   `json:"role" db:"role"`
	EffectiveStart Date   `json:"effective_start" db:"effective_start"`
	EffectiveEnd   *Date  `json:"effective_end,omitempty" db:"effective_end"`

	SourceDocumentID *string `json:"source_document_id,omitempty" db:"source_document_id"`
	EvidenceID       *string `json:"evidence_id,omitempty" db:"evidence_id"`
	SupersedesID     *int64  `json:"supersedes_id,omitempty" db:"supersedes_id"`
	SupersededByID   *int64  `json:"superseded_by_id,omitempty" db:"superseded_by_id"`
	DatasetTag       string  `json:"dataset_tag" db:"dataset_tag"`
	IsArchived       bool    `json:"is_archived" db:"is_archived"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Window returns the row's effective window.
func (r RateRow) Window() Window {
	return Window{Start: r.EffectiveStart, End: r.EffectiveEnd}
}

// Covers reports whether the row is in scope on d.
func (r RateRow) Covers(d Date) bool { return r.Window().Contains(d) }

// RateValue returns the numeric rate, treating a pending (nil) rate as zero.
func (r RateRow) RateValue() float64 {
	if r.Rate == nil {
		return 0
	}
	return *r.Rate
}

// Specificity scores the subject key so lookups can prefer the narrowest row:
// HTS-10 beats HTS-8, country-specific beats country-group beats global.
func (r RateRow) Specificity() int {
	score := 0
	if r.HTS8 != "" {
		score += 8
	}
	if r.HTS10 != nil && *r.HTS10 != "" {
		score += 4
	}
	if r.Country != nil && *r.Country != "" {
		score += 2
	} else if r.CountryGroup != nil && *r.CountryGroup != "" {
		score += 1
	}
	return score
}

// SubjectKey is the supersession identity: two rows with equal subject keys,
// program, and role may never have overlapping windows.
func (r RateRow) SubjectKey() string {
	parts := []string{r.ProgramID, string(r.Role), r.HTS8,
		deref(r.HTS10), deref(r.Country), deref(r.CountryGroup),
		deref(r.Material), deref(r.Variant)}
	return strings.Join(parts, "|")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// RateQuery carries normalized subject keys into an as-of lookup.
type RateQuery struct {
	ProgramID    string
	HTS8         string
	HTS10        string
	Country      string // alpha-2 code
	CountryGroup string // resolved group code, "" when none
	Material     string
	Variant      string
}

// MatchesSubject reports whether the row's subject keys are consistent with
// the query: every non-empty row key must equal the corresponding query key.
func (r RateRow) MatchesSubject(q RateQuery) bool {
	if r.ProgramID != q.ProgramID {
		return false
	}
	if r.HTS8 != "" && r.HTS8 != q.HTS8 {
		return false
	}
	if r.HTS10 != nil && *r.HTS10 != "" && *r.HTS10 != q.HTS10 {
		return false
	}
	if r.Country != nil && *r.Country != "" && *r.Country != q.Country {
		return false
	}
	if r.CountryGroup != nil && *r.CountryGroup != "" && *r.CountryGroup != q.CountryGroup {
		return false
	}
	if r.Material != nil && *r.Material != "" && *r.Material != q.Material {
		return false
	}
	if r.Variant != nil && *r.Variant != "" && *r.Variant != q.Variant {
		return false
	}
	return true
}

// NormalizeHTS strips dots from an HTS code and returns (8-digit prefix,
// full code, ok). Codes shorter than 8 digits are rejected: Section 301
// scope is enumerated at 8/10 digits by law, so there is no fallback to
// 6/4/2 digit prefixes.
func NormalizeHTS(code string) (hts8, full string, ok bool) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(code), ".", "")
	if len(cleaned) < 8 {
		return "", "", false
	}
	for _, c := range cleaned {
		if c < '0' || c > '9' {
			return "", "", false
		}
	}
	if len(cleaned) > 10 {
		cleaned = cleaned[:10]
	}
	return cleaned[:8], cleaned, true
}

// HTSChapter returns the 2-digit chapter prefix of a normalized HTS code.
func HTSChapter(hts string) string {
	if len(hts) < 2 {
		return ""
	}
	return hts[:2]
}
