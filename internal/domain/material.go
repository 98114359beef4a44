package domain

import (
	"encoding/json"
	"fmt"
)

// SplitPolicy controls when a 232 material line splits into a claim/disclaim
// pair.
type SplitPolicy string

const (
	SplitNever          SplitPolicy = "never"
	SplitIfAnyContent   SplitPolicy = "if_any_content"
	SplitAboveThreshold SplitPolicy = "if_above_threshold"
)

// ContentBasis is the unit a material's content is measured in.
type ContentBasis string

const (
	BasisValue   ContentBasis = "value"
	BasisMass    ContentBasis = "mass"
	BasisPercent ContentBasis = "percent"
)

// MaterialRule is one Section 232 inclusion row: for an HTS (8 or 10 digit)
// and material, the claim/disclaim Chapter-99 codes, the duty rate, and the
// split policy. Codes are stored chapter-appropriate (primary chapters 72-73
// steel, 74 copper, 76 aluminum carry the primary codes; everything else the
// derivative codes), so the evaluator never re-derives them.
type MaterialRule struct {
	ID             int64        `json:"id" db:"id"`
	HTS8           string       `json:"hts_8digit" db:"hts_8digit"`
	HTS10          *string      `json:"hts_10digit,omitempty" db:"hts_10digit"`
	Material       string       `json:"material" db:"material"`
	ClaimCode      string       `json:"claim_code" db:"claim_code"`
	DisclaimCode   string       `json:"disclaim_code" db:"disclaim_code"`
	DutyRate       float64      `json:"duty_rate" db:"duty_rate"`
	MinPercent     float64      `json:"min_percent" db:"min_percent"` // 0..1
	SplitPolicy    SplitPolicy  `json:"split_policy" db:"split_policy"`
	SplitThreshold float64      `json:"split_threshold" db:"split_threshold"` // 0..1
	Basis          ContentBasis `json:"content_basis" db:"content_basis"`
	QuantityUnit   string       `json:"quantity_unit,omitempty" db:"quantity_unit"`
	EffectiveStart Date         `json:"effective_start" db:"effective_start"`
	EffectiveEnd   *Date        `json:"effective_end,omitempty" db:"effective_end"`
}

// Covers reports whether the rule is in scope on d.
func (m MaterialRule) Covers(d Date) bool {
	return Window{Start: m.EffectiveStart, End: m.EffectiveEnd}.Contains(d)
}

// ShouldSplit applies the split policy to a computed content value.
func (m MaterialRule) ShouldSplit(contentValue, productValue float64) bool {
	switch m.SplitPolicy {
	case SplitNever:
		return false
	case SplitIfAnyContent:
		return contentValue > 0 && contentValue < productValue
	case SplitAboveThreshold:
		if productValue <= 0 {
			return false
		}
		return contentValue/productValue >= m.SplitThreshold
	default:
		return false
	}
}

// MaterialInput is a declared material composition entry. Exactly the fields
// the caller knows are set; the evaluator prefers an explicit value, then
// percent x product value, then falls back per the duty rule.
type MaterialInput struct {
	Percent *float64 `json:"percent,omitempty"` // 0..1
	Value   *float64 `json:"value,omitempty"`
	MassKg  *float64 `json:"mass_kg,omitempty"`
}

// UnmarshalJSON accepts either a bare number (treated as a value amount) or
// the full object form.
func (mi *MaterialInput) UnmarshalJSON(b []byte) error {
	var bare float64
	if err := json.Unmarshal(b, &bare); err == nil {
		mi.Value = &bare
		return nil
	}
	type alias MaterialInput
	var full alias
	if err := json.Unmarshal(b, &full); err != nil {
		return fmt.Errorf("material entry must be a number or {percent,value,mass_kg}: %w", err)
	}
	*mi = MaterialInput(full)
	return nil
}

// ContentValue resolves the material's content value against the product
// value. The second return is false when neither value nor percent was
// declared and the caller must apply the duty rule's fallback.
func (mi MaterialInput) ContentValue(productValue float64) (float64, bool) {
	if mi.Value != nil {
		return *mi.Value, true
	}
	if mi.Percent != nil {
		return *mi.Percent * productValue, true
	}
	return 0, false
}

// ContentPercent resolves the declared content share (0..1), preferring the
// explicit percent.
func (mi MaterialInput) ContentPercent(productValue float64) (float64, bool) {
	if mi.Percent != nil {
		return *mi.Percent, true
	}
	if mi.Value != nil && productValue > 0 {
		return *mi.Value / productValue, true
	}
	return 0, false
}

// Exclusion claim statuses. Claims start as candidates; the external
// verification step settles them.
const (
	ExclusionCandidate = "candidate"
	ExclusionVerified  = "verified"
	ExclusionRejected  = "rejected"
)

// ExclusionClaim is an advisory Section 301 exclusion candidate: per HTS-8, a
// description, a window, and the claim code. Acceptance is decided by an
// external verification step; the rate store only records the claim.
type ExclusionClaim struct {
	ID          int64   `json:"id" db:"id"`
	HTS8        string  `json:"hts_8digit" db:"hts_8digit"`
	Description string  `json:"description" db:"description"`
	ClaimCode   string  `json:"claim_code" db:"claim_code"` // typically 9903.88.69/.70
	Status      string  `json:"status" db:"status"`
	Start       Date    `json:"effective_start" db:"effective_start"`
	End         *Date   `json:"effective_end,omitempty" db:"effective_end"`
}
