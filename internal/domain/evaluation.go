package domain

import (
	"errors"
	"fmt"
)

// LineAction is what a filing line asserts about its program.
type LineAction string

const (
	ActionApply    LineAction = "apply"
	ActionClaim    LineAction = "claim"
	ActionDisclaim LineAction = "disclaim"
	ActionExclude  LineAction = "exclude"
	ActionSkip     LineAction = "skip"
	ActionPaid     LineAction = "paid"
)

// SplitType labels the halves of a 232 claim/disclaim pair.
type SplitType string

const (
	SplitMaterialContent    SplitType = "material_content"
	SplitNonMaterialContent SplitType = "non_material_content"
)

// ValueSource names where a breakdown entry's base value came from.
type ValueSource string

const (
	SourceProductValue      ValueSource = "product_value"
	SourceRemainingValue    ValueSource = "remaining_value"
	SourceContentValue      ValueSource = "content_value"
	SourceFallbackToProduct ValueSource = "fallback_to_product"
)

// EvaluationInput is the evaluator call. ImportDate defaults to today when
// zero. Materials maps material id to its declared composition.
type EvaluationInput struct {
	HTSCode            string                   `json:"hts_code"`
	Country            string                   `json:"country"`
	ProductValue       float64                  `json:"product_value"`
	ImportDate         Date                     `json:"import_date,omitempty"`
	Materials          map[string]MaterialInput `json:"materials,omitempty"`
	ProductDescription string                   `json:"product_description,omitempty"`
}

// ErrInvalidInput marks caller errors; they surface as MISSING_INPUT.
var ErrInvalidInput = errors.New("invalid input")

// Validate applies the input error taxonomy: missing fields, non-positive
// product value, material sum over product value, unknown country.
func (in EvaluationInput) Validate() error {
	if in.HTSCode == "" {
		return fmt.Errorf("%w: hts_code is required", ErrInvalidInput)
	}
	if in.Country == "" {
		return fmt.Errorf("%w: country is required", ErrInvalidInput)
	}
	if in.ProductValue <= 0 {
		return fmt.Errorf("%w: product_value must be positive", ErrInvalidInput)
	}
	if NormalizeCountry(in.Country) == "" {
		return fmt.Errorf("%w: unknown country %q", ErrInvalidInput, in.Country)
	}
	var declared float64
	for name, mi := range in.Materials {
		if v, ok := mi.ContentValue(in.ProductValue); ok {
			if v < 0 {
				return fmt.Errorf("%w: material %s has negative value", ErrInvalidInput, name)
			}
			declared += v
		}
	}
	if declared > in.ProductValue {
		return fmt.Errorf("%w: declared material value %.2f exceeds product value %.2f",
			ErrInvalidInput, declared, in.ProductValue)
	}
	return nil
}

// FilingLine is one CBP-visible entry line: base HTS plus a Chapter-99
// special-program code.
type FilingLine struct {
	Sequence           int        `json:"sequence"`
	ProgramID          string     `json:"program_id"`
	ProgramName        string     `json:"program_name"`
	Action             LineAction `json:"action"`
	Chapter99Code      string     `json:"chapter_99_code"`
	BaseHTSCode        string     `json:"base_hts_code"`
	LineValue          float64    `json:"line_value"`
	LineQuantity       *float64   `json:"line_quantity,omitempty"`
	Material           string     `json:"material,omitempty"`
	MaterialQuantityKg *float64   `json:"material_quantity_kg,omitempty"`
	SplitType          SplitType  `json:"split_type,omitempty"`
	DutyRate           float64    `json:"duty_rate"`
	Variant            string     `json:"variant,omitempty"`
	CalcSeq            int        `json:"-"`
}

// BreakdownItem is one duty contribution in calculation-sequence order.
type BreakdownItem struct {
	ProgramID   string      `json:"program_id"`
	Material    string      `json:"material,omitempty"`
	BaseValue   float64     `json:"base_value"`
	ValueSource ValueSource `json:"value_source"`
	Rate        float64     `json:"rate"`
	RateSource  string      `json:"rate_source"`
	Amount      float64     `json:"amount"`
}

// Unstacking records the 232 deductions and the residual IEEPA Reciprocal
// base so the caller can audit the no-double-tax protocol.
type Unstacking struct {
	MaterialContentValue float64            `json:"material_content_value"`
	ContentDeductions    map[string]float64 `json:"content_deductions"`
	RemainingValue       float64            `json:"remaining_value"`
	ReciprocalBase       float64            `json:"reciprocal_base"`
}

// Decision is one audit-trail step: which program, what was decided, why,
// and the backing source document if any.
type Decision struct {
	Step      string `json:"step"`
	ProgramID string `json:"program_id,omitempty"`
	Decision  string `json:"decision"`
	Reason    string `json:"reason,omitempty"`
	SourceDoc string `json:"source_doc,omitempty"`
}

// EvaluationResult is the full evaluator output.
type EvaluationResult struct {
	FilingLines      []FilingLine    `json:"filing_lines"`
	Breakdown        []BreakdownItem `json:"breakdown"`
	TotalDutyAmount  float64         `json:"total_duty_amount"`
	TotalDutyPercent float64         `json:"total_duty_percent"`
	EffectiveRate    float64         `json:"effective_rate"`
	Unstacking       Unstacking      `json:"unstacking"`
	Decisions        []Decision      `json:"decisions"`
	Flags            []string        `json:"flags"`
	Applies          bool            `json:"applies"`
}
