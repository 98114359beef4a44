package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/luv91/tariffstack/internal/chapter99"
	"github.com/luv91/tariffstack/internal/domain"
)

// Verdict is a validator's judgement of one candidate.
type Verdict struct {
	Pass    bool     `json:"pass"`
	Reasons []string `json:"reasons,omitempty"`
	// Warning requests corroboration from a second source before commit.
	Warning bool `json:"warning,omitempty"`
}

// Validator re-checks an extraction against the document text, independently
// of whatever produced it.
type Validator interface {
	Validate(ctx context.Context, ext Extraction, doc domain.OfficialDocument) Verdict
}

// RuleValidator is the deterministic validator: the cited HTS and rate must
// appear in the document, the effective date must be set, and the Chapter-99
// code must resolve.
type RuleValidator struct{}

// Validate applies the rule checks and collects every failure.
func (RuleValidator) Validate(_ context.Context, ext Extraction, doc domain.OfficialDocument) Verdict {
	var reasons []string
	c := ext.Candidate

	if !htsAppears(doc.CanonicalText, c.HTS8, c.HTS10) {
		reasons = append(reasons, fmt.Sprintf("hts %s not found in document text", c.HTS8))
	}
	if c.Rate != nil && !rateAppears(doc.CanonicalText, *c.Rate) {
		reasons = append(reasons, fmt.Sprintf("rate %.4g not found in document text", *c.Rate))
	}
	if c.EffectiveStart.IsZero() {
		reasons = append(reasons, "effective date missing or unparseable")
	}
	if chapter99.Resolve(c.Chapter99) == nil {
		reasons = append(reasons, fmt.Sprintf("chapter 99 code %s did not resolve", c.Chapter99))
	}

	return Verdict{
		Pass:    len(reasons) == 0,
		Reasons: reasons,
		// An unquantified rate is announced-but-pending; ask for corroboration.
		Warning: c.Rate == nil && c.Formula == nil,
	}
}

func htsAppears(text, hts8 string, hts10 *string) bool {
	for _, form := range htsForms(hts8) {
		if strings.Contains(text, form) {
			return true
		}
	}
	if hts10 != nil {
		for _, form := range htsForms(*hts10) {
			if strings.Contains(text, form) {
				return true
			}
		}
	}
	return false
}

// htsForms returns the dotted and undotted spellings of an HTS code.
func htsForms(code string) []string {
	if len(code) < 8 {
		return []string{code}
	}
	dotted := code[:4] + "." + code[4:6] + "." + code[6:8]
	if len(code) == 10 {
		return []string{code, dotted + "." + code[8:10], dotted}
	}
	return []string{code, dotted}
}

// rateAppears looks for the rate as a percentage ("25%", "25 percent",
// "7.5%") in the document text.
func rateAppears(text string, rate float64) bool {
	pct := rate * 100
	forms := []string{
		fmt.Sprintf("%g%%", pct),
		fmt.Sprintf("%g percent", pct),
		fmt.Sprintf("%.1f%%", pct),
	}
	for _, f := range forms {
		if strings.Contains(text, f) {
			return true
		}
	}
	return false
}
