package evaluator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luv91/tariffstack/internal/domain"
	"github.com/luv91/tariffstack/internal/seed"
)

func newTestEvaluator() *Evaluator {
	return New(seed.NewStaticStore(seed.Load()))
}

func f64(v float64) *float64 { return &v }

func lineFor(t *testing.T, lines []domain.FilingLine, programID string, action domain.LineAction) domain.FilingLine {
	t.Helper()
	for _, l := range lines {
		if l.ProgramID == programID && l.Action == action {
			return l
		}
	}
	t.Fatalf("no %s line for %s in %+v", action, programID, lines)
	return domain.FilingLine{}
}

func breakdownFor(t *testing.T, items []domain.BreakdownItem, programID string) domain.BreakdownItem {
	t.Helper()
	for _, b := range items {
		if b.ProgramID == programID {
			return b
		}
	}
	t.Fatalf("no breakdown item for %s", programID)
	return domain.BreakdownItem{}
}

// Chinese copper cable with declared copper, steel, and aluminum content:
// the full six-program stack with 232 unstacking ahead of Reciprocal.
func TestEvaluateChineseCableFullStack(t *testing.T) {
	ev := newTestEvaluator()

	res, err := ev.Evaluate(context.Background(), domain.EvaluationInput{
		HTSCode:      "8544.42.90.90",
		Country:      "China",
		ProductValue: 10000,
		ImportDate:   domain.MustDate("2025-09-01"),
		Materials: map[string]domain.MaterialInput{
			"copper":   {Value: f64(3000)},
			"steel":    {Value: f64(1000)},
			"aluminum": {Value: f64(1000)},
		},
	})
	require.NoError(t, err)
	require.True(t, res.Applies)

	assert.Len(t, res.FilingLines, 9)
	assert.InDelta(t, 6250.0, res.TotalDutyAmount, 0.01)
	assert.InDelta(t, 0.625, res.EffectiveRate, 0.0001)
	assert.InDelta(t, 62.5, res.TotalDutyPercent, 0.01)

	s301 := lineFor(t, res.FilingLines, domain.ProgramSection301, domain.ActionApply)
	assert.Equal(t, "9903.88.03", s301.Chapter99Code)
	assert.Equal(t, 0.25, s301.DutyRate)
	assert.Equal(t, "8544429090", s301.BaseHTSCode)

	fent := lineFor(t, res.FilingLines, domain.ProgramIEEPAFentanyl, domain.ActionApply)
	assert.Equal(t, "9903.01.24", fent.Chapter99Code)

	cuClaim := lineFor(t, res.FilingLines, domain.ProgramSection232Cu, domain.ActionClaim)
	assert.Equal(t, "9903.78.01", cuClaim.Chapter99Code)
	assert.Equal(t, 3000.0, cuClaim.LineValue)
	assert.Equal(t, domain.SplitMaterialContent, cuClaim.SplitType)
	cuDisclaim := lineFor(t, res.FilingLines, domain.ProgramSection232Cu, domain.ActionDisclaim)
	assert.Equal(t, "9903.78.02", cuDisclaim.Chapter99Code)
	assert.Equal(t, 7000.0, cuDisclaim.LineValue)
	assert.Equal(t, domain.SplitNonMaterialContent, cuDisclaim.SplitType)

	recip := lineFor(t, res.FilingLines, domain.ProgramIEEPAReciprocal, domain.ActionApply)
	assert.Equal(t, "9903.01.33", recip.Chapter99Code)
	assert.Equal(t, 5000.0, recip.LineValue)
	assert.Equal(t, domain.VariantStandard, recip.Variant)

	assert.Equal(t, map[string]float64{
		"copper": 3000, "steel": 1000, "aluminum": 1000,
	}, res.Unstacking.ContentDeductions)
	assert.Equal(t, 5000.0, res.Unstacking.RemainingValue)
	assert.Equal(t, 5000.0, res.Unstacking.ReciprocalBase)
	assert.Equal(t, 5000.0, res.Unstacking.MaterialContentValue)

	// Filing sequence is 1..n in program filing order.
	for i, l := range res.FilingLines {
		assert.Equal(t, i+1, l.Sequence)
	}
	assert.Equal(t, domain.ProgramSection301, res.FilingLines[0].ProgramID)
	assert.Equal(t, domain.ProgramIEEPAReciprocal, res.FilingLines[8].ProgramID)
}

// While the Section 301 exclusion window is open the exclusion line replaces
// the imposition, and an Annex II listing flips Reciprocal to its exempt
// variant at a zero rate.
func TestEvaluateExclusionAndAnnexII(t *testing.T) {
	ev := newTestEvaluator()

	res, err := ev.Evaluate(context.Background(), domain.EvaluationInput{
		HTSCode:      "8473.30.51.00",
		Country:      "CN",
		ProductValue: 1000,
		ImportDate:   domain.MustDate("2024-10-01"),
		Materials: map[string]domain.MaterialInput{
			"aluminum": {Value: f64(120)},
		},
	})
	require.NoError(t, err)

	excl := lineFor(t, res.FilingLines, domain.ProgramSection301, domain.ActionExclude)
	assert.Equal(t, "9903.88.69", excl.Chapter99Code)
	assert.Equal(t, 0.0, excl.DutyRate)

	al := lineFor(t, res.FilingLines, domain.ProgramSection232Al, domain.ActionClaim)
	assert.Equal(t, "9903.85.08", al.Chapter99Code)
	assert.Equal(t, 120.0, al.LineValue)

	recip := lineFor(t, res.FilingLines, domain.ProgramIEEPAReciprocal, domain.ActionApply)
	assert.Equal(t, domain.VariantAnnexIIExempt, recip.Variant)
	assert.Equal(t, "9903.01.32", recip.Chapter99Code)
	assert.Equal(t, 0.0, recip.DutyRate)

	// Fentanyl 10% on 1000 plus aluminum 25% on 120.
	assert.InDelta(t, 130.0, res.TotalDutyAmount, 0.01)
}

// After the exclusion window closes the imposition row answers again; no code
// change is needed, only the passage of time.
func TestEvaluateExclusionExpiry(t *testing.T) {
	ev := newTestEvaluator()

	res, err := ev.Evaluate(context.Background(), domain.EvaluationInput{
		HTSCode:      "84733051",
		Country:      "CN",
		ProductValue: 1000,
		ImportDate:   domain.MustDate("2026-01-15"),
	})
	require.NoError(t, err)

	s301 := lineFor(t, res.FilingLines, domain.ProgramSection301, domain.ActionApply)
	assert.Equal(t, "9903.88.03", s301.Chapter99Code)
	assert.Equal(t, 0.25, s301.DutyRate)
	assert.Equal(t, 250.0, breakdownFor(t, res.Breakdown, domain.ProgramSection301).Amount)
}

// EU imports resolve the group formula row: 15% minus the MFN base rate.
func TestEvaluateEUFormulaRate(t *testing.T) {
	ev := newTestEvaluator()

	res, err := ev.Evaluate(context.Background(), domain.EvaluationInput{
		HTSCode:      "8414.51.30",
		Country:      "Germany",
		ProductValue: 1000,
		ImportDate:   domain.MustDate("2025-09-01"),
	})
	require.NoError(t, err)

	// China-only programs are out of scope; only Reciprocal files.
	require.Len(t, res.FilingLines, 1)
	recip := res.FilingLines[0]
	assert.Equal(t, domain.ProgramIEEPAReciprocal, recip.ProgramID)
	assert.Equal(t, "9903.01.25", recip.Chapter99Code)
	assert.InDelta(t, 0.10, recip.DutyRate, 0.0001)

	b := breakdownFor(t, res.Breakdown, domain.ProgramIEEPAReciprocal)
	assert.Equal(t, "formula_15_pct_minus_mfn", b.RateSource)
	assert.InDelta(t, 100.0, b.Amount, 0.01)
}

// With no declared composition a 232-covered HTS falls back to the full
// product value and flags the entry; the fallback does not unstack.
func TestEvaluateMaterialFallback(t *testing.T) {
	ev := newTestEvaluator()

	res, err := ev.Evaluate(context.Background(), domain.EvaluationInput{
		HTSCode:      "7408.19.00",
		Country:      "CN",
		ProductValue: 2000,
		ImportDate:   domain.MustDate("2025-09-01"),
	})
	require.NoError(t, err)

	cu := lineFor(t, res.FilingLines, domain.ProgramSection232Cu, domain.ActionClaim)
	assert.Equal(t, "9903.78.01", cu.Chapter99Code)
	assert.Equal(t, 2000.0, cu.LineValue)

	b := breakdownFor(t, res.Breakdown, domain.ProgramSection232Cu)
	assert.Equal(t, domain.SourceFallbackToProduct, b.ValueSource)
	assert.Contains(t, res.Flags, "fallback_applied_for_copper")

	// Fallback keeps the Reciprocal base at the full product value.
	assert.Equal(t, 2000.0, res.Unstacking.ReciprocalBase)
	assert.Empty(t, res.Unstacking.ContentDeductions)

	// Fentanyl 200 + copper 1000 + reciprocal 200.
	assert.InDelta(t, 1400.0, res.TotalDutyAmount, 0.01)
}

// A material declared by mass alone carries no value or percent, so duty is
// assessed on the full product value with the fallback flag, not disclaimed.
func TestEvaluateMassOnlyMaterialFallsBack(t *testing.T) {
	ev := newTestEvaluator()

	res, err := ev.Evaluate(context.Background(), domain.EvaluationInput{
		HTSCode:      "8544.42.90.90",
		Country:      "China",
		ProductValue: 10000,
		ImportDate:   domain.MustDate("2025-09-01"),
		Materials: map[string]domain.MaterialInput{
			"copper": {MassKg: f64(120)},
		},
	})
	require.NoError(t, err)

	cu := lineFor(t, res.FilingLines, domain.ProgramSection232Cu, domain.ActionClaim)
	assert.Equal(t, "9903.78.01", cu.Chapter99Code)
	assert.Equal(t, 10000.0, cu.LineValue)
	assert.Equal(t, 0.50, cu.DutyRate)
	require.NotNil(t, cu.MaterialQuantityKg)
	assert.Equal(t, 120.0, *cu.MaterialQuantityKg)

	b := breakdownFor(t, res.Breakdown, domain.ProgramSection232Cu)
	assert.Equal(t, domain.SourceFallbackToProduct, b.ValueSource)
	assert.Contains(t, res.Flags, "fallback_applied_for_copper")

	// Undeclared steel and aluminum still disclaim rather than fall back.
	steel := lineFor(t, res.FilingLines, domain.ProgramSection232Steel, domain.ActionDisclaim)
	assert.Equal(t, "9903.80.02", steel.Chapter99Code)
	assert.NotContains(t, res.Flags, "fallback_applied_for_steel")

	// The fallback does not unstack, so Reciprocal sees the full value.
	assert.Equal(t, 10000.0, res.Unstacking.ReciprocalBase)
	assert.Empty(t, res.Unstacking.ContentDeductions)

	// 301 2500 + Fentanyl 1000 + copper 5000 + Reciprocal 1000.
	assert.InDelta(t, 9500.0, res.TotalDutyAmount, 0.01)
}

// Declared composition without a covered material disclaims, not falls back.
func TestEvaluateDeclaredZeroContentDisclaims(t *testing.T) {
	ev := newTestEvaluator()

	res, err := ev.Evaluate(context.Background(), domain.EvaluationInput{
		HTSCode:      "8544.42.90",
		Country:      "CN",
		ProductValue: 1000,
		ImportDate:   domain.MustDate("2025-09-01"),
		Materials: map[string]domain.MaterialInput{
			"copper": {Value: f64(400)},
		},
	})
	require.NoError(t, err)

	steel := lineFor(t, res.FilingLines, domain.ProgramSection232Steel, domain.ActionDisclaim)
	assert.Equal(t, "9903.80.02", steel.Chapter99Code)
	assert.Equal(t, 1000.0, steel.LineValue)
	assert.NotContains(t, res.Flags, "fallback_applied_for_steel")
}

// Percent-form material input resolves against the product value.
func TestEvaluatePercentMaterialInput(t *testing.T) {
	ev := newTestEvaluator()

	res, err := ev.Evaluate(context.Background(), domain.EvaluationInput{
		HTSCode:      "85444290",
		Country:      "CN",
		ProductValue: 4000,
		ImportDate:   domain.MustDate("2025-09-01"),
		Materials: map[string]domain.MaterialInput{
			"copper": {Percent: f64(0.25)},
		},
	})
	require.NoError(t, err)

	cu := lineFor(t, res.FilingLines, domain.ProgramSection232Cu, domain.ActionClaim)
	assert.Equal(t, 1000.0, cu.LineValue)
	assert.Equal(t, 3000.0, res.Unstacking.RemainingValue)
}

// Declared US content at or above 20% selects the US-content exempt variant.
func TestEvaluateUSContentExemptVariant(t *testing.T) {
	ev := newTestEvaluator()

	res, err := ev.Evaluate(context.Background(), domain.EvaluationInput{
		HTSCode:      "8414.51.30",
		Country:      "VN",
		ProductValue: 1000,
		ImportDate:   domain.MustDate("2025-09-01"),
		Materials: map[string]domain.MaterialInput{
			"us_content": {Percent: f64(0.30)},
		},
	})
	require.NoError(t, err)

	recip := lineFor(t, res.FilingLines, domain.ProgramIEEPAReciprocal, domain.ActionApply)
	assert.Equal(t, domain.VariantUSContentExempt, recip.Variant)
	assert.Equal(t, "9903.01.34", recip.Chapter99Code)
	assert.Equal(t, 0.0, recip.DutyRate)
}

// Effective windows are end-exclusive: the day before the start is out, the
// start itself is in.
func TestEvaluateWindowBoundaries(t *testing.T) {
	ev := newTestEvaluator()
	ctx := context.Background()

	in := domain.EvaluationInput{
		HTSCode:      "85444290",
		Country:      "CN",
		ProductValue: 1000,
		Materials: map[string]domain.MaterialInput{
			"copper": {Value: f64(500)},
		},
	}

	in.ImportDate = domain.MustDate("2025-07-31")
	before, err := ev.Evaluate(ctx, in)
	require.NoError(t, err)
	for _, l := range before.FilingLines {
		assert.NotEqual(t, domain.ProgramSection232Cu, l.ProgramID)
	}

	in.ImportDate = domain.MustDate("2025-08-01")
	onStart, err := ev.Evaluate(ctx, in)
	require.NoError(t, err)
	cu := lineFor(t, onStart.FilingLines, domain.ProgramSection232Cu, domain.ActionClaim)
	assert.Equal(t, 500.0, cu.LineValue)
}

// Breakdown rate sources name the matched row's origin: HTS-enumerated rows,
// country rows, and country-group rows each carry their own label.
func TestEvaluateRateSourceLabels(t *testing.T) {
	ev := newTestEvaluator()

	res, err := ev.Evaluate(context.Background(), domain.EvaluationInput{
		HTSCode:      "85444290",
		Country:      "CN",
		ProductValue: 1000,
		ImportDate:   domain.MustDate("2025-09-01"),
		Materials: map[string]domain.MaterialInput{
			"copper": {Value: f64(400)},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "hts_specific",
		breakdownFor(t, res.Breakdown, domain.ProgramSection301).RateSource)
	assert.Equal(t, "country_group_CN",
		breakdownFor(t, res.Breakdown, domain.ProgramIEEPAFentanyl).RateSource)
	assert.Equal(t, "country_CN",
		breakdownFor(t, res.Breakdown, domain.ProgramIEEPAReciprocal).RateSource)
}

func TestEvaluateInputErrors(t *testing.T) {
	ev := newTestEvaluator()
	ctx := context.Background()

	cases := []struct {
		name string
		in   domain.EvaluationInput
	}{
		{"missing hts", domain.EvaluationInput{Country: "CN", ProductValue: 100}},
		{"missing country", domain.EvaluationInput{HTSCode: "85444290", ProductValue: 100}},
		{"zero value", domain.EvaluationInput{HTSCode: "85444290", Country: "CN"}},
		{"unknown country", domain.EvaluationInput{HTSCode: "85444290", Country: "Atlantis", ProductValue: 100}},
		{"short hts", domain.EvaluationInput{HTSCode: "8544", Country: "CN", ProductValue: 100}},
		{"materials exceed value", domain.EvaluationInput{
			HTSCode: "85444290", Country: "CN", ProductValue: 100,
			Materials: map[string]domain.MaterialInput{"copper": {Value: f64(150)}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ev.Evaluate(ctx, tc.in)
			require.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

// A country with no programs in scope still returns a well-formed result.
func TestEvaluateNoProgramsApply(t *testing.T) {
	store := seed.NewStaticStore(seed.Data{})
	ev := New(store)

	res, err := ev.Evaluate(context.Background(), domain.EvaluationInput{
		HTSCode:      "39269099",
		Country:      "CA",
		ProductValue: 500,
		ImportDate:   domain.MustDate("2025-09-01"),
	})
	require.NoError(t, err)
	assert.False(t, res.Applies)
	assert.Empty(t, res.FilingLines)
	assert.Zero(t, res.TotalDutyAmount)
	assert.NotEmpty(t, res.Decisions)
}

func TestEvalFormula(t *testing.T) {
	rate, source, err := evalFormula("15% - MFN", 0.05)
	require.NoError(t, err)
	assert.InDelta(t, 0.10, rate, 0.0001)
	assert.Equal(t, "formula_15_pct_minus_mfn", source)

	// Floors at zero when MFN exceeds the formula percentage.
	rate, _, err = evalFormula("15% - MFN", 0.20)
	require.NoError(t, err)
	assert.Zero(t, rate)

	_, _, err = evalFormula("MFN + 3%", 0.05)
	require.Error(t, err)
}
