// Package evaluator computes the stacked duty treatment for one import line:
// which tariff programs attach, the Chapter-99 filing lines, and the duty
// math with Section 232 content unstacked before IEEPA Reciprocal.
package evaluator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/luv91/tariffstack/internal/domain"
	"github.com/luv91/tariffstack/internal/metrics"
	"github.com/luv91/tariffstack/internal/persistence"
)

// Evaluator is the read-only hot path. It never writes; all data comes from
// the rate store snapshot as of the import date.
type Evaluator struct {
	store   persistence.RateReader
	catalog domain.Catalog
	metrics *metrics.Set
	logger  zerolog.Logger
}

// New builds an evaluator over the store with the static program catalog.
func New(store persistence.RateReader) *Evaluator {
	return &Evaluator{
		store:   store,
		catalog: domain.StaticCatalog(),
		logger:  log.With().Str("component", "evaluator").Logger(),
	}
}

// SetMetrics attaches prometheus instruments. Optional.
func (e *Evaluator) SetMetrics(m *metrics.Set) {
	e.metrics = m
	if m != nil {
		m.ProgramsLoaded.Set(float64(len(e.catalog.Programs)))
	}
}

func (e *Evaluator) observe(started time.Time, result *domain.EvaluationResult, err error) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObserveEvaluation(time.Since(started), err != nil)
	if result == nil {
		return
	}
	for _, d := range result.Decisions {
		e.metrics.EvalDecisions.WithLabelValues(d.ProgramID, d.Decision).Inc()
	}
}

// programOutcome collects one program's contribution before final assembly.
type programOutcome struct {
	lines     []domain.FilingLine
	breakdown []domain.BreakdownItem
	decisions []domain.Decision
	flags     []string
}

// Evaluate runs the full stacking evaluation for one import line.
func (e *Evaluator) Evaluate(ctx context.Context, in domain.EvaluationInput) (result *domain.EvaluationResult, err error) {
	started := time.Now()
	defer func() { e.observe(started, result, err) }()

	if err := in.Validate(); err != nil {
		return nil, err
	}
	hts8, hts10, ok := domain.NormalizeHTS(in.HTSCode)
	if !ok {
		return nil, fmt.Errorf("%w: hts_code %q is not a valid 8/10 digit code",
			domain.ErrInvalidInput, in.HTSCode)
	}
	country := domain.NormalizeCountry(in.Country)
	group := domain.GroupFor(country)
	date := in.ImportDate
	if date.IsZero() {
		date = domain.Today()
	}

	st := &evalState{
		input: in, hts8: hts8, hts10: hts10,
		country: country, group: group, date: date,
		remaining: in.ProductValue,
		deductions: map[string]float64{},
	}

	// Programs run in calculation order so remaining_value is settled before
	// IEEPA Reciprocal consumes it.
	programs := append([]domain.Program(nil), e.catalog.Programs...)
	sort.Slice(programs, func(i, j int) bool { return programs[i].CalcSeq < programs[j].CalcSeq })

	result = &domain.EvaluationResult{Flags: []string{}}
	for _, p := range programs {
		out, err := e.runProgram(ctx, st, p)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", p.ID, err)
		}
		result.FilingLines = append(result.FilingLines, out.lines...)
		result.Breakdown = append(result.Breakdown, out.breakdown...)
		result.Decisions = append(result.Decisions, out.decisions...)
		result.Flags = append(result.Flags, out.flags...)
	}

	// Filing order is its own sequence, independent of calculation order.
	sort.SliceStable(result.FilingLines, func(i, j int) bool {
		a, _ := e.catalog.ProgramByID(result.FilingLines[i].ProgramID)
		b, _ := e.catalog.ProgramByID(result.FilingLines[j].ProgramID)
		return a.FilingSeq < b.FilingSeq
	})
	for i := range result.FilingLines {
		result.FilingLines[i].Sequence = i + 1
	}

	for _, b := range result.Breakdown {
		result.TotalDutyAmount += b.Amount
	}
	result.TotalDutyAmount = round2(result.TotalDutyAmount)
	result.EffectiveRate = result.TotalDutyAmount / in.ProductValue
	result.TotalDutyPercent = result.EffectiveRate * 100
	result.Unstacking = domain.Unstacking{
		MaterialContentValue: round2(in.ProductValue - st.remaining),
		ContentDeductions:    st.deductions,
		RemainingValue:       round2(st.remaining),
		ReciprocalBase:       round2(st.reciprocalBase),
	}
	result.Applies = len(result.FilingLines) > 0

	e.logger.Debug().
		Str("hts", hts10).Str("country", country).
		Float64("total_duty", result.TotalDutyAmount).
		Int("lines", len(result.FilingLines)).
		Dur("elapsed", time.Since(started)).
		Msg("evaluation complete")
	return result, nil
}

type evalState struct {
	input   domain.EvaluationInput
	hts8    string
	hts10   string
	country string
	group   string
	date    domain.Date

	remaining      float64
	deductions     map[string]float64
	reciprocalBase float64
}

func (e *Evaluator) runProgram(ctx context.Context, st *evalState, p domain.Program) (programOutcome, error) {
	var out programOutcome
	if !p.Window.Contains(st.date) {
		out.skip(p, "program window does not cover the import date")
		return out, nil
	}
	if !p.InScope(st.country) {
		out.skip(p, fmt.Sprintf("country %s outside program scope %s", st.country, p.CountryScope))
		return out, nil
	}

	switch p.Condition {
	case domain.ConditionMaterial:
		return e.runMaterialProgram(ctx, st, p)
	case domain.ConditionDependency:
		return e.runReciprocal(ctx, st, p)
	default:
		return e.runFlatProgram(ctx, st, p)
	}
}

// runFlatProgram handles Section 301 and IEEPA Fentanyl: a single rate-row
// lookup, a single line, duty on the full product value.
func (e *Evaluator) runFlatProgram(ctx context.Context, st *evalState, p domain.Program) (programOutcome, error) {
	var out programOutcome
	q := domain.RateQuery{
		ProgramID: p.ID, Country: st.country, CountryGroup: st.group,
	}
	if p.CheckType == domain.CheckHTSLookup {
		q.HTS8, q.HTS10 = st.hts8, st.hts10
	}
	row, err := e.store.AsOf(ctx, q, st.date)
	if err != nil {
		return out, err
	}
	if row == nil {
		out.skip(p, "no rate row in scope")
		return out, nil
	}
	if row.Role == domain.RoleExclude {
		out.lines = append(out.lines, domain.FilingLine{
			ProgramID: p.ID, ProgramName: p.Name, Action: domain.ActionExclude,
			Chapter99Code: row.Chapter99, BaseHTSCode: st.hts10,
			LineValue: st.input.ProductValue, DutyRate: 0,
		})
		out.decide(p, "excluded",
			fmt.Sprintf("exclusion %s active through %s", row.Chapter99, windowEnd(row)), row)
		return out, nil
	}

	rate := row.RateValue()
	if row.Rate == nil && row.Formula == nil {
		out.flags = append(out.flags, "rate_pending_"+p.ID)
	}
	amount := round2(rate * st.input.ProductValue)
	out.lines = append(out.lines, domain.FilingLine{
		ProgramID: p.ID, ProgramName: p.Name, Action: domain.ActionApply,
		Chapter99Code: row.Chapter99, BaseHTSCode: st.hts10,
		LineValue: st.input.ProductValue, DutyRate: rate,
	})
	out.breakdown = append(out.breakdown, domain.BreakdownItem{
		ProgramID: p.ID, BaseValue: st.input.ProductValue,
		ValueSource: domain.SourceProductValue, Rate: rate,
		RateSource: rateSourceFor(row), Amount: amount,
	})
	out.decide(p, "applies", fmt.Sprintf("%s at %.4g on product value", row.Chapter99, rate), row)
	return out, nil
}

// runMaterialProgram handles one Section 232 material: content valuation,
// the claim/disclaim split, and the unstacking deduction.
func (e *Evaluator) runMaterialProgram(ctx context.Context, st *evalState, p domain.Program) (programOutcome, error) {
	var out programOutcome
	rules, err := e.store.MaterialRules(ctx, st.hts8, st.hts10, st.date)
	if err != nil {
		return out, err
	}
	var rule *domain.MaterialRule
	for i := range rules {
		if rules[i].Material == p.Material {
			rule = &rules[i]
			break
		}
	}
	if rule == nil {
		out.skip(p, fmt.Sprintf("HTS not in %s inclusion scope", p.Material))
		return out, nil
	}

	productValue := st.input.ProductValue

	// No composition declared at all: fall back to the full product value and
	// flag the entry for review rather than guessing content.
	if len(st.input.Materials) == 0 {
		return e.materialFallback(st, p, rule,
			"no material composition declared; duty assessed on full product value", nil), nil
	}

	mi, declared := st.input.Materials[p.Material]
	contentValue := 0.0
	resolved := false
	if declared {
		contentValue, resolved = mi.ContentValue(productValue)
	}
	// Declared by mass alone, with neither value nor percent: the content
	// cannot be valued, so the same fallback applies. The declared quantity
	// still rides on the claim line.
	if declared && !resolved {
		return e.materialFallback(st, p, rule,
			fmt.Sprintf("%s declared without value or percent; duty assessed on full product value", p.Material),
			mi.MassKg), nil
	}
	contentPct := 0.0
	if productValue > 0 {
		contentPct = contentValue / productValue
	}

	// Zero declared content (or below the program minimum): a disclaim line
	// on the full value, no duty.
	if contentValue <= 0 || contentPct < rule.MinPercent {
		out.lines = append(out.lines, domain.FilingLine{
			ProgramID: p.ID, ProgramName: p.Name, Action: domain.ActionDisclaim,
			Chapter99Code: rule.DisclaimCode, BaseHTSCode: st.hts10,
			LineValue: productValue, Material: p.Material, DutyRate: 0,
		})
		reason := fmt.Sprintf("no %s content declared", p.Material)
		if declared && contentValue > 0 {
			reason = fmt.Sprintf("%s content %.2f%% below %.2f%% minimum",
				p.Material, contentPct*100, rule.MinPercent*100)
		}
		out.decide(p, "disclaimed", reason, nil)
		return out, nil
	}

	amount := round2(rule.DutyRate * contentValue)
	claim := domain.FilingLine{
		ProgramID: p.ID, ProgramName: p.Name, Action: domain.ActionClaim,
		Chapter99Code: rule.ClaimCode, BaseHTSCode: st.hts10,
		LineValue: contentValue, Material: p.Material, DutyRate: rule.DutyRate,
		MaterialQuantityKg: mi.MassKg,
	}
	if rule.ShouldSplit(contentValue, productValue) {
		claim.SplitType = domain.SplitMaterialContent
		out.lines = append(out.lines, claim, domain.FilingLine{
			ProgramID: p.ID, ProgramName: p.Name, Action: domain.ActionDisclaim,
			Chapter99Code: rule.DisclaimCode, BaseHTSCode: st.hts10,
			LineValue: round2(productValue - contentValue), Material: p.Material,
			SplitType: domain.SplitNonMaterialContent, DutyRate: 0,
		})
	} else {
		out.lines = append(out.lines, claim)
	}
	out.breakdown = append(out.breakdown, domain.BreakdownItem{
		ProgramID: p.ID, Material: p.Material, BaseValue: contentValue,
		ValueSource: domain.SourceContentValue, Rate: rule.DutyRate,
		RateSource: "material_rule", Amount: amount,
	})
	out.decide(p, "applies",
		fmt.Sprintf("%s content %.2f taxed at %.4g, deducted from remaining value",
			p.Material, contentValue, rule.DutyRate), nil)

	// Unstacking: content taxed here never sees IEEPA Reciprocal.
	st.remaining = st.remaining - contentValue
	if st.remaining < 0 {
		st.remaining = 0
	}
	st.deductions[p.Material] = round2(contentValue)
	return out, nil
}

// materialFallback assesses a 232 material on the full product value when its
// content cannot be valued, flagging the entry. The fallback never deducts
// from the remaining value.
func (e *Evaluator) materialFallback(st *evalState, p domain.Program, rule *domain.MaterialRule, reason string, massKg *float64) programOutcome {
	var out programOutcome
	productValue := st.input.ProductValue
	amount := round2(rule.DutyRate * productValue)
	out.lines = append(out.lines, domain.FilingLine{
		ProgramID: p.ID, ProgramName: p.Name, Action: domain.ActionClaim,
		Chapter99Code: rule.ClaimCode, BaseHTSCode: st.hts10,
		LineValue: productValue, Material: p.Material, DutyRate: rule.DutyRate,
		MaterialQuantityKg: massKg,
	})
	out.breakdown = append(out.breakdown, domain.BreakdownItem{
		ProgramID: p.ID, Material: p.Material, BaseValue: productValue,
		ValueSource: domain.SourceFallbackToProduct, Rate: rule.DutyRate,
		RateSource: "material_rule", Amount: amount,
	})
	out.flags = append(out.flags, "fallback_applied_for_"+p.Material)
	out.decide(p, "fallback", reason, nil)
	return out
}

// runReciprocal handles IEEPA Reciprocal: variant selection, formula rates,
// and duty on the remaining (unstacked) value.
func (e *Evaluator) runReciprocal(ctx context.Context, st *evalState, p domain.Program) (programOutcome, error) {
	var out programOutcome

	variant, reason, err := e.selectVariant(ctx, st)
	if err != nil {
		return out, err
	}
	out.decisions = append(out.decisions, domain.Decision{
		Step: "variant_selection", ProgramID: p.ID, Decision: variant, Reason: reason,
	})

	row, err := e.store.AsOf(ctx, domain.RateQuery{
		ProgramID: p.ID, Country: st.country, CountryGroup: st.group, Variant: variant,
	}, st.date)
	if err != nil {
		return out, err
	}
	if row == nil {
		out.skip(p, fmt.Sprintf("no %s rate row for variant %s", p.ID, variant))
		return out, nil
	}

	rate := row.RateValue()
	rateSource := rateSourceFor(row)
	if row.Formula != nil && *row.Formula != "" {
		mfn, known, err := e.store.MFNRate(ctx, st.hts8, st.date)
		if err != nil {
			return out, err
		}
		if !known {
			out.flags = append(out.flags, "mfn_rate_unknown")
		}
		rate, rateSource, err = evalFormula(*row.Formula, mfn)
		if err != nil {
			return out, fmt.Errorf("formula %q: %w", *row.Formula, err)
		}
	}

	base := st.remaining
	st.reciprocalBase = base
	amount := round2(rate * base)
	out.lines = append(out.lines, domain.FilingLine{
		ProgramID: p.ID, ProgramName: p.Name, Action: domain.ActionApply,
		Chapter99Code: row.Chapter99, BaseHTSCode: st.hts10,
		LineValue: round2(base), DutyRate: rate, Variant: variant,
	})
	out.breakdown = append(out.breakdown, domain.BreakdownItem{
		ProgramID: p.ID, BaseValue: round2(base),
		ValueSource: domain.SourceRemainingValue, Rate: rate,
		RateSource: rateSource, Amount: amount,
	})
	out.decide(p, "applies",
		fmt.Sprintf("%s at %.4g on remaining value %.2f (variant %s)",
			row.Chapter99, rate, base, variant), row)
	return out, nil
}

// selectVariant picks the Reciprocal output variant in precedence order:
// Annex II listing, full Section 232 consumption, declared US content, then
// standard.
func (e *Evaluator) selectVariant(ctx context.Context, st *evalState) (string, string, error) {
	exempt, err := e.store.AnnexIIExempt(ctx, st.hts8, st.date)
	if err != nil {
		return "", "", err
	}
	if exempt {
		return domain.VariantAnnexIIExempt, "HTS listed on Annex II", nil
	}
	if len(st.deductions) > 0 && st.remaining <= 0 {
		return domain.VariantSection232Exempt,
			"entire value consumed by Section 232 content", nil
	}
	if us, ok := st.input.Materials["us_content"]; ok {
		if pct, known := us.ContentPercent(st.input.ProductValue); known && pct >= 0.20 {
			return domain.VariantUSContentExempt,
				fmt.Sprintf("declared US content %.0f%% meets 20%% threshold", pct*100), nil
		}
	}
	return domain.VariantStandard, "no exemption in scope", nil
}

func (o *programOutcome) skip(p domain.Program, reason string) {
	o.decisions = append(o.decisions, domain.Decision{
		Step: "program_scope", ProgramID: p.ID,
		Decision: "skip", Reason: reason,
	})
}

func (o *programOutcome) decide(p domain.Program, decision, reason string, row *domain.RateRow) {
	d := domain.Decision{
		Step: "program_decision", ProgramID: p.ID,
		Decision: decision, Reason: reason,
	}
	if row != nil && row.SourceDocumentID != nil {
		d.SourceDoc = *row.SourceDocumentID
	}
	o.decisions = append(o.decisions, d)
}

// rateSourceFor labels the matched row's origin for the breakdown: an
// HTS-enumerated row, a country-specific row, a country-group row, or a
// program-wide row. Formula rows get their label from evalFormula instead.
func rateSourceFor(r *domain.RateRow) string {
	switch {
	case r.HTS10 != nil && *r.HTS10 != "", r.HTS8 != "":
		return "hts_specific"
	case r.Country != nil && *r.Country != "":
		return "country_" + *r.Country
	case r.CountryGroup != nil && *r.CountryGroup != "":
		return "country_group_" + *r.CountryGroup
	}
	return "program_wide"
}

func windowEnd(r *domain.RateRow) string {
	if r.EffectiveEnd == nil {
		return "open"
	}
	return r.EffectiveEnd.String()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
