package domain

import "strings"

// Program identifiers for the static catalog.
const (
	ProgramSection301      = "section_301"
	ProgramIEEPAFentanyl   = "ieepa_fentanyl"
	ProgramIEEPAReciprocal = "ieepa_reciprocal"
	ProgramSection232Cu    = "section_232_copper"
	ProgramSection232Steel = "section_232_steel"
	ProgramSection232Al    = "section_232_aluminum"
	ProgramMFNBase         = "mfn_base"
)

// Section 232 material identifiers.
const (
	MaterialCopper   = "copper"
	MaterialSteel    = "steel"
	MaterialAluminum = "aluminum"
)

// CheckType decides how a program tests whether an HTS is in scope.
type CheckType string

const (
	CheckHTSLookup CheckType = "hts_lookup" // inclusion table query
	CheckAlways    CheckType = "always"     // in scope for every HTS
)

// ConditionHandler selects the per-program decision branch.
type ConditionHandler string

const (
	ConditionNone        ConditionHandler = "none"
	ConditionMaterial    ConditionHandler = "material_composition"
	ConditionDependency  ConditionHandler = "dependency"
)

// DisclaimBehavior controls whether a non-applying program still files a line.
type DisclaimBehavior string

const (
	DisclaimRequired DisclaimBehavior = "required"
	DisclaimOmit     DisclaimBehavior = "omit"
	DisclaimNone     DisclaimBehavior = "none"
)

// Program is one row of the static tariff-program catalog. All rule
// parameters are data; the evaluator dispatches on the closed enums only.
type Program struct {
	ID           string           `json:"id" db:"id"`
	Name         string           `json:"name" db:"name"`
	CountryScope string           `json:"country_scope" db:"country_scope"` // "*", or comma list of codes / group:<code>
	CheckType    CheckType        `json:"check_type" db:"check_type"`
	Condition    ConditionHandler `json:"condition_handler" db:"condition_handler"`
	DependsOn    string           `json:"depends_on,omitempty" db:"depends_on"`
	Material     string           `json:"material,omitempty" db:"material"` // 232 programs only
	FilingSeq    int              `json:"filing_seq" db:"filing_seq"`
	CalcSeq      int              `json:"calc_seq" db:"calc_seq"`
	Disclaim     DisclaimBehavior `json:"disclaim_behavior" db:"disclaim_behavior"`
	Window       Window           `json:"window"`
}

// InScope reports whether the program's country-scope expression matches the
// normalized country code, resolving group membership.
func (p Program) InScope(countryCode string) bool {
	if p.CountryScope == "*" {
		return true
	}
	group := GroupFor(countryCode)
	for _, term := range strings.Split(p.CountryScope, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(term, "group:"); ok {
			if rest == group {
				return true
			}
			continue
		}
		if term == countryCode {
			return true
		}
	}
	return false
}

// CalculationType is how a program's duty combines with others.
type CalculationType string

const (
	CalcAdditive  CalculationType = "additive"
	CalcCompound  CalculationType = "compound"
	CalcOnPortion CalculationType = "on_portion"
)

// BaseOn names the value a program's rate is applied to.
type BaseOn string

const (
	BaseProductValue   BaseOn = "product_value"
	BaseContentValue   BaseOn = "content_value"
	BaseRemainingValue BaseOn = "remaining_value"
)

// BaseEffect is a side effect of consuming a base.
type BaseEffect string

const (
	EffectNone                  BaseEffect = ""
	EffectSubtractFromRemaining BaseEffect = "subtract_from_remaining"
)

// DutyRule is the per-program duty-math record. The (BaseOn, BaseEffect) pair
// encodes unstacking: 232 programs tax content value and subtract it from the
// remaining value; IEEPA Reciprocal taxes whatever remains.
type DutyRule struct {
	ProgramID      string          `json:"program_id" db:"program_id"`
	CalcType       CalculationType `json:"calculation_type" db:"calculation_type"`
	BaseOn         BaseOn          `json:"base_on" db:"base_on"`
	ContentKey     string          `json:"content_key,omitempty" db:"content_key"`
	FallbackBaseOn BaseOn          `json:"fallback_base_on,omitempty" db:"fallback_base_on"`
	BaseEffect     BaseEffect      `json:"base_effect,omitempty" db:"base_effect"`
}

// Catalog bundles programs with their duty rules.
type Catalog struct {
	Programs  []Program
	DutyRules map[string]DutyRule
}

// ProgramByID returns the catalog program with the given id, if present.
func (c Catalog) ProgramByID(id string) (Program, bool) {
	for _, p := range c.Programs {
		if p.ID == id {
			return p, true
		}
	}
	return Program{}, false
}

// StaticCatalog is the built-in program catalog. Filing sequence is the order
// lines appear on the entry; calculation sequence puts every 232 program
// ahead of IEEPA Reciprocal so remaining_value is defined when it runs.
func StaticCatalog() Catalog {
	programs := []Program{
		{
			ID: ProgramSection301, Name: "Section 301",
			CountryScope: "group:CN", CheckType: CheckHTSLookup,
			Condition: ConditionNone, FilingSeq: 10, CalcSeq: 10,
			Disclaim: DisclaimNone,
			Window:   Window{Start: MustDate("2018-07-06")},
		},
		{
			ID: ProgramIEEPAFentanyl, Name: "IEEPA Fentanyl",
			CountryScope: "group:CN", CheckType: CheckAlways,
			Condition: ConditionNone, FilingSeq: 20, CalcSeq: 20,
			Disclaim: DisclaimNone,
			Window:   Window{Start: MustDate("2024-01-01")},
		},
		{
			ID: ProgramSection232Cu, Name: "Section 232 Copper",
			CountryScope: "*", CheckType: CheckHTSLookup,
			Condition: ConditionMaterial, Material: MaterialCopper,
			FilingSeq: 30, CalcSeq: 30, Disclaim: DisclaimRequired,
			Window: Window{Start: MustDate("2025-08-01")},
		},
		{
			ID: ProgramSection232Steel, Name: "Section 232 Steel",
			CountryScope: "*", CheckType: CheckHTSLookup,
			Condition: ConditionMaterial, Material: MaterialSteel,
			FilingSeq: 40, CalcSeq: 40, Disclaim: DisclaimRequired,
			Window: Window{Start: MustDate("2018-03-23")},
		},
		{
			ID: ProgramSection232Al, Name: "Section 232 Aluminum",
			CountryScope: "*", CheckType: CheckHTSLookup,
			Condition: ConditionMaterial, Material: MaterialAluminum,
			FilingSeq: 50, CalcSeq: 50, Disclaim: DisclaimRequired,
			Window: Window{Start: MustDate("2018-03-23")},
		},
		{
			ID: ProgramIEEPAReciprocal, Name: "IEEPA Reciprocal",
			CountryScope: "*", CheckType: CheckAlways,
			Condition: ConditionDependency, DependsOn: "section_232",
			FilingSeq: 60, CalcSeq: 60, Disclaim: DisclaimNone,
			Window: Window{Start: MustDate("2024-04-01")},
		},
	}
	rules := map[string]DutyRule{
		ProgramSection301: {
			ProgramID: ProgramSection301, CalcType: CalcAdditive,
			BaseOn: BaseProductValue,
		},
		ProgramIEEPAFentanyl: {
			ProgramID: ProgramIEEPAFentanyl, CalcType: CalcAdditive,
			BaseOn: BaseProductValue,
		},
		ProgramSection232Cu: {
			ProgramID: ProgramSection232Cu, CalcType: CalcOnPortion,
			BaseOn: BaseContentValue, ContentKey: MaterialCopper,
			FallbackBaseOn: BaseProductValue, BaseEffect: EffectSubtractFromRemaining,
		},
		ProgramSection232Steel: {
			ProgramID: ProgramSection232Steel, CalcType: CalcOnPortion,
			BaseOn: BaseContentValue, ContentKey: MaterialSteel,
			FallbackBaseOn: BaseProductValue, BaseEffect: EffectSubtractFromRemaining,
		},
		ProgramSection232Al: {
			ProgramID: ProgramSection232Al, CalcType: CalcOnPortion,
			BaseOn: BaseContentValue, ContentKey: MaterialAluminum,
			FallbackBaseOn: BaseProductValue, BaseEffect: EffectSubtractFromRemaining,
		},
		ProgramIEEPAReciprocal: {
			ProgramID: ProgramIEEPAReciprocal, CalcType: CalcOnPortion,
			BaseOn: BaseRemainingValue,
		},
	}
	return Catalog{Programs: programs, DutyRules: rules}
}
