// Package chapter99 maps Chapter-99 special-program codes to the programs
// that assert them. This table is the only place code-to-program knowledge is
// hard-wired; every numeric rate still comes from the rate store.
package chapter99

import (
	"regexp"
	"strings"

	"github.com/luv91/tariffstack/internal/domain"
)

// Resolution describes what a Chapter-99 code asserts.
type Resolution struct {
	Code        string  `json:"code"`
	ProgramID   string  `json:"program_id"`
	List        string  `json:"list,omitempty"`    // e.g. "list_3", "exclusion", variant name
	Sector      string  `json:"sector,omitempty"`  // e.g. "steel_primary", "copper_derivative"
	Material    string  `json:"material,omitempty"`
	Role        domain.Role `json:"role"`
	DefaultRate float64 `json:"default_rate"`
	IsClaim     bool    `json:"is_claim"` // 232 claim vs disclaim
}

var codePattern = regexp.MustCompile(`9903\.\d{2}\.\d{2}`)

// table is keyed by the dotted code form.
var table = map[string]Resolution{
	// Section 301 lists
	"9903.88.01": {ProgramID: domain.ProgramSection301, List: "list_1", Role: domain.RoleImpose, DefaultRate: 0.25},
	"9903.88.02": {ProgramID: domain.ProgramSection301, List: "list_2", Role: domain.RoleImpose, DefaultRate: 0.25},
	"9903.88.03": {ProgramID: domain.ProgramSection301, List: "list_3", Role: domain.RoleImpose, DefaultRate: 0.25},
	"9903.88.04": {ProgramID: domain.ProgramSection301, List: "list_3", Role: domain.RoleImpose, DefaultRate: 0.25},
	"9903.88.15": {ProgramID: domain.ProgramSection301, List: "list_4a", Role: domain.RoleImpose, DefaultRate: 0.075},
	// Section 301 exclusions
	"9903.88.69": {ProgramID: domain.ProgramSection301, List: "exclusion", Role: domain.RoleExclude},
	"9903.88.70": {ProgramID: domain.ProgramSection301, List: "exclusion", Role: domain.RoleExclude},
	// IEEPA Fentanyl
	"9903.01.24": {ProgramID: domain.ProgramIEEPAFentanyl, Role: domain.RoleImpose, DefaultRate: 0.10},
	// IEEPA Reciprocal variants
	"9903.01.25": {ProgramID: domain.ProgramIEEPAReciprocal, List: domain.VariantStandard, Role: domain.RoleImpose, DefaultRate: 0.10},
	"9903.01.32": {ProgramID: domain.ProgramIEEPAReciprocal, List: domain.VariantAnnexIIExempt, Role: domain.RoleImpose},
	"9903.01.33": {ProgramID: domain.ProgramIEEPAReciprocal, List: domain.VariantStandard, Role: domain.RoleImpose, DefaultRate: 0.10},
	"9903.01.34": {ProgramID: domain.ProgramIEEPAReciprocal, List: domain.VariantUSContentExempt, Role: domain.RoleImpose},
	"9903.01.35": {ProgramID: domain.ProgramIEEPAReciprocal, List: domain.VariantSection232Exempt, Role: domain.RoleImpose},
	// Section 232 copper (claim / disclaim)
	"9903.78.01": {ProgramID: domain.ProgramSection232Cu, Material: domain.MaterialCopper, Role: domain.RoleImpose, DefaultRate: 0.50, IsClaim: true},
	"9903.78.02": {ProgramID: domain.ProgramSection232Cu, Material: domain.MaterialCopper, Role: domain.RoleImpose},
	// Section 232 steel
	"9903.80.01": {ProgramID: domain.ProgramSection232Steel, Material: domain.MaterialSteel, Role: domain.RoleImpose, DefaultRate: 0.50, IsClaim: true},
	"9903.80.02": {ProgramID: domain.ProgramSection232Steel, Material: domain.MaterialSteel, Role: domain.RoleImpose},
	// Section 232 aluminum
	"9903.85.08": {ProgramID: domain.ProgramSection232Al, Material: domain.MaterialAluminum, Role: domain.RoleImpose, DefaultRate: 0.25, IsClaim: true},
	"9903.85.09": {ProgramID: domain.ProgramSection232Al, Material: domain.MaterialAluminum, Role: domain.RoleImpose},
}

// Primary HTS chapters per 232 material: codes seeded for these chapters are
// the primary variants; every other chapter carries the derivative sector.
var primaryChapters = map[string][]string{
	domain.MaterialSteel:    {"72", "73"},
	domain.MaterialCopper:   {"74"},
	domain.MaterialAluminum: {"76"},
}

// Resolve maps an exact dotted Chapter-99 code to its program. Returns nil
// when the code is unknown.
func Resolve(code string) *Resolution {
	res, ok := table[strings.TrimSpace(code)]
	if !ok {
		return nil
	}
	res.Code = strings.TrimSpace(code)
	return &res
}

// ResolveInContext extracts the first Chapter-99 code from a narrative block
// and resolves it, narrowing the 232 sector by the base HTS chapter when one
// is supplied. Always returns nil when no exact code is extractable.
func ResolveInContext(context string, baseHTS string) *Resolution {
	code := codePattern.FindString(context)
	if code == "" {
		return nil
	}
	res := Resolve(code)
	if res == nil {
		return nil
	}
	if res.Material != "" && baseHTS != "" {
		res.Sector = sectorFor(res.Material, domain.HTSChapter(baseHTS))
	}
	return res
}

func sectorFor(material, chapter string) string {
	for _, primary := range primaryChapters[material] {
		if chapter == primary {
			return material + "_primary"
		}
	}
	return material + "_derivative"
}
