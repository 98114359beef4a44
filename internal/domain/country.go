package domain

import "strings"

// CountryGroup is a named set of countries used for program-rate lookup.
// A rate row keyed by group applies to every member unless a country-specific
// row is more specific.
type CountryGroup struct {
	Code    string   `json:"code" db:"code"`
	Name    string   `json:"name" db:"name"`
	Members []string `json:"members"`
}

// Built-in groups. The store may carry additional groups; these cover the
// programs in the static catalog.
var builtinGroups = []CountryGroup{
	{Code: "EU", Name: "European Union", Members: []string{
		"AT", "BE", "BG", "HR", "CY", "CZ", "DK", "EE", "FI", "FR", "DE", "GR",
		"HU", "IE", "IT", "LV", "LT", "LU", "MT", "NL", "PL", "PT", "RO", "SK",
		"SI", "ES", "SE",
	}},
	{Code: "UK", Name: "United Kingdom", Members: []string{"GB"}},
	{Code: "CN", Name: "China", Members: []string{"CN", "HK"}},
}

// countryNames maps common country names to ISO 3166-1 alpha-2 codes.
// Evaluator inputs arrive as either; lookups always use the code.
var countryNames = map[string]string{
	"china":          "CN",
	"hong kong":      "HK",
	"germany":        "DE",
	"france":         "FR",
	"italy":          "IT",
	"spain":          "ES",
	"netherlands":    "NL",
	"poland":         "PL",
	"ireland":        "IE",
	"austria":        "AT",
	"belgium":        "BE",
	"sweden":         "SE",
	"denmark":        "DK",
	"finland":        "FI",
	"portugal":       "PT",
	"greece":         "GR",
	"czechia":        "CZ",
	"czech republic": "CZ",
	"hungary":        "HU",
	"romania":        "RO",
	"bulgaria":       "BG",
	"croatia":        "HR",
	"slovakia":       "SK",
	"slovenia":       "SI",
	"lithuania":      "LT",
	"latvia":         "LV",
	"estonia":        "EE",
	"luxembourg":     "LU",
	"malta":          "MT",
	"cyprus":         "CY",
	"united kingdom": "GB",
	"great britain":  "GB",
	"japan":          "JP",
	"south korea":    "KR",
	"korea":          "KR",
	"taiwan":         "TW",
	"vietnam":        "VN",
	"india":          "IN",
	"mexico":         "MX",
	"canada":         "CA",
	"brazil":         "BR",
	"united states":  "US",
	"usa":            "US",
	"switzerland":    "CH",
	"turkey":         "TR",
	"thailand":       "TH",
	"malaysia":       "MY",
	"indonesia":      "ID",
	"australia":      "AU",
}

// NormalizeCountry resolves a country name or code to its alpha-2 code.
// Returns "" when the country is unknown.
func NormalizeCountry(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) == 2 {
		upper := strings.ToUpper(trimmed)
		if _, known := codeSet[upper]; known {
			return upper
		}
	}
	if code, ok := countryNames[strings.ToLower(trimmed)]; ok {
		return code
	}
	return ""
}

// GroupFor returns the group code containing the country, or "" when the
// country belongs to no built-in group.
func GroupFor(countryCode string) string {
	for _, g := range builtinGroups {
		for _, m := range g.Members {
			if m == countryCode {
				return g.Code
			}
		}
	}
	return ""
}

// BuiltinGroups returns the static group catalog (copied, callers may mutate).
func BuiltinGroups() []CountryGroup {
	out := make([]CountryGroup, len(builtinGroups))
	copy(out, builtinGroups)
	return out
}

var codeSet = func() map[string]struct{} {
	set := make(map[string]struct{})
	for _, code := range countryNames {
		set[code] = struct{}{}
	}
	for _, g := range builtinGroups {
		for _, m := range g.Members {
			set[m] = struct{}{}
		}
	}
	return set
}()
