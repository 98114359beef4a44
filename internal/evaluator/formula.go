package evaluator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// formulaPattern matches the "<pct>% - MFN" family of reciprocal rate
// formulas, e.g. "15% - MFN".
var formulaPattern = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*%\s*-\s*MFN\s*$`)

// evalFormula resolves a rate formula against the MFN base rate. The result
// floors at zero: a formula never produces a negative duty.
func evalFormula(formula string, mfn float64) (float64, string, error) {
	m := formulaPattern.FindStringSubmatch(formula)
	if m == nil {
		return 0, "", fmt.Errorf("unsupported rate formula")
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, "", fmt.Errorf("bad percentage %q: %w", m[1], err)
	}
	rate := pct/100 - mfn
	if rate < 0 {
		rate = 0
	}
	label := strings.ReplaceAll(strings.TrimSuffix(m[1], ".0"), ".", "_")
	return rate, "formula_" + label + "_pct_minus_mfn", nil
}
