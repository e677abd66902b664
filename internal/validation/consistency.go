package validation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/kid-extractor/constants"
)

const dateLayoutFR = "02/01/2006"

var hundred = decimal.NewFromInt(100)

// CheckConsistency validates relationships between fields that passed the
// schema pass. Absent or malformed fields are skipped, never re-reported.
func CheckConsistency(f *Fields, cfg Config) []Violation {
	r := newReport()
	checkConsistency(f, cfg, r)
	return r.violations
}

func checkConsistency(f *Fields, cfg Config, r *report) {
	checkCompleteness(f, r)
	for _, s := range f.Scenarios() {
		checkPercentage(f, s, cfg, r)
	}
	checkTemporal(f, r)
	checkRiskWarnings(f, r)
	if cfg.ISINChecksum {
		checkISINChecksum(f, r)
	}
	checkCostSigns(f, r)
}

func checkCompleteness(f *Fields, r *report) {
	for _, s := range constants.Scenarios() {
		check := "completeness.scenario." + string(s)
		if f.scenarios.has(s) {
			r.pass(check)
			continue
		}
		path := "performance.scenarios." + string(s)
		r.fail(Violation{
			Kind:    KindCompleteness,
			Check:   check,
			Path:    path,
			Message: fmt.Sprintf("scénario '%s' manquant (%s)", s, path),
			Missing: len(scenarioLeaves),
		})
	}

	if len(f.scenarios.duplicates) == 0 {
		r.pass("completeness.scenarios.unique")
	}
	for _, d := range f.scenarios.duplicates {
		r.fail(Violation{
			Kind:    KindCompleteness,
			Check:   "completeness.scenarios.unique",
			Path:    "performance.scenarios." + string(d),
			Message: fmt.Sprintf("scénario '%s' présent plusieurs fois", d),
		})
	}

	if len(f.scenarios.unknown) == 0 {
		r.pass("completeness.scenarios.known")
	}
	for _, u := range f.scenarios.unknown {
		r.fail(Violation{
			Kind:    KindCompleteness,
			Check:   "completeness.scenarios.known",
			Path:    "performance.scenarios",
			Message: fmt.Sprintf("scénario inconnu '%s'", u),
		})
	}
}

func checkPercentage(f *Fields, s constants.Scenario, cfg Config, r *report) {
	initial, ok1 := f.Decimal(ScenarioPath(s, "initial"))
	final, ok2 := f.Decimal(ScenarioPath(s, "final"))
	declared, ok3 := f.Decimal(ScenarioPath(s, "percentage_change"))
	if !ok1 || !ok2 || !ok3 {
		return
	}
	check := "consistency.percentage." + string(s)
	path := ScenarioPath(s, "percentage_change")

	if initial.IsZero() {
		r.fail(Violation{
			Kind:    KindConsistency,
			Check:   check,
			Path:    path,
			Message: fmt.Sprintf("scénario '%s' : montant initial nul, variation impossible à vérifier", s),
		})
		return
	}

	expected := final.Sub(initial).Div(initial).Mul(hundred)
	tolerance := decimal.NewFromFloat(cfg.PercentTolerance)
	if expected.Sub(declared).Abs().LessThanOrEqual(tolerance) {
		r.pass(check)
		return
	}

	// 0.10 for +10%: right number, wrong scale.
	if expected.Sub(declared.Mul(hundred)).Abs().LessThanOrEqual(tolerance) {
		r.pass(check)
		r.fail(Violation{
			Kind:    KindPlausibility,
			Check:   "plausibility.percentage_scale." + string(s),
			Path:    path,
			Message: fmt.Sprintf("scénario '%s' : variation %s exprimée en fraction plutôt qu'en pourcentage", s, declared.String()),
		})
		return
	}

	r.fail(Violation{
		Kind:  KindConsistency,
		Check: check,
		Path:  path,
		Message: fmt.Sprintf("scénario '%s' : variation déclarée %s%% incohérente avec %s → %s (attendu %s%%)",
			s, declared.String(), initial.String(), final.String(), expected.StringFixed(2)),
	})
}

func checkTemporal(f *Fields, r *report) {
	issue, ok := f.Date("dates.issue")
	if !ok {
		return
	}
	if redemption, ok := f.Date("dates.redemption"); ok {
		if redemption.Before(issue) {
			r.fail(Violation{
				Kind:  KindTemporal,
				Check: "temporal.issue_before_redemption",
				Path:  "dates.redemption",
				Message: fmt.Sprintf("date de remboursement (%s) antérieure à la date d'émission (%s)",
					redemption.Format(dateLayoutFR), issue.Format(dateLayoutFR)),
			})
		} else {
			r.pass("temporal.issue_before_redemption")
		}
	}
	if valuation, ok := f.Date("dates.redemption_valuation"); ok {
		if valuation.Before(issue) {
			r.fail(Violation{
				Kind:  KindTemporal,
				Check: "temporal.issue_before_valuation",
				Path:  "dates.redemption_valuation",
				Message: fmt.Sprintf("date de valorisation (%s) antérieure à la date d'émission (%s)",
					valuation.Format(dateLayoutFR), issue.Format(dateLayoutFR)),
			})
		} else {
			r.pass("temporal.issue_before_valuation")
		}
	}
}

func checkRiskWarnings(f *Fields, r *report) {
	level, ok := f.Int("risk.level")
	if !ok {
		return
	}
	const check = "plausibility.risk_warnings"
	warnings, _ := f.Strings("risk.warnings")
	if level == 1 && len(warnings) > 0 {
		r.fail(Violation{
			Kind:    KindPlausibility,
			Check:   check,
			Path:    "risk.level",
			Message: fmt.Sprintf("niveau de risque 1 alors que %d avertissement(s) sont mentionnés", len(warnings)),
		})
		return
	}
	r.pass(check)
}

func checkISINChecksum(f *Fields, r *report) {
	isin, ok := f.String("product.isin")
	if !ok {
		return
	}
	const check = "plausibility.isin_checksum"
	if want, ok := isinCheckDigit(isin[:11]); ok && want == int(isin[11]-'0') {
		r.pass(check)
		return
	}
	r.fail(Violation{
		Kind:    KindPlausibility,
		Check:   check,
		Path:    "product.isin",
		Message: fmt.Sprintf("clé de contrôle de l'ISIN '%s' invalide", isin),
	})
}

// isinCheckDigit computes the Luhn check digit over the letter-expanded payload
// (A=10 … Z=35).
func isinCheckDigit(payload string) (int, bool) {
	var digits strings.Builder
	for _, c := range payload {
		switch {
		case c >= '0' && c <= '9':
			digits.WriteRune(c)
		case c >= 'A' && c <= 'Z':
			digits.WriteString(strconv.Itoa(int(c-'A') + 10))
		default:
			return 0, false
		}
	}
	ds := digits.String()
	sum := 0
	for i := 0; i < len(ds); i++ {
		n := int(ds[len(ds)-1-i] - '0')
		if i%2 == 0 {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
	}
	return (10 - sum%10) % 10, true
}

func checkCostSigns(f *Fields, r *report) {
	const check = "plausibility.costs_sign"
	var negative []string
	seen := false
	for _, fd := range costFields {
		d, ok := f.Decimal(fd.path)
		if !ok {
			continue
		}
		seen = true
		if d.IsNegative() {
			negative = append(negative, fd.path)
		}
	}
	if !seen {
		return
	}
	if len(negative) == 0 {
		r.pass(check)
		return
	}
	r.fail(Violation{
		Kind:    KindPlausibility,
		Check:   check,
		Path:    negative[0],
		Message: fmt.Sprintf("coûts négatifs : %s", strings.Join(negative, ", ")),
	})
}
