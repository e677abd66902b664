package validation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/kid-extractor/constants"
)

type fieldSpec struct {
	path     string
	rule     Rule
	optional bool
}

// Record-level fields in document order. Scenario leaves are checked between
// dates and costs, see checkSchema.
var (
	headFields = []fieldSpec{
		{path: "product.name", rule: Text()},
		{path: "product.isin", rule: ISIN()},
		{path: "product.currency", rule: CurrencyCode()},
		{path: "document.type", rule: Text()},
		{path: "risk.level", rule: IntRange(1, 7)},
		{path: "risk.warnings", rule: StringList(), optional: true},
		{path: "dates.issue", rule: Date()},
		{path: "dates.redemption", rule: Date()},
		{path: "dates.redemption_valuation", rule: Date()},
	}
	costFields = []fieldSpec{
		{path: "performance.costs.total.one_off", rule: Number()},
		{path: "performance.costs.total.ongoing", rule: Number(), optional: true},
		{path: "performance.costs.impact_on_return.one_off", rule: Number()},
		{path: "performance.costs.impact_on_return.ongoing", rule: Number(), optional: true},
	}
	scenarioLeaves = []fieldSpec{
		{path: "initial", rule: Number()},
		{path: "final", rule: Number()},
		{path: "percentage_change", rule: Number()},
	}
)

// Fields holds the typed values of every field that passed the schema pass.
// A path is present here only if it was present and well-formed.
type Fields struct {
	values    map[string]any
	scenarios scenarioSet
}

// ScenarioPath is the field path of a scenario leaf.
func ScenarioPath(s constants.Scenario, leaf string) string {
	return "performance.scenarios." + string(s) + "." + leaf
}

func (f *Fields) Has(path string) bool {
	_, ok := f.values[path]
	return ok
}

func (f *Fields) String(path string) (string, bool) {
	s, ok := f.values[path].(string)
	return s, ok
}

func (f *Fields) Int(path string) (int, bool) {
	n, ok := f.values[path].(int)
	return n, ok
}

func (f *Fields) Decimal(path string) (decimal.Decimal, bool) {
	d, ok := f.values[path].(decimal.Decimal)
	return d, ok
}

func (f *Fields) Date(path string) (time.Time, bool) {
	t, ok := f.values[path].(time.Time)
	return t, ok
}

func (f *Fields) Strings(path string) ([]string, bool) {
	s, ok := f.values[path].([]string)
	return s, ok
}

// Scenarios returns the recognised scenarios in canonical order.
func (f *Fields) Scenarios() []constants.Scenario {
	var out []constants.Scenario
	for _, s := range constants.Scenarios() {
		if f.scenarios.has(s) {
			out = append(out, s)
		}
	}
	return out
}

// CheckSchema verifies presence and type-convertibility of every required
// field. It never fails: malformed input is reported as SCHEMA violations.
func CheckSchema(record map[string]any) ([]Violation, *Fields) {
	r := newReport()
	f := checkSchema(record, r)
	return r.violations, f
}

func checkSchema(record map[string]any, r *report) *Fields {
	f := &Fields{
		values:    make(map[string]any),
		scenarios: resolveScenarios(record),
	}
	for _, fd := range headFields {
		raw, ok := Lookup(record, fd.path)
		f.checkField(r, fd, fd.path, raw, ok)
	}
	for _, s := range constants.Scenarios() {
		body, ok := f.scenarios.entries[s]
		if !ok {
			continue // reported once as COMPLETENESS, weighed per leaf
		}
		for _, leaf := range scenarioLeaves {
			raw, ok := Lookup(body, leaf.path)
			f.checkField(r, leaf, ScenarioPath(s, leaf.path), raw, ok)
		}
	}
	for _, fd := range costFields {
		raw, ok := Lookup(record, fd.path)
		f.checkField(r, fd, fd.path, raw, ok)
	}
	return f
}

func (f *Fields) checkField(r *report, fd fieldSpec, path string, raw any, present bool) {
	check := "schema." + path
	if !present {
		if fd.optional {
			return
		}
		r.fail(Violation{
			Kind:    KindSchema,
			Check:   check,
			Path:    path,
			Message: fmt.Sprintf("champ '%s' manquant ou invalide", path),
		})
		return
	}
	v, err := fd.rule(raw)
	if err != nil {
		r.fail(Violation{
			Kind:    KindSchema,
			Check:   check,
			Path:    path,
			Message: fmt.Sprintf("champ '%s' manquant ou invalide : %v", path, err),
		})
		return
	}
	f.values[path] = v
	r.pass(check)
}
