package constants

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Scenario is the canonical name of a KID performance scenario.
type Scenario string

const (
	Favorable   Scenario = "favorable"
	Moderate    Scenario = "moderate"
	Unfavorable Scenario = "unfavorable"
	Stress      Scenario = "stress"
)

// allScenarios is also the rendering order.
var allScenarios = []Scenario{
	Favorable,
	Moderate,
	Unfavorable,
	Stress,
}

// Scenarios returns the required scenarios in rendering order.
func Scenarios() []Scenario {
	out := make([]Scenario, len(allScenarios))
	copy(out, allScenarios)
	return out
}

func ScenarioNames() []string {
	result := make([]string, len(allScenarios))
	for i, s := range allScenarios {
		result[i] = string(s)
	}
	return result
}

var scenarioSynonyms = map[string]Scenario{
	"favourable":             Favorable,
	"scenario favorable":     Favorable,
	"optimistic":             Favorable,
	"intermediaire":          Moderate,
	"scenario intermediaire": Moderate,
	"modere":                 Moderate,
	"neutral":                Moderate,
	"defavorable":            Unfavorable,
	"scenario defavorable":   Unfavorable,
	"pessimistic":            Unfavorable,
	"tensions":               Stress,
	"tension":                Stress,
	"scenario de tensions":   Stress,
	"stressed":               Stress,
}

// foldAccents removes combining marks ("Défavorable" -> "Defavorable").
// Chains are stateful, so one is built per call.
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(t, s); err == nil {
		return out
	}
	return s
}

// CanonicalizeScenario maps a model-provided label (English or French, any
// case or accents) to a canonical scenario.
func CanonicalizeScenario(input string) (Scenario, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return "", false
	}
	normalized = foldAccents(normalized)
	normalized = strings.Join(strings.FieldsFunc(normalized, func(r rune) bool {
		return r == '_' || r == '-' || unicode.IsSpace(r)
	}), " ")

	for _, s := range allScenarios {
		if normalized == string(s) {
			return s, true
		}
	}
	if s, ok := scenarioSynonyms[normalized]; ok {
		return s, true
	}
	return "", false
}
