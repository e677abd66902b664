package validation

import (
	"fmt"
	"sort"

	"github.com/joseph-ayodele/kid-extractor/constants"
)

// Keys under which list-shaped scenario entries carry their name.
var scenarioNameKeys = []string{"name", "type", "scenario", "title", "nom"}

// scenarioSet is performance.scenarios after name canonicalisation.
type scenarioSet struct {
	entries    map[constants.Scenario]map[string]any // first occurrence wins
	duplicates []constants.Scenario
	unknown    []string
}

func (s scenarioSet) has(name constants.Scenario) bool {
	_, ok := s.entries[name]
	return ok
}

// resolveScenarios accepts the mapping form {"favorable": {...}} and the
// sequence form [{"name": "Favorable", ...}]. Anything else resolves empty.
func resolveScenarios(rec map[string]any) scenarioSet {
	set := scenarioSet{entries: make(map[constants.Scenario]map[string]any)}
	raw, ok := Lookup(rec, "performance.scenarios")
	if !ok {
		return set
	}

	if m, ok := asMap(raw); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if isBlank(m[k]) {
				continue
			}
			body, _ := asMap(m[k])
			set.add(k, body)
		}
		return set
	}

	items, ok := raw.([]any)
	if !ok {
		return set
	}
	for i, item := range items {
		body, ok := asMap(item)
		if !ok {
			set.unknown = append(set.unknown, fmt.Sprintf("#%d", i+1))
			continue
		}
		label, found := scenarioLabel(body)
		if !found {
			// [{"favorable": {...}}, ...]
			if len(body) == 1 {
				for k, v := range body {
					inner, _ := asMap(v)
					set.add(k, inner)
				}
				continue
			}
			set.unknown = append(set.unknown, fmt.Sprintf("#%d", i+1))
			continue
		}
		set.add(label, body)
	}
	return set
}

func scenarioLabel(body map[string]any) (string, bool) {
	for _, key := range scenarioNameKeys {
		if s, ok := AsString(body[key]); ok {
			return s, true
		}
	}
	return "", false
}

func (s *scenarioSet) add(label string, body map[string]any) {
	name, ok := constants.CanonicalizeScenario(label)
	if !ok {
		s.unknown = append(s.unknown, label)
		return
	}
	if _, seen := s.entries[name]; seen {
		for _, d := range s.duplicates {
			if d == name {
				return
			}
		}
		s.duplicates = append(s.duplicates, name)
		return
	}
	if body == nil {
		body = map[string]any{}
	}
	s.entries[name] = body
}
