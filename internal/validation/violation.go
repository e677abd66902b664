package validation

import (
	"fmt"
	"sort"
)

// Kind classifies a violation; it drives both the penalty and the feedback order.
type Kind string

const (
	KindSchema       Kind = "SCHEMA"
	KindConsistency  Kind = "CONSISTENCY"
	KindTemporal     Kind = "TEMPORAL"
	KindCompleteness Kind = "COMPLETENESS"
	KindPlausibility Kind = "PLAUSIBILITY"
)

// tier is the feedback group: schema first, soft warnings last.
func (k Kind) tier() int {
	switch k {
	case KindSchema:
		return 0
	case KindPlausibility:
		return 2
	default:
		return 1
	}
}

// Violation is one detected deviation from the schema or business rules.
type Violation struct {
	Kind    Kind   `json:"kind"`
	Check   string `json:"check"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`

	// Missing counts the required fields absent with this violation, e.g. the
	// leaves of a missing scenario. Each is charged the schema penalty.
	Missing int `json:"missing,omitempty"`
}

func (v Violation) String() string {
	return fmt.Sprintf("[%s] %s", v.Kind, v.Message)
}

// CheckSet is a sorted, duplicate-free set of check identifiers.
type CheckSet []string

func newCheckSet(ids map[string]struct{}) CheckSet {
	out := make(CheckSet, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Has reports whether id is in the set.
func (s CheckSet) Has(id string) bool {
	i := sort.SearchStrings(s, id)
	return i < len(s) && s[i] == id
}

// report accumulates the outcome of every check that actually ran.
// Checks skipped for lack of input land in neither set.
type report struct {
	violations []Violation
	passed     map[string]struct{}
	failed     map[string]struct{}
}

func newReport() *report {
	return &report{
		passed: make(map[string]struct{}),
		failed: make(map[string]struct{}),
	}
}

func (r *report) pass(check string) {
	r.passed[check] = struct{}{}
}

func (r *report) fail(v Violation) {
	r.failed[v.Check] = struct{}{}
	r.violations = append(r.violations, v)
}

// passedChecks drops ids that also failed, e.g. a check id shared by several paths.
func (r *report) passedChecks() CheckSet {
	ids := make(map[string]struct{}, len(r.passed))
	for id := range r.passed {
		if _, bad := r.failed[id]; !bad {
			ids[id] = struct{}{}
		}
	}
	return newCheckSet(ids)
}
