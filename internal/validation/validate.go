// Package validation grades a KID record extracted by a language model.
//
// The record is checked for schema conformance, then for cross-field
// consistency on the fields that passed, and the violations are folded into a
// score in [0,1] with ordered French feedback. Every function here is pure
// and safe for concurrent use.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrStructural is returned when the input is not a mapping at all.
var ErrStructural = errors.New("record is not a JSON object")

// StructuralError reports what was received instead of a mapping.
type StructuralError struct {
	Got   string
	Cause error
}

func (e *StructuralError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v: got %s: %v", ErrStructural, e.Got, e.Cause)
	}
	return fmt.Sprintf("%v: got %s", ErrStructural, e.Got)
}

func (e *StructuralError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrStructural, e.Cause}
	}
	return []error{ErrStructural}
}

// Result is the verdict on one record. It is built fresh per call and never
// shared.
type Result struct {
	Score        float64     `json:"score"`
	Feedback     []string    `json:"feedback"`
	Violations   []Violation `json:"violations"`
	PassedChecks CheckSet    `json:"passed_checks"`
	FailedChecks CheckSet    `json:"failed_checks"`
}

// Accepted reports whether the score reaches minScore.
func (r *Result) Accepted(minScore float64) bool {
	return r.Score >= minScore
}

// Validator runs the checkers with a fixed configuration.
type Validator struct {
	cfg Config
}

// New returns a Validator after checking cfg.
func New(cfg Config) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Validator{cfg: cfg}, nil
}

// Default uses DefaultConfig.
func Default() *Validator {
	return &Validator{cfg: DefaultConfig()}
}

// Config returns the validator's thresholds.
func (v *Validator) Config() Config {
	return v.cfg
}

// ValidateDocument grades a record. Low quality never produces an error; only
// a non-mapping input (nil, sequence, scalar) yields a *StructuralError.
func (v *Validator) ValidateDocument(input any) (*Result, error) {
	record, err := asRecord(input)
	if err != nil {
		return nil, err
	}

	r := newReport()
	fields := checkSchema(record, r)
	checkConsistency(fields, v.cfg, r)

	ordered := make([]Violation, len(r.violations))
	copy(ordered, r.violations)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Kind.tier() < ordered[j].Kind.tier()
	})

	feedback := make([]string, len(ordered))
	for i, vi := range ordered {
		feedback[i] = vi.Message
	}

	return &Result{
		Score:        Score(ordered, v.cfg),
		Feedback:     feedback,
		Violations:   ordered,
		PassedChecks: r.passedChecks(),
		FailedChecks: newCheckSet(r.failed),
	}, nil
}

// ValidateJSON parses data and grades it. Unparseable text is a structural
// error as well.
func (v *Validator) ValidateJSON(data []byte) (*Result, error) {
	input, err := decodeJSON(data)
	if err != nil {
		return nil, err
	}
	return v.ValidateDocument(input)
}

// Normalize returns the typed fields of a record, whatever their validity.
func (v *Validator) Normalize(input any) (*Fields, error) {
	record, err := asRecord(input)
	if err != nil {
		return nil, err
	}
	return checkSchema(record, newReport()), nil
}

// ValidateDocument grades input with DefaultConfig.
func ValidateDocument(input any) (*Result, error) {
	return Default().ValidateDocument(input)
}

func asRecord(input any) (map[string]any, error) {
	switch in := input.(type) {
	case map[string]any:
		if in == nil {
			return nil, &StructuralError{Got: "null"}
		}
		return in, nil
	case json.RawMessage:
		return recordFromJSON(in)
	case []byte:
		return recordFromJSON(in)
	case nil:
		return nil, &StructuralError{Got: "null"}
	}
	if m, ok := asMap(input); ok {
		return m, nil
	}
	return nil, &StructuralError{Got: describe(input)}
}

func recordFromJSON(data []byte) (map[string]any, error) {
	v, err := decodeJSON(data)
	if err != nil {
		return nil, err
	}
	return asRecord(v)
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &StructuralError{Got: "unparseable text", Cause: err}
	}
	if dec.More() {
		return nil, &StructuralError{Got: "trailing data after JSON value"}
	}
	return v, nil
}

func describe(v any) string {
	switch v.(type) {
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, json.Number, int, int64:
		return "number"
	}
	return fmt.Sprintf("%T", v)
}
