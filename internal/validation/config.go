package validation

import (
	"errors"
	"fmt"
	"math"
)

// Penalties is the score deducted per violation, by kind.
type Penalties struct {
	Schema       float64 `yaml:"schema" json:"schema"`
	Consistency  float64 `yaml:"consistency" json:"consistency"`
	Temporal     float64 `yaml:"temporal" json:"temporal"`
	Completeness float64 `yaml:"completeness" json:"completeness"`
	Plausibility float64 `yaml:"plausibility" json:"plausibility"`
}

// For returns the penalty of one violation of kind k. Unknown kinds weigh as
// a consistency violation.
func (p Penalties) For(k Kind) float64 {
	switch k {
	case KindSchema:
		return p.Schema
	case KindTemporal:
		return p.Temporal
	case KindCompleteness:
		return p.Completeness
	case KindPlausibility:
		return p.Plausibility
	default:
		return p.Consistency
	}
}

// Config carries every threshold used by the checkers and the scoring engine.
type Config struct {
	Penalties Penalties `yaml:"penalties" json:"penalties"`

	// PercentTolerance is the allowed absolute gap, in percentage points,
	// between a declared and a recomputed scenario performance.
	PercentTolerance float64 `yaml:"percent_tolerance" json:"percent_tolerance"`

	// ISINChecksum turns on the Luhn check digit test of product.isin.
	// The ISIN shape is always checked.
	ISINChecksum bool `yaml:"isin_checksum" json:"isin_checksum"`
}

// DefaultConfig returns the stock weights: four missing required fields
// bring a record to zero, ten medium violations do the same.
func DefaultConfig() Config {
	return Config{
		Penalties: Penalties{
			Schema:       0.25,
			Consistency:  0.10,
			Temporal:     0.10,
			Completeness: 0.10,
			Plausibility: 0.03,
		},
		PercentTolerance: 1.0,
	}
}

var ErrInvalidConfig = errors.New("invalid validation config")

// Validate rejects penalties outside [0,1] and a negative tolerance.
func (c Config) Validate() error {
	for _, p := range []struct {
		name  string
		value float64
	}{
		{"schema", c.Penalties.Schema},
		{"consistency", c.Penalties.Consistency},
		{"temporal", c.Penalties.Temporal},
		{"completeness", c.Penalties.Completeness},
		{"plausibility", c.Penalties.Plausibility},
	} {
		if math.IsNaN(p.value) || p.value < 0 || p.value > 1 {
			return fmt.Errorf("%w: penalty %s=%v must be within [0,1]", ErrInvalidConfig, p.name, p.value)
		}
	}
	if math.IsNaN(c.PercentTolerance) || c.PercentTolerance < 0 {
		return fmt.Errorf("%w: percent_tolerance=%v must not be negative", ErrInvalidConfig, c.PercentTolerance)
	}
	return nil
}
