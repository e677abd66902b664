package validation

import (
	"math"
	"sort"
)

// Score deducts one penalty per violation from 1.0 and clamps to [0,1].
// A violation standing for missing required fields costs the schema penalty
// per field instead of its kind's penalty. Penalties are summed per kind, so
// the order of violations is irrelevant.
func Score(violations []Violation, cfg Config) float64 {
	counts := make(map[Kind]int, 5)
	missing := 0
	for _, v := range violations {
		if v.Missing > 0 {
			missing += v.Missing
			continue
		}
		counts[v.Kind]++
	}

	deduction := float64(missing) * cfg.Penalties.Schema
	for _, k := range []Kind{KindSchema, KindConsistency, KindTemporal, KindCompleteness, KindPlausibility} {
		deduction += float64(counts[k]) * cfg.Penalties.For(k)
		delete(counts, k)
	}
	rest := make([]string, 0, len(counts))
	for k := range counts {
		rest = append(rest, string(k))
	}
	sort.Strings(rest)
	for _, k := range rest {
		deduction += float64(counts[Kind(k)]) * cfg.Penalties.For(Kind(k))
	}

	return clamp01(1.0 - deduction)
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x), x <= 0:
		return 0
	case x >= 1:
		return 1
	}
	// strip float noise (1 - 3*0.1)
	return math.Round(x*1e6) / 1e6
}
