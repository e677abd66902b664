package validation

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Lookup walks a dotted path through nested mappings. Nil values, empty
// strings and non-mapping intermediates all count as absent.
func Lookup(rec map[string]any, path string) (any, bool) {
	var cur any = rec
	for _, key := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	if isBlank(cur) {
		return nil, false
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	}
	return nil, false
}

func isBlank(v any) bool {
	switch s := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(s) == ""
	}
	return false
}

// AsString returns a trimmed, non-empty string.
func AsString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		s = strings.TrimSpace(s)
		return s, s != ""
	case json.Number:
		return s.String(), true
	}
	return "", false
}

var (
	reThousandsComma = regexp.MustCompile(`^[-+]?\d{1,3}(,\d{3})+$`)
	reCurrencyAffix  = regexp.MustCompile(`(?i)^(eur|usd|gbp|chf)\s*|\s*(eur|usd|gbp|chf)$`)
)

// AsNumber coerces JSON numbers and numeric strings ("1 000,50 €", "-12,5 %",
// "1,250.75") to a decimal.
func AsNumber(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(n), true
	case float32:
		if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt32(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case decimal.Decimal:
		return n, true
	case string:
		return parseNumericString(n)
	}
	return decimal.Zero, false
}

func parseNumericString(s string) (decimal.Decimal, bool) {
	s = strings.NewReplacer("\u00a0", " ", "\u202f", " ", "\u2212", "-").Replace(s)
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "%")
	s = strings.Trim(s, " €$£")
	s = reCurrencyAffix.ReplaceAllString(s, "")
	s = strings.NewReplacer(" ", "", "'", "").Replace(s)
	s = strings.TrimPrefix(s, "+")
	if s == "" {
		return decimal.Zero, false
	}

	comma := strings.LastIndex(s, ",")
	dot := strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot >= 0:
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		if reThousandsComma.MatchString(s) {
			s = strings.ReplaceAll(s, ",", "")
		} else if strings.Count(s, ",") == 1 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			return decimal.Zero, false
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

var (
	minInt = decimal.NewFromInt(math.MinInt32)
	maxInt = decimal.NewFromInt(math.MaxInt32)
)

// AsInt accepts integral numbers, including numeric strings such as "4" or "4.0".
func AsInt(v any) (int, bool) {
	d, ok := AsNumber(v)
	if !ok || !d.Equal(d.Truncate(0)) {
		return 0, false
	}
	if d.LessThan(minInt) || d.GreaterThan(maxInt) {
		return 0, false
	}
	return int(d.IntPart()), true
}

var dateLayouts = []string{
	"2/1/2006",
	"2-1-2006",
	"2.1.2006",
	"2006-1-2",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// AsDate parses DD/MM/YYYY (also with '-' or '.') and ISO dates.
func AsDate(v any) (time.Time, bool) {
	s, ok := AsString(v)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// AsStringList accepts a sequence of strings; a lone string is a one-item list.
// Blank items are dropped.
func AsStringList(v any) ([]string, bool) {
	switch items := v.(type) {
	case string:
		if s, ok := AsString(items); ok {
			return []string{s}, true
		}
		return []string{}, true
	case []string:
		out := make([]string, 0, len(items))
		for _, it := range items {
			if s, ok := AsString(it); ok {
				out = append(out, s)
			}
		}
		return out, true
	case []any:
		out := make([]string, 0, len(items))
		for _, it := range items {
			if isBlank(it) {
				continue
			}
			s, ok := it.(string)
			if !ok {
				return nil, false
			}
			out = append(out, strings.TrimSpace(s))
		}
		return out, true
	}
	return nil, false
}
