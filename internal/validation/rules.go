package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Rule converts a present raw value into its typed form, or says why it cannot.
type Rule func(raw any) (any, error)

var (
	reISIN     = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{9}[0-9]$`)
	reCurrency = regexp.MustCompile(`^[A-Z]{3}$`)

	currencySymbols = map[string]string{"€": "EUR", "$": "USD", "£": "GBP"}
)

// Text requires a non-empty string.
func Text() Rule {
	return func(raw any) (any, error) {
		s, ok := AsString(raw)
		if !ok {
			return nil, errors.New("texte attendu")
		}
		return s, nil
	}
}

// ISIN requires the 12-character ISIN shape. Spaces are ignored and letters upper-cased.
func ISIN() Rule {
	return func(raw any) (any, error) {
		s, ok := AsString(raw)
		if !ok {
			return nil, errors.New("texte attendu")
		}
		s = strings.ToUpper(strings.ReplaceAll(s, " ", ""))
		if !reISIN.MatchString(s) {
			return nil, fmt.Errorf("format ISIN attendu (2 lettres, 9 alphanumériques, 1 chiffre), reçu %q", s)
		}
		return s, nil
	}
}

// CurrencyCode requires an ISO 4217 shaped code; common symbols are mapped.
func CurrencyCode() Rule {
	return func(raw any) (any, error) {
		s, ok := AsString(raw)
		if !ok {
			return nil, errors.New("texte attendu")
		}
		if code, ok := currencySymbols[s]; ok {
			return code, nil
		}
		s = strings.ToUpper(s)
		if !reCurrency.MatchString(s) {
			return nil, fmt.Errorf("code devise ISO 4217 attendu, reçu %q", s)
		}
		return s, nil
	}
}

// IntRange requires an integer in [min, max].
func IntRange(min, max int) Rule {
	return func(raw any) (any, error) {
		n, ok := AsInt(raw)
		if !ok {
			return nil, errors.New("entier attendu")
		}
		if n < min || n > max {
			return nil, fmt.Errorf("valeur %d hors de l'intervalle [%d,%d]", n, min, max)
		}
		return n, nil
	}
}

// Number requires a number or a numeric string.
func Number() Rule {
	return func(raw any) (any, error) {
		d, ok := AsNumber(raw)
		if !ok {
			return nil, errors.New("nombre attendu")
		}
		return d, nil
	}
}

// Date requires DD/MM/YYYY or an ISO date.
func Date() Rule {
	return func(raw any) (any, error) {
		t, ok := AsDate(raw)
		if !ok {
			return nil, errors.New("date attendue au format JJ/MM/AAAA ou AAAA-MM-JJ")
		}
		return t, nil
	}
}

// StringList requires a sequence of strings.
func StringList() Rule {
	return func(raw any) (any, error) {
		items, ok := AsStringList(raw)
		if !ok {
			return nil, errors.New("liste de textes attendue")
		}
		return items, nil
	}
}
