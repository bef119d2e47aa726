package resolver

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	errNotNumeric  = errors.New("not a number")
	currencySuffix = regexp.MustCompile(`\s*(KN|HRK|EUR|USD|GBP)\s*$`)
	currencyPrefix = regexp.MustCompile(`^\s*(EUR|USD|GBP)\s*`)
)

// ParseAmount converts a monetary string to cents. It accepts currency
// symbols and codes, spaces as thousands separators and both
// "1.234,56" and "1,234.56" forms. A lone separator followed by exactly
// three digits ("1,234" or "1.234") groups thousands. Only digits and
// separators are accepted, so exponent and hex forms are rejected. Blank
// input is zero.
func ParseAmount(value string) (int64, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '€', '$', '£', '¥', ' ', '\u00a0', '\'':
			return -1
		}
		return r
	}, strings.ToUpper(strings.TrimSpace(value)))
	cleaned = currencySuffix.ReplaceAllString(cleaned, "")
	cleaned = currencyPrefix.ReplaceAllString(cleaned, "")

	if cleaned == "" {
		return 0, nil
	}
	if !amountPattern.MatchString(cleaned) {
		return 0, fmt.Errorf("%q: %w", value, errNotNumeric)
	}

	negative := false
	switch cleaned[0] {
	case '-':
		negative = true
		cleaned = cleaned[1:]
	case '+':
		cleaned = cleaned[1:]
	}

	whole, frac, err := splitAmount(cleaned)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", value, err)
	}

	cents, err := toCents(whole, frac)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", value, err)
	}
	if negative {
		cents = -cents
	}
	return cents, nil
}

var amountPattern = regexp.MustCompile(`^[+-]?[0-9][0-9.,]*$`)

// splitAmount separates the integer digits from the fraction digits
func splitAmount(s string) (whole, frac string, err error) {
	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")

	var decimal, group string
	switch {
	case dots == 0 && commas == 0:
		return s, "", nil
	case dots > 0 && commas > 0:
		// Whichever separator comes last is the decimal separator.
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			decimal, group = ",", "."
		} else {
			decimal, group = ".", ","
		}
		if strings.Count(s, decimal) > 1 {
			return "", "", errNotNumeric
		}
	default:
		sep := "."
		if commas > 0 {
			sep = ","
		}
		parts := strings.Split(s, sep)
		last := parts[len(parts)-1]
		if len(parts) > 2 || (len(last) == 3 && parts[0] != "0") {
			group = sep
		} else {
			decimal = sep
		}
	}

	if decimal != "" {
		i := strings.LastIndex(s, decimal)
		whole, frac = s[:i], s[i+1:]
		if frac == "" {
			return "", "", errNotNumeric
		}
	} else {
		whole = s
	}

	if group != "" {
		groups := strings.Split(whole, group)
		for i, g := range groups {
			if g == "" || (i > 0 && len(g) != 3) || (i == 0 && len(g) > 3) {
				return "", "", errors.New("misplaced thousands separator")
			}
		}
		whole = strings.Join(groups, "")
	}
	return whole, frac, nil
}

// toCents combines digit strings into cents, rounding half away from zero
func toCents(whole, frac string) (int64, error) {
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units > math.MaxInt64/100-1 {
		return 0, errors.New("amount out of range")
	}

	frac += "000"
	cents, _ := strconv.ParseInt(frac[:2], 10, 64)
	if frac[2] >= '5' {
		cents++
	}
	return units*100 + cents, nil
}

// ParseAgingDays converts a day count. Blank input is zero; a fractional
// value with a zero fraction ("30.0") is accepted.
func ParseAgingDays(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(value); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("%q: must not be negative", value)
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("%q: not a whole number of days", value)
	}
	if f < 0 {
		return 0, fmt.Errorf("%q: must not be negative", value)
	}
	return int(f), nil
}

// FormatCents formats cents as a decimal string (1299 -> "12.99")
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// normalizeEmail lower-cases and validates a contact address
func normalizeEmail(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	at := strings.IndexByte(s, '@')
	if at <= 0 || at != strings.LastIndexByte(s, '@') || at == len(s)-1 || strings.ContainsAny(s, " ,;") {
		return "", fmt.Errorf("%q is not a valid email address", s)
	}
	return s, nil
}
