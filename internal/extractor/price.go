package extractor

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// foldDigits maps Persian and Arabic-Indic digits and separators to ASCII.
var foldDigits = runes.Map(func(r rune) rune {
	switch {
	case r >= '۰' && r <= '۹':
		return '0' + (r - '۰')
	case r >= '٠' && r <= '٩':
		return '0' + (r - '٠')
	case r == '٫': // Arabic decimal separator
		return '.'
	case r == '٬', r == '،': // Arabic thousands separator, Arabic comma
		return ','
	}
	return r
})

// ParsePrice turns a displayed price such as "۱۲۵٬۰۰۰ تومان" into a decimal.
// Thousands separators and currency text are dropped. When both "." and ","
// appear the last one is the decimal separator; repeated dots are grouping.
// The result is invalid when no digits are present.
func ParsePrice(raw string) decimal.NullDecimal {
	folded, _, err := transform.String(foldDigits, raw)
	if err != nil {
		return decimal.NullDecimal{}
	}

	var b strings.Builder
	for _, r := range folded {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	s := strings.Trim(b.String(), ".,")
	if s == "" {
		return decimal.NullDecimal{}
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		s = strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	// Grouping separators may remain after a comma-decimal swap
	if strings.Count(s, ",") > 0 || strings.Count(s, ".") > 1 {
		return decimal.NullDecimal{}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
