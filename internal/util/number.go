package util

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	plainNumberPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)
	numericToken       = regexp.MustCompile(`^[+-]?(?:\d{1,3}(?:[\s.,]\d{3})+|\d+)(?:[.,]\d+)?$`)
	thousandsDot       = regexp.MustCompile(`^[+-]?\d{1,3}(?:\.\d{3})+$`)
	thousandsComma     = regexp.MustCompile(`^[+-]?\d{1,3}(?:,\d{3})+$`)
	unitSuffix         = regexp.MustCompile(`(?i)\s*(개|ea|pcs|pc|box|박스|set|세트|kg|원|krw|usd)\.?$`)
	currencyMarks      = strings.NewReplacer("₩", "", "￦", "", "$", "", "€", "", "£", "")
)

// IsPlainNumber reports whether s is an unformatted decimal literal as
// produced by spreadsheet raw values.
func IsPlainNumber(s string) bool {
	return plainNumberPattern.MatchString(s)
}

// ParseNumber coerces a human-formatted cell into a decimal. It accepts
// thousands separators, decimal commas, currency marks, a trailing unit word
// and accounting negatives. ok is false for anything else.
func ParseNumber(input string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(strings.ReplaceAll(input, "\u00A0", " "))
	if s == "" || strings.HasPrefix(s, "#") {
		return decimal.Zero, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.TrimSpace(currencyMarks.Replace(s))
	s = strings.TrimSpace(unitSuffix.ReplaceAllString(s, ""))
	if s == "" {
		return decimal.Zero, false
	}

	var (
		d   decimal.Decimal
		err error
	)
	switch {
	case numericToken.MatchString(s):
		d, err = decimal.NewFromString(normalizeNumericToken(s))
	case IsPlainNumber(s):
		d, err = decimal.NewFromString(s)
	default:
		return decimal.Zero, false
	}
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

func normalizeNumericToken(token string) string {
	compact := strings.Join(strings.Fields(token), "")
	switch {
	case thousandsDot.MatchString(compact):
		return strings.ReplaceAll(compact, ".", "")
	case thousandsComma.MatchString(compact):
		return strings.ReplaceAll(compact, ",", "")
	case strings.Contains(compact, ",") && strings.Contains(compact, "."):
		if strings.LastIndex(compact, ",") > strings.LastIndex(compact, ".") {
			compact = strings.ReplaceAll(compact, ".", "")
			return strings.Replace(compact, ",", ".", 1)
		}
		return strings.ReplaceAll(compact, ",", "")
	case strings.Contains(compact, ","):
		return strings.ReplaceAll(compact, ",", ".")
	}
	return compact
}
