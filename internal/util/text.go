package util

import (
	"regexp"
	"strings"
)

var (
	reLabelNoise = regexp.MustCompile(`[\s"'` + "`" + `«»._\-]+`)
	reSpaces     = regexp.MustCompile(`\s+`)
)

// NormalizeLabel folds header text for substring matching: lower case with
// whitespace, quotes and joiners removed, so "주문 수량" and "Q'ty" compare
// equal to "주문수량" and "qty".
func NormalizeLabel(input string) string {
	s := strings.ToLower(strings.ReplaceAll(input, "\u00A0", " "))
	return reLabelNoise.ReplaceAllString(s, "")
}

// MatchesAnyLabel reports whether the normalized cell text contains any of
// the normalized labels.
func MatchesAnyLabel(cell string, labels []string) bool {
	norm := NormalizeLabel(cell)
	if norm == "" {
		return false
	}
	for _, label := range labels {
		l := NormalizeLabel(label)
		if l != "" && strings.Contains(norm, l) {
			return true
		}
	}
	return false
}

// CompactSpaces trims and collapses inner whitespace runs.
func CompactSpaces(input string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(strings.ReplaceAll(input, "\u00A0", " "), " "))
}

// SanitizeFileStem turns an arbitrary source name into a safe file stem.
func SanitizeFileStem(input string) string {
	repl := strings.NewReplacer("<", "_", ">", "_", ":", "_", "/", "_", "\\", "_", "|", "_", "?", "_", "*", "_", " ", "_", "\"", "_")
	out := repl.Replace(strings.TrimSpace(input))
	if out == "" {
		out = "order"
	}
	if r := []rune(out); len(r) > 120 {
		out = string(r[:120])
	}
	return out
}
