package helpers

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var currencySymbols = []string{"$", "€", "£", "¥", "₩"}

// DigitsOnly strips every non-digit character from s
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ContainsCurrency reports whether s carries a currency symbol
func ContainsCurrency(s string) bool {
	for _, sym := range currencySymbols {
		if strings.Contains(s, sym) {
			return true
		}
	}
	return false
}

// NonEmptyLines splits s into trimmed, non-empty lines
func NonEmptyLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// FirstCurrencyLine returns the first line carrying a currency symbol
func FirstCurrencyLine(lines []string) string {
	for _, line := range lines {
		if ContainsCurrency(line) {
			return line
		}
	}
	return ""
}

// LongestTitleLine returns the longest line without a currency symbol that is
// longer than minLen runes. Ties keep the earliest line.
func LongestTitleLine(lines []string, minLen int) string {
	best := ""
	for _, line := range lines {
		if ContainsCurrency(line) || utf8.RuneCountInString(line) <= minLen {
			continue
		}
		if utf8.RuneCountInString(line) > utf8.RuneCountInString(best) {
			best = line
		}
	}
	return best
}

// CollapseSpace trims s and collapses internal whitespace runs to one space
func CollapseSpace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
