package scrapeutil

import (
	"strings"
	"unicode"
)

// DigitsOnly keeps only the ASCII digits of s.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsDigits reports whether s is non-empty and made of digits only once
// spaces are removed.
func IsDigits(s string) bool {
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// CollapseSpace trims s and folds runs of whitespace into one space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeName trims, collapses whitespace and upper-cases a person name.
func NormalizeName(s string) string {
	return strings.ToUpper(CollapseSpace(s))
}

// ContainsAny reports whether lower-cased s contains any of words.
func ContainsAny(s string, words ...string) bool {
	s = strings.ToLower(s)
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// IsUpperText reports whether s has at least one letter and no
// lower-case letters.
func IsUpperText(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if unicode.IsLower(r) {
				return false
			}
		}
	}
	return hasLetter
}

// StripQuotes removes every double quote from s and trims it.
func StripQuotes(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, `"`, ""))
}
