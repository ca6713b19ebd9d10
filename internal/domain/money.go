package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Monetary amounts are int64 minor units (cents) everywhere in this service.
// Nothing here round-trips money through a float.

// FormatCents renders cents as a decimal string, e.g. 120000050 -> "1200000.50".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ParseCents parses a decimal amount string ("1200.50", "1200") into cents.
// More than two fractional digits is an error, not a rounding.
func ParseCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has sub-cent precision", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	cents := w*100 + f
	if neg {
		cents = -cents
	}
	return cents, nil
}

// WithinToleranceBP reports whether |claimed-expected| relative to expected
// stays at or under toleranceBP basis points. Pure integer arithmetic:
// |claimed-expected| * 10000 <= toleranceBP * expected.
func WithinToleranceBP(expected, claimed int64, toleranceBP int64) bool {
	if expected <= 0 {
		return false
	}
	diff := claimed - expected
	if diff < 0 {
		diff = -diff
	}
	return diff*10000 <= toleranceBP*expected
}
