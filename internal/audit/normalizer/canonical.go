package normalizer

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Canonicalization of fiscal codes. All functions are idempotent: feeding an
// already-canonical value back returns it unchanged.

// CanonicalNCM strips punctuation and forces the code to 8 digits,
// right-padding short codes with zeros and truncating long ones.
func CanonicalNCM(ncm string) string {
	clean := stripChars(strings.TrimSpace(ncm), ".-")
	if clean == "" {
		return ""
	}
	if len(clean) < 8 {
		return clean + strings.Repeat("0", 8-len(clean))
	}
	return clean[:8]
}

// CanonicalCFOP strips dots and forces the code to 4 digits, left-padding
// short codes with zeros and truncating long ones.
func CanonicalCFOP(cfop string) string {
	clean := stripChars(strings.TrimSpace(cfop), ".")
	if clean == "" {
		return ""
	}
	if len(clean) < 4 {
		return strings.Repeat("0", 4-len(clean)) + clean
	}
	return clean[:4]
}

// CanonicalCNPJ strips formatting and left-pads to 14 digits. The second
// return tells whether padding was applied, which the parser reports as a
// warning on the document.
func CanonicalCNPJ(cnpj string) (string, bool) {
	clean := stripChars(strings.TrimSpace(cnpj), ".-/ ")
	if clean == "" {
		return "", false
	}
	if len(clean) < 14 {
		return strings.Repeat("0", 14-len(clean)) + clean, true
	}
	return clean, false
}

// CanonicalDecimal parses a numeric cell, accepting decimal comma. Blank or
// unparseable cells become zero.
func CanonicalDecimal(value string) decimal.Decimal {
	clean := strings.ReplaceAll(strings.TrimSpace(value), ",", ".")
	if clean == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// dateFormats are tried in order when parsing issue dates.
var dateFormats = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"2006/01/02",
	"20060102",
}

// ParseDate tries the supported issue-date formats. The boolean is false when
// no format matched; callers substitute a fallback and record a finding.
func ParseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// IsDigits reports whether the string is non-empty and all ASCII digits.
func IsDigits(s string) bool {
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

func stripChars(s, cutset string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !strings.ContainsRune(cutset, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
