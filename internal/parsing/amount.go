package parsing

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

var (
	currencyCode  = regexp.MustCompile(`^[A-Za-z]{3}\s*|\s*[A-Za-z]{3}$`)
	leadingNumber = regexp.MustCompile(`^\s*(\d[\d,]*(?:\.\d+)?|\.\d+)`)
)

// ParseAmount reads a money string such as "$1,234.50", "-3.00", "3.50 USD"
// or the rate "$8.80/kg". Currency symbols and codes, thousands separators,
// spaces, a leading minus and a per-unit suffix are dropped, so the result is
// a magnitude. It reports false when nothing numeric remains.
func ParseAmount(s string) (decimal.Decimal, bool) {
	if i := strings.Index(s, "/"); i >= 0 {
		s = s[:i]
	}
	s = currencyCode.ReplaceAllString(strings.TrimSpace(s), "")
	cleaned := strings.Map(func(r rune) rune {
		if r == ',' || unicode.IsSpace(r) || unicode.Is(unicode.Sc, r) {
			return -1
		}
		return r
	}, s)
	cleaned = strings.TrimPrefix(cleaned, "-")
	if cleaned == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ParseMeasure reads a quantity that may be fractional and carry a unit,
// such as "2", "0.185 kg" or "1.5lb".
func ParseMeasure(s string) (decimal.Decimal, bool) {
	m := leadingNumber.FindStringSubmatch(s)
	if m == nil {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ParseQuantity reads an item count, falling back to 1.
func ParseQuantity(s string) int {
	d, ok := ParseMeasure(s)
	if !ok || d.LessThan(decimal.NewFromInt(1)) {
		return 1
	}
	return int(d.IntPart())
}
