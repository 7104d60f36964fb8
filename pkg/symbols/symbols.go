// Package symbols normalizes instrument names across broker naming conventions.
package symbols

import (
	"math"
	"strings"
)

// DefaultSuffixes are the broker decorations stripped for lookups, in preference order.
var DefaultSuffixes = []string{".r", ".m", ".pro", ".ecn", ".i"}

// Aliases knows which trailing suffixes a broker appends to its symbols.
type Aliases struct {
	suffixes []string
}

// NewAliases builds an alias table; an empty list falls back to DefaultSuffixes.
func NewAliases(suffixes []string) Aliases {
	if len(suffixes) == 0 {
		suffixes = DefaultSuffixes
	}
	out := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		s = Normalize(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return Aliases{suffixes: out}
}

// Normalize trims and upper-cases a symbol.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Strip removes a known suffix. ok is false when the symbol carries none.
func (a Aliases) Strip(symbol string) (base string, ok bool) {
	symbol = Normalize(symbol)
	for _, s := range a.suffixes {
		if len(symbol) > len(s) && strings.HasSuffix(symbol, s) {
			return symbol[:len(symbol)-len(s)], true
		}
	}
	return symbol, false
}

// Base is Strip without the flag.
func (a Aliases) Base(symbol string) string {
	base, _ := a.Strip(symbol)
	return base
}

// Decorated returns the symbol with every known suffix appended.
func (a Aliases) Decorated(symbol string) []string {
	symbol = Normalize(symbol)
	out := make([]string, 0, len(a.suffixes))
	for _, s := range a.suffixes {
		out = append(out, symbol+s)
	}
	return out
}

// Keys returns the cache keys an update for symbol is stored under: the raw form and,
// when it carries a suffix, the stripped form.
func (a Aliases) Keys(symbol string) []string {
	raw := Normalize(symbol)
	if base, ok := a.Strip(raw); ok {
		return []string{raw, base}
	}
	return []string{raw}
}

// PointMultiplier converts a price difference into points. A known digits hint wins;
// otherwise the instrument class decides.
func PointMultiplier(symbol string, digits int) float64 {
	if digits > 0 {
		return math.Pow10(digits)
	}
	s := Normalize(symbol)
	switch {
	case strings.HasPrefix(s, "XAU"):
		return 100
	case strings.HasPrefix(s, "XAG"):
		return 1000
	case strings.Contains(s, "JPY"):
		return 1000
	case strings.HasPrefix(s, "BTC"), strings.HasPrefix(s, "ETH"):
		return 100
	case isIndex(s):
		return 10
	}
	return 100000
}

var indices = []string{"US30", "US500", "SPX", "NAS", "USTEC", "GER", "DE40", "UK100", "JP225", "HK50"}

func isIndex(s string) bool {
	for _, p := range indices {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
