package matcher

import (
	"strings"
	"unicode"
)

// Corporate suffixes stripped during normalization so "BBDO USA LLC" and
// "BBDO USA" compare equal.
var corporateSuffixes = map[string]bool{
	"LLC":     true,
	"INC":     true,
	"LTD":     true,
	"LIMITED": true,
	"CORP":    true,
	"CO":      true,
	"COMPANY": true,
	"GMBH":    true,
	"PLC":     true,
	"LP":      true,
	"LLP":     true,
	"AG":      true,
	"NV":      true,
	"BV":      true,
	"SA":      true,
	"PTY":     true,
}

// NormalizePayerName uppercases, strips non-alphanumerics, and drops
// trailing corporate suffix tokens. Returns the cleaned tokens joined by
// single spaces.
func NormalizePayerName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	tokens := strings.Fields(b.String())
	kept := tokens[:0]
	for _, tok := range tokens {
		if corporateSuffixes[tok] {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

// PayerSimilarity scores two payer descriptors in [0, 1]. Both inputs are
// normalized first. The alias table maps normalized names to canonical
// group names for corporate naming that normalization cannot bridge.
func PayerSimilarity(a, b string, aliases map[string]string) float64 {
	na := NormalizePayerName(a)
	nb := NormalizePayerName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1.0
	}
	if canonicalOf(na, aliases) == canonicalOf(nb, aliases) {
		return 0.9
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return 0.6
	}
	return wordOverlap(na, nb)
}

// canonicalOf resolves a normalized name through the alias table, falling
// back to the name itself so unaliased names only match exactly (and exact
// matches are handled before the alias tier).
func canonicalOf(normalized string, aliases map[string]string) string {
	if c, ok := aliases[normalized]; ok {
		return NormalizePayerName(c)
	}
	return normalized
}

// wordOverlap computes shared tokens over the larger token count, scaled
// down so partial overlaps never outrank a substring containment. Overlap
// at or below half is noise and scores zero.
func wordOverlap(na, nb string) float64 {
	ta := strings.Fields(na)
	tb := strings.Fields(nb)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		set[t] = true
	}
	shared := 0
	for _, t := range tb {
		if set[t] {
			shared++
		}
	}
	max := len(ta)
	if len(tb) > max {
		max = len(tb)
	}
	ratio := float64(shared) / float64(max)
	if ratio <= 0.5 {
		return 0
	}
	return ratio * 0.7
}
