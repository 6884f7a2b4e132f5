// Package similarity provides ready-made similarity functions. Higher
// values mean more alike; every function is pure and safe for concurrent
// use.
package similarity

import (
	"math"
	"strings"
	"unicode"

	"github.com/clipperhouse/uax29/v2/words"
	"golang.org/x/text/unicode/norm"
	"gonum.org/v1/gonum/floats"
)

// Cosine returns the cosine of the angle between a and b, or 0 when either
// has zero norm. a and b must have the same length.
func Cosine(a, b []float64) float64 {
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0.0 || nb == 0.0 {
		return 0.0
	}
	return floats.Dot(a, b) / (na * nb)
}

// InverseDistance maps the absolute difference of two scalars into (0, 1].
func InverseDistance(a, b float64) float64 {
	return 1.0 / (1.0 + math.Abs(a-b))
}

// Euclidean maps the euclidean distance of two vectors into (0, 1].
func Euclidean(a, b []float64) float64 {
	return 1.0 / (1.0 + floats.Distance(a, b, 2))
}

func normalize(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

// tokenize splits s into UAX#29 words, dropping spaces and punctuation.
func tokenize(s string) []string {
	toks := words.FromString(normalize(s))
	var tokens []string
	for toks.Next() {
		tok := toks.Value()
		if strings.IndexFunc(tok, isWordRune) < 0 {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// WordJaccard is the Jaccard index of the word sets of a and b after NFKC
// normalization and lower casing. Two texts without words score 1.
func WordJaccard(a, b string) float64 {
	sa := map[string]struct{}{}
	for _, tok := range tokenize(a) {
		sa[tok] = struct{}{}
	}
	sb := map[string]struct{}{}
	for _, tok := range tokenize(b) {
		sb[tok] = struct{}{}
	}
	if len(sa) == 0 && len(sb) == 0 {
		return 1.0
	}

	common := 0
	for tok := range sa {
		if _, ok := sb[tok]; ok {
			common++
		}
	}
	return float64(common) / float64(len(sa)+len(sb)-common)
}
