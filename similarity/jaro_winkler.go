package similarity

import "github.com/xrash/smetrics"

const (
	jwThreshold = 0.7
	jwPrefix    = 4
)

// Jaro returns the Jaro similarity of a and b in [0, 1]. Two empty strings
// are identical.
func Jaro(a, b string) float64 {
	return smetrics.Jaro(a, b)
}

// JaroWinkler boosts the Jaro similarity of strings sharing a prefix of up
// to four bytes, once the Jaro similarity exceeds 0.7.
func JaroWinkler(a, b string) float64 {
	return smetrics.JaroWinkler(a, b, jwThreshold, jwPrefix)
}
