// Package hybrid blends rule-based fraud scores with the ML oracle's
// probability and routes the result through the advisory oracle.
package hybrid

import "math"

// Blend weights for the fixed linear combination of rule score and ML
// probability. Not learned, not adaptive.
const (
	ruleWeight = 0.6
	mlWeight   = 0.4
)

// Combine computes the deterministic blend of a rule score (0-100) and
// an ML fraud probability (0.0-1.0), rounded to 2 decimal places.
func Combine(ruleScore int, mlProbability float64) float64 {
	combined := (ruleWeight*(float64(ruleScore)/100) + mlWeight*mlProbability) * 100
	return math.Round(combined*100) / 100
}
