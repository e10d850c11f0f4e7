// Package pricing computes what a learner pays to skip ahead in a trail.
package pricing

import "math"

// SkipCost returns the price of moving from fromIndex to toIndex.
//
// The per-step value is trailValue/stepCount, kept unrounded; rounding happens once on
// the final product so multi-step skips do not accumulate rounding error. A missing
// trail value or empty trail makes skipping free. A non-forward range costs nothing:
// moving backwards is navigation, not a skip.
func SkipCost(trailValue int64, stepCount, fromIndex, toIndex int) int64 {
	if trailValue <= 0 || stepCount <= 0 || toIndex <= fromIndex {
		return 0
	}
	perStep := float64(trailValue) / float64(stepCount)
	return int64(math.Round(perStep * float64(toIndex-fromIndex)))
}

// PerStepValue is the unrounded value of a single step.
func PerStepValue(trailValue int64, stepCount int) float64 {
	if trailValue <= 0 || stepCount <= 0 {
		return 0
	}
	return float64(trailValue) / float64(stepCount)
}
