// Package points converts collection log completion rates into point values.
package points

import "math"

const (
	// MaxClampedPoints is the ceiling for items in a clamped category.
	MaxClampedPoints = 3000

	// RareThreshold is the upper completion rate of the mega-rare tier.
	RareThreshold = 5.0

	// UncommonThreshold is the upper completion rate of the linear tier.
	UncommonThreshold = 20.0

	// MinimumRate is used for rates the wiki displays as "<0.1%".
	MinimumRate = 0.1

	// RecalcRateThreshold marks items rare enough to be rechecked on every recalculation.
	RecalcRateThreshold = 10.0
)

// ValidRate reports whether rate is a usable completion percentage.
func ValidRate(rate float64) bool {
	return !math.IsNaN(rate) && !math.IsInf(rate, 0) && rate > 0 && rate <= 100
}

// ClampEligible is true when the item sits in a clamped category and is not whitelisted.
func ClampEligible(categoryClamped, whitelisted bool) bool {
	return categoryClamped && !whitelisted
}

// Score returns the points awarded for an item with the given completion rate.
// Callers must check ValidRate first. The result is rounded half away from zero.
//
//	rate <= 5:      100 * (1/rate)^1.5 * 30, capped at 3000 when clampEligible
//	5 < rate <= 20: 200 at 20% rising linearly to 500 at 5%
//	rate > 20:      100 - rate/2
func Score(rate float64, clampEligible bool) int64 {
	var raw float64
	switch {
	case rate <= RareThreshold:
		raw = 100.0 * math.Pow(1.0/rate, 1.5) * 30.0
		if clampEligible {
			raw = math.Min(raw, MaxClampedPoints)
		}
	case rate <= UncommonThreshold:
		progress := (UncommonThreshold - rate) / 15.0
		raw = 200.0 + progress*300.0
	default:
		raw = 100.0 - rate*0.5
	}
	return int64(math.Round(raw))
}
