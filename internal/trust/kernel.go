package trust

import (
	"math"
	"time"
)

// Time constants used by the decay and normalization kernel.
const (
	Day = 24 * time.Hour

	// DecayTau is the time constant of the exponential fulfillment decay.
	DecayTau = 45 * Day

	// LatencySaturation is the average fulfillment time at which the
	// latency factor reaches zero.
	LatencySaturation = 7 * Day

	// DisputeSaturation is the weighted dispute count at which the
	// dispute factor reaches zero.
	DisputeSaturation = 5.0

	// RecentWindow bounds the recent-fulfillments counter.
	RecentWindow = 30 * Day
)

// Clamp01 limits v to [0, 1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return 1
	}
	return v
}

// Normalize applies fn to raw and clamps the result to [0, 1].
func Normalize(raw float64, fn func(float64) float64) float64 {
	if fn == nil {
		return Clamp01(raw)
	}
	return Clamp01(fn(raw))
}

// Saturate returns a normalizer that reaches 1 at divisor.
func Saturate(divisor float64) func(float64) float64 {
	return func(raw float64) float64 {
		if divisor <= 0 {
			return 0
		}
		return raw / divisor
	}
}

// DecayContribution returns exp(-age/DecayTau). Ages in the future count as now.
func DecayContribution(age time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	return math.Exp(-float64(age) / float64(DecayTau))
}

// DecayedSum sums the decay contribution of every event time relative to now.
func DecayedSum(now time.Time, events []time.Time) float64 {
	var sum float64
	for _, at := range events {
		sum += DecayContribution(now.Sub(at))
	}
	return sum
}

// LatencyFactor maps an average fulfillment time in milliseconds to [0, 1].
// Faster fulfillment approaches 1; unknown or non-positive latency yields 0.
func LatencyFactor(avgFulfillmentMs float64) float64 {
	if math.IsNaN(avgFulfillmentMs) || avgFulfillmentMs <= 0 {
		return 0
	}
	limit := float64(LatencySaturation.Milliseconds())
	return Clamp01(1 - math.Min(1, avgFulfillmentMs/limit))
}

// DisputeFactor maps a weighted dispute count to [0, 1]; five or more disputes yield 0.
func DisputeFactor(disputes float64) float64 {
	if math.IsNaN(disputes) {
		return 0
	}
	if disputes < 0 {
		disputes = 0
	}
	return Clamp01(1 - math.Min(1, disputes/DisputeSaturation))
}
