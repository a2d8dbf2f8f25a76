// Package rates implements the rate deriver (C4): turning pairs of
// cumulative-counter samples into per-second rates.
package rates

import (
	"math"
	"time"
)

// minWindowSeconds is the noise floor below which a rate is not reported
// (§4.4): a window of 5 seconds or less is too short to trust.
const minWindowSeconds = 5

// Derive computes the per-second rate of a monotonic counter between a
// prior and a new cumulative reading. It returns nil when:
//   - the counter went backwards (a reset), or
//   - the elapsed window is too short to be meaningful (≤ 5s), or
//   - either reading is missing.
func Derive(priorValue *int64, priorAt time.Time, newValue *int64, newAt time.Time) *float64 {
	if priorValue == nil || newValue == nil {
		return nil
	}

	deltaSeconds := math.Floor(newAt.Sub(priorAt).Seconds())
	if deltaSeconds <= minWindowSeconds {
		return nil
	}

	delta := *newValue - *priorValue
	if delta < 0 {
		return nil
	}

	rate := safeFloat(delta) / deltaSeconds
	return &rate
}

// safeFloat converts a wide integer counter delta to a float, clamping to
// the representable float64 range rather than silently overflowing. Wide
// integer byte counts and packet counters are only ever converted to float
// after the subtraction that produces delta (§4.4, §9).
func safeFloat(v int64) float64 {
	f := float64(v)
	if math.IsInf(f, 0) {
		if f > 0 {
			return math.MaxFloat64
		}
		return -math.MaxFloat64
	}
	return f
}
