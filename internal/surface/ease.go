package surface

import "math"

const (
	// easeUp is the per-tick factor when the value is rising; ramps rise
	// faster than they fall.
	easeUp = 0.05
	// easeDown is the per-tick factor when the value is falling.
	easeDown = 0.03
	// easeEpsilon is the distance below which a ramp snaps to its target.
	easeEpsilon = 0.001
)

// ease performs one exponential step of current toward target and reports
// whether the ramp has converged.
func ease(current, target float64) (float64, bool) {
	diff := target - current
	if math.Abs(diff) < easeEpsilon {
		return target, true
	}
	rate := easeDown
	if diff > 0 {
		rate = easeUp
	}
	next := current + diff*rate
	if math.Abs(target-next) < easeEpsilon {
		return target, true
	}
	return next, false
}
