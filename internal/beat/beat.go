package beat

import (
	"github.com/guidoenr/backdrop/internal/settings"
)

// Multipliers is re-exported for callers that only deal with the detector.
type Multipliers = settings.Multipliers

// Neutral is the value used whenever audio-reactive mode is off or no beat is active.
func Neutral() Multipliers {
	return settings.NeutralMultipliers()
}

// Derive maps a beat classification onto multipliers.
func Derive(audio settings.Audio, isBeat bool) Multipliers {
	if !audio.Enabled || !isBeat {
		return Neutral()
	}
	m := Multipliers{
		Speed: audio.SpeedMultiplier,
		Scale: 1 + audio.ScaleBoost/100,
	}
	if m.Speed < 0 {
		m.Speed = 0
	}
	if m.Scale < 0 {
		m.Scale = 0
	}
	return m
}

// Peak returns the largest absolute deviation from the zero line, clamped to
// [0,1]. The scan stops as soon as the running peak exceeds threshold since
// the classification cannot change after that.
func Peak(samples []float32, threshold float64) float64 {
	peak := 0.0
	for _, s := range samples {
		v := float64(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
			if peak > threshold {
				break
			}
		}
	}
	if peak > 1 {
		return 1
	}
	return peak
}

// IsBeat classifies a peak. Equality is not a beat.
func IsBeat(peak, threshold float64) bool {
	return peak > threshold
}
