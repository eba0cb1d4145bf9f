package settings

// Multipliers are the ephemeral, never persisted modulation values derived
// from audio analysis. Both are always >= 0.
type Multipliers struct {
	Speed float64 `json:"speed"`
	Scale float64 `json:"scale"`
}

// NeutralMultipliers is used whenever audio-reactive mode is off or no beat
// is active.
func NeutralMultipliers() Multipliers {
	return Multipliers{Speed: 1, Scale: 1}
}
