package settings

import (
	"math"
)

// Variant selects which effect the surfaces render.
type Variant string

const (
	// VariantFlowingGradient renders a gradient built from the extracted palette.
	VariantFlowingGradient Variant = "flowing-gradient"
	// VariantWarpedArtwork renders the artwork itself through a warp shader.
	VariantWarpedArtwork Variant = "warped-artwork"
)

// Variants lists the supported variants.
func Variants() []Variant {
	return []Variant{VariantFlowingGradient, VariantWarpedArtwork}
}

// UsesPalette reports whether the variant is driven by extracted colors.
func (v Variant) UsesPalette() bool {
	return v == VariantFlowingGradient
}

// Gradient holds the knobs of the flowing-gradient variant.
type Gradient struct {
	Distortion         float64 `json:"distortion" yaml:"distortion" validate:"min=0,max=1"`
	Scale              float64 `json:"scale" yaml:"scale" validate:"min=0.1,max=4"`
	Rotation           float64 `json:"rotation" yaml:"rotation" validate:"min=-180,max=180"`
	Speed              float64 `json:"speed" yaml:"speed" validate:"min=0,max=5"`
	TransitionDuration float64 `json:"transitionDuration" yaml:"transitionDuration" validate:"min=0,max=10000"`
	Saturation         float64 `json:"saturation" yaml:"saturation" validate:"min=0,max=2"`
	Dithering          float64 `json:"dithering" yaml:"dithering" validate:"min=0,max=1"`
	Opacity            float64 `json:"opacity" yaml:"opacity" validate:"min=0,max=1"`
}

// Artwork holds the knobs of the warped-artwork variant.
type Artwork struct {
	WarpIntensity      float64 `json:"warpIntensity" yaml:"warpIntensity" validate:"min=0,max=2"`
	Scale              float64 `json:"scale" yaml:"scale" validate:"min=0.1,max=4"`
	BlurPasses         float64 `json:"blurPasses" yaml:"blurPasses" validate:"min=0,max=16"`
	AnimationSpeed     float64 `json:"animationSpeed" yaml:"animationSpeed" validate:"min=0,max=5"`
	TransitionDuration float64 `json:"transitionDuration" yaml:"transitionDuration" validate:"min=0,max=10000"`
	Saturation         float64 `json:"saturation" yaml:"saturation" validate:"min=0,max=2"`
	Dithering          float64 `json:"dithering" yaml:"dithering" validate:"min=0,max=1"`
	Opacity            float64 `json:"opacity" yaml:"opacity" validate:"min=0,max=1"`
}

// Audio holds the audio-reactive knobs.
type Audio struct {
	Enabled         bool    `json:"enabled" yaml:"enabled"`
	SpeedMultiplier float64 `json:"speedMultiplier" yaml:"speedMultiplier" validate:"min=0,max=10"`
	ScaleBoost      float64 `json:"scaleBoost" yaml:"scaleBoost" validate:"min=0,max=100"`
	BeatThreshold   float64 `json:"beatThreshold" yaml:"beatThreshold" validate:"min=0,max=1"`
}

// Boost tunes how dull palettes are saturated. Thresholds are percentages.
type Boost struct {
	VibrantSaturation float64 `json:"vibrantSaturation" yaml:"vibrantSaturation" validate:"min=0,max=100"`
	VibrantRatio      float64 `json:"vibrantRatio" yaml:"vibrantRatio" validate:"min=0,max=100"`
	Intensity         float64 `json:"intensity" yaml:"intensity" validate:"min=0,max=2"`
}

// Settings is an immutable configuration snapshot. It is replaced wholesale on
// every change and compared with ==, so it must stay free of slices and maps.
type Settings struct {
	Enabled         bool     `json:"enabled" yaml:"enabled"`
	Variant         Variant  `json:"variant" yaml:"variant" validate:"required,oneof=flowing-gradient warped-artwork"`
	Gradient        Gradient `json:"gradient" yaml:"gradient"`
	Artwork         Artwork  `json:"artwork" yaml:"artwork"`
	Audio           Audio    `json:"audio" yaml:"audio"`
	VerboseLogging  bool     `json:"verboseLogging" yaml:"verboseLogging"`
	ShowOnBrowse    bool     `json:"showOnBrowse" yaml:"showOnBrowse"`
	RememberPerItem bool     `json:"rememberPerItem" yaml:"rememberPerItem"`
	BoostDullColors bool     `json:"boostDullColors" yaml:"boostDullColors"`
	Boost           Boost    `json:"boost" yaml:"boost"`
}

// Defaults returns the out-of-the-box configuration.
func Defaults() Settings {
	return Settings{
		Enabled: true,
		Variant: VariantFlowingGradient,
		Gradient: Gradient{
			Distortion:         0.35,
			Scale:              1.0,
			Rotation:           0,
			Speed:              0.6,
			TransitionDuration: 1200,
			Saturation:         1.0,
			Dithering:          0.1,
			Opacity:            0.85,
		},
		Artwork: Artwork{
			WarpIntensity:      0.8,
			Scale:              1.2,
			BlurPasses:         6,
			AnimationSpeed:     0.5,
			TransitionDuration: 1500,
			Saturation:         1.1,
			Dithering:          0.05,
			Opacity:            0.9,
		},
		Audio: Audio{
			Enabled:         false,
			SpeedMultiplier: 2.0,
			ScaleBoost:      8,
			BeatThreshold:   0.6,
		},
		ShowOnBrowse:    true,
		RememberPerItem: true,
		BoostDullColors: true,
		Boost: Boost{
			VibrantSaturation: 35,
			VibrantRatio:      40,
			Intensity:         1.0,
		},
	}
}

// Speed is the settings-derived animation speed for the active variant.
func (s Settings) Speed() float64 {
	if s.Variant == VariantWarpedArtwork {
		return s.Artwork.AnimationSpeed
	}
	return s.Gradient.Speed
}

// Scale is the settings-derived scale for the active variant.
func (s Settings) Scale() float64 {
	if s.Variant == VariantWarpedArtwork {
		return s.Artwork.Scale
	}
	return s.Gradient.Scale
}

// Opacity is the fully faded-in opacity for the active variant.
func (s Settings) Opacity() float64 {
	if s.Variant == VariantWarpedArtwork {
		return s.Artwork.Opacity
	}
	return s.Gradient.Opacity
}

// TransitionMillis is how long an artwork or palette transition lasts.
func (s Settings) TransitionMillis() float64 {
	if s.Variant == VariantWarpedArtwork {
		return s.Artwork.TransitionDuration
	}
	return s.Gradient.TransitionDuration
}

// AudioChanged reports an audio-reactive toggle or knob change.
func AudioChanged(prev, next Settings) bool {
	return prev.Audio != next.Audio
}

// BoostChanged reports a boost toggle or knob change.
func BoostChanged(prev, next Settings) bool {
	return prev.BoostDullColors != next.BoostDullColors || prev.Boost != next.Boost
}

func clamp(v, minVal, maxVal float64) float64 {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
