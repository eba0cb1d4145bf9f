package settings

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		validateInst = validator.New(validator.WithRequiredStructEnabled())
	})
	return validateInst
}

// Validate reports every field outside its documented range.
func (s Settings) Validate() error {
	err := validatorInstance().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s(%s=%s)", fe.Namespace(), fe.Tag(), fe.Param()))
	}
	return fmt.Errorf("settings out of range: %s", strings.Join(fields, ", "))
}

type knob struct {
	name     string
	field    func(*Settings) *float64
	min, max float64
	integral bool
}

var knobs = []knob{
	{"gradient.distortion", func(s *Settings) *float64 { return &s.Gradient.Distortion }, 0, 1, false},
	{"gradient.scale", func(s *Settings) *float64 { return &s.Gradient.Scale }, 0.1, 4, false},
	{"gradient.rotation", func(s *Settings) *float64 { return &s.Gradient.Rotation }, -180, 180, false},
	{"gradient.speed", func(s *Settings) *float64 { return &s.Gradient.Speed }, 0, 5, false},
	{"gradient.transitionDuration", func(s *Settings) *float64 { return &s.Gradient.TransitionDuration }, 0, 10000, false},
	{"gradient.saturation", func(s *Settings) *float64 { return &s.Gradient.Saturation }, 0, 2, false},
	{"gradient.dithering", func(s *Settings) *float64 { return &s.Gradient.Dithering }, 0, 1, false},
	{"gradient.opacity", func(s *Settings) *float64 { return &s.Gradient.Opacity }, 0, 1, false},
	{"artwork.warpIntensity", func(s *Settings) *float64 { return &s.Artwork.WarpIntensity }, 0, 2, false},
	{"artwork.scale", func(s *Settings) *float64 { return &s.Artwork.Scale }, 0.1, 4, false},
	{"artwork.blurPasses", func(s *Settings) *float64 { return &s.Artwork.BlurPasses }, 0, 16, true},
	{"artwork.animationSpeed", func(s *Settings) *float64 { return &s.Artwork.AnimationSpeed }, 0, 5, false},
	{"artwork.transitionDuration", func(s *Settings) *float64 { return &s.Artwork.TransitionDuration }, 0, 10000, false},
	{"artwork.saturation", func(s *Settings) *float64 { return &s.Artwork.Saturation }, 0, 2, false},
	{"artwork.dithering", func(s *Settings) *float64 { return &s.Artwork.Dithering }, 0, 1, false},
	{"artwork.opacity", func(s *Settings) *float64 { return &s.Artwork.Opacity }, 0, 1, false},
	{"audio.speedMultiplier", func(s *Settings) *float64 { return &s.Audio.SpeedMultiplier }, 0, 10, false},
	{"audio.scaleBoost", func(s *Settings) *float64 { return &s.Audio.ScaleBoost }, 0, 100, false},
	{"audio.beatThreshold", func(s *Settings) *float64 { return &s.Audio.BeatThreshold }, 0, 1, false},
	{"boost.vibrantSaturation", func(s *Settings) *float64 { return &s.Boost.VibrantSaturation }, 0, 100, false},
	{"boost.vibrantRatio", func(s *Settings) *float64 { return &s.Boost.VibrantRatio }, 0, 100, false},
	{"boost.intensity", func(s *Settings) *float64 { return &s.Boost.Intensity }, 0, 2, false},
}

// Sanitize clamps every knob into range and replaces non-finite values with
// the default. Unknown variants fall back to the default variant. It returns
// the sanitized copy and the names of the fields it had to touch.
func (s Settings) Sanitize() (Settings, []string) {
	defaults := Defaults()
	var touched []string

	switch s.Variant {
	case VariantFlowingGradient, VariantWarpedArtwork:
	default:
		s.Variant = defaults.Variant
		touched = append(touched, "variant")
	}

	for _, k := range knobs {
		ptr := k.field(&s)
		v := *ptr
		if !finite(v) {
			v = *k.field(&defaults)
		}
		v = clamp(v, k.min, k.max)
		if k.integral {
			v = math.Round(v)
		}
		if v != *ptr || math.IsNaN(*ptr) {
			touched = append(touched, k.name)
		}
		*ptr = v
	}
	return s, touched
}
