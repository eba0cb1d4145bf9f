package surface

import (
	"time"

	"github.com/guidoenr/backdrop/internal/colors"
	"github.com/guidoenr/backdrop/internal/settings"
)

// state is the per-surface record. Its handle is non-nil for exactly as long
// as the surface shows a live effect.
type state struct {
	key         Key
	handle      Handle
	colors      colors.Palette
	artwork     string
	settings    settings.Settings
	multipliers settings.Multipliers

	paused      bool
	speed       float64
	targetSpeed float64
	scale       float64
	targetScale float64
	fade        float64
	createdAt   time.Time

	transitioning bool
	transitionEnd time.Time
	pending       string
}

func newState(key Key, in Input, paused bool, now time.Time) *state {
	st := &state{
		key:         key,
		colors:      in.Colors.Clone(),
		artwork:     in.Artwork,
		settings:    in.Settings,
		multipliers: in.Multipliers,
		paused:      paused,
		speed:       in.Settings.Speed(),
		scale:       in.Settings.Scale(),
		createdAt:   now,
	}
	st.retarget()
	if paused {
		st.speed = 0
	}
	return st
}

// retarget recomputes ramp targets from settings, multipliers and the paused flag.
func (st *state) retarget() {
	st.targetSpeed = st.settings.Speed() * st.multipliers.Speed
	if st.paused {
		st.targetSpeed = 0
	}
	st.targetScale = st.settings.Scale() * st.multipliers.Scale
}

func (st *state) params() Params {
	s := st.settings
	p := Params{
		Variant: s.Variant,
		Colors:  st.colors.Clone(),
		Speed:   st.speed,
		Scale:   st.scale,
		Opacity: s.Opacity() * st.fade,
	}
	switch s.Variant {
	case settings.VariantWarpedArtwork:
		p.Artwork = st.artwork
		p.Warp = s.Artwork.WarpIntensity
		p.Blur = s.Artwork.BlurPasses
		p.Saturation = s.Artwork.Saturation
		p.Dithering = s.Artwork.Dithering
	default:
		p.Distortion = s.Gradient.Distortion
		p.Rotation = s.Gradient.Rotation
		p.Saturation = s.Gradient.Saturation
		p.Dithering = s.Gradient.Dithering
	}
	return p
}

// State is a read-only snapshot of one surface.
type State struct {
	Key           Key                  `json:"key"`
	Live          bool                 `json:"live"`
	Variant       settings.Variant     `json:"variant"`
	Colors        colors.Palette       `json:"colors"`
	Artwork       string               `json:"artwork,omitempty"`
	Paused        bool                 `json:"paused"`
	Speed         float64              `json:"speed"`
	TargetSpeed   float64              `json:"targetSpeed"`
	Scale         float64              `json:"scale"`
	TargetScale   float64              `json:"targetScale"`
	Fade          float64              `json:"fade"`
	Multipliers   settings.Multipliers `json:"multipliers"`
	Transitioning bool                 `json:"transitioning"`
	Pending       string               `json:"pending,omitempty"`
}

func (st *state) snapshot() State {
	return State{
		Key:           st.key,
		Live:          st.handle != nil,
		Variant:       st.settings.Variant,
		Colors:        st.colors.Clone(),
		Artwork:       st.artwork,
		Paused:        st.paused,
		Speed:         st.speed,
		TargetSpeed:   st.targetSpeed,
		Scale:         st.scale,
		TargetScale:   st.targetScale,
		Fade:          st.fade,
		Multipliers:   st.multipliers,
		Transitioning: st.transitioning,
		Pending:       st.pending,
	}
}
