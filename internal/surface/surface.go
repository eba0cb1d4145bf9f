// Package surface owns the effect instances rendered on each display location
// and drives their animation state from an external tick.
package surface

import (
	"context"
	"time"

	"github.com/guidoenr/backdrop/internal/colors"
	"github.com/guidoenr/backdrop/internal/settings"
)

// Key identifies a display location independently of the page shown in it.
type Key string

const (
	Primary Key = "primary"
	BrowseA Key = "browse-a"
	BrowseB Key = "browse-b"
)

// Keys lists every surface in a stable order.
func Keys() []Key {
	return []Key{Primary, BrowseA, BrowseB}
}

// BrowseKeys lists the secondary surfaces.
func BrowseKeys() []Key {
	return []Key{BrowseA, BrowseB}
}

// IsBrowse reports whether k is a secondary surface.
func (k Key) IsBrowse() bool {
	return k == BrowseA || k == BrowseB
}

// Valid reports whether k is one of the known surfaces.
func (k Key) Valid() bool {
	switch k {
	case Primary, BrowseA, BrowseB:
		return true
	}
	return false
}

// Element is the host location a rendering handle is attached to. The core
// never inspects it.
type Element any

// Params is everything the rendering engine needs to draw one frame.
type Params struct {
	Variant    settings.Variant `json:"variant"`
	Colors     colors.Palette   `json:"colors"`
	Artwork    string           `json:"artwork,omitempty"`
	Distortion float64          `json:"distortion"`
	Warp       float64          `json:"warp"`
	Blur       float64          `json:"blur"`
	Scale      float64          `json:"scale"`
	Rotation   float64          `json:"rotation"`
	Speed      float64          `json:"speed"`
	Saturation float64          `json:"saturation"`
	Dithering  float64          `json:"dithering"`
	Opacity    float64          `json:"opacity"`
}

// Handle is a live effect instance owned by exactly one surface state.
type Handle interface {
	SetParameters(Params)
	SetSpeed(float64)
	Dispose()
}

// Renderer allocates effect instances.
type Renderer interface {
	Allocate(ctx context.Context, el Element, initial Params) (Handle, error)
}

// Locator finds display locations in the host document.
type Locator interface {
	IsReady(key Key) bool
	Element(key Key) (Element, bool)
	WaitUntilReady(ctx context.Context, key Key, timeout time.Duration) bool
}

// Input is what a create call renders.
type Input struct {
	Colors      colors.Palette
	Artwork     string
	Settings    settings.Settings
	Multipliers settings.Multipliers
}
