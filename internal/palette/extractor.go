// Package palette turns artwork into ordered color palettes and optionally
// boosts dull ones. Results are cached per image and boost tuning.
package palette

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/guidoenr/backdrop/internal/colors"
	"github.com/guidoenr/backdrop/internal/logger"
	"github.com/guidoenr/backdrop/internal/settings"
)

const (
	// DefaultColors is how many colors a palette holds.
	DefaultColors = 5
	// DefaultMinSize is the smallest usable artwork edge in pixels.
	DefaultMinSize = 32
)

var (
	// ErrPlaceholder marks data-URI placeholder artwork.
	ErrPlaceholder = errors.New("placeholder artwork")
	// ErrTooSmall marks artwork below the usable size.
	ErrTooSmall = errors.New("artwork too small")
)

// Loader fetches and decodes artwork.
type Loader interface {
	Load(ctx context.Context, ref string) (image.Image, error)
}

// Quantizer reduces an image to at most count dominant colors.
type Quantizer interface {
	Quantize(ctx context.Context, img image.Image, count int) (colors.Palette, error)
}

// Options configures an Extractor.
type Options struct {
	CacheSize int
	Colors    int
	MinSize   int
	Log       *logger.Logger
}

// Extractor is safe for concurrent use.
type Extractor struct {
	loader    Loader
	quantizer Quantizer
	count     int
	minSize   int
	log       *logger.Logger
	cache     *cache
}

// NewExtractor wires a loader and quantizer.
func NewExtractor(loader Loader, quantizer Quantizer, opts Options) *Extractor {
	if opts.Colors <= 0 {
		opts.Colors = DefaultColors
	}
	if opts.MinSize <= 0 {
		opts.MinSize = DefaultMinSize
	}
	return &Extractor{
		loader:    loader,
		quantizer: quantizer,
		count:     opts.Colors,
		minSize:   opts.MinSize,
		log:       opts.Log,
		cache:     newCache(opts.CacheSize),
	}
}

// Extract returns the palette for ref, boosted when boost is set. Unusable
// input, loader or quantizer failures and cancellation all yield an empty
// palette; they are logged, never returned.
func (e *Extractor) Extract(ctx context.Context, ref string, boost bool, knobs settings.Boost) colors.Palette {
	key := cacheKey(ref, boost, knobs)
	if p, ok := e.cache.get(key); ok {
		return p
	}

	raw, err := e.raw(ctx, ref)
	if err != nil {
		log := e.log.With("artwork", ref)
		switch {
		case errors.Is(err, ErrPlaceholder), errors.Is(err, ErrTooSmall):
			log.Debug(err.Error())
		case ctx.Err() != nil:
			log.Debug("extraction cancelled")
		default:
			log.Error(err, "palette extraction failed")
		}
		return colors.Palette{}
	}

	out := raw
	if boost {
		out = Boost(raw, knobs)
		e.cache.put(key, out)
	}
	return out.Clone()
}

// CacheLen reports how many palettes are cached.
func (e *Extractor) CacheLen() int {
	return e.cache.len()
}

func (e *Extractor) raw(ctx context.Context, ref string) (colors.Palette, error) {
	rawKey := cacheKey(ref, false, settings.Boost{})
	if p, ok := e.cache.get(rawKey); ok {
		return p, nil
	}
	if strings.TrimSpace(ref) == "" || strings.HasPrefix(strings.TrimSpace(ref), "data:") {
		return nil, ErrPlaceholder
	}

	img, err := e.loader.Load(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load artwork: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Dx() < e.minSize || b.Dy() < e.minSize {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooSmall, b.Dx(), b.Dy())
	}

	p, err := e.quantizer.Quantize(ctx, img, e.count)
	if err != nil {
		return nil, fmt.Errorf("quantize artwork: %w", err)
	}
	if len(p) == 0 {
		return nil, errors.New("quantizer returned no colors")
	}
	e.cache.put(rawKey, p)
	return p.Clone(), nil
}
