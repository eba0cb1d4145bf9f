package palette

import (
	"context"
	"image"
	"sort"

	"github.com/guidoenr/backdrop/internal/colors"
)

// Popularity is a small bucket quantizer: pixels are binned at 4 bits per
// channel on a sampling grid and the most populated, mutually distinct bins
// become the palette. Good enough for ambient backgrounds.
type Popularity struct {
	// MaxSamples bounds how many pixels are visited.
	MaxSamples int
	// MinDistance is the squared RGB distance below which bins merge.
	MinDistance int
}

// NewPopularity returns a quantizer with default tuning.
func NewPopularity() *Popularity {
	return &Popularity{MaxSamples: 16_384, MinDistance: 48 * 48}
}

type bin struct {
	count   int
	r, g, b int
	key     uint16
}

// Quantize implements Quantizer.
func (q *Popularity) Quantize(ctx context.Context, img image.Image, count int) (colors.Palette, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 || count <= 0 {
		return nil, nil
	}

	step := 1
	for (w/step)*(h/step) > q.MaxSamples {
		step++
	}

	bins := make(map[uint16]*bin)
	for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := bounds.Min.X; x < bounds.Max.X; x += step {
			r, g, b, a := img.At(x, y).RGBA()
			if a < 0x8000 {
				continue
			}
			r8, g8, b8 := int(r>>8), int(g>>8), int(b>>8)
			key := uint16(r8>>4)<<8 | uint16(g8>>4)<<4 | uint16(b8>>4)
			bn, ok := bins[key]
			if !ok {
				bn = &bin{key: key}
				bins[key] = bn
			}
			bn.count++
			bn.r += r8
			bn.g += g8
			bn.b += b8
		}
	}

	ranked := make([]*bin, 0, len(bins))
	for _, bn := range bins {
		ranked = append(ranked, bn)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count == ranked[j].count {
			return ranked[i].key < ranked[j].key
		}
		return ranked[i].count > ranked[j].count
	})

	out := make(colors.Palette, 0, count)
	for _, bn := range ranked {
		c := colors.RGB(uint8(bn.r/bn.count), uint8(bn.g/bn.count), uint8(bn.b/bn.count))
		if q.tooClose(out, c) {
			continue
		}
		out = append(out, c)
		if len(out) == count {
			break
		}
	}
	return out, nil
}

func (q *Popularity) tooClose(p colors.Palette, c colors.Color) bool {
	for _, o := range p {
		dr := int(o.R) - int(c.R)
		dg := int(o.G) - int(c.G)
		db := int(o.B) - int(c.B)
		if dr*dr+dg*dg+db*db < q.MinDistance {
			return true
		}
	}
	return false
}
