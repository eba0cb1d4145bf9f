package render

import "math"

// flowField is the flowing-gradient shape: layered sines bent by noise.
func flowField(x, y, t, distortion float64) float64 {
	if distortion > 0 {
		n := flowNoise.at(x*1.3+t*0.15, y*1.3-t*0.12)
		x += n * distortion
		y -= n * distortion * 0.8
	}
	v1 := math.Sin((x*3.4 + t*1.2) * 0.9)
	v2 := math.Sin((y*4.1 - t*0.7) * 1.1)
	v3 := math.Sin((x+y)*2.3 + t*1.7)
	return (v1 + v2 + v3) / 3
}

// warpField is the warped-artwork shape. Blur passes trade noise octaves for
// smoothness.
func warpField(x, y, t, warp, blur float64) float64 {
	noise := octaveNoise{octaves: max(4-int(blur/4), 1), gain: 0.5}
	r := math.Hypot(x, y)
	theta := math.Atan2(y, x) + warp*0.6*math.Exp(-r*1.6)*math.Sin(t*1.5+r*2.3)
	wx := r * math.Cos(theta)
	wy := r * math.Sin(theta)
	base := math.Sin((wx-wy)*1.5 + t*0.9)
	grain := noise.at(wx*1.2+t*0.1, wy*1.2-t*0.15)
	return clampFloat(base*0.4+grain*0.8, -1, 1)
}

// octaveNoise sums value noise over octaves, each at twice the frequency of
// the last and scaled by gain. Results fall in [-1, 1].
type octaveNoise struct {
	octaves int
	gain    float64
}

var flowNoise = octaveNoise{octaves: 4, gain: 0.5}

func (n octaveNoise) at(x, y float64) float64 {
	var total, norm float64
	amp := 1.0
	for i := 0; i < n.octaves; i++ {
		total += amp * smoothLattice(x, y)
		norm += amp
		amp *= n.gain
		x, y = x*2, y*2
	}
	if norm == 0 {
		return 0
	}
	return 2*total/norm - 1
}

// smoothLattice interpolates lattice values around (x, y) with an eased
// weight so cell borders do not show.
func smoothLattice(x, y float64) float64 {
	fx, fy := math.Floor(x), math.Floor(y)
	ix, iy := int(fx), int(fy)
	tx, ty := ease(x-fx), ease(y-fy)
	top := mix(lattice(ix, iy), lattice(ix+1, iy), tx)
	bottom := mix(lattice(ix, iy+1), lattice(ix+1, iy+1), tx)
	return mix(top, bottom, ty)
}

// lattice hashes a grid point to [0, 1).
func lattice(x, y int) float64 {
	h := uint32(x)*0x27d4eb2d + uint32(y)*0x165667b1
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return float64(h) / (1 << 32)
}

func ease(t float64) float64 {
	return t * t * (3 - 2*t)
}

func mix(a, b, t float64) float64 {
	return a + (b-a)*t
}

func clamp01(v float64) float64 {
	return clampFloat(v, 0, 1)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
