package audio

import (
	"sort"
	"strings"
)

// loopbackHints mark devices that carry what the machine is playing rather
// than a microphone.
var loopbackHints = []string{"monitor", "loopback", "stereo mix", "what u hear", "blackhole", "soundflower"}

type candidate struct {
	index     int
	name      string
	inputs    int
	isDefault bool
}

// score prefers loopback devices, then the default input.
func (c candidate) score() int {
	s := c.inputs
	if c.isDefault {
		s += 40
	}
	lower := strings.ToLower(c.name)
	for _, hint := range loopbackHints {
		if strings.Contains(lower, hint) {
			s += 60
			break
		}
	}
	return s
}

// pickDevice chooses an input device. A non-empty name is matched as a case
// insensitive substring; otherwise the best scoring device wins.
func pickDevice(candidates []candidate, name string) (candidate, bool) {
	inputs := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.inputs > 0 {
			inputs = append(inputs, c)
		}
	}
	if name != "" {
		want := strings.ToLower(name)
		for _, c := range inputs {
			if strings.Contains(strings.ToLower(c.name), want) {
				return c, true
			}
		}
		return candidate{}, false
	}
	if len(inputs) == 0 {
		return candidate{}, false
	}
	sort.SliceStable(inputs, func(i, j int) bool {
		si, sj := inputs[i].score(), inputs[j].score()
		if si == sj {
			return strings.ToLower(inputs[i].name) < strings.ToLower(inputs[j].name)
		}
		return si > sj
	})
	return inputs[0], true
}
