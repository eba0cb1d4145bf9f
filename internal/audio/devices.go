package audio

import (
	"fmt"
	"sort"

	"github.com/gordonklaus/portaudio"
)

// Device describes an audio device for the devices command.
type Device struct {
	Name        string  `json:"name" yaml:"name"`
	HostAPI     string  `json:"hostApi" yaml:"hostApi"`
	Inputs      int     `json:"inputs" yaml:"inputs"`
	Outputs     int     `json:"outputs" yaml:"outputs"`
	SampleRate  float64 `json:"sampleRate" yaml:"sampleRate"`
	Default     bool    `json:"default" yaml:"default"`
	Recommended bool    `json:"recommended" yaml:"recommended"`
}

// ListDevices returns every device across host APIs, sorted by host and
// name. The device Open would pick on its own is marked recommended.
func ListDevices() ([]Device, error) {
	hosts, err := portaudio.HostApis()
	if err != nil {
		return nil, fmt.Errorf("host apis: %w", err)
	}
	defaultIndex := -1
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultIndex = def.Index
	}

	var (
		out        []Device
		candidates []candidate
	)
	for _, host := range hosts {
		for _, d := range host.Devices {
			out = append(out, Device{
				Name:       d.Name,
				HostAPI:    host.Name,
				Inputs:     d.MaxInputChannels,
				Outputs:    d.MaxOutputChannels,
				SampleRate: d.DefaultSampleRate,
				Default:    d.Index == defaultIndex,
			})
			candidates = append(candidates, candidate{
				index:     d.Index,
				name:      d.Name,
				inputs:    d.MaxInputChannels,
				isDefault: d.Index == defaultIndex,
			})
		}
	}
	if best, ok := pickDevice(candidates, ""); ok {
		for i := range out {
			if out[i].Name == best.name {
				out[i].Recommended = true
				break
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].HostAPI == out[j].HostAPI {
			return out[i].Name < out[j].Name
		}
		return out[i].HostAPI < out[j].HostAPI
	})
	return out, nil
}
