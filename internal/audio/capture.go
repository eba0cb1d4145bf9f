// Package audio provides the sample sources the beat detector reads from: a
// PortAudio input stream and a synthetic generator.
package audio

import (
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"

	"github.com/guidoenr/backdrop/internal/logger"
)

const (
	// DefaultBufferSize is the number of mono samples kept for analysis.
	DefaultBufferSize  = 2048
	minFramesPerBuffer = 64
)

// Config controls how a Capture is opened.
type Config struct {
	Device     string
	BufferSize int
	Channels   int
	Log        *logger.Logger
}

// Capture is a PortAudio input stream exposing the latest samples to the
// beat detector.
type Capture struct {
	stream     *portaudio.Stream
	device     *portaudio.DeviceInfo
	sampleRate float64
	channels   int
	samples    *ring
}

// Open starts capturing from the configured device, or from the best input
// device when none is named. Initialize must have been called.
func Open(cfg Config) (*Capture, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	device, err := selectDevice(cfg.Device)
	if err != nil {
		return nil, err
	}
	if device.MaxInputChannels < cfg.Channels {
		cfg.Channels = device.MaxInputChannels
	}

	c := &Capture{
		device:     device,
		sampleRate: device.DefaultSampleRate,
		channels:   cfg.Channels,
		samples:    newRing(cfg.BufferSize),
	}

	frames := cfg.BufferSize / 4
	if frames < minFramesPerBuffer {
		frames = portaudio.FramesPerBufferUnspecified
	}
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: cfg.Channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      c.sampleRate,
		FramesPerBuffer: frames,
	}, c.process)
	if err != nil {
		return nil, fmt.Errorf("open stream on %q: %w", device.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start stream on %q: %w", device.Name, err)
	}
	c.stream = stream

	cfg.Log.WithFields(map[string]any{
		"device":     device.Name,
		"sampleRate": c.sampleRate,
		"channels":   c.channels,
	}).Info("audio capture started")
	return c, nil
}

func (c *Capture) process(in []float32) {
	c.samples.write(in, c.channels)
}

// Samples returns a copy of the most recent mono samples.
func (c *Capture) Samples() []float32 {
	return c.samples.snapshot()
}

// SampleRate is the stream rate in Hz.
func (c *Capture) SampleRate() float64 {
	return c.sampleRate
}

// DeviceName names the device being captured.
func (c *Capture) DeviceName() string {
	if c.device == nil {
		return ""
	}
	return c.device.Name
}

// Close stops and closes the stream.
func (c *Capture) Close() error {
	if c.stream == nil {
		return nil
	}
	if err := c.stream.Stop(); err != nil && !alreadyStopped(err) {
		return err
	}
	return c.stream.Close()
}

// alreadyStopped matches paStreamIsStopped.
func alreadyStopped(err error) bool {
	return strings.Contains(err.Error(), "PaErrorCode -9983") || strings.Contains(err.Error(), "Stream is stopped")
}

func selectDevice(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}
	defaultIndex := -1
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultIndex = def.Index
	}

	candidates := make([]candidate, 0, len(devices))
	for _, d := range devices {
		if d == nil {
			continue
		}
		candidates = append(candidates, candidate{
			index:     d.Index,
			name:      d.Name,
			inputs:    d.MaxInputChannels,
			isDefault: d.Index == defaultIndex,
		})
	}

	best, ok := pickDevice(candidates, name)
	if !ok {
		if name != "" {
			return nil, fmt.Errorf("audio device %q not found", name)
		}
		return nil, fmt.Errorf("no audio input device found")
	}
	for _, d := range devices {
		if d != nil && d.Index == best.index {
			return d, nil
		}
	}
	return nil, fmt.Errorf("audio device %q disappeared", best.name)
}
