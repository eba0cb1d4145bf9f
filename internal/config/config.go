// Package config loads the daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/guidoenr/backdrop/internal/settings"
)

// Audio selects where beat detection reads samples from.
type Audio struct {
	Device     string  `yaml:"device"`
	BufferSize int     `yaml:"bufferSize" validate:"min=256,max=16384"`
	Synthetic  bool    `yaml:"synthetic"`
	BPM        float64 `yaml:"bpm" validate:"min=30,max=300"`
}

// Surfaces tunes the surface lifecycle timings.
type Surfaces struct {
	ReadyTimeout  time.Duration `yaml:"readyTimeout" validate:"min=0"`
	SettleDelay   time.Duration `yaml:"settleDelay" validate:"min=0"`
	FadeDuration  time.Duration `yaml:"fadeDuration" validate:"min=0"`
	FrameInterval time.Duration `yaml:"frameInterval" validate:"min=1ms"`
}

// Palette tunes artwork extraction.
type Palette struct {
	CacheSize    int           `yaml:"cacheSize" validate:"min=1"`
	Colors       int           `yaml:"colors" validate:"min=2,max=16"`
	MinSize      int           `yaml:"minSize" validate:"min=1"`
	FetchTimeout time.Duration `yaml:"fetchTimeout" validate:"min=0"`
}

// Memory tunes the per-album color memory.
type Memory struct {
	Capacity  int           `yaml:"capacity" validate:"min=1"`
	SaveDelay time.Duration `yaml:"saveDelay" validate:"min=0"`
}

// Preview configures the terminal renderer.
type Preview struct {
	Enabled bool    `yaml:"enabled"`
	FPS     float64 `yaml:"fps" validate:"gt=0,max=240"`
	ANSI    bool    `yaml:"ansi"`
	Status  bool    `yaml:"status"`
	Ramp    string  `yaml:"ramp" validate:"oneof=block ascii spark"`
	Width   int     `yaml:"width" validate:"min=0"`
	Height  int     `yaml:"height" validate:"min=0"`
	Profile string  `yaml:"profile"`
}

// Log configures the process logger.
type Log struct {
	Level string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Human bool   `yaml:"human"`
}

// Config is the full daemon configuration.
type Config struct {
	Listen    string            `yaml:"listen" validate:"required,hostname_port"`
	StorePath string            `yaml:"storePath" validate:"required"`
	Page      string            `yaml:"page" validate:"oneof=now-playing home album playlist artist"`
	Audio     Audio             `yaml:"audio"`
	Surfaces  Surfaces          `yaml:"surfaces"`
	Palette   Palette           `yaml:"palette"`
	Memory    Memory            `yaml:"memory"`
	Preview   Preview           `yaml:"preview"`
	Log       Log               `yaml:"log"`
	Settings  settings.Settings `yaml:"settings"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen:    "127.0.0.1:8787",
		StorePath: "backdrop.json",
		Page:      "now-playing",
		Audio: Audio{
			BufferSize: 2048,
			BPM:        120,
		},
		Surfaces: Surfaces{
			ReadyTimeout:  5 * time.Second,
			SettleDelay:   100 * time.Millisecond,
			FadeDuration:  600 * time.Millisecond,
			FrameInterval: time.Second / 60,
		},
		Palette: Palette{
			CacheSize:    32,
			Colors:       5,
			MinSize:      32,
			FetchTimeout: 15 * time.Second,
		},
		Memory: Memory{
			Capacity:  50,
			SaveDelay: time.Second,
		},
		Preview: Preview{
			Enabled: true,
			FPS:     30,
			ANSI:    true,
			Status:  true,
			Ramp:    "block",
		},
		Log:      Log{Level: "info", Human: true},
		Settings: settings.Defaults(),
	}
}

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// ParseError reports a file that could not be decoded.
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError names the first field that failed validation.
type ValidationError struct {
	Field string
	Tag   string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s failed validation for tag '%s'", e.Field, e.Tag)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Load reads path and overlays it on Default. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &ParseError{Path: path, Err: err}
	}
	return Parse(path, data)
}

// Parse decodes data over Default and validates the result.
func Parse(name string, data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &ParseError{Path: name, Line: extractLine(err), Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		validateInst = v
	})
	return validateInst
}

// Validate checks every field against its documented range.
func (c Config) Validate() error {
	err := validatorInstance().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	return &ValidationError{Field: fieldName(fe), Tag: fe.Tag(), Err: err}
}

func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func extractLine(err error) int {
	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}
	line, convErr := strconv.Atoi(matches[1])
	if convErr != nil {
		return 0
	}
	return line
}
