package logger

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Options describes logger configuration supplied at creation time.
type Options struct {
	Level         string
	HumanReadable bool
	Writer        io.Writer
}

// verbose lowers every logger's threshold to debug while set.
var verbose atomic.Bool

// Logger wraps zerolog so components share one small API.
type Logger struct {
	base  zerolog.Logger
	level zerolog.Level
}

// New creates a configured Logger instance based on Options.
func New(opts Options) (*Logger, error) {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}

	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, err
		}
		level = parsed
	}

	var output io.Writer = writer
	if opts.HumanReadable {
		console := zerolog.NewConsoleWriter()
		console.Out = writer
		console.TimeFormat = time.RFC3339
		output = console
	}

	base := zerolog.New(output).Level(zerolog.TraceLevel).With().Timestamp().Logger()
	return &Logger{base: base, level: level}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{base: zerolog.Nop(), level: zerolog.Disabled}
}

// SetVerbose turns debug output on for every logger regardless of its
// configured level. Turning it off restores the configured levels.
func SetVerbose(on bool) {
	verbose.Store(on)
}

// Verbose reports whether SetVerbose is in effect.
func Verbose() bool {
	return verbose.Load()
}

// event returns nil, which zerolog treats as a no-op, when lvl is filtered.
func (l *Logger) event(lvl zerolog.Level) *zerolog.Event {
	threshold := l.level
	if verbose.Load() && threshold > zerolog.DebugLevel && threshold != zerolog.Disabled {
		threshold = zerolog.DebugLevel
	}
	if lvl < threshold {
		return nil
	}
	return l.base.WithLevel(lvl)
}

// WithFields returns a derived logger that always writes the supplied fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	if l == nil {
		return nil
	}

	builder := l.base.With()
	for key, value := range fields {
		builder = builder.Interface(key, value)
	}

	derived := Logger{base: builder.Logger(), level: l.level}
	return &derived
}

// With is a shorthand for a single field.
func (l *Logger) With(key string, value any) *Logger {
	return l.WithFields(map[string]any{key: value})
}

// Info writes an informational log entry.
func (l *Logger) Info(msg string) {
	if l == nil {
		return
	}
	l.event(zerolog.InfoLevel).Msg(msg)
}

// Debug writes a debug-level log entry if enabled.
func (l *Logger) Debug(msg string) {
	if l == nil {
		return
	}
	l.event(zerolog.DebugLevel).Msg(msg)
}

// Warn writes a warning level log entry.
func (l *Logger) Warn(msg string) {
	if l == nil {
		return
	}
	l.event(zerolog.WarnLevel).Msg(msg)
}

// Error writes an error log entry including the supplied error context.
func (l *Logger) Error(err error, msg string) {
	if l == nil {
		return
	}
	event := l.event(zerolog.ErrorLevel)
	if err != nil {
		event = event.Err(err)
	}
	event.Msg(msg)
}
