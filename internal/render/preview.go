package render

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/eiannone/keyboard"
	"golang.org/x/term"

	"github.com/guidoenr/backdrop/internal/logger"
)

// Command is a key press the preview forwards to its owner.
type Command int

const (
	CommandQuit Command = iota
	CommandTogglePage
	CommandToggleVisible
	CommandToggleAudio
	CommandNextVariant
)

// mapKey translates a key press into a command.
func mapKey(char rune, key keyboard.Key) (Command, bool) {
	switch {
	case key == keyboard.KeyEsc || key == keyboard.KeyCtrlC:
		return CommandQuit, true
	}
	switch char {
	case 'q', 'Q':
		return CommandQuit, true
	case 'b', 'B':
		return CommandTogglePage, true
	case 'v', 'V':
		return CommandToggleVisible, true
	case 'a', 'A':
		return CommandToggleAudio, true
	case 'n', 'N':
		return CommandNextVariant, true
	}
	return 0, false
}

// PreviewConfig configures the terminal loop.
type PreviewConfig struct {
	FPS        float64
	UseANSI    bool
	ShowStatus bool
	Out        io.Writer
	Status     func() string
	Profiler   FrameProfiler
	Log        *logger.Logger
}

// FrameProfiler receives per-frame timing marks.
type FrameProfiler interface {
	BeginFrame()
	Mark(section string)
	EndFrame()
}

// Preview draws a Stage to the terminal and reads key presses.
type Preview struct {
	stage *Stage
	cfg   PreviewConfig
	last  time.Time
	width int
	rows  int
}

// NewPreview creates a preview for stage.
func NewPreview(stage *Stage, cfg PreviewConfig) *Preview {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &Preview{stage: stage, cfg: cfg}
}

// Run draws frames until ctx is done or the quit key is pressed. Other key
// presses are passed to onCommand.
func (p *Preview) Run(ctx context.Context, onCommand func(Command)) error {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / p.cfg.FPS))
	defer ticker.Stop()

	p.write("\x1b[?1049h\x1b[2J\x1b[H\x1b[?25l")
	defer p.write("\x1b[?25h\x1b[?1049l\x1b[0m")

	inputCtx, cancelInput := context.WithCancel(ctx)
	defer cancelInput()
	commands := p.listen(inputCtx)
	p.ensureDimensions()
	p.last = time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			if cmd == CommandQuit {
				return nil
			}
			if onCommand != nil {
				onCommand(cmd)
			}
		case now := <-ticker.C:
			p.step(now)
		}
	}
}

func (p *Preview) step(now time.Time) {
	p.ensureDimensions()
	dt := now.Sub(p.last).Seconds()
	if dt <= 0 {
		dt = 1 / p.cfg.FPS
	}
	p.last = now

	prof := p.cfg.Profiler
	if prof != nil {
		prof.BeginFrame()
		defer prof.EndFrame()
	}

	frame := p.stage.Render(dt, p.cfg.UseANSI)
	if prof != nil {
		prof.Mark("render")
	}
	var b strings.Builder
	b.WriteString("\x1b[H")
	for _, line := range frame.Lines {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	if p.cfg.ShowStatus && p.cfg.Status != nil {
		b.WriteString(statusBar(p.cfg.Status(), p.width))
	}
	p.write(b.String())
	if prof != nil {
		prof.Mark("write")
	}
}

func (p *Preview) ensureDimensions() {
	fd := int(os.Stdout.Fd())
	w, h, err := term.GetSize(fd)
	if err != nil || w <= 0 || h <= 0 {
		if p.width == 0 {
			w, h = 80, 24
		} else {
			return
		}
	}
	rows := h
	if p.cfg.ShowStatus && rows > 1 {
		rows--
	}
	if w == p.width && rows == p.rows {
		return
	}
	p.width, p.rows = w, rows
	p.stage.Resize(w, rows)
}

func (p *Preview) listen(ctx context.Context) <-chan Command {
	if err := keyboard.Open(); err != nil {
		p.cfg.Log.Error(err, "keyboard input disabled")
		return nil
	}

	commands := make(chan Command, 16)
	var closeOnce sync.Once
	closeKeyboard := func() { closeOnce.Do(func() { _ = keyboard.Close() }) }
	go func() {
		<-ctx.Done()
		closeKeyboard()
	}()

	go func() {
		defer close(commands)
		defer closeKeyboard()
		for {
			char, key, err := keyboard.GetKey()
			if err != nil {
				return
			}
			cmd, ok := mapKey(char, key)
			if !ok {
				continue
			}
			select {
			case commands <- cmd:
			case <-ctx.Done():
				return
			}
			if cmd == CommandQuit {
				return
			}
		}
	}()
	return commands
}

func (p *Preview) write(s string) {
	if _, err := fmt.Fprint(p.cfg.Out, s); err != nil {
		p.cfg.Log.Error(err, "preview write failed")
	}
}

func statusBar(text string, width int) string {
	if width <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) >= width {
		return string(runes[:width])
	}
	return text + strings.Repeat(" ", width-len(runes))
}
