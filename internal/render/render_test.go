package render

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/eiannone/keyboard"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/stretchr/testify/require"

	"github.com/guidoenr/backdrop/internal/colors"
	"github.com/guidoenr/backdrop/internal/settings"
	"github.com/guidoenr/backdrop/internal/surface"
)

func redParams() surface.Params {
	return surface.Params{
		Variant:    settings.VariantFlowingGradient,
		Colors:     colors.Palette{colors.RGB(255, 0, 0)},
		Scale:      1,
		Speed:      1,
		Opacity:    1,
		Saturation: 1,
	}
}

func TestStageLayoutFollowsPage(t *testing.T) {
	s := NewStage(40, 12, "block")
	require.True(t, s.IsReady(surface.Primary))
	require.False(t, s.IsReady(surface.BrowseA))
	_, ok := s.Element(surface.BrowseB)
	require.False(t, ok)

	s.SetPage(surface.PageAlbum)
	require.True(t, s.IsReady(surface.BrowseA))
	require.True(t, s.IsReady(surface.BrowseB))
	el, ok := s.Element(surface.BrowseA)
	require.True(t, ok)
	require.Equal(t, surface.BrowseA, el)

	s.Resize(0, 0)
	require.False(t, s.IsReady(surface.Primary))
}

func TestWaitUntilReadyWakesOnNavigation(t *testing.T) {
	s := NewStage(40, 12, "")
	ctx := context.Background()

	require.False(t, s.WaitUntilReady(ctx, surface.BrowseA, 10*time.Millisecond))

	done := make(chan bool)
	go func() { done <- s.WaitUntilReady(ctx, surface.BrowseA, 5*time.Second) }()
	time.Sleep(5 * time.Millisecond)
	s.SetPage(surface.PagePlaylist)

	select {
	case ok := <-done:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("wait did not wake up")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.False(t, s.WaitUntilReady(cancelled, surface.Key("nowhere"), time.Second))
}

func TestAllocateAndDispose(t *testing.T) {
	s := NewStage(20, 6, "")
	ctx := context.Background()

	_, err := s.Allocate(ctx, "primary", redParams())
	require.Error(t, err)
	_, err = s.Allocate(ctx, surface.BrowseA, redParams())
	require.Error(t, err)

	first, err := s.Allocate(ctx, surface.Primary, redParams())
	require.NoError(t, err)
	second, err := s.Allocate(ctx, surface.Primary, redParams())
	require.NoError(t, err)
	require.Equal(t, 1, s.Effects())

	first.Dispose()
	require.Equal(t, 1, s.Effects())
	second.Dispose()
	require.Zero(t, s.Effects())
}

func TestRenderDrawsLiveEffects(t *testing.T) {
	s := NewStage(20, 6, "")
	blank := s.Render(0.1, true)
	require.Len(t, blank.Lines, 6)
	require.Equal(t, strings.Repeat(" ", 20)+resetANSI, blank.Lines[0])

	h, err := s.Allocate(context.Background(), surface.Primary, redParams())
	require.NoError(t, err)
	frame := s.Render(0.1, true)
	require.Len(t, frame.Lines, 6)
	for _, line := range frame.Lines {
		require.Contains(t, line, colorCode(196))
		require.Contains(t, line, "▓")
	}

	faded := redParams()
	faded.Opacity = 0
	h.SetParameters(faded)
	plain := s.Render(0.1, false)
	require.Equal(t, strings.Repeat(" ", 20), plain.Lines[3])
}

func TestRenderBrowseRegions(t *testing.T) {
	s := NewStage(20, 9, "ascii")
	s.SetPage(surface.PageArtist)
	ctx := context.Background()
	_, err := s.Allocate(ctx, surface.BrowseA, redParams())
	require.NoError(t, err)

	frame := s.Render(0.1, false)
	require.NotEqual(t, strings.Repeat(" ", 10), frame.Lines[0][:10])
	require.Equal(t, strings.Repeat(" ", 10), frame.Lines[0][10:])
	require.Equal(t, strings.Repeat(" ", 20), frame.Lines[5])
}

func TestGradient(t *testing.T) {
	g := newGradient(colors.Palette{colors.RGB(0, 0, 0), colors.RGB(255, 255, 255)}, 1)
	require.Equal(t, g[0], g.at(-1))
	require.Equal(t, g[1], g.at(2))
	mid := g.at(0.5)
	require.InDelta(t, 0.45, mid.R, 0.1)

	gray := newGradient(colors.Palette{colors.RGB(200, 50, 50)}, 0)
	_, sat, _ := gray.at(0.3).Hsl()
	require.InDelta(t, 0, sat, 1e-6)
	require.Equal(t, colorful.Color{}, gradient(nil).at(0.5))
}

func TestOctaveNoiseRange(t *testing.T) {
	n := octaveNoise{octaves: 4, gain: 0.5}
	for i := -50; i < 50; i++ {
		x, y := float64(i)*0.37, float64(i)*-0.53
		v := n.at(x, y)
		require.GreaterOrEqual(t, v, -1.0)
		require.LessOrEqual(t, v, 1.0)
		require.Equal(t, v, n.at(x, y))
	}
	require.Zero(t, octaveNoise{}.at(1, 2))

	// integer points land exactly on the lattice
	require.InDelta(t, 2*lattice(3, -7)-1, octaveNoise{octaves: 1, gain: 0.5}.at(3, -7), 1e-12)
}

func TestLatticeSpread(t *testing.T) {
	seen := make(map[float64]bool)
	for x := -8; x < 8; x++ {
		for y := -8; y < 8; y++ {
			v := lattice(x, y)
			require.GreaterOrEqual(t, v, 0.0)
			require.Less(t, v, 1.0)
			seen[v] = true
		}
	}
	require.Len(t, seen, 256)
}

func TestRGBToANSI(t *testing.T) {
	require.Equal(t, 196, rgbToANSI(colorful.Color{R: 1}))
	require.Equal(t, 21, rgbToANSI(colorful.Color{B: 1}))
	require.Equal(t, 232, rgbToANSI(colorful.Color{}))
	require.Equal(t, 255, rgbToANSI(colorful.Color{R: 1, G: 1, B: 1}))
}

func TestMapKey(t *testing.T) {
	cmd, ok := mapKey(0, keyboard.KeyEsc)
	require.True(t, ok)
	require.Equal(t, CommandQuit, cmd)

	cmd, ok = mapKey('b', 0)
	require.True(t, ok)
	require.Equal(t, CommandTogglePage, cmd)

	_, ok = mapKey('z', 0)
	require.False(t, ok)
}

func TestStatusBar(t *testing.T) {
	require.Equal(t, "abc  ", statusBar("abc", 5))
	require.Equal(t, "ab", statusBar("abc", 2))
	require.Equal(t, "abc", statusBar("abc", 0))
}
