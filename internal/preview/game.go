// Package preview shows the rendered strip wrapped around its tube in a
// desktop window. The window's update loop drives the animation clock, so
// frames follow the display refresh.
package preview

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"math"
	"sort"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"github.com/dokzlo13/lampyd/internal/control"
	"github.com/dokzlo13/lampyd/internal/render"
)

const (
	windowWidth  = 480
	windowHeight = 640

	pixelRadius   = 4
	glowRadius    = 11
	rotationSpeed = 0.004
	topMargin     = 70
	brightnessKey = 5
)

var background = color.RGBA{R: 0x0b, G: 0x0d, B: 0x14, A: 0xff}

// Ticker advances the animation clock
type Ticker interface {
	Tick(now time.Time)
}

// FrameSource returns the most recent frame
type FrameSource interface {
	Frame() render.Frame
}

// Game is the ebiten game drawing the lamp
type Game struct {
	ticker FrameTicker
	state  *control.State
	status func() string
	layout render.Layout

	rotation float64
	now      func() time.Time
	ctx      context.Context
}

// FrameTicker is a clock whose ticks produce frames
type FrameTicker interface {
	Ticker
	FrameSource
}

// New creates a preview. status may be nil.
func New(ticker FrameTicker, state *control.State, status func() string) *Game {
	return &Game{
		ticker: ticker,
		state:  state,
		status: status,
		layout: render.DesktopLayout,
		now:    time.Now,
	}
}

// Run opens the window and blocks until it is closed or ctx is cancelled.
// It must be called from the main goroutine.
func Run(ctx context.Context, g *Game) error {
	g.ctx = ctx
	ebiten.SetWindowSize(windowWidth, windowHeight)
	ebiten.SetWindowTitle("lampyd preview - arrows: pattern/brightness, [ ]: speed, r: reset colors, q: quit")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)

	if err := ebiten.RunGame(g); err != nil && !errors.Is(err, ebiten.Termination) {
		return err
	}
	return nil
}

func (g *Game) Update() error {
	if g.ctx != nil && g.ctx.Err() != nil {
		return ebiten.Termination
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) || inpututil.IsKeyJustPressed(ebiten.KeyQ) {
		return ebiten.Termination
	}
	g.handleInput()

	g.ticker.Tick(g.now())
	g.rotation += rotationSpeed
	return nil
}

func (g *Game) handleInput() {
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyRight):
		g.stepPattern(1)
	case inpututil.IsKeyJustPressed(ebiten.KeyLeft):
		g.stepPattern(-1)
	case inpututil.IsKeyJustPressed(ebiten.KeyUp):
		g.state.SetBrightness(g.state.Brightness() + brightnessKey)
	case inpututil.IsKeyJustPressed(ebiten.KeyDown):
		g.state.SetBrightness(g.state.Brightness() - brightnessKey)
	case inpututil.IsKeyJustPressed(ebiten.KeyBracketRight):
		g.state.SetSpeed(g.state.Speed() + 1)
	case inpututil.IsKeyJustPressed(ebiten.KeyBracketLeft):
		g.state.SetSpeed(g.state.Speed() - 1)
	case inpututil.IsKeyJustPressed(ebiten.KeyR):
		_ = g.state.ResetColors()
	case inpututil.IsKeyJustPressed(ebiten.KeyM):
		if g.layout == render.DesktopLayout {
			g.layout = render.MobileLayout
		} else {
			g.layout = render.DesktopLayout
		}
	}
}

// stepPattern moves through the catalog in id order, wrapping around
func (g *Game) stepPattern(delta int) {
	patterns := g.state.Catalog().List()
	if len(patterns) == 0 {
		return
	}
	idx := 0
	if cur, ok := g.state.Current(); ok {
		for i, p := range patterns {
			if p.ID == cur.ID {
				idx = (i + delta + len(patterns)) % len(patterns)
				break
			}
		}
	}
	_ = g.state.SelectPattern(patterns[idx].ID)
}

type projected struct {
	x, y, depth float64
	sample      render.Sample
}

func (g *Game) Draw(screen *ebiten.Image) {
	screen.Fill(background)

	w := screen.Bounds().Dx()
	cx := float64(w) / 2

	frame := g.ticker.Frame()
	positions := g.layout.Positions(len(frame.Pixels))
	points := make([]projected, len(frame.Pixels))
	for i, s := range frame.Pixels {
		p := positions[i].Rotate(g.rotation)
		points[i] = projected{
			x:      cx + p.X,
			y:      topMargin + p.Y,
			depth:  p.Z / g.layout.Radius,
			sample: s,
		}
	}
	// back of the tube first
	sort.Slice(points, func(i, j int) bool { return points[i].depth < points[j].depth })

	for _, p := range points {
		c := p.sample.RGBA()
		// dim the far side
		shade := 0.55 + 0.45*(p.depth+1)/2
		c = scale(c, shade)

		if p.sample.Glow {
			glow := c
			glow.A = uint8(math.Round(p.sample.Intensity * 96))
			vector.DrawFilledCircle(screen, float32(p.x), float32(p.y), glowRadius, premultiply(glow), true)
		}
		r := pixelRadius * (0.8 + 0.2*(p.depth+1))
		vector.DrawFilledCircle(screen, float32(p.x), float32(p.y), float32(r), c, true)
	}

	ebitenutil.DebugPrintAt(screen, g.overlay(), 10, 10)
}

func (g *Game) overlay() string {
	snap := g.state.Snapshot()
	name := "No pattern"
	if snap.Pattern != nil {
		name = snap.Pattern.Name
	}
	text := fmt.Sprintf("%s\nBrightness %d%%  Speed %d (%s)", name, snap.Brightness, snap.Speed, snap.SpeedLabel)
	if g.status != nil {
		text += "\n" + g.status()
	}
	return text
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return windowWidth, windowHeight
}

func scale(c color.RGBA, f float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(c.R) * f),
		G: uint8(float64(c.G) * f),
		B: uint8(float64(c.B) * f),
		A: c.A,
	}
}

// vector expects premultiplied alpha
func premultiply(c color.RGBA) color.RGBA {
	a := float64(c.A) / 255
	return color.RGBA{
		R: uint8(float64(c.R) * a),
		G: uint8(float64(c.G) * a),
		B: uint8(float64(c.B) * a),
		A: c.A,
	}
}
