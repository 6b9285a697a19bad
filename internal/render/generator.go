// Package render computes the simulated per-pixel output of lighting patterns.
//
// A Generator maps (pattern, pixel, elapsed time, speed, brightness) to a
// Sample. Flicker and sparkle variants draw from an injected random Source,
// so tests can substitute a fixed one.
package render

import (
	"math"
	"math/rand"
	"time"

	"github.com/dokzlo13/lampyd/internal/pattern"
)

const (
	// MinIntensity is the floor applied to every rendered pixel
	MinIntensity = 0.2
	// GlowThreshold is the level above which a pixel gets a halo
	GlowThreshold = 0.6

	// StreakLength is the length of the meteor segment in pixels
	StreakLength = 15.0
	// SparkChance is the per-tick probability of a firefly spark
	SparkChance = 0.01
)

// IdleColor is shown for every pixel before a pattern is selected
const IdleColor pattern.Color = "#333333"

// Per-variant colors used when a palette is empty
var fallbackColors = map[pattern.Variant]pattern.Color{
	pattern.VariantFlame:    "#ff4500",
	pattern.VariantStreak:   "#8000ff",
	pattern.VariantSpectrum: "#ff0000",
	pattern.VariantSparkle:  "#ffd700",
	pattern.VariantWave:     "#00ff00",
	pattern.VariantScripted: "#00ff00",
}

// Source is a uniform random source in [0,1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// ScriptSampler renders patterns defined outside the built-in variants.
// position is mapped into the palette, level is the unclamped intensity.
type ScriptSampler interface {
	SampleScript(id, pixel, pixels int, t, speed, brightness float64) (position, level float64, ok bool)
}

// Sample is the rendered state of one pixel for one frame
type Sample struct {
	Color     pattern.Color `json:"color"`
	Intensity float64       `json:"intensity"` // clamped to [MinIntensity, 1]
	Level     float64       `json:"level"`     // intensity before clamping
	Glow      bool          `json:"glow"`
}

// Generator renders pattern samples for a strip of a fixed number of pixels.
// A Generator is not safe for concurrent use.
type Generator struct {
	pixels  int
	rnd     Source
	scripts ScriptSampler
}

// NewGenerator creates a generator for a strip of the given length.
// A nil rnd is replaced by a time-seeded source.
func NewGenerator(pixels int, rnd Source) *Generator {
	if pixels <= 0 {
		pixels = 72
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{
		pixels: pixels,
		rnd:    rnd,
	}
}

// SetScripts attaches a sampler for scripted patterns
func (g *Generator) SetScripts(s ScriptSampler) {
	g.scripts = s
}

// Pixels returns the strip length
func (g *Generator) Pixels() int {
	return g.pixels
}

// Sample computes the color and intensity of one pixel.
// A nil pattern renders the idle sample.
func (g *Generator) Sample(p *pattern.View, pixel int, elapsedMs float64, speed, brightness int) Sample {
	if p == nil {
		return Sample{Color: IdleColor, Intensity: 0.3, Level: 0.3}
	}

	t := elapsedMs * 0.001
	s := float64(speed) / 10
	b := float64(brightness) / 100
	i := float64(pixel)
	colors := p.Colors
	fallback := fallbackColors[p.Variant]

	var (
		color pattern.Color
		level float64
	)

	switch p.Variant {
	case pattern.VariantFlame:
		base := math.Sin(t*s*3+i*0.2) * math.Cos(t*s*2+i*0.15)
		flicker := g.rnd.Float64() * 0.3
		heat := math.Max(0, (base+flicker)*0.5+0.4)
		color = pick(colors, quantize(heat, len(colors)), fallback)
		level = b * (0.3 + heat*0.7)

	case pattern.VariantStreak:
		dist := math.Abs(i - StreakCenter(t, s, g.pixels))
		if dist < StreakLength {
			level = b * math.Max(0, 1-dist/StreakLength)
		}
		color = pick(colors, 0, fallback)

	case pattern.VariantSpectrum:
		pos := positiveMod(t*s+i*0.08, 1)
		color = pick(colors, int(math.Floor(pos*float64(len(colors)))), fallback)
		level = b * (0.8 + math.Sin(t*s*2+i*0.1)*0.2)

	case pattern.VariantSparkle:
		spark := 1.0
		if g.rnd.Float64() < SparkChance {
			spark = 2
		}
		pulse := math.Sin(t*s+i*0.3)*0.5 + 0.5
		level = b * pulse * spark * 0.6
		color = pick(colors, int(math.Floor(g.rnd.Float64()*float64(len(colors)))), fallback)

	case pattern.VariantScripted:
		if g.scripts != nil {
			if pos, lvl, ok := g.scripts.SampleScript(p.ID, pixel, g.pixels, t, s, b); ok {
				color = pick(colors, quantize(pos, len(colors)), fallback)
				level = lvl
				break
			}
		}
		color, level = wave(colors, t, s, b, i, fallback)

	default:
		color, level = wave(colors, t, s, b, i, fallback)
	}

	return finish(color, level)
}

// Render samples every pixel of the strip for one frame
func (g *Generator) Render(p *pattern.View, elapsedMs float64, speed, brightness int) Frame {
	frame := Frame{
		ElapsedMs: elapsedMs,
		Pixels:    make([]Sample, g.pixels),
	}
	if p != nil {
		frame.PatternID = p.ID
		frame.HasPattern = true
	}
	for i := range frame.Pixels {
		frame.Pixels[i] = g.Sample(p, i, elapsedMs, speed, brightness)
	}
	return frame
}

// StreakCenter returns the meteor position for time t (seconds) and
// normalized speed s. The meteor enters and leaves fully, so its cycle
// spans the strip plus one segment length on each side.
func StreakCenter(t, s float64, pixels int) float64 {
	cycle := float64(pixels) + StreakLength*2
	return positiveMod(t*s*4, cycle) - StreakLength
}

func wave(colors []pattern.Color, t, s, b, i float64, fallback pattern.Color) (pattern.Color, float64) {
	phase := t*s + i*0.1
	w1 := math.Sin(phase)*0.5 + 0.5
	w2 := math.Sin(phase*0.7+math.Pi/3)*0.3 + 0.5
	combined := (w1 + w2) / 2
	return pick(colors, quantize(combined, len(colors)), fallback), b * (0.4 + combined*0.6)
}

func finish(color pattern.Color, level float64) Sample {
	if math.IsNaN(level) {
		level = 0
	}
	return Sample{
		Color:     color,
		Intensity: math.Max(MinIntensity, math.Min(1, level)),
		Level:     level,
		Glow:      level > GlowThreshold,
	}
}

// quantize maps v into a palette index, saturating at the last slot
func quantize(v float64, n int) int {
	idx := int(math.Floor(v * float64(n)))
	if idx > n-1 {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

func pick(colors []pattern.Color, idx int, fallback pattern.Color) pattern.Color {
	if idx < 0 || idx >= len(colors) || colors[idx] == "" {
		return fallback
	}
	return colors[idx]
}

func positiveMod(v, m float64) float64 {
	r := math.Mod(v, m)
	if r < 0 {
		r += m
	}
	return r
}
