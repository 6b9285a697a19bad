package render

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// Frame is one rendered tick of the whole strip
type Frame struct {
	ElapsedMs  float64  `json:"elapsedMs"`
	PatternID  int      `json:"patternId"`
	HasPattern bool     `json:"hasPattern"`
	Pixels     []Sample `json:"pixels"`
}

// RGBA returns the sample color scaled by its intensity
func (s Sample) RGBA() color.RGBA {
	c := s.Color.RGB()
	scaled := colorful.Color{R: c.R * s.Intensity, G: c.G * s.Intensity, B: c.B * s.Intensity}
	r, g, b := scaled.Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

// Hex returns the intensity-scaled color as "#rrggbb"
func (s Sample) Hex() string {
	c := s.RGBA()
	return colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}.Hex()
}

// Point is a position in preview space. Y grows down the tube.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Layout wraps the strip around a tube as a helix
type Layout struct {
	Height float64
	Radius float64
	Turns  float64
}

var (
	// DesktopLayout is the full-size tube
	DesktopLayout = Layout{Height: 500, Radius: 60, Turns: 8.5}
	// MobileLayout is the compact tube
	MobileLayout = Layout{Height: 340, Radius: 40, Turns: 6}
)

// Position returns where pixel i of n sits on the helix
func (l Layout) Position(i, n int) Point {
	progress := 0.0
	if n > 1 {
		progress = float64(i) / float64(n-1)
	}
	angle := progress * 2 * math.Pi * l.Turns
	return Point{
		X: math.Cos(angle) * l.Radius,
		Y: progress * l.Height,
		Z: math.Sin(angle) * l.Radius,
	}
}

// Positions returns the helix positions of all n pixels
func (l Layout) Positions(n int) []Point {
	points := make([]Point, n)
	for i := range points {
		points[i] = l.Position(i, n)
	}
	return points
}

// Rotate turns the point around the tube axis by angle radians
func (p Point) Rotate(angle float64) Point {
	sin, cos := math.Sincos(angle)
	return Point{
		X: p.X*cos - p.Z*sin,
		Y: p.Y,
		Z: p.X*sin + p.Z*cos,
	}
}
