package pattern

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Color is a hex-encoded RGB color ("#rrggbb") as exchanged with the device
type Color string

var hexColorRe = regexp.MustCompile(`^#([0-9a-f]{3}|[0-9a-f]{6})$`)

// ParseColor validates and normalizes a hex color string
func ParseColor(s string) (Color, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	if !hexColorRe.MatchString(s) {
		return "", fmt.Errorf("invalid color %q: expected #rrggbb", s)
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return "", fmt.Errorf("invalid color %q: %w", s, err)
	}
	return Color(c.Hex()), nil
}

// ParseColors validates a list of hex colors
func ParseColors(values []string) ([]Color, error) {
	colors := make([]Color, 0, len(values))
	for _, v := range values {
		c, err := ParseColor(v)
		if err != nil {
			return nil, err
		}
		colors = append(colors, c)
	}
	return colors, nil
}

// RGB returns the color in go-colorful form. Invalid values map to black.
func (c Color) RGB() colorful.Color {
	rgb, err := colorful.Hex(string(c))
	if err != nil {
		return colorful.Color{}
	}
	return rgb
}

func (c Color) String() string {
	return string(c)
}

// NamedColor is an entry of the picker palette
type NamedColor struct {
	Name  string `json:"name"`
	Value Color  `json:"value"`
}

// NeoPixelPalette lists colors that render faithfully on WS2812B strips
var NeoPixelPalette = []NamedColor{
	{Name: "Red", Value: "#ff0000"},
	{Name: "Orange", Value: "#ff4500"},
	{Name: "Yellow", Value: "#ffff00"},
	{Name: "Lime", Value: "#00ff00"},
	{Name: "Green", Value: "#008000"},
	{Name: "Cyan", Value: "#00ffff"},
	{Name: "Blue", Value: "#0000ff"},
	{Name: "Purple", Value: "#8000ff"},
	{Name: "Magenta", Value: "#ff00ff"},
	{Name: "Pink", Value: "#ff69b4"},
	{Name: "White", Value: "#ffffff"},
	{Name: "Warm White", Value: "#ffd4a3"},
	{Name: "Cool White", Value: "#d4e4ff"},
	{Name: "Gold", Value: "#ffd700"},
	{Name: "Amber", Value: "#ffbf00"},
	{Name: "Deep Red", Value: "#8b0000"},
	{Name: "Forest", Value: "#228b22"},
	{Name: "Navy", Value: "#000080"},
	{Name: "Violet", Value: "#8b00ff"},
	{Name: "Coral", Value: "#ff7f50"},
}

func copyColors(src []Color) []Color {
	if src == nil {
		return nil
	}
	dst := make([]Color, len(src))
	copy(dst, src)
	return dst
}
