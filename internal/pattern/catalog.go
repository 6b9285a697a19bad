// Package pattern provides the registry of lighting patterns and their palettes.
package pattern

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownPattern is returned when a pattern id is not registered
	ErrUnknownPattern = errors.New("unknown pattern")
	// ErrEmptyPalette is returned when a palette edit has no colors
	ErrEmptyPalette = errors.New("palette must contain at least one color")
)

// Variant selects the procedural algorithm used to render a pattern
type Variant string

const (
	VariantFlame    Variant = "flame"
	VariantStreak   Variant = "streak"
	VariantSpectrum Variant = "spectrum"
	VariantSparkle  Variant = "sparkle"
	VariantWave     Variant = "wave"
	VariantScripted Variant = "scripted"
)

// VariantFor returns the built-in variant for a pattern id.
// Any id not listed renders as a wave.
func VariantFor(id int) Variant {
	switch id {
	case 0:
		return VariantFlame
	case 1:
		return VariantStreak
	case 2:
		return VariantSpectrum
	case 3:
		return VariantSparkle
	default:
		return VariantWave
	}
}

// Definition describes a single pattern. The palette is owned by the catalog.
type Definition struct {
	ID      int
	Name    string
	Icon    string
	Variant Variant

	colors         []Color
	originalColors []Color
}

// NewDefinition creates a definition whose working palette is a copy of the baseline
func NewDefinition(id int, name, icon string, variant Variant, colors []Color) *Definition {
	return &Definition{
		ID:             id,
		Name:           name,
		Icon:           icon,
		Variant:        variant,
		colors:         copyColors(colors),
		originalColors: copyColors(colors),
	}
}

// View is an immutable snapshot of a pattern, safe to hand to renderers
type View struct {
	ID             int     `json:"id"`
	Name           string  `json:"name"`
	Icon           string  `json:"icon"`
	Variant        Variant `json:"variant"`
	Colors         []Color `json:"colors"`
	OriginalColors []Color `json:"originalColors"`
}

// Catalog is the registry of pattern definitions, ordered by id
type Catalog struct {
	mu   sync.RWMutex
	defs map[int]*Definition
	ids  []int
}

// NewCatalog creates a catalog from the given definitions
func NewCatalog(defs ...*Definition) *Catalog {
	c := &Catalog{defs: make(map[int]*Definition)}
	for _, d := range defs {
		c.Register(d)
	}
	return c
}

// Default returns the catalog shipped with the lamp firmware
func Default() *Catalog {
	return NewCatalog(
		NewDefinition(0, "Cozy Fire", "fas fa-fire", VariantFor(0), []Color{"#ff4500", "#ff6500", "#ffbf00"}),
		NewDefinition(1, "Shooting Stars", "fas fa-meteor", VariantFor(1), []Color{"#8000ff", "#a000ff", "#c000ff"}),
		NewDefinition(2, "Rainbow Magic", "fas fa-rainbow", VariantFor(2), []Color{"#ff0000", "#ffff00", "#0000ff", "#00ff00"}),
		NewDefinition(3, "Gentle Fireflies", "fas fa-sparkles", VariantFor(3), []Color{"#ffd700", "#ffbf00", "#ff8c00"}),
		NewDefinition(4, "Field of Asters", "fas fa-seedling", VariantFor(4), []Color{"#8000ff", "#a000ff", "#ffd700"}),
		NewDefinition(5, "Ocean Waves", "fas fa-water", VariantFor(5), []Color{"#0000ff", "#0080ff", "#00ffff"}),
		NewDefinition(6, "Radioactive Kelp", "fas fa-leaf", VariantFor(6), []Color{"#00ff00", "#80ff00", "#40ff00"}),
		NewDefinition(7, "Mandarin Grove", "fas fa-tree", VariantFor(7), []Color{"#ff4500", "#ff6500", "#008000"}),
	)
}

// Register adds or replaces a definition
func (c *Catalog) Register(d *Definition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.defs[d.ID]; !exists {
		c.ids = append(c.ids, d.ID)
		sort.Ints(c.ids)
	}
	c.defs[d.ID] = d
}

// Unregister removes a definition. Unknown ids are ignored.
func (c *Catalog) Unregister(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.defs[id]; !exists {
		return
	}
	delete(c.defs, id)
	for i, v := range c.ids {
		if v == id {
			c.ids = append(c.ids[:i], c.ids[i+1:]...)
			break
		}
	}
}

// List returns snapshots of all patterns in id order
func (c *Catalog) List() []View {
	c.mu.RLock()
	defer c.mu.RUnlock()

	views := make([]View, 0, len(c.ids))
	for _, id := range c.ids {
		views = append(views, c.viewLocked(c.defs[id]))
	}
	return views
}

// Get returns a snapshot of one pattern
func (c *Catalog) Get(id int) (View, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.defs[id]
	if !ok {
		return View{}, false
	}
	return c.viewLocked(d), true
}

// Has reports whether a pattern id is registered
func (c *Catalog) Has(id int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.defs[id]
	return ok
}

// First returns the first pattern in id order
func (c *Catalog) First() (View, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.ids) == 0 {
		return View{}, false
	}
	return c.viewLocked(c.defs[c.ids[0]]), true
}

// Colors returns a copy of the working palette
func (c *Catalog) Colors(id int) ([]Color, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.defs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPattern, id)
	}
	return copyColors(d.colors), nil
}

// SetColors replaces the working palette of one pattern
func (c *Catalog) SetColors(id int, colors []Color) error {
	if len(colors) == 0 {
		return ErrEmptyPalette
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.defs[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPattern, id)
	}
	d.colors = copyColors(colors)
	return nil
}

// SetColor replaces a single palette slot
func (c *Catalog) SetColor(id, slot int, color Color) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.defs[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPattern, id)
	}
	if slot < 0 || slot >= len(d.colors) {
		return fmt.Errorf("palette slot %d out of range [0,%d)", slot, len(d.colors))
	}
	d.colors[slot] = color
	return nil
}

// ResetColors restores the working palette to the baseline
func (c *Catalog) ResetColors(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.defs[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPattern, id)
	}
	d.colors = copyColors(d.originalColors)
	return nil
}

func (c *Catalog) viewLocked(d *Definition) View {
	return View{
		ID:             d.ID,
		Name:           d.Name,
		Icon:           d.Icon,
		Variant:        d.Variant,
		Colors:         copyColors(d.colors),
		OriginalColors: copyColors(d.originalColors),
	}
}
