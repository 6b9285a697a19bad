// Package control holds the user-facing lamp settings.
package control

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dokzlo13/lampyd/internal/device"
	"github.com/dokzlo13/lampyd/internal/pattern"
)

// Value ranges
const (
	MinBrightness     = 0
	MaxBrightness     = 100
	DefaultBrightness = 75

	MinSpeed     = 1
	MaxSpeed     = 10
	DefaultSpeed = 5
)

var (
	// ErrUnknownDevice is returned when selecting a device that is not registered
	ErrUnknownDevice = errors.New("unknown device")
	// ErrNoPattern is returned for palette operations before a pattern is active
	ErrNoPattern = errors.New("no active pattern")
)

// ChangeKind describes what a mutation touched
type ChangeKind string

const (
	ChangePattern    ChangeKind = "pattern"
	ChangeBrightness ChangeKind = "brightness"
	ChangeSpeed      ChangeKind = "speed"
	ChangeColors     ChangeKind = "colors"
	ChangeDevice     ChangeKind = "device"
	ChangeAdopted    ChangeKind = "adopted" // state taken from the lamp or the offline fallback
)

// Pushes reports whether the change must be sent to the lamp
func (k ChangeKind) Pushes() bool {
	switch k {
	case ChangePattern, ChangeBrightness, ChangeSpeed, ChangeColors:
		return true
	}
	return false
}

// Listener is called after every mutation, outside the state lock
type Listener func(kind ChangeKind, snap Snapshot)

// Snapshot is a consistent copy of the control state
type Snapshot struct {
	Pattern    *pattern.View `json:"pattern"`
	Brightness int           `json:"brightness"`
	Speed      int           `json:"speed"`
	SpeedLabel string        `json:"speedLabel"`
	Device     *Device       `json:"device,omitempty"`
}

// State is the single writer for pattern, brightness, speed and device selection
type State struct {
	mu         sync.RWMutex
	catalog    *pattern.Catalog
	devices    *Registry
	patternID  int
	hasPattern bool
	brightness int
	speed      int
	selected   string

	listenersMu sync.RWMutex
	listeners   []Listener
}

// New creates a state with default brightness and speed, no active pattern
// and the first registered device selected
func New(catalog *pattern.Catalog, devices *Registry) *State {
	s := &State{
		catalog:    catalog,
		devices:    devices,
		brightness: DefaultBrightness,
		speed:      DefaultSpeed,
	}
	if d, ok := devices.First(); ok {
		s.selected = d.ID
	}
	return s
}

// OnChange registers a listener
func (s *State) OnChange(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *State) notify(kind ChangeKind) {
	s.listenersMu.RLock()
	listeners := s.listeners
	s.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}
	snap := s.Snapshot()
	for _, l := range listeners {
		l(kind, snap)
	}
}

// Catalog returns the pattern catalog backing this state
func (s *State) Catalog() *pattern.Catalog {
	return s.catalog
}

// Devices returns the device registry
func (s *State) Devices() *Registry {
	return s.devices
}

// SelectPattern makes a pattern current
func (s *State) SelectPattern(id int) error {
	if !s.catalog.Has(id) {
		return fmt.Errorf("%w: %d", pattern.ErrUnknownPattern, id)
	}

	s.mu.Lock()
	s.patternID = id
	s.hasPattern = true
	s.mu.Unlock()

	s.notify(ChangePattern)
	return nil
}

// SetBrightness sets brightness on the 0-100 scale and returns the stored value
func (s *State) SetBrightness(v int) int {
	v = clamp(v, MinBrightness, MaxBrightness)

	s.mu.Lock()
	s.brightness = v
	s.mu.Unlock()

	s.notify(ChangeBrightness)
	return v
}

// SetSpeed sets speed on the 1-10 scale and returns the stored value
func (s *State) SetSpeed(v int) int {
	v = clamp(v, MinSpeed, MaxSpeed)

	s.mu.Lock()
	s.speed = v
	s.mu.Unlock()

	s.notify(ChangeSpeed)
	return v
}

// SetColors replaces the palette of the current pattern
func (s *State) SetColors(colors []pattern.Color) error {
	id, ok := s.currentID()
	if !ok {
		return ErrNoPattern
	}
	if err := s.catalog.SetColors(id, colors); err != nil {
		return err
	}
	s.notify(ChangeColors)
	return nil
}

// SetColor replaces one slot of the current pattern's palette
func (s *State) SetColor(slot int, color pattern.Color) error {
	id, ok := s.currentID()
	if !ok {
		return ErrNoPattern
	}
	if err := s.catalog.SetColor(id, slot, color); err != nil {
		return err
	}
	s.notify(ChangeColors)
	return nil
}

// ResetColors restores the current pattern's palette to its baseline
func (s *State) ResetColors() error {
	id, ok := s.currentID()
	if !ok {
		return ErrNoPattern
	}
	if err := s.catalog.ResetColors(id); err != nil {
		return err
	}
	s.notify(ChangeColors)
	return nil
}

// SelectDevice changes the target device
func (s *State) SelectDevice(id string) error {
	if _, ok := s.devices.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}

	s.mu.Lock()
	s.selected = id
	s.mu.Unlock()

	s.notify(ChangeDevice)
	return nil
}

// Adopt applies the status reported by the lamp. An unknown pattern id
// falls back to the first catalog entry; a missing speed becomes the default.
func (s *State) Adopt(status device.Status) {
	id, ok := status.CurrentPattern, s.catalog.Has(status.CurrentPattern)
	if !ok {
		first, found := s.catalog.First()
		id, ok = first.ID, found
	}

	speed := DefaultSpeed
	if status.Speed != nil && *status.Speed != 0 {
		speed = clamp(*status.Speed, MinSpeed, MaxSpeed)
	}

	s.mu.Lock()
	s.patternID = id
	s.hasPattern = ok
	s.brightness = device.FromDeviceBrightness(status.Brightness)
	s.speed = speed
	s.mu.Unlock()

	s.notify(ChangeAdopted)
}

// UseFallback activates the first catalog pattern, leaving brightness and speed untouched
func (s *State) UseFallback() {
	first, ok := s.catalog.First()

	s.mu.Lock()
	s.patternID = first.ID
	s.hasPattern = ok
	s.mu.Unlock()

	s.notify(ChangeAdopted)
}

// Current returns the active pattern
func (s *State) Current() (pattern.View, bool) {
	id, ok := s.currentID()
	if !ok {
		return pattern.View{}, false
	}
	return s.catalog.Get(id)
}

// Brightness returns brightness on the 0-100 scale
func (s *State) Brightness() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.brightness
}

// Speed returns speed on the 1-10 scale
func (s *State) Speed() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speed
}

// SelectedDevice returns the selected device
func (s *State) SelectedDevice() (Device, bool) {
	s.mu.RLock()
	id := s.selected
	s.mu.RUnlock()

	if id == "" {
		return Device{}, false
	}
	return s.devices.Get(id)
}

// Snapshot returns a copy of the whole state
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	brightness, speed := s.brightness, s.speed
	s.mu.RUnlock()

	snap := Snapshot{
		Brightness: brightness,
		Speed:      speed,
		SpeedLabel: SpeedLabel(speed),
	}
	if p, ok := s.Current(); ok {
		snap.Pattern = &p
	}
	if d, ok := s.SelectedDevice(); ok {
		snap.Device = &d
	}
	return snap
}

// Settings builds the payload for the lamp's update endpoint.
// Returns false when no pattern is active.
func (s *State) Settings(now time.Time) (device.Settings, bool) {
	snap := s.Snapshot()
	if snap.Pattern == nil {
		return device.Settings{}, false
	}

	colors := make([]string, len(snap.Pattern.Colors))
	for i, c := range snap.Pattern.Colors {
		colors[i] = c.String()
	}

	settings := device.Settings{
		Pattern:    snap.Pattern.ID,
		Brightness: device.ToDeviceBrightness(snap.Brightness),
		Speed:      snap.Speed,
		Colors:     colors,
		Timestamp:  now.UnixMilli(),
	}
	if snap.Device != nil {
		id := snap.Device.ID
		settings.DeviceID = &id
	}
	return settings, true
}

func (s *State) currentID() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.patternID, s.hasPattern
}

// SpeedLabel describes a speed value
func SpeedLabel(speed int) string {
	switch {
	case speed <= 3:
		return "Slow"
	case speed <= 6:
		return "Medium"
	default:
		return "Fast"
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
