package control

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lampyd/internal/config"
	"github.com/dokzlo13/lampyd/internal/device"
)

// Device is a lamp the controller can address
type Device struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Transport device.Transport `json:"type"`
	Address   string           `json:"address"`
}

// FromDescriptor converts a discovery result into a registry entry
func FromDescriptor(d device.Descriptor) Device {
	name := d.Name
	if name == "" {
		name = d.ID
	}
	return Device{
		ID:        d.ID,
		Name:      name,
		Transport: d.Type,
		Address:   d.Address(),
	}
}

// FromSeeds converts configured devices into registry entries
func FromSeeds(seeds []config.DeviceSeed) []Device {
	out := make([]Device, 0, len(seeds))
	for _, s := range seeds {
		out = append(out, Device{
			ID:        s.ID,
			Name:      s.Name,
			Transport: device.Transport(s.Transport),
			Address:   s.Address,
		})
	}
	return out
}

// DeviceStore persists discovered devices across restarts
type DeviceStore interface {
	LoadDevices() ([]Device, error)
	UpsertDevice(d Device) error
}

// Registry is the list of known devices keyed by id, in first-seen order
type Registry struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]Device
	store DeviceStore
}

// NewRegistry creates a registry from the seed list followed by any
// previously persisted devices. store may be nil.
func NewRegistry(seed []Device, store DeviceStore) (*Registry, error) {
	r := &Registry{
		byID:  make(map[string]Device),
		store: store,
	}
	for _, d := range seed {
		r.put(d)
	}

	if store != nil {
		persisted, err := store.LoadDevices()
		if err != nil {
			return nil, err
		}
		for _, d := range persisted {
			r.put(d)
		}
	}
	return r, nil
}

func (r *Registry) put(d Device) bool {
	_, exists := r.byID[d.ID]
	if !exists {
		r.order = append(r.order, d.ID)
	}
	r.byID[d.ID] = d
	return !exists
}

// Upsert adds or refreshes devices by id and returns how many were new.
// Persistence failures are logged, the in-memory list is still updated.
func (r *Registry) Upsert(devices ...Device) int {
	r.mu.Lock()
	added := 0
	for _, d := range devices {
		if d.ID == "" {
			continue
		}
		if r.put(d) {
			added++
		}
	}
	store := r.store
	r.mu.Unlock()

	if store != nil {
		for _, d := range devices {
			if d.ID == "" {
				continue
			}
			if err := store.UpsertDevice(d); err != nil {
				log.Warn().Err(err).Str("device", d.ID).Msg("Failed to persist device")
			}
		}
	}
	return added
}

// List returns all devices in first-seen order
func (r *Registry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Get returns a device by id
func (r *Registry) Get(id string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// First returns the first known device
func (r *Registry) First() (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return Device{}, false
	}
	return r.byID[r.order[0]], true
}

// Len returns the number of known devices
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
