// Package storage persists the device registry.
package storage

import (
	"database/sql"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lampyd/internal/control"
	"github.com/dokzlo13/lampyd/internal/device"
)

// DeviceStore keeps discovered devices in the devices table, keyed by id
type DeviceStore struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// NewDeviceStore creates a sqlite-backed device store
func NewDeviceStore(db *sql.DB) *DeviceStore {
	return &DeviceStore{db: db, now: time.Now}
}

// LoadDevices returns all stored devices, oldest first
func (s *DeviceStore) LoadDevices() ([]control.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, name, transport, address FROM devices
		ORDER BY first_seen ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []control.Device
	for rows.Next() {
		var d control.Device
		var transport string
		if err := rows.Scan(&d.ID, &d.Name, &transport, &d.Address); err != nil {
			return nil, err
		}
		d.Transport = device.Transport(transport)
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// UpsertDevice inserts a device or refreshes its name, transport and address
func (s *DeviceStore) UpsertDevice(d control.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC().UnixMilli()
	_, err := s.db.Exec(`
		INSERT INTO devices (id, name, transport, address, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			transport = excluded.transport,
			address = excluded.address,
			last_seen = excluded.last_seen
	`, d.ID, d.Name, string(d.Transport), d.Address, now, now)

	if err == nil {
		log.Debug().Str("device", d.ID).Str("name", d.Name).Msg("Device stored")
	}
	return err
}

// LastSeen returns when a device was last reported by discovery
func (s *DeviceStore) LastSeen(id string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ms int64
	err := s.db.QueryRow(`SELECT last_seen FROM devices WHERE id = ?`, id).Scan(&ms)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

// Delete removes a device
func (s *DeviceStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM devices WHERE id = ?`, id)
	return err
}

// MemoryDeviceStore is a non-persistent DeviceStore used when no database is configured
type MemoryDeviceStore struct {
	mu      sync.RWMutex
	order   []string
	devices map[string]control.Device
}

// NewMemoryDeviceStore creates an empty in-memory store
func NewMemoryDeviceStore() *MemoryDeviceStore {
	return &MemoryDeviceStore{devices: make(map[string]control.Device)}
}

// LoadDevices returns all stored devices in insertion order
func (m *MemoryDeviceStore) LoadDevices() ([]control.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]control.Device, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.devices[id])
	}
	return out, nil
}

// UpsertDevice stores a device by id
func (m *MemoryDeviceStore) UpsertDevice(d control.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.devices[d.ID]; !ok {
		m.order = append(m.order, d.ID)
	}
	m.devices[d.ID] = d
	return nil
}
