package control

import (
	"errors"
	"testing"

	"github.com/dokzlo13/lampyd/internal/config"
	"github.com/dokzlo13/lampyd/internal/device"
)

type memStore struct {
	devices []Device
	loadErr error
	saved   []Device
}

func (m *memStore) LoadDevices() ([]Device, error) { return m.devices, m.loadErr }
func (m *memStore) UpsertDevice(d Device) error {
	m.saved = append(m.saved, d)
	return nil
}

func TestRegistry_UpsertByID(t *testing.T) {
	reg, err := NewRegistry(seedDevices(), nil)
	if err != nil {
		t.Fatal(err)
	}

	added := reg.Upsert(
		Device{ID: "lampy-002", Name: "Bedroom renamed", Transport: device.TransportBLE, Address: "-60 dBm"},
		Device{ID: "lampy-009", Name: "Garage", Transport: device.TransportWiFi, Address: "10.0.0.9"},
		Device{ID: "", Name: "no id"},
	)
	if added != 1 {
		t.Errorf("added = %d, want 1", added)
	}

	// a repeated scan does not grow the list
	reg.Upsert(Device{ID: "lampy-009", Name: "Garage", Transport: device.TransportWiFi, Address: "10.0.0.9"})

	list := reg.List()
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	wantOrder := []string{"lampy-001", "lampy-002", "lampy-009"}
	for i, id := range wantOrder {
		if list[i].ID != id {
			t.Errorf("list[%d] = %s, want %s", i, list[i].ID, id)
		}
	}
	if d, _ := reg.Get("lampy-002"); d.Name != "Bedroom renamed" {
		t.Errorf("lampy-002 not refreshed: %+v", d)
	}
}

func TestRegistry_Store(t *testing.T) {
	store := &memStore{devices: []Device{{ID: "lampy-100", Name: "Persisted"}}}
	reg, err := NewRegistry(seedDevices(), store)
	if err != nil {
		t.Fatal(err)
	}
	if reg.Len() != 3 {
		t.Errorf("Len() = %d, want 3", reg.Len())
	}

	reg.Upsert(Device{ID: "lampy-101", Name: "New"})
	if len(store.saved) != 1 || store.saved[0].ID != "lampy-101" {
		t.Errorf("saved = %+v", store.saved)
	}
}

func TestRegistry_StoreLoadError(t *testing.T) {
	boom := errors.New("boom")
	if _, err := NewRegistry(nil, &memStore{loadErr: boom}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestFromDescriptor(t *testing.T) {
	rssi := -70
	d := FromDescriptor(device.Descriptor{ID: "x", Type: device.TransportBLE, RSSI: &rssi})
	if d.Name != "x" || d.Address != "-70 dBm" || d.Transport != device.TransportBLE {
		t.Errorf("FromDescriptor = %+v", d)
	}
}

func TestFromSeeds(t *testing.T) {
	got := FromSeeds(config.Default().Devices)
	if len(got) != 3 || got[1].Transport != device.TransportBLE {
		t.Errorf("FromSeeds = %+v", got)
	}
}
