package device

import (
	"encoding/json"
	"fmt"
	"math"
)

// Status is the lamp's reported state from GET /status
type Status struct {
	CurrentPattern int  `json:"currentPattern"`
	Brightness     int  `json:"brightness"` // 0-255
	Speed          *int `json:"speed,omitempty"`
}

// Settings is the payload of POST /update
type Settings struct {
	Pattern    int      `json:"pattern"`
	Brightness int      `json:"brightness"` // 0-255
	Speed      int      `json:"speed"`
	Colors     []string `json:"colors"`
	DeviceID   *string  `json:"deviceId,omitempty"`
	Timestamp  int64    `json:"timestamp"` // client time, unix milliseconds
}

// Transport is how a lamp is reached
type Transport string

const (
	TransportWiFi Transport = "WiFi"
	TransportBLE  Transport = "BLE"
)

// Descriptor is a lamp entry returned by POST /discover
type Descriptor struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	Type Transport `json:"type"`
	IP   string    `json:"ip,omitempty"`
	RSSI *int      `json:"rssi,omitempty"`
}

// Address returns the IP for WiFi lamps or a signal strength for BLE ones
func (d Descriptor) Address() string {
	if d.IP != "" {
		return d.IP
	}
	if d.RSSI != nil {
		return fmt.Sprintf("%d dBm", *d.RSSI)
	}
	return ""
}

// UnmarshalJSON accepts ids sent as numbers by older firmware
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	type plain Descriptor
	var raw struct {
		plain
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = Descriptor(raw.plain)

	if len(raw.ID) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.ID, &s); err == nil {
		d.ID = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw.ID, &n); err != nil {
		return fmt.Errorf("invalid device id %s", string(raw.ID))
	}
	d.ID = n.String()
	return nil
}

// ToDeviceBrightness converts a 0-100 UI brightness to the 0-255 device scale
func ToDeviceBrightness(ui int) int {
	ui = clamp(ui, 0, 100)
	return int(math.Floor(float64(ui) * 2.55))
}

// FromDeviceBrightness converts a 0-255 device brightness to the 0-100 UI scale
func FromDeviceBrightness(raw int) int {
	raw = clamp(raw, 0, 255)
	return int(math.Round(float64(raw) / 255 * 100))
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
