package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "log:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Device.BaseURL != "http://lampy.local/api" {
		t.Errorf("Device.BaseURL = %q", cfg.Device.BaseURL)
	}
	if got := cfg.Device.ProbeInterval.Duration(); got != 10*time.Second {
		t.Errorf("ProbeInterval = %v, want 10s", got)
	}
	if got := cfg.Device.ProbeTimeout.Duration(); got != 3*time.Second {
		t.Errorf("ProbeTimeout = %v, want 3s", got)
	}
	if got := cfg.Device.PushDebounce.Duration(); got != 100*time.Millisecond {
		t.Errorf("PushDebounce = %v, want 100ms", got)
	}
	if got := cfg.Scripts.SampleTimeout.Duration(); got != 20*time.Millisecond {
		t.Errorf("Scripts.SampleTimeout = %v, want 20ms", got)
	}
	if cfg.Render.Pixels != 72 {
		t.Errorf("Render.Pixels = %d, want 72", cfg.Render.Pixels)
	}
	if len(cfg.Devices) != 3 {
		t.Errorf("len(Devices) = %d, want 3 seeded devices", len(cfg.Devices))
	}
}

func TestLoad_Overrides(t *testing.T) {
	body := `
device:
  base_url: http://10.0.0.5/api/
  probe_interval: 2s
  push_debounce: 50ms
render:
  pixels: 144
devices:
  - id: lamp-a
    name: Desk
    transport: WiFi
    address: 10.0.0.5
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.BaseURL != "http://10.0.0.5/api" {
		t.Errorf("BaseURL = %q, trailing slash should be trimmed", cfg.Device.BaseURL)
	}
	if got := cfg.Device.ProbeInterval.Duration(); got != 2*time.Second {
		t.Errorf("ProbeInterval = %v, want 2s", got)
	}
	if got := cfg.Device.PushDebounce.Duration(); got != 50*time.Millisecond {
		t.Errorf("PushDebounce = %v, want 50ms", got)
	}
	if cfg.Render.Pixels != 144 {
		t.Errorf("Pixels = %d, want 144", cfg.Render.Pixels)
	}
	if len(cfg.Devices) != 1 || cfg.Devices[0].ID != "lamp-a" {
		t.Errorf("Devices = %+v, want single lamp-a", cfg.Devices)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("LAMPY_TEST_URL", "http://lamp.test/api")
	body := "device:\n  base_url: ${LAMPY_TEST_URL}\nmqtt:\n  broker: ${LAMPY_TEST_BROKER:tcp://localhost:1883}\n"

	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Device.BaseURL != "http://lamp.test/api" {
		t.Errorf("BaseURL = %q", cfg.Device.BaseURL)
	}
	if cfg.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("Broker = %q, want default value", cfg.MQTT.Broker)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	if _, err := Load(writeConfig(t, "device:\n  probe_timeout: soon\n")); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, found, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if found {
		t.Error("found = true for missing file")
	}
	if cfg.Device.BaseURL == "" {
		t.Error("defaults were not applied")
	}
}
