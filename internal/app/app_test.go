package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/lampyd/internal/config"
	"github.com/dokzlo13/lampyd/internal/control"
	"github.com/dokzlo13/lampyd/internal/device"
	"github.com/dokzlo13/lampyd/internal/devicesync"
	"github.com/dokzlo13/lampyd/internal/ledger"
	"github.com/dokzlo13/lampyd/internal/pattern"
)

type lamp struct {
	mu      sync.Mutex
	updates []device.Settings
}

func (l *lamp) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case device.PathStatus:
		w.Write([]byte(`{"currentPattern":2,"brightness":191,"speed":7}`))
	case device.PathUpdate:
		var s device.Settings
		json.NewDecoder(r.Body).Decode(&s)
		l.mu.Lock()
		l.updates = append(l.updates, s)
		l.mu.Unlock()
	case device.PathDiscover:
		w.Write([]byte(`[{"id":"lampy-009","name":"Lampy Attic","type":"WiFi","ip":"192.168.1.109"}]`))
	default:
		http.NotFound(w, r)
	}
}

func (l *lamp) pushed() []device.Settings {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]device.Settings(nil), l.updates...)
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "lampyd.sqlite")
	cfg.Device.BaseURL = baseURL
	cfg.Device.PushDebounce = config.Duration(20 * time.Millisecond)
	cfg.Device.ProbeInterval = config.Duration(time.Hour)
	cfg.Render.Pixels = 12
	cfg.Render.Seed = 1
	return cfg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestServices_AdoptRenderPush(t *testing.T) {
	l := &lamp{}
	srv := httptest.NewServer(l)
	defer srv.Close()

	s, err := NewServices(testConfig(t, srv.URL))
	if err != nil {
		t.Fatalf("NewServices() error = %v", err)
	}
	defer s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx, false); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	p, ok := s.State.Current()
	if !ok || p.ID != 2 || s.State.Brightness() != 75 || s.State.Speed() != 7 {
		t.Fatalf("adopted pattern %d brightness %d speed %d", p.ID, s.State.Brightness(), s.State.Speed())
	}
	if len(l.pushed()) != 0 {
		t.Error("adopting the lamp's settings should not push")
	}

	now := time.Now()
	s.Render.Tick(now)
	s.Render.Tick(now.Add(500 * time.Millisecond))
	frame := s.Render.Frame()
	if !frame.HasPattern || frame.PatternID != 2 || len(frame.Pixels) != 12 || frame.ElapsedMs != 500 {
		t.Errorf("frame = pattern %d has %v pixels %d elapsed %v", frame.PatternID, frame.HasPattern, len(frame.Pixels), frame.ElapsedMs)
	}

	s.State.SetBrightness(50)
	waitFor(t, func() bool { return len(l.pushed()) == 1 })
	if got := l.pushed()[0]; got.Brightness != 127 || got.Pattern != 2 || got.Speed != 7 {
		t.Errorf("pushed %+v", got)
	}

	waitFor(t, func() bool {
		entries, _ := s.Ledger.GetByType(ledger.EventPushSent, 10)
		return len(entries) == 1
	})
}

func TestServices_StartWithUnreachableBroker(t *testing.T) {
	srv := httptest.NewServer(&lamp{})
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.MQTT.Enabled = true
	cfg.MQTT.Broker = "tcp://127.0.0.1:1"

	s, err := NewServices(cfg)
	if err != nil {
		t.Fatalf("NewServices() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan error, 1)
	go func() { started <- s.Start(ctx, true) }()

	select {
	case err := <-started:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start() blocked on the MQTT broker")
	}

	if got := s.Device.Channel.Status().State; got != devicesync.StateConnected {
		t.Errorf("connection state = %s, want %s", got, devicesync.StateConnected)
	}
	if p, ok := s.State.Current(); !ok || p.ID != 2 {
		t.Errorf("initial pull not adopted: pattern %+v, %v", p, ok)
	}
	if s.Events.Bridge.Connected() {
		t.Error("bridge reports a connection to an unreachable broker")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop() blocked while the bridge was still connecting")
	}
}

func TestServices_DiscoveredDevicesPersist(t *testing.T) {
	srv := httptest.NewServer(&lamp{})
	defer srv.Close()

	cfg := testConfig(t, srv.URL)

	s, err := NewServices(cfg)
	if err != nil {
		t.Fatal(err)
	}
	seeded := s.State.Devices().Len()
	if _, err := s.Device.Channel.Discover(context.Background()); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	s.Stop()

	s2, err := NewServices(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Stop()

	if got := s2.State.Devices().Len(); got != seeded+1 {
		t.Errorf("devices after restart = %d, want %d", got, seeded+1)
	}
	if d, ok := s2.State.Devices().Get("lampy-009"); !ok || d.Address != "192.168.1.109" {
		t.Errorf("restored device = %+v, %v", d, ok)
	}
}

func TestRenderService_NoPattern(t *testing.T) {
	reg, err := control.NewRegistry(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	state := control.New(pattern.Default(), reg)

	r := NewRenderService(config.RenderConfig{Pixels: 8, FPS: 30, Seed: 7}, state, nil)
	r.Tick(time.Now())

	frame := r.Frame()
	if frame.HasPattern || len(frame.Pixels) != 8 || frame.ElapsedMs != 0 {
		t.Errorf("frame = %+v", frame)
	}
	if r.Clock.Frames() != 1 {
		t.Errorf("frames = %d, want 1", r.Clock.Frames())
	}
}
