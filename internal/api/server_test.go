package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dokzlo13/lampyd/internal/control"
	"github.com/dokzlo13/lampyd/internal/device"
	"github.com/dokzlo13/lampyd/internal/devicesync"
	"github.com/dokzlo13/lampyd/internal/ledger"
	"github.com/dokzlo13/lampyd/internal/pattern"
	"github.com/dokzlo13/lampyd/internal/render"
)

type fakeSync struct {
	found int
	err   error
	scan  string
	calls int
}

func (f *fakeSync) Status() devicesync.Status {
	return devicesync.Status{State: devicesync.StateOffline, Text: "Offline", ScanStatus: f.scan}
}

func (f *fakeSync) Discover(ctx context.Context) (int, error) {
	f.calls++
	if f.err != nil {
		f.scan = "Scan failed"
		return 0, f.err
	}
	f.scan = "Found devices"
	return f.found, nil
}

type fakeHistory struct {
	limit   int
	entries []*ledger.Entry
}

func (f *fakeHistory) Recent(limit int) ([]*ledger.Entry, error) {
	f.limit = limit
	return f.entries, nil
}

func (f *fakeHistory) GetByCorrelation(id string) ([]*ledger.Entry, error) {
	var out []*ledger.Entry
	for _, e := range f.entries {
		if e.CorrelationID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeFrames struct{ frame render.Frame }

func (f fakeFrames) Frame() render.Frame { return f.frame }

type fixture struct {
	state   *control.State
	sync    *fakeSync
	history *fakeHistory
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := control.NewRegistry([]control.Device{
		{ID: "lampy-001", Name: "Living Room", Transport: device.TransportWiFi},
		{ID: "lampy-002", Name: "Bedroom", Transport: device.TransportBLE},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		state:   control.New(pattern.Default(), reg),
		sync:    &fakeSync{},
		history: &fakeHistory{},
	}
	g := render.NewGenerator(4, nil)
	p, _ := pattern.Default().Get(0)
	frames := fakeFrames{frame: g.Render(&p, 0, 5, 100)}

	srv := NewServer("127.0.0.1", 0, Deps{
		State:   f.state,
		Sync:    f.sync,
		History: f.history,
		Frames:  frames,
	})
	f.handler = srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealthAndReady(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("/health = %d", rec.Code)
	}

	ready := false
	srv := NewServer("", 0, Deps{State: f.state, Sync: f.sync, Ready: func() bool { return ready }})
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/ready before start = %d, want 503", rec.Code)
	}

	ready = true
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/ready after start = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("/metrics disabled = %d, want 404", rec.Code)
	}
}

func TestSelectPattern(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"valid", `{"id":3}`, http.StatusOK},
		{"unknown", `{"id":42}`, http.StatusNotFound},
		{"missing id", `{}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(t, http.MethodPost, "/api/pattern", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var resp struct {
				Pattern    *pattern.View     `json:"pattern"`
				Connection devicesync.Status `json:"connection"`
			}
			decodeBody(t, rec, &resp)
			if resp.Pattern == nil || resp.Pattern.ID != 3 {
				t.Errorf("pattern = %+v", resp.Pattern)
			}
			if resp.Connection.Text != "Offline" {
				t.Errorf("connection text = %q", resp.Connection.Text)
			}
		})
	}
}

func TestBrightnessAndSpeedClamp(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/brightness", `{"value":150}`)
	var b map[string]int
	decodeBody(t, rec, &b)
	if rec.Code != http.StatusOK || b["brightness"] != 100 {
		t.Errorf("brightness = %d %v", rec.Code, b)
	}

	rec = f.do(t, http.MethodPut, "/api/speed", `{"value":0}`)
	var s struct {
		Speed int    `json:"speed"`
		Label string `json:"label"`
	}
	decodeBody(t, rec, &s)
	if s.Speed != 1 || s.Label != "Slow" {
		t.Errorf("speed = %+v", s)
	}

	if rec := f.do(t, http.MethodPut, "/api/speed", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing value = %d, want 400", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/brightness", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET brightness = %d, want 405", rec.Code)
	}
}

func TestColors(t *testing.T) {
	f := newFixture(t)

	if rec := f.do(t, http.MethodPut, "/api/colors", `{"colors":["#ffffff"]}`); rec.Code != http.StatusConflict {
		t.Errorf("colors without pattern = %d, want 409", rec.Code)
	}

	f.state.SelectPattern(0)

	rec := f.do(t, http.MethodPut, "/api/colors", `{"colors":["#112233","#445566"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set colors = %d (%s)", rec.Code, rec.Body.String())
	}
	var v pattern.View
	decodeBody(t, rec, &v)
	if len(v.Colors) != 2 || v.Colors[0] != "#112233" {
		t.Errorf("colors = %v", v.Colors)
	}

	rec = f.do(t, http.MethodPut, "/api/colors", `{"slot":1,"color":"#abcdef"}`)
	decodeBody(t, rec, &v)
	if rec.Code != http.StatusOK || v.Colors[1] != "#abcdef" {
		t.Errorf("slot edit = %d %v", rec.Code, v.Colors)
	}

	if rec := f.do(t, http.MethodPut, "/api/colors", `{"slot":0,"color":"teal"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad color = %d, want 400", rec.Code)
	}
	if rec := f.do(t, http.MethodPut, "/api/colors", `{"colors":[]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty palette = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/colors/reset", "")
	decodeBody(t, rec, &v)
	if rec.Code != http.StatusOK || len(v.Colors) != len(v.OriginalColors) {
		t.Errorf("reset = %d %v", rec.Code, v.Colors)
	}
}

func TestDevices(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/devices", "")
	var list struct {
		Devices  []control.Device `json:"devices"`
		Selected string           `json:"selected"`
	}
	decodeBody(t, rec, &list)
	if len(list.Devices) != 2 || list.Selected != "lampy-001" {
		t.Errorf("devices = %+v", list)
	}

	if rec := f.do(t, http.MethodPost, "/api/devices/select", `{"id":"lampy-002"}`); rec.Code != http.StatusOK {
		t.Errorf("select = %d", rec.Code)
	}
	if d, _ := f.state.SelectedDevice(); d.ID != "lampy-002" {
		t.Errorf("selected = %s", d.ID)
	}
	if rec := f.do(t, http.MethodPost, "/api/devices/select", `{"id":"ghost"}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown device = %d, want 404", rec.Code)
	}
}

func TestDiscover(t *testing.T) {
	f := newFixture(t)
	f.sync.found = 2

	rec := f.do(t, http.MethodPost, "/api/discover", "")
	var resp struct {
		Found  int    `json:"found"`
		Status string `json:"status"`
	}
	decodeBody(t, rec, &resp)
	if rec.Code != http.StatusOK || resp.Found != 2 || resp.Status != "Found devices" {
		t.Errorf("discover = %d %+v", rec.Code, resp)
	}

	f.sync.err = errors.New("unreachable")
	rec = f.do(t, http.MethodPost, "/api/discover", "")
	decodeBody(t, rec, &resp)
	if rec.Code != http.StatusBadGateway || resp.Status != "Scan failed" {
		t.Errorf("failed discover = %d %+v", rec.Code, resp)
	}
}

func TestFrame(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/frame?layout=mobile", "")
	var resp struct {
		HasPattern bool `json:"hasPattern"`
		Pixels     []struct {
			Hex      string       `json:"hex"`
			Position render.Point `json:"position"`
		} `json:"pixels"`
	}
	decodeBody(t, rec, &resp)
	if rec.Code != http.StatusOK || !resp.HasPattern || len(resp.Pixels) != 4 {
		t.Fatalf("frame = %d %+v", rec.Code, resp)
	}
	if resp.Pixels[3].Position.Y != render.MobileLayout.Height {
		t.Errorf("last pixel y = %v, want %v", resp.Pixels[3].Position.Y, render.MobileLayout.Height)
	}
	if !strings.HasPrefix(resp.Pixels[0].Hex, "#") {
		t.Errorf("hex = %q", resp.Pixels[0].Hex)
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	f.history.entries = []*ledger.Entry{{ID: 1, EventType: ledger.EventPushSent}}

	rec := f.do(t, http.MethodGet, "/api/history", "")
	var entries []ledger.Entry
	decodeBody(t, rec, &entries)
	if rec.Code != http.StatusOK || len(entries) != 1 || f.history.limit != defaultHistoryLimit {
		t.Errorf("history = %d %v limit %d", rec.Code, entries, f.history.limit)
	}

	f.do(t, http.MethodGet, "/api/history?limit=9999", "")
	if f.history.limit != maxHistoryLimit {
		t.Errorf("limit = %d, want %d", f.history.limit, maxHistoryLimit)
	}

	if rec := f.do(t, http.MethodGet, "/api/history?limit=abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", rec.Code)
	}
}

func TestHistory_ByCorrelation(t *testing.T) {
	f := newFixture(t)
	f.history.entries = []*ledger.Entry{
		{ID: 1, EventType: ledger.EventPushSent, CorrelationID: "push-a"},
		{ID: 2, EventType: ledger.EventPushFailed, CorrelationID: "push-b"},
	}

	var entries []ledger.Entry
	rec := f.do(t, http.MethodGet, "/api/history?correlation=push-b", "")
	decodeBody(t, rec, &entries)
	if rec.Code != http.StatusOK || len(entries) != 1 || entries[0].ID != 2 {
		t.Errorf("history = %d %+v", rec.Code, entries)
	}

	entries = nil
	decodeBody(t, f.do(t, http.MethodGet, "/api/history?correlation=missing", ""), &entries)
	if entries == nil || len(entries) != 0 {
		t.Errorf("unknown correlation = %v, want empty list", entries)
	}
}

func TestPatternsAndPalette(t *testing.T) {
	f := newFixture(t)

	var patterns []pattern.View
	decodeBody(t, f.do(t, http.MethodGet, "/api/patterns", ""), &patterns)
	if len(patterns) != 8 {
		t.Errorf("patterns = %d, want 8", len(patterns))
	}

	var palette []pattern.NamedColor
	decodeBody(t, f.do(t, http.MethodGet, "/api/palette", ""), &palette)
	if len(palette) != len(pattern.NeoPixelPalette) {
		t.Errorf("palette = %d entries", len(palette))
	}
}
