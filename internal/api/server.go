// Package api serves the HTTP control surface: live settings, device
// selection and discovery, the rendered frame, sync history, health and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lampyd/internal/control"
	"github.com/dokzlo13/lampyd/internal/devicesync"
	"github.com/dokzlo13/lampyd/internal/ledger"
	"github.com/dokzlo13/lampyd/internal/metrics"
	"github.com/dokzlo13/lampyd/internal/pattern"
	"github.com/dokzlo13/lampyd/internal/render"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	maxBodyBytes        = 64 << 10
)

// Sync is the device channel as seen by the API
type Sync interface {
	Status() devicesync.Status
	Discover(ctx context.Context) (int, error)
}

// History serves recent sync events
type History interface {
	Recent(limit int) ([]*ledger.Entry, error)
	GetByCorrelation(correlationID string) ([]*ledger.Entry, error)
}

// FrameSource provides the most recently rendered frame
type FrameSource interface {
	Frame() render.Frame
}

// Deps are the collaborators behind the routes. History, Frames and Ready may be nil.
type Deps struct {
	State   *control.State
	Sync    Sync
	History History
	Frames  FrameSource
	Metrics bool
	Ready   func() bool
}

// Server is the control API HTTP server
type Server struct {
	addr       string
	deps       Deps
	httpServer *http.Server
}

// NewServer creates a new API server
func NewServer(host string, port int, deps Deps) *Server {
	return &Server{
		addr: fmt.Sprintf("%s:%d", host, port),
		deps: deps,
	}
}

// Handler returns the route multiplexer
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	if s.deps.Metrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/patterns", s.handlePatterns)
	mux.HandleFunc("GET /api/palette", s.handlePalette)
	mux.HandleFunc("POST /api/pattern", s.handleSelectPattern)
	mux.HandleFunc("PUT /api/brightness", s.handleBrightness)
	mux.HandleFunc("PUT /api/speed", s.handleSpeed)
	mux.HandleFunc("PUT /api/colors", s.handleColors)
	mux.HandleFunc("POST /api/colors/reset", s.handleResetColors)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("POST /api/devices/select", s.handleSelectDevice)
	mux.HandleFunc("POST /api/discover", s.handleDiscover)
	mux.HandleFunc("GET /api/frame", s.handleFrame)
	mux.HandleFunc("GET /api/history", s.handleHistory)

	return mux
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting control API server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Control API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil && !s.deps.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type stateResponse struct {
	control.Snapshot
	Connection devicesync.Status `json:"connection"`
}

func (s *Server) stateResponse() stateResponse {
	return stateResponse{
		Snapshot:   s.deps.State.Snapshot(),
		Connection: s.deps.Sync.Status(),
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stateResponse())
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.State.Catalog().List())
}

func (s *Server) handlePalette(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, pattern.NeoPixelPalette)
}

func (s *Server) handleSelectPattern(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID *int `json:"id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.ID == nil {
		writeError(w, http.StatusBadRequest, errors.New("id is required"))
		return
	}
	if err := s.deps.State.SelectPattern(*req.ID); err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.stateResponse())
}

type valueRequest struct {
	Value *int `json:"value"`
}

func (s *Server) handleBrightness(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, errors.New("value is required"))
		return
	}
	v := s.deps.State.SetBrightness(*req.Value)
	writeJSON(w, http.StatusOK, map[string]int{"brightness": v})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, errors.New("value is required"))
		return
	}
	v := s.deps.State.SetSpeed(*req.Value)
	writeJSON(w, http.StatusOK, map[string]any{"speed": v, "label": control.SpeedLabel(v)})
}

// handleColors accepts either a full palette or a single slot edit
func (s *Server) handleColors(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Colors []string `json:"colors"`
		Slot   *int     `json:"slot"`
		Color  string   `json:"color"`
	}
	if !decode(w, r, &req) {
		return
	}

	var err error
	switch {
	case req.Slot != nil:
		var c pattern.Color
		c, err = pattern.ParseColor(req.Color)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		err = s.deps.State.SetColor(*req.Slot, c)
	default:
		var colors []pattern.Color
		colors, err = pattern.ParseColors(req.Colors)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		err = s.deps.State.SetColors(colors)
	}
	if err != nil {
		writeControlError(w, err)
		return
	}

	p, _ := s.deps.State.Current()
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleResetColors(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.State.ResetColors(); err != nil {
		writeControlError(w, err)
		return
	}
	p, _ := s.deps.State.Current()
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Devices  []control.Device `json:"devices"`
		Selected string           `json:"selected,omitempty"`
	}{
		Devices: s.deps.State.Devices().List(),
	}
	if d, ok := s.deps.State.SelectedDevice(); ok {
		resp.Selected = d.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSelectDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.deps.State.SelectDevice(req.ID); err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.stateResponse())
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	found, err := s.deps.Sync.Discover(r.Context())
	status := s.deps.Sync.Status().ScanStatus
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"status": status, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"found":   found,
		"status":  status,
		"devices": s.deps.State.Devices().List(),
	})
}

type framePixel struct {
	render.Sample
	Hex      string       `json:"hex"`
	Position render.Point `json:"position"`
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	if s.deps.Frames == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("renderer not running"))
		return
	}

	layout := render.DesktopLayout
	if r.URL.Query().Get("layout") == "mobile" {
		layout = render.MobileLayout
	}

	frame := s.deps.Frames.Frame()
	pixels := make([]framePixel, len(frame.Pixels))
	for i, px := range frame.Pixels {
		pixels[i] = framePixel{Sample: px, Hex: px.Hex(), Position: layout.Position(i, len(frame.Pixels))}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"elapsedMs":  frame.ElapsedMs,
		"patternId":  frame.PatternID,
		"hasPattern": frame.HasPattern,
		"pixels":     pixels,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSON(w, http.StatusOK, []*ledger.Entry{})
		return
	}

	// entries for one push, as reported in the sync status
	if id := r.URL.Query().Get("correlation"); id != "" {
		entries, err := s.deps.History.GetByCorrelation(id)
		s.writeHistory(w, entries, err)
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := s.deps.History.Recent(limit)
	s.writeHistory(w, entries, err)
}

func (s *Server) writeHistory(w http.ResponseWriter, entries []*ledger.Entry, err error) {
	if err != nil {
		log.Error().Err(err).Msg("Failed to read sync history")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func writeControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pattern.ErrUnknownPattern), errors.Is(err, control.ErrUnknownDevice):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, control.ErrNoPattern):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
