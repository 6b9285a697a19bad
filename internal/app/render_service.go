package app

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lampyd/internal/clock"
	"github.com/dokzlo13/lampyd/internal/config"
	"github.com/dokzlo13/lampyd/internal/control"
	"github.com/dokzlo13/lampyd/internal/metrics"
	"github.com/dokzlo13/lampyd/internal/pattern"
	"github.com/dokzlo13/lampyd/internal/render"
)

// RenderService owns the generator and the animation clock and keeps the latest frame.
type RenderService struct {
	cfg   config.RenderConfig
	state *control.State
	Clock *clock.Clock

	mu        sync.Mutex // guards generator and latest
	generator *render.Generator
	latest    render.Frame
}

// NewRenderService creates a render service. scripts may be nil.
func NewRenderService(cfg config.RenderConfig, state *control.State, scripts render.ScriptSampler) *RenderService {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	gen := render.NewGenerator(cfg.Pixels, rand.New(rand.NewSource(seed)))
	if scripts != nil {
		gen.SetScripts(scripts)
	}

	s := &RenderService{
		cfg:       cfg,
		state:     state,
		generator: gen,
	}
	s.Clock = clock.New(cfg.FPS, s.renderFrame)
	return s
}

// Start runs the clock on its own ticker. Used when no display drives it.
func (s *RenderService) Start(ctx context.Context) {
	log.Info().Int("pixels", s.cfg.Pixels).Int("fps", s.cfg.FPS).Msg("Headless renderer started")
	s.Clock.Start(ctx)
}

// Tick renders one frame; a display loop calls it instead of Start
func (s *RenderService) Tick(now time.Time) {
	s.Clock.Tick(now)
}

// Frame returns the most recently rendered frame
func (s *RenderService) Frame() render.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Close stops the headless clock
func (s *RenderService) Close() {
	s.Clock.Stop()
}

func (s *RenderService) renderFrame(elapsedMs float64) {
	var p *pattern.View
	if v, ok := s.state.Current(); ok {
		p = &v
	}
	brightness, speed := s.state.Brightness(), s.state.Speed()

	s.mu.Lock()
	s.latest = s.generator.Render(p, elapsedMs, speed, brightness)
	s.mu.Unlock()

	metrics.IncFrames()
}
