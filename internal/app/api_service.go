package app

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lampyd/internal/api"
	"github.com/dokzlo13/lampyd/internal/config"
)

// APIService runs the HTTP control API.
type APIService struct {
	cfg    *config.Config
	server *api.Server
	ready  atomic.Bool
}

// NewAPIService creates a new APIService.
func NewAPIService(cfg *config.Config, deps api.Deps) *APIService {
	s := &APIService{cfg: cfg}
	deps.Metrics = cfg.Metrics.Enabled
	deps.Ready = s.ready.Load
	s.server = api.NewServer(cfg.API.Host, cfg.API.Port, deps)
	return s
}

// Start begins the API server if enabled.
func (s *APIService) Start(ctx context.Context) {
	if !s.cfg.API.Enabled {
		return
	}

	go func() {
		if err := s.server.Run(ctx, s.cfg.GetShutdownTimeout()); err != nil {
			log.Error().Err(err).Msg("Control API server error")
		}
	}()
}

// SetReady flips /ready once all services are running.
func (s *APIService) SetReady(ready bool) {
	s.ready.Store(ready)
}
