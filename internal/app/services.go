package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lampyd/internal/api"
	"github.com/dokzlo13/lampyd/internal/config"
	"github.com/dokzlo13/lampyd/internal/control"
	"github.com/dokzlo13/lampyd/internal/db"
	"github.com/dokzlo13/lampyd/internal/eventbus"
	"github.com/dokzlo13/lampyd/internal/ledger"
	"github.com/dokzlo13/lampyd/internal/pattern"
	"github.com/dokzlo13/lampyd/internal/storage"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB      *db.DB
	Ledger  *ledger.Ledger
	Devices *storage.DeviceStore
	Bus     *eventbus.Bus

	// Control state
	Catalog *pattern.Catalog
	State   *control.State

	// High-level services
	Scripts *ScriptService
	Render  *RenderService
	Device  *DeviceService
	Events  *EventService
	History *HistoryService
	API     *APIService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Initialize ledger
	s.Ledger = ledger.New(database.DB)

	// Device registry: configured seeds, then previously discovered devices
	s.Devices = storage.NewDeviceStore(database.DB)
	registry, err := control.NewRegistry(control.FromSeeds(cfg.Devices), s.Devices)
	if err != nil {
		s.Close()
		return nil, err
	}

	// Initialize event bus
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	s.Catalog = pattern.Default()
	s.State = control.New(s.Catalog, registry)

	// Scripts register into the catalog before anything renders
	s.Scripts = NewScriptService(cfg.Scripts, s.Catalog)
	if err := s.Scripts.LoadScripts(); err != nil {
		s.Close()
		return nil, err
	}

	s.Render = NewRenderService(cfg.Render, s.State, s.Scripts.Engine)
	s.Device = NewDeviceService(cfg, s.State, s.Ledger, s.Bus)
	s.Events = NewEventService(cfg, s.State, s.Bus)
	s.History = NewHistoryService(cfg.Ledger, s.Ledger)
	s.API = NewAPIService(cfg, api.Deps{
		State:   s.State,
		Sync:    s.Device.Channel,
		History: s.Ledger,
		Frames:  s.Render,
	})

	return s, nil
}

// Start starts all services in the correct order. When selfTick is false the
// animation clock is left for a display loop to drive.
func (s *Services) Start(ctx context.Context, selfTick bool) error {
	// Subscribers are wired before the first state change
	if err := s.Events.Start(ctx); err != nil {
		return err
	}

	// Initial pull: adopt the lamp's settings or fall back
	s.Device.Start(ctx)

	// Start all background services
	s.Device.StartBackground(ctx)
	if err := s.Events.Connect(ctx); err != nil {
		return err
	}
	s.Scripts.Start(ctx)
	s.History.Start(ctx)
	if selfTick {
		s.Render.Start(ctx)
	}
	s.API.Start(ctx)
	s.API.SetReady(true)

	log.Debug().Int("patterns", len(s.Catalog.List())).Int("devices", s.State.Devices().Len()).Msg("Services started")
	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	if s.API != nil {
		s.API.SetReady(false)
	}
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Render != nil {
		s.Render.Close()
	}
	if s.Device != nil {
		s.Device.Close()
	}
	if s.Events != nil {
		s.Events.Close()
	}
	if s.Scripts != nil {
		s.Scripts.Close()
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		defer cancel()
		s.Bus.Close(ctx)
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
