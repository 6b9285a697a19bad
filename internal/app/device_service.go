package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lampyd/internal/config"
	"github.com/dokzlo13/lampyd/internal/control"
	"github.com/dokzlo13/lampyd/internal/device"
	"github.com/dokzlo13/lampyd/internal/devicesync"
	"github.com/dokzlo13/lampyd/internal/eventbus"
	"github.com/dokzlo13/lampyd/internal/ledger"
)

// DeviceService wraps the lamp client and the sync channel driving it.
type DeviceService struct {
	cfg *config.Config

	Client  *device.Client
	Channel *devicesync.Channel
}

// NewDeviceService creates the client and channel; nothing is sent until Start.
func NewDeviceService(cfg *config.Config, state *control.State, history *ledger.Ledger, bus *eventbus.Bus) *DeviceService {
	client := device.NewClient(cfg.Device.BaseURL, cfg.Device.RequestTimeout.Duration())

	var h devicesync.History
	if history != nil {
		h = history
	}
	channel := devicesync.New(client, state, devicesync.OptionsFromConfig(cfg.Device), h, bus)

	return &DeviceService{
		cfg:     cfg,
		Client:  client,
		Channel: channel,
	}
}

// Start pulls the lamp's status once. A lamp that cannot be reached is not
// an error: the channel starts offline with the fallback pattern.
func (s *DeviceService) Start(ctx context.Context) {
	state := s.Channel.Init(ctx)
	log.Info().
		Str("base_url", s.cfg.Device.BaseURL).
		Str("state", string(state)).
		Msg("Lamp channel initialized")
}

// StartBackground starts the health probe loop.
func (s *DeviceService) StartBackground(ctx context.Context) {
	go s.Channel.Run(ctx)
}

// Close cancels pending pushes and releases the client.
func (s *DeviceService) Close() {
	if s.Channel != nil {
		s.Channel.Close()
	}
	if s.Client != nil {
		s.Client.Close()
	}
}
