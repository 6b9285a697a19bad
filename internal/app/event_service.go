package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lampyd/internal/config"
	"github.com/dokzlo13/lampyd/internal/control"
	"github.com/dokzlo13/lampyd/internal/eventbus"
	"github.com/dokzlo13/lampyd/internal/mqtt"
)

// EventService fans control state changes out to the event bus and
// dispatches bus events to the MQTT bridge.
type EventService struct {
	cfg    *config.Config
	state  *control.State
	bus    *eventbus.Bus
	Bridge *mqtt.Bridge
}

// NewEventService creates a new EventService. The bridge is only created when MQTT is enabled.
func NewEventService(cfg *config.Config, state *control.State, bus *eventbus.Bus) *EventService {
	s := &EventService{
		cfg:   cfg,
		state: state,
		bus:   bus,
	}
	if cfg.MQTT.Enabled {
		s.Bridge = mqtt.NewBridge(cfg.MQTT, state)
	}
	return s
}

// Start sets up all event handlers. The bridge is connected by Connect.
func (s *EventService) Start(ctx context.Context) error {
	s.state.OnChange(func(kind control.ChangeKind, snap control.Snapshot) {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.EventTypeStateChanged,
			Data: map[string]any{"kind": string(kind), "snapshot": snap},
		})
	})

	s.bus.Subscribe(eventbus.EventTypeConnectionChanged, func(event eventbus.Event) {
		log.Debug().Str("state", event.String("state")).Msg("Connection event dispatched")
	})
	s.bus.Subscribe(eventbus.EventTypeDevicesDiscovered, func(event eventbus.Event) {
		log.Debug().Interface("found", event.Data["found"]).Interface("added", event.Data["added"]).Msg("Device registry updated")
	})

	if s.Bridge != nil {
		s.bus.Subscribe(eventbus.EventTypeStateChanged, s.Bridge.HandleEvent)
		s.bus.Subscribe(eventbus.EventTypeConnectionChanged, s.Bridge.HandleEvent)
	}
	return nil
}

// Connect starts the MQTT bridge. It does not wait for the broker.
func (s *EventService) Connect(ctx context.Context) error {
	if s.Bridge == nil {
		return nil
	}
	return s.Bridge.Start(ctx)
}

// Close disconnects the bridge. The bus itself is closed by Services.
func (s *EventService) Close() {
	if s.Bridge != nil {
		s.Bridge.Stop()
	}
}
