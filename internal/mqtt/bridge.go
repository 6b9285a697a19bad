// Package mqtt bridges the control state to an MQTT broker: state and
// connection changes are published as retained messages, and JSON commands
// on <prefix>/set are applied to the control state.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lampyd/internal/config"
	"github.com/dokzlo13/lampyd/internal/control"
	"github.com/dokzlo13/lampyd/internal/eventbus"
	"github.com/dokzlo13/lampyd/internal/pattern"
)

// Topic suffixes
const (
	TopicState      = "state"
	TopicConnection = "connection"
	TopicSet        = "set"
)

// Command is the payload accepted on <prefix>/set. Absent fields are left unchanged.
type Command struct {
	Pattern     *int     `json:"pattern,omitempty"`
	Brightness  *int     `json:"brightness,omitempty"`
	Speed       *int     `json:"speed,omitempty"`
	Colors      []string `json:"colors,omitempty"`
	ResetColors bool     `json:"reset_colors,omitempty"`
	Device      *string  `json:"device,omitempty"`
}

// Apply runs the command through the control state operations.
// The pattern is selected first so palette edits target it.
func (c Command) Apply(state *control.State) error {
	var errs []error

	if c.Device != nil {
		if err := state.SelectDevice(*c.Device); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Pattern != nil {
		if err := state.SelectPattern(*c.Pattern); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Brightness != nil {
		state.SetBrightness(*c.Brightness)
	}
	if c.Speed != nil {
		state.SetSpeed(*c.Speed)
	}
	if c.ResetColors {
		if err := state.ResetColors(); err != nil {
			errs = append(errs, err)
		}
	} else if len(c.Colors) > 0 {
		colors, err := pattern.ParseColors(c.Colors)
		if err != nil {
			errs = append(errs, err)
		} else if err := state.SetColors(colors); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// publisher is the subset of paho.Client used for outgoing messages
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Bridge connects the control state to an MQTT broker
type Bridge struct {
	cfg   config.MQTTConfig
	state *control.State

	mu         sync.Mutex
	ctx        context.Context
	client     paho.Client
	pub        publisher
	connection string // last seen connection state, republished on connect
}

// NewBridge creates a bridge; Start connects it
func NewBridge(cfg config.MQTTConfig, state *control.State) *Bridge {
	return &Bridge{
		cfg:   cfg,
		state: state,
		ctx:   context.Background(),
	}
}

// Topic returns the full topic name for a suffix
func (b *Bridge) Topic(suffix string) string {
	return fmt.Sprintf("%s/%s", b.cfg.TopicPrefix, suffix)
}

// Start begins connecting to the broker and returns without waiting for
// the connection. Commands are subscribed from the connect handler.
func (b *Bridge) Start(ctx context.Context) error {

	opts := paho.NewClientOptions().
		AddBroker(b.cfg.Broker).
		SetClientID(b.cfg.ClientID).
		SetUsername(b.cfg.Username).
		SetPassword(b.cfg.Password).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(b.onConnectionLost).
		SetOrderMatters(false).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(30 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetWill(b.Topic(TopicConnection), "offline", b.cfg.QoS, true)

	client := paho.NewClient(opts)
	b.mu.Lock()
	b.ctx = ctx
	b.client = client
	b.pub = client
	b.mu.Unlock()

	// With connect retry the token only completes once the broker is
	// reachable, so the wait happens off the startup path.
	token := client.Connect()
	go func() {
		select {
		case <-ctx.Done():
		case <-token.Done():
			if err := token.Error(); err != nil {
				log.Error().Err(err).Str("broker", b.cfg.Broker).Msg("MQTT connect failed")
				return
			}
			log.Info().Str("broker", b.cfg.Broker).Str("prefix", b.cfg.TopicPrefix).Msg("MQTT bridge connected")
		}
	}()

	log.Debug().Str("broker", b.cfg.Broker).Msg("MQTT bridge connecting")
	return nil
}

// Stop disconnects from the broker and cancels pending connect retries
func (b *Bridge) Stop() {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client != nil {
		client.Disconnect(500)
	}
}

// Connected reports whether the bridge currently holds a broker connection
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	return client != nil && client.IsConnectionOpen()
}

// subscription is re-established on every reconnect
func (b *Bridge) onConnect(c paho.Client) {
	log.Debug().Msg("MQTT client connected")

	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()

	topic := b.Topic(TopicSet)
	token := c.Subscribe(topic, b.cfg.QoS, b.handleMessage)
	go func() {
		select {
		case <-ctx.Done():
		case <-token.Done():
			if err := token.Error(); err != nil {
				log.Error().Err(err).Str("topic", topic).Msg("MQTT subscribe failed")
				return
			}
			log.Debug().Str("topic", topic).Msg("MQTT topic subscribed")
		}
	}()

	b.PublishState(b.state.Snapshot())
	b.mu.Lock()
	connection := b.connection
	b.mu.Unlock()
	b.PublishConnection(connection)
}

func (b *Bridge) onConnectionLost(_ paho.Client, err error) {
	log.Warn().Err(err).Msg("MQTT connection lost")
}

func (b *Bridge) handleMessage(_ paho.Client, msg paho.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		log.Warn().Err(err).Str("topic", msg.Topic()).Msg("Invalid MQTT command")
		return
	}
	if err := cmd.Apply(b.state); err != nil {
		log.Warn().Err(err).Msg("MQTT command partially applied")
		return
	}
	log.Debug().Str("topic", msg.Topic()).Msg("MQTT command applied")
}

// HandleEvent publishes bus events to their retained topics
func (b *Bridge) HandleEvent(e eventbus.Event) {
	switch e.Type {
	case eventbus.EventTypeStateChanged:
		if snap, ok := e.Data["snapshot"].(control.Snapshot); ok {
			b.PublishState(snap)
		}
	case eventbus.EventTypeConnectionChanged:
		state := e.String("state")
		if state != "" {
			b.mu.Lock()
			b.connection = state
			b.mu.Unlock()
		}
		b.PublishConnection(state)
	}
}

// PublishState publishes the control state as retained JSON
func (b *Bridge) PublishState(snap control.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode state")
		return
	}
	b.publish(b.Topic(TopicState), payload)
}

// PublishConnection publishes the connection state as a retained plain string
func (b *Bridge) PublishConnection(state string) {
	if state == "" {
		return
	}
	b.publish(b.Topic(TopicConnection), []byte(state))
}

func (b *Bridge) publish(topic string, payload []byte) {
	b.mu.Lock()
	pub, ctx := b.pub, b.ctx
	b.mu.Unlock()
	if pub == nil {
		return
	}
	token := pub.Publish(topic, b.cfg.QoS, true, payload)
	go func() {
		select {
		case <-ctx.Done():
		case <-token.Done():
			if err := token.Error(); err != nil {
				log.Warn().Err(err).Str("topic", topic).Msg("MQTT publish failed")
			}
		}
	}()
}
