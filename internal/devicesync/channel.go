// Package devicesync keeps the lamp in step with the control state: it pulls
// the initial status, probes health, pushes debounced settings and runs
// discovery scans.
package devicesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/lampyd/internal/config"
	"github.com/dokzlo13/lampyd/internal/control"
	"github.com/dokzlo13/lampyd/internal/debounce"
	"github.com/dokzlo13/lampyd/internal/device"
	"github.com/dokzlo13/lampyd/internal/eventbus"
	"github.com/dokzlo13/lampyd/internal/ledger"
	"github.com/dokzlo13/lampyd/internal/metrics"
)

// Client is the lamp surface used by the channel
type Client interface {
	Status(ctx context.Context) (*device.Status, error)
	Update(ctx context.Context, settings device.Settings) error
	Discover(ctx context.Context) ([]device.Descriptor, error)
}

// History records sync outcomes
type History interface {
	AppendWithSource(eventType ledger.EventType, source, correlationID string, payload map[string]any) error
}

// Publisher receives sync events
type Publisher interface {
	Publish(event eventbus.Event)
}

// Options controls timing
type Options struct {
	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration
	RequestTimeout time.Duration
	Debounce       time.Duration
	RateLimit      float64 // pushes per second, 0 = unlimited
}

// OptionsFromConfig maps the device config section to channel options
func OptionsFromConfig(cfg config.DeviceConfig) Options {
	return Options{
		ProbeInterval:  cfg.ProbeInterval.Duration(),
		ProbeTimeout:   cfg.ProbeTimeout.Duration(),
		RequestTimeout: cfg.RequestTimeout.Duration(),
		Debounce:       cfg.PushDebounce.Duration(),
		RateLimit:      cfg.PushRateLimit,
	}
}

func (o *Options) applyDefaults() {
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = 10 * time.Second
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 3 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.Debounce <= 0 {
		o.Debounce = 100 * time.Millisecond
	}
}

// PushOutcome describes the last settings push
type PushOutcome struct {
	CorrelationID string          `json:"correlationId,omitempty"`
	Result        string          `json:"result"`
	Error         string          `json:"error,omitempty"`
	At            time.Time       `json:"at"`
	Duration      time.Duration   `json:"duration"`
	Settings      device.Settings `json:"settings"`
}

// Status is a point-in-time view of the channel
type Status struct {
	State       ConnectionState `json:"state"`
	Since       time.Time       `json:"since"`
	Text        string          `json:"text"`
	ScanStatus  string          `json:"scanStatus,omitempty"`
	PushPending bool            `json:"pushPending"`
	LastPush    *PushOutcome    `json:"lastPush,omitempty"`
}

// Channel synchronizes the control state with one lamp endpoint
type Channel struct {
	client    Client
	state     *control.State
	history   History
	bus       Publisher
	opts      Options
	limiter   *rate.Limiter
	debouncer *debounce.Debouncer
	now       func() time.Time

	mu         sync.Mutex
	conn       tracker
	scanStatus string
	lastPush   *PushOutcome
	closed     bool

	// bounds pushes fired by the debouncer
	life       context.Context
	lifeCancel context.CancelFunc
	pushWG     sync.WaitGroup
}

// New creates a channel and subscribes it to push-worthy state changes.
// history and bus may be nil.
func New(client Client, state *control.State, opts Options, history History, bus Publisher) *Channel {
	opts.applyDefaults()

	limit := rate.Inf
	burst := 1
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	life, cancel := context.WithCancel(context.Background())
	c := &Channel{
		client:     client,
		state:      state,
		history:    history,
		bus:        bus,
		opts:       opts,
		limiter:    rate.NewLimiter(limit, burst),
		now:        time.Now,
		conn:       tracker{state: StateConnecting},
		life:       life,
		lifeCancel: cancel,
	}
	c.conn.since = c.now()
	c.debouncer = debounce.New(opts.Debounce, c.firePush)

	state.OnChange(func(kind control.ChangeKind, _ control.Snapshot) {
		if kind.Pushes() {
			c.Schedule()
		}
	})
	return c
}

// State returns the current connection state
func (c *Channel) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.state
}

// Status returns the connection state with display text and the last push
func (c *Channel) Status() Status {
	c.mu.Lock()
	st := Status{
		State:      c.conn.state,
		Since:      c.conn.since,
		ScanStatus: c.scanStatus,
	}
	if c.lastPush != nil {
		p := *c.lastPush
		st.LastPush = &p
	}
	c.mu.Unlock()

	st.PushPending = c.debouncer.Pending()
	if d, ok := c.state.SelectedDevice(); ok {
		st.Text = StatusText(st.State, &d)
	} else {
		st.Text = StatusText(st.State, nil)
	}
	return st
}

// Init pulls the lamp's status once. On success the reported settings are
// adopted and the channel is connected; on any failure the first pattern is
// activated and the channel goes offline.
func (c *Channel) Init(ctx context.Context) ConnectionState {
	seq := c.nextSeq()

	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	status, err := c.client.Status(ctx)
	if err != nil {
		log.Info().Err(err).Msg("Lamp not found, running in offline mode")
		c.state.UseFallback()
		c.record(ledger.EventStatusPulled, "init", "", map[string]any{"ok": false, "error": err.Error()})
		c.applyProbe(seq, false)
		return c.State()
	}

	c.state.Adopt(*status)
	payload := map[string]any{
		"ok":         true,
		"pattern":    status.CurrentPattern,
		"brightness": status.Brightness,
	}
	if status.Speed != nil {
		payload["speed"] = *status.Speed
	}
	c.record(ledger.EventStatusPulled, "init", "", payload)
	c.applyProbe(seq, true)

	log.Info().
		Int("pattern", status.CurrentPattern).
		Int("brightness", status.Brightness).
		Msg("Adopted lamp status")
	return c.State()
}

// Run probes the lamp's health every probe interval until ctx is cancelled
func (c *Channel) Run(ctx context.Context) {
	ticker := time.NewTicker(c.opts.ProbeInterval)
	defer ticker.Stop()

	log.Debug().
		Dur("interval", c.opts.ProbeInterval).
		Dur("timeout", c.opts.ProbeTimeout).
		Msg("Health probe started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("Health probe stopped")
			return
		case <-ticker.C:
			c.Probe(ctx)
		}
	}
}

// Probe issues one status request bounded by the probe timeout
func (c *Channel) Probe(ctx context.Context) ConnectionState {
	seq := c.nextSeq()

	ctx, cancel := context.WithTimeout(ctx, c.opts.ProbeTimeout)
	defer cancel()

	start := c.now()
	_, err := c.client.Status(ctx)
	ok := err == nil

	metrics.RecordProbe(ok)
	if ok {
		c.record(ledger.EventProbeOK, "probe", "", map[string]any{"duration_ms": c.now().Sub(start).Milliseconds()})
	} else {
		log.Debug().Err(err).Msg("Health probe failed")
		c.record(ledger.EventProbeFailed, "probe", "", map[string]any{"error": err.Error()})
	}

	c.applyProbe(seq, ok)
	return c.State()
}

// Schedule requests a push after the quiet period, replacing any pending one
func (c *Channel) Schedule() debounce.Token {
	metrics.IncDebounceTriggers()
	return c.debouncer.Trigger()
}

// Discover runs a discovery scan, upserts the results into the device
// registry and returns how many devices the lamp reported
func (c *Channel) Discover(ctx context.Context) (int, error) {
	c.setScanStatus("Scanning...")

	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	found, err := c.client.Discover(ctx)
	if err != nil {
		var se *device.StatusError
		if errors.As(err, &se) {
			c.setScanStatus("Scan failed")
		} else {
			c.setScanStatus("Scan error")
		}
		log.Warn().Err(err).Msg("Device discovery failed")
		c.record(ledger.EventDiscovery, "discover", "", map[string]any{"ok": false, "error": err.Error()})
		return 0, fmt.Errorf("discovery: %w", err)
	}

	devices := make([]control.Device, 0, len(found))
	for _, d := range found {
		devices = append(devices, control.FromDescriptor(d))
	}
	added := c.state.Devices().Upsert(devices...)

	c.setScanStatus(fmt.Sprintf("Found %d devices", len(found)))
	metrics.AddDiscovered(len(found))
	c.record(ledger.EventDiscovery, "discover", "", map[string]any{"ok": true, "found": len(found), "added": added})
	c.publish(eventbus.EventTypeDevicesDiscovered, map[string]any{"found": len(found), "added": added})

	log.Info().Int("found", len(found)).Int("added", added).Msg("Device discovery finished")
	return len(found), nil
}

// ScanStatus returns the last discovery status text
func (c *Channel) ScanStatus() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanStatus
}

// LastPush returns the outcome of the most recent push, if any
func (c *Channel) LastPush() (PushOutcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastPush == nil {
		return PushOutcome{}, false
	}
	return *c.lastPush, true
}

// Close cancels a pending push and any push in flight
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.debouncer.Close()
	c.lifeCancel()
	c.pushWG.Wait()
}

func (c *Channel) firePush() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.pushWG.Add(1)
	c.mu.Unlock()

	defer c.pushWG.Done()
	c.push(c.life)
}

// push sends the current settings. Outcomes never change the connection state.
func (c *Channel) push(ctx context.Context) {
	settings, ok := c.state.Settings(c.now())
	if !ok {
		return
	}

	if state := c.State(); state != StateConnected {
		metrics.RecordPush(metrics.ResultSkipped, 0)
		c.record(ledger.EventPushSkipped, "debounce", "", map[string]any{"state": string(state)})
		c.setLastPush(PushOutcome{Result: metrics.ResultSkipped, At: c.now(), Settings: settings})
		return
	}

	correlationID := uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		log.Debug().Err(err).Msg("Push abandoned while rate limited")
		return
	}

	start := c.now()
	err := c.client.Update(ctx, settings)
	elapsed := c.now().Sub(start)

	payload := map[string]any{
		"pattern":    settings.Pattern,
		"brightness": settings.Brightness,
		"speed":      settings.Speed,
		"colors":     settings.Colors,
	}
	outcome := PushOutcome{
		CorrelationID: correlationID,
		At:            start,
		Duration:      elapsed,
		Settings:      settings,
	}

	if err != nil {
		log.Error().Err(err).Str("correlation_id", correlationID).Msg("Failed to update lamp")
		payload["error"] = err.Error()
		outcome.Result = metrics.ResultFailed
		outcome.Error = err.Error()
		metrics.RecordPush(metrics.ResultFailed, elapsed)
		c.record(ledger.EventPushFailed, "debounce", correlationID, payload)
	} else {
		outcome.Result = metrics.ResultOK
		metrics.RecordPush(metrics.ResultOK, elapsed)
		c.record(ledger.EventPushSent, "debounce", correlationID, payload)
	}

	c.setLastPush(outcome)
	c.publish(eventbus.EventTypeSettingsPushed, map[string]any{
		"correlation_id": correlationID,
		"result":         outcome.Result,
		"pattern":        settings.Pattern,
	})
}

func (c *Channel) nextSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.next()
}

func (c *Channel) applyProbe(seq uint64, ok bool) {
	c.mu.Lock()
	accepted, changed := c.conn.apply(seq, ok, c.now())
	state := c.conn.state
	c.mu.Unlock()

	if !accepted {
		log.Debug().Uint64("seq", seq).Msg("Discarding stale probe result")
		return
	}
	if !changed {
		return
	}

	metrics.SetConnected(state == StateConnected)
	log.Info().Str("state", string(state)).Msg("Connection state changed")
	c.publish(eventbus.EventTypeConnectionChanged, map[string]any{"state": string(state)})
}

func (c *Channel) setScanStatus(s string) {
	c.mu.Lock()
	c.scanStatus = s
	c.mu.Unlock()
}

func (c *Channel) setLastPush(p PushOutcome) {
	c.mu.Lock()
	c.lastPush = &p
	c.mu.Unlock()
}

func (c *Channel) record(eventType ledger.EventType, source, correlationID string, payload map[string]any) {
	if c.history == nil {
		return
	}
	if err := c.history.AppendWithSource(eventType, source, correlationID, payload); err != nil {
		log.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to record sync event")
	}
}

func (c *Channel) publish(t eventbus.EventType, data map[string]any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Type: t, Data: data})
}
