// Package clock drives the preview render loop.
package clock

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// FrameFunc is called once per frame with the elapsed time since the clock started
type FrameFunc func(elapsedMs float64)

// Clock delivers monotonic frame ticks to a FrameFunc.
//
// A clock either drives itself with Run (headless, fixed cadence) or is
// ticked by a display loop through Tick. Frame callbacks never overlap.
type Clock struct {
	onFrame  FrameFunc
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex // serializes frames
	start   time.Time
	started bool
	frames  uint64

	stop     chan struct{}
	stopOnce sync.Once
	running  sync.WaitGroup
}

// New creates a clock ticking at the given frame rate when self-driven
func New(fps int, onFrame FrameFunc) *Clock {
	if fps <= 0 {
		fps = 60
	}
	return &Clock{
		onFrame:  onFrame,
		interval: time.Second / time.Duration(fps),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Start runs the clock in a new goroutine. Stop waits for it to exit.
func (c *Clock) Start(ctx context.Context) {
	c.running.Add(1)
	go func() {
		defer c.running.Done()
		c.Run(ctx)
	}()
}

// Run ticks the clock until ctx is cancelled or Stop is called.
// Slow frames cause ticks to be dropped rather than queued. A stopped
// clock returns immediately.
func (c *Clock) Run(ctx context.Context) {
	select {
	case <-c.stop:
		return
	default:
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	log.Debug().Dur("interval", c.interval).Msg("Animation clock started")

	c.Tick(c.now())
	for {
		select {
		case <-ctx.Done():
			log.Debug().Uint64("frames", c.Frames()).Msg("Animation clock stopped")
			return
		case <-c.stop:
			log.Debug().Uint64("frames", c.Frames()).Msg("Animation clock stopped")
			return
		case now := <-ticker.C:
			c.Tick(now)
		}
	}
}

// Tick renders one frame for the given wall-clock instant.
// The first tick defines the zero of elapsed time.
func (c *Clock) Tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		c.start = now
		c.started = true
	}
	elapsed := now.Sub(c.start)
	if elapsed < 0 {
		elapsed = 0
	}
	c.frames++

	if c.onFrame != nil {
		c.onFrame(float64(elapsed) / float64(time.Millisecond))
	}
}

// Elapsed returns the time since the first tick
func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return 0
	}
	return c.now().Sub(c.start)
}

// Frames returns the number of frames rendered so far
func (c *Clock) Frames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// Stop ends the loop, including one started but not yet running, and
// waits for loops launched by Start to exit. It is safe to call repeatedly.
func (c *Clock) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.running.Wait()
}
