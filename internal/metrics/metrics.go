// Package metrics provides Prometheus metrics for lamp sync and rendering.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values
const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

var (
	pushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lampyd",
		Subsystem: "sync",
		Name:      "pushes_total",
		Help:      "Settings pushes by result",
	}, []string{"result"})

	probes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lampyd",
		Subsystem: "sync",
		Name:      "probes_total",
		Help:      "Health probes by result",
	}, []string{"result"})

	debounceTriggers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lampyd",
		Subsystem: "sync",
		Name:      "debounce_triggers_total",
		Help:      "Mutations that scheduled a push",
	})

	discovered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lampyd",
		Subsystem: "sync",
		Name:      "devices_discovered_total",
		Help:      "Devices reported by discovery scans",
	})

	connected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lampyd",
		Subsystem: "sync",
		Name:      "connected",
		Help:      "1 when the lamp answers health probes",
	})

	pushLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "lampyd",
		Subsystem: "sync",
		Name:      "push_duration_seconds",
		Help:      "Latency of settings pushes",
		Buckets:   prometheus.DefBuckets,
	})

	frames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lampyd",
		Subsystem: "render",
		Name:      "frames_total",
		Help:      "Rendered animation frames",
	})
)

// RecordPush counts a push attempt and, unless skipped, its latency
func RecordPush(result string, d time.Duration) {
	pushes.WithLabelValues(result).Inc()
	if result != ResultSkipped {
		pushLatency.Observe(d.Seconds())
	}
}

// RecordProbe counts a health probe
func RecordProbe(ok bool) {
	if ok {
		probes.WithLabelValues(ResultOK).Inc()
		return
	}
	probes.WithLabelValues(ResultFailed).Inc()
}

// IncDebounceTriggers counts a scheduled push
func IncDebounceTriggers() {
	debounceTriggers.Inc()
}

// AddDiscovered counts devices returned by a scan
func AddDiscovered(n int) {
	discovered.Add(float64(n))
}

// SetConnected updates the connection gauge
func SetConnected(up bool) {
	if up {
		connected.Set(1)
		return
	}
	connected.Set(0)
}

// IncFrames counts a rendered frame
func IncFrames() {
	frames.Inc()
}

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}
