// Package telemetry provides Prometheus metrics and tracing setup for the
// relay service.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	PollCycles           prometheus.Counter
	PollFailures         *prometheus.CounterVec // labeled by failure kind
	Reconnects           prometheus.Counter
	EventsProcessed      prometheus.Counter
	DuplicatesSuppressed prometheus.Counter
	MessagesRelayed      prometheus.Counter
	Deliveries           prometheus.Counter
	DeliveriesFailed     prometheus.Counter
	CommandsHandled      prometheus.Counter
	Announcements        prometheus.Counter

	// Histograms (seconds)
	PollDuration  prometheus.Observer
	RelayDuration prometheus.Observer

	// Gauges
	ActiveChambersGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PollCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "echochamber_poll_cycles_total", Help: "Number of convo log poll attempts"})
		PollFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "echochamber_poll_failures_total", Help: "Number of failed polls by failure kind"}, []string{"kind"})
		Reconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "echochamber_reconnects_total", Help: "Number of session reconnects"})
		EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{Name: "echochamber_events_total", Help: "Number of convo log events processed"})
		DuplicatesSuppressed = promauto.NewCounter(prometheus.CounterOpts{Name: "echochamber_duplicates_suppressed_total", Help: "Number of redelivered messages suppressed"})
		MessagesRelayed = promauto.NewCounter(prometheus.CounterOpts{Name: "echochamber_messages_relayed_total", Help: "Number of messages fanned out to chamber members"})
		Deliveries = promauto.NewCounter(prometheus.CounterOpts{Name: "echochamber_deliveries_total", Help: "Number of per-recipient sends that succeeded"})
		DeliveriesFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "echochamber_deliveries_failed_total", Help: "Number of per-recipient sends that failed"})
		CommandsHandled = promauto.NewCounter(prometheus.CounterOpts{Name: "echochamber_commands_total", Help: "Number of admin commands dispatched"})
		Announcements = promauto.NewCounter(prometheus.CounterOpts{Name: "echochamber_announcements_total", Help: "Number of join/leave announcements relayed"})
		PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "echochamber_poll_duration_seconds", Help: "Poll cycle duration seconds", Buckets: prometheus.DefBuckets})
		RelayDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "echochamber_relay_duration_seconds", Help: "Relay fan-out duration seconds", Buckets: prometheus.DefBuckets})
		ActiveChambersGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "echochamber_active_chambers", Help: "Number of chambers currently running"})
	})
}

// SetActiveChambers records the current number of running chambers.
func SetActiveChambers(n int) {
	if ActiveChambersGauge != nil {
		ActiveChambersGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records it in obs if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}
