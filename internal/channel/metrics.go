package channel

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the channel's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	reconnects prometheus.Counter
	connected  prometheus.Gauge
}

// NewMetrics creates and registers the channel collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "muatool",
			Subsystem: "channel",
			Name:      "requests_total",
			Help:      "Requests sent to the authority, by event and outcome.",
		}, []string{"event", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "muatool",
			Subsystem: "channel",
			Name:      "request_seconds",
			Help:      "Time from request to acknowledgement.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "muatool",
			Subsystem: "channel",
			Name:      "reconnects_total",
			Help:      "Successful reconnections.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "muatool",
			Subsystem: "channel",
			Name:      "connected",
			Help:      "1 while the channel is connected.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.latency, m.reconnects, m.connected)
	}
	return m
}

func (m *Metrics) observe(event, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(event, outcome).Inc()
	if outcome == "ok" {
		m.latency.WithLabelValues(event).Observe(d.Seconds())
	}
}

func (m *Metrics) reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) setConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}
