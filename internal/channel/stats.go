package channel

import (
	"sync"
	"time"
)

const maxLatencySamples = 100

// Stats summarizes connection health for the dashboard.
type Stats struct {
	Status        Status    `json:"status"`
	Connected     bool      `json:"connected"`
	URL           string    `json:"url,omitempty"`
	AvgLatencyMs  float64   `json:"avgLatencyMs"`
	MinLatencyMs  float64   `json:"minLatencyMs"`
	MaxLatencyMs  float64   `json:"maxLatencyMs"`
	Samples       int       `json:"samples"`
	PingsSent     int       `json:"pingsSent"`
	PingsLost     int       `json:"pingsLost"`
	PacketLoss    float64   `json:"packetLoss"`
	Reconnects    int       `json:"reconnects"`
	LastConnected time.Time `json:"lastConnected,omitempty"`
}

// latencyTracker keeps a ring of recent ping round trips.
type latencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	sent    int
	lost    int
}

func (l *latencyTracker) record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent++
	l.samples = append(l.samples, d)
	if len(l.samples) > maxLatencySamples {
		l.samples = l.samples[len(l.samples)-maxLatencySamples:]
	}
}

func (l *latencyTracker) lose() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent++
	l.lost++
}

func (l *latencyTracker) fill(s *Stats) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.Samples = len(l.samples)
	s.PingsSent = l.sent
	s.PingsLost = l.lost
	if l.sent > 0 {
		s.PacketLoss = float64(l.lost) / float64(l.sent) * 100
	}
	if len(l.samples) == 0 {
		return
	}

	var total time.Duration
	lo, hi := l.samples[0], l.samples[0]
	for _, d := range l.samples {
		total += d
		lo = min(lo, d)
		hi = max(hi, d)
	}
	s.AvgLatencyMs = ms(total / time.Duration(len(l.samples)))
	s.MinLatencyMs = ms(lo)
	s.MaxLatencyMs = ms(hi)
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
