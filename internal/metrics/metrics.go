// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	feedLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reelfeed",
		Name:      "feed_loads_total",
		Help:      "Feed page loads by category and outcome (appended|exhausted|stale|failed)",
	}, []string{"category", "outcome"})

	backendRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reelfeed",
		Name:      "backend_request_duration_seconds",
		Help:      "Latency of requests to the video backend",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"operation", "status"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reelfeed",
		Name:      "feed_sessions_active",
		Help:      "Mounted feed sessions",
	})

	playbackCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reelfeed",
		Name:      "playback_commands_total",
		Help:      "Play and pause commands issued to media elements",
	}, []string{"command"})
)

func ObserveFeedLoad(category, outcome string) {
	feedLoads.WithLabelValues(category, outcome).Inc()
}

// ObserveBackendRequest records one backend round trip. status is 0 when no
// response was received.
func ObserveBackendRequest(operation string, status int, elapsed time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	backendRequests.WithLabelValues(operation, label).Observe(elapsed.Seconds())
}

func SessionMounted()   { activeSessions.Inc() }
func SessionUnmounted() { activeSessions.Dec() }

func ObservePlayback(command string) {
	playbackCommands.WithLabelValues(command).Inc()
}
