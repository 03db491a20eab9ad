// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "conference"

var (
	Rooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms",
		Help:      "Rooms currently registered.",
	})

	Clients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "clients",
		Help:      "Clients currently in a room.",
	})

	WorkerRouters = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_routers",
		Help:      "Routers hosted per media worker.",
	}, []string{"worker"})

	Recomputes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "active_speaker_recomputes_total",
		Help:      "Active speaker recomputations.",
	})

	DominantSpeakerChanges = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dominant_speaker_changes_total",
		Help:      "Dominant speaker notifications applied to a ranking.",
	})

	SignalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signal_requests_total",
		Help:      "Signaling requests by type and outcome.",
	}, []string{"type", "outcome"})

	SignalBackpressure = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signal_backpressure_total",
		Help:      "Outbound frames that found a full send queue, by resulting action.",
	}, []string{"action"})
)
