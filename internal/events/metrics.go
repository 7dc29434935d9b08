package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	published = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_events_published_total",
		Help: "Domain events delivered to the sink, by type.",
	}, []string{"type"})
	dropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_events_dropped_total",
		Help: "Domain events dropped after exhausting publish retries, by type.",
	}, []string{"type"})
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roster_events_queue_depth",
		Help: "Domain events waiting to be published.",
	})
)
