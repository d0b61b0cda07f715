// Package metrics registers the bridge counters on the default prometheus
// registry; ginprom serves them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InboundEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatbridge",
		Name:      "inbound_events_total",
		Help:      "Inbound message events by ingestion outcome.",
	}, []string{"outcome"})

	Extractions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatbridge",
		Name:      "media_extractions_total",
		Help:      "Media extraction results by kind and status.",
	}, []string{"kind", "status"})

	Replies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatbridge",
		Name:      "replies_total",
		Help:      "Reply attempts by provider that produced the text and send outcome.",
	}, []string{"provider", "outcome"})

	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatbridge",
		Name:      "session_reconnects_total",
		Help:      "Scheduled reconnects by close reason.",
	}, []string{"reason"})

	ContactLookupsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatbridge",
		Name:      "contact_lookups_in_flight",
		Help:      "Profile lookups currently running for contact sync.",
	})
)
