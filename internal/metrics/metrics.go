// Package metrics exposes client-side counters on the default Prometheus
// registry; the composition root decides whether to serve them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reconnects counts reconnection attempts after unexpected closures.
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_broker_reconnects_total",
		Help: "Reconnection attempts after unexpected connection loss.",
	})

	// EventsTotal counts inbound events merged per kind.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_events_total",
		Help: "Inbound topic events by kind.",
	}, []string{"type"})

	// SendsTotal counts outbound messages by delivery path.
	SendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_messages_sent_total",
		Help: "Messages sent, by delivery path (broker or rest).",
	}, []string{"path"})

	// PublishDropped counts publishes dropped while disconnected.
	PublishDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_publish_dropped_total",
		Help: "Publishes dropped because the broker connection was down.",
	})
)
