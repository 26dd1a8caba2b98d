// Package metrics exposes Prometheus instrumentation for the chat
// relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kcchat_connections_active",
			Help: "Number of currently open chat WebSocket connections",
		},
	)

	OverlayClientsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kcchat_overlay_clients_active",
			Help: "Number of currently connected overlay pages",
		},
	)

	// Frame pipeline metrics
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kcchat_frames_total",
			Help: "Total client frames received by frame type",
		},
		[]string{"type"},
	)

	FramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kcchat_frames_dropped_total",
			Help: "Total frames rejected before dispatch by reason",
		},
		[]string{"reason"}, // rate_limited, banned_host, unauthenticated
	)

	MessagesPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kcchat_messages_published_total",
			Help: "Total chat messages accepted into history",
		},
	)

	MessagesFilteredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kcchat_messages_filtered_total",
			Help: "Total messages dropped by the banned-word scan",
		},
	)

	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kcchat_commands_total",
			Help: "Total chat commands dispatched by verb",
		},
		[]string{"verb"},
	)

	// External dependency metrics
	AuthTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kcchat_auth_total",
			Help: "Total provider authentications by provider and result",
		},
		[]string{"provider", "result"}, // result: success, failure
	)

	DonationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kcchat_donations_total",
			Help: "Total donation submissions by result",
		},
		[]string{"result"}, // accepted, rejected
	)
)
