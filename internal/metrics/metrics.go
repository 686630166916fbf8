package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Relay metrics
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_ws_connections_active",
			Help: "Currently connected websocket clients",
		},
	)

	RoomMembersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_room_members_active",
			Help: "Currently joined room memberships",
		},
	)

	MessagesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_messages_relayed_total",
			Help: "Messages persisted and broadcast",
		},
		[]string{"kind"}, // "support" or "peer"
	)

	SendRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_send_rejected_total",
			Help: "Send attempts rejected before broadcast",
		},
		[]string{"code"},
	)

	TypingSignals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_typing_signals_total",
			Help: "Typing and stopTyping signals forwarded",
		},
	)

	ReadReceipts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_read_receipts_total",
			Help: "Read-receipt batches processed",
		},
	)

	SessionsAssigned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_sessions_assigned_total",
			Help: "Sessions claimed by an agent",
		},
	)

	SessionsClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_sessions_closed_total",
			Help: "Sessions transitioned to closed",
		},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_events_dropped_total",
			Help: "Events dropped because a client send buffer was full",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)
