package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_messages_sent_total",
			Help: "Total messages stored",
		},
	)

	MessagesReplayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_messages_replayed_total",
			Help: "Total message writes deduplicated by client ID",
		},
	)

	ConversationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_conversations_created_total",
			Help: "Total conversations created",
		},
	)

	UserSearches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_user_searches_total",
			Help: "Total user search queries",
		},
	)

	EventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_events_published_total",
			Help: "Total events published to the bus",
		},
	)

	WebsocketSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_websocket_sessions",
			Help: "Currently connected websocket sessions",
		},
	)

	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_notifications_dispatched_total",
			Help: "Total notification dispatch attempts",
		},
		[]string{"outcome"}, // "ok" or "error"
	)
)
