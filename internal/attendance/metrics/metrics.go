// Package metrics exposes the Prometheus instruments of the attendance
// server. Instruments register on the default registry at init.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Issuance
	QRTokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rollcall_qr_tokens_issued_total",
			Help: "Total number of attendance QR tokens issued",
		},
	)

	QRTokensRevoked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rollcall_qr_tokens_revoked_total",
			Help: "Total number of attendance QR tokens revoked explicitly or by rotation",
		},
	)

	QRTokensPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rollcall_qr_tokens_purged_total",
			Help: "Total number of expired QR tokens deleted by housekeeping",
		},
	)

	// Check-in
	CheckIns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollcall_checkins_total",
			Help: "Check-in attempts by result",
		},
		[]string{"result"}, // "ok", "late", "invalid", "revoked", "expired", "duplicate", "error"
	)

	// HTTP
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rollcall_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status_code"},
	)

	// WebSocket
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rollcall_websocket_connections_active",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSSubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rollcall_websocket_subscriptions_active",
			Help: "Current number of session subscriptions across all connections",
		},
	)

	WSMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollcall_websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
		[]string{"type"},
	)

	WSMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollcall_websocket_messages_received_total",
			Help: "Total number of WebSocket messages received",
		},
		[]string{"type"},
	)

	WSMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rollcall_websocket_messages_dropped_total",
			Help: "Messages dropped because a client's send buffer was full",
		},
	)
)

// RecordAPIRequest observes one HTTP request.
func RecordAPIRequest(method, route string, status int, d time.Duration) {
	APIRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// RecordCheckIn counts a check-in attempt.
func RecordCheckIn(result string) {
	CheckIns.WithLabelValues(result).Inc()
}
