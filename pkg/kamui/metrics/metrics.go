// Package metrics exposes Prometheus instruments for the bridge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AgentAttempts counts agent process attempts by outcome.
	AgentAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kamui_agent_attempts_total",
			Help: "Total number of agent process attempts",
		},
		[]string{"outcome"},
	)

	// AgentAttemptDuration tracks how long each attempt ran.
	AgentAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kamui_agent_attempt_duration_seconds",
			Help:    "Agent attempt duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 180, 240},
		},
		[]string{"outcome"},
	)

	// Escalations counts moves to the next permission pattern.
	Escalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kamui_permission_escalations_total",
			Help: "Total number of permission pattern escalations",
		},
	)

	// ProxyFetches counts URLs fetched by the prompt preprocessor.
	ProxyFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kamui_proxy_fetches_total",
			Help: "Total number of URLs fetched on behalf of the agent",
		},
		[]string{"result"},
	)

	// MessagesHandled counts chat messages by channel and result.
	MessagesHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kamui_messages_handled_total",
			Help: "Total number of chat messages handled",
		},
		[]string{"channel", "result"},
	)

	// FilesDelivered counts media files uploaded to chat.
	FilesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kamui_files_delivered_total",
			Help: "Total number of generated files uploaded",
		},
		[]string{"channel"},
	)

	// FilesSwept counts stale generated files removed by the sweeper.
	FilesSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kamui_files_swept_total",
			Help: "Total number of stale generated files removed",
		},
	)

	// InFlight tracks requests currently being processed.
	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kamui_requests_in_flight",
			Help: "Number of chat requests currently being processed",
		},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
