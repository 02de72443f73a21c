package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce         sync.Once
	httpRequestsTotal    *prometheus.CounterVec
	httpLatencySeconds   *prometheus.HistogramVec
	webhookEventsTotal   *prometheus.CounterVec
	transitionsTotal     *prometheus.CounterVec
	sideEffectsTotal     *prometheus.CounterVec
	campaignMessages     *prometheus.CounterVec
	salesSyncRowsTotal   *prometheus.CounterVec
	salesSyncErrorsTotal prometheus.Counter
)

// RegisterMetrics initialises the Prometheus collectors.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aluno_http_requests_total",
			Help: "Total number of HTTP requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aluno_http_latency_seconds",
			Help:    "Latency distribution of HTTP requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		webhookEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aluno_webhook_events_total",
			Help: "Sales webhook events received, by kind and outcome.",
		}, []string{"kind", "outcome"})

		transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aluno_lifecycle_transitions_total",
			Help: "Applied lifecycle transitions, by target state.",
		}, []string{"to_state"})

		sideEffectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aluno_side_effects_total",
			Help: "Lifecycle side-effect attempts, by effect and outcome.",
		}, []string{"effect", "outcome"})

		campaignMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aluno_campaign_messages_total",
			Help: "Campaign recipient sends, by terminal status.",
		}, []string{"status"})

		salesSyncRowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aluno_sales_sync_rows_total",
			Help: "Buyer snapshot rows touched per sync, by operation.",
		}, []string{"operation"})

		salesSyncErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aluno_sales_sync_errors_total",
			Help: "Per-buyer errors encountered during sync jobs.",
		})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			webhookEventsTotal,
			transitionsTotal,
			sideEffectsTotal,
			campaignMessages,
			salesSyncRowsTotal,
			salesSyncErrorsTotal,
		)
	})
}

// HTTPRequests exposes the request counter.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// WebhookEvents exposes the webhook intake counter.
func WebhookEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return webhookEventsTotal
}

// Transitions exposes the lifecycle transition counter.
func Transitions() *prometheus.CounterVec {
	RegisterMetrics()
	return transitionsTotal
}

// SideEffects exposes the side-effect outcome counter.
func SideEffects() *prometheus.CounterVec {
	RegisterMetrics()
	return sideEffectsTotal
}

// CampaignMessages exposes the campaign send counter.
func CampaignMessages() *prometheus.CounterVec {
	RegisterMetrics()
	return campaignMessages
}

// SalesSyncRows exposes the sync row counter.
func SalesSyncRows() *prometheus.CounterVec {
	RegisterMetrics()
	return salesSyncRowsTotal
}

// SalesSyncErrors exposes the per-buyer error counter.
func SalesSyncErrors() prometheus.Counter {
	RegisterMetrics()
	return salesSyncErrorsTotal
}
