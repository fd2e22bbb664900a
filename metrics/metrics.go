// Package metrics defines the Prometheus collectors shared across FormBridge.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formbridge_http_requests_total",
			Help: "Total number of HTTP requests by handler, method and status",
		},
		[]string{"handler", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "formbridge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds by handler and method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "method"},
	)

	TokenExchangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formbridge_token_exchanges_total",
			Help: "Total number of OAuth token exchanges by outcome",
		},
		[]string{"outcome"},
	)

	TokenCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "formbridge_token_cache_hits_total",
			Help: "Total number of token acquisitions served from the cache",
		},
	)

	TokenProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formbridge_token_probes_total",
			Help: "Total number of cached-token validation probes by outcome",
		},
		[]string{"outcome"},
	)

	CRMCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formbridge_crm_calls_total",
			Help: "Total number of CRM API calls by module, operation and outcome",
		},
		[]string{"module", "operation", "outcome"},
	)

	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formbridge_webhook_deliveries_total",
			Help: "Total number of webhook deliveries by scheme and outcome",
		},
		[]string{"scheme", "outcome"},
	)

	WebhookDeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "formbridge_webhook_delivery_duration_seconds",
			Help:    "Webhook delivery duration in seconds by scheme",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scheme"},
	)

	ExtractionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formbridge_extractions_total",
			Help: "Total number of AI document extraction relays by outcome",
		},
		[]string{"outcome"},
	)
)

// Register registers all FormBridge collectors with the default registry.
// Call once from main; tests that exercise instrumented code paths do not
// need registration since the collectors work unregistered.
func Register() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TokenExchangesTotal,
		TokenCacheHitsTotal,
		TokenProbesTotal,
		CRMCallsTotal,
		WebhookDeliveriesTotal,
		WebhookDeliveryDuration,
		ExtractionsTotal,
	)
}

// Outcome label values used across collectors.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
