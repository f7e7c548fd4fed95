package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the request lifecycle. One
// instance is created at startup and injected into handlers and services.
type Metrics struct {
	InitiationsTotal    *prometheus.CounterVec
	InitiationFailures  *prometheus.CounterVec
	CallbacksTotal      *prometheus.CounterVec
	UnknownCallbackCode prometheus.Counter
	RejectedTransitions prometheus.Counter
	PollsTotal          prometheus.Counter
	UpstreamLatency     *prometheus.HistogramVec
}

// New creates and registers all metrics with the default registry.
func New() *Metrics {
	return &Metrics{
		InitiationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vcgateway_initiations_total",
			Help: "Initiated issuance/presentation requests by flow",
		}, []string{"flow"}),
		InitiationFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vcgateway_initiation_failures_total",
			Help: "Failed initiations by stage (token, template, api)",
		}, []string{"flow", "stage"}),
		CallbacksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vcgateway_callbacks_total",
			Help: "Inbound callback events by flow and code",
		}, []string{"flow", "code"}),
		UnknownCallbackCode: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vcgateway_unknown_callback_codes_total",
			Help: "Callback events carrying a code this service does not recognize",
		}),
		RejectedTransitions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vcgateway_rejected_transitions_total",
			Help: "Callback events refused by forward-only transition validation",
		}),
		PollsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vcgateway_status_polls_total",
			Help: "Status poll requests served",
		}),
		UpstreamLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vcgateway_upstream_latency_seconds",
			Help:    "Latency of outbound token and VC API calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"target"}),
	}
}
