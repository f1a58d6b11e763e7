package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// It is passed explicitly to every component that records metrics; a nil
// *Metrics is accepted everywhere and records nothing.
type Metrics struct {
	// Solana RPC
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec

	// Passkey connect
	connectAttemptsTotal *prometheus.CounterVec
	connectDuration      *prometheus.HistogramVec
	portalMessagesTotal  *prometheus.CounterVec

	// Transfers
	submissionsTotal     *prometheus.CounterVec
	submissionDuration   *prometheus.HistogramVec
	confirmationsTotal   *prometheus.CounterVec
	confirmationDuration *prometheus.HistogramVec

	// HTTP
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections prometheus.Gauge
	sseEventsSent        *prometheus.CounterVec

	// NATS
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),

		connectAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "passkey_connect_attempts_total",
				Help: "Total number of passkey connect attempts by outcome",
			},
			[]string{"outcome"},
		),
		connectDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "passkey_connect_duration_seconds",
				Help:    "Time from opening the portal to resolution of a connect attempt",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		portalMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_messages_total",
				Help: "Total number of messages received from the passkey portal",
			},
			[]string{"type", "accepted"},
		),

		submissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfer_submissions_total",
				Help: "Total number of transfer submissions by token, signer mode and outcome",
			},
			[]string{"token", "signer", "outcome"},
		),
		submissionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transfer_submission_duration_seconds",
				Help:    "Duration of building and submitting a transfer",
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"signer"},
		),
		confirmationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfer_confirmations_total",
				Help: "Total number of confirmation waits by final status",
			},
			[]string{"status"},
		),
		confirmationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transfer_confirmation_duration_seconds",
				Help:    "Time spent waiting for transfer confirmation",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"event_type"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of messages published to NATS",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with its status and duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	if m == nil {
		return
	}
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// Connect metric helpers

// RecordConnect records the outcome of a passkey connect attempt.
func (m *Metrics) RecordConnect(outcome string, duration float64) {
	if m == nil {
		return
	}
	m.connectAttemptsTotal.WithLabelValues(outcome).Inc()
	m.connectDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordPortalMessage records a message received from the portal.
func (m *Metrics) RecordPortalMessage(msgType string, accepted bool) {
	if m == nil {
		return
	}
	acc := "false"
	if accepted {
		acc = "true"
	}
	m.portalMessagesTotal.WithLabelValues(msgType, acc).Inc()
}

// Transfer metric helpers

// RecordSubmission records a transfer submission.
func (m *Metrics) RecordSubmission(token, signer, outcome string, duration float64) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(token, signer, outcome).Inc()
	m.submissionDuration.WithLabelValues(signer).Observe(duration)
}

// RecordConfirmation records the result of waiting for confirmation.
func (m *Metrics) RecordConfirmation(status string, duration float64) {
	if m == nil {
		return
	}
	m.confirmationsTotal.WithLabelValues(status).Inc()
	m.confirmationDuration.WithLabelValues(status).Observe(duration)
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(delta float64) {
	if m == nil {
		return
	}
	m.sseActiveConnections.Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(eventType string) {
	if m == nil {
		return
	}
	m.sseEventsSent.WithLabelValues(eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
