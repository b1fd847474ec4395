package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ProviderCalls     *prometheus.CounterVec
	ProviderLatency   *prometheus.HistogramVec
	RerankFallbacks   *prometheus.CounterVec
	ReportGenerations *prometheus.CounterVec
	ReportLatency     prometheus.Histogram
	HTTPRequests      *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ProviderCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "LLM provider calls by backend, capability and outcome.",
		}, []string{"backend", "capability", "outcome"}),
		ProviderLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_ms",
			Help:      "LLM provider call latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"capability"}),
		RerankFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_fallbacks_total",
			Help:      "Rerank calls answered by embedding similarity.",
		}, []string{"backend"}),
		ReportGenerations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_generations_total",
			Help:      "Daily report generations by outcome.",
		}, []string{"outcome"}),
		ReportLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "report_latency_ms",
			Help:      "End-to-end daily report generation latency in milliseconds.",
			Buckets:   []float64{500, 1000, 2500, 5000, 10000, 20000, 40000, 90000},
		}),
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by route and status.",
		}, []string{"route", "status"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
	}
}

func (m *Metrics) ObserveProviderCall(backend, capability string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ProviderCalls.WithLabelValues(backend, capability, outcome).Inc()
	m.ProviderLatency.WithLabelValues(capability).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveRerankFallback(backend string) {
	if m == nil {
		return
	}
	m.RerankFallbacks.WithLabelValues(backend).Inc()
}

func (m *Metrics) ObserveReport(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ReportGenerations.WithLabelValues(outcome).Inc()
	m.ReportLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveHTTPRequest(route string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, messageType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, messageType).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
