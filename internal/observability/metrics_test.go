package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveProviderCall("openai", "chat", time.Second, errors.New("boom"))
	m.ObserveRerankFallback("siliconflow")
	m.ObserveReport("ok", time.Second)
	m.ObserveHTTPRequest("/healthz", http.StatusOK)
	m.ObserveWSMessage("inbound", "chat_request")
}

func TestMetricsHandlerExposesInstruments(t *testing.T) {
	m := NewMetrics("test_observability")
	m.ObserveReport("unavailable", 1500*time.Millisecond)
	m.ObserveHTTPRequest("/v1/daily-report/generate", http.StatusOK)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`test_observability_report_generations_total{outcome="unavailable"} 1`,
		`test_observability_http_requests_total{route="/v1/daily-report/generate",status="200"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
