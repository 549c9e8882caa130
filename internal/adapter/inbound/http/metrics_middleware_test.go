package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newRecordingHandler(status int) (http.Handler, *Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	handler := MetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	return handler, metrics, reg
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	if err := vec.WithLabelValues(labels...).Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.Counter.GetValue()
}

func TestMetricsMiddleware_RecordsRequest(t *testing.T) {
	handler, metrics, reg := newRecordingHandler(http.StatusOK)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/action-types", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got := counterValue(t, metrics.RequestsTotal, "POST", "ok"); got != 1 {
		t.Errorf("requests_total{POST,ok} = %f, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() != "ostiary_request_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			if m.GetHistogram().GetSampleCount() != 1 {
				t.Errorf("duration observations = %d, want 1", m.GetHistogram().GetSampleCount())
			}
			found = true
		}
	}
	if !found {
		t.Error("ostiary_request_duration_seconds not found in registry")
	}
}

func TestMetricsMiddleware_StatusClasses(t *testing.T) {
	tests := []struct {
		status int
		label  string
	}{
		{http.StatusOK, "ok"},
		{http.StatusNotFound, "client_error"},
		{http.StatusInternalServerError, "server_error"},
	}
	for _, tt := range tests {
		handler, metrics, _ := newRecordingHandler(tt.status)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/actions/x", nil)
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if got := counterValue(t, metrics.RequestsTotal, "GET", tt.label); got != 1 {
			t.Errorf("status %d: requests_total{GET,%s} = %f, want 1", tt.status, tt.label, got)
		}
	}
}

func TestMetricsMiddleware_SkipsScrapeAndHealth(t *testing.T) {
	for _, path := range []string{"/metrics", "/healthz"} {
		handler, metrics, _ := newRecordingHandler(http.StatusOK)
		req := httptest.NewRequest(http.MethodGet, path, nil)
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if got := counterValue(t, metrics.RequestsTotal, "GET", "ok"); got != 0 {
			t.Errorf("%s: requests_total = %f, want 0 (endpoint skipped)", path, got)
		}
	}
}
