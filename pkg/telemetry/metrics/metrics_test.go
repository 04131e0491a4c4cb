package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/ratchet/pkg/config"
	"mercator-hq/ratchet/pkg/retention"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testConfig() *config.MetricsConfig {
	return &config.MetricsConfig{
		Enabled:              true,
		Namespace:            "test",
		Subsystem:            "metrics",
		SweepDurationBuckets: []float64{0.1, 1, 10},
	}
}

func TestCollector_NewCollector(t *testing.T) {
	cfg := testConfig()
	registry := prometheus.NewRegistry()

	collector := NewCollector(cfg, registry)
	if collector.Registry() != registry {
		t.Error("Collector registry not set correctly")
	}

	defaults := NewCollector(&config.MetricsConfig{Enabled: true}, nil)
	if defaults.config.Namespace != config.DefaultMetricsNamespace || defaults.Registry() == nil {
		t.Errorf("defaults not applied: %+v", defaults.config)
	}
}

func TestCollector_RecordDecision(t *testing.T) {
	c := NewCollector(testConfig(), prometheus.NewRegistry())

	c.RecordDecision(retention.OpEnableLock, retention.ResultAccepted, "")
	c.RecordDecision(retention.OpDisableLock, retention.ResultRejected, retention.CodeLockIsImmutable)
	c.RecordDecision(retention.OpDisableLock, retention.ResultRejected, retention.CodeLockIsImmutable)
	c.RecordConflict(retention.OpChangeRetention)

	dm := c.decisionMetrics
	if got := testutil.ToFloat64(dm.decisionsTotal.WithLabelValues(retention.OpEnableLock, "accepted", "")); got != 1 {
		t.Errorf("accepted enable_lock = %v, want 1", got)
	}
	if got := testutil.ToFloat64(dm.decisionsTotal.WithLabelValues(retention.OpDisableLock, "rejected", "LockIsImmutable")); got != 2 {
		t.Errorf("rejected disable_lock = %v, want 2", got)
	}
	if got := testutil.ToFloat64(dm.conflictsTotal.WithLabelValues(retention.OpChangeRetention)); got != 1 {
		t.Errorf("conflicts = %v, want 1", got)
	}
}

func TestCollector_Aging(t *testing.T) {
	c := NewCollector(testConfig(), prometheus.NewRegistry())

	c.RecordSweep("completed", 2*time.Second, 5)
	c.RecordSweep("canceled", time.Second, 2)
	c.RecordIntent("job", "issued")
	c.RecordIntent("job", "issued")
	c.RecordIntent("copy", "failed")
	c.SetInFlight(3)

	am := c.agingMetrics
	if got := testutil.ToFloat64(am.sweepsTotal.WithLabelValues("completed")); got != 1 {
		t.Errorf("completed sweeps = %v, want 1", got)
	}
	if got := testutil.ToFloat64(am.copiesEvaluated); got != 7 {
		t.Errorf("copies evaluated = %v, want 7", got)
	}
	if got := testutil.ToFloat64(am.intentsTotal.WithLabelValues("job", "issued")); got != 2 {
		t.Errorf("issued job intents = %v, want 2", got)
	}
	if got := testutil.ToFloat64(am.inFlight); got != 3 {
		t.Errorf("in flight = %v, want 3", got)
	}
	if n := testutil.CollectAndCount(am.sweepDuration); n != 1 {
		t.Errorf("sweep duration series = %d, want 1", n)
	}
}

func TestCollector_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	c := NewCollector(cfg, prometheus.NewRegistry())

	c.RecordDecision(retention.OpEnableLock, retention.ResultAccepted, "")
	c.RecordSweep("completed", time.Second, 1)
	c.RecordRequest("/api/v1/copies/{copy_id}", "GET", 200, time.Millisecond)

	if n := testutil.CollectAndCount(c.decisionMetrics.decisionsTotal); n != 0 {
		t.Errorf("disabled collector recorded %d decision series", n)
	}
	if got := testutil.ToFloat64(c.agingMetrics.copiesEvaluated); got != 0 {
		t.Errorf("disabled collector counted %v copies", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(testConfig(), prometheus.NewRegistry())
	c.RecordRequest("/api/v1/copies/{copy_id}", http.MethodGet, http.StatusOK, 5*time.Millisecond)
	c.RecordDecision(retention.OpChangeRetention, retention.ResultRejected, retention.CodeRetentionDecreaseRejected)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`test_metrics_http_requests_total{method="GET",route="/api/v1/copies/{copy_id}",status="200"} 1`,
		`test_metrics_decisions_total{code="RetentionDecreaseRejected",operation="change_retention",result="rejected"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
