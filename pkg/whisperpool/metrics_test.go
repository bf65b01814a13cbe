package whisperpool

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsHandlerExposesCounters(t *testing.T) {
	m := NewMetrics()
	m.recordSpawnAttempt()
	m.recordProbeSuccess()
	m.setPoolCounts(3, 2)
	m.recordRequest(time.Now(), true)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, name := range []string{
		"whisperpool_spawn_attempts_total",
		"whisperpool_health_probes_succeeded_total",
		"whisperpool_workers_total",
		"whisperpool_proxy_requests_total",
	} {
		if !strings.Contains(body, name) {
			t.Fatalf("expected metrics output to contain %s, got:\n%s", name, body)
		}
	}
}

func TestNewMetricsIndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.recordSpawnAttempt()

	reqA := httptest.NewRequest("GET", "/metrics", nil)
	recA := httptest.NewRecorder()
	a.Handler().ServeHTTP(recA, reqA)

	reqB := httptest.NewRequest("GET", "/metrics", nil)
	recB := httptest.NewRecorder()
	b.Handler().ServeHTTP(recB, reqB)

	if strings.Contains(recB.Body.String(), "whisperpool_spawn_attempts_total 1") {
		t.Fatal("expected independent registries to not share counter state")
	}
	if !strings.Contains(recA.Body.String(), "whisperpool_spawn_attempts_total 1") {
		t.Fatal("expected registry a to reflect its own recorded spawn attempt")
	}
}
