package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveCommand(ResultOK, time.Second)
	m.PaneReset()
	m.HookInstall(true)
	m.ActivityReported()
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveCommand(ResultOK, 100*time.Millisecond)
	m.ObserveCommand(ResultOK, 200*time.Millisecond)
	m.ObserveCommand(ResultTimeout, 2*time.Second)
	m.HookInstall(false)
	m.HookInstall(true)
	m.PaneReset()
	m.ActivityReported()

	body := scrape(t, m)
	for _, want := range []string{
		`panemirror_commands_total{result="ok"} 2`,
		`panemirror_commands_total{result="timeout"} 1`,
		`panemirror_hook_installs_total{result="failed"} 1`,
		`panemirror_hook_installs_total{result="ok"} 1`,
		"panemirror_pane_resets_total 1",
		"panemirror_command_duration_seconds_count 3",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("scrape status %d", rec.Code)
	}
	return rec.Body.String()
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ActivityReported()

	body := scrape(t, m)
	if !strings.Contains(body, "panemirror_activity_reports_total 1") {
		t.Errorf("activity counter missing from exposition:\n%s", body)
	}
}
