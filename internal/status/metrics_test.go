package status

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/e7canasta/dash-restreamer/internal/pipeline"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("metrics scrape returned %d", rec.Code)
	}
	return rec.Body.String()
}

func TestMetrics_HooksFeedRegistry(t *testing.T) {
	m := NewMetrics()
	h := m.Hooks()

	h.OnFailover(pipeline.InputLive)
	h.OnFailover(pipeline.InputFiller)
	h.OnReconnectScheduled()
	h.OnRetry()
	h.OnPortAnnounced(pipeline.MediaVideo)
	h.OnFault(pipeline.FaultNetwork, false)
	h.OnFault(pipeline.FaultResource, true)

	body := scrape(t, m)
	for _, want := range []string{
		`restreamd_failovers_total{to="live"} 1`,
		`restreamd_failovers_total{to="filler"} 1`,
		`restreamd_reconnects_scheduled_total 1`,
		`restreamd_retries_total 1`,
		`restreamd_ports_announced_total{media="video"} 1`,
		`restreamd_faults_total{category="network",fatal="false"} 1`,
		`restreamd_faults_total{category="resource",fatal="true"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape output missing %q", want)
		}
	}

	// The last failover parked output on filler.
	if !strings.Contains(body, "restreamd_active_input 0") {
		t.Error("active_input gauge != 0 after failover to filler")
	}

	h.OnFailover(pipeline.InputLive)
	if !strings.Contains(scrape(t, m), "restreamd_active_input 1") {
		t.Error("active_input gauge != 1 after failover to live")
	}
}

func TestMetrics_AllHooksSet(t *testing.T) {
	h := NewMetrics().Hooks()
	if h.OnFailover == nil || h.OnReconnectScheduled == nil || h.OnRetry == nil ||
		h.OnPortAnnounced == nil || h.OnFault == nil {
		t.Error("metrics hooks leave observation points unset")
	}
}
