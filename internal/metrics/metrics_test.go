package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/AakashB275/BrandModel/internal/engine"
	"github.com/AakashB275/BrandModel/internal/model"
)

func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			return m
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func TestCollector_ActionOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ActionApplied(model.KindSendMessage, 20*time.Millisecond)
	c.ActionApplied(model.KindSendMessage, 30*time.Millisecond)
	c.ActionFailed(model.KindRecordLike, engine.CodeConflict)
	c.ActionDeadLettered(model.KindRecordLike, engine.CodeAttemptsExhausted)

	if v := findMetric(t, reg, "brandmodel_actions_applied_total", map[string]string{"kind": "send_message"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("applied_total = %v, want 2", v)
	}
	if v := findMetric(t, reg, "brandmodel_actions_failed_total", map[string]string{"code": "CONFLICT"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("failed_total = %v, want 1", v)
	}
	if v := findMetric(t, reg, "brandmodel_actions_dead_lettered_total", map[string]string{"kind": "record_like"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("dead_lettered_total = %v, want 1", v)
	}
	if n := findMetric(t, reg, "brandmodel_action_apply_seconds", nil).GetHistogram().GetSampleCount(); n != 2 {
		t.Errorf("apply_seconds count = %d, want 2", n)
	}
}

func TestCollector_DrainAndGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.DrainCompleted(engine.DrainReport{Applied: 3, Deferred: 2}, time.Second)
	c.SetOnline(true)
	c.SetQueueDepth(7)

	if v := findMetric(t, reg, "brandmodel_drains_total", nil).GetCounter().GetValue(); v != 1 {
		t.Errorf("drains_total = %v, want 1", v)
	}
	if v := findMetric(t, reg, "brandmodel_actions_deferred", nil).GetGauge().GetValue(); v != 2 {
		t.Errorf("deferred = %v, want 2", v)
	}
	if v := findMetric(t, reg, "brandmodel_remote_online", nil).GetGauge().GetValue(); v != 1 {
		t.Errorf("online = %v, want 1", v)
	}
	if v := findMetric(t, reg, "brandmodel_queue_depth", nil).GetGauge().GetValue(); v != 7 {
		t.Errorf("queue_depth = %v, want 7", v)
	}
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.SetQueueDepth(1)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "brandmodel_queue_depth 1") {
		t.Errorf("scrape output missing queue depth:\n%s", body)
	}
}
