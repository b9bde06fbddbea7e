package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	g.Write(m)
	return m.GetGauge().GetValue()
}

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	c.Write(m)
	return m.GetCounter().GetValue()
}

func TestNewCollectorsDoNotConflict(t *testing.T) {
	// Each collector owns its registry, so building two must not panic.
	a := New()
	b := New()
	if a.Registry == b.Registry {
		t.Error("expected distinct registries")
	}
}

func TestSchedulerRequest(t *testing.T) {
	c := New()

	c.SchedulerRequest("jira", "status", 10*time.Millisecond, nil)
	c.SchedulerRequest("jira", "status", 20*time.Millisecond, nil)
	c.SchedulerRequest("jira", "status", 5*time.Millisecond, errors.New("refused"))

	if v := getCounterValue(c.schedulerRequests.WithLabelValues("jira", "status", "ok")); v != 2 {
		t.Errorf("expected 2 ok requests, got %v", v)
	}
	if v := getCounterValue(c.schedulerRequests.WithLabelValues("jira", "status", "error")); v != 1 {
		t.Errorf("expected 1 failed request, got %v", v)
	}

	m := &dto.Metric{}
	c.schedulerLatency.WithLabelValues("jira", "status").(prometheus.Histogram).Write(m)
	if got := m.GetHistogram().GetSampleCount(); got != 3 {
		t.Errorf("expected 3 latency samples, got %d", got)
	}
}

func TestPanelAction(t *testing.T) {
	c := New()
	c.PanelAction("jira", "configure", "ok")
	c.PanelAction("jira", "configure", "failed")
	c.PanelAction("jira", "configure", "ok")

	if v := getCounterValue(c.panelActions.WithLabelValues("jira", "configure", "ok")); v != 2 {
		t.Errorf("expected 2, got %v", v)
	}
}

func TestUpdateSchedulerStatus(t *testing.T) {
	c := New()
	c.UpdateSchedulerStatus("jira", 4, true, false)

	if v := getGaugeValue(c.extraThreadsRunning.WithLabelValues("jira")); v != 4 {
		t.Errorf("expected 4 threads, got %v", v)
	}
	if v := getGaugeValue(c.schedulerRunning.WithLabelValues("jira")); v != 1 {
		t.Errorf("expected running=1, got %v", v)
	}
	if v := getGaugeValue(c.schedulerReconfigured.WithLabelValues("jira")); v != 0 {
		t.Errorf("expected reconfigured=0, got %v", v)
	}
}

func TestSetTargetHealth(t *testing.T) {
	c := New()
	c.SetTargetHealth("jira", true)
	if v := getGaugeValue(c.targetHealth.WithLabelValues("jira")); v != 1 {
		t.Errorf("expected 1, got %v", v)
	}
	c.SetTargetHealth("jira", false)
	if v := getGaugeValue(c.targetHealth.WithLabelValues("jira")); v != 0 {
		t.Errorf("expected 0, got %v", v)
	}
}

func TestRemoveTarget(t *testing.T) {
	c := New()
	c.SchedulerRequest("jira", "start", time.Millisecond, nil)
	c.PanelAction("jira", "start", "ok")
	c.UpdateSchedulerStatus("jira", 2, true, true)
	c.SetTargetHealth("jira", true)
	c.SetTargetHealth("other", true)

	c.RemoveTarget("jira")

	families, err := c.Registry.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "target" && lp.GetValue() == "jira" {
					t.Errorf("metric %s still has target=jira", mf.GetName())
				}
			}
		}
	}
	if v := getGaugeValue(c.targetHealth.WithLabelValues("other")); v != 1 {
		t.Error("other targets must be kept")
	}
}
