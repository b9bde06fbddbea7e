package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/schedadmin/schedadmin/internal/config"
	"github.com/schedadmin/schedadmin/internal/metrics"
	"github.com/schedadmin/schedadmin/internal/panel"
	"github.com/schedadmin/schedadmin/internal/scheduler"
)

var testHealthCfg = config.HealthConfig{
	Interval:         30 * time.Second,
	FailureThreshold: 3,
}

type staticSource map[string]*panel.Controller

func (s staticSource) Controllers() map[string]*panel.Controller { return s }

// fakeScheduler answers status requests until failing is set.
func fakeScheduler(t *testing.T, failing *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(scheduler.Status{ExtraThreadsRunning: 2, SchedulerRunning: true})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newController(t *testing.T, url string) *panel.Controller {
	t.Helper()
	c := panel.New("jira", scheduler.New(scheduler.Options{BaseURL: url}), panel.DefaultOptions())
	t.Cleanup(c.Close)
	return c
}

func TestCheckerInitialState(t *testing.T) {
	c := NewChecker(staticSource{}, nil, testHealthCfg)

	if !c.IsHealthy("unknown") {
		t.Error("unknown target should be treated as healthy")
	}
	if status := c.GetStatus("unknown"); status.Status != StatusUnknown {
		t.Errorf("expected StatusUnknown, got %v", status.Status)
	}
}

func TestCheckerUpdateStatus(t *testing.T) {
	c := NewChecker(staticSource{}, nil, testHealthCfg)

	c.updateStatus("test", true, "")
	if status := c.GetStatus("test"); status.Status != StatusHealthy {
		t.Errorf("expected StatusHealthy, got %v", status.Status)
	}

	// A single failure stays below the threshold.
	c.updateStatus("test", false, "refused")
	if !c.IsHealthy("test") {
		t.Error("should still be healthy after one failure")
	}
	status := c.GetStatus("test")
	if status.ConsecutiveFailures != 1 || status.LastError != "refused" {
		t.Errorf("unexpected status %+v", status)
	}
}

func TestCheckerThresholdAndRecovery(t *testing.T) {
	c := NewChecker(staticSource{}, nil, testHealthCfg)

	for i := 0; i < 3; i++ {
		c.updateStatus("test", false, "refused")
	}
	if c.IsHealthy("test") {
		t.Error("should be unhealthy after reaching the threshold")
	}

	c.updateStatus("test", true, "")
	status := c.GetStatus("test")
	if status.Status != StatusHealthy || status.ConsecutiveFailures != 0 || status.LastError != "" {
		t.Errorf("expected full recovery, got %+v", status)
	}
}

func TestOverallHealthyAndGetAllStatuses(t *testing.T) {
	c := NewChecker(staticSource{}, nil, config.HealthConfig{Interval: time.Second, FailureThreshold: 1})

	c.updateStatus("a", true, "")
	c.updateStatus("b", true, "")
	if !c.OverallHealthy() {
		t.Error("expected overall healthy")
	}
	c.updateStatus("b", false, "down")
	if c.OverallHealthy() {
		t.Error("expected overall unhealthy")
	}
	if all := c.GetAllStatuses(); len(all) != 2 {
		t.Errorf("expected 2 statuses, got %d", len(all))
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		s    Status
		want string
	}{
		{StatusUnknown, "unknown"},
		{StatusHealthy, "healthy"},
		{StatusUnhealthy, "unhealthy"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}

	b, _ := json.Marshal(TargetHealth{Status: StatusHealthy})
	var decoded map[string]any
	json.Unmarshal(b, &decoded)
	if decoded["status"] != "healthy" {
		t.Errorf("expected status to marshal by name, got %v", decoded["status"])
	}
}

func TestDoubleStop(t *testing.T) {
	c := NewChecker(staticSource{}, nil, config.HealthConfig{Interval: time.Hour, FailureThreshold: 1})
	c.Start()
	c.Stop()
	c.Stop()
}

func TestCheckNowRefreshesControllers(t *testing.T) {
	var failing atomic.Bool
	srv := fakeScheduler(t, &failing)
	ctrl := newController(t, srv.URL)

	m := metrics.New()
	c := NewChecker(staticSource{"jira": ctrl}, m, config.HealthConfig{Interval: time.Second, FailureThreshold: 2})

	c.CheckNow(context.Background())
	if got := c.GetStatus("jira").Status; got != StatusHealthy {
		t.Fatalf("expected healthy, got %v", got)
	}
	if vm := ctrl.View(); !vm.Loaded || vm.ExtraThreadsRunning != "2" {
		t.Errorf("expected the panel to be refreshed, got %+v", vm)
	}

	failing.Store(true)
	c.CheckNow(context.Background())
	if got := c.GetStatus("jira").Status; got != StatusHealthy {
		t.Errorf("one failure is below the threshold, got %v", got)
	}
	c.CheckNow(context.Background())
	status := c.GetStatus("jira")
	if status.Status != StatusUnhealthy {
		t.Errorf("expected unhealthy, got %v", status.Status)
	}
	if status.LastError == "" {
		t.Error("expected the refresh error to be recorded")
	}
	if ctrl.View().ExtraThreadsRunning != "2" {
		t.Error("a failed refresh must leave the panel view as it was")
	}
}

func TestRemoveTarget(t *testing.T) {
	m := metrics.New()
	c := NewChecker(staticSource{}, m, testHealthCfg)
	c.updateStatus("gone", true, "")

	c.RemoveTarget("gone")

	if _, ok := c.GetAllStatuses()["gone"]; ok {
		t.Error("state should be removed")
	}
	families, _ := m.Registry.Gather()
	for _, mf := range families {
		if mf.GetName() == "schedadmin_target_health" && len(mf.GetMetric()) != 0 {
			t.Error("health gauge should be removed")
		}
	}
}
