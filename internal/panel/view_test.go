package panel

import (
	"testing"

	"github.com/schedadmin/schedadmin/internal/scheduler"
)

var runningStatus = scheduler.Status{
	ExtraThreadsToConfigure: 5,
	ExtraThreadsRunning:     5,
	ThreadGroupName:         "extra-1",
	ExtraThreadGroupStarted: true,
	DefaultThreadGroup:      "main",
	SchedulerRunning:        true,
	SchedulerReconfigured:   false,
}

func TestRenderScenario(t *testing.T) {
	vm := Render(ViewModel{}, runningStatus, DefaultOptions())

	if vm.ExtraThreadsToConfigure != "5" {
		t.Errorf("expected input value 5, got %q", vm.ExtraThreadsToConfigure)
	}
	if vm.ExtraThreadsRunning != "5" {
		t.Errorf("expected running count 5, got %q", vm.ExtraThreadsRunning)
	}
	if vm.ExtraThreadGroupStarted != IndicatorTick {
		t.Errorf("expected started tick, got %s", vm.ExtraThreadGroupStarted)
	}
	if !vm.ToggleScheduler {
		t.Error("expected scheduler checkbox checked")
	}
	if vm.SchedulerReconfigured != IndicatorCross {
		t.Errorf("expected reconfigured cross, got %s", vm.SchedulerReconfigured)
	}
	if vm.ThreadGroupName != "extra-1" || vm.DefaultThreadGroup != "main" {
		t.Errorf("unexpected group names %q / %q", vm.ThreadGroupName, vm.DefaultThreadGroup)
	}
	if vm.DestroyDisabled {
		t.Error("destroy should be enabled while the extra group runs")
	}
	if !vm.Loaded {
		t.Error("expected Loaded after render")
	}
}

func TestRenderIdempotent(t *testing.T) {
	statuses := []scheduler.Status{
		runningStatus,
		{},
		{ExtraThreadsToConfigure: 16, ThreadGroupName: "Caesium-2:Paused", SchedulerReconfigured: true},
	}
	for _, st := range statuses {
		once := Render(ViewModel{}, st, DefaultOptions())
		twice := Render(once, st, DefaultOptions())
		if once != twice {
			t.Errorf("render not idempotent for %+v:\n%+v\n%+v", st, once, twice)
		}
	}
}

func TestRenderKeepsErrorAndBannerState(t *testing.T) {
	vm := ViewModel{
		ConfigurationErrors:  ErrorState{Active: true, Message: "bad"},
		ConfigurationSuccess: Banner{Visible: true, Seq: 3},
		Busy:                 true,
	}
	out := Render(vm, runningStatus, DefaultOptions())
	if out.ConfigurationErrors != vm.ConfigurationErrors {
		t.Errorf("error state overwritten: %+v", out.ConfigurationErrors)
	}
	if out.ConfigurationSuccess != vm.ConfigurationSuccess {
		t.Errorf("banner overwritten: %+v", out.ConfigurationSuccess)
	}
	if !out.Busy {
		t.Error("busy flag overwritten")
	}
}

func TestRenderDestroyControl(t *testing.T) {
	stopped := scheduler.Status{ExtraThreadGroupStarted: false}

	if !Render(ViewModel{}, stopped, DefaultOptions()).DestroyDisabled {
		t.Error("destroy should be disabled while no extra group runs")
	}

	opts := DefaultOptions()
	opts.DisableDestroyWhenStopped = false
	if Render(ViewModel{}, stopped, opts).DestroyDisabled {
		t.Error("destroy should stay enabled when the disable control is off")
	}
}

func TestRenderSplitsThreadGroupLabel(t *testing.T) {
	vm := Render(ViewModel{}, scheduler.Status{ThreadGroupName: "Caesium-2:Started"}, DefaultOptions())
	if vm.ThreadGroup != "Caesium-2" || vm.ThreadGroupState != "Started" {
		t.Errorf("expected Caesium-2/Started, got %q/%q", vm.ThreadGroup, vm.ThreadGroupState)
	}
	if vm.ThreadGroupName != "Caesium-2:Started" {
		t.Errorf("displayed label must stay verbatim, got %q", vm.ThreadGroupName)
	}
}

func TestErrorStateClass(t *testing.T) {
	if (ErrorState{}).Class() != "hidden-errors" {
		t.Error("inactive errors should be hidden")
	}
	if (ErrorState{Active: true}).Class() != "active-errors" {
		t.Error("active errors should be marked active")
	}
}
