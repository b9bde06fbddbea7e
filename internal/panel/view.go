package panel

import (
	"strconv"

	"github.com/schedadmin/schedadmin/internal/scheduler"
)

// Indicator is the tick/cross cue shown for boolean scheduler flags.
type Indicator string

const (
	IndicatorTick  Indicator = "tick"
	IndicatorCross Indicator = "cross"
)

func indicatorFor(b bool) Indicator {
	if b {
		return IndicatorTick
	}
	return IndicatorCross
}

// ErrorState is the inline error block under the configuration form.
type ErrorState struct {
	Active  bool   `json:"active"`
	Message string `json:"message"`
}

// Class returns the CSS class of the configuration-errors block.
func (e ErrorState) Class() string {
	if e.Active {
		return "active-errors"
	}
	return "hidden-errors"
}

// Banner is a transient success indicator. Seq increases every time the
// banner is shown, so a client can run its fade animation once per show.
type Banner struct {
	Visible bool   `json:"visible"`
	Seq     uint64 `json:"seq"`
}

// ViewModel is the full visible state of the admin panel for one scheduler.
// Field names follow the element ids of the admin page.
type ViewModel struct {
	ExtraThreadsToConfigure string    `json:"extraThreadsToConfigure"`
	ExtraThreadsRunning     string    `json:"extraThreadsRunning"`
	ThreadGroupName         string    `json:"threadGroupName"`
	ThreadGroup             string    `json:"threadGroup"`
	ThreadGroupState        string    `json:"threadGroupState"`
	ExtraThreadGroupStarted Indicator `json:"extraThreadGroupStarted"`
	DefaultThreadGroup      string    `json:"defaultThreadGroup"`
	ToggleScheduler         bool      `json:"toggleScheduler"`
	SchedulerReconfigured   Indicator `json:"schedulerReconfigured"`

	DestroyDisabled      bool `json:"destroyThreadGroupDisabled"`
	StartNewGroupEnabled bool `json:"startExtraThreadsEnabled"`

	ConfigurationErrors  ErrorState `json:"configurationErrors"`
	ConfigurationSuccess Banner     `json:"configurationSuccess"`
	ThreadStartSuccess   Banner     `json:"threadStartSuccess"`

	// Busy is set while a mutating request is in flight; controls are disabled.
	Busy bool `json:"busy"`
	// Loaded is false until the first status fetch succeeds.
	Loaded bool `json:"loaded"`
}

// Render writes every status-bound field of vm from st and returns the
// result. Error and banner state are carried over untouched. Render has no
// side effects, so rendering the same status twice yields the same view.
func Render(vm ViewModel, st scheduler.Status, opts Options) ViewModel {
	vm.ExtraThreadsToConfigure = strconv.Itoa(st.ExtraThreadsToConfigure)
	vm.ExtraThreadsRunning = strconv.Itoa(st.ExtraThreadsRunning)
	vm.ThreadGroupName = st.ThreadGroupName
	vm.ThreadGroup, vm.ThreadGroupState = scheduler.SplitThreadGroupName(st.ThreadGroupName)
	vm.ExtraThreadGroupStarted = indicatorFor(st.ExtraThreadGroupStarted)
	vm.DefaultThreadGroup = st.DefaultThreadGroup
	vm.ToggleScheduler = st.SchedulerRunning
	vm.SchedulerReconfigured = indicatorFor(st.SchedulerReconfigured)
	vm.DestroyDisabled = opts.DisableDestroyWhenStopped && !st.ExtraThreadGroupStarted
	vm.StartNewGroupEnabled = opts.EnableStartNewGroup
	vm.Loaded = true
	return vm
}
