package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/schedadmin/schedadmin/internal/scheduler"
)

var (
	// ErrBusy is returned when a mutating action is already in flight.
	ErrBusy = errors.New("another scheduler action is in progress")
	// ErrDeclined is returned when the toggle confirmation was not given.
	ErrDeclined = errors.New("action not confirmed")
	// ErrActionDisabled is returned for actions the panel currently disables.
	ErrActionDisabled = errors.New("action is disabled")
	// ErrSuperseded is returned by a refresh that a newer refresh replaced.
	ErrSuperseded = errors.New("refresh superseded by a newer request")
)

// Action names reported to the action hook.
const (
	ActionConfigure     = "configure"
	ActionStart         = "start"
	ActionPause         = "pause"
	ActionDestroy       = "destroy_thread_group"
	ActionStartNewGroup = "start_new_group"
)

// Action results reported to the action hook.
const (
	ResultOK       = "ok"
	ResultFailed   = "failed"
	ResultDeclined = "declined"
	ResultBusy     = "busy"
	ResultDisabled = "disabled"
)

// SchedulerAPI is the remote scheduler resource the controller drives.
type SchedulerAPI interface {
	Status(ctx context.Context) (scheduler.Status, error)
	Configure(ctx context.Context, raw string) error
	Start(ctx context.Context) error
	Pause(ctx context.Context) error
	StartWithConfiguration(ctx context.Context) error
	DestroyThreadGroup(ctx context.Context, name string) error
}

// Options is the behaviour set of a panel.
type Options struct {
	// BannerDuration is how long a success banner stays visible.
	BannerDuration time.Duration `json:"bannerDuration"`
	// DisableDestroyWhenStopped disables destroy while no extra group runs.
	DisableDestroyWhenStopped bool `json:"disableDestroyWhenStopped"`
	// EnableStartNewGroup makes the start-new-group action available.
	EnableStartNewGroup bool `json:"enableStartNewGroup"`
}

// DefaultOptions returns the superset behaviour: destroy control disabled
// while stopped, a 5s banner and the start-new-group action enabled.
func DefaultOptions() Options {
	return Options{
		BannerDuration:            5 * time.Second,
		DisableDestroyWhenStopped: true,
		EnableStartNewGroup:       true,
	}
}

// ActionResult describes one completed (or refused) panel action.
type ActionResult struct {
	Target  string
	Action  string
	Result  string
	Detail  string
	Err     error
	Elapsed time.Duration
}

// ActionHook is called after every mutating action.
type ActionHook func(ctx context.Context, r ActionResult)

// StatusHook is called with every successfully fetched status.
type StatusHook func(target string, st scheduler.Status)

type bannerKind int

const (
	bannerConfiguration bannerKind = iota
	bannerThreadStart
)

// Controller synchronizes the panel view of one scheduler with its
// remotely reported status and turns panel actions into REST calls.
type Controller struct {
	id   string
	api  SchedulerAPI
	opts Options

	mu            sync.Mutex
	vm            ViewModel
	busy          bool
	refreshGen    uint64
	refreshCancel context.CancelFunc
	bannerTimers  [2]*time.Timer
	subs          map[chan ViewModel]struct{}
	closed        bool

	onAction ActionHook
	onStatus StatusHook
}

// New creates a controller for the scheduler identified by id.
func New(id string, api SchedulerAPI, opts Options) *Controller {
	c := &Controller{
		id:   id,
		api:  api,
		opts: opts,
		subs: make(map[chan ViewModel]struct{}),
	}
	c.vm.StartNewGroupEnabled = opts.EnableStartNewGroup
	c.vm.DestroyDisabled = opts.DisableDestroyWhenStopped
	c.vm.ExtraThreadGroupStarted = IndicatorCross
	c.vm.SchedulerReconfigured = IndicatorCross
	return c
}

// SetActionHook registers a callback for completed actions.
func (c *Controller) SetActionHook(h ActionHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAction = h
}

// SetStatusHook registers a callback for fetched statuses.
func (c *Controller) SetStatusHook(h StatusHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = h
}

// ID returns the scheduler target id.
func (c *Controller) ID() string { return c.id }

// Options returns the behaviour set.
func (c *Controller) Options() Options { return c.opts }

// View returns a snapshot of the current view model.
func (c *Controller) View() ViewModel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vm
}

// Subscribe returns a channel that receives the latest view after every
// change. Slow subscribers only ever see the most recent view. The returned
// func unsubscribes.
func (c *Controller) Subscribe() (<-chan ViewModel, func()) {
	ch := make(chan ViewModel, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := c.subs[ch]; ok {
				delete(c.subs, ch)
				close(ch)
			}
		})
	}
}

// Refresh fetches the scheduler status and renders it. A newer Refresh
// cancels an older one still in flight; the older returns ErrSuperseded and
// its result is dropped. On failure the view is left as it was.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.refreshCancel != nil {
		c.refreshCancel()
	}
	c.refreshGen++
	gen := c.refreshGen
	rctx, cancel := context.WithCancel(ctx)
	c.refreshCancel = cancel
	c.mu.Unlock()
	defer cancel()

	st, err := c.api.Status(rctx)

	c.mu.Lock()
	if gen != c.refreshGen {
		c.mu.Unlock()
		return ErrSuperseded
	}
	c.refreshCancel = nil
	if err != nil {
		c.mu.Unlock()
		slog.Debug("status refresh failed", "target", c.id, "err", err)
		return fmt.Errorf("refreshing status of %s: %w", c.id, err)
	}
	c.vm = Render(c.vm, st, c.opts)
	c.publishLocked()
	hook := c.onStatus
	c.mu.Unlock()

	if hook != nil {
		hook(c.id, st)
	}
	return nil
}

// SubmitConfiguration sends the desired extra thread count as entered. On
// success the error block is cleared and the configuration banner shown; on
// failure the server message is shown verbatim. The status is refreshed in
// both cases.
func (c *Controller) SubmitConfiguration(ctx context.Context, desired string) error {
	return c.submit(ctx, ActionConfigure, bannerConfiguration, desired, func(ctx context.Context) error {
		return c.api.Configure(ctx, desired)
	})
}

// StartNewThreadGroup starts an extra thread group from the stored
// configuration, with the same feedback as SubmitConfiguration.
func (c *Controller) StartNewThreadGroup(ctx context.Context) error {
	if !c.opts.EnableStartNewGroup {
		c.record(ctx, ActionResult{Action: ActionStartNewGroup, Result: ResultDisabled, Err: ErrActionDisabled})
		return ErrActionDisabled
	}
	return c.submit(ctx, ActionStartNewGroup, bannerThreadStart, "", func(ctx context.Context) error {
		return c.api.StartWithConfiguration(ctx)
	})
}

func (c *Controller) submit(ctx context.Context, action string, banner bannerKind, detail string, call func(context.Context) error) error {
	if err := c.begin(); err != nil {
		c.record(ctx, ActionResult{Action: action, Result: ResultBusy, Detail: detail, Err: err})
		return err
	}
	defer c.end()

	start := time.Now()
	err := call(ctx)

	c.mu.Lock()
	if err == nil {
		c.vm.ConfigurationErrors = ErrorState{}
		c.showBannerLocked(banner)
	} else {
		c.vm.ConfigurationErrors = ErrorState{Active: true, Message: errorMessage(err)}
	}
	c.publishLocked()
	c.mu.Unlock()

	c.refreshAfter(ctx)
	c.record(ctx, resultOf(action, detail, err, time.Since(start)))
	return err
}

// ToggleRunning moves the scheduler into the target running state after
// confirm agrees. When confirmation is refused the checkbox reverts and no
// request is made. A confirmed toggle refreshes on success and failure.
func (c *Controller) ToggleRunning(ctx context.Context, target bool, confirm Confirmer) error {
	action := ActionPause
	if target {
		action = ActionStart
	}

	ok := false
	if confirm != nil {
		var err error
		ok, err = confirm.Confirm(ctx, TogglePrompt(target))
		if err != nil {
			slog.Warn("toggle confirmation failed", "target", c.id, "err", err)
			ok = false
		}
	}
	if !ok {
		c.revertToggle(target)
		c.record(ctx, ActionResult{Action: action, Result: ResultDeclined, Err: ErrDeclined})
		return ErrDeclined
	}

	if err := c.begin(); err != nil {
		c.revertToggle(target)
		c.record(ctx, ActionResult{Action: action, Result: ResultBusy, Err: err})
		return err
	}
	defer c.end()

	c.mu.Lock()
	c.vm.ToggleScheduler = target
	c.publishLocked()
	c.mu.Unlock()

	start := time.Now()
	var err error
	if target {
		err = c.api.Start(ctx)
	} else {
		err = c.api.Pause(ctx)
	}
	c.refreshAfter(ctx)
	c.record(ctx, resultOf(action, "", err, time.Since(start)))
	return err
}

// DestroyThreadGroup deletes the thread group currently displayed in the
// panel, then refreshes on success. Failures give no panel feedback.
func (c *Controller) DestroyThreadGroup(ctx context.Context) error {
	c.mu.Lock()
	name := c.vm.ThreadGroupName
	disabled := c.vm.DestroyDisabled
	c.mu.Unlock()

	if disabled {
		c.record(ctx, ActionResult{Action: ActionDestroy, Result: ResultDisabled, Detail: name, Err: ErrActionDisabled})
		return ErrActionDisabled
	}
	if err := c.begin(); err != nil {
		c.record(ctx, ActionResult{Action: ActionDestroy, Result: ResultBusy, Detail: name, Err: err})
		return err
	}
	defer c.end()

	start := time.Now()
	err := c.api.DestroyThreadGroup(ctx, name)
	if err == nil {
		c.refreshAfter(ctx)
	}
	c.record(ctx, resultOf(ActionDestroy, name, err, time.Since(start)))
	return err
}

// Close stops banner timers, cancels an in-flight refresh and closes all
// subscriptions.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for i, t := range c.bannerTimers {
		if t != nil {
			t.Stop()
			c.bannerTimers[i] = nil
		}
	}
	if c.refreshCancel != nil {
		c.refreshCancel()
		c.refreshCancel = nil
	}
	for ch := range c.subs {
		delete(c.subs, ch)
		close(ch)
	}
}

func (c *Controller) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrBusy
	}
	c.busy = true
	c.vm.Busy = true
	c.publishLocked()
	return nil
}

func (c *Controller) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	c.vm.Busy = false
	c.publishLocked()
}

func (c *Controller) revertToggle(target bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vm.ToggleScheduler = !target
	c.publishLocked()
}

// refreshAfter re-fetches status after an action. Its errors are dropped:
// a failed fetch leaves the view stale.
func (c *Controller) refreshAfter(ctx context.Context) {
	_ = c.Refresh(ctx)
}

func (c *Controller) showBannerLocked(kind bannerKind) {
	b := &c.vm.ConfigurationSuccess
	if kind == bannerThreadStart {
		b = &c.vm.ThreadStartSuccess
	}
	b.Visible = true
	b.Seq++
	seq := b.Seq

	if t := c.bannerTimers[kind]; t != nil {
		t.Stop()
	}
	if c.closed {
		return
	}
	c.bannerTimers[kind] = time.AfterFunc(c.opts.BannerDuration, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		b := &c.vm.ConfigurationSuccess
		if kind == bannerThreadStart {
			b = &c.vm.ThreadStartSuccess
		}
		// A newer show owns the banner now.
		if b.Seq != seq || !b.Visible {
			return
		}
		b.Visible = false
		c.publishLocked()
	})
}

func (c *Controller) publishLocked() {
	for ch := range c.subs {
		select {
		case ch <- c.vm:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- c.vm
		}
	}
}

func (c *Controller) record(ctx context.Context, r ActionResult) {
	r.Target = c.id
	c.mu.Lock()
	hook := c.onAction
	c.mu.Unlock()

	if r.Err != nil && r.Result == ResultFailed {
		slog.Warn("scheduler action failed", "target", c.id, "action", r.Action, "err", r.Err)
	} else if r.Result == ResultOK {
		slog.Info("scheduler action completed", "target", c.id, "action", r.Action, "elapsed", r.Elapsed)
	}
	if hook != nil {
		hook(ctx, r)
	}
}

func resultOf(action, detail string, err error, elapsed time.Duration) ActionResult {
	r := ActionResult{Action: action, Result: ResultOK, Detail: detail, Err: err, Elapsed: elapsed}
	if err != nil {
		r.Result = ResultFailed
	}
	return r
}

// errorMessage returns the text shown in the configuration error block: the
// scheduler's message when it sent one, otherwise the error itself.
func errorMessage(err error) string {
	var apiErr *scheduler.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
