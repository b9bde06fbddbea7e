package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/schedadmin/schedadmin/internal/audit"
	"github.com/schedadmin/schedadmin/internal/config"
	"github.com/schedadmin/schedadmin/internal/metrics"
	"github.com/schedadmin/schedadmin/internal/panel"
	"github.com/schedadmin/schedadmin/internal/scheduler"
)

// ErrUnknownTarget is returned for a scheduler id that is not configured.
var ErrUnknownTarget = errors.New("unknown scheduler")

// Factory builds the controller for one configured scheduler.
type Factory func(id string, t config.SchedulerTarget, defaults config.PanelDefaults) *panel.Controller

type entry struct {
	target config.SchedulerTarget
	ctrl   *panel.Controller
}

// Registry resolves scheduler ids to their panel controllers.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	defaults config.PanelDefaults
	factory  Factory
	onRemove func(id string)
}

// New creates a Registry with one controller per configured scheduler.
func New(cfg *config.Config, factory Factory) *Registry {
	r := &Registry{
		entries:  make(map[string]*entry, len(cfg.Schedulers)),
		defaults: cfg.Panel,
		factory:  factory,
	}
	for id, t := range cfg.Schedulers {
		r.entries[id] = &entry{target: t, ctrl: factory(id, t, cfg.Panel)}
	}
	return r
}

// SetRemoveHook registers a callback run for every target dropped by Reload.
func (r *Registry) SetRemoveHook(fn func(id string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemove = fn
}

// Get returns the controller of the scheduler with the given id.
func (r *Registry) Get(id string) (*panel.Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, id)
	}
	return e.ctrl, nil
}

// Target returns the configuration of a scheduler with credentials masked.
func (r *Registry) Target(id string) (config.SchedulerTarget, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return config.SchedulerTarget{}, fmt.Errorf("%w: %q", ErrUnknownTarget, id)
	}
	return e.target.Redacted(), nil
}

// List returns all scheduler ids in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Default returns the first id in sorted order, or "" when empty.
func (r *Registry) Default() string {
	ids := r.List()
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// Controllers returns a snapshot of all controllers keyed by id.
func (r *Registry) Controllers() map[string]*panel.Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*panel.Controller, len(r.entries))
	for id, e := range r.entries {
		out[id] = e.ctrl
	}
	return out
}

// Reload applies a new configuration. Controllers of unchanged targets are
// kept; changed targets get a new controller and removed ones are closed.
func (r *Registry) Reload(cfg *config.Config) {
	r.mu.Lock()
	defaultsChanged := !reflect.DeepEqual(r.defaults, cfg.Panel)
	r.defaults = cfg.Panel

	var removed []string
	var closing []*panel.Controller
	for id, e := range r.entries {
		if _, ok := cfg.Schedulers[id]; !ok {
			removed = append(removed, id)
			closing = append(closing, e.ctrl)
			delete(r.entries, id)
		}
	}
	for id, t := range cfg.Schedulers {
		e, ok := r.entries[id]
		switch {
		case !ok:
			r.entries[id] = &entry{target: t, ctrl: r.factory(id, t, cfg.Panel)}
			slog.Info("scheduler added", "target", id)
		case defaultsChanged || !reflect.DeepEqual(e.target, t):
			closing = append(closing, e.ctrl)
			r.entries[id] = &entry{target: t, ctrl: r.factory(id, t, cfg.Panel)}
			slog.Info("scheduler updated", "target", id)
		}
	}
	onRemove := r.onRemove
	r.mu.Unlock()

	for _, c := range closing {
		c.Close()
	}
	for _, id := range removed {
		slog.Info("scheduler removed", "target", id)
		if onRemove != nil {
			onRemove(id)
		}
	}
}

// Close closes every controller.
func (r *Registry) Close() {
	for _, c := range r.Controllers() {
		c.Close()
	}
}

// NewFactory returns the production Factory: a REST client per target whose
// requests are observed by m, and a controller whose actions are appended to
// store and counted by m. m and store may be nil.
func NewFactory(m *metrics.Collector, store audit.Store) Factory {
	return func(id string, t config.SchedulerTarget, defaults config.PanelDefaults) *panel.Controller {
		opts := scheduler.Options{
			BaseURL:     t.BaseURL,
			ContextPath: t.ContextPath,
			Timeout:     t.RequestTimeout,
			RatePerSec:  t.RatePerSec,
			Username:    t.Username,
			Password:    t.Password,
			Token:       t.Token,
		}
		if m != nil {
			opts.Observe = func(op string, elapsed time.Duration, err error) {
				m.SchedulerRequest(id, op, elapsed, err)
			}
		}

		ctrl := panel.New(id, scheduler.New(opts), panel.Options{
			BannerDuration:            t.EffectiveBannerDuration(defaults),
			DisableDestroyWhenStopped: t.EffectiveDisableDestroyWhenStopped(defaults),
			EnableStartNewGroup:       t.EffectiveEnableStartNewGroup(defaults),
		})
		ctrl.SetActionHook(actionHook(m, store))
		if m != nil {
			ctrl.SetStatusHook(func(target string, st scheduler.Status) {
				m.UpdateSchedulerStatus(target, st.ExtraThreadsRunning, st.SchedulerRunning, st.SchedulerReconfigured)
			})
		}
		return ctrl
	}
}

func actionHook(m *metrics.Collector, store audit.Store) panel.ActionHook {
	return func(ctx context.Context, res panel.ActionResult) {
		if m != nil {
			m.PanelAction(res.Target, res.Action, res.Result)
		}
		if store == nil {
			return
		}
		e := audit.Entry{
			At:     time.Now(),
			Target: res.Target,
			Actor:  panel.ActorFrom(ctx),
			Action: res.Action,
			Result: res.Result,
			Detail: res.Detail,
			TookMS: res.Elapsed.Milliseconds(),
		}
		if res.Err != nil {
			e.Error = res.Err.Error()
		}
		// The request context may already be cancelled once the action returns.
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := store.Append(actx, e); err != nil {
			slog.Warn("audit append failed", "target", res.Target, "action", res.Action, "err", err)
		}
	}
}
