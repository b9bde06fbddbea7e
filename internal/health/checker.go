package health

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/schedadmin/schedadmin/internal/config"
	"github.com/schedadmin/schedadmin/internal/metrics"
	"github.com/schedadmin/schedadmin/internal/panel"
)

// Status represents the reachability of a scheduler resource.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in JSON responses.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TargetHealth holds health information for a scheduler target.
type TargetHealth struct {
	Status              Status    `json:"status"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// Source lists the controllers to poll.
type Source interface {
	Controllers() map[string]*panel.Controller
}

// Checker periodically refreshes every scheduler panel and tracks whether
// its status resource answers.
type Checker struct {
	mu      sync.RWMutex
	targets map[string]*TargetHealth
	source  Source
	metrics *metrics.Collector

	interval         time.Duration
	failureThreshold int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewChecker creates a new health checker.
func NewChecker(src Source, m *metrics.Collector, cfg config.HealthConfig) *Checker {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 1
	}
	return &Checker{
		targets:          make(map[string]*TargetHealth),
		source:           src,
		metrics:          m,
		interval:         cfg.Interval,
		failureThreshold: threshold,
		stopCh:           make(chan struct{}),
	}
}

// Start begins periodic polling.
func (c *Checker) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
	slog.Info("health checker started", "interval", c.interval, "threshold", c.failureThreshold)
}

// Stop stops the health checker. Safe to call multiple times.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	slog.Info("health checker stopped")
}

func (c *Checker) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.stopCh
		cancel()
	}()

	c.checkAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.checkAll(ctx)
		case <-c.stopCh:
			return
		}
	}
}

func (c *Checker) checkAll(ctx context.Context) {
	ctrls := c.source.Controllers()

	const maxWorkers = 10
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

	for id, ctrl := range ctrls {
		id, ctrl := id, ctrl
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			c.check(ctx, id, ctrl)
		}()
	}
	wg.Wait()
}

// CheckNow polls every target once and waits for the results.
func (c *Checker) CheckNow(ctx context.Context) {
	c.checkAll(ctx)
}

func (c *Checker) check(ctx context.Context, id string, ctrl *panel.Controller) {
	cctx := ctx
	if c.interval > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, c.interval)
		defer cancel()
	}

	err := ctrl.Refresh(cctx)
	switch {
	case errors.Is(err, panel.ErrSuperseded):
		// A page load refreshed at the same time; its result counts.
		return
	case ctx.Err() != nil:
		return
	case err != nil:
		c.updateStatus(id, false, err.Error())
	default:
		c.updateStatus(id, true, "")
	}
}

func (c *Checker) updateStatus(id string, healthy bool, errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	th := c.getOrCreate(id)
	th.LastCheck = time.Now()

	if healthy {
		if th.ConsecutiveFailures > 0 {
			slog.Info("scheduler recovered", "target", id, "failures", th.ConsecutiveFailures)
		}
		th.Status = StatusHealthy
		th.ConsecutiveFailures = 0
		th.LastError = ""
	} else {
		th.ConsecutiveFailures++
		th.LastError = errMsg
		if th.ConsecutiveFailures >= c.failureThreshold {
			if th.Status != StatusUnhealthy {
				slog.Warn("scheduler marked unhealthy", "target", id, "failures", th.ConsecutiveFailures, "error", errMsg)
			}
			th.Status = StatusUnhealthy
		}
	}

	if c.metrics != nil {
		c.metrics.SetTargetHealth(id, th.Status != StatusUnhealthy)
	}
}

func (c *Checker) getOrCreate(id string) *TargetHealth {
	th, ok := c.targets[id]
	if !ok {
		th = &TargetHealth{Status: StatusUnknown}
		c.targets[id] = th
	}
	return th
}

// IsHealthy reports whether a target is healthy. Unknown counts as healthy.
func (c *Checker) IsHealthy(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	th, ok := c.targets[id]
	if !ok {
		return true
	}
	return th.Status != StatusUnhealthy
}

// GetStatus returns the health status for a target.
func (c *Checker) GetStatus(id string) TargetHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	th, ok := c.targets[id]
	if !ok {
		return TargetHealth{Status: StatusUnknown}
	}
	return *th
}

// GetAllStatuses returns health statuses for all known targets.
func (c *Checker) GetAllStatuses() map[string]TargetHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]TargetHealth, len(c.targets))
	for id, th := range c.targets {
		result[id] = *th
	}
	return result
}

// OverallHealthy returns true if no target is unhealthy.
func (c *Checker) OverallHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, th := range c.targets {
		if th.Status == StatusUnhealthy {
			return false
		}
	}
	return true
}

// RemoveTarget drops health state and metrics of a removed scheduler.
func (c *Checker) RemoveTarget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.targets, id)
	if c.metrics != nil {
		c.metrics.RemoveTarget(id)
	}
	slog.Info("removed health state", "target", id)
}
