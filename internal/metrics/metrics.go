package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collector holds all Prometheus metrics for schedadmin.
type Collector struct {
	Registry *prometheus.Registry

	schedulerRequests     *prometheus.CounterVec
	schedulerLatency      *prometheus.HistogramVec
	panelActions          *prometheus.CounterVec
	extraThreadsRunning   *prometheus.GaugeVec
	schedulerRunning      *prometheus.GaugeVec
	schedulerReconfigured *prometheus.GaugeVec
	targetHealth          *prometheus.GaugeVec
}

// New creates all metrics and registers them with a dedicated registry.
func New() *Collector {
	c := &Collector{
		Registry: prometheus.NewRegistry(),
		schedulerRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schedadmin_scheduler_requests_total",
				Help: "Requests sent to the scheduler REST resource by operation and outcome",
			},
			[]string{"target", "op", "outcome"},
		),
		schedulerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "schedadmin_scheduler_request_duration_seconds",
				Help:    "Latency of scheduler REST requests in seconds",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"target", "op"},
		),
		panelActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schedadmin_panel_actions_total",
				Help: "Panel actions by action and result (ok, failed, declined, busy, disabled)",
			},
			[]string{"target", "action", "result"},
		),
		extraThreadsRunning: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "schedadmin_extra_threads_running",
				Help: "Extra scheduler threads reported running",
			},
			[]string{"target"},
		),
		schedulerRunning: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "schedadmin_scheduler_running",
				Help: "Whether the scheduler reports running (1) or paused (0)",
			},
			[]string{"target"},
		),
		schedulerReconfigured: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "schedadmin_scheduler_reconfigured",
				Help: "Whether the pending scheduler configuration has been applied",
			},
			[]string{"target"},
		),
		targetHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "schedadmin_target_health",
				Help: "Reachability of the scheduler resource (1=healthy, 0=unhealthy)",
			},
			[]string{"target"},
		),
	}

	c.Registry.MustRegister(
		c.schedulerRequests,
		c.schedulerLatency,
		c.panelActions,
		c.extraThreadsRunning,
		c.schedulerRunning,
		c.schedulerReconfigured,
		c.targetHealth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// SchedulerRequest records one REST request to a scheduler.
func (c *Collector) SchedulerRequest(target, op string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.schedulerRequests.WithLabelValues(target, op, outcome).Inc()
	c.schedulerLatency.WithLabelValues(target, op).Observe(d.Seconds())
}

// PanelAction counts a panel action result.
func (c *Collector) PanelAction(target, action, result string) {
	c.panelActions.WithLabelValues(target, action, result).Inc()
}

// UpdateSchedulerStatus sets the status gauges of a target.
func (c *Collector) UpdateSchedulerStatus(target string, extraThreadsRunning int, running, reconfigured bool) {
	c.extraThreadsRunning.WithLabelValues(target).Set(float64(extraThreadsRunning))
	c.schedulerRunning.WithLabelValues(target).Set(boolToFloat(running))
	c.schedulerReconfigured.WithLabelValues(target).Set(boolToFloat(reconfigured))
}

// SetTargetHealth sets the health gauge for a target.
func (c *Collector) SetTargetHealth(target string, healthy bool) {
	c.targetHealth.WithLabelValues(target).Set(boolToFloat(healthy))
}

// RemoveTarget removes all metrics for a target.
func (c *Collector) RemoveTarget(target string) {
	c.schedulerRequests.DeletePartialMatch(prometheus.Labels{"target": target})
	c.schedulerLatency.DeletePartialMatch(prometheus.Labels{"target": target})
	c.panelActions.DeletePartialMatch(prometheus.Labels{"target": target})
	c.extraThreadsRunning.DeleteLabelValues(target)
	c.schedulerRunning.DeleteLabelValues(target)
	c.schedulerReconfigured.DeleteLabelValues(target)
	c.targetHealth.DeleteLabelValues(target)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
