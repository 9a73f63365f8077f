// Package metrics holds the Prometheus collectors shared by the executor,
// the bridge manager and the peer link. A nil *Collector records nothing, so
// components can take one unconditionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bridge"

// Collector groups every bridge metric.
type Collector struct {
	calls        *prometheus.CounterVec
	syncTimeouts prometheus.Counter
	callerRuns   prometheus.Counter
	queueDepth   *prometheus.GaugeVec
	frames       *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Method calls by direction, bridge type and outcome.",
		}, []string{"direction", "type", "outcome"}),
		syncTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_timeouts_total",
			Help:      "Synchronous calls that gave up waiting.",
		}),
		callerRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "caller_runs_total",
			Help:      "Tasks run on the submitting goroutine because the backlog was full.",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Items waiting in serial task queues.",
		}, []string{"tag"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "frames_total",
			Help:      "Peer link frames by direction and frame type.",
		}, []string{"direction", "frame"}),
	}

	for _, col := range []prometheus.Collector{c.calls, c.syncTimeouts, c.callerRuns, c.queueDepth, c.frames} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObserveCall counts one call. direction is "inbound" or "outbound", typ the
// bridge type name, outcome "ok" or an error code name.
func (c *Collector) ObserveCall(direction, typ, outcome string) {
	if c == nil {
		return
	}
	c.calls.WithLabelValues(direction, typ, outcome).Inc()
}

// SyncTimeout counts one abandoned synchronous wait.
func (c *Collector) SyncTimeout() {
	if c == nil {
		return
	}
	c.syncTimeouts.Inc()
}

// CallerRuns counts one caller-runs fallback in the worker pool.
func (c *Collector) CallerRuns() {
	if c == nil {
		return
	}
	c.callerRuns.Inc()
}

// QueueDepth adds delta to the depth gauge of a task queue tag.
func (c *Collector) QueueDepth(tag string, delta float64) {
	if c == nil {
		return
	}
	c.queueDepth.WithLabelValues(tag).Add(delta)
}

// Frame counts one peer link frame. direction is "in" or "out".
func (c *Collector) Frame(direction, frame string) {
	if c == nil {
		return
	}
	c.frames.WithLabelValues(direction, frame).Inc()
}
