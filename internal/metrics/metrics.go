// Package metrics exports runtime activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/woxQAQ/wasmhost/internal/wasm"
)

const namespace = "wasmhost"

// outcomeOK labels calls that returned without error. Failed calls are
// labelled with their error kind, e.g. "Trap" or "ArityMismatch".
const outcomeOK = "ok"

// Collector implements wasm.Observer on top of a private registry.
type Collector struct {
	registry *prometheus.Registry

	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	traps        *prometheus.CounterVec
	hostCalls    *prometheus.CounterVec
	instances    prometheus.Gauge
}

var _ wasm.Observer = (*Collector)(nil)

// NewCollector creates a collector with its metrics registered.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Export calls by export name and outcome.",
		}, []string{"export", "outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Export call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"export"}),
		traps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traps_total",
			Help:      "Instances that trapped, by reason.",
		}, []string{"reason"}),
		hostCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "host_calls_total",
			Help:      "Guest calls of host functions by function and outcome.",
		}, []string{"function", "outcome"}),
		instances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instances_active",
			Help:      "Live instances.",
		}),
	}

	c.registry.MustRegister(c.calls, c.callDuration, c.traps, c.hostCalls, c.instances)
	return c
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) InstanceOpened(id, module string) {
	c.instances.Inc()
}

func (c *Collector) InstanceClosed(id, module string) {
	c.instances.Dec()
}

func (c *Collector) CallFinished(export string, elapsed time.Duration, err error) {
	c.calls.WithLabelValues(export, outcome(err)).Inc()
	c.callDuration.WithLabelValues(export).Observe(elapsed.Seconds())
}

// InstanceTrapped counts the trap once, however many nested calls report it.
func (c *Collector) InstanceTrapped(id string, reason wasm.TrapReason) {
	c.traps.WithLabelValues(string(reason)).Inc()
}

func (c *Collector) HostCalled(function string, err error) {
	c.hostCalls.WithLabelValues(function, outcome(err)).Inc()
}

// WriteFile writes every metric in the text exposition format to path.
func (c *Collector) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}

func outcome(err error) string {
	if err == nil {
		return outcomeOK
	}
	return wasm.KindOf(err)
}
