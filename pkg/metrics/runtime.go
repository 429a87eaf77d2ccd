package metrics

import (
	"github.com/marmos91/dittostore/pkg/runtime"
	"github.com/prometheus/client_golang/prometheus"
)

// runtimeCollector exports runtime.Stats on every scrape.
type runtimeCollector struct {
	rt *runtime.Runtime

	workers *prometheus.Desc
	queued  *prometheus.Desc
	running *prometheus.Desc
	panics  *prometheus.Desc
}

// RegisterRuntime exports the worker usage of rt on the global registry.
// It does nothing when metrics are disabled.
func RegisterRuntime(rt *runtime.Runtime) error {
	if !IsEnabled() {
		return nil
	}
	return RegisterRuntimeWith(GetRegistry(), rt)
}

// RegisterRuntimeWith exports the worker usage of rt on reg.
func RegisterRuntimeWith(reg prometheus.Registerer, rt *runtime.Runtime) error {
	return reg.Register(newRuntimeCollector(rt))
}

func newRuntimeCollector(rt *runtime.Runtime) *runtimeCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(Namespace, "runtime", name), help, nil, nil)
	}
	return &runtimeCollector{
		rt:      rt,
		workers: desc("workers", "Number of runtime worker goroutines"),
		queued:  desc("queued_tasks", "Tasks waiting for a worker"),
		running: desc("running_tasks", "Tasks currently executing"),
		panics:  desc("task_panics_total", "Tasks that panicked"),
	}
}

func (c *runtimeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.workers
	ch <- c.queued
	ch <- c.running
	ch <- c.panics
}

func (c *runtimeCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.rt.Stats()
	ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, float64(s.Workers))
	ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(s.Queued))
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, float64(s.Running))
	ch <- prometheus.MustNewConstMetric(c.panics, prometheus.CounterValue, float64(s.Panics))
}
