// Package telemetry provides internal counters, gauges, and histograms
// for self-observation by fiber, history, and execution. It stops at the
// metric primitives and a private registry: there is no HTTP exposition
// handler here, and nothing in this module starts one.
package telemetry

import (
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Registry collects every metric a component registers, namespaced so
// two components can each register a "depth" gauge without colliding.
type Registry struct {
	namespace string
	prom      *prometheus.Registry
}

// NewRegistry returns an empty Registry. namespace is prefixed to every
// metric name registered through it (e.g. "execore").
func NewRegistry(namespace string) *Registry {
	return &Registry{namespace: namespace, prom: prometheus.NewRegistry()}
}

func (r *Registry) fqName(subsystem, name string) string {
	return prometheus.BuildFQName(r.namespace, subsystem, name)
}

// Counter is a monotonically increasing value.
type Counter struct {
	c prometheus.Counter
}

// NewCounter registers and returns a new Counter under subsystem/name.
func (r *Registry) NewCounter(subsystem, name, help string) *Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: r.fqName(subsystem, name),
		Help: help,
	})
	r.prom.MustRegister(c)
	return &Counter{c: c}
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.c.Inc() }

// Add increments the counter by n. Negative values are ignored rather
// than passed on to prometheus.Counter, which panics on them -- counters
// only go up.
func (c *Counter) Add(n float64) {
	if n < 0 {
		return
	}
	c.c.Add(n)
}

// Value returns the counter's current value.
func (c *Counter) Value() float64 { return testutil.ToFloat64(c.c) }

// Gauge is a value that can go up and down.
type Gauge struct {
	g prometheus.Gauge
}

// NewGauge registers and returns a new Gauge under subsystem/name.
func (r *Registry) NewGauge(subsystem, name, help string) *Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: r.fqName(subsystem, name),
		Help: help,
	})
	r.prom.MustRegister(g)
	return &Gauge{g: g}
}

// Set sets the gauge to v.
func (g *Gauge) Set(v float64) { g.g.Set(v) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.g.Inc() }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.g.Dec() }

// Value returns the gauge's current value.
func (g *Gauge) Value() float64 { return testutil.ToFloat64(g.g) }

// Histogram tracks both a real Prometheus histogram (for bucketed
// distribution) and a small local count/sum/min/max, since Prometheus's
// own histogram type exposes bucket counts, not exact min/max.
type Histogram struct {
	h prometheus.Histogram

	mu    sync.Mutex
	count int64
	sum   float64
	min   float64
	max   float64
}

// NewHistogram registers and returns a new Histogram with the given
// bucket boundaries (nil selects prometheus.DefBuckets).
func (r *Registry) NewHistogram(subsystem, name, help string, buckets []float64) *Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    r.fqName(subsystem, name),
		Help:    help,
		Buckets: buckets,
	})
	r.prom.MustRegister(h)
	return &Histogram{h: h, min: math.MaxFloat64, max: -math.MaxFloat64}
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.h.Observe(v)
	h.mu.Lock()
	h.count++
	h.sum += v
	if v < h.min {
		h.min = v
	}
	if v > h.max {
		h.max = v
	}
	h.mu.Unlock()
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Mean returns the arithmetic mean of all observations, or 0 if none.
func (h *Histogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return h.sum / float64(h.count)
}

// Min returns the smallest observed value, or 0 if none.
func (h *Histogram) Min() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return h.min
}

// Max returns the largest observed value, or 0 if none.
func (h *Histogram) Max() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return h.max
}

// Timer records the elapsed duration (in milliseconds) into h when
// Stop is called.
type Timer struct {
	start time.Time
	hist  *Histogram
}

// NewTimer starts a timer that will record into h when stopped.
func NewTimer(h *Histogram) *Timer {
	return &Timer{start: time.Now(), hist: h}
}

// Stop records the elapsed time in milliseconds and returns it.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	if t.hist != nil {
		t.hist.Observe(float64(d.Milliseconds()))
	}
	return d
}
