// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package metric provides server metric primitives exportable to
// Prometheus. Components own a Metrics struct of named counters and
// gauges; a Registry aggregates them for scraping.
package metric

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cockroachdb/kvcc/pkg/util/syncutil"
)

// Metadata holds the non-numeric portions of a metric.
type Metadata struct {
	Name string
	Help string
}

// Counter holds a monotonically increasing value.
type Counter struct {
	Metadata
	count int64
	desc  *prometheus.Desc
}

// NewCounter creates a counter.
func NewCounter(metadata Metadata) *Counter {
	return &Counter{
		Metadata: metadata,
		desc:     prometheus.NewDesc(metadata.Name, metadata.Help, nil, nil),
	}
}

// Inc atomically increments the counter by the given value.
func (c *Counter) Inc(i int64) {
	atomic.AddInt64(&c.count, i)
}

// Count returns the current value of the counter.
func (c *Counter) Count() int64 {
	return atomic.LoadInt64(&c.count)
}

// Describe implements prometheus.Collector.
func (c *Counter) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector.
func (c *Counter) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(c.Count()))
}

// Gauge holds a value that can go up and down.
type Gauge struct {
	Metadata
	value int64
	desc  *prometheus.Desc
}

// NewGauge creates a gauge.
func NewGauge(metadata Metadata) *Gauge {
	return &Gauge{
		Metadata: metadata,
		desc:     prometheus.NewDesc(metadata.Name, metadata.Help, nil, nil),
	}
}

// Update atomically sets the gauge to the given value.
func (g *Gauge) Update(v int64) {
	atomic.StoreInt64(&g.value, v)
}

// Inc atomically increments the gauge by the given value.
func (g *Gauge) Inc(i int64) {
	atomic.AddInt64(&g.value, i)
}

// Dec atomically decrements the gauge by the given value.
func (g *Gauge) Dec(i int64) {
	atomic.AddInt64(&g.value, -i)
}

// Value returns the current value of the gauge.
func (g *Gauge) Value() int64 {
	return atomic.LoadInt64(&g.value)
}

// Describe implements prometheus.Collector.
func (g *Gauge) Describe(ch chan<- *prometheus.Desc) {
	ch <- g.desc
}

// Collect implements prometheus.Collector.
func (g *Gauge) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(g.desc, prometheus.GaugeValue, float64(g.Value()))
}

// A Registry bundles up the metrics owned by the various components of a
// store so they can be registered with a prometheus.Registerer in one shot.
type Registry struct {
	mu      syncutil.Mutex
	tracked []prometheus.Collector
}

// NewRegistry creates a new Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// AddMetric adds the passed-in metric to the registry.
func (r *Registry) AddMetric(c prometheus.Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracked = append(r.tracked, c)
}

// MustRegister registers every tracked metric with the given registerer,
// panicking on duplicate registration.
func (r *Registry) MustRegister(reg prometheus.Registerer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.tracked {
		reg.MustRegister(c)
	}
}

var (
	_ prometheus.Collector = (*Counter)(nil)
	_ prometheus.Collector = (*Gauge)(nil)
)
