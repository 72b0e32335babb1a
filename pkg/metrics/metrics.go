// Metrics collection
//
// Counters, gauges and histograms keyed by label sets, written in the
// Prometheus text exposition format.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MetricType is the exposition type of a metric.
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	default:
		return "untyped"
	}
}

// Labels is one label set.
type Labels map[string]string

// Key returns a canonical form of l, usable as a map key.
func (l Labels) Key() string {
	if len(l) == 0 {
		return ""
	}
	keys := l.sortedKeys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + l[k]
	}
	return strings.Join(parts, ",")
}

// String formats l as {k="v",...}.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	keys := l.sortedKeys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + `="` + escapeLabel(l[k]) + `"`
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// With returns a copy of l with key set to value.
func (l Labels) With(key, value string) Labels {
	out := l.clone()
	out[key] = value
	return out
}

func (l Labels) clone() Labels {
	out := make(Labels, len(l)+1)
	for k, v := range l {
		out[k] = v
	}
	return out
}

func (l Labels) sortedKeys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabel(s string) string {
	return labelEscaper.Replace(s)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Metric is anything the registry can write.
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	Write(sb *strings.Builder)
}

// family holds the per-label-set series of one metric.
type family[V any] struct {
	name string
	help string
	typ  MetricType

	mu     sync.Mutex
	series map[string]*series[V]
}

type series[V any] struct {
	labels Labels
	value  V
}

func newFamily[V any](name, help string, typ MetricType) family[V] {
	return family[V]{name: name, help: help, typ: typ, series: make(map[string]*series[V])}
}

func (f *family[V]) Name() string     { return f.name }
func (f *family[V]) Help() string     { return f.help }
func (f *family[V]) Type() MetricType { return f.typ }

// update runs fn on the series for labels, creating it with init.
func (f *family[V]) update(labels Labels, init func() V, fn func(*V)) {
	key := labels.Key()
	f.mu.Lock()
	s, ok := f.series[key]
	if !ok {
		s = &series[V]{labels: labels.clone(), value: init()}
		f.series[key] = s
	}
	fn(&s.value)
	f.mu.Unlock()
}

func (f *family[V]) read(labels Labels, fn func(V)) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.series[labels.Key()]
	if ok {
		fn(s.value)
	}
	return ok
}

// each visits the series in label-key order.
func (f *family[V]) each(fn func(Labels, V)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.series))
	for k := range f.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s := f.series[k]
		fn(s.labels, s.value)
	}
}

func (f *family[V]) header(sb *strings.Builder) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.typ)
}

func zero[V any]() V {
	var v V
	return v
}

// Counter only goes up.
type Counter struct {
	family[uint64]
}

// NewCounter creates a counter.
func NewCounter(name, help string) *Counter {
	return &Counter{newFamily[uint64](name, help, TypeCounter)}
}

// Inc adds one.
func (c *Counter) Inc(labels Labels) { c.Add(labels, 1) }

// Add adds delta.
func (c *Counter) Add(labels Labels, delta uint64) {
	c.update(labels, zero[uint64], func(v *uint64) { *v += delta })
}

// Get returns the value for labels, 0 if never set.
func (c *Counter) Get(labels Labels) uint64 {
	var out uint64
	c.read(labels, func(v uint64) { out = v })
	return out
}

func (c *Counter) Write(sb *strings.Builder) {
	c.header(sb)
	c.each(func(l Labels, v uint64) {
		fmt.Fprintf(sb, "%s%s %d\n", c.name, l, v)
	})
}

// Gauge is a value that moves both ways.
type Gauge struct {
	family[float64]
}

// NewGauge creates a gauge.
func NewGauge(name, help string) *Gauge {
	return &Gauge{newFamily[float64](name, help, TypeGauge)}
}

// Set replaces the value.
func (g *Gauge) Set(labels Labels, value float64) {
	g.update(labels, zero[float64], func(v *float64) { *v = value })
}

// Add adds delta, which may be negative.
func (g *Gauge) Add(labels Labels, delta float64) {
	g.update(labels, zero[float64], func(v *float64) { *v += delta })
}

func (g *Gauge) Inc(labels Labels) { g.Add(labels, 1) }
func (g *Gauge) Dec(labels Labels) { g.Add(labels, -1) }

// SetBool sets 1 for true and 0 for false.
func (g *Gauge) SetBool(labels Labels, b bool) {
	v := 0.0
	if b {
		v = 1
	}
	g.Set(labels, v)
}

// Get returns the value for labels, 0 if never set.
func (g *Gauge) Get(labels Labels) float64 {
	var out float64
	g.read(labels, func(v float64) { out = v })
	return out
}

func (g *Gauge) Write(sb *strings.Builder) {
	g.header(sb)
	g.each(func(l Labels, v float64) {
		fmt.Fprintf(sb, "%s%s %s\n", g.name, l, formatFloat(v))
	})
}

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	family[*histogramValue]
	bounds []float64
}

type histogramValue struct {
	count  uint64
	sum    float64
	counts []uint64 // non-cumulative, one per bound
}

// NewHistogram creates a histogram with the given upper bounds.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	bounds := append([]float64(nil), buckets...)
	sort.Float64s(bounds)
	return &Histogram{family: newFamily[*histogramValue](name, help, TypeHistogram), bounds: bounds}
}

// DefaultBuckets suits latencies in seconds.
func DefaultBuckets() []float64 {
	return []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5}
}

// LinearBuckets returns count bounds start, start+width, ...
func LinearBuckets(start, width float64, count int) []float64 {
	out := make([]float64, count)
	for i := range out {
		out[i] = start + float64(i)*width
	}
	return out
}

// ExponentialBuckets returns count bounds start, start*factor, ...
func ExponentialBuckets(start, factor float64, count int) []float64 {
	out := make([]float64, count)
	for i := range out {
		out[i] = start
		start *= factor
	}
	return out
}

// Observe records value.
func (h *Histogram) Observe(labels Labels, value float64) {
	h.update(labels,
		func() *histogramValue { return &histogramValue{counts: make([]uint64, len(h.bounds))} },
		func(hv **histogramValue) {
			v := *hv
			v.count++
			v.sum += value
			if i := sort.SearchFloat64s(h.bounds, value); i < len(h.bounds) {
				v.counts[i]++
			}
		})
}

// Timer returns a func that observes the seconds elapsed since Timer.
func (h *Histogram) Timer(labels Labels) func() {
	start := time.Now()
	return func() { h.Observe(labels, time.Since(start).Seconds()) }
}

// HistogramSnapshot is a copy of one series; Buckets are cumulative.
type HistogramSnapshot struct {
	Count   uint64
	Sum     float64
	Buckets map[float64]uint64
}

// Snapshot returns a copy of the series for labels.
func (h *Histogram) Snapshot(labels Labels) HistogramSnapshot {
	snap := HistogramSnapshot{Buckets: make(map[float64]uint64, len(h.bounds))}
	h.read(labels, func(v *histogramValue) {
		snap.Count, snap.Sum = v.count, v.sum
		var cum uint64
		for i, b := range h.bounds {
			cum += v.counts[i]
			snap.Buckets[b] = cum
		}
	})
	return snap
}

func (h *Histogram) Write(sb *strings.Builder) {
	h.header(sb)
	h.each(func(l Labels, v *histogramValue) {
		var cum uint64
		for i, b := range h.bounds {
			cum += v.counts[i]
			fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, l.With("le", formatFloat(b)), cum)
		}
		fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, l.With("le", "+Inf"), v.count)
		fmt.Fprintf(sb, "%s_sum%s %s\n", h.name, l, formatFloat(v.sum))
		fmt.Fprintf(sb, "%s_count%s %d\n", h.name, l, v.count)
	})
}

// Registry writes its metrics in registration order.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]Metric)}
}

// Register adds m; names must be unique.
func (r *Registry) Register(m Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.metrics[m.Name()]; ok {
		return fmt.Errorf("metric %q already registered", m.Name())
	}
	r.metrics[m.Name()] = m
	r.order = append(r.order, m.Name())
	return nil
}

// MustRegister is Register that panics on a duplicate name.
func (r *Registry) MustRegister(ms ...Metric) {
	for _, m := range ms {
		if err := r.Register(m); err != nil {
			panic(err)
		}
	}
}

// Get returns the metric called name, or nil.
func (r *Registry) Get(name string) Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// Gather writes every metric.
func (r *Registry) Gather() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sb strings.Builder
	for _, name := range r.order {
		r.metrics[name].Write(&sb)
	}
	return sb.String()
}
