// Metrics tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"strings"
	"sync"
	"testing"
)

func TestCounter(t *testing.T) {
	c := NewCounter("test_total", "A test counter")
	if v := c.Get(nil); v != 0 {
		t.Errorf("initial = %d", v)
	}
	c.Inc(nil)
	c.Add(nil, 10)
	if v := c.Get(nil); v != 11 {
		t.Errorf("value = %d, want 11", v)
	}
	if c.Name() != "test_total" || c.Help() != "A test counter" || c.Type() != TypeCounter {
		t.Errorf("metadata = %q %q %v", c.Name(), c.Help(), c.Type())
	}
}

func TestCounterLabels(t *testing.T) {
	c := NewCounter("requests_total", "Requests")
	get := Labels{"method": "GET"}
	post := Labels{"method": "POST"}
	c.Inc(get)
	c.Inc(get)
	c.Inc(post)

	tests := []struct {
		labels Labels
		want   uint64
	}{
		{get, 2},
		{post, 1},
		{Labels{"method": "PUT"}, 0},
	}
	for _, tt := range tests {
		if v := c.Get(tt.labels); v != tt.want {
			t.Errorf("Get(%v) = %d, want %d", tt.labels, v, tt.want)
		}
	}
}

func TestCounterConcurrency(t *testing.T) {
	c := NewCounter("concurrent_total", "Concurrent")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.Inc(Labels{"k": "v"})
			}
		}()
	}
	wg.Wait()
	if v := c.Get(Labels{"k": "v"}); v != 10000 {
		t.Errorf("value = %d, want 10000", v)
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("test_gauge", "A gauge")
	g.Set(nil, 10)
	g.Inc(nil)
	g.Dec(nil)
	g.Dec(nil)
	g.Add(nil, -4.5)
	if v := g.Get(nil); v != 4.5 {
		t.Errorf("value = %v, want 4.5", v)
	}
	g.SetBool(Labels{"x": "1"}, true)
	if v := g.Get(Labels{"x": "1"}); v != 1 {
		t.Errorf("bool gauge = %v", v)
	}
}

func TestHistogram(t *testing.T) {
	h := NewHistogram("latency", "Latency", []float64{1, 0.1, 0.5})
	for _, v := range []float64{0.05, 0.2, 0.3, 0.7, 2} {
		h.Observe(nil, v)
	}
	snap := h.Snapshot(nil)
	if snap.Count != 5 {
		t.Errorf("count = %d", snap.Count)
	}
	if snap.Sum < 3.249 || snap.Sum > 3.251 {
		t.Errorf("sum = %v", snap.Sum)
	}
	want := map[float64]uint64{0.1: 1, 0.5: 3, 1: 4}
	for b, n := range want {
		if snap.Buckets[b] != n {
			t.Errorf("bucket %v = %d, want %d", b, snap.Buckets[b], n)
		}
	}
	if empty := h.Snapshot(Labels{"none": "x"}); empty.Count != 0 || len(empty.Buckets) != 0 {
		t.Errorf("empty snapshot = %+v", empty)
	}
}

func TestBuckets(t *testing.T) {
	lin := LinearBuckets(1, 2, 3)
	exp := ExponentialBuckets(1, 10, 3)
	for i, want := range []float64{1, 3, 5} {
		if lin[i] != want {
			t.Errorf("linear[%d] = %v", i, lin[i])
		}
	}
	for i, want := range []float64{1, 10, 100} {
		if exp[i] != want {
			t.Errorf("exponential[%d] = %v", i, exp[i])
		}
	}
}

func TestLabels(t *testing.T) {
	l := Labels{"b": "2", "a": "1"}
	if k := l.Key(); k != "a=1,b=2" {
		t.Errorf("Key = %q", k)
	}
	if s := l.String(); s != `{a="1",b="2"}` {
		t.Errorf("String = %q", s)
	}
	w := l.With("c", "3")
	if len(l) != 2 || w["c"] != "3" || w["a"] != "1" {
		t.Errorf("With mutated or lost labels: %v %v", l, w)
	}
	var nilLabels Labels
	if nilLabels.Key() != "" || nilLabels.String() != "" {
		t.Error("nil labels should format empty")
	}
	if s := (Labels{"v": "a\"b\\c\nd"}).String(); s != `{v="a\"b\\c\nd"}` {
		t.Errorf("escaped = %q", s)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	c := NewCounter("a_total", "A")
	if err := r.Register(c); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(NewCounter("a_total", "dup")); err == nil {
		t.Error("duplicate name accepted")
	}
	if r.Get("a_total") != c {
		t.Error("Get returned a different metric")
	}
	if r.Get("missing") != nil {
		t.Error("Get of missing metric not nil")
	}
}

func TestGather(t *testing.T) {
	r := NewRegistry()
	c := NewCounter("jobs_total", "Jobs")
	g := NewGauge("temp", "Temp")
	h := NewHistogram("dur", "Dur", []float64{1})
	r.MustRegister(c, g, h)
	c.Inc(Labels{"k": "b"})
	c.Inc(Labels{"k": "a"})
	g.Set(nil, 1.5)
	h.Observe(nil, 0.5)

	out := r.Gather()
	for _, want := range []string{
		"# HELP jobs_total Jobs\n# TYPE jobs_total counter\n",
		"jobs_total{k=\"a\"} 1\njobs_total{k=\"b\"} 1\n",
		"temp 1.5\n",
		"# TYPE dur histogram\n",
		"dur_bucket{le=\"1\"} 1\n",
		"dur_bucket{le=\"+Inf\"} 1\n",
		"dur_sum 0.5\n",
		"dur_count 1\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "jobs_total") > strings.Index(out, "temp") {
		t.Error("metrics not in registration order")
	}
}
