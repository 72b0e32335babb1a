// Bounded look-ahead buffer
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import (
	"context"
	"math"
	"sync"
)

// Buffer is the bounded FIFO between the interpreter and dispatch. Segments
// leave in push order. A segment is released only once its exit speed can
// no longer change: when the buffer is full, when a later junction is a
// full stop, when it carries no motion, or after Sync. Push blocks while
// the buffer is full.
//
// Buffer supports one producer and one consumer.
type Buffer struct {
	planner *Planner
	cap     int

	mu       sync.Mutex
	segs     []*Segment
	junction []float64 // junction[i]: speed limit entering segs[i]
	lastExit float64   // committed exit speed of the last popped segment
	draining bool

	space chan struct{}
	ready chan struct{}
}

// NewBuffer creates a buffer holding up to the planner's Lookahead
// segments.
func NewBuffer(p *Planner) *Buffer {
	return &Buffer{
		planner: p,
		cap:     p.cfg.Lookahead,
		space:   make(chan struct{}, 1),
		ready:   make(chan struct{}, 1),
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Push appends seg, blocking while the buffer is full.
func (b *Buffer) Push(ctx context.Context, seg *Segment) error {
	for {
		b.mu.Lock()
		if len(b.segs) < b.cap {
			b.pushLocked(seg)
			b.mu.Unlock()
			notify(b.ready)
			return nil
		}
		b.mu.Unlock()
		select {
		case <-b.space:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *Buffer) pushLocked(seg *Segment) {
	speed := 0.0
	if n := len(b.segs); n > 0 {
		tail := b.segs[n-1]
		var radius float64
		speed, radius = b.planner.Junction(tail, seg)
		tail.BlendRadius = radius
	}
	b.segs = append(b.segs, seg)
	b.junction = append(b.junction, speed)
	b.draining = false
}

// Sync marks the end of the current input: every queued segment becomes
// releasable and the last one ends at rest. The next Push clears it.
func (b *Buffer) Sync() {
	b.mu.Lock()
	b.draining = true
	b.mu.Unlock()
	notify(b.ready)
}

// Pop removes the head segment once its profile is final and returns it
// with Profile filled in.
func (b *Buffer) Pop(ctx context.Context) (*Segment, error) {
	for {
		b.mu.Lock()
		if b.releasableLocked() {
			seg := b.popLocked()
			b.mu.Unlock()
			notify(b.space)
			return seg, nil
		}
		b.mu.Unlock()
		select {
		case <-b.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryPop is Pop without waiting; ok is false when no segment is releasable.
func (b *Buffer) TryPop() (seg *Segment, ok bool) {
	b.mu.Lock()
	if !b.releasableLocked() {
		b.mu.Unlock()
		return nil, false
	}
	seg = b.popLocked()
	b.mu.Unlock()
	notify(b.space)
	return seg, true
}

func (b *Buffer) releasableLocked() bool {
	n := len(b.segs)
	if n == 0 {
		return false
	}
	if n >= b.cap || b.draining || !b.segs[0].IsMotion() {
		return true
	}
	return b.barrierLocked() < n
}

// barrierLocked returns the index of the first full-stop junction after
// the head, or len(segs) when there is none.
func (b *Buffer) barrierLocked() int {
	for i := 1; i < len(b.segs); i++ {
		if b.junction[i] == 0 {
			return i
		}
	}
	return len(b.segs)
}

// popLocked plans and removes the head. The backward pass runs from the
// first full stop (or the tail, which is assumed to end at rest) to find
// the highest speed the head may exit with and still stop in time; the
// forward pass starts from the committed exit of the previous segment.
func (b *Buffer) popLocked() *Segment {
	seg := b.segs[0]
	shape := b.planner.shape

	if seg.IsMotion() {
		limit := 0.0
		if k := b.barrierLocked(); k > 1 {
			next := 0.0
			for i := k - 1; i >= 1; i-- {
				s := b.segs[i]
				next = math.Min(math.Min(b.junction[i], s.Cruise), shape.reach(next, s.Length))
			}
			limit = next
		}
		entry := math.Min(b.lastExit, seg.Cruise)
		exit := math.Min(limit, shape.reach(entry, seg.Length))
		seg.Profile = shape.profile(entry, exit, seg.Cruise, seg.Length)
		b.lastExit = exit
	} else {
		b.lastExit = 0
	}

	b.segs[0] = nil
	b.segs = b.segs[1:]
	b.junction = b.junction[1:]
	if len(b.segs) > 0 {
		b.junction[0] = b.lastExit
	}
	return seg
}

// Flush discards every queued segment and returns how many were dropped.
// The next segment starts from rest.
func (b *Buffer) Flush() int {
	b.mu.Lock()
	n := len(b.segs)
	for i := range b.segs {
		b.segs[i] = nil
	}
	b.segs = b.segs[:0]
	b.junction = b.junction[:0]
	b.lastExit = 0
	b.draining = false
	b.mu.Unlock()
	notify(b.space)
	return n
}

// Len returns the number of queued segments.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.segs)
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int {
	return b.cap
}
