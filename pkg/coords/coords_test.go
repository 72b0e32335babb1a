// Coordinate system tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package coords

import (
	"math/rand"
	"testing"

	"modax-cnc/pkg/config"
	cncerr "modax-cnc/pkg/errors"
	"modax-cnc/pkg/motion"
)

const tol = 1e-9

func TestSelectAndOffset(t *testing.T) {
	m := New()
	if m.Active() != "G54" {
		t.Fatalf("default system = %s, want G54", m.Active())
	}
	if err := m.SetOffset("G55", motion.Position{100, 50, -20}); err != nil {
		t.Fatal(err)
	}
	if err := m.Select("g55"); err != nil {
		t.Fatal(err)
	}
	got := m.ToMachine(motion.Position{1, 2, 3})
	want := motion.Position{101, 52, -17}
	if !got.ApproxEqual(want, tol) {
		t.Errorf("ToMachine = %v, want %v", got, want)
	}
	if err := m.Select("G60"); !cncerr.Is(err, cncerr.ErrInvalidArgument) {
		t.Errorf("Select(G60) = %v, want INVALID_ARGUMENT", err)
	}
	if m.Active() != "G55" {
		t.Errorf("failed select changed active system to %s", m.Active())
	}
}

func TestExtendedComposesWithBase(t *testing.T) {
	m := New()
	m.SetOffset("G54", motion.Position{10})
	m.SetOffset("P12", motion.Position{0, 5})
	m.SetLocal(motion.Position{0, 0, 1})
	if err := m.Select("G54.1 P12"); err != nil {
		t.Fatal(err)
	}
	if m.Active() != "G54.1 P12" {
		t.Errorf("Active = %s", m.Active())
	}
	got := m.ToMachine(motion.Position{})
	if !got.ApproxEqual(motion.Position{10, 5, 1}, tol) {
		t.Errorf("ToMachine(origin) = %v", got)
	}
	if err := m.Select("P301"); err == nil {
		t.Error("P301 should be out of range")
	}
}

func TestRotationAboutCenter(t *testing.T) {
	m := New()
	m.Rotate(motion.PlaneXY, 90, motion.Position{10, 0})
	got := m.ToMachine(motion.Position{20, 0})
	if !got.ApproxEqual(motion.Position{10, 10}, tol) {
		t.Errorf("rotated point = %v, want X10 Y10", got)
	}
}

func TestScaleRejectsZero(t *testing.T) {
	m := New()
	err := m.Scale(motion.Position{1, 0, 1, 1, 1, 1}, motion.Position{})
	if !cncerr.Is(err, cncerr.ErrInvalidArgument) {
		t.Errorf("zero scale error = %v", err)
	}
}

func TestReflected(t *testing.T) {
	tests := []struct {
		name   string
		scale  motion.Position
		mirror motion.Mask
		want   bool
	}{
		{"identity", motion.Position{1, 1, 1, 1, 1, 1}, 0, false},
		{"mirror X", motion.Position{1, 1, 1, 1, 1, 1}, motion.Mask(0).With(motion.X), true},
		{"mirror XY", motion.Position{1, 1, 1, 1, 1, 1}, motion.Mask(0).With(motion.X).With(motion.Y), false},
		{"negative scale Y", motion.Position{1, -1, 1, 1, 1, 1}, 0, true},
		{"negative Y mirrored Y", motion.Position{1, -1, 1, 1, 1, 1}, motion.Mask(0).With(motion.Y), false},
		{"mirror Z only", motion.Position{1, 1, 1, 1, 1, 1}, motion.Mask(0).With(motion.Z), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			if err := m.Scale(tt.scale, motion.Position{}); err != nil {
				t.Fatal(err)
			}
			m.Mirror(tt.mirror)
			if got := m.Reflected(motion.PlaneXY); got != tt.want {
				t.Errorf("Reflected = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	rnd := func(lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }
	vec := func(span float64) motion.Position {
		var p motion.Position
		for i := range p {
			p[i] = rnd(-span, span)
		}
		return p
	}
	for i := 0; i < 200; i++ {
		m := New()
		m.SetOffset("G56", vec(300))
		m.SetOffset("P7", vec(50))
		m.Select("G56")
		if i%2 == 0 {
			m.Select("P7")
		}
		m.SetLocal(vec(10))
		m.SetShift(vec(10))
		m.Rotate(motion.Plane(i%3), rnd(-180, 180), vec(50))
		var factors motion.Position
		for a := range factors {
			factors[a] = rnd(0.1, 3)
			if rng.Intn(4) == 0 {
				factors[a] = -factors[a]
			}
		}
		if err := m.Scale(factors, vec(20)); err != nil {
			t.Fatal(err)
		}
		m.Mirror(motion.Mask(rng.Intn(64)))

		p := vec(500)
		if back := m.ToMachine(m.ToWork(p)); !back.ApproxEqual(p, 1e-6) {
			t.Fatalf("case %d: ToMachine(ToWork(p)) = %v, want %v", i, back, p)
		}
		if back := m.ToWork(m.ToMachine(p)); !back.ApproxEqual(p, 1e-6) {
			t.Fatalf("case %d: ToWork(ToMachine(p)) = %v, want %v", i, back, p)
		}
	}
}

func TestShiftTo(t *testing.T) {
	m := New()
	m.SetOffset("G54", motion.Position{100, 100})
	mp := motion.Position{150, 120, -5}
	m.ShiftTo(mp, motion.Position{0, 0}, motion.Mask(0).With(motion.X).With(motion.Y))
	got := m.ToWork(mp)
	if !got.ApproxEqual(motion.Position{0, 0, -5}, tol) {
		t.Errorf("ToWork after G92 = %v, want X0 Y0 Z-5", got)
	}
}

func TestSnapshotRestore(t *testing.T) {
	m := New()
	m.SetOffset("G54", motion.Position{1, 2, 3})
	snap := m.Snapshot()
	m.SetOffset("G54", motion.Position{9, 9, 9})
	m.Select("G57")
	m.Restore(snap)
	if m.Active() != "G54" {
		t.Errorf("Active = %s after restore", m.Active())
	}
	off, _ := m.Offset("G54")
	if off != (motion.Position{1, 2, 3}) {
		t.Errorf("offset = %v after restore", off)
	}
}

func TestLoadTable(t *testing.T) {
	table, err := config.ParseOffsetTable(`
[work.G55]
x = 10.0
y = 20.0

[extended.P3]
z = -1.5

[local]
x = 1.0
mirror = ["X"]
`)
	if err != nil {
		t.Fatalf("ParseOffsetTable failed: %v", err)
	}
	m := New()
	if err := m.Load(table); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	off, _ := m.Offset("G55")
	if off[motion.X] != 10 || off[motion.Y] != 20 {
		t.Errorf("G55 = %v", off)
	}
	ext, _ := m.Offset("P3")
	if ext[motion.Z] != -1.5 {
		t.Errorf("P3 = %v", ext)
	}
	if !m.Reflected(motion.PlaneXY) {
		t.Error("mirror from table not applied")
	}
}
