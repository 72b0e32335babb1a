// Velocity profiles
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import "math"

const bisectIterations = 64

// Profile is the velocity plan of one segment. Speeds are mm/s, times are
// seconds and distances mm.
type Profile struct {
	Kind ProfileKind

	Entry  float64
	Cruise float64
	Exit   float64

	AccelTime  float64
	CruiseTime float64
	DecelTime  float64

	AccelDist  float64
	CruiseDist float64
	DecelDist  float64

	// PeakAccel and PeakJerk are the largest magnitudes reached. PeakJerk is
	// zero for trapezoid profiles, which do not bound jerk.
	PeakAccel float64
	PeakJerk  float64
}

// Duration returns the total time of the segment.
func (p Profile) Duration() float64 {
	return p.AccelTime + p.CruiseTime + p.DecelTime
}

// shaper answers speed-change questions for one profile kind.
type shaper struct {
	kind  ProfileKind
	accel float64
	jerk  float64
}

func (c Config) shaper() shaper {
	return shaper{kind: c.Profile, accel: c.MaxAccel, jerk: c.MaxJerk}
}

func (s shaper) scurve() bool {
	return s.kind == ProfileSCurve && s.jerk > 0
}

// transitionTime returns the time needed to change speed by dv.
func (s shaper) transitionTime(dv float64) float64 {
	dv = math.Abs(dv)
	if dv == 0 {
		return 0
	}
	if !s.scurve() {
		return dv / s.accel
	}
	if dv >= s.accel*s.accel/s.jerk {
		return dv/s.accel + s.accel/s.jerk
	}
	return 2 * math.Sqrt(dv/s.jerk)
}

// transitionDist returns the distance covered while changing speed from
// v0 to v1. Both profile shapes are symmetric so the mean speed is exact.
func (s shaper) transitionDist(v0, v1 float64) float64 {
	return (v0 + v1) / 2 * s.transitionTime(v1-v0)
}

// peakAccel returns the largest acceleration reached changing speed by dv.
func (s shaper) peakAccel(dv float64) float64 {
	dv = math.Abs(dv)
	if dv == 0 {
		return 0
	}
	if !s.scurve() {
		return s.accel
	}
	return math.Min(s.accel, math.Sqrt(dv*s.jerk))
}

// reach returns the highest speed attainable from v0 within length.
func (s shaper) reach(v0, length float64) float64 {
	upper := math.Sqrt(v0*v0 + 2*s.accel*length)
	if !s.scurve() || length <= 0 {
		return upper
	}
	lo, hi := v0, upper
	for i := 0; i < bisectIterations; i++ {
		mid := (lo + hi) / 2
		if s.transitionDist(v0, mid) <= length {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}

// peak returns the highest cruise speed, at most vmax, for which the
// segment can accelerate from v0 and decelerate to v1 within length. The
// caller guarantees v0 and v1 are mutually reachable.
func (s shaper) peak(v0, v1, vmax, length float64) float64 {
	fits := func(v float64) bool {
		return s.transitionDist(v0, v)+s.transitionDist(v, v1) <= length
	}
	lo := math.Max(v0, v1)
	if lo >= vmax || fits(vmax) {
		return math.Max(lo, vmax)
	}
	if !s.scurve() {
		v := math.Sqrt((2*s.accel*length + v0*v0 + v1*v1) / 2)
		return math.Min(math.Max(v, lo), vmax)
	}
	hi := vmax
	for i := 0; i < bisectIterations; i++ {
		mid := (lo + hi) / 2
		if fits(mid) {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}

// profile builds the velocity plan for a segment of the given length.
func (s shaper) profile(v0, v1, vmax, length float64) Profile {
	vp := s.peak(v0, v1, vmax, length)
	p := Profile{
		Kind:      s.kind,
		Entry:     v0,
		Cruise:    vp,
		Exit:      v1,
		AccelTime: s.transitionTime(vp - v0),
		DecelTime: s.transitionTime(vp - v1),
	}
	p.AccelDist = (v0 + vp) / 2 * p.AccelTime
	p.DecelDist = (v1 + vp) / 2 * p.DecelTime
	p.CruiseDist = math.Max(length-p.AccelDist-p.DecelDist, 0)
	if vp > 0 {
		p.CruiseTime = p.CruiseDist / vp
	}
	p.PeakAccel = math.Max(s.peakAccel(vp-v0), s.peakAccel(vp-v1))
	if s.scurve() && p.PeakAccel > 0 {
		p.PeakJerk = s.jerk
	}
	return p
}
