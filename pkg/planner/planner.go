// Motion planner
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package planner turns interpreted motion commands into planned segments:
// arc resolution, soft limits, corner blending and velocity profiles over a
// bounded look-ahead buffer.
package planner

import (
	"fmt"
	"math"
	"sync/atomic"

	cncerr "modax-cnc/pkg/errors"
	"modax-cnc/pkg/log"
	"modax-cnc/pkg/motion"

	"gonum.org/v1/gonum/spatial/r3"
)

// Segment is a motion command with its geometry and, once it leaves the
// buffer, its velocity profile.
type Segment struct {
	Command motion.Command
	Seq     uint64

	Length float64 // mm, or degrees for rotary-only moves
	Dir0   r3.Vec  // unit direction at the start, zero if undefined
	Dir1   r3.Vec  // unit direction at the end
	Cruise float64 // requested speed, mm/s
	Arc    *Arc

	// BlendRadius is the corner radius used at the junction with the next
	// segment; zero when the junction is an exact stop.
	BlendRadius float64
	Profile     Profile
}

// IsMotion reports whether the segment moves axes.
func (s *Segment) IsMotion() bool {
	return s.Length > 0
}

// Planner plans single segments and junctions between them.
type Planner struct {
	cfg    Config
	shape  shaper
	seq    atomic.Uint64
	logger *log.Logger
}

// New creates a planner after validating cfg.
func New(cfg Config) (*Planner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Planner{
		cfg:    cfg,
		shape:  cfg.shaper(),
		logger: log.GetLogger("planner"),
	}, nil
}

// Config returns the planner limits.
func (p *Planner) Config() Config {
	return p.cfg
}

// Plan resolves the geometry of cmd and checks it against the machine
// limits. Non-motion commands become zero-length segments so they keep
// their place in the program order.
func (p *Planner) Plan(cmd motion.Command) (*Segment, error) {
	seg := &Segment{Command: cmd, Seq: p.seq.Add(1)}
	seg.Profile.Kind = p.cfg.Profile
	if !cmd.Kind.IsMotion() {
		if cmd.Kind == motion.KindDwell {
			seg.Profile.CruiseTime = cmd.Dwell
		}
		return seg, nil
	}

	cruise, err := p.cruiseSpeed(cmd)
	if err != nil {
		return nil, err
	}
	seg.Cruise = cruise

	if cmd.Kind.IsArc() {
		arc, err := ResolveArc(cmd, p.cfg.ArcTolerance)
		if err != nil {
			return nil, err
		}
		seg.Arc = arc
		seg.Length = arc.Length()
		seg.Dir0 = arc.Tangent(0)
		seg.Dir1 = arc.Tangent(1)
	} else {
		seg.Length = cmd.Start.Distance(cmd.Target)
		seg.Dir0 = unit(r3.Sub(cmd.Target.Linear(), cmd.Start.Linear()))
		seg.Dir1 = seg.Dir0
	}
	if err := p.cfg.checkMove(cmd, seg.Arc); err != nil {
		if ce, ok := cncerr.As(err); ok {
			ce.SetLine(cmd.Line)
		}
		return nil, err
	}
	if seg.Length < lengthEps {
		seg.Length = 0
	}
	return seg, nil
}

func (p *Planner) cruiseSpeed(cmd motion.Command) (float64, error) {
	if cmd.Kind == motion.KindRapid {
		return p.cfg.MaxRapid / 60, nil
	}
	feed := cmd.Feed
	if !(feed > 0) || math.IsInf(feed, 0) {
		return 0, cncerr.MotionLimitError(fmt.Sprintf("%s move requires a positive feed rate, got %v", cmd.Kind, feed)).
			SetLine(cmd.Line)
	}
	if feed > p.cfg.MaxFeed {
		p.logger.WithFields(log.Fields{
			"line":     cmd.Line,
			"feed":     feed,
			"max_feed": p.cfg.MaxFeed,
		}).Warn("feed rate clamped to machine maximum")
		feed = p.cfg.MaxFeed
	}
	return feed / 60, nil
}

// Junction returns the highest speed at which the path may pass from prev
// into next, and the corner radius used for it. The corner is replaced by
// an arc that deviates at most BlendTolerance from the programmed corner
// and is traversed at MaxAccel centripetal acceleration. Corners sharper
// than MaxBlendAngle, changes between rapid and feed motion, exact-stop
// moves and probing force a full stop.
func (p *Planner) Junction(prev, next *Segment) (speed, radius float64) {
	if prev == nil || next == nil || !prev.IsMotion() || !next.IsMotion() {
		return 0, 0
	}
	pk, nk := prev.Command.Kind, next.Command.Kind
	if (pk == motion.KindRapid) != (nk == motion.KindRapid) {
		return 0, 0
	}
	if prev.Command.ExactStop || pk == motion.KindProbe || nk == motion.KindProbe {
		return 0, 0
	}
	if r3.Norm(prev.Dir1) == 0 || r3.Norm(next.Dir0) == 0 {
		return 0, 0
	}
	vmax := math.Min(prev.Cruise, next.Cruise)

	cosPhi := math.Max(-1, math.Min(1, r3.Dot(prev.Dir1, next.Dir0)))
	phi := math.Acos(cosPhi)
	if phi*180/math.Pi > p.cfg.MaxBlendAngle {
		return 0, 0
	}
	if phi < angleEps {
		return vmax, 0
	}
	// sin of half the interior angle between the two directions.
	sinHalf := math.Sqrt(math.Max(0.5*(1+cosPhi), 0))
	if sinHalf >= 1 {
		return vmax, 0
	}
	radius = p.cfg.BlendTolerance * sinHalf / (1 - sinHalf)
	speed = math.Sqrt(p.cfg.MaxAccel * radius)
	return math.Min(speed, vmax), radius
}
