// Circular and helical arc resolution
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import (
	"fmt"
	"math"

	cncerr "modax-cnc/pkg/errors"
	"modax-cnc/pkg/motion"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	twoPi     = 2 * math.Pi
	angleEps  = 1e-9
	lengthEps = 1e-9
)

// Arc is a resolved circular or helical move. Angles are measured in the
// arc plane from the first plane axis toward the second; Sweep is signed,
// positive counter-clockwise looking down the plane normal.
type Arc struct {
	Plane      motion.Plane
	Center     motion.Position // in-plane components are meaningful
	Radius     float64
	StartAngle float64
	Sweep      float64
	Helix      float64 // travel along the plane normal

	start  motion.Position
	target motion.Position
}

// ResolveArc computes the arc geometry of an ArcCW/ArcCCW command from
// either its I J K centre offset or its R word. Radius-form arcs with
// coincident end points or a chord longer than the diameter, and
// centre-form arcs whose start and end radii differ by more than tol, are
// rejected with MOTION_LIMIT.
func ResolveArc(cmd motion.Command, tol float64) (*Arc, error) {
	if !cmd.Kind.IsArc() {
		return nil, cncerr.Newf(cncerr.ErrInvalidArgument, "%s is not an arc", cmd.Kind).SetLine(cmd.Line)
	}
	a1, a2, n := cmd.Plane.Axes()
	sx, sy := cmd.Start[a1], cmd.Start[a2]
	ex, ey := cmd.Target[a1], cmd.Target[a2]
	cw := cmd.Kind == motion.KindArcCW

	var cx, cy, r float64
	if cmd.HasRadius {
		r = math.Abs(cmd.Radius)
		dx, dy := ex-sx, ey-sy
		chord := math.Hypot(dx, dy)
		switch {
		case r < lengthEps:
			return nil, arcError(cmd, "arc radius is zero")
		case chord < lengthEps:
			return nil, arcError(cmd, "radius-form arc with identical start and end point is ambiguous")
		case chord > 2*r+tol:
			return nil, arcError(cmd, fmt.Sprintf("radius %.4f is too small for chord %.4f", r, chord))
		}
		half := chord / 2
		h := math.Sqrt(math.Max(r*r-half*half, 0))
		side := 1.0
		if cw {
			side = -side
		}
		if cmd.Radius < 0 {
			side = -side
		}
		cx = sx + dx/2 - side*h*dy/chord
		cy = sy + dy/2 + side*h*dx/chord
		if chord > 2*r {
			r = half
		}
	} else {
		cx, cy = sx+cmd.Offset[a1], sy+cmd.Offset[a2]
		r = math.Hypot(sx-cx, sy-cy)
		re := math.Hypot(ex-cx, ey-cy)
		if r < lengthEps {
			return nil, arcError(cmd, "arc centre coincides with start point")
		}
		if math.Abs(r-re) > tol {
			return nil, arcError(cmd, fmt.Sprintf("start radius %.4f and end radius %.4f differ by more than %.4f", r, re, tol))
		}
	}

	start := math.Atan2(sy-cy, sx-cx)
	end := math.Atan2(ey-cy, ex-cx)
	sweep := end - start
	if cw {
		for sweep >= -angleEps {
			sweep -= twoPi
		}
		sweep -= twoPi * float64(cmd.Turns)
	} else {
		for sweep <= angleEps {
			sweep += twoPi
		}
		sweep += twoPi * float64(cmd.Turns)
	}
	arc := &Arc{
		Plane:      cmd.Plane,
		Radius:     r,
		StartAngle: start,
		Sweep:      sweep,
		Helix:      cmd.Target[n] - cmd.Start[n],
		start:      cmd.Start,
		target:     cmd.Target,
	}
	arc.Center = cmd.Start
	arc.Center[a1], arc.Center[a2] = cx, cy
	return arc, nil
}

func arcError(cmd motion.Command, reason string) *cncerr.CNCError {
	return cncerr.MotionLimitError(reason).SetLine(cmd.Line)
}

// Length returns the path length of the arc including helical travel.
func (a *Arc) Length() float64 {
	return math.Hypot(a.Radius*a.Sweep, a.Helix)
}

// Point returns the position at fraction t in [0, 1] along the arc. Axes
// outside the arc plane move linearly.
func (a *Arc) Point(t float64) motion.Position {
	a1, a2, _ := a.Plane.Axes()
	p := a.start
	for i := range p {
		p[i] += (a.target[i] - a.start[i]) * t
	}
	theta := a.StartAngle + a.Sweep*t
	p[a1] = a.Center[a1] + a.Radius*math.Cos(theta)
	p[a2] = a.Center[a2] + a.Radius*math.Sin(theta)
	if t >= 1 {
		p[a1], p[a2] = a.target[a1], a.target[a2]
	}
	return p
}

// Tangent returns the unit XYZ direction of travel at fraction t.
func (a *Arc) Tangent(t float64) r3.Vec {
	a1, a2, n := a.Plane.Axes()
	theta := a.StartAngle + a.Sweep*t
	var d motion.Position
	d[a1] = -a.Radius * a.Sweep * math.Sin(theta)
	d[a2] = a.Radius * a.Sweep * math.Cos(theta)
	d[n] = a.Helix
	return unit(d.Linear())
}

// Extremes returns the points where the arc crosses the axis-aligned
// quadrant boundaries; together with the end points they bound the arc.
func (a *Arc) Extremes() []motion.Position {
	sweep := math.Abs(a.Sweep)
	if sweep < angleEps {
		return nil
	}
	var pts []motion.Position
	for k := 0; k < 4; k++ {
		angle := float64(k) * math.Pi / 2
		var delta float64
		if a.Sweep > 0 {
			delta = normalizeAngle(angle - a.StartAngle)
		} else {
			delta = normalizeAngle(a.StartAngle - angle)
		}
		if delta <= sweep {
			pts = append(pts, a.Point(delta/sweep))
		}
	}
	return pts
}

// normalizeAngle maps an angle into [0, 2*pi).
func normalizeAngle(x float64) float64 {
	x = math.Mod(x, twoPi)
	if x < 0 {
		x += twoPi
	}
	return x
}

func unit(v r3.Vec) r3.Vec {
	n := r3.Norm(v)
	if n < lengthEps {
		return r3.Vec{}
	}
	return r3.Scale(1/n, v)
}
