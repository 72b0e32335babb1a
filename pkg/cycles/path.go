// Cycle path builder
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package cycles

import "modax-cnc/pkg/motion"

// path accumulates commands and tracks the position they lead to.
type path struct {
	plane motion.Plane
	pos   motion.Position
	cmds  []motion.Command
}

func newPath(plane motion.Plane, start motion.Position) *path {
	return &path{plane: plane, pos: start}
}

func (p *path) add(kind motion.Kind, target motion.Position, feed float64) *motion.Command {
	p.cmds = append(p.cmds, motion.Command{
		Kind:       kind,
		Start:      p.pos,
		Target:     target,
		WorkTarget: target,
		Feed:       feed,
		Plane:      p.plane,
	})
	p.pos = target
	return &p.cmds[len(p.cmds)-1]
}

func (p *path) append(cmds []motion.Command) {
	p.cmds = append(p.cmds, cmds...)
	for i := len(cmds) - 1; i >= 0; i-- {
		if cmds[i].Kind.IsMotion() {
			p.pos = cmds[i].Target
			return
		}
	}
}

func (p *path) move(kind motion.Kind, target motion.Position, feed float64) {
	if target == p.pos {
		return
	}
	p.add(kind, target, feed)
}

func (p *path) rapidNormal(level float64) {
	_, _, n := p.plane.Axes()
	t := p.pos
	t[n] = level
	p.move(motion.KindRapid, t, 0)
}

func (p *path) feedNormal(level, feed float64) {
	_, _, n := p.plane.Axes()
	t := p.pos
	t[n] = level
	p.move(motion.KindLinear, t, feed)
}

func (p *path) rapidInPlane(u, v float64) {
	a0, a1, _ := p.plane.Axes()
	t := p.pos
	t[a0], t[a1] = u, v
	p.move(motion.KindRapid, t, 0)
}

func (p *path) feedInPlane(u, v, feed float64) {
	a0, a1, _ := p.plane.Axes()
	t := p.pos
	t[a0], t[a1] = u, v
	p.move(motion.KindLinear, t, feed)
}

// arc adds a full or partial circle; offset is the centre relative to the
// current position.
func (p *path) arc(kind motion.Kind, target, offset motion.Position, feed float64) {
	cmd := p.add(kind, target, feed)
	cmd.Offset = offset
}

func (p *path) dwell(seconds float64) {
	p.cmds = append(p.cmds, motion.Command{Kind: motion.KindDwell, Dwell: seconds, Start: p.pos, Target: p.pos, WorkTarget: p.pos})
}

func (p *path) spindle(dir motion.SpindleDir, speed float64) {
	p.cmds = append(p.cmds, motion.Command{Kind: motion.KindSpindle, Spindle: dir, SpindleSpeed: speed, Start: p.pos, Target: p.pos, WorkTarget: p.pos})
}
