// Motion words, arcs and canned cycles
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package interp

import (
	"context"
	"math"
	"strconv"

	"modax-cnc/pkg/cycles"
	cncerr "modax-cnc/pkg/errors"
	"modax-cnc/pkg/gcode"
	"modax-cnc/pkg/motion"
	"modax-cnc/pkg/planner"
)

var probeModes = map[gcode.Code]motion.ProbeMode{
	gcode.G(31):       motion.ProbeSkip,
	gcode.GSub(38, 2): motion.ProbeToward,
	gcode.GSub(38, 3): motion.ProbeTowardQuiet,
	gcode.GSub(38, 4): motion.ProbeAway,
	gcode.GSub(38, 5): motion.ProbeAwayQuiet,
}

func hasAxisWords(w words) bool {
	for _, l := range axisLetter {
		if w.has(l) {
			return true
		}
	}
	return false
}

// target applies the axis words to the current work position under the
// active distance mode and polar setting.
func (in *Interpreter) target(w words) motion.Position {
	cur := in.WorkPosition()
	work := cur
	for a := motion.X; a < motion.NumAxes; a++ {
		v, ok := w[axisLetter[a]]
		if !ok {
			continue
		}
		if a <= motion.Z {
			v = in.mm(v)
		}
		if in.modal.Distance == Incremental {
			work[a] += v
		} else {
			work[a] = v
		}
	}
	if in.modal.Polar {
		in.polar(w, cur, &work)
	}
	return work
}

// polar reinterprets the two in-plane axis words as radius and angle in
// degrees about the work origin.
func (in *Interpreter) polar(w words, cur motion.Position, work *motion.Position) {
	a0, a1, _ := in.modal.Plane.Axes()
	radius := math.Hypot(cur[a0], cur[a1])
	angle := math.Atan2(cur[a1], cur[a0]) * 180 / math.Pi
	if v, ok := w[axisLetter[a0]]; ok {
		v = in.mm(v)
		if in.modal.Distance == Incremental {
			radius += v
		} else {
			radius = v
		}
	}
	if v, ok := w[axisLetter[a1]]; ok {
		if in.modal.Distance == Incremental {
			angle += v
		} else {
			angle = v
		}
	}
	sin, cos := math.Sincos(angle * math.Pi / 180)
	work[a0], work[a1] = radius*cos, radius*sin
}

// feedFor returns the feed in mm/min for a move of the given length.
func (in *Interpreter) feedFor(w words, length float64) (float64, error) {
	switch in.modal.FeedMode {
	case InverseTime:
		f, ok := w['F']
		if !ok || f <= 0 {
			return 0, cncerr.New(cncerr.ErrInvalidArgument, "inverse time feed needs F on every move")
		}
		return f * length, nil
	case FeedPerRev:
		if in.modal.SpindleSpeed <= 0 {
			return 0, cncerr.New(cncerr.ErrInvalidArgument, "feed per revolution needs a spindle speed")
		}
		return in.modal.Feed * in.modal.SpindleSpeed, nil
	}
	return in.modal.Feed, nil
}

func (in *Interpreter) exactStopActive() bool {
	return in.exactStop || in.modal.PathMode == PathExactStop || in.modal.PathMode == PathTapping
}

func (in *Interpreter) motion(ctx context.Context, b *gcode.Block, w words) error {
	prev := in.modal.Motion
	if codes := b.CodesIn(gcode.GroupMotion); len(codes) > 0 {
		c := codes[0]
		in.modal.Motion = c
		if c == gcode.G(80) {
			in.cycle = cycleParams{}
		} else if k, ok := cycles.KindFromCode(c.String()); !ok || !k.IsHole() || c != prev {
			in.cycle = cycleParams{}
		}
	}
	if pocket := b.CodesIn(gcode.GroupPocket); len(pocket) > 0 {
		return in.pocket(ctx, pocket[0], w)
	}

	c := in.modal.Motion
	if k, ok := cycles.KindFromCode(c.String()); ok && k.IsHole() {
		if !hasAxisWords(w) && !b.HasCode(c) {
			return nil
		}
		return in.holeCycle(ctx, k, w)
	}
	if !hasAxisWords(w) {
		return nil
	}

	var err error
	switch {
	case c == gcode.G(80):
		return cncerr.New(cncerr.ErrInvalidArgument, "axis words with G80 and no motion code")
	case c == gcode.G(0) || c == gcode.G(1):
		err = in.straight(ctx, c, w)
	case c == gcode.G(2) || c == gcode.G(3):
		err = in.arc(ctx, c, w)
	case c == gcode.G(33):
		err = in.threadMove(ctx, w)
	default:
		if mode, ok := probeModes[c]; ok {
			err = in.probe(ctx, mode, w)
			// Probing is one-shot.
			in.modal.Motion = prev
		} else {
			err = cncerr.Newf(cncerr.ErrInvalidArgument, "motion mode %s not supported", c)
		}
	}
	if err != nil {
		return err
	}
	return in.modalMacroCall()
}

// modalMacroCall runs the active G66 macro after a move.
func (in *Interpreter) modalMacroCall() error {
	if in.macro == nil || in.prog == nil {
		return nil
	}
	entry, ok := in.prog.Subprogram(in.macro.program)
	if !ok {
		return cncerr.UnknownLabelError("O"+strconv.Itoa(in.macro.program), in.line)
	}
	return in.call(CallMacro, entry, in.macro.repeat, macroArgsFrom(in.macro.args))
}

func (in *Interpreter) straight(ctx context.Context, c gcode.Code, w words) error {
	work := in.target(w)
	cmd := motion.Command{
		Kind:       motion.KindRapid,
		Target:     in.toMachine(work),
		WorkTarget: work,
		Plane:      in.modal.Plane,
		ExactStop:  in.exactStopActive(),
	}
	if c == gcode.G(1) {
		cmd.Kind = motion.KindLinear
		feed, err := in.feedFor(w, in.pos.Distance(cmd.Target))
		if err != nil {
			return err
		}
		cmd.Feed = feed
	}
	return in.emit(ctx, cmd)
}

func (in *Interpreter) arc(ctx context.Context, c gcode.Code, w words) error {
	plane := in.modal.Plane
	work := in.target(w)
	cmd := motion.Command{
		Kind:       motion.KindArcCW,
		Start:      in.pos,
		Target:     in.toMachine(work),
		WorkTarget: work,
		Plane:      plane,
		ExactStop:  in.exactStopActive(),
	}
	if c == gcode.G(3) {
		cmd.Kind = motion.KindArcCCW
	}
	if r, ok := w['R']; ok {
		if !in.coords.UniformScale(plane) {
			return cncerr.MotionLimitError("radius-form arc with unequal in-plane scaling")
		}
		cmd.Radius = in.mm(r) * in.coords.ArcRadiusScale(plane)
		cmd.HasRadius = true
	} else {
		var off motion.Position
		given := false
		for i, l := range []byte{'I', 'J', 'K'} {
			if v, ok := w[l]; ok {
				off[i] = in.mm(v)
				given = true
			}
		}
		if !given {
			return cncerr.New(cncerr.ErrInvalidArgument, "arc needs I, J, K or R")
		}
		cmd.Offset = in.coords.VectorToMachine(off)
	}
	if in.coords.Reflected(plane) {
		cmd.Kind = flip(cmd.Kind)
	}
	if p, ok := w.int('P'); ok && p > 1 {
		cmd.Turns = p - 1
	}

	geo, err := planner.ResolveArc(cmd, in.opts.ArcTolerance)
	if err != nil {
		return err
	}
	if cmd.Feed, err = in.feedFor(w, geo.Length()); err != nil {
		return err
	}
	return in.emit(ctx, cmd)
}

func flip(k motion.Kind) motion.Kind {
	if k == motion.KindArcCW {
		return motion.KindArcCCW
	}
	return motion.KindArcCW
}

// threadMove is G33: F is the lead in mm per revolution.
func (in *Interpreter) threadMove(ctx context.Context, w words) error {
	lead := in.modal.Feed
	if lead <= 0 {
		return cncerr.New(cncerr.ErrInvalidArgument, "G33 needs a lead F")
	}
	if in.modal.SpindleSpeed <= 0 {
		return cncerr.New(cncerr.ErrInvalidArgument, "G33 needs a spindle speed")
	}
	work := in.target(w)
	return in.emit(ctx, motion.Command{
		Kind:       motion.KindThread,
		Target:     in.toMachine(work),
		WorkTarget: work,
		Plane:      in.modal.Plane,
		Lead:       lead,
		Feed:       lead * in.modal.SpindleSpeed,
		ExactStop:  true,
	})
}

func (in *Interpreter) probe(ctx context.Context, mode motion.ProbeMode, w words) error {
	work := in.target(w)
	cmd := motion.Command{
		Kind:       motion.KindProbe,
		Target:     in.toMachine(work),
		WorkTarget: work,
		Plane:      in.modal.Plane,
		Probe:      mode,
		ExactStop:  true,
	}
	feed, err := in.feedFor(w, in.pos.Distance(cmd.Target))
	if err != nil {
		return err
	}
	cmd.Feed = feed
	return in.emit(ctx, cmd)
}

// measureLength is G37: probe along Z towards the given level.
func (in *Interpreter) measureLength(ctx context.Context, w words) error {
	if !w.has('Z') {
		return cncerr.New(cncerr.ErrInvalidArgument, "G37 needs Z")
	}
	return in.probe(ctx, motion.ProbeToolLength, words{'Z': w['Z']})
}

// referenceReturn is G28/G30: rapid through the intermediate point given
// by the axis words, then to the reference on those axes. Without axis
// words every axis returns.
func (in *Interpreter) referenceReturn(ctx context.Context, w words, ref motion.Position) error {
	mid := in.pos
	dest := in.pos
	if hasAxisWords(w) {
		mid = in.toMachine(in.target(w))
		for a := motion.X; a < motion.NumAxes; a++ {
			if w.has(axisLetter[a]) {
				dest[a] = ref[a]
			} else {
				mid[a] = in.pos[a]
			}
		}
	} else {
		dest = ref
	}
	in.intermediate = mid
	for _, p := range []motion.Position{mid, dest} {
		if p == in.pos {
			continue
		}
		if err := in.emit(ctx, motion.Command{Kind: motion.KindRapid, Target: p, WorkTarget: in.toWork(p), ExactStop: true}); err != nil {
			return err
		}
	}
	return nil
}

// referenceLeave is G29: back through the G28 intermediate point to the
// commanded position.
func (in *Interpreter) referenceLeave(ctx context.Context, w words) error {
	if err := in.emit(ctx, motion.Command{Kind: motion.KindRapid, Target: in.intermediate, WorkTarget: in.toWork(in.intermediate)}); err != nil {
		return err
	}
	if !hasAxisWords(w) {
		return nil
	}
	work := in.target(w)
	return in.emit(ctx, motion.Command{Kind: motion.KindRapid, Target: in.toMachine(work), WorkTarget: work})
}

// machineMove is G53: a one-shot move in machine coordinates, rapid
// unless G1 is in the block.
func (in *Interpreter) machineMove(ctx context.Context, b *gcode.Block, w words) error {
	target := in.pos
	for a := motion.X; a < motion.NumAxes; a++ {
		if v, ok := w[axisLetter[a]]; ok {
			if a <= motion.Z {
				v = in.mm(v)
			}
			target[a] = v
		}
	}
	cmd := motion.Command{Kind: motion.KindRapid, Target: target, WorkTarget: in.toWork(target), ExactStop: true}
	if b.HasCode(gcode.G(1)) {
		feed, err := in.feedFor(w, in.pos.Distance(target))
		if err != nil {
			return err
		}
		cmd.Kind, cmd.Feed = motion.KindLinear, feed
	}
	return in.emit(ctx, cmd)
}

// cycleFeed returns the cycle feed in mm/min.
func (in *Interpreter) cycleFeed() (float64, error) {
	switch in.modal.FeedMode {
	case FeedPerRev:
		if in.modal.SpindleSpeed <= 0 {
			return 0, cncerr.New(cncerr.ErrInvalidArgument, "feed per revolution needs a spindle speed")
		}
		return in.modal.Feed * in.modal.SpindleSpeed, nil
	case InverseTime:
		return 0, cncerr.New(cncerr.ErrInvalidArgument, "canned cycles cannot run under G93")
	}
	return in.modal.Feed, nil
}

// updateCycle records the modal cycle words of the block. The initial
// level is captured on the first call after the cycle was selected.
func (in *Interpreter) updateCycle(w words) {
	_, _, n := in.modal.Plane.Axes()
	if !in.cycle.active {
		in.cycle = cycleParams{Initial: in.WorkPosition()[n], active: true}
	}
	if v, ok := w['R']; ok {
		in.cycle.R, in.cycle.hasR = in.mm(v), true
	}
	if v, ok := w[axisLetter[n]]; ok {
		in.cycle.Z, in.cycle.hasZ = in.mm(v), true
	}
	if v, ok := w['Q']; ok {
		in.cycle.Q = in.mm(v)
	}
	if v, ok := w['P']; ok {
		in.cycle.P = v
	}
	if v, ok := w['K']; ok {
		in.cycle.K = in.mm(v)
	}
}

// cycleLevels returns the R level and the bottom along the plane normal.
func (in *Interpreter) cycleLevels() (r, bottom float64, err error) {
	c := in.cycle
	if !c.hasZ {
		return 0, 0, cncerr.New(cncerr.ErrInvalidArgument, "canned cycle needs a depth")
	}
	if in.modal.Distance == Incremental {
		r = c.Initial + c.R
		return r, r + c.Z, nil
	}
	r = c.R
	if !c.hasR {
		r = c.Initial
	}
	return r, c.Z, nil
}

// buildHole assembles the cycle for one hole at the in-plane position of
// work.
func (in *Interpreter) buildHole(kind cycles.Kind, work motion.Position) (cycles.Cycle, error) {
	r, bottom, err := in.cycleLevels()
	if err != nil {
		return cycles.Cycle{}, err
	}
	feed, err := in.cycleFeed()
	if err != nil && kind != cycles.Thread {
		return cycles.Cycle{}, err
	}
	_, _, n := in.modal.Plane.Axes()
	work[n] = bottom
	c := cycles.Cycle{
		Kind:   kind,
		Plane:  in.modal.Plane,
		Target: work,
		R:      r,
		Return: in.modal.Return,
		Feed:   feed,
		Dwell:  in.cycle.P,
		Q:      in.cycle.Q,
		Speed:  in.modal.SpindleSpeed,
	}
	switch kind {
	case cycles.Tap, cycles.TapLeft, cycles.RigidTap, cycles.RigidTapLeft:
		if in.modal.FeedMode == FeedPerRev {
			c.Pitch = in.modal.Feed
		} else {
			c.Pitch = in.cycle.K
		}
	case cycles.Thread:
		c.Pitch, c.Height, c.Dwell = in.mm(in.cycle.P), in.cycle.K, 0
	}
	return c, nil
}

func (in *Interpreter) holeCycle(ctx context.Context, kind cycles.Kind, w words) error {
	in.updateCycle(w)
	repeat := 1
	if l, ok := w['L']; ok {
		switch {
		case !(l >= 0):
			return cncerr.Newf(cncerr.ErrInvalidArgument, "canned cycle repeat L%g is negative", l)
		case math.Round(l) > float64(in.opts.MaxCyclePasses):
			return cncerr.Newf(cncerr.ErrMotionLimit, "canned cycle repeat L%g exceeds limit %d", l, in.opts.MaxCyclePasses)
		}
		repeat, _ = w.int('L')
	}
	a0, a1, _ := in.modal.Plane.Axes()
	for i := 0; i < repeat; i++ {
		planeWords := words{}
		for _, a := range []motion.Axis{a0, a1} {
			if v, ok := w[axisLetter[a]]; ok {
				planeWords[axisLetter[a]] = v
			}
		}
		c, err := in.buildHole(kind, in.target(planeWords))
		if err != nil {
			return err
		}
		if err := in.expand(ctx, c, in.cycle.Initial); err != nil {
			return err
		}
	}
	return in.modalMacroCall()
}

// pocket runs the one-shot pocket and bolt pattern codes. The hole
// pattern codes apply the active hole cycle at every hole.
func (in *Interpreter) pocket(ctx context.Context, code gcode.Code, w words) error {
	a0, a1, n := in.modal.Plane.Axes()
	cur := in.WorkPosition()
	center := cur
	for _, a := range []motion.Axis{a0, a1} {
		if v, ok := w[axisLetter[a]]; ok {
			v = in.mm(v)
			if in.modal.Distance == Incremental {
				center[a] += v
			} else {
				center[a] = v
			}
		}
	}

	if code == gcode.G(34) || code == gcode.G(35) {
		kind := cycles.BoltCircle
		if code == gcode.G(35) {
			kind = cycles.BoltArc
		}
		count, _ := w.int('K')
		c := cycles.Cycle{
			Kind:          kind,
			Plane:         in.modal.Plane,
			Target:        center,
			PatternRadius: in.mm(w['I']),
			StartAngle:    w['J'],
			AngleStep:     w['P'],
			Count:         count,
		}
		if hk, ok := cycles.KindFromCode(in.modal.Motion.String()); ok && hk.IsHole() && in.cycle.active {
			hole, err := in.buildHole(hk, center)
			if err != nil {
				return err
			}
			c.Hole = &hole
		}
		return in.expand(ctx, c, in.cycle.Initial)
	}

	z, ok := w[axisLetter[n]]
	if !ok {
		return cncerr.Newf(cncerr.ErrInvalidArgument, "%s needs a depth", code)
	}
	r, bottom := cur[n], in.mm(z)
	if v, ok := w['R']; ok {
		r = in.mm(v)
	}
	if in.modal.Distance == Incremental {
		r = cur[n] + in.mm(w['R'])
		bottom += r
	}
	center[n] = bottom
	feed, err := in.cycleFeed()
	if err != nil {
		return err
	}
	diameter := 0.0
	if t, ok := in.tools.Active(); ok {
		diameter = t.Diameter
	}
	if v, ok := w['D']; ok {
		diameter = in.mm(v)
	}
	c := cycles.Cycle{
		Plane:        in.modal.Plane,
		Target:       center,
		R:            r,
		Return:       in.modal.Return,
		Feed:         feed,
		ToolDiameter: diameter,
	}
	switch code {
	case gcode.G(12), gcode.G(13):
		c.Kind = cycles.CirclePocketCW
		if code == gcode.G(13) {
			c.Kind = cycles.CirclePocketCCW
		}
		c.Radius = in.mm(w['I'])
		c.StepDown = in.mm(w['Q'])
	case gcode.G(26):
		c.Kind = cycles.RectPocket
		c.Width, c.Length = in.mm(w['I']), in.mm(w['J'])
		c.StepOver = w['K']
		c.StepDown = in.mm(w['Q'])
	}
	return in.expand(ctx, c, cur[n])
}

// expand runs a cycle from the current work position and emits its
// commands in the machine frame.
func (in *Interpreter) expand(ctx context.Context, c cycles.Cycle, initial float64) error {
	cmds, err := cycles.Expand(c, cycles.State{
		Position:  in.WorkPosition(),
		Initial:   initial,
		MaxPasses: in.opts.MaxCyclePasses,
	})
	if err != nil {
		return err
	}
	reflected := in.coords.Reflected(c.Plane)
	for _, cmd := range cmds {
		if cmd.Kind.IsMotion() {
			cmd.Target = in.toMachine(cmd.WorkTarget)
		}
		if cmd.Kind.IsArc() {
			cmd.Offset = in.coords.VectorToMachine(cmd.Offset)
			if reflected {
				cmd.Kind = flip(cmd.Kind)
			}
		}
		if cmd.Kind == motion.KindThread {
			if in.modal.SpindleSpeed <= 0 {
				return cncerr.New(cncerr.ErrInvalidArgument, "threading needs a spindle speed")
			}
			cmd.Feed = cmd.Lead * in.modal.SpindleSpeed
		}
		if err := in.emit(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}
