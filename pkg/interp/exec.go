// Block execution
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package interp

import (
	"context"
	"math"
	"strconv"

	"modax-cnc/pkg/coords"
	"modax-cnc/pkg/cycles"
	cncerr "modax-cnc/pkg/errors"
	"modax-cnc/pkg/gcode"
	"modax-cnc/pkg/log"
	"modax-cnc/pkg/motion"
)

// words holds the evaluated parameter words of one block. Words whose
// value is a null variable are left out.
type words map[byte]float64

func (w words) has(letter byte) bool {
	_, ok := w[letter]
	return ok
}

func (w words) int(letter byte) (int, bool) {
	v, ok := w[letter]
	return int(math.Round(v)), ok
}

// annotate gives err the line of the executing block.
func (in *Interpreter) annotate(err error) error {
	if err == nil {
		return nil
	}
	if e, ok := cncerr.As(err); ok {
		if e.Line == 0 {
			e.SetLine(in.line)
		}
		return e
	}
	return cncerr.Wrap(err, cncerr.ErrRuntime, "block failed").SetLine(in.line)
}

func (in *Interpreter) execute(ctx context.Context, b *gcode.Block) error {
	in.line = b.Line
	in.exactStop = false
	if b.BlockDelete && in.opts.BlockDelete {
		return nil
	}
	if err := in.annotate(in.assign(b)); err != nil {
		return err
	}
	w, err := in.evalWords(b)
	if err != nil {
		return in.annotate(err)
	}
	return in.annotate(in.dispatch(ctx, b, w))
}

func (in *Interpreter) assign(b *gcode.Block) error {
	for _, a := range b.Assignments {
		id, err := in.varID(a.Target)
		if err != nil {
			return err
		}
		v, err := a.Value.Eval(in.vars)
		if err != nil {
			return cncerr.Wrap(err, cncerr.ErrRuntime, "assignment to #"+strconv.Itoa(id))
		}
		if err := in.vars.Set(id, v); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interpreter) varID(target gcode.Expr) (int, error) {
	switch t := target.(type) {
	case gcode.VarRef:
		return int(t), nil
	case gcode.Indirect:
		v, err := t.Index.Eval(in.vars)
		if err != nil {
			return 0, cncerr.Wrap(err, cncerr.ErrRuntime, "variable index")
		}
		return int(math.Round(v)), nil
	}
	return 0, cncerr.Newf(cncerr.ErrRuntime, "cannot assign to %s", target)
}

// isNull reports whether e is a bare reference to an unset variable.
func (in *Interpreter) isNull(e gcode.Expr) (bool, error) {
	switch e.(type) {
	case gcode.VarRef, gcode.Indirect:
	default:
		return false, nil
	}
	id, err := in.varID(e)
	if err != nil {
		return false, err
	}
	_, set, err := in.vars.Lookup(id)
	return !set, err
}

func (in *Interpreter) evalWords(b *gcode.Block) (words, error) {
	w := make(words)
	for _, word := range b.Words {
		if word.IsCode() {
			continue
		}
		null, err := in.isNull(word.Value)
		if err != nil {
			return nil, err
		}
		if null {
			continue
		}
		v, err := word.Value.Eval(in.vars)
		if err != nil {
			return nil, cncerr.Wrap(err, cncerr.ErrRuntime, "evaluating "+word.Text).SetToken(word.Text)
		}
		w[word.Letter] = v
	}
	return w, nil
}

// mm converts a length word to millimetres under G20.
func (in *Interpreter) mm(v float64) float64 {
	if in.modal.Units == Inches {
		return v * inch
	}
	return v
}

func (in *Interpreter) dispatch(ctx context.Context, b *gcode.Block, w words) error {
	// Macro calls consume every word of the block as an argument.
	if b.HasCode(gcode.G(65)) {
		return in.callMacro(b, w)
	}
	if b.HasCode(gcode.G(66)) {
		return in.setModalMacro(b, w)
	}
	if b.HasCode(gcode.G(67)) {
		in.macro = nil
	}

	in.setUnits(b)
	in.setFeedMode(b)
	if err := in.setFeed(w); err != nil {
		return err
	}
	if err := in.setSpeed(ctx, b, w); err != nil {
		return err
	}
	if err := in.selectTool(b, w); err != nil {
		return err
	}
	if b.HasCode(gcode.M(6)) {
		if err := in.changeTool(ctx); err != nil {
			return err
		}
	}
	if err := in.spindle(ctx, b); err != nil {
		return err
	}
	if err := in.coolant(ctx, b); err != nil {
		return err
	}
	if err := in.auxiliary(ctx, b); err != nil {
		return err
	}
	if b.HasCode(gcode.G(4)) {
		if err := in.dwell(ctx, w); err != nil {
			return err
		}
	}
	in.setPlane(b)
	if err := in.setCompensation(b, w); err != nil {
		return err
	}
	if err := in.setWCS(b, w); err != nil {
		return err
	}
	in.setModes(b)
	if err := in.setTransforms(b, w); err != nil {
		return err
	}

	moved, err := in.nonModal(ctx, b, w)
	if err != nil {
		return err
	}
	// G51 and G68 take their centre from the axis words.
	if !moved && !b.HasCode(gcode.G(51)) && !b.HasCode(gcode.G(68)) {
		if err := in.motion(ctx, b, w); err != nil {
			return err
		}
	}

	if err := in.stops(ctx, b); err != nil {
		return err
	}
	if err := in.subprogram(b, w); err != nil {
		return err
	}
	if b.Flow != nil {
		return in.flow(b)
	}
	return nil
}

func (in *Interpreter) setUnits(b *gcode.Block) {
	switch {
	case b.HasCode(gcode.G(20)):
		in.modal.Units = Inches
	case b.HasCode(gcode.G(21)):
		in.modal.Units = Millimeters
	}
}

func (in *Interpreter) setFeedMode(b *gcode.Block) {
	switch {
	case b.HasCode(gcode.G(93)):
		in.modal.FeedMode = InverseTime
	case b.HasCode(gcode.G(94)):
		in.modal.FeedMode = FeedPerMinute
	case b.HasCode(gcode.G(95)):
		in.modal.FeedMode = FeedPerRev
	}
}

func (in *Interpreter) setFeed(w words) error {
	f, ok := w['F']
	if !ok {
		return nil
	}
	if f < 0 {
		return cncerr.Newf(cncerr.ErrInvalidArgument, "negative feed F%g", f)
	}
	if in.modal.FeedMode == InverseTime {
		in.modal.Feed = f
		return nil
	}
	in.modal.Feed = in.mm(f)
	return nil
}

func (in *Interpreter) setSpeed(ctx context.Context, b *gcode.Block, w words) error {
	s, ok := w['S']
	if !ok {
		return nil
	}
	if s < 0 {
		return cncerr.Newf(cncerr.ErrInvalidArgument, "negative spindle speed S%g", s)
	}
	if limit := in.opts.MaxSpindle; limit > 0 && s > limit {
		in.logger.WithFields(log.Fields{"line": in.line, "requested": s, "max": limit}).Warn("spindle speed clamped")
		s = limit
	}
	in.modal.SpindleSpeed = s
	running := in.modal.Spindle == motion.SpindleCW || in.modal.Spindle == motion.SpindleCCW
	if running && len(b.CodesIn(gcode.GroupSpindle)) == 0 {
		return in.emit(ctx, motion.Command{Kind: motion.KindSpindle, Spindle: in.modal.Spindle, SpindleSpeed: s})
	}
	return nil
}

func (in *Interpreter) selectTool(b *gcode.Block, w words) error {
	t, ok := w.int('T')
	if !ok || b.HasCode(gcode.M(98)) {
		return nil
	}
	if err := in.tools.SelectTool(t); err != nil {
		return err
	}
	in.modal.SelectedTool = t
	return nil
}

func (in *Interpreter) changeTool(ctx context.Context) error {
	n := in.tools.Selected()
	if err := in.tools.ChangeTo(n); err != nil {
		return err
	}
	in.modal.ActiveTool = n
	in.modal.SelectedTool = in.tools.Selected()
	in.logger.WithFields(log.Fields{"line": in.line, "tool": n}).Info("tool change")
	return in.emit(ctx, motion.Command{Kind: motion.KindToolChange, Tool: n})
}

func (in *Interpreter) spindle(ctx context.Context, b *gcode.Block) error {
	for _, c := range b.CodesIn(gcode.GroupSpindle) {
		var dir motion.SpindleDir
		switch c {
		case gcode.M(3):
			dir = motion.SpindleCW
		case gcode.M(4):
			dir = motion.SpindleCCW
		case gcode.M(5):
			dir = motion.SpindleOff
		case gcode.M(19):
			dir = motion.SpindleOrient
		}
		in.modal.Spindle = dir
		speed := in.modal.SpindleSpeed
		if dir == motion.SpindleOff || dir == motion.SpindleOrient {
			speed = 0
		}
		if err := in.emit(ctx, motion.Command{Kind: motion.KindSpindle, Spindle: dir, SpindleSpeed: speed, Code: c.String()}); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interpreter) coolant(ctx context.Context, b *gcode.Block) error {
	codes := b.CodesIn(gcode.GroupCoolant)
	if len(codes) == 0 {
		return nil
	}
	for _, c := range codes {
		switch c {
		case gcode.M(7):
			in.modal.Coolant |= motion.CoolantMist
		case gcode.M(8):
			in.modal.Coolant |= motion.CoolantFlood
		case gcode.M(9):
			in.modal.Coolant = motion.CoolantOff
		case gcode.M(50):
			in.modal.Coolant |= motion.CoolantHighPressure
		case gcode.M(51):
			in.modal.Coolant &^= motion.CoolantHighPressure
		case gcode.M(88), gcode.M(89):
			in.modal.Coolant |= motion.CoolantThroughSpindle
		}
	}
	return in.emit(ctx, motion.Command{Kind: motion.KindCoolant, Coolant: in.modal.Coolant, Code: codes[len(codes)-1].String()})
}

// auxiliary forwards clamp, pallet, output and user macro M codes.
func (in *Interpreter) auxiliary(ctx context.Context, b *gcode.Block) error {
	for _, c := range b.CodesIn(gcode.GroupNone) {
		if err := in.emit(ctx, motion.Command{Kind: motion.KindAuxiliary, Code: c.String()}); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interpreter) dwell(ctx context.Context, w words) error {
	seconds, ok := w['P']
	if !ok {
		seconds, ok = w['X']
	}
	if !ok || seconds < 0 {
		return cncerr.New(cncerr.ErrInvalidArgument, "G4 needs a non-negative P or X dwell in seconds")
	}
	return in.emit(ctx, motion.Command{Kind: motion.KindDwell, Dwell: seconds})
}

func (in *Interpreter) setPlane(b *gcode.Block) {
	switch {
	case b.HasCode(gcode.G(17)):
		in.modal.Plane = motion.PlaneXY
	case b.HasCode(gcode.G(18)):
		in.modal.Plane = motion.PlaneZX
	case b.HasCode(gcode.G(19)):
		in.modal.Plane = motion.PlaneYZ
	}
}

func (in *Interpreter) setCompensation(b *gcode.Block, w words) error {
	switch {
	case b.HasCode(gcode.G(40)):
		in.modal.CutterComp, in.modal.CompRadius = CompOff, 0
	case b.HasCode(gcode.G(41)), b.HasCode(gcode.G(42)):
		comp := CompLeft
		if b.HasCode(gcode.G(42)) {
			comp = CompRight
		}
		d, ok := w.int('D')
		if !ok {
			d = in.modal.ActiveTool
		}
		r, err := in.tools.RadiusOffset(d)
		if err != nil {
			return err
		}
		in.modal.CutterComp, in.modal.CompRadius = comp, r
	}

	// A change of length offset moves the tool tip reference, not the
	// machine; the position keeps its machine value.
	switch {
	case b.HasCode(gcode.G(49)):
		in.modal.LengthComp, in.modal.LengthOffset, in.modal.LengthWord = LengthOff, 0, 0
	case b.HasCode(gcode.G(43)), b.HasCode(gcode.G(44)):
		comp := LengthPositive
		if b.HasCode(gcode.G(44)) {
			comp = LengthNegative
		}
		h, ok := w.int('H')
		if !ok {
			h = in.modal.ActiveTool
		}
		length, err := in.tools.LengthOffset(h)
		if err != nil {
			return err
		}
		in.modal.LengthComp, in.modal.LengthOffset, in.modal.LengthWord = comp, length, h
	}
	return nil
}

func (in *Interpreter) setWCS(b *gcode.Block, w words) error {
	codes := b.CodesIn(gcode.GroupCoordSystem)
	if len(codes) == 0 {
		return nil
	}
	c := codes[0]
	id := c.String()
	if c == gcode.GSub(54, 1) {
		p, ok := w.int('P')
		if !ok {
			return cncerr.New(cncerr.ErrInvalidArgument, "G54.1 needs P1-P300")
		}
		id = coords.ExtendedID(p)
	}
	if err := in.coords.Select(id); err != nil {
		return err
	}
	in.modal.WCS = in.coords.Active()
	return nil
}

func (in *Interpreter) setModes(b *gcode.Block) {
	for _, c := range b.Codes() {
		switch c {
		case gcode.G(61):
			in.modal.PathMode = PathExactStop
		case gcode.G(62):
			in.modal.PathMode = PathCornerOverride
		case gcode.G(63):
			in.modal.PathMode = PathTapping
		case gcode.G(64):
			in.modal.PathMode = PathContinuous
		case gcode.G(9):
			in.exactStop = true
		case gcode.G(90):
			in.modal.Distance = Absolute
		case gcode.G(91):
			in.modal.Distance = Incremental
		case gcode.G(98):
			in.modal.Return = cycles.ReturnInitial
		case gcode.G(99):
			in.modal.Return = cycles.ReturnR
		case gcode.G(15):
			in.modal.Polar = false
		case gcode.G(16):
			in.modal.Polar = true
		case gcode.G(96):
			in.modal.CSS = true
		case gcode.G(97):
			in.modal.CSS = false
		case gcode.G(5), gcode.GSub(5, 1), gcode.GSub(7, 1), gcode.GSub(12, 1), gcode.G(107):
			in.modal.Interpolation = c
		case gcode.GSub(13, 1):
			in.modal.Interpolation = gcode.Code{}
		}
	}
}

// setTransforms handles G50/G51 scaling and G68/G69 rotation. Centres are
// work coordinates of the active system.
func (in *Interpreter) setTransforms(b *gcode.Block, w words) error {
	switch {
	case b.HasCode(gcode.G(50)):
		in.coords.CancelScale()
	case b.HasCode(gcode.G(51)):
		center := in.WorkPosition()
		for _, a := range []motion.Axis{motion.X, motion.Y, motion.Z} {
			if v, ok := w[axisLetter[a]]; ok {
				center[a] = in.mm(v)
			}
		}
		var factors motion.Position
		for a := range factors {
			factors[a] = 1
		}
		if p, ok := w['P']; ok {
			factors[motion.X], factors[motion.Y], factors[motion.Z] = p, p, p
		}
		for i, l := range []byte{'I', 'J', 'K'} {
			if v, ok := w[l]; ok {
				factors[i] = v
			}
		}
		if err := in.coords.Scale(factors, center); err != nil {
			return err
		}
	}

	switch {
	case b.HasCode(gcode.G(69)):
		in.coords.Rotate(in.modal.Plane, 0, motion.Position{})
	case b.HasCode(gcode.G(68)):
		a0, a1, _ := in.modal.Plane.Axes()
		var center motion.Position
		if v, ok := w[axisLetter[a0]]; ok {
			center[a0] = in.mm(v)
		}
		if v, ok := w[axisLetter[a1]]; ok {
			center[a1] = in.mm(v)
		}
		in.coords.Rotate(in.modal.Plane, w['R'], center)
	}
	return nil
}

var axisLetter = [motion.NumAxes]byte{'X', 'Y', 'Z', 'A', 'B', 'C'}

// nonModal runs the one-shot codes of group 0. It reports whether the
// block's axis words were consumed by one of them.
func (in *Interpreter) nonModal(ctx context.Context, b *gcode.Block, w words) (bool, error) {
	moved := false
	for _, c := range b.CodesIn(gcode.GroupNonModal) {
		var err error
		switch c {
		case gcode.G(9), gcode.G(65):
		case gcode.G(4):
			moved = true
		case gcode.G(10):
			err = in.dataInput(w)
			moved = true
		case gcode.G(28):
			moved, err = true, in.referenceReturn(ctx, w, in.opts.Reference)
		case gcode.G(30):
			moved, err = true, in.referenceReturn(ctx, w, in.opts.SecondReference)
		case gcode.G(29):
			moved, err = true, in.referenceLeave(ctx, w)
		case gcode.G(52):
			err = in.localSystem(w)
			moved = true
		case gcode.G(53):
			moved, err = true, in.machineMove(ctx, b, w)
		case gcode.G(92):
			in.originShift(w)
			moved = true
		case gcode.G(37):
			moved, err = true, in.measureLength(ctx, w)
		default:
			in.logger.WithFields(log.Fields{"line": in.line, "code": c.String()}).Warn("code recognised but has no effect")
		}
		if err != nil {
			return moved, err
		}
	}
	return moved, nil
}

// dataInput is G10. L2 writes G54-G59.3 (P1-P9), L20 writes G54.1 P1-P300, L10/L1 write tool length and
// radius.
func (in *Interpreter) dataInput(w words) error {
	l, _ := w.int('L')
	p, ok := w.int('P')
	if !ok {
		return cncerr.New(cncerr.ErrInvalidArgument, "G10 needs P")
	}
	switch l {
	case 2, 20:
		var id string
		if l == 2 {
			if p < 1 || p > 9 {
				return cncerr.Newf(cncerr.ErrInvalidArgument, "G10 L2 P%d out of range 1-9", p)
			}
			id = coords.BaseSystems[p-1]
		} else {
			id = coords.ExtendedID(p)
		}
		offset, err := in.coords.Offset(id)
		if err != nil {
			return err
		}
		for a := motion.X; a < motion.NumAxes; a++ {
			if v, ok := w[axisLetter[a]]; ok {
				if a <= motion.Z {
					v = in.mm(v)
				}
				if in.modal.Distance == Incremental {
					offset[a] += v
				} else {
					offset[a] = v
				}
			}
		}
		return in.coords.SetOffset(id, offset)
	case 1, 10, 11:
		t, ok := in.tools.Get(p)
		if !ok {
			return cncerr.ToolNotFoundError(p)
		}
		length, radius := t.LengthOffset, t.RadiusOffset
		if v, ok := w['Z']; ok {
			length = in.mm(v)
		}
		if v, ok := w['R']; ok {
			radius = in.mm(v)
		}
		return in.tools.SetOffset(p, length, radius)
	}
	return cncerr.Newf(cncerr.ErrInvalidArgument, "G10 L%d not supported", l)
}

// localSystem is G52: the given axes replace the local offset, absent
// axes keep it. G52 with no axes clears it.
func (in *Interpreter) localSystem(w words) error {
	local := in.coords.Snapshot().Local
	given := false
	for a := motion.X; a < motion.NumAxes; a++ {
		if v, ok := w[axisLetter[a]]; ok {
			if a <= motion.Z {
				v = in.mm(v)
			}
			local[a] = v
			given = true
		}
	}
	if !given {
		local = motion.Position{}
	}
	in.coords.SetLocal(local)
	return nil
}

// originShift is G92: the current position reads as the given axis words.
func (in *Interpreter) originShift(w words) {
	var work motion.Position
	var mask motion.Mask
	for a := motion.X; a < motion.NumAxes; a++ {
		if v, ok := w[axisLetter[a]]; ok {
			if a <= motion.Z {
				v = in.mm(v)
			}
			work[a] = v
			mask = mask.With(a)
		}
	}
	in.coords.ShiftTo(in.pos.Sub(in.lengthVector()), work, mask)
}

func (in *Interpreter) stops(ctx context.Context, b *gcode.Block) error {
	for _, c := range b.CodesIn(gcode.GroupStop) {
		switch c {
		case gcode.M(0):
			if err := in.emit(ctx, motion.Command{Kind: motion.KindStop, Code: "M0"}); err != nil {
				return err
			}
		case gcode.M(1):
			if !in.opts.OptionalStop {
				continue
			}
			if err := in.emit(ctx, motion.Command{Kind: motion.KindStop, Code: "M1", Optional: true}); err != nil {
				return err
			}
		case gcode.M(2), gcode.M(30):
			if err := in.emit(ctx, motion.Command{Kind: motion.KindProgramEnd, Code: c.String()}); err != nil {
				return err
			}
			if c == gcode.M(30) {
				in.coords.ResetTransient()
			}
			in.end()
		}
	}
	return nil
}

// end finishes the program run. An MDI block only clears the modal
// cycle state; the loaded program is left where it is.
func (in *Interpreter) end() {
	in.macro = nil
	in.cycle = cycleParams{}
	if in.jump < 0 {
		in.logger.WithField("line", in.line).Info("program end in MDI")
		return
	}
	in.done = true
	if in.prog != nil {
		in.jump = in.prog.Len()
	}
	in.logger.WithFields(log.Fields{"line": in.line, "steps": in.steps}).Info("program end")
}

// subprogram handles M98 calls and M99 returns.
func (in *Interpreter) subprogram(b *gcode.Block, w words) error {
	switch {
	case b.HasCode(gcode.M(98)):
		p, ok := w.int('P')
		if !ok {
			return cncerr.New(cncerr.ErrInvalidArgument, "M98 needs P")
		}
		repeat := 1
		if l, ok := w.int('L'); ok {
			repeat = l
		}
		if repeat < 1 {
			return nil
		}
		entry, ok := in.prog.Subprogram(p)
		if !ok {
			return cncerr.UnknownLabelError("O"+strconv.Itoa(p), in.line)
		}
		return in.call(CallSub, entry, repeat, nil)
	case b.HasCode(gcode.M(99)):
		return in.returnFrom("M99", w)
	}
	return nil
}

// call pushes a frame and jumps to entry. args, when set, become the new
// locals.
func (in *Interpreter) call(kind CallKind, entry, repeat int, args map[int]float64) error {
	f := Frame{
		Kind:   kind,
		Return: in.jump,
		Line:   in.line,
		Entry:  entry,
		Repeat: repeat - 1,
		Locals: in.vars.SaveLocals(),
	}
	if err := in.stack.Push(f); err != nil {
		return err
	}
	if args != nil {
		in.vars.ClearLocals()
		for id, v := range args {
			if err := in.vars.Set(id, v); err != nil {
				return err
			}
		}
	}
	in.jump = entry
	in.logger.WithFields(log.Fields{"line": in.line, "kind": kind.String(), "depth": in.stack.Depth()}).Debug("call")
	return nil
}

// returnFrom pops a frame for M99 or RETURN. M99 on an empty stack ends
// the main program, or jumps to N<P> when P is given.
func (in *Interpreter) returnFrom(token string, w words) error {
	p, hasP := w.int('P')
	top := in.stack.Top()
	if top == nil {
		if token == "M99" {
			if hasP {
				return in.goTo("N" + strconv.Itoa(p))
			}
			in.end()
			return nil
		}
		return cncerr.StackUnderflowError(token, in.line)
	}
	if top.Repeat > 0 {
		top.Repeat--
		in.jump = top.Entry
		return nil
	}
	f, err := in.stack.Pop(token, in.line)
	if err != nil {
		return err
	}
	if f.Kind != CallGosub {
		in.vars.RestoreLocals(f.Locals)
	}
	in.jump = f.Return
	if hasP && token == "M99" {
		return in.goTo("N" + strconv.Itoa(p))
	}
	return nil
}

func (in *Interpreter) goTo(target string) error {
	idx, ok := in.prog.Resolve(target)
	if !ok {
		return cncerr.UnknownLabelError(target, in.line).SetLabel(target)
	}
	in.jump = idx
	return nil
}

func (in *Interpreter) flow(b *gcode.Block) error {
	f := b.Flow
	if f.Cond != nil {
		v, err := f.Cond.Eval(in.vars)
		if err != nil {
			return cncerr.Wrap(err, cncerr.ErrRuntime, "IF condition")
		}
		if v == 0 {
			return nil
		}
	}
	switch f.Kind {
	case gcode.FlowGoto:
		return in.goTo(f.Target)
	case gcode.FlowGosub:
		idx, ok := in.prog.Resolve(f.Target)
		if !ok {
			return cncerr.UnknownLabelError(f.Target, in.line).SetLabel(f.Target)
		}
		return in.call(CallGosub, idx, 1, nil)
	case gcode.FlowReturn:
		return in.returnFrom("RETURN", nil)
	}
	return nil
}

// macroArgsFrom maps the words of a G65/G66 block to locals.
func macroArgsFrom(w words) map[int]float64 {
	args := make(map[int]float64)
	for letter, v := range w {
		if id, ok := macroArgs[letter]; ok {
			args[id] = v
		}
	}
	return args
}

func (in *Interpreter) callMacro(b *gcode.Block, w words) error {
	p, ok := w.int('P')
	if !ok {
		return cncerr.New(cncerr.ErrInvalidArgument, "G65 needs P")
	}
	repeat := 1
	if l, ok := w.int('L'); ok {
		repeat = l
	}
	if repeat < 1 {
		return nil
	}
	entry, ok := in.prog.Subprogram(p)
	if !ok {
		return cncerr.UnknownLabelError("O"+strconv.Itoa(p), b.Line)
	}
	return in.call(CallMacro, entry, repeat, macroArgsFrom(w))
}

// setModalMacro is G66: the macro is called after every later block that
// carries axis words, until G67.
func (in *Interpreter) setModalMacro(b *gcode.Block, w words) error {
	p, ok := w.int('P')
	if !ok {
		return cncerr.New(cncerr.ErrInvalidArgument, "G66 needs P")
	}
	if _, ok := in.prog.Subprogram(p); !ok {
		return cncerr.UnknownLabelError("O"+strconv.Itoa(p), b.Line)
	}
	repeat := 1
	if l, ok := w.int('L'); ok {
		repeat = l
	}
	args := make(map[byte]float64)
	for letter, v := range w {
		if letter != 'P' && letter != 'L' {
			args[letter] = v
		}
	}
	in.macro = &modalMacro{program: p, repeat: repeat, args: args}
	return nil
}
