// Canned cycle expansion
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package cycles expands canned cycles into motion command sequences.
// Expansion is a pure function of the Cycle and the State passed in;
// commands are produced in the caller's work frame and carry no line
// number.
package cycles

import (
	"fmt"
	"math"

	cncerr "modax-cnc/pkg/errors"
	"modax-cnc/pkg/motion"
)

// Defaults applied when a cycle leaves a parameter at zero.
const (
	DefaultDwell    = 0.5 // s
	DefaultPeck     = 5.0 // mm
	DefaultRetract  = 2.0 // mm, G73 chip-break lift and R plane when unset
	DefaultStepOver = 0.6 // fraction of tool diameter
	DefaultStepDown = 3.0 // mm
	ReentryGap      = 1.0 // mm above the previous peck depth for G83
	PlungeFactor    = 0.5 // pocket plunge feed relative to cutting feed
	DefaultPasses   = 4   // G76 passes when no first-pass depth is given

	// DefaultMaxPasses bounds the pecks, step-down levels, pocket rings,
	// thread passes and pattern holes of one expansion.
	DefaultMaxPasses = 1000
)

// Kind selects the cycle.
type Kind int

const (
	None           Kind = iota
	Drill               // G81
	DrillDwell          // G82
	PeckChipBreak       // G73
	Peck                // G83
	Tap                 // G84
	TapLeft             // G74
	RigidTap            // G84.2
	RigidTapLeft        // G84.3
	BoreFeedOut         // G85
	BoreSpindleStop     // G86
	BackBore            // G87
	BoreManual          // G88
	BoreDwell           // G89
	Thread              // G76
	CirclePocketCW      // G12
	CirclePocketCCW     // G13
	RectPocket          // G26
	BoltCircle          // G34
	BoltArc             // G35
)

var kindCodes = map[Kind]string{
	Drill: "G81", DrillDwell: "G82", PeckChipBreak: "G73", Peck: "G83",
	Tap: "G84", TapLeft: "G74", RigidTap: "G84.2", RigidTapLeft: "G84.3",
	BoreFeedOut: "G85", BoreSpindleStop: "G86", BackBore: "G87", BoreManual: "G88",
	BoreDwell: "G89", Thread: "G76", CirclePocketCW: "G12", CirclePocketCCW: "G13",
	RectPocket: "G26", BoltCircle: "G34", BoltArc: "G35",
}

func (k Kind) String() string {
	if s, ok := kindCodes[k]; ok {
		return s
	}
	return "G80"
}

// KindFromCode maps a G code string such as "G84.2" to its cycle.
func KindFromCode(code string) (Kind, bool) {
	for k, s := range kindCodes {
		if s == code {
			return k, true
		}
	}
	return None, false
}

// IsHole reports whether k is a modal hole-making cycle that repeats at
// every positioning block until G80.
func (k Kind) IsHole() bool {
	return k >= Drill && k <= Thread
}

// Return is the G98/G99 retract mode.
type Return int

const (
	ReturnInitial Return = iota // G98
	ReturnR                     // G99
)

// Cycle holds the parameters of one cycle invocation. Levels along the
// plane normal (Z for G17) are absolute work coordinates.
type Cycle struct {
	Kind  Kind
	Plane motion.Plane

	// Target carries the hole or pattern centre on the in-plane axes and
	// the bottom level on the normal axis.
	Target motion.Position
	R      float64
	Return Return

	Feed    float64
	Dwell   float64 // P, seconds
	Q       float64 // peck increment, G87 shift, G76 first-pass depth
	Retract float64 // G73 lift
	Pitch   float64 // tapping pitch or thread lead
	Speed   float64 // spindle speed, used with Pitch

	// Pockets
	Radius       float64 // G12/G13 pocket radius
	Width        float64 // G26 size along the first plane axis
	Length       float64 // G26 size along the second plane axis
	ToolDiameter float64
	StepOver     float64 // fraction of tool diameter
	StepDown     float64

	// G76
	Height float64 // total thread depth

	// Bolt patterns
	PatternRadius float64
	StartAngle    float64 // degrees
	AngleStep     float64 // degrees, G35
	Count         int
	Hole          *Cycle // cycle run at each hole; nil positions only
}

// State is the machine context a cycle starts from.
type State struct {
	Position motion.Position // current work position
	Initial  float64         // initial level along the plane normal (G98)

	// MaxPasses caps every repeated part of the expansion; zero selects
	// DefaultMaxPasses.
	MaxPasses int
}

func (s State) maxPasses() int {
	if s.MaxPasses > 0 {
		return s.MaxPasses
	}
	return DefaultMaxPasses
}

// passes returns how many steps of size step cover span, at least one.
// Counts above the limit are rejected before anything is generated.
func passes(c Cycle, s State, what string, span, step float64) (int, error) {
	if !(step > 0) {
		return 0, invalid(c, "%s step must be positive", what)
	}
	n := math.Ceil(span/step - 1e-9)
	if n < 1 {
		n = 1
	}
	if !(n <= float64(s.maxPasses())) {
		return 0, cncerr.Newf(cncerr.ErrMotionLimit, "%s: %s step %g needs %.0f passes, limit %d",
			c.Kind, what, step, n, s.maxPasses())
	}
	return int(n), nil
}

func invalid(c Cycle, format string, args ...interface{}) error {
	return cncerr.Newf(cncerr.ErrInvalidArgument, "%s: %s", c.Kind, fmt.Sprintf(format, args...))
}

// Expand returns the motion sequence for c.
func Expand(c Cycle, s State) ([]motion.Command, error) {
	p := newPath(c.Plane, s.Position)
	var err error
	switch c.Kind {
	case Drill, DrillDwell, PeckChipBreak, Peck, BoreFeedOut, BoreSpindleStop, BoreManual, BoreDwell:
		err = drill(p, c, s)
	case Tap, TapLeft, RigidTap, RigidTapLeft:
		err = tap(p, c, s)
	case BackBore:
		err = backBore(p, c, s)
	case Thread:
		err = thread(p, c, s)
	case CirclePocketCW, CirclePocketCCW:
		err = circlePocket(p, c, s)
	case RectPocket:
		err = rectPocket(p, c, s)
	case BoltCircle, BoltArc:
		err = boltPattern(p, c, s)
	default:
		err = invalid(c, "no cycle active")
	}
	if err != nil {
		return nil, err
	}
	return p.cmds, nil
}

func (c Cycle) returnLevel(s State) float64 {
	if c.Return == ReturnR {
		return c.R
	}
	return s.Initial
}

func (c Cycle) checkLevels() error {
	_, _, n := c.Plane.Axes()
	if c.Target[n] >= c.R {
		return invalid(c, "bottom %.4f must lie below R plane %.4f", c.Target[n], c.R)
	}
	return nil
}

// approach positions over the hole at the current level, then drops to R.
func approach(p *path, c Cycle) {
	a0, a1, _ := c.Plane.Axes()
	p.rapidInPlane(c.Target[a0], c.Target[a1])
	p.rapidNormal(c.R)
}

func drill(p *path, c Cycle, s State) error {
	if err := c.checkLevels(); err != nil {
		return err
	}
	_, _, n := c.Plane.Axes()
	bottom := c.Target[n]
	approach(p, c)

	switch c.Kind {
	case Peck, PeckChipBreak:
		peck := positive(c.Q, DefaultPeck)
		lift := positive(c.Retract, DefaultRetract)
		count, err := passes(c, s, "peck", c.R-bottom, peck)
		if err != nil {
			return err
		}
		depth := c.R
		for i := 1; i <= count; i++ {
			next := bottom
			if i < count {
				next = math.Max(bottom, c.R-float64(i)*peck)
			}
			if c.Kind == Peck && i > 1 {
				p.rapidNormal(depth + ReentryGap)
			}
			p.feedNormal(next, c.Feed)
			if i < count {
				if c.Kind == Peck {
					p.rapidNormal(c.R)
				} else {
					p.rapidNormal(math.Min(next+lift, c.R))
				}
			}
			depth = next
		}
	default:
		p.feedNormal(bottom, c.Feed)
	}

	switch c.Kind {
	case DrillDwell, BoreDwell, BoreManual:
		p.dwell(positive(c.Dwell, DefaultDwell))
	}

	ret := c.returnLevel(s)
	switch c.Kind {
	case BoreFeedOut, BoreDwell:
		p.feedNormal(c.R, c.Feed)
		p.rapidNormal(ret)
	case BoreSpindleStop:
		p.spindle(motion.SpindleOff, 0)
		p.rapidNormal(ret)
		p.spindle(motion.SpindleCW, c.Speed)
	case BoreManual:
		p.spindle(motion.SpindleOff, 0)
		p.feedNormal(c.R, c.Feed)
		p.rapidNormal(ret)
		p.spindle(motion.SpindleCW, c.Speed)
	default:
		p.rapidNormal(ret)
	}
	return nil
}

func tap(p *path, c Cycle, s State) error {
	if err := c.checkLevels(); err != nil {
		return err
	}
	feed := c.Feed
	if c.Pitch > 0 {
		if c.Speed <= 0 {
			return invalid(c, "tapping with pitch %.4f needs a spindle speed", c.Pitch)
		}
		feed = c.Speed * c.Pitch
	}
	in, out := motion.SpindleCW, motion.SpindleCCW
	if c.Kind == TapLeft || c.Kind == RigidTapLeft {
		in, out = out, in
	}
	_, _, n := c.Plane.Axes()
	approach(p, c)
	p.spindle(in, c.Speed)
	p.feedNormal(c.Target[n], feed)
	if c.Dwell > 0 {
		p.dwell(c.Dwell)
	}
	p.spindle(motion.SpindleOff, 0)
	p.spindle(out, c.Speed)
	p.feedNormal(c.R, feed)
	p.spindle(in, c.Speed)
	p.rapidNormal(c.returnLevel(s))
	return nil
}

// backBore: orient, shift off the hole, drop below the part to R, shift
// back, bore upward to the target level, then leave the same way. G87
// always returns to the initial level.
func backBore(p *path, c Cycle, s State) error {
	a0, a1, n := c.Plane.Axes()
	if c.Target[n] <= c.R {
		return invalid(c, "back boring target %.4f must lie above R %.4f", c.Target[n], c.R)
	}
	shift := positive(c.Q, 0)
	x, y := c.Target[a0], c.Target[a1]
	p.rapidInPlane(x, y)
	p.spindle(motion.SpindleOrient, 0)
	p.rapidInPlane(x-shift, y)
	p.rapidNormal(c.R)
	p.rapidInPlane(x, y)
	p.spindle(motion.SpindleCW, c.Speed)
	p.feedNormal(c.Target[n], c.Feed)
	if c.Dwell > 0 {
		p.dwell(c.Dwell)
	}
	p.spindle(motion.SpindleOrient, 0)
	p.rapidInPlane(x-shift, y)
	p.rapidNormal(s.Initial)
	p.rapidInPlane(x, y)
	p.spindle(motion.SpindleCW, c.Speed)
	return nil
}

// thread cuts a multi-pass thread along the plane normal. The tool first
// rapids to the programmed in-plane start (Target on the plane axes), then
// feeds in on the first plane axis towards the axis centre with constant
// chip area (depth_i = Q*sqrt(i)).
func thread(p *path, c Cycle, s State) error {
	if c.Pitch <= 0 {
		return invalid(c, "thread lead must be positive")
	}
	if c.Height <= 0 {
		return invalid(c, "thread height must be positive")
	}
	a0, a1, n := c.Plane.Axes()
	first := c.Q
	if first <= 0 {
		first = c.Height / math.Sqrt(DefaultPasses)
	}
	// pass i reaches first*sqrt(i), so Height needs (Height/first)^2 passes
	ratio := c.Height / first
	count, err := passes(c, s, "thread infeed", ratio*ratio, 1)
	if err != nil {
		return err
	}
	p.rapidInPlane(c.Target[a0], c.Target[a1])
	startRadial, startLevel := p.pos[a0], p.pos[n]
	for i := 1; i <= count; i++ {
		depth := math.Min(first*math.Sqrt(float64(i)), c.Height)
		if i == count {
			depth = c.Height
		}
		target := p.pos
		target[a0] = startRadial - depth
		p.add(motion.KindRapid, target, 0)
		target[n] = c.Target[n]
		cmd := p.add(motion.KindThread, target, 0)
		cmd.Lead = c.Pitch
		target[a0] = startRadial
		p.add(motion.KindRapid, target, 0)
		target[n] = startLevel
		p.add(motion.KindRapid, target, 0)
	}
	return nil
}

func circlePocket(p *path, c Cycle, s State) error {
	if err := c.checkLevels(); err != nil {
		return err
	}
	toolR := c.ToolDiameter / 2
	if c.Radius <= toolR {
		return invalid(c, "pocket radius %.4f must exceed tool radius %.4f", c.Radius, toolR)
	}
	step := c.ToolDiameter * positive(c.StepOver, DefaultStepOver)
	if step <= 0 {
		return invalid(c, "tool diameter must be positive")
	}
	kind := motion.KindArcCW
	if c.Kind == CirclePocketCCW {
		kind = motion.KindArcCCW
	}
	a0, a1, n := c.Plane.Axes()
	cx, cy := c.Target[a0], c.Target[a1]
	maxR := c.Radius - toolR
	rings, err := passes(c, s, "stepover", maxR, step)
	if err != nil {
		return err
	}
	lv, err := levels(c, s, c.R, c.Target[n], positive(c.StepDown, DefaultStepDown))
	if err != nil {
		return err
	}

	approach(p, c)
	for _, level := range lv {
		p.feedNormal(level, c.Feed*PlungeFactor)
		for i := 1; i <= rings; i++ {
			r := math.Min(float64(i)*step, maxR)
			if i == rings {
				r = maxR
			}
			p.feedInPlane(cx+r, cy, c.Feed)
			var off motion.Position
			off[a0] = -r
			p.arc(kind, p.pos, off, c.Feed)
		}
		p.feedInPlane(cx, cy, c.Feed)
	}
	p.rapidNormal(c.returnLevel(s))
	return nil
}

func rectPocket(p *path, c Cycle, s State) error {
	if err := c.checkLevels(); err != nil {
		return err
	}
	toolR := c.ToolDiameter / 2
	if c.Width <= c.ToolDiameter || c.Length <= c.ToolDiameter {
		return invalid(c, "pocket %.4fx%.4f too small for tool diameter %.4f", c.Width, c.Length, c.ToolDiameter)
	}
	step := c.ToolDiameter * positive(c.StepOver, DefaultStepOver)
	a0, a1, n := c.Plane.Axes()
	cx, cy := c.Target[a0], c.Target[a1]
	left, right := cx-c.Width/2+toolR, cx+c.Width/2-toolR
	bottomEdge, topEdge := cy-c.Length/2+toolR, cy+c.Length/2-toolR
	rows, err := passes(c, s, "stepover", topEdge-bottomEdge, step)
	if err != nil {
		return err
	}
	lv, err := levels(c, s, c.R, c.Target[n], positive(c.StepDown, DefaultStepDown))
	if err != nil {
		return err
	}

	approach(p, c)
	for _, level := range lv {
		p.feedNormal(level, c.Feed*PlungeFactor)
		p.feedInPlane(left, bottomEdge, c.Feed)
		y, toRight := bottomEdge, true
		for i := 0; ; i++ {
			if toRight {
				p.feedInPlane(right, y, c.Feed)
			} else {
				p.feedInPlane(left, y, c.Feed)
			}
			if i == rows {
				break
			}
			y = math.Min(bottomEdge+float64(i+1)*step, topEdge)
			if i+1 == rows {
				y = topEdge
			}
			p.feedInPlane(p.pos[a0], y, c.Feed)
			toRight = !toRight
		}
		p.feedInPlane(cx, cy, c.Feed)
	}
	p.rapidNormal(c.returnLevel(s))
	return nil
}

// boltPattern visits Count holes on a circle about Target and runs Hole
// at each. G34 spaces holes evenly; G35 uses AngleStep.
func boltPattern(p *path, c Cycle, s State) error {
	if c.Count <= 0 {
		return invalid(c, "hole count must be positive")
	}
	if c.PatternRadius <= 0 {
		return invalid(c, "pattern radius must be positive")
	}
	if c.Count > s.maxPasses() {
		return cncerr.Newf(cncerr.ErrMotionLimit, "%s: %d holes, limit %d", c.Kind, c.Count, s.maxPasses())
	}
	step := c.AngleStep
	if c.Kind == BoltCircle {
		step = 360 / float64(c.Count)
	}
	a0, a1, _ := c.Plane.Axes()
	for i := 0; i < c.Count; i++ {
		sin, cos := math.Sincos((c.StartAngle + float64(i)*step) * math.Pi / 180)
		x := c.Target[a0] + c.PatternRadius*cos
		y := c.Target[a1] + c.PatternRadius*sin
		if c.Hole == nil || c.Hole.Kind == None {
			p.rapidInPlane(x, y)
			continue
		}
		hole := *c.Hole
		hole.Plane = c.Plane
		hole.Target[a0], hole.Target[a1] = x, y
		cmds, err := Expand(hole, State{Position: p.pos, Initial: s.Initial, MaxPasses: s.MaxPasses})
		if err != nil {
			return err
		}
		p.append(cmds)
	}
	return nil
}

// levels returns the step-down levels from top to bottom, ending exactly
// at bottom.
func levels(c Cycle, s State, top, bottom, step float64) ([]float64, error) {
	n, err := passes(c, s, "step-down", top-bottom, step)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, n)
	for i := 1; i < n; i++ {
		out = append(out, math.Max(bottom, top-float64(i)*step))
	}
	return append(out, bottom), nil
}

func positive(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}
