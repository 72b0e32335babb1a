// Package motion defines the value types exchanged between the
// interpreter, the cycle generator and the motion planner.
package motion

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// Axis identifies one machine axis.
type Axis int

const (
	X Axis = iota
	Y
	Z
	A
	B
	C
	NumAxes
)

const axisLetters = "XYZABC"

func (a Axis) String() string {
	if a < 0 || a >= NumAxes {
		return fmt.Sprintf("Axis(%d)", int(a))
	}
	return axisLetters[a : a+1]
}

// AxisFromLetter maps X..C (case-insensitive) to an Axis.
func AxisFromLetter(letter byte) (Axis, bool) {
	idx := strings.IndexByte(axisLetters, upper(letter))
	if idx < 0 {
		return 0, false
	}
	return Axis(idx), true
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}

// Position is a point in X Y Z (mm) and A B C (degrees).
type Position [NumAxes]float64

// Add returns p+q.
func (p Position) Add(q Position) Position {
	for i := range p {
		p[i] += q[i]
	}
	return p
}

// Sub returns p-q.
func (p Position) Sub(q Position) Position {
	for i := range p {
		p[i] -= q[i]
	}
	return p
}

// Linear returns the XYZ part as a vector.
func (p Position) Linear() r3.Vec {
	return r3.Vec{X: p[X], Y: p[Y], Z: p[Z]}
}

// Distance returns the path length between p and q: the XYZ distance, or
// the rotary distance in degrees for moves with no linear component.
func (p Position) Distance(q Position) float64 {
	d := r3.Norm(r3.Sub(q.Linear(), p.Linear()))
	if d > 0 {
		return d
	}
	var sum float64
	for _, ax := range []Axis{A, B, C} {
		delta := q[ax] - p[ax]
		sum += delta * delta
	}
	return math.Sqrt(sum)
}

// ApproxEqual reports whether every axis differs by at most tol.
func (p Position) ApproxEqual(q Position, tol float64) bool {
	for i := range p {
		if math.Abs(p[i]-q[i]) > tol {
			return false
		}
	}
	return true
}

func (p Position) String() string {
	var b strings.Builder
	for i, v := range p {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%c%.4f", axisLetters[i], v)
	}
	return b.String()
}

// Mask selects a subset of axes.
type Mask uint8

// Has reports whether axis a is selected.
func (m Mask) Has(a Axis) bool {
	return m&(1<<uint(a)) != 0
}

// With returns m with axis a selected.
func (m Mask) With(a Axis) Mask {
	return m | 1<<uint(a)
}

func (m Mask) String() string {
	var b strings.Builder
	for a := X; a < NumAxes; a++ {
		if m.Has(a) {
			b.WriteString(a.String())
		}
	}
	return b.String()
}

// Plane is the active arc plane.
type Plane int

const (
	PlaneXY Plane = iota // G17
	PlaneZX              // G18
	PlaneYZ              // G19
)

// Axes returns the first and second in-plane axes and the normal axis.
// Arc direction is defined looking down the normal.
func (p Plane) Axes() (Axis, Axis, Axis) {
	switch p {
	case PlaneZX:
		return Z, X, Y
	case PlaneYZ:
		return Y, Z, X
	default:
		return X, Y, Z
	}
}

func (p Plane) String() string {
	switch p {
	case PlaneZX:
		return "G18"
	case PlaneYZ:
		return "G19"
	default:
		return "G17"
	}
}

// Kind discriminates the Command union.
type Kind int

const (
	KindRapid Kind = iota
	KindLinear
	KindArcCW
	KindArcCCW
	KindProbe
	KindThread
	KindDwell
	KindToolChange
	KindSpindle
	KindCoolant
	KindStop
	KindProgramEnd
	KindAuxiliary
)

var kindNames = [...]string{
	KindRapid:      "rapid",
	KindLinear:     "linear",
	KindArcCW:      "arc_cw",
	KindArcCCW:     "arc_ccw",
	KindProbe:      "probe",
	KindThread:     "thread",
	KindDwell:      "dwell",
	KindToolChange: "tool_change",
	KindSpindle:    "spindle",
	KindCoolant:    "coolant",
	KindStop:       "stop",
	KindProgramEnd: "program_end",
	KindAuxiliary:  "auxiliary",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// IsMotion reports whether the command moves axes.
func (k Kind) IsMotion() bool {
	switch k {
	case KindRapid, KindLinear, KindArcCW, KindArcCCW, KindProbe, KindThread:
		return true
	}
	return false
}

// IsArc reports whether the command is circular or helical.
func (k Kind) IsArc() bool {
	return k == KindArcCW || k == KindArcCCW
}

// SpindleDir is the spindle directive.
type SpindleDir int

const (
	SpindleOff SpindleDir = iota // M5
	SpindleCW                    // M3
	SpindleCCW                   // M4
	SpindleOrient                // M19
)

func (d SpindleDir) String() string {
	switch d {
	case SpindleCW:
		return "cw"
	case SpindleCCW:
		return "ccw"
	case SpindleOrient:
		return "orient"
	default:
		return "off"
	}
}

// Coolant is a bit set of active coolant outlets.
type Coolant uint8

const (
	CoolantMist Coolant = 1 << iota
	CoolantFlood
	CoolantHighPressure
	CoolantThroughSpindle
)

// CoolantOff is the empty set (M9).
const CoolantOff Coolant = 0

func (c Coolant) String() string {
	if c == CoolantOff {
		return "off"
	}
	var parts []string
	for _, e := range []struct {
		bit  Coolant
		name string
	}{{CoolantMist, "mist"}, {CoolantFlood, "flood"}, {CoolantHighPressure, "high_pressure"}, {CoolantThroughSpindle, "through_spindle"}} {
		if c&e.bit != 0 {
			parts = append(parts, e.name)
		}
	}
	return strings.Join(parts, "+")
}

// ProbeMode qualifies a probing move.
type ProbeMode int

const (
	ProbeSkip        ProbeMode = iota // G31: stop on contact, no error on miss
	ProbeToward                       // G38.2: error if no contact
	ProbeTowardQuiet                  // G38.3
	ProbeAway                         // G38.4: error if contact not lost
	ProbeAwayQuiet                    // G38.5
	ProbeToolLength                   // G37
)

// Command is one entry of the interpreted command stream. Kind selects
// which fields are meaningful. Positions are machine coordinates; the
// work-frame target is kept for reporting.
type Command struct {
	Kind Kind
	Line int

	Start      Position
	Target     Position
	WorkTarget Position
	Feed       float64 // mm/min, 0 for rapids

	// Arc geometry. Offset is the centre relative to Start (I J K mapped
	// onto X Y Z); Radius is used instead when HasRadius is set.
	Plane     Plane
	Offset    Position
	Radius    float64
	HasRadius bool
	Turns     int

	Lead  float64 // thread lead, mm per spindle revolution
	Probe ProbeMode

	ExactStop bool

	Dwell        float64 // seconds
	Tool         int
	Spindle      SpindleDir
	SpindleSpeed float64
	Coolant      Coolant
	Code         string // originating code for auxiliary commands, e.g. "M101"
	Optional     bool   // M1 optional stop
}

func (c Command) String() string {
	switch {
	case c.Kind.IsMotion():
		return fmt.Sprintf("%s line %d -> %s F%.1f", c.Kind, c.Line, c.Target, c.Feed)
	case c.Kind == KindDwell:
		return fmt.Sprintf("dwell line %d %.3fs", c.Line, c.Dwell)
	case c.Kind == KindToolChange:
		return fmt.Sprintf("tool_change line %d T%d", c.Line, c.Tool)
	case c.Kind == KindSpindle:
		return fmt.Sprintf("spindle line %d %s S%.0f", c.Line, c.Spindle, c.SpindleSpeed)
	case c.Kind == KindCoolant:
		return fmt.Sprintf("coolant line %d %s", c.Line, c.Coolant)
	}
	return fmt.Sprintf("%s line %d %s", c.Kind, c.Line, c.Code)
}
