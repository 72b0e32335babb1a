// Modal interpreter state
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package interp

import (
	"modax-cnc/pkg/cycles"
	"modax-cnc/pkg/gcode"
	"modax-cnc/pkg/motion"
)

const inch = 25.4

// DistanceMode is G90/G91.
type DistanceMode int

const (
	Absolute    DistanceMode = iota // G90
	Incremental                     // G91
)

// Units is G20/G21.
type Units int

const (
	Millimeters Units = iota // G21
	Inches                   // G20
)

// FeedMode is G93/G94/G95.
type FeedMode int

const (
	FeedPerMinute FeedMode = iota // G94
	InverseTime                   // G93
	FeedPerRev                    // G95
)

// PathMode is G61/G62/G63/G64.
type PathMode int

const (
	PathContinuous PathMode = iota // G64
	PathExactStop                  // G61
	PathCornerOverride             // G62
	PathTapping                    // G63
)

// CutterComp is G40/G41/G42.
type CutterComp int

const (
	CompOff   CutterComp = iota // G40
	CompLeft                    // G41
	CompRight                   // G42
)

// LengthComp is G43/G44/G49.
type LengthComp int

const (
	LengthOff      LengthComp = iota // G49
	LengthPositive                   // G43
	LengthNegative                   // G44
)

// ModalState is the sticky interpreter context. At most one code of each
// modal group is active; every field keeps its value until a block changes
// it.
type ModalState struct {
	Motion   gcode.Code
	Plane    motion.Plane
	Units    Units
	Distance DistanceMode
	FeedMode FeedMode
	PathMode PathMode
	Return   cycles.Return
	Polar    bool
	CSS      bool // G96

	// Interpolation holds G5/G5.1/G7.1/G12.1/G107; the zero Code is off.
	Interpolation gcode.Code

	Feed         float64 // mm/min, or mm/rev under G95
	SpindleSpeed float64
	Spindle      motion.SpindleDir
	Coolant      motion.Coolant

	WCS string

	CutterComp   CutterComp
	CompRadius   float64
	LengthComp   LengthComp
	LengthOffset float64
	LengthWord   int // H

	SelectedTool int
	ActiveTool   int
}

// DefaultModal returns the power-on state: G0 G17 G21 G90 G94 G64 G98
// G40 G49 G54 with spindle and coolant off.
func DefaultModal() ModalState {
	return ModalState{
		Motion: gcode.G(0),
		Plane:  motion.PlaneXY,
		WCS:    "G54",
	}
}

// Codes returns the active G codes, one per group, for status reports.
func (m ModalState) Codes() []string {
	codes := []string{m.Motion.String(), m.Plane.String()}
	pick := func(cond bool, a, b string) string {
		if cond {
			return a
		}
		return b
	}
	codes = append(codes,
		pick(m.Units == Inches, "G20", "G21"),
		pick(m.Distance == Incremental, "G91", "G90"),
		[]string{"G94", "G93", "G95"}[m.FeedMode],
		[]string{"G40", "G41", "G42"}[m.CutterComp],
		[]string{"G49", "G43", "G44"}[m.LengthComp],
		m.WCS,
		[]string{"G64", "G61", "G62", "G63"}[m.PathMode],
		pick(m.Return == cycles.ReturnR, "G99", "G98"),
		pick(m.Polar, "G16", "G15"),
		pick(m.CSS, "G96", "G97"),
	)
	if m.Interpolation != (gcode.Code{}) {
		codes = append(codes, m.Interpolation.String())
	}
	return codes
}

// cycleParams holds the canned cycle words that stay modal until G80.
type cycleParams struct {
	R, Z, Q, P, K float64
	Initial       float64
	hasR, hasZ    bool
	active        bool
}

// modalMacro is an active G66 call.
type modalMacro struct {
	program int
	repeat  int
	args    map[byte]float64
}
