// G and M code table
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gcode

import (
	"fmt"
	"strconv"
	"strings"
)

// Code is a G or M code with an optional sub-code, e.g. G54.1.
type Code struct {
	Letter byte
	Major  int
	Minor  int
}

// G and M build codes without a sub-code.
func G(n int) Code { return Code{Letter: 'G', Major: n} }
func M(n int) Code { return Code{Letter: 'M', Major: n} }

// GSub builds a G code with a sub-code.
func GSub(n, sub int) Code { return Code{Letter: 'G', Major: n, Minor: sub} }

func (c Code) String() string {
	if c.Minor != 0 {
		return fmt.Sprintf("%c%d.%d", c.Letter, c.Major, c.Minor)
	}
	return fmt.Sprintf("%c%d", c.Letter, c.Major)
}

// parseCode parses the literal after a G or M letter. Leading zeros are
// ignored so G01 and G1 are the same code.
func parseCode(letter byte, lit string) (Code, bool) {
	major, minor, hasDot := strings.Cut(lit, ".")
	if major == "" || strings.HasPrefix(major, "-") || strings.HasPrefix(major, "+") {
		return Code{}, false
	}
	maj, err := strconv.Atoi(major)
	if err != nil {
		return Code{}, false
	}
	c := Code{Letter: letter, Major: maj}
	if hasDot {
		if len(minor) != 1 || minor[0] < '0' || minor[0] > '9' {
			return Code{}, false
		}
		c.Minor = int(minor[0] - '0')
	}
	return c, true
}

// Group is a modal group. Two codes of the same group in one block
// conflict, except where noted in CodeInfo.
type Group int

const (
	GroupNone Group = iota
	GroupMotion
	GroupPlane
	GroupUnits
	GroupDistance
	GroupFeedMode
	GroupSpindleMode
	GroupCutterComp
	GroupLengthComp
	GroupCoordSystem
	GroupCycleReturn
	GroupPathMode
	GroupScaling
	GroupRotation
	GroupPolar
	GroupInterpolation
	GroupMacroModal
	GroupPocket
	GroupNonModal

	GroupStop
	GroupSpindle
	GroupCoolant
	GroupToolChange
	GroupSubprogram
)

var groupNames = map[Group]string{
	GroupMotion:        "motion",
	GroupPlane:         "plane",
	GroupUnits:         "units",
	GroupDistance:      "distance",
	GroupFeedMode:      "feed mode",
	GroupSpindleMode:   "spindle mode",
	GroupCutterComp:    "cutter compensation",
	GroupLengthComp:    "length compensation",
	GroupCoordSystem:   "coordinate system",
	GroupCycleReturn:   "cycle return",
	GroupPathMode:      "path mode",
	GroupScaling:       "scaling",
	GroupRotation:      "rotation",
	GroupPolar:         "polar",
	GroupInterpolation: "interpolation",
	GroupMacroModal:    "macro modal",
	GroupPocket:        "pocket",
	GroupNonModal:      "non-modal",
	GroupStop:          "program stop",
	GroupSpindle:       "spindle",
	GroupCoolant:       "coolant",
	GroupToolChange:    "tool change",
	GroupSubprogram:    "subprogram",
}

func (g Group) String() string {
	if name, ok := groupNames[g]; ok {
		return name
	}
	return "none"
}

// CodeInfo describes a recognised code.
type CodeInfo struct {
	Group       Group
	Description string
}

var codeTable = map[Code]CodeInfo{
	G(0): {GroupMotion, "rapid positioning"},
	G(1): {GroupMotion, "linear interpolation"},
	G(2): {GroupMotion, "circular interpolation CW"},
	G(3): {GroupMotion, "circular interpolation CCW"},
	G(4): {GroupNonModal, "dwell"},

	G(5):       {GroupInterpolation, "high-speed machining / NURBS"},
	GSub(5, 1): {GroupInterpolation, "AI contour control / look-ahead"},
	GSub(7, 1): {GroupInterpolation, "cylindrical interpolation"},
	GSub(12, 1): {GroupInterpolation, "polar interpolation on"},
	GSub(13, 1): {GroupInterpolation, "polar interpolation off"},
	G(107):     {GroupInterpolation, "cylindrical interpolation"},

	G(9):  {GroupNonModal, "exact stop"},
	G(10): {GroupNonModal, "programmable data input"},
	G(12): {GroupPocket, "circular pocket CW"},
	G(13): {GroupPocket, "circular pocket CCW"},
	G(15): {GroupPolar, "polar coordinates cancel"},
	G(16): {GroupPolar, "polar coordinates"},
	G(17): {GroupPlane, "XY plane"},
	G(18): {GroupPlane, "ZX plane"},
	G(19): {GroupPlane, "YZ plane"},
	G(20): {GroupUnits, "inch units"},
	G(21): {GroupUnits, "metric units"},
	G(22): {GroupNonModal, "work area limit on"},
	G(23): {GroupNonModal, "work area limit off"},
	G(25): {GroupNonModal, "spindle speed fluctuation detection off"},
	G(26): {GroupPocket, "rectangular pocket"},
	G(27): {GroupNonModal, "reference point check"},
	G(28): {GroupNonModal, "return to reference point"},
	G(29): {GroupNonModal, "return from reference point"},
	G(30): {GroupNonModal, "return to 2nd reference point"},
	G(31): {GroupMotion, "skip function / probe"},
	G(33): {GroupMotion, "thread cutting constant lead"},
	G(34): {GroupPocket, "bolt hole circle"},
	G(35): {GroupPocket, "bolt hole circle with angle increment"},
	G(36): {GroupNonModal, "automatic tool offset measurement"},
	G(37): {GroupNonModal, "automatic tool length measurement"},
	G(38): {GroupNonModal, "tool diameter measurement"},

	GSub(38, 2): {GroupMotion, "probe toward workpiece"},
	GSub(38, 3): {GroupMotion, "probe toward workpiece, no error"},
	GSub(38, 4): {GroupMotion, "probe away from workpiece"},
	GSub(38, 5): {GroupMotion, "probe away from workpiece, no error"},

	G(40): {GroupCutterComp, "cutter radius compensation off"},
	G(41): {GroupCutterComp, "cutter radius compensation left"},
	G(42): {GroupCutterComp, "cutter radius compensation right"},
	G(43): {GroupLengthComp, "tool length compensation +"},
	G(44): {GroupLengthComp, "tool length compensation -"},
	G(49): {GroupLengthComp, "tool length compensation cancel"},
	G(50): {GroupScaling, "scaling cancel"},
	G(51): {GroupScaling, "scaling"},
	G(52): {GroupNonModal, "local coordinate system"},
	G(53): {GroupNonModal, "machine coordinate move"},
	G(54): {GroupCoordSystem, "work coordinate system 1"},
	G(55): {GroupCoordSystem, "work coordinate system 2"},
	G(56): {GroupCoordSystem, "work coordinate system 3"},
	G(57): {GroupCoordSystem, "work coordinate system 4"},
	G(58): {GroupCoordSystem, "work coordinate system 5"},
	G(59): {GroupCoordSystem, "work coordinate system 6"},

	GSub(54, 1): {GroupCoordSystem, "extended work coordinate system"},
	GSub(59, 1): {GroupCoordSystem, "work coordinate system 7"},
	GSub(59, 2): {GroupCoordSystem, "work coordinate system 8"},
	GSub(59, 3): {GroupCoordSystem, "work coordinate system 9"},

	G(61): {GroupPathMode, "exact stop mode"},
	G(62): {GroupPathMode, "automatic corner override"},
	G(63): {GroupPathMode, "tapping mode"},
	G(64): {GroupPathMode, "continuous path mode"},
	G(65): {GroupNonModal, "macro call"},
	G(66): {GroupMacroModal, "macro modal call"},
	G(67): {GroupMacroModal, "macro modal call cancel"},
	G(68): {GroupRotation, "coordinate rotation"},
	G(69): {GroupRotation, "coordinate rotation cancel"},
	G(73): {GroupMotion, "high-speed peck drilling"},
	G(74): {GroupMotion, "left-hand tapping"},
	G(76): {GroupMotion, "threading cycle"},
	G(80): {GroupMotion, "cancel canned cycle"},
	G(81): {GroupMotion, "drilling cycle"},
	G(82): {GroupMotion, "drilling cycle with dwell"},
	G(83): {GroupMotion, "peck drilling cycle"},
	G(84): {GroupMotion, "tapping cycle"},

	GSub(84, 2): {GroupMotion, "rigid tapping right-hand"},
	GSub(84, 3): {GroupMotion, "rigid tapping left-hand"},

	G(85): {GroupMotion, "boring cycle, feed out"},
	G(86): {GroupMotion, "boring cycle, spindle stop"},
	G(87): {GroupMotion, "back boring cycle"},
	G(88): {GroupMotion, "boring cycle, dwell and manual retract"},
	G(89): {GroupMotion, "boring cycle, dwell and feed out"},
	G(90): {GroupDistance, "absolute positioning"},
	G(91): {GroupDistance, "incremental positioning"},
	G(92): {GroupNonModal, "coordinate system shift"},
	G(93): {GroupFeedMode, "inverse time feed"},
	G(94): {GroupFeedMode, "feed per minute"},
	G(95): {GroupFeedMode, "feed per revolution"},
	G(96): {GroupSpindleMode, "constant surface speed"},
	G(97): {GroupSpindleMode, "constant spindle speed"},
	G(98): {GroupCycleReturn, "canned cycle return to initial plane"},
	G(99): {GroupCycleReturn, "canned cycle return to R plane"},

	M(0):  {GroupStop, "program stop"},
	M(1):  {GroupStop, "optional stop"},
	M(2):  {GroupStop, "program end"},
	M(30): {GroupStop, "program end and reset"},
	M(3):  {GroupSpindle, "spindle on CW"},
	M(4):  {GroupSpindle, "spindle on CCW"},
	M(5):  {GroupSpindle, "spindle stop"},
	M(19): {GroupSpindle, "spindle orientation"},
	M(6):  {GroupToolChange, "tool change"},
	M(7):  {GroupCoolant, "mist coolant on"},
	M(8):  {GroupCoolant, "flood coolant on"},
	M(9):  {GroupCoolant, "coolant off"},
	M(50): {GroupCoolant, "high-pressure coolant on"},
	M(51): {GroupCoolant, "high-pressure coolant off"},
	M(88): {GroupCoolant, "through-spindle coolant on"},
	M(89): {GroupCoolant, "through-tool coolant on"},
	M(98): {GroupSubprogram, "subprogram call"},
	M(99): {GroupSubprogram, "subprogram return"},

	M(10): {GroupNone, "clamp on"},
	M(11): {GroupNone, "clamp off"},
	M(12): {GroupNone, "workpiece clamp"},
	M(13): {GroupNone, "workpiece unclamp"},
	M(21): {GroupNone, "spindle gear low"},
	M(22): {GroupNone, "spindle gear high"},
	M(29): {GroupNone, "rigid tapping mode"},
	M(36): {GroupNone, "feed override range limit on"},
	M(37): {GroupNone, "feed override range limit off"},
	M(60): {GroupNone, "pallet change"},
	M(62): {GroupNone, "output on"},
	M(63): {GroupNone, "output off"},
	M(64): {GroupNone, "output on immediate"},
	M(65): {GroupNone, "output off immediate"},

	M(200): {GroupNone, "pallet change"},
	M(201): {GroupNone, "pallet clamp"},
	M(202): {GroupNone, "pallet unclamp"},
	M(203): {GroupNone, "pallet rotate"},
}

// LookupCode returns the description of a recognised code. User macros
// M100-M199 are recognised without a table entry.
func LookupCode(c Code) (CodeInfo, bool) {
	if info, ok := codeTable[c]; ok {
		return info, true
	}
	if IsUserMacro(c) {
		return CodeInfo{GroupNone, fmt.Sprintf("user macro %d", c.Major)}, true
	}
	return CodeInfo{}, false
}

// IsUserMacro reports whether c is a free user M-code.
func IsUserMacro(c Code) bool {
	return c.Letter == 'M' && c.Minor == 0 && c.Major >= 100 && c.Major <= 199
}

// conflicts reports whether a and b may not share a block.
func conflicts(a, b Code, group Group) bool {
	switch group {
	case GroupNone, GroupNonModal:
		return false
	case GroupCoolant:
		// Coolant outlets combine; only the off codes clash with the rest.
		off := func(c Code) bool { return c == M(9) || c == M(51) }
		return off(a) != off(b)
	}
	return true
}
