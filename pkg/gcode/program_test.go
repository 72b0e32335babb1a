// Program loading tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gcode

import (
	"strings"
	"testing"

	cncerr "modax-cnc/pkg/errors"
)

func TestParseProgramIndex(t *testing.T) {
	src := strings.Join([]string{
		"%",
		"O1000 (main)",
		"N10 M98 P20",
		"N15 GOSUB DRILL",
		"N16 M30",
		"",
		"N20 O20",
		"G1 X1 F100",
		"M99",
		"DRILL:",
		"G0 Z5",
		"RETURN",
	}, "\r\n")
	p, err := ParseProgram("test", src)
	if err != nil {
		t.Fatalf("ParseProgram failed: %v", err)
	}
	for _, tt := range []struct {
		target string
		line   int
	}{
		{"N10", 3},
		{"10", 3},
		{"drill", 10},
		{"DRILL:", 10},
		{"O1000", 2},
	} {
		idx, ok := p.Resolve(tt.target)
		if !ok {
			t.Errorf("Resolve(%q) failed", tt.target)
			continue
		}
		if p.Blocks[idx].Line != tt.line {
			t.Errorf("Resolve(%q) -> line %d, want %d", tt.target, p.Blocks[idx].Line, tt.line)
		}
	}
	idx, ok := p.Subprogram(20)
	if !ok || p.Blocks[idx].Line != 7 {
		t.Errorf("Subprogram(20) = %d/%v", idx, ok)
	}
	if len(p.Warnings) == 0 {
		t.Error("expected a mixed control-flow warning")
	}
}

func TestParseProgramUnknownLabel(t *testing.T) {
	_, err := ParseProgram("bad", "G0 X0\nGOTO NOWHERE\nM30\n")
	if err == nil {
		t.Fatal("expected load error")
	}
	list, ok := err.(cncerr.List)
	if !ok || len(list) != 1 {
		t.Fatalf("expected one-element List, got %T %v", err, err)
	}
	if list[0].Code != cncerr.ErrUnknownLabel || list[0].Label != "NOWHERE" || list[0].Line != 2 {
		t.Errorf("unexpected error %v", list[0])
	}
	if !cncerr.IsLoadTime(err) {
		t.Error("unknown label must be a load-time error")
	}
}

func TestParseProgramCollectsAllErrors(t *testing.T) {
	src := "G1 X1..2\nM98 P77\nG0 G1 X1\nG2 X10 Y0\nLOOP:\nLOOP:\n"
	_, err := ParseProgram("bad", src)
	list, ok := err.(cncerr.List)
	if !ok {
		t.Fatalf("expected List, got %T %v", err, err)
	}
	want := map[cncerr.ErrorCode]int{
		cncerr.ErrParse:         3,
		cncerr.ErrUnknownLabel:  1,
		cncerr.ErrModalConflict: 1,
	}
	got := make(map[cncerr.ErrorCode]int)
	for _, e := range list {
		got[e.Code]++
	}
	for code, n := range want {
		if got[code] != n {
			t.Errorf("%s errors = %d, want %d (all: %v)", code, got[code], n, list)
		}
	}
}

func TestParseProgramDuplicateLineNumberWarns(t *testing.T) {
	p, err := ParseProgram("dup", "N10 G0 X0\nN10 G0 X1\nGOTO 10\n")
	if err != nil {
		t.Fatalf("ParseProgram failed: %v", err)
	}
	idx, _ := p.Resolve("N10")
	if idx != 0 {
		t.Errorf("duplicate N10 should resolve to the first block, got %d", idx)
	}
	if len(p.Warnings) != 1 {
		t.Errorf("warnings = %v", p.Warnings)
	}
}

func TestParseProgramMotionWithoutCoordinatesWarns(t *testing.T) {
	tests := []struct {
		text  string
		warns int
	}{
		{"G1 F200\nX10\n", 1},
		{"G01 X10 F200\n", 0},
		{"G2 I5\n", 0},
		{"G0\nG1\n", 2},
	}
	for _, tt := range tests {
		p, err := ParseProgram("t", tt.text)
		if err != nil {
			t.Fatalf("%q: %v", tt.text, err)
		}
		if len(p.Warnings) != tt.warns {
			t.Errorf("%q: warnings = %v, want %d", tt.text, p.Warnings, tt.warns)
		}
	}
}

func TestParseProgramVariableSubprogramNumber(t *testing.T) {
	if _, err := ParseProgram("var", "#1=20\nM98 P#1\nM30\n"); err != nil {
		t.Errorf("computed P must not be checked at load: %v", err)
	}
}
