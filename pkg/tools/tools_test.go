// Tool manager tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package tools

import (
	"reflect"
	"testing"
	"time"

	"modax-cnc/pkg/config"
	cncerr "modax-cnc/pkg/errors"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(4)
	for _, tool := range []Tool{
		{Number: 1, Name: "10mm endmill", Diameter: 10, LengthOffset: 75},
		{Number: 2, Name: "6.8 drill", Diameter: 6.8, LengthOffset: 90, ExpectedLife: time.Hour},
		{Number: 3, Name: "M8 tap", Diameter: 8},
	} {
		if err := m.Register(tool); err != nil {
			t.Fatalf("Register(T%d) failed: %v", tool.Number, err)
		}
	}
	if err := m.LoadTool(1, 1); err != nil {
		t.Fatal(err)
	}
	if err := m.LoadTool(2, 2); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestChangeToUnknownLeavesStateUnchanged(t *testing.T) {
	m := newTestManager(t)
	if err := m.ChangeTo(1); err != nil {
		t.Fatal(err)
	}
	before := m.Snapshot()
	err := m.ChangeTo(42)
	if !cncerr.Is(err, cncerr.ErrToolNotFound) {
		t.Fatalf("ChangeTo(42) = %v, want TOOL_NOT_FOUND", err)
	}
	after := m.Snapshot()
	if !reflect.DeepEqual(before, after) {
		t.Errorf("state changed:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestChangeToCommits(t *testing.T) {
	m := newTestManager(t)
	if err := m.SelectTool(2); err != nil {
		t.Fatal(err)
	}
	if err := m.ChangeTo(2); err != nil {
		t.Fatal(err)
	}
	active, ok := m.Active()
	if !ok || active.Number != 2 || active.Changes != 1 {
		t.Errorf("active = %+v/%v", active, ok)
	}
	if m.Selected() != 0 {
		t.Errorf("selection not cleared after change: %d", m.Selected())
	}
	h, err := m.LengthOffset(2)
	if err != nil || h != 90 {
		t.Errorf("LengthOffset(2) = %v, %v", h, err)
	}
}

func TestSlotConflicts(t *testing.T) {
	tests := []struct {
		name string
		slot int
		tool int
		code cncerr.ErrorCode
	}{
		{"occupied slot", 1, 3, cncerr.ErrMagazineSlotConflict},
		{"tool in other slot", 3, 1, cncerr.ErrMagazineSlotConflict},
		{"unknown tool", 3, 9, cncerr.ErrToolNotFound},
		{"slot out of range", 5, 3, cncerr.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t)
			before := m.Snapshot()
			err := m.LoadTool(tt.slot, tt.tool)
			if !cncerr.Is(err, tt.code) {
				t.Fatalf("LoadTool(%d, %d) = %v, want %s", tt.slot, tt.tool, err, tt.code)
			}
			if !reflect.DeepEqual(before, m.Snapshot()) {
				t.Error("magazine changed after rejected load")
			}
		})
	}
}

func TestReloadSameSlotIsAllowed(t *testing.T) {
	m := newTestManager(t)
	if err := m.LoadTool(1, 1); err != nil {
		t.Errorf("reloading T1 into its own slot failed: %v", err)
	}
	n, err := m.UnloadTool(1)
	if err != nil || n != 1 {
		t.Fatalf("UnloadTool(1) = %d, %v", n, err)
	}
	if err := m.LoadTool(3, 1); err != nil {
		t.Errorf("T1 should move to slot 3 after unload: %v", err)
	}
	if m.SlotOf(1) != 3 {
		t.Errorf("SlotOf(1) = %d", m.SlotOf(1))
	}
}

func TestToolLife(t *testing.T) {
	m := newTestManager(t)
	cond, err := m.RecordCuttingTime(2, 50*time.Minute)
	if err != nil || cond != ConditionOK {
		t.Fatalf("50min: %v, %v", cond, err)
	}
	cond, _ = m.RecordCuttingTime(2, 5*time.Minute)
	if cond != ConditionWarning {
		t.Errorf("55min condition = %v, want warning", cond)
	}
	if err := m.ChangeTo(2); err != nil {
		t.Errorf("tool in warning must remain usable: %v", err)
	}
	cond, _ = m.RecordCuttingTime(2, 5*time.Minute)
	if cond != ConditionWornOut {
		t.Errorf("60min condition = %v, want worn_out", cond)
	}
	if err := m.ChangeTo(2); !cncerr.Is(err, cncerr.ErrToolUnavailable) {
		t.Errorf("ChangeTo worn tool = %v, want TOOL_UNAVAILABLE", err)
	}
}

func TestMarkBroken(t *testing.T) {
	m := newTestManager(t)
	if err := m.MarkBroken(1); err != nil {
		t.Fatal(err)
	}
	if err := m.ChangeTo(1); !cncerr.Is(err, cncerr.ErrToolUnavailable) {
		t.Errorf("ChangeTo broken = %v", err)
	}
	if err := m.MarkBroken(77); !cncerr.Is(err, cncerr.ErrToolNotFound) {
		t.Errorf("MarkBroken unknown = %v", err)
	}
	if c, _ := m.Condition(1); c != ConditionBroken {
		t.Errorf("Condition = %v", c)
	}
}

func TestRegisterKeepsCounters(t *testing.T) {
	m := newTestManager(t)
	m.RecordWear(1, 0.05)
	if err := m.Register(Tool{Number: 1, Name: "renamed", Diameter: 10}); err != nil {
		t.Fatal(err)
	}
	tool, _ := m.Get(1)
	if tool.Name != "renamed" || tool.Wear != 0.05 {
		t.Errorf("tool = %+v", tool)
	}
	if err := m.Register(Tool{Number: 1000}); !cncerr.Is(err, cncerr.ErrInvalidArgument) {
		t.Errorf("T1000 = %v", err)
	}
}

func TestLoadTable(t *testing.T) {
	table, err := config.ParseToolTable([]byte(`
tools:
  - number: 5
    name: face mill
    diameter: 50
    expected_life: 120
    slot: 3
  - number: 6
    name: chamfer
    diameter: 12
`))
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager(0)
	if err := m.LoadTable(table); err != nil {
		t.Fatal(err)
	}
	if m.SlotOf(5) != 3 || m.SlotOf(6) != 0 {
		t.Errorf("slots: T5=%d T6=%d", m.SlotOf(5), m.SlotOf(6))
	}
	tool, _ := m.Get(5)
	if tool.ExpectedLife != 2*time.Hour {
		t.Errorf("ExpectedLife = %v", tool.ExpectedLife)
	}
	if got := m.Numbers(); !reflect.DeepEqual(got, []int{5, 6}) {
		t.Errorf("Numbers = %v", got)
	}
	if len(m.Snapshot().Slots) != DefaultSlots {
		t.Errorf("default magazine size = %d", len(m.Snapshot().Slots))
	}
}
