package config

import (
	"testing"
)

func TestParseToolTable(t *testing.T) {
	data := []byte(`
tools:
  - number: 1
    name: "10mm endmill"
    type: endmill
    diameter: 10
    length: 75
    flutes: 4
    length_offset: 75.2
    expected_life: 120
    slot: 1
  - number: 12
    name: drill 6.8
    diameter: 6.8
    slot: 2
  - number: 40
    name: spare
`)
	table, err := ParseToolTable(data)
	if err != nil {
		t.Fatalf("ParseToolTable failed: %v", err)
	}
	if len(table.Tools) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(table.Tools))
	}
	if table.Tools[0].LengthOffset != 75.2 || table.Tools[0].Flutes != 4 {
		t.Errorf("unexpected first tool: %+v", table.Tools[0])
	}
	if table.Tools[2].Slot != 0 {
		t.Errorf("spare tool should be outside the magazine")
	}
}

func TestParseToolTableRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"range", "tools:\n  - number: 1000\n"},
		{"duplicate", "tools:\n  - number: 3\n  - number: 3\n"},
		{"slot clash", "tools:\n  - number: 3\n    slot: 5\n  - number: 4\n    slot: 5\n"},
		{"yaml", "tools:\n  - number: [1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseToolTable([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseOffsetTable(t *testing.T) {
	table, err := ParseOffsetTable(`
[work.G54]
x = 120.5
y = -40.0
rotation = 30.0

[work."G59.1"]
z = -15.0
mirror = ["X"]

[extended.12]
x = 40.0
scale = [2.0, 2.0]

[local]
x = 5.0
`)
	if err != nil {
		t.Fatalf("ParseOffsetTable failed: %v", err)
	}
	g54 := table.Work["G54"]
	if g54.X != 120.5 || g54.Y != -40 || g54.Rotation != 30 {
		t.Errorf("unexpected G54: %+v", g54)
	}
	if table.Work["G59.1"].Mirror[0] != "X" {
		t.Errorf("unexpected G59.1: %+v", table.Work["G59.1"])
	}
	if n, err := ExtendedIndex("12"); err != nil || n != 12 {
		t.Errorf("ExtendedIndex = %d, %v", n, err)
	}
	if table.Local == nil || table.Local.Vector()[0] != 5 {
		t.Errorf("unexpected local: %+v", table.Local)
	}
}

func TestParseOffsetTableRejects(t *testing.T) {
	tests := []string{
		"[work.G60]\nx = 1.0\n",
		"[extended.301]\nx = 1.0\n",
		"[work.G54]\nscale = [0.0]\n",
		"[work.G54]\nmirror = [\"Q\"]\n",
	}
	for _, data := range tests {
		if _, err := ParseOffsetTable(data); err == nil {
			t.Errorf("expected error for %q", data)
		}
	}
}
