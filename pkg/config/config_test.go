package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadString(t *testing.T) {
	data := `
# machine definition
[machine]
name: vmc-1

[planner]
max_feed = 12000   ; inline comment
profile: scurve
lookahead: 50
`
	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}
	if !cfg.HasSection("machine") || !cfg.HasSection("PLANNER") {
		t.Error("expected machine and planner sections")
	}
	if cfg.HasSection("nonexistent") {
		t.Error("expected [nonexistent] section to not exist")
	}

	planner, err := cfg.GetSection("planner")
	if err != nil {
		t.Fatalf("GetSection(planner) failed: %v", err)
	}
	feed, err := planner.GetFloat("max_feed")
	if err != nil || feed != 12000 {
		t.Errorf("max_feed = %v, %v; want 12000", feed, err)
	}
	look, err := planner.GetInt("lookahead")
	if err != nil || look != 50 {
		t.Errorf("lookahead = %v, %v; want 50", look, err)
	}
}

func TestSectionGetters(t *testing.T) {
	cfg, err := LoadString(`
[test]
flag: yes
bad_int: 4.5
timeout: 0.5
timeout_go: 150ms
axes: X Y  Z
choice: SCURVE
`)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}
	sec := cfg.Section("test")

	if v, err := sec.GetBool("flag"); err != nil || !v {
		t.Errorf("GetBool(flag) = %v, %v", v, err)
	}
	if _, err := sec.GetInt("bad_int"); err == nil {
		t.Error("expected error parsing 4.5 as integer")
	}
	if v, _ := sec.GetDuration("timeout"); v != 500*time.Millisecond {
		t.Errorf("GetDuration(timeout) = %v", v)
	}
	if v, _ := sec.GetDuration("timeout_go"); v != 150*time.Millisecond {
		t.Errorf("GetDuration(timeout_go) = %v", v)
	}
	if v, _ := sec.GetList("axes", ""); strings.Join(v, ",") != "X,Y,Z" {
		t.Errorf("GetList(axes) = %v", v)
	}
	if v, err := sec.GetChoice("choice", []string{"trapezoid", "scurve"}); err != nil || v != "scurve" {
		t.Errorf("GetChoice = %q, %v", v, err)
	}
	if _, err := sec.Get("missing"); err == nil {
		t.Error("expected error for missing option without fallback")
	}
	if v, _ := sec.Get("missing", "dflt"); v != "dflt" {
		t.Errorf("fallback = %q", v)
	}
}

func TestFloatBounds(t *testing.T) {
	cfg, _ := LoadString("[p]\nneg: -1\nzero: 0\n")
	sec := cfg.Section("p")
	if _, err := sec.GetFloatWithBounds("neg", FloatBounds{MinVal: Ptr(0)}); err == nil {
		t.Error("expected minimum violation")
	}
	if _, err := sec.GetFloatWithBounds("zero", FloatBounds{Above: Ptr(0)}); err == nil {
		t.Error("expected above violation")
	}
	if v, err := sec.GetFloatWithBounds("absent", FloatBounds{Above: Ptr(0)}, 3); err != nil || v != 3 {
		t.Errorf("fallback = %v, %v", v, err)
	}
}

func TestCheckUnused(t *testing.T) {
	cfg, _ := LoadString("[planner]\nmax_feed: 1\nmax_fede: 2\n[extra]\nx: 1\n")
	cfg.Section("planner").GetFloat("max_feed")

	err := cfg.CheckUnused()
	if err == nil {
		t.Fatal("expected unused error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "extra") || !strings.Contains(msg, "max_fede") {
		t.Errorf("expected unused section and option in %q", msg)
	}
}

func TestIncludeAndResolvePath(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "limits.cfg"), []byte("[limits x]\nmin: -100\nmax: 100\n"), 0o644)
	main := filepath.Join(dir, "cncd.cfg")
	os.WriteFile(main, []byte("[include limits.cfg]\n[magazine]\ntool_table: tools.yaml\n"), 0o644)

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.HasSection("limits x") {
		t.Error("expected included section")
	}
	m, err := LoadMachine(cfg)
	if err != nil {
		t.Fatalf("LoadMachine failed: %v", err)
	}
	if m.Limits["X"] != (AxisLimit{-100, 100}) {
		t.Errorf("X limits = %+v", m.Limits["X"])
	}
	if m.Magazine.ToolTable != filepath.Join(dir, "tools.yaml") {
		t.Errorf("tool table path = %q", m.Magazine.ToolTable)
	}
}

func TestRecursiveInclude(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.cfg")
	os.WriteFile(path, []byte("[include a.cfg]\n"), 0o644)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "recursive") {
		t.Errorf("expected recursive include error, got %v", err)
	}
}

func TestLoadMachineDefaults(t *testing.T) {
	cfg, _ := LoadString("")
	m, err := LoadMachine(cfg)
	if err != nil {
		t.Fatalf("LoadMachine failed: %v", err)
	}
	if m.Planner.Lookahead != 100 || m.Interpreter.MaxCallDepth != 16 || m.Interpreter.MaxSteps != 100000 ||
		m.Interpreter.MaxCyclePasses != 1000 {
		t.Errorf("unexpected defaults: %+v %+v", m.Planner, m.Interpreter)
	}
	if m.Limits["Z"] != (AxisLimit{-300, 0}) {
		t.Errorf("Z default = %+v", m.Limits["Z"])
	}
	if m.Magazine.Slots != 24 || m.MaxSpindle != 24000 {
		t.Errorf("magazine/spindle defaults: %+v %v", m.Magazine, m.MaxSpindle)
	}
}

func TestLoadMachineErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad profile", "[planner]\nprofile: cubic\n"},
		{"zero accel", "[planner]\nmax_accel: 0\n"},
		{"inverted limits", "[limits y]\nmin: 10\nmax: -10\n"},
		{"unknown axis", "[limits w]\nmin: 0\n"},
		{"websocket without url", "[fieldlink]\ntransport: websocket\n"},
		{"blend angle", "[planner]\nmax_blend_angle: 180\n"},
		{"cycle passes", "[interpreter]\nmax_cycle_passes: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadString(tt.data)
			if err != nil {
				t.Fatalf("LoadString: %v", err)
			}
			if _, err := LoadMachine(cfg); err == nil {
				t.Error("expected LoadMachine error")
			}
		})
	}
}

func TestMalformedOption(t *testing.T) {
	if _, err := LoadString("[a]\njust words\n"); err == nil {
		t.Error("expected malformed option error")
	}
}
