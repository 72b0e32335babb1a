// Interpreter tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package interp

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"modax-cnc/pkg/coords"
	cncerr "modax-cnc/pkg/errors"
	"modax-cnc/pkg/gcode"
	"modax-cnc/pkg/motion"
	"modax-cnc/pkg/tools"
)

const tol = 1e-9

type recorder struct {
	cmds []motion.Command
	fail int // fail the n-th call (1-based) when set
}

func (r *recorder) Emit(_ context.Context, cmd motion.Command) error {
	if r.fail > 0 && len(r.cmds)+1 == r.fail {
		return errors.New("sink closed")
	}
	r.cmds = append(r.cmds, cmd)
	return nil
}

func (r *recorder) motions() []motion.Command {
	var out []motion.Command
	for _, c := range r.cmds {
		if c.Kind.IsMotion() {
			out = append(out, c)
		}
	}
	return out
}

func load(t *testing.T, opts Options, lines ...string) (*Interpreter, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts.Sink = rec
	in, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p, err := gcode.ParseProgram("test", strings.Join(lines, "\n"))
	if err != nil {
		t.Fatalf("ParseProgram: %v", err)
	}
	in.Load(p)
	return in, rec
}

func TestLinearMove(t *testing.T) {
	in, rec := load(t, Options{}, "G90 G1 X10 Y10 F500")
	if err := in.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rec.cmds) != 1 {
		t.Fatalf("got %d commands, want 1: %v", len(rec.cmds), rec.cmds)
	}
	c := rec.cmds[0]
	if c.Kind != motion.KindLinear || c.Feed != 500 || c.Line != 1 {
		t.Errorf("command = %v", c)
	}
	if !c.Target.ApproxEqual(motion.Position{10, 10}, tol) {
		t.Errorf("target = %v, want X10 Y10", c.Target)
	}
	if !in.Done() {
		t.Error("interpreter should be done")
	}
}

func TestSubprogramCallResumesAfterCaller(t *testing.T) {
	in, rec := load(t, Options{},
		"N10 M98 P20",
		"N11 G0 X5",
		"N12 M30",
		"N20 O20",
		"G1 X1 F100",
		"M99",
	)
	if err := in.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var lines []int
	for _, c := range rec.cmds {
		lines = append(lines, c.Line)
	}
	want := []int{5, 2, 3}
	if len(lines) != len(want) {
		t.Fatalf("command lines = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("command lines = %v, want %v", lines, want)
		}
	}
	if rec.cmds[2].Kind != motion.KindProgramEnd {
		t.Errorf("last command = %v, want program end", rec.cmds[2])
	}
	if in.Depth() != 0 {
		t.Errorf("Depth = %d after return", in.Depth())
	}
}

func TestSubprogramRepeat(t *testing.T) {
	in, rec := load(t, Options{},
		"G91",
		"M98 P30 L3",
		"M30",
		"O30",
		"G0 X1",
		"M99",
	)
	if err := in.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(rec.motions()); got != 3 {
		t.Fatalf("got %d moves, want 3", got)
	}
	if x := in.Position()[motion.X]; x != 3 {
		t.Errorf("X = %g, want 3", x)
	}
}

func gosubProgram(limit string) []string {
	return []string{
		"#101=" + limit,
		"GOSUB DEEP",
		"M30",
		"DEEP:",
		"#100=[#100+1]",
		"IF [#100 LT #101] GOSUB DEEP",
		"RETURN",
	}
}

func TestGosubNesting(t *testing.T) {
	in, _ := load(t, Options{MaxCallDepth: 4}, gosubProgram("4")...)
	maxDepth := 0
	for {
		done, err := in.Step(context.Background())
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		if d := in.Depth(); d > maxDepth {
			maxDepth = d
		}
		if done {
			break
		}
	}
	if maxDepth != 4 {
		t.Errorf("max depth = %d, want 4", maxDepth)
	}
	if in.Depth() != 0 {
		t.Errorf("final depth = %d, want 0", in.Depth())
	}
}

func TestGosubOverflow(t *testing.T) {
	in, _ := load(t, Options{MaxCallDepth: 4}, gosubProgram("5")...)
	err := in.Run(context.Background())
	if !cncerr.Is(err, cncerr.ErrStackOverflow) {
		t.Fatalf("Run = %v, want STACK_OVERFLOW", err)
	}
	if in.Depth() != 4 {
		t.Errorf("Depth = %d after overflow, want 4", in.Depth())
	}
	if e, _ := cncerr.As(err); e.Line != 6 {
		t.Errorf("error line = %d, want 6", e.Line)
	}
}

func TestReturnWithoutCall(t *testing.T) {
	in, _ := load(t, Options{}, "G0 X1", "RETURN")
	if err := in.Run(context.Background()); !cncerr.Is(err, cncerr.ErrStackUnderflow) {
		t.Fatalf("Run = %v, want STACK_UNDERFLOW", err)
	}
}

func TestInfiniteLoop(t *testing.T) {
	in, _ := load(t, Options{MaxSteps: 50}, "N10 GOTO 10")
	err := in.Run(context.Background())
	if !cncerr.Is(err, cncerr.ErrInfiniteLoop) {
		t.Fatalf("Run = %v, want INFINITE_LOOP", err)
	}
	if in.Steps() != 50 {
		t.Errorf("Steps = %d, want 50", in.Steps())
	}
}

func TestDrillCycle(t *testing.T) {
	in, rec := load(t, Options{},
		"G90 G0 X0 Y0 Z10",
		"G81 X5 Y5 Z-2 R2 F100",
		"G80",
	)
	if err := in.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []struct {
		kind   motion.Kind
		target motion.Position
		feed   float64
	}{
		{motion.KindRapid, motion.Position{0, 0, 10}, 0},
		{motion.KindRapid, motion.Position{5, 5, 10}, 0},
		{motion.KindRapid, motion.Position{5, 5, 2}, 0},
		{motion.KindLinear, motion.Position{5, 5, -2}, 100},
		{motion.KindRapid, motion.Position{5, 5, 10}, 0},
	}
	if len(rec.cmds) != len(want) {
		t.Fatalf("got %d commands, want %d: %v", len(rec.cmds), len(want), rec.cmds)
	}
	for i, w := range want {
		c := rec.cmds[i]
		if c.Kind != w.kind || !c.Target.ApproxEqual(w.target, tol) || c.Feed != w.feed {
			t.Errorf("cmd %d = %v, want %v %v F%g", i, c, w.kind, w.target, w.feed)
		}
	}
}

func TestDrillCycleRepeatsAtEachPosition(t *testing.T) {
	in, rec := load(t, Options{},
		"G0 X0 Y0 Z10",
		"G99 G81 X5 Y0 Z-2 R2 F100",
		"X10",
		"G80",
		"G0 X0",
	)
	if err := in.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	feeds := 0
	for _, c := range rec.cmds {
		if c.Kind == motion.KindLinear {
			feeds++
			if c.Target[motion.Z] != -2 {
				t.Errorf("feed to %v, want Z-2", c.Target)
			}
		}
	}
	if feeds != 2 {
		t.Errorf("drilled %d holes, want 2", feeds)
	}
	last := rec.cmds[len(rec.cmds)-1]
	if !last.Target.ApproxEqual(motion.Position{0, 0, 2}, tol) {
		t.Errorf("final move to %v, want X0 at the R level", last.Target)
	}
}

func TestCyclePassLimits(t *testing.T) {
	tests := []struct {
		name  string
		opts  Options
		block string
		code  cncerr.ErrorCode
	}{
		{"peck step below resolution", Options{}, "G83 Z-10 R2 Q0.00000000000000001 F100", cncerr.ErrMotionLimit},
		{"chip break step below resolution", Options{}, "G73 Z-10 R2 Q0.00000000000000001 F100", cncerr.ErrMotionLimit},
		{"pecks over configured limit", Options{MaxCyclePasses: 5}, "G83 Z-10 R2 Q1 F100", cncerr.ErrMotionLimit},
		{"repeat over limit", Options{MaxCyclePasses: 3}, "G81 Z-2 R2 F100 L4", cncerr.ErrMotionLimit},
		{"repeat huge", Options{}, "G81 Z-2 R2 F100 L100000000", cncerr.ErrMotionLimit},
		{"repeat negative", Options{}, "G81 Z-2 R2 F100 L-1", cncerr.ErrInvalidArgument},
		{"pocket step down below resolution", Options{}, "G12 I10 Z-5 R2 Q0.00000000000000001 D4 F100", cncerr.ErrMotionLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, rec := load(t, tt.opts, "G0 Z5", tt.block)
			err := in.Run(context.Background())
			if !cncerr.Is(err, tt.code) {
				t.Fatalf("Run = %v, want %s", err, tt.code)
			}
			if got := len(rec.motions()); got != 1 {
				t.Errorf("%d moves emitted before the rejected cycle, want 1", got)
			}
		})
	}
}

func TestCycleRepeatAtLimit(t *testing.T) {
	in, rec := load(t, Options{MaxCyclePasses: 3}, "G0 X0 Y0 Z10", "G91 G81 X5 Z-4 R-8 F100 L3")
	if err := in.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	feeds := 0
	for _, c := range rec.cmds {
		if c.Kind == motion.KindLinear {
			feeds++
		}
	}
	if feeds != 3 {
		t.Errorf("drilled %d holes, want 3", feeds)
	}
	if x := in.Position()[motion.X]; math.Abs(x-15) > tol {
		t.Errorf("final X = %g, want 15", x)
	}
}

func threadMoves(rec *recorder) []motion.Command {
	var out []motion.Command
	for _, c := range rec.cmds {
		if c.Kind == motion.KindThread {
			out = append(out, c)
		}
	}
	return out
}

func TestInchThreadCycle(t *testing.T) {
	in, rec := load(t, Options{},
		"G20 S500 M3",
		"G0 X1 Z0.1",
		"G76 X0.8 Z-0.5 R0.1 P0.05 K0.03",
	)
	if err := in.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	moves := rec.motions()
	if len(moves) < 2 {
		t.Fatalf("moves = %v", moves)
	}
	start := moves[1]
	if start.Kind != motion.KindRapid || math.Abs(start.Target[motion.X]-20.32) > 1e-6 ||
		math.Abs(start.Target[motion.Z]-2.54) > 1e-6 {
		t.Errorf("first cycle move = %v, want rapid to X20.32 Z2.54", start)
	}
	threads := threadMoves(rec)
	if len(threads) == 0 {
		t.Fatal("no thread passes")
	}
	for _, c := range threads {
		if math.Abs(c.Lead-1.27) > 1e-9 || math.Abs(c.Feed-1.27*500) > 1e-6 {
			t.Errorf("thread pass lead %g feed %g, want 1.27 mm and 635 mm/min", c.Lead, c.Feed)
		}
		if math.Abs(c.Target[motion.Z]+12.7) > 1e-6 {
			t.Errorf("thread pass ends at Z%g, want Z-12.7", c.Target[motion.Z])
		}
	}
	last := threads[len(threads)-1]
	if math.Abs(last.Target[motion.X]-(20.32-0.762)) > 1e-6 {
		t.Errorf("final pass at X%g, want %g", last.Target[motion.X], 20.32-0.762)
	}
}

func TestThreadCycleUsesProgrammedDiameter(t *testing.T) {
	in, rec := load(t, Options{},
		"S400 M3",
		"G0 X12 Z2",
		"G76 X10 Z-20 P1.5 K0.9",
	)
	if err := in.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	moves := rec.motions()
	if len(moves) < 2 || moves[1].Kind != motion.KindRapid || moves[1].Target[motion.X] != 10 {
		t.Fatalf("cycle does not start with a rapid to X10: %v", moves)
	}
	for _, c := range threadMoves(rec) {
		if c.Target[motion.X] > 10 || c.Target[motion.X] < 10-0.9-tol {
			t.Errorf("thread pass at X%g, want within 0.9 below X10", c.Target[motion.X])
		}
		if c.Lead != 1.5 {
			t.Errorf("lead = %g, want 1.5", c.Lead)
		}
	}
}

func TestMDIProgramEndKeepsLoadedProgram(t *testing.T) {
	in, rec := load(t, Options{}, "G0 X1", "G0 X2", "G0 X3")
	if _, err := in.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	for _, line := range []string{"M2", "M30"} {
		b, err := gcode.ParseLine(1, line)
		if err != nil {
			t.Fatalf("ParseLine(%q): %v", line, err)
		}
		if err := in.ExecuteBlock(context.Background(), b); err != nil {
			t.Fatalf("ExecuteBlock(%q): %v", line, err)
		}
		if in.Done() || in.PC() != 1 {
			t.Fatalf("after MDI %s: done %v pc %d, want running at 1", line, in.Done(), in.PC())
		}
	}
	if err := in.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(rec.motions()); got != 3 || in.Position()[motion.X] != 3 {
		t.Errorf("moves = %d, X = %g; want all three blocks run", got, in.Position()[motion.X])
	}
}

func TestMacroCallArguments(t *testing.T) {
	in, rec := load(t, Options{},
		"#1=7",
		"G65 P100 A3 X2.5",
		"G0 X#1",
		"M30",
		"O100",
		"#500=[#1+#24]",
		"M99",
	)
	if err := in.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	v, set, _ := in.Variables().Lookup(500)
	if !set || v != 5.5 {
		t.Errorf("#500 = %g (set %v), want 5.5", v, set)
	}
	moves := rec.motions()
	if len(moves) != 1 || moves[0].Target[motion.X] != 7 {
		t.Errorf("moves = %v, want one move to X7 with #1 restored", moves)
	}
	if _, set, _ := in.Variables().Lookup(24); set {
		t.Error("#24 should be unset after the macro returned")
	}
}

func TestNullVariableOmitsWord(t *testing.T) {
	in, rec := load(t, Options{}, "G0 X1 Y2", "G0 X#5 Y3")
	if err := in.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := rec.cmds[1].Target
	if !got.ApproxEqual(motion.Position{1, 3}, tol) {
		t.Errorf("target = %v, want X1 Y3", got)
	}
}

func TestVariablesInWords(t *testing.T) {
	in, rec := load(t, Options{}, "#1=2", "#2=[#1*3]", "G1 X#2 Y[#1+1] F[#2*100]")
	if err := in.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	c := rec.cmds[0]
	if !c.Target.ApproxEqual(motion.Position{6, 3}, tol) || c.Feed != 600 {
		t.Errorf("command = %v", c)
	}
}

func TestConditionalGoto(t *testing.T) {
	in, rec := load(t, Options{},
		"#1=0",
		"N10 #1=[#1+1]",
		"G91 G0 X1",
		"IF [#1 LT 3] GOTO 10",
		"M30",
	)
	if err := in.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(rec.motions()); got != 3 {
		t.Errorf("moves = %d, want 3", got)
	}
}

func TestExecuteBlockRejectsFlow(t *testing.T) {
	rec := &recorder{}
	in, err := New(Options{Sink: rec})
	if err != nil {
		t.Fatal(err)
	}
	for _, line := range []string{"GOTO 10", "M98 P10", "G65 P10", "M99"} {
		b, err := gcode.ParseLine(1, line)
		if err != nil {
			t.Fatalf("ParseLine(%q): %v", line, err)
		}
		if err := in.ExecuteBlock(context.Background(), b); !cncerr.Is(err, cncerr.ErrInvalidArgument) {
			t.Errorf("ExecuteBlock(%q) = %v, want INVALID_ARGUMENT", line, err)
		}
	}
	b, _ := gcode.ParseLine(1, "G0 X3")
	if err := in.ExecuteBlock(context.Background(), b); err != nil {
		t.Fatalf("ExecuteBlock: %v", err)
	}
	if len(rec.cmds) != 1 || in.Position()[motion.X] != 3 {
		t.Errorf("MDI move not emitted: %v", rec.cmds)
	}
}

func TestArcWords(t *testing.T) {
	in, rec := load(t, Options{}, "G0 X0 Y0", "G2 X10 Y0 I5 J0 F200", "G3 X0 Y0 R5")
	if err := in.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	cw, ccw := rec.cmds[1], rec.cmds[2]
	if cw.Kind != motion.KindArcCW || cw.Offset != (motion.Position{5}) || cw.Feed != 200 {
		t.Errorf("G2 = %+v", cw)
	}
	if ccw.Kind != motion.KindArcCCW || !ccw.HasRadius || ccw.Radius != 5 {
		t.Errorf("G3 = %+v", ccw)
	}
}

func TestArcWithoutCentre(t *testing.T) {
	rec := &recorder{}
	in, _ := New(Options{Sink: rec})
	b, _ := gcode.ParseLine(1, "G2 X10 Y0 F100")
	if err := in.ExecuteBlock(context.Background(), b); err == nil {
		t.Fatal("arc without I/J/K or R accepted")
	}
}

func TestWorkOffsetAndLengthCompensation(t *testing.T) {
	cs := coords.New()
	if err := cs.SetOffset("G55", motion.Position{100}); err != nil {
		t.Fatal(err)
	}
	tm := tools.NewManager(0)
	if err := tm.Register(tools.Tool{Number: 1, LengthOffset: 50}); err != nil {
		t.Fatal(err)
	}
	in, rec := load(t, Options{Coords: cs, Tools: tm}, "G55 G43 H1 G0 X10 Z0")
	if err := in.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	c := rec.cmds[0]
	if !c.Target.ApproxEqual(motion.Position{110, 0, 50}, tol) {
		t.Errorf("machine target = %v, want X110 Z50", c.Target)
	}
	if !c.WorkTarget.ApproxEqual(motion.Position{10, 0, 0}, tol) {
		t.Errorf("work target = %v, want X10 Z0", c.WorkTarget)
	}
	if m := in.Modal(); m.WCS != "G55" || m.LengthComp != LengthPositive {
		t.Errorf("modal = %+v", m)
	}
}

func TestOriginShift(t *testing.T) {
	in, rec := load(t, Options{}, "G0 X10", "G92 X0", "G0 X5")
	if err := in.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rec.cmds) != 2 {
		t.Fatalf("G92 must not move: %v", rec.cmds)
	}
	if x := rec.cmds[1].Target[motion.X]; x != 15 {
		t.Errorf("machine X = %g, want 15", x)
	}
}

func TestInchUnits(t *testing.T) {
	in, rec := load(t, Options{}, "G20 G1 X1 F10")
	if err := in.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	c := rec.cmds[0]
	if c.Target[motion.X] != 25.4 || c.Feed != 254 {
		t.Errorf("command = %v, want X25.4 F254", c)
	}
}

func TestSpindleClampAndToolChange(t *testing.T) {
	tm := tools.NewManager(0)
	if err := tm.Register(tools.Tool{Number: 2, Diameter: 6}); err != nil {
		t.Fatal(err)
	}
	in, rec := load(t, Options{MaxSpindle: 1000, Tools: tm}, "T2 M6", "S2000 M3", "M5")
	if err := in.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rec.cmds) != 3 {
		t.Fatalf("commands = %v", rec.cmds)
	}
	if c := rec.cmds[0]; c.Kind != motion.KindToolChange || c.Tool != 2 {
		t.Errorf("tool change = %v", c)
	}
	if c := rec.cmds[1]; c.Kind != motion.KindSpindle || c.SpindleSpeed != 1000 || c.Spindle != motion.SpindleCW {
		t.Errorf("spindle = %v, want CW at the 1000 rpm clamp", c)
	}
	if tm.ActiveNumber() != 2 {
		t.Errorf("active tool = %d, want 2", tm.ActiveNumber())
	}
}

func TestUnknownToolFails(t *testing.T) {
	in, _ := load(t, Options{}, "T7 M6")
	if err := in.Run(context.Background()); !cncerr.Is(err, cncerr.ErrToolNotFound) {
		t.Fatalf("Run = %v, want TOOL_NOT_FOUND", err)
	}
}

func TestOptionalStop(t *testing.T) {
	for _, honour := range []bool{false, true} {
		in, rec := load(t, Options{OptionalStop: honour}, "M1", "M0")
		if err := in.Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}
		want := 1
		if honour {
			want = 2
		}
		if len(rec.cmds) != want {
			t.Errorf("OptionalStop=%v: %d stops, want %d", honour, len(rec.cmds), want)
		}
	}
}

func TestM99EndsMainProgram(t *testing.T) {
	in, rec := load(t, Options{}, "G0 X1", "M99", "G0 X2")
	if err := in.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rec.cmds) != 1 || !in.Done() {
		t.Errorf("commands = %v, done %v", rec.cmds, in.Done())
	}
}

func TestSinkErrorKeepsPosition(t *testing.T) {
	in, rec := load(t, Options{}, "G0 X1", "G0 X2")
	rec.fail = 2
	if err := in.Run(context.Background()); err == nil {
		t.Fatal("sink error not propagated")
	}
	if x := in.Position()[motion.X]; x != 1 {
		t.Errorf("X = %g after failed emit, want 1", x)
	}
	if in.CurrentLine() != 2 {
		t.Errorf("CurrentLine = %d, want the failed block", in.CurrentLine())
	}
}

func TestModalCodes(t *testing.T) {
	in, _ := load(t, Options{}, "G91 G18 G99 G1 X1 F10")
	if err := in.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	codes := strings.Join(in.Modal().Codes(), " ")
	for _, want := range []string{"G1", "G18", "G91", "G99", "G54"} {
		if !strings.Contains(codes, want) {
			t.Errorf("modal codes %q missing %s", codes, want)
		}
	}
}

func TestCallStack(t *testing.T) {
	s := NewCallStack(2)
	for i := 0; i < 2; i++ {
		if err := s.Push(Frame{Return: i}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Push(Frame{Line: 9}); !cncerr.Is(err, cncerr.ErrStackOverflow) {
		t.Fatalf("Push = %v, want STACK_OVERFLOW", err)
	}
	if s.Depth() != 2 {
		t.Errorf("Depth = %d after overflow", s.Depth())
	}
	f, err := s.Pop("RETURN", 1)
	if err != nil || f.Return != 1 {
		t.Errorf("Pop = %+v, %v", f, err)
	}
	s.Reset()
	if _, err := s.Pop("M99", 3); !cncerr.Is(err, cncerr.ErrStackUnderflow) {
		t.Errorf("Pop on empty = %v, want STACK_UNDERFLOW", err)
	}
}

func TestVariableTable(t *testing.T) {
	vt := NewVariableTable()
	if err := vt.Set(0, 1); err == nil {
		t.Error("#0 must be read-only")
	}
	if err := vt.Set(1000, 1); err == nil {
		t.Error("#1000 accepted")
	}
	_ = vt.Set(1, 3)
	_ = vt.Set(40, 4)
	saved := vt.SaveLocals()
	vt.ClearLocals()
	if _, set, _ := vt.Lookup(1); set {
		t.Error("#1 still set after ClearLocals")
	}
	if v, _ := vt.Get(40); v != 4 {
		t.Error("ClearLocals touched a common variable")
	}
	vt.RestoreLocals(saved)
	if v, _ := vt.Get(1); v != 3 {
		t.Errorf("#1 = %g after restore, want 3", v)
	}
	if ids := vt.IDs(); len(ids) != 2 || ids[0] != 1 || ids[1] != 40 {
		t.Errorf("IDs = %v", ids)
	}
}
