// Machine controller tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package controller

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"modax-cnc/pkg/config"
	cncerr "modax-cnc/pkg/errors"
	"modax-cnc/pkg/motion"
	"modax-cnc/pkg/planner"
	"modax-cnc/pkg/safety"
)

type recorder struct {
	mu   sync.Mutex
	segs []*planner.Segment
	err  error
	hold chan struct{}
}

func (r *recorder) Dispatch(ctx context.Context, seg *planner.Segment) error {
	r.mu.Lock()
	r.segs = append(r.segs, seg)
	err, hold := r.err, r.hold
	r.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.segs)
}

func (r *recorder) moves() []*planner.Segment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*planner.Segment
	for _, s := range r.segs {
		if s.IsMotion() {
			out = append(out, s)
		}
	}
	return out
}

func newTestController(t *testing.T, safe bool, mutate func(*config.MachineConfig)) (*Controller, *safety.Monitor, *recorder) {
	t.Helper()
	m := config.DefaultMachine()
	if mutate != nil {
		mutate(m)
	}
	mon := safety.NewMonitor(safety.Config{})
	if safe {
		mon.Update(safety.Status{Safe: true, Source: "test"})
	}
	rec := &recorder{}
	c, err := New(Config{Machine: m}, Deps{Dispatcher: rec, Safety: mon})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, mon, rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitState(t *testing.T, c *Controller, want MachineState) {
	t.Helper()
	waitFor(t, want.String(), func() bool { return c.Status().State == want })
}

func waitIdle(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
}

func runProgram(t *testing.T, c *Controller, text string) {
	t.Helper()
	if err := c.LoadProgram("test.nc", text); err != nil {
		t.Fatalf("LoadProgram: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	mon := safety.NewMonitor(safety.Config{})
	if _, err := New(Config{}, Deps{Safety: mon}); !cncerr.Is(err, cncerr.ErrInvalidArgument) {
		t.Errorf("missing dispatcher: got %v", err)
	}
	if _, err := New(Config{}, Deps{Dispatcher: &recorder{}}); !cncerr.Is(err, cncerr.ErrInvalidArgument) {
		t.Errorf("missing safety: got %v", err)
	}
}

func TestProgramRunsToIdle(t *testing.T) {
	c, _, rec := newTestController(t, true, nil)
	runProgram(t, c, "G0 X10\nG1 X20 F600\nM30")
	waitIdle(t, c)

	st := c.Status()
	if st.State != StateIdle {
		t.Fatalf("state = %s, want IDLE (last error %+v)", st.State, st.LastError)
	}
	moves := rec.moves()
	if len(moves) != 2 {
		t.Fatalf("dispatched %d moves, want 2", len(moves))
	}
	if moves[0].Command.Kind != motion.KindRapid || moves[0].Command.Target[motion.X] != 10 {
		t.Errorf("first move = %v", moves[0].Command)
	}
	if moves[1].Command.Kind != motion.KindLinear || moves[1].Command.Target[motion.X] != 20 {
		t.Errorf("second move = %v", moves[1].Command)
	}
	if st.Position[motion.X] != 20 {
		t.Errorf("position X = %v, want 20", st.Position[motion.X])
	}
	if st.Run == nil || st.Run.Result != ResultCompleted || st.Run.Blocks != 3 {
		t.Errorf("run stats = %+v", st.Run)
	}
	if st.Run != nil && st.Run.ID == "" {
		t.Error("run has no id")
	}
}

func TestUnsafeStatusRejectsCommands(t *testing.T) {
	c, mon, rec := newTestController(t, false, nil)
	runProgram(t, c, "G1 X5 F300\nG1 X10")
	waitState(t, c, StateStopped)
	waitIdle(t, c)

	if n := rec.count(); n != 0 {
		t.Fatalf("dispatcher called %d times while unsafe", n)
	}
	st := c.Status()
	if st.Run == nil || st.Run.Rejected != 1 || st.Run.Result != ResultStopped {
		t.Fatalf("run stats = %+v, want one rejection and a stopped run", st.Run)
	}
	if len(st.Warnings) == 0 || st.Warnings[0].Code != string(cncerr.ErrSafetyRejected) {
		t.Errorf("warnings = %+v", st.Warnings)
	}
	if st.Position[motion.X] != 0 {
		t.Errorf("position = %v after rejection, want X0", st.Position)
	}
	if err := c.Resume(); !cncerr.Is(err, cncerr.ErrStateRejected) {
		t.Fatalf("Resume after rejection: got %v", err)
	}

	mon.Update(safety.Status{Safe: true})
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitIdle(t, c)
	if c.Status().State != StateIdle {
		t.Errorf("state = %s, want IDLE", c.Status().State)
	}
	// every move starts where the machine was when it was sent
	var at motion.Position
	moves := rec.moves()
	for i, seg := range moves {
		if !seg.Command.Start.ApproxEqual(at, 1e-9) {
			t.Errorf("move %d starts at %v, machine at %v", i, seg.Command.Start, at)
		}
		at = seg.Command.Target
	}
	if len(moves) != 2 || at[motion.X] != 10 {
		t.Fatalf("moves after restart = %d, ending at %v", len(moves), at)
	}
}

func TestInfiniteLoopFails(t *testing.T) {
	c, _, _ := newTestController(t, true, func(m *config.MachineConfig) { m.Interpreter.MaxSteps = 50 })
	runProgram(t, c, "N10 GOTO 10")
	waitIdle(t, c)

	st := c.Status()
	if st.State != StateError {
		t.Fatalf("state = %s, want ERROR", st.State)
	}
	if st.LastError == nil || st.LastError.Code != string(cncerr.ErrInfiniteLoop) {
		t.Fatalf("last error = %+v", st.LastError)
	}
	if st.Run == nil || st.Run.Result != ResultFailed {
		t.Errorf("run stats = %+v", st.Run)
	}
	if err := c.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	st = c.Status()
	if st.State != StateIdle || st.LastError != nil || len(st.Errors) == 0 {
		t.Errorf("after reset: state %s last %v history %d", st.State, st.LastError, len(st.Errors))
	}
}

func TestDispatchFailureMovesToError(t *testing.T) {
	c, _, rec := newTestController(t, true, nil)
	rec.err = errors.New("link down")
	runProgram(t, c, "G1 X5 F300\nG1 X10")
	waitIdle(t, c)

	st := c.Status()
	if st.State != StateError {
		t.Fatalf("state = %s, want ERROR", st.State)
	}
	if st.LastError == nil || st.LastError.Code != string(cncerr.ErrRuntime) {
		t.Fatalf("last error = %+v", st.LastError)
	}
	if n := rec.count(); n != 1 {
		t.Errorf("dispatcher called %d times, want 1", n)
	}
}

func TestStateRejections(t *testing.T) {
	c, _, _ := newTestController(t, true, nil)
	tests := []struct {
		name string
		op   func() error
		code cncerr.ErrorCode
	}{
		{"pause idle", c.Pause, cncerr.ErrStateRejected},
		{"resume idle", c.Resume, cncerr.ErrStateRejected},
		{"stop idle", c.Stop, cncerr.ErrStateRejected},
		{"start without program", c.Start, cncerr.ErrStateRejected},
		{"mdi in auto", func() error { return c.ExecuteMDI("G0 X1") }, cncerr.ErrStateRejected},
		{"jog in auto", func() error { return c.Jog("X", 1, 100) }, cncerr.ErrStateRejected},
		{"home in auto", c.Home, cncerr.ErrStateRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.op(); !cncerr.Is(err, tt.code) {
				t.Errorf("got %v, want %s", err, tt.code)
			}
		})
	}
}

func TestStopAndModeWhileRunning(t *testing.T) {
	c, _, rec := newTestController(t, true, nil)
	rec.hold = make(chan struct{})
	runProgram(t, c, "G1 X5 F300\nG1 X10")
	waitFor(t, "first dispatch", func() bool { return rec.count() > 0 })

	if err := c.SetMode(ModeMDI); !cncerr.Is(err, cncerr.ErrStateRejected) {
		t.Errorf("SetMode while running: got %v", err)
	}
	if err := c.LoadProgram("other.nc", "G0 X1"); !cncerr.Is(err, cncerr.ErrStateRejected) {
		t.Errorf("LoadProgram while running: got %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitIdle(t, c)
	st := c.Status()
	if st.State != StateStopped || st.Run.Result != ResultStopped {
		t.Fatalf("state = %s result %s", st.State, st.Run.Result)
	}
	if err := c.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := c.SetMode(ModeMDI); err != nil {
		t.Errorf("SetMode after reset: %v", err)
	}
}

func TestMDI(t *testing.T) {
	c, _, rec := newTestController(t, true, nil)
	if err := c.SetMode(ModeMDI); err != nil {
		t.Fatal(err)
	}
	if err := c.ExecuteMDI("   "); !cncerr.Is(err, cncerr.ErrInvalidArgument) {
		t.Errorf("empty block: got %v", err)
	}
	if err := c.ExecuteMDI("G1 X3 Y4 F600"); err != nil {
		t.Fatalf("ExecuteMDI: %v", err)
	}
	waitIdle(t, c)

	st := c.Status()
	if st.State != StateIdle {
		t.Fatalf("state = %s", st.State)
	}
	if st.Position[motion.X] != 3 || st.Position[motion.Y] != 4 {
		t.Errorf("position = %v", st.Position)
	}
	if st.Feed != 600 {
		t.Errorf("modal feed = %v, want 600", st.Feed)
	}
	if len(rec.moves()) != 1 {
		t.Errorf("moves = %d", len(rec.moves()))
	}
}

func TestJog(t *testing.T) {
	c, _, rec := newTestController(t, true, nil)
	if err := c.SetMode(ModeManual); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		axis     string
		distance float64
		feed     float64
		code     cncerr.ErrorCode
	}{
		{"Q", 1, 100, cncerr.ErrInvalidArgument},
		{"X", 1, 0, cncerr.ErrInvalidArgument},
		{"X", 0, 100, cncerr.ErrInvalidArgument},
		{"Z", 10, 100, cncerr.ErrMotionLimit},
	}
	for _, tt := range tests {
		if err := c.Jog(tt.axis, tt.distance, tt.feed); !cncerr.Is(err, tt.code) {
			t.Errorf("Jog(%s, %v, %v) = %v, want %s", tt.axis, tt.distance, tt.feed, err, tt.code)
		}
	}

	if err := c.Jog("x", 5, 600); err != nil {
		t.Fatalf("Jog: %v", err)
	}
	waitIdle(t, c)
	if x := c.Status().Position[motion.X]; x != 5 {
		t.Errorf("X = %v, want 5", x)
	}
	moves := rec.moves()
	if len(moves) != 1 || !moves[0].Command.ExactStop {
		t.Fatalf("jog moves = %+v", moves)
	}
	if got := c.Interpreter().Position()[motion.X]; got != 5 {
		t.Errorf("interpreter X = %v, want 5", got)
	}
}

func TestHome(t *testing.T) {
	c, _, rec := newTestController(t, true, nil)
	if err := c.SetMode(ModeManual); err != nil {
		t.Fatal(err)
	}
	for _, j := range []struct {
		axis string
		d    float64
	}{{"X", 10}, {"Z", -20}} {
		if err := c.Jog(j.axis, j.d, 600); err != nil {
			t.Fatal(err)
		}
		waitIdle(t, c)
	}
	if err := c.SetMode(ModeReference); err != nil {
		t.Fatal(err)
	}
	if err := c.Home(); err != nil {
		t.Fatalf("Home: %v", err)
	}
	waitIdle(t, c)

	st := c.Status()
	if !st.Homed || st.Position != (motion.Position{}) {
		t.Fatalf("homed %v at %v", st.Homed, st.Position)
	}
	moves := rec.moves()
	if len(moves) != 4 {
		t.Fatalf("moves = %d, want 4", len(moves))
	}
	up := moves[2].Command.Target
	if up[motion.Z] != 0 || up[motion.X] != 10 {
		t.Errorf("first homing move to %v, want Z0 at X10", up)
	}
}

func TestEmergencyAndReset(t *testing.T) {
	c, mon, _ := newTestController(t, true, nil)
	c.EmergencyStop("")
	st := c.Status()
	if st.State != StateEmergency || st.Emergency == "" {
		t.Fatalf("state %s reason %q", st.State, st.Emergency)
	}
	if !mon.InEmergency() {
		t.Error("safety latch not set")
	}
	if err := c.SetMode(ModeMDI); err != nil {
		t.Errorf("SetMode in emergency: %v", err)
	}
	if err := c.ExecuteMDI("G0 X1"); !cncerr.Is(err, cncerr.ErrStateRejected) {
		t.Errorf("MDI in emergency: got %v", err)
	}

	mon.Update(safety.Status{Safe: false, Reasons: []string{"door open"}})
	if err := c.Reset(); !cncerr.Is(err, cncerr.ErrSafetyRejected) {
		t.Fatalf("Reset while unsafe: got %v", err)
	}
	mon.Update(safety.Status{Safe: true})
	if err := c.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	st = c.Status()
	if st.State != StateIdle || st.Emergency != "" || mon.InEmergency() {
		t.Errorf("after reset: %s %q latch %v", st.State, st.Emergency, mon.InEmergency())
	}
}

func TestSafetyEmergencyStopsRun(t *testing.T) {
	c, mon, rec := newTestController(t, true, nil)
	rec.hold = make(chan struct{})
	runProgram(t, c, "G1 X5 F300\nG1 X10")
	waitFor(t, "first dispatch", func() bool { return rec.count() > 0 })

	mon.Emergency("light curtain")
	waitIdle(t, c)
	st := c.Status()
	if st.State != StateEmergency || st.Emergency != "light curtain" {
		t.Fatalf("state %s reason %q", st.State, st.Emergency)
	}
	if st.Run.Result != ResultEmergency {
		t.Errorf("result = %s", st.Run.Result)
	}
	if n := rec.count(); n != 1 {
		t.Errorf("dispatched %d, want 1", n)
	}
}

func TestOverridesClamp(t *testing.T) {
	c, _, _ := newTestController(t, true, nil)
	tests := []struct {
		name string
		set  func(float64) (float64, error)
		in   float64
		want float64
	}{
		{"feed high", c.SetFeedOverride, 200, 150},
		{"feed negative", c.SetFeedOverride, -5, 0},
		{"feed in range", c.SetFeedOverride, 80, 80},
		{"spindle low", c.SetSpindleOverride, 10, 50},
		{"spindle high", c.SetSpindleOverride, 300, 150},
		{"rapid low", c.SetRapidOverride, 0, 25},
		{"rapid high", c.SetRapidOverride, 200, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.set(tt.in)
			if err != nil || got != tt.want {
				t.Errorf("got %v, %v; want %v", got, err, tt.want)
			}
		})
	}
	if _, err := c.SetFeedOverride(math.NaN()); !cncerr.Is(err, cncerr.ErrInvalidArgument) {
		t.Errorf("NaN override: got %v", err)
	}
	if ov := c.Status().Overrides; ov.Feed != 80 || ov.Spindle != 150 || ov.Rapid != 100 {
		t.Errorf("overrides = %+v", ov)
	}
}

func TestOverridesScaleCruise(t *testing.T) {
	c, _, rec := newTestController(t, true, nil)
	if _, err := c.SetFeedOverride(50); err != nil {
		t.Fatal(err)
	}
	if _, err := c.SetRapidOverride(50); err != nil {
		t.Fatal(err)
	}
	runProgram(t, c, "G1 X10 F600\nG0 X20")
	waitIdle(t, c)

	moves := rec.moves()
	if len(moves) != 2 {
		t.Fatalf("moves = %d", len(moves))
	}
	if got := moves[0].Cruise; math.Abs(got-5) > 1e-9 {
		t.Errorf("feed cruise = %v, want 5", got)
	}
	wantRapid := c.Planner().Config().MaxRapid / 60 / 2
	if got := moves[1].Cruise; math.Abs(got-wantRapid) > 1e-9 {
		t.Errorf("rapid cruise = %v, want %v", got, wantRapid)
	}
}

func TestSimulationDoesNotDispatch(t *testing.T) {
	c, _, rec := newTestController(t, false, nil)
	if err := c.SetMode(ModeSimulation); err != nil {
		t.Fatal(err)
	}
	runProgram(t, c, "G1 X5 F300\nG0 Y7\nM30")
	waitIdle(t, c)

	st := c.Status()
	if st.State != StateIdle {
		t.Fatalf("state = %s", st.State)
	}
	if n := rec.count(); n != 0 {
		t.Errorf("dispatcher called %d times in simulation", n)
	}
	if st.Position[motion.X] != 5 || st.Position[motion.Y] != 7 {
		t.Errorf("position = %v", st.Position)
	}
}

func TestSingleStepAndProgramStop(t *testing.T) {
	tests := []struct {
		name string
		mode OperatingMode
		text string
	}{
		{"single step", ModeSingleStep, "G1 X1 F600\nG1 X2"},
		{"M0", ModeAuto, "G1 X1 F600\nM0\nG1 X2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, rec := newTestController(t, true, nil)
			if err := c.SetMode(tt.mode); err != nil {
				t.Fatal(err)
			}
			runProgram(t, c, tt.text)
			waitState(t, c, StatePaused)
			if n := len(rec.moves()); n != 1 {
				t.Fatalf("moves before resume = %d, want 1", n)
			}
			if err := c.Resume(); err != nil {
				t.Fatalf("Resume: %v", err)
			}
			waitIdle(t, c)
			if n := len(rec.moves()); n != 2 {
				t.Errorf("moves after resume = %d, want 2", n)
			}
			if st := c.Status(); st.State != StateIdle {
				t.Errorf("state = %s", st.State)
			}
		})
	}
}

func TestLoadProgramParseErrors(t *testing.T) {
	c, _, _ := newTestController(t, true, nil)
	err := c.LoadProgram("bad.nc", "N10 GOTO 99")
	if !cncerr.Is(err, cncerr.ErrUnknownLabel) {
		t.Fatalf("got %v, want UNKNOWN_LABEL", err)
	}
	st := c.Status()
	if len(st.Errors) == 0 || st.Program != "" {
		t.Errorf("errors %d program %q", len(st.Errors), st.Program)
	}
}
