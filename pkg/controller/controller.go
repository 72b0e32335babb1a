// Machine controller
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package controller owns the machine state and operating mode, runs the
// interpret, plan and dispatch pipeline on its own goroutines and gates
// every command on the field-layer safety status before dispatch.
//
// The pipeline is two goroutines per job: a producer that steps the
// interpreter and pushes planned segments into the look-ahead buffer, and
// a consumer that pops them, checks safety and hands them to the
// Dispatcher. Status readers see an atomically published snapshot and
// never block either side.
package controller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"modax-cnc/pkg/config"
	"modax-cnc/pkg/coords"
	cncerr "modax-cnc/pkg/errors"
	"modax-cnc/pkg/gcode"
	"modax-cnc/pkg/interp"
	"modax-cnc/pkg/log"
	"modax-cnc/pkg/metrics"
	"modax-cnc/pkg/motion"
	"modax-cnc/pkg/planner"
	"modax-cnc/pkg/safety"
	"modax-cnc/pkg/tools"
)

// Dispatcher receives gated segments in program order. Non-motion
// commands arrive as zero-length segments. Dispatch must return promptly
// once ctx is done.
type Dispatcher interface {
	Dispatch(ctx context.Context, seg *planner.Segment) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, seg *planner.Segment) error

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, seg *planner.Segment) error { return f(ctx, seg) }

// Safety is the source of the field-layer safety status.
type Safety interface {
	Current() safety.Status
	Emergency(reason string)
	OnEmergency(fn func(reason string))
	Reset() error
}

// Config holds the controller settings.
type Config struct {
	Machine     *config.MachineConfig
	HistorySize int
}

// Deps are the collaborators of a Controller. Dispatcher and Safety are
// required; the rest default to fresh instances.
type Deps struct {
	Dispatcher Dispatcher
	Safety     Safety
	Coords     *coords.Manager
	Tools      *tools.Manager
	Metrics    *metrics.Machine
}

// Overrides are percentages applied to programmed rates.
type Overrides struct {
	Feed    float64 `json:"feed"`    // 0-150, 0 holds feed moves
	Spindle float64 `json:"spindle"` // 50-150
	Rapid   float64 `json:"rapid"`   // 25-100
}

// Status is a point-in-time view of the machine.
type Status struct {
	State        MachineState    `json:"state"`
	Mode         OperatingMode   `json:"mode"`
	Position     motion.Position `json:"position"`
	WorkPosition motion.Position `json:"work_position"`
	ActiveTool   int             `json:"active_tool"`
	WCS          string          `json:"wcs"`
	Feed         float64         `json:"feed"`
	SpindleSpeed float64         `json:"spindle_speed"`
	Program      string          `json:"program,omitempty"`
	Line         int             `json:"line"`
	Homed        bool            `json:"homed"`
	Lookahead    int             `json:"lookahead"`
	Overrides    Overrides       `json:"overrides"`
	Safety       safety.Status   `json:"safety"`
	Emergency    string          `json:"emergency_reason,omitempty"`
	LastError    *Event          `json:"last_error,omitempty"`
	Errors       []Event         `json:"errors"`
	Warnings     []Event         `json:"warnings"`
	Run          *RunStats       `json:"run,omitempty"`
}

// Controller is the top-level machine orchestrator. All methods are safe
// for concurrent use.
type Controller struct {
	machine    *config.MachineConfig
	planner    *planner.Planner
	buffer     *planner.Buffer
	interp     *interp.Interpreter
	coords     *coords.Manager
	tools      *tools.Manager
	dispatcher Dispatcher
	safety     Safety
	metrics    *metrics.Machine
	logger     *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan func()
	wg     sync.WaitGroup

	// pushed is only touched by the worker
	pushed   int64
	consumed atomic.Int64
	drained  chan struct{}

	mu        sync.Mutex
	changed   chan struct{}
	state     MachineState
	mode      OperatingMode
	program   *gcode.Program
	runCancel context.CancelFunc
	run       *RunStats
	overrides Overrides
	errors    ring
	warnings  ring
	lastErr   *Event
	reason    string
	homed     bool
	closed    bool
	toolCond  map[int]tools.Condition

	pos       motion.Position
	workPos   motion.Position
	modal     interp.ModalState
	line      int
	lookahead int

	snap atomic.Pointer[Status]
}

// New creates a controller in IDLE, mode AUTO, and starts its worker.
func New(cfg Config, deps Deps) (*Controller, error) {
	if deps.Dispatcher == nil {
		return nil, cncerr.New(cncerr.ErrInvalidArgument, "controller needs a dispatcher")
	}
	if deps.Safety == nil {
		return nil, cncerr.New(cncerr.ErrInvalidArgument, "controller needs a safety source")
	}
	m := cfg.Machine
	if m == nil {
		m = config.DefaultMachine()
	}
	pcfg, err := planner.FromMachine(m)
	if err != nil {
		return nil, err
	}
	pl, err := planner.New(pcfg)
	if err != nil {
		return nil, err
	}
	if deps.Coords == nil {
		deps.Coords = coords.New()
	}
	if deps.Tools == nil {
		deps.Tools = tools.NewManager(m.Magazine.Slots)
	}
	size := cfg.HistorySize
	if size <= 0 {
		size = DefaultHistorySize
	}

	c := &Controller{
		machine:    m,
		planner:    pl,
		buffer:     planner.NewBuffer(pl),
		coords:     deps.Coords,
		tools:      deps.Tools,
		dispatcher: deps.Dispatcher,
		safety:     deps.Safety,
		metrics:    deps.Metrics,
		logger:     log.GetLogger("controller"),
		jobs:       make(chan func(), 1),
		drained:    make(chan struct{}, 1),
		changed:    make(chan struct{}),
		mode:       ModeAuto,
		overrides:  Overrides{Feed: 100, Spindle: 100, Rapid: 100},
		errors:     ring{size: size},
		warnings:   ring{size: size},
		toolCond:   make(map[int]tools.Condition),
	}

	opts := interp.OptionsFromMachine(m)
	opts.Coords = c.coords
	opts.Tools = c.tools
	opts.Sink = interp.SinkFunc(c.emit)
	in, err := interp.New(opts)
	if err != nil {
		return nil, err
	}
	c.interp = in
	c.modal = in.Modal()

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.safety.OnEmergency(func(reason string) { c.enterEmergency(reason, "safety") })

	c.mu.Lock()
	c.metrics.SetState(c.state.String(), StateNames())
	c.metrics.SetMode(c.mode.String(), ModeNames())
	c.publishLocked()
	c.mu.Unlock()

	c.wg.Add(1)
	go c.worker()
	c.logger.WithFields(log.Fields{"machine": m.Name, "lookahead": pcfg.Lookahead}).Info("controller ready")
	return c, nil
}

// Close stops any running job and the worker.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.runCancel != nil {
		c.runCancel()
		if c.state.Active() {
			c.setStateLocked(StateStopped, "controller closed")
		}
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.logger.Info("controller closed")
	return nil
}

// Status returns the latest snapshot with the current safety status.
func (c *Controller) Status() Status {
	s := *c.snap.Load()
	s.Safety = c.safety.Current()
	if s.Run != nil {
		v := s.Run.view(time.Now())
		s.Run = &v
	}
	return s
}

// Interpreter exposes the interpreter for inspection between jobs. It must
// not be driven directly while the controller is in use.
func (c *Controller) Interpreter() *interp.Interpreter { return c.interp }

// Planner returns the motion planner.
func (c *Controller) Planner() *planner.Planner { return c.planner }

// WaitIdle blocks until no job owns the pipeline or ctx is done.
func (c *Controller) WaitIdle(ctx context.Context) error {
	return c.waitUntil(ctx, func() bool { return c.runCancel == nil })
}

func (c *Controller) worker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case job := <-c.jobs:
			job()
		}
	}
}

// waitUntil blocks until cond, evaluated under c.mu, holds.
func (c *Controller) waitUntil(ctx context.Context, cond func() bool) error {
	for {
		c.mu.Lock()
		if cond() {
			c.mu.Unlock()
			return nil
		}
		ch := c.changed
		c.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// broadcastLocked wakes every waitUntil.
func (c *Controller) broadcastLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Controller) setStateLocked(s MachineState, reason string) {
	if c.state == s {
		return
	}
	prev := c.state
	c.state = s
	c.logger.WithFields(log.Fields{"from": prev.String(), "to": s.String(), "reason": reason}).Info("machine state changed")
	c.metrics.SetState(s.String(), StateNames())
	c.broadcastLocked()
	c.publishLocked()
}

func (c *Controller) pauseLocked(reason string) {
	if c.run != nil {
		c.run.notePause(time.Now())
	}
	c.setStateLocked(StatePaused, reason)
}

// failLocked records a runtime fault and moves to ERROR.
func (c *Controller) failLocked(err error) {
	ev := eventFrom(err, c.runID())
	c.errors.add(ev)
	c.lastErr = &ev
	c.logger.WithError(err).WithFields(log.Fields{"code": ev.Code, "line": ev.Line}).Error("runtime fault")
	c.metrics.RecordError(ev.Code)
	c.setStateLocked(StateError, ev.Code)
}

func (c *Controller) warnLocked(err error) {
	ev := eventFrom(err, c.runID())
	c.warnings.add(ev)
	c.metrics.RecordWarning(ev.Code)
}

func (c *Controller) runID() string {
	if c.run == nil {
		return ""
	}
	return c.run.ID
}

// publishLocked replaces the status snapshot.
func (c *Controller) publishLocked() {
	s := &Status{
		State:        c.state,
		Mode:         c.mode,
		Position:     c.pos,
		WorkPosition: c.workPos,
		ActiveTool:   c.modal.ActiveTool,
		WCS:          c.modal.WCS,
		Feed:         c.modal.Feed,
		SpindleSpeed: c.modal.SpindleSpeed,
		Line:         c.line,
		Homed:        c.homed,
		Lookahead:    c.lookahead,
		Overrides:    c.overrides,
		Emergency:    c.reason,
		Errors:       c.errors.snapshot(),
		Warnings:     c.warnings.snapshot(),
	}
	if c.program != nil {
		s.Program = c.program.Name
	}
	if c.lastErr != nil {
		ev := *c.lastErr
		s.LastError = &ev
	}
	if c.run != nil {
		r := *c.run
		s.Run = &r
	}
	c.snap.Store(s)
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
