// Operator commands
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package controller

import (
	"context"
	"math"
	"strings"
	"time"

	"modax-cnc/pkg/config"
	cncerr "modax-cnc/pkg/errors"
	"modax-cnc/pkg/gcode"
	"modax-cnc/pkg/log"
	"modax-cnc/pkg/motion"
)

const (
	// MaxFeedOverride and friends bound the override percentages.
	MaxFeedOverride    = 150
	MinSpindleOverride = 50
	MaxSpindleOverride = 150
	MinRapidOverride   = 25
	MaxRapidOverride   = 100
)

// ready reports whether a new job may start.
func (s MachineState) ready() bool {
	return s == StateIdle || s == StateStopped
}

func (c *Controller) rejectLocked(op string) error {
	return cncerr.StateRejectedError(op, c.state.String())
}

// LoadProgram parses text and installs it as the program run by Start.
// Parse errors are returned as a list and recorded in the error history;
// the previous program stays loaded.
func (c *Controller) LoadProgram(name, text string) error {
	c.mu.Lock()
	if c.state.Active() || c.state == StateEmergency {
		defer c.mu.Unlock()
		return c.rejectLocked("load program")
	}
	c.mu.Unlock()

	prog, err := gcode.ParseProgram(name, text)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if list, ok := err.(cncerr.List); ok {
			for _, e := range list {
				c.errors.add(eventFrom(e, ""))
			}
		} else {
			c.errors.add(eventFrom(err, ""))
		}
		c.metrics.RecordError(string(cncerr.CodeOf(err)))
		c.publishLocked()
		c.logger.WithError(err).WithField("program", name).Warn("program rejected")
		return err
	}
	c.program = prog
	for _, w := range prog.Warnings {
		c.warnings.add(Event{Time: time.Now(), Code: "PROGRAM", Message: w})
	}
	c.publishLocked()
	c.logger.WithFields(log.Fields{"program": name, "blocks": prog.Len()}).Info("program loaded")
	return nil
}

// Start runs the loaded program in the current mode.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case !c.state.ready():
		return c.rejectLocked("start")
	case !c.mode.runsPrograms():
		return cncerr.StateRejectedError("start", c.mode.String())
	case c.program == nil:
		return cncerr.New(cncerr.ErrStateRejected, "no program loaded")
	}
	prog := c.program
	return c.beginLocked(jobProgram, prog.Name, func(ctx context.Context) error {
		return c.runProgram(ctx, prog)
	})
}

func (c *Controller) runProgram(ctx context.Context, prog *gcode.Program) error {
	c.interp.Load(prog)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := c.interp.Step(ctx)
		if err != nil {
			return err
		}
		c.metrics.RecordBlock()
		c.mu.Lock()
		if c.run != nil {
			c.run.Blocks++
		}
		c.modal = c.interp.Modal()
		mode := c.mode
		c.publishLocked()
		c.mu.Unlock()
		if done {
			return nil
		}
		if mode == ModeSingleStep {
			if err := c.singleStep(ctx); err != nil {
				return err
			}
		}
	}
}

// singleStep waits for the block to finish, pauses and waits for Resume.
func (c *Controller) singleStep(ctx context.Context) error {
	c.buffer.Sync()
	if err := c.waitDrained(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	if c.state == StateRunning {
		c.pauseLocked("single step")
	}
	c.mu.Unlock()
	if err := c.waitUntil(ctx, func() bool { return c.state != StatePaused }); err != nil {
		return err
	}
	return ctx.Err()
}

// ExecuteMDI runs one block typed by the operator.
func (c *Controller) ExecuteMDI(text string) error {
	b, err := gcode.ParseLine(0, text)
	if err != nil {
		return err
	}
	if b.Empty() {
		return cncerr.New(cncerr.ErrInvalidArgument, "empty MDI block")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeMDI {
		return cncerr.StateRejectedError("mdi", c.mode.String())
	}
	if !c.state.ready() {
		return c.rejectLocked("mdi")
	}
	return c.beginLocked(jobMDI, "", func(ctx context.Context) error {
		if err := c.interp.ExecuteBlock(ctx, b); err != nil {
			return err
		}
		c.mu.Lock()
		c.modal = c.interp.Modal()
		c.publishLocked()
		c.mu.Unlock()
		return nil
	})
}

// axisIndex resolves an axis letter.
func axisIndex(name string) (int, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for i, n := range config.AxisNames {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// Jog moves one axis by distance at feed (mm/min) in MANUAL or HANDWHEEL
// mode.
func (c *Controller) Jog(axis string, distance, feed float64) error {
	i, ok := axisIndex(axis)
	if !ok {
		return cncerr.Newf(cncerr.ErrInvalidArgument, "unknown axis %q", axis)
	}
	if !(feed > 0) || math.IsInf(feed, 0) {
		return cncerr.Newf(cncerr.ErrInvalidArgument, "jog feed must be positive, got %v", feed)
	}
	if math.IsNaN(distance) || math.IsInf(distance, 0) || distance == 0 {
		return cncerr.Newf(cncerr.ErrInvalidArgument, "invalid jog distance %v", distance)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mode.jogs() {
		return cncerr.StateRejectedError("jog", c.mode.String())
	}
	if !c.state.ready() {
		return c.rejectLocked("jog")
	}
	target := c.pos
	target[i] += distance
	if err := c.planner.Config().CheckPosition(target); err != nil {
		return err
	}
	return c.beginLocked(jobJog, "", func(ctx context.Context) error {
		return c.moveTo(ctx, motion.KindLinear, target, feed)
	})
}

// Home drives Z to its reference first, then every axis, in REFERENCE
// mode. The machine reference is the machine-coordinate origin.
func (c *Controller) Home() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeReference {
		return cncerr.StateRejectedError("home", c.mode.String())
	}
	if !c.state.ready() {
		return c.rejectLocked("home")
	}
	c.homed = false
	return c.beginLocked(jobHome, "", func(ctx context.Context) error {
		c.mu.Lock()
		up := c.pos
		c.mu.Unlock()
		up[motion.Z] = 0
		if err := c.moveTo(ctx, motion.KindRapid, up, 0); err != nil {
			return err
		}
		var ref motion.Position
		if err := c.moveTo(ctx, motion.KindRapid, ref, 0); err != nil {
			return err
		}
		c.buffer.Sync()
		if err := c.waitDrained(ctx); err != nil {
			return err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.pos == ref {
			c.homed = true
			c.logger.Info("machine homed")
		}
		c.publishLocked()
		return nil
	})
}

// moveTo emits a single exact-stop move from the interpreter position.
func (c *Controller) moveTo(ctx context.Context, kind motion.Kind, target motion.Position, feed float64) error {
	cmd := motion.Command{
		Kind:       kind,
		Start:      c.interp.Position(),
		Target:     target,
		WorkTarget: c.interp.ToWork(target),
		Feed:       feed,
		ExactStop:  true,
	}
	if cmd.Start == target {
		return nil
	}
	if err := c.emit(ctx, cmd); err != nil {
		return err
	}
	c.interp.SetPosition(target)
	return nil
}

// Pause holds the run before the next command.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return c.rejectLocked("pause")
	}
	c.pauseLocked("operator")
	return nil
}

// Resume continues a paused run. It is refused while the safety status
// is unsafe.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePaused {
		return c.rejectLocked("resume")
	}
	if st := c.safety.Current(); !st.Safe {
		return cncerr.SafetyRejectedError(st.Reasons)
	}
	if c.run != nil {
		c.run.noteResume(time.Now())
	}
	c.setStateLocked(StateRunning, "operator")
	return nil
}

// Stop aborts the run and discards queued segments.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Active() {
		return c.rejectLocked("stop")
	}
	c.runCancel()
	c.setStateLocked(StateStopped, "operator")
	return nil
}

// Reset returns to IDLE from STOPPED, ERROR or EMERGENCY. Leaving
// EMERGENCY needs a safe status and a finished job.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state.Active():
		return c.rejectLocked("reset")
	case c.runCancel != nil:
		return cncerr.New(cncerr.ErrStateRejected, "job still stopping")
	}
	if c.state == StateEmergency {
		if err := c.safety.Reset(); err != nil {
			return err
		}
		c.reason = ""
	}
	c.lastErr = nil
	c.setStateLocked(StateIdle, "reset")
	c.publishLocked()
	return nil
}

// EmergencyStop halts everything and latches EMERGENCY until Reset.
func (c *Controller) EmergencyStop(reason string) {
	if reason == "" {
		reason = "operator emergency stop"
	}
	c.enterEmergency(reason, "operator")
	c.safety.Emergency(reason)
}

func (c *Controller) enterEmergency(reason, source string) {
	c.mu.Lock()
	if c.state == StateEmergency {
		c.mu.Unlock()
		return
	}
	if c.runCancel != nil {
		c.runCancel()
	}
	c.reason = reason
	ev := Event{Time: time.Now(), Code: "EMERGENCY", Message: reason, RunID: c.runID()}
	c.errors.add(ev)
	c.metrics.RecordEmergency(source)
	c.logger.WithFields(log.Fields{"reason": reason, "source": source}).Error("emergency stop")
	c.setStateLocked(StateEmergency, source)
	c.mu.Unlock()
	c.buffer.Flush()
}

// SetMode switches the operating mode. It is refused while a job runs.
func (c *Controller) SetMode(m OperatingMode) error {
	if m.String() == "UNKNOWN" {
		return cncerr.Newf(cncerr.ErrInvalidArgument, "unknown operating mode %d", int(m))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Active() {
		return c.rejectLocked("set mode")
	}
	if c.mode == m {
		return nil
	}
	c.logger.WithFields(log.Fields{"from": c.mode.String(), "to": m.String()}).Info("operating mode changed")
	c.mode = m
	c.metrics.SetMode(m.String(), ModeNames())
	c.broadcastLocked()
	c.publishLocked()
	return nil
}

func clampOverride(pct, lo, hi float64) (float64, error) {
	if math.IsNaN(pct) {
		return 0, cncerr.New(cncerr.ErrInvalidArgument, "override is not a number")
	}
	return math.Max(lo, math.Min(hi, pct)), nil
}

// SetFeedOverride sets the feed override, clamped to 0-150 %, and returns
// the applied value. Zero holds feed moves at the next segment.
func (c *Controller) SetFeedOverride(pct float64) (float64, error) {
	return c.setOverride("feed", pct, 0, MaxFeedOverride, func(o *Overrides) *float64 { return &o.Feed })
}

// SetSpindleOverride sets the spindle override, clamped to 50-150 %.
func (c *Controller) SetSpindleOverride(pct float64) (float64, error) {
	return c.setOverride("spindle", pct, MinSpindleOverride, MaxSpindleOverride, func(o *Overrides) *float64 { return &o.Spindle })
}

// SetRapidOverride sets the rapid override, clamped to 25-100 %.
func (c *Controller) SetRapidOverride(pct float64) (float64, error) {
	return c.setOverride("rapid", pct, MinRapidOverride, MaxRapidOverride, func(o *Overrides) *float64 { return &o.Rapid })
}

func (c *Controller) setOverride(name string, pct, lo, hi float64, field func(*Overrides) *float64) (float64, error) {
	v, err := clampOverride(pct, lo, hi)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	*field(&c.overrides) = v
	c.logger.WithFields(log.Fields{"override": name, "requested": pct, "applied": v}).Info("override changed")
	c.broadcastLocked()
	c.publishLocked()
	return v, nil
}
