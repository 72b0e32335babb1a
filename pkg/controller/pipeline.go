// Interpret, plan and dispatch pipeline
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package controller

import (
	"context"
	"errors"
	"math"
	"time"

	"modax-cnc/pkg/config"
	cncerr "modax-cnc/pkg/errors"
	"modax-cnc/pkg/log"
	"modax-cnc/pkg/motion"
	"modax-cnc/pkg/planner"
	"modax-cnc/pkg/tools"

	"github.com/google/uuid"
)

const (
	jobProgram = "program"
	jobMDI     = "mdi"
	jobJog     = "jog"
	jobHome    = "home"
)

var axisLetters = joinAxes(config.AxisNames)

func joinAxes(names []string) string {
	s := ""
	for _, n := range names {
		s += n
	}
	return s
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// beginLocked queues a job that runs produce on the worker goroutine and
// moves to RUNNING.
func (c *Controller) beginLocked(kind, program string, produce func(ctx context.Context) error) error {
	if c.closed {
		return cncerr.StateRejectedError(kind, "CLOSED")
	}
	ctx, cancel := context.WithCancel(c.ctx)
	run := &RunStats{ID: uuid.NewString(), Kind: kind, Program: program, Started: time.Now()}
	job := func() { c.runJob(ctx, cancel, produce) }
	select {
	case c.jobs <- job:
	default:
		cancel()
		return cncerr.RuntimeError("pipeline busy")
	}
	c.runCancel = cancel
	c.run = run
	c.setStateLocked(StateRunning, kind)
	c.logger.WithFields(log.Fields{"run": run.ID, "kind": kind, "program": program}).Info("job started")
	return nil
}

// runJob drives one job. The producer runs here; the consumer runs on its
// own goroutine and cancels the job when dispatch fails.
func (c *Controller) runJob(ctx context.Context, cancel context.CancelFunc, produce func(ctx context.Context) error) {
	defer cancel()
	c.buffer.Flush()
	c.pushed = 0
	c.consumed.Store(0)
	// segments discarded by an earlier job never reached the machine
	c.mu.Lock()
	pos := c.pos
	c.mu.Unlock()
	c.interp.SetPosition(pos)

	produced := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		err := guard(func() error { return c.consume(ctx, produced) })
		if err != nil {
			cancel()
		}
		errc <- err
	}()

	perr := guard(func() error { return produce(ctx) })
	if perr == nil {
		c.buffer.Sync()
	} else {
		cancel()
	}
	close(produced)
	cerr := <-errc
	if n := c.buffer.Flush(); n > 0 {
		c.logger.WithField("segments", n).Debug("discarded queued segments")
	}

	err := perr
	if err == nil || (isCancel(err) && cerr != nil) {
		err = cerr
	}
	c.finish(err)
}

// guard runs fn and turns a panic into a runtime error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = cncerr.RecoverPanic(r)
		}
	}()
	return fn()
}

// finish settles the state once the job has drained.
func (c *Controller) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := ResultCompleted
	switch {
	case c.state == StateEmergency:
		result = ResultEmergency
	case c.state == StateStopped:
		result = ResultStopped
	case err != nil && !isCancel(err):
		result = ResultFailed
		c.failLocked(err)
	case err != nil:
		result = ResultStopped
		c.setStateLocked(StateStopped, "job cancelled")
	default:
		c.setStateLocked(StateIdle, "job finished")
	}
	if c.run != nil {
		c.run.noteFinish(result, time.Now())
		if c.run.Kind == jobProgram {
			c.metrics.RecordProgram(string(result))
		}
		c.logger.WithFields(log.Fields{
			"run":      c.run.ID,
			"result":   string(result),
			"blocks":   c.run.Blocks,
			"commands": c.run.Commands,
			"rejected": c.run.Rejected,
		}).Info("job finished")
	}
	c.runCancel = nil
	c.lookahead = 0
	c.metrics.SetLookahead(0)
	c.broadcastLocked()
	c.publishLocked()
}

// emit is the interpreter sink: it plans cmd, applies overrides and
// pushes the segment, blocking while the look-ahead buffer is full.
func (c *Controller) emit(ctx context.Context, cmd motion.Command) error {
	c.mu.Lock()
	mode, ov := c.mode, c.overrides
	c.mu.Unlock()

	if mode == ModeDryRun && cmd.Kind.IsMotion() && cmd.Kind != motion.KindRapid && cmd.Kind != motion.KindThread {
		cmd.Feed = c.machine.Planner.MaxFeed
	}
	start := time.Now()
	seg, err := c.planner.Plan(cmd)
	c.metrics.RecordPlan(time.Since(start))
	if err != nil {
		return err
	}
	switch {
	case cmd.Kind == motion.KindRapid:
		seg.Cruise *= ov.Rapid / 100
	case cmd.Kind == motion.KindThread:
		// synchronised to the spindle
	case seg.IsMotion() && ov.Feed > 0:
		seg.Cruise = math.Min(seg.Cruise*ov.Feed/100, c.planner.Config().MaxFeed/60)
	}
	if err := c.buffer.Push(ctx, seg); err != nil {
		return err
	}
	c.pushed++
	n := c.buffer.Len()
	c.metrics.SetLookahead(n)
	c.mu.Lock()
	c.lookahead = n
	c.mu.Unlock()
	return nil
}

// consume pops segments until the producer has finished and the buffer is
// empty, or the job is cancelled.
func (c *Controller) consume(ctx context.Context, produced <-chan struct{}) error {
	popCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-produced:
			stop()
		case <-popCtx.Done():
		}
	}()

	for {
		seg, err := c.buffer.Pop(popCtx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ok bool
			if seg, ok = c.buffer.TryPop(); !ok {
				return nil
			}
		}
		if err := c.dispatch(ctx, seg); err != nil {
			return err
		}
		c.consumed.Add(1)
		notify(c.drained)
	}
}

func feedMove(k motion.Kind) bool {
	return k.IsMotion() && k != motion.KindRapid && k != motion.KindThread
}

// dispatch waits out holds, re-checks safety and hands seg on.
func (c *Controller) dispatch(ctx context.Context, seg *planner.Segment) error {
	cmd := &seg.Command
	err := c.waitUntil(ctx, func() bool {
		if c.state == StatePaused {
			return false
		}
		return !(feedMove(cmd.Kind) && c.overrides.Feed == 0)
	})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	mode, spindlePct := c.mode, c.overrides.Spindle
	c.mu.Unlock()

	if mode == ModeDryRun && (cmd.Kind == motion.KindSpindle || cmd.Kind == motion.KindCoolant) {
		c.logger.WithFields(log.Fields{"line": cmd.Line, "kind": cmd.Kind.String()}).Debug("skipped in dry run")
		c.noteDispatched(seg)
		return nil
	}
	if cmd.Kind == motion.KindSpindle && cmd.SpindleSpeed > 0 {
		cmd.SpindleSpeed = math.Min(cmd.SpindleSpeed*spindlePct/100, c.machine.MaxSpindle)
	}
	if mode == ModeSimulation {
		c.noteDispatched(seg)
		return nil
	}

	st := c.safety.Current()
	c.metrics.SetSafe(st.Safe)
	if !st.Safe {
		c.reject(seg, st.Reasons)
		return context.Canceled
	}
	if err := c.dispatcher.Dispatch(ctx, seg); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, ok := cncerr.As(err); !ok {
			err = cncerr.Wrap(err, cncerr.ErrRuntime, "dispatch failed").SetLine(cmd.Line)
		}
		return err
	}
	c.noteDispatched(seg)

	if cmd.Kind == motion.KindStop {
		c.mu.Lock()
		if c.state == StateRunning {
			c.pauseLocked(cmd.Code)
		}
		c.mu.Unlock()
	}
	return nil
}

// reject discards seg after a failed safety check and stops the job.
// Later segments were planned from the end of seg, so the queue is
// dropped with it and the next job starts from the machine position.
func (c *Controller) reject(seg *planner.Segment, reasons []string) {
	cmd := seg.Command
	err := cncerr.SafetyRejectedError(reasons).SetLine(cmd.Line)
	c.logger.WithFields(log.Fields{
		"code":    string(cncerr.ErrSafetyRejected),
		"line":    cmd.Line,
		"kind":    cmd.Kind.String(),
		"reasons": reasons,
	}).Warn("command rejected by safety gate")
	c.metrics.RecordRejection(cmd.Kind.String())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnLocked(err)
	if c.run != nil {
		c.run.Rejected++
	}
	if c.runCancel != nil {
		c.runCancel()
	}
	if c.state.Active() {
		c.setStateLocked(StateStopped, "safety rejected")
	}
	if n := c.buffer.Flush(); n > 0 {
		c.logger.WithField("segments", n).Debug("discarded segments planned after the rejected one")
	}
	c.publishLocked()
}

// noteDispatched updates position, tool life and counters.
func (c *Controller) noteDispatched(seg *planner.Segment) {
	cmd := seg.Command
	var condErr error
	if feedMove(cmd.Kind) {
		if n := c.tools.ActiveNumber(); n > 0 {
			d := time.Duration(seg.Profile.Duration() * float64(time.Second))
			cond, err := c.tools.RecordCuttingTime(n, d)
			if err == nil {
				condErr = c.noteToolCondition(n, cond)
			}
		}
	}
	c.metrics.RecordDispatch(cmd.Kind.String())
	c.metrics.SetPosition(axisLetters, cmd.Target[:])

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = cmd.Target
	c.workPos = cmd.WorkTarget
	c.line = cmd.Line
	if c.run != nil {
		c.run.Commands++
	}
	if condErr != nil {
		c.warnLocked(condErr)
	}
	c.lookahead = c.buffer.Len()
	c.publishLocked()
}

// noteToolCondition returns a warning when the tool condition changed.
func (c *Controller) noteToolCondition(n int, cond tools.Condition) error {
	c.mu.Lock()
	prev, seen := c.toolCond[n]
	c.toolCond[n] = cond
	c.mu.Unlock()
	if (seen && prev == cond) || (!seen && cond == tools.ConditionOK) {
		return nil
	}
	c.logger.WithFields(log.Fields{"tool": n, "condition": cond.String()}).Warn("tool condition changed")
	return cncerr.Newf(cncerr.ErrToolUnavailable, "tool %d is %s", n, cond)
}

// waitDrained blocks until every pushed segment has been consumed.
func (c *Controller) waitDrained(ctx context.Context) error {
	for c.consumed.Load() < c.pushed {
		select {
		case <-c.drained:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
