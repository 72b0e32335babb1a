// Part program interpreter
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package interp executes parsed part programs one block at a time. It owns
// the modal state, the macro variables and the call stack, and turns every
// block into motion.Commands handed to a Sink.
package interp

import (
	"context"

	"modax-cnc/pkg/config"
	"modax-cnc/pkg/coords"
	"modax-cnc/pkg/cycles"
	cncerr "modax-cnc/pkg/errors"
	"modax-cnc/pkg/gcode"
	"modax-cnc/pkg/log"
	"modax-cnc/pkg/motion"
	"modax-cnc/pkg/tools"
)

const (
	DefaultMaxSteps     = 100000
	DefaultMaxCallDepth = 16
)

// Sink receives the interpreted command stream in program order.
type Sink interface {
	Emit(ctx context.Context, cmd motion.Command) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, cmd motion.Command) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, cmd motion.Command) error { return f(ctx, cmd) }

// Options configures an Interpreter.
type Options struct {
	MaxSteps     int
	MaxCallDepth int
	// MaxCyclePasses caps the passes of one canned cycle and the L repeat.
	MaxCyclePasses int
	MaxSpindle     float64 // rpm, 0 for no clamp
	OptionalStop bool    // honour M1
	BlockDelete  bool    // skip blocks starting with '/'
	ArcTolerance float64

	Reference       motion.Position // G28 machine position
	SecondReference motion.Position // G30 machine position

	Coords *coords.Manager
	Tools  *tools.Manager
	Sink   Sink
}

// OptionsFromMachine fills the limits of Options from a machine config.
func OptionsFromMachine(m *config.MachineConfig) Options {
	return Options{
		MaxSteps:     m.Interpreter.MaxSteps,
		MaxCallDepth:   m.Interpreter.MaxCallDepth,
		MaxCyclePasses: m.Interpreter.MaxCyclePasses,
		MaxSpindle:     m.MaxSpindle,
		OptionalStop:   m.Interpreter.OptionalStop,
		ArcTolerance:   m.Planner.ArcTolerance,
	}
}

// Interpreter runs one program at a time. It is driven by a single
// goroutine and is not safe for concurrent use.
type Interpreter struct {
	opts   Options
	coords *coords.Manager
	tools  *tools.Manager
	sink   Sink
	logger *log.Logger

	prog  *gcode.Program
	pc    int
	steps int
	done  bool

	modal ModalState
	vars  *VariableTable
	stack *CallStack
	cycle cycleParams
	macro *modalMacro

	pos          motion.Position // machine position at the end of the last command
	intermediate motion.Position // G28/G30 intermediate point, machine

	// per-block state
	line      int
	jump      int
	exactStop bool
}

// New creates an interpreter. Coords and Tools default to fresh managers.
func New(opts Options) (*Interpreter, error) {
	if opts.Sink == nil {
		return nil, cncerr.New(cncerr.ErrInvalidArgument, "interpreter needs a command sink")
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.MaxCallDepth <= 0 {
		opts.MaxCallDepth = DefaultMaxCallDepth
	}
	if opts.MaxCyclePasses <= 0 {
		opts.MaxCyclePasses = cycles.DefaultMaxPasses
	}
	if opts.ArcTolerance <= 0 {
		opts.ArcTolerance = 0.002
	}
	if opts.Coords == nil {
		opts.Coords = coords.New()
	}
	if opts.Tools == nil {
		opts.Tools = tools.NewManager(0)
	}
	in := &Interpreter{
		opts:   opts,
		coords: opts.Coords,
		tools:  opts.Tools,
		sink:   opts.Sink,
		logger: log.GetLogger("interp"),
		vars:   NewVariableTable(),
		stack:  NewCallStack(opts.MaxCallDepth),
	}
	in.resetModal()
	return in, nil
}

func (in *Interpreter) resetModal() {
	in.modal = DefaultModal()
	in.modal.WCS = in.coords.Active()
	in.modal.ActiveTool = in.tools.ActiveNumber()
	in.modal.SelectedTool = in.tools.Selected()
	in.cycle = cycleParams{}
	in.macro = nil
}

// Load installs p as the current program and resets the per-run state:
// modal state, variables, call stack and step counter. Tools, offsets and
// the machine position carry over.
func (in *Interpreter) Load(p *gcode.Program) {
	in.prog = p
	in.pc = 0
	in.steps = 0
	in.done = false
	in.vars.Reset()
	in.stack.Reset()
	in.resetModal()
	in.logger.WithFields(log.Fields{"program": p.Name, "blocks": p.Len()}).Info("program loaded")
}

// Unload drops the current program.
func (in *Interpreter) Unload() {
	in.prog = nil
	in.pc = 0
	in.done = false
	in.stack.Reset()
}

// Program returns the loaded program, or nil.
func (in *Interpreter) Program() *gcode.Program { return in.prog }

// Step executes the block at the program counter. It reports done once
// the program has ended. On error the program counter stays on the failed
// block.
func (in *Interpreter) Step(ctx context.Context) (bool, error) {
	if in.prog == nil {
		return false, cncerr.New(cncerr.ErrStateRejected, "no program loaded")
	}
	if in.done || in.pc >= in.prog.Len() {
		in.done = true
		return true, nil
	}
	b := in.prog.Blocks[in.pc]
	if in.steps >= in.opts.MaxSteps {
		return false, cncerr.InfiniteLoopError(in.steps, b.Line)
	}
	in.steps++

	in.jump = in.pc + 1
	if err := in.execute(ctx, b); err != nil {
		return false, err
	}
	in.pc = in.jump
	if in.pc >= in.prog.Len() {
		in.done = true
	}
	return in.done, nil
}

// Run steps until the program ends, an error occurs or ctx is done.
func (in *Interpreter) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := in.Step(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// ExecuteBlock runs a single block outside any program (MDI). Control
// flow and subprogram calls need a loaded program and are rejected.
func (in *Interpreter) ExecuteBlock(ctx context.Context, b *gcode.Block) error {
	if b.Flow != nil || b.HasCode(gcode.M(98)) || b.HasCode(gcode.M(99)) || b.HasCode(gcode.G(65)) || b.HasCode(gcode.G(66)) {
		return cncerr.New(cncerr.ErrInvalidArgument, "control flow and subprogram calls are not available in MDI").SetLine(b.Line)
	}
	if err := b.CheckModal(); err != nil {
		return err
	}
	in.jump = -1
	return in.execute(ctx, b)
}

// Done reports whether the loaded program has ended.
func (in *Interpreter) Done() bool { return in.done }

// PC returns the index of the next block.
func (in *Interpreter) PC() int { return in.pc }

// CurrentLine returns the source line of the next block, or 0.
func (in *Interpreter) CurrentLine() int {
	if in.prog == nil || in.pc >= in.prog.Len() {
		return 0
	}
	return in.prog.Blocks[in.pc].Line
}

// Modal returns a copy of the modal state.
func (in *Interpreter) Modal() ModalState { return in.modal }

// Variables returns the variable table.
func (in *Interpreter) Variables() *VariableTable { return in.vars }

// Depth returns the call stack depth.
func (in *Interpreter) Depth() int { return in.stack.Depth() }

// Steps returns the number of blocks executed since Load.
func (in *Interpreter) Steps() int { return in.steps }

// Position returns the commanded machine position.
func (in *Interpreter) Position() motion.Position { return in.pos }

// SetPosition overrides the commanded machine position, after homing or
// jogging.
func (in *Interpreter) SetPosition(p motion.Position) { in.pos = p }

// WorkPosition returns the commanded position in the active work system.
func (in *Interpreter) WorkPosition() motion.Position {
	return in.toWork(in.pos)
}

// ToWork converts a machine position to the active work system with the
// current length compensation.
func (in *Interpreter) ToWork(mp motion.Position) motion.Position {
	return in.toWork(mp)
}

func (in *Interpreter) lengthVector() motion.Position {
	var v motion.Position
	switch in.modal.LengthComp {
	case LengthPositive:
		v[motion.Z] = in.modal.LengthOffset
	case LengthNegative:
		v[motion.Z] = -in.modal.LengthOffset
	}
	return v
}

func (in *Interpreter) toMachine(work motion.Position) motion.Position {
	return in.coords.ToMachine(work).Add(in.lengthVector())
}

func (in *Interpreter) toWork(mp motion.Position) motion.Position {
	return in.coords.ToWork(mp.Sub(in.lengthVector()))
}

// emit hands cmd to the sink and advances the position once it has been
// accepted.
func (in *Interpreter) emit(ctx context.Context, cmd motion.Command) error {
	cmd.Line = in.line
	if cmd.Kind.IsMotion() {
		cmd.Start = in.pos
	} else {
		cmd.Start, cmd.Target = in.pos, in.pos
		cmd.WorkTarget = in.toWork(in.pos)
	}
	if err := in.sink.Emit(ctx, cmd); err != nil {
		return err
	}
	if cmd.Kind.IsMotion() {
		in.pos = cmd.Target
	}
	return nil
}
