// Call stack shared by GOSUB and subprogram calls
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package interp

import (
	cncerr "modax-cnc/pkg/errors"
)

// CallKind records how a frame was entered.
type CallKind int

const (
	CallGosub CallKind = iota // GOSUB, left by RETURN or M99
	CallSub                   // M98, left by M99 or RETURN
	CallMacro                 // G65/G66, left by M99 or RETURN
)

func (k CallKind) String() string {
	switch k {
	case CallSub:
		return "M98"
	case CallMacro:
		return "G65"
	default:
		return "GOSUB"
	}
}

// Frame is one active call.
type Frame struct {
	Kind   CallKind
	Return int // block index to resume at
	Line   int // source line of the call
	Entry  int // block index of the called body, for repeats
	Repeat int // remaining executions after the current one
	Locals Locals
}

// CallStack is the bounded LIFO of active calls.
type CallStack struct {
	frames []Frame
	max    int
}

// NewCallStack returns a stack holding at most max frames.
func NewCallStack(max int) *CallStack {
	return &CallStack{max: max}
}

// Push adds f. When the stack is full it fails with STACK_OVERFLOW and is
// left unchanged.
func (s *CallStack) Push(f Frame) error {
	if len(s.frames) >= s.max {
		return cncerr.StackOverflowError(len(s.frames)+1, s.max, f.Line)
	}
	s.frames = append(s.frames, f)
	return nil
}

// Pop removes the innermost frame.
func (s *CallStack) Pop(token string, line int) (Frame, error) {
	if len(s.frames) == 0 {
		return Frame{}, cncerr.StackUnderflowError(token, line)
	}
	f := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return f, nil
}

// Top returns the innermost frame for in-place updates.
func (s *CallStack) Top() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return &s.frames[len(s.frames)-1]
}

// Depth returns the number of active frames.
func (s *CallStack) Depth() int { return len(s.frames) }

// Max returns the depth limit.
func (s *CallStack) Max() int { return s.max }

// Reset drops every frame.
func (s *CallStack) Reset() { s.frames = s.frames[:0] }
