// Unified error taxonomy for the CNC core
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Load-time errors
	ErrParse        ErrorCode = "PARSE"
	ErrUnknownLabel ErrorCode = "UNKNOWN_LABEL"

	// Interpreter errors
	ErrModalConflict  ErrorCode = "MODAL_CONFLICT"
	ErrStackOverflow  ErrorCode = "STACK_OVERFLOW"
	ErrStackUnderflow ErrorCode = "STACK_UNDERFLOW"
	ErrInfiniteLoop   ErrorCode = "INFINITE_LOOP"

	// Tool manager errors
	ErrToolNotFound         ErrorCode = "TOOL_NOT_FOUND"
	ErrMagazineSlotConflict ErrorCode = "MAGAZINE_SLOT_CONFLICT"
	ErrToolUnavailable      ErrorCode = "TOOL_UNAVAILABLE"

	// Motion errors
	ErrMotionLimit ErrorCode = "MOTION_LIMIT"

	// Controller errors
	ErrSafetyRejected ErrorCode = "SAFETY_REJECTED"
	ErrStateRejected  ErrorCode = "STATE_REJECTED"

	// Generic errors
	ErrConfig          ErrorCode = "CONFIG"
	ErrInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	ErrRuntime         ErrorCode = "RUNTIME"
)

// CNCError is the error type shared by every package of the core
type CNCError struct {
	// Code is the taxonomy entry
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Line is the 1-based source line of the offending block (0 if unknown)
	Line int

	// Token is the offending word or identifier
	Token string

	// Label is the jump target involved, if any
	Label string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *CNCError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	switch {
	case e.Line > 0 && e.Token != "":
		fmt.Fprintf(&b, " (line %d, token %q)", e.Line, e.Token)
	case e.Line > 0:
		fmt.Fprintf(&b, " (line %d)", e.Line)
	case e.Token != "":
		fmt.Fprintf(&b, " (token %q)", e.Token)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *CNCError) Unwrap() error {
	return e.Err
}

// SetLine sets the source line
func (e *CNCError) SetLine(line int) *CNCError {
	e.Line = line
	return e
}

// SetToken sets the offending token
func (e *CNCError) SetToken(token string) *CNCError {
	e.Token = token
	return e
}

// SetLabel sets the jump target
func (e *CNCError) SetLabel(label string) *CNCError {
	e.Label = label
	return e
}

// SetContext adds additional context
func (e *CNCError) SetContext(key string, value interface{}) *CNCError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new CNCError
func New(code ErrorCode, message string) *CNCError {
	return &CNCError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new CNCError with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *CNCError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with a code and message
func Wrap(err error, code ErrorCode, message string) *CNCError {
	return &CNCError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Parse errors

// ParseError reports a malformed or unknown word
func ParseError(line int, token, reason string) *CNCError {
	return New(ErrParse, reason).SetLine(line).SetToken(token)
}

// UnknownLabelError reports a jump or call whose target does not resolve
func UnknownLabelError(label string, line int) *CNCError {
	return Newf(ErrUnknownLabel, "jump target %s is not defined", label).
		SetLabel(label).
		SetLine(line)
}

// Interpreter errors

// ModalConflictError reports two words of one modal group in a single block
func ModalConflictError(group string, line int, words ...string) *CNCError {
	return Newf(ErrModalConflict, "conflicting %s words: %s", group, strings.Join(words, " ")).
		SetLine(line).
		SetContext("group", group)
}

// StackOverflowError reports a call beyond the configured nesting depth
func StackOverflowError(depth, max int, line int) *CNCError {
	return Newf(ErrStackOverflow, "call depth %d exceeds maximum %d", depth, max).
		SetLine(line).
		SetContext("max_depth", max)
}

// StackUnderflowError reports a return with no active call
func StackUnderflowError(token string, line int) *CNCError {
	return New(ErrStackUnderflow, "return without active call").
		SetLine(line).
		SetToken(token)
}

// InfiniteLoopError reports that the execution ceiling was reached
func InfiniteLoopError(steps int, line int) *CNCError {
	return Newf(ErrInfiniteLoop, "execution ceiling of %d blocks reached", steps).
		SetLine(line).
		SetContext("max_steps", steps)
}

// Tool errors

// ToolNotFoundError reports an unregistered tool number
func ToolNotFoundError(number int) *CNCError {
	return Newf(ErrToolNotFound, "tool T%d is not registered", number).
		SetContext("tool", number)
}

// MagazineSlotConflictError reports an attempt to overwrite an occupied slot
func MagazineSlotConflictError(slot, occupant, number int) *CNCError {
	return Newf(ErrMagazineSlotConflict, "slot %d already holds T%d, cannot load T%d", slot, occupant, number).
		SetContext("slot", slot)
}

// ToolUnavailableError reports a broken or worn-out tool
func ToolUnavailableError(number int, reason string) *CNCError {
	return Newf(ErrToolUnavailable, "tool T%d is unavailable: %s", number, reason).
		SetContext("tool", number)
}

// Motion errors

// MotionLimitError reports a feed, acceleration or soft-limit violation
func MotionLimitError(message string) *CNCError {
	return New(ErrMotionLimit, message)
}

// SoftLimitError reports a target outside configured axis travel
func SoftLimitError(axis string, coord, min, max float64) *CNCError {
	return Newf(ErrMotionLimit, "%s coordinate %.3f out of bounds [%.3f, %.3f]", axis, coord, min, max).
		SetContext("axis", axis)
}

// Controller errors

// SafetyRejectedError reports a command withheld by the safety gate
func SafetyRejectedError(reasons []string) *CNCError {
	msg := "safety status is not safe"
	if len(reasons) > 0 {
		msg += ": " + strings.Join(reasons, ", ")
	}
	return New(ErrSafetyRejected, msg).SetContext("reasons", reasons)
}

// StateRejectedError reports an operator command not allowed in the current state
func StateRejectedError(operation, state string) *CNCError {
	return Newf(ErrStateRejected, "%s rejected in state %s", operation, state).
		SetContext("state", state)
}

// RuntimeError creates a general runtime error
func RuntimeError(message string) *CNCError {
	return New(ErrRuntime, message)
}

// RecoverPanic converts the value returned by recover() into an error
func RecoverPanic(r interface{}) *CNCError {
	if r == nil {
		return nil
	}
	switch x := r.(type) {
	case runtime.Error:
		return RuntimeError("panic: " + x.Error())
	case error:
		return Wrap(x, ErrRuntime, "panic")
	case string:
		return RuntimeError("panic: " + x)
	default:
		return RuntimeError(fmt.Sprintf("panic: %v", x))
	}
}

// As returns the CNCError in err's chain, if any
func As(err error) (*CNCError, bool) {
	var ce *CNCError
	if stderrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Is checks if error matches given error code
func Is(err error, code ErrorCode) bool {
	if ce, ok := As(err); ok {
		return ce.Code == code
	}
	return false
}

// CodeOf returns the code of err, or ErrRuntime for foreign errors
func CodeOf(err error) ErrorCode {
	if ce, ok := As(err); ok {
		return ce.Code
	}
	return ErrRuntime
}

// IsLoadTime reports whether err prevents a program from being loaded
func IsLoadTime(err error) bool {
	var list List
	if stderrors.As(err, &list) {
		return len(list) > 0
	}
	return Is(err, ErrParse) || Is(err, ErrUnknownLabel)
}

// List aggregates errors found while loading a program
type List []*CNCError

// Error implements the error interface
func (l List) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", l[0].Error(), len(l)-1)
}

// Unwrap exposes the entries to errors.Is and errors.As
func (l List) Unwrap() []error {
	out := make([]error, len(l))
	for i, e := range l {
		out[i] = e
	}
	return out
}

// Err returns nil for an empty list so callers can return it directly
func (l List) Err() error {
	if len(l) == 0 {
		return nil
	}
	return l
}
