// Machine state and operating mode
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package controller

import (
	"strings"

	cncerr "modax-cnc/pkg/errors"
)

// MachineState is the run state of the machine.
type MachineState int

const (
	StateIdle MachineState = iota
	StateRunning
	StatePaused
	StateStopped
	StateError
	StateEmergency
)

var stateNames = [...]string{
	StateIdle:      "IDLE",
	StateRunning:   "RUNNING",
	StatePaused:    "PAUSED",
	StateStopped:   "STOPPED",
	StateError:     "ERROR",
	StateEmergency: "EMERGENCY",
}

func (s MachineState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s MachineState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Active reports whether a job owns the pipeline.
func (s MachineState) Active() bool {
	return s == StateRunning || s == StatePaused
}

// OperatingMode selects which input paths are accepted. It is orthogonal
// to MachineState.
type OperatingMode int

const (
	ModeAuto OperatingMode = iota
	ModeManual
	ModeMDI
	ModeReference
	ModeHandwheel
	ModeSingleStep
	ModeDryRun
	ModeSimulation
)

var modeNames = [...]string{
	ModeAuto:       "AUTO",
	ModeManual:     "MANUAL",
	ModeMDI:        "MDI",
	ModeReference:  "REFERENCE",
	ModeHandwheel:  "HANDWHEEL",
	ModeSingleStep: "SINGLE_STEP",
	ModeDryRun:     "DRY_RUN",
	ModeSimulation: "SIMULATION",
}

func (m OperatingMode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return "UNKNOWN"
	}
	return modeNames[m]
}

// MarshalText encodes the mode by name.
func (m OperatingMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText accepts a mode name in any case.
func (m *OperatingMode) UnmarshalText(b []byte) error {
	mode, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// ParseMode looks up a mode by name, ignoring case and '-' versus '_'.
func ParseMode(s string) (OperatingMode, error) {
	name := strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_")
	for i, n := range modeNames {
		if n == name {
			return OperatingMode(i), nil
		}
	}
	return 0, cncerr.Newf(cncerr.ErrInvalidArgument, "unknown operating mode %q", s)
}

// runsPrograms reports whether Start may run the loaded program.
func (m OperatingMode) runsPrograms() bool {
	switch m {
	case ModeAuto, ModeSingleStep, ModeDryRun, ModeSimulation:
		return true
	}
	return false
}

// jogs reports whether manual jogging is accepted.
func (m OperatingMode) jogs() bool {
	return m == ModeManual || m == ModeHandwheel
}

// StateNames lists every state name in order.
func StateNames() []string { return stateNames[:] }

// ModeNames lists every mode name in order.
func ModeNames() []string { return modeNames[:] }
