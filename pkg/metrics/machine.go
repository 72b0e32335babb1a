// Machine metrics definitions
//
// Interpreter, planner, dispatch gate, field link and runtime metrics for
// the CNC core.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"strings"
	"time"
)

// Machine holds the metrics the core reports. All methods are safe on a
// nil receiver so components can run without metrics.
type Machine struct {
	// Machine state
	State    *Gauge
	Mode     *Gauge
	Position *Gauge

	// Pipeline
	BlocksExecuted     *Counter
	CommandsDispatched *Counter
	PlanTime           *Histogram
	LookaheadDepth     *Gauge

	// Safety
	SafetyRejections *Counter
	SafetySafe       *Gauge
	EmergencyStops   *Counter

	// Field link
	FieldRecords *Counter
	FieldErrors  *Counter

	// Programs and errors
	Programs *Counter
	Errors   *Counter
	Warnings *Counter

	// Runtime
	Uptime     *Gauge
	Goroutines *Gauge
	HeapBytes  *Gauge

	startTime time.Time
	registry  *Registry
}

// NewMachine creates and registers the machine metrics.
func NewMachine() *Machine {
	m := &Machine{
		State:    NewGauge("cnc_machine_state", "1 for the current machine state"),
		Mode:     NewGauge("cnc_operating_mode", "1 for the current operating mode"),
		Position: NewGauge("cnc_position", "Commanded machine position, mm or degrees"),

		BlocksExecuted:     NewCounter("cnc_blocks_executed_total", "Program blocks executed"),
		CommandsDispatched: NewCounter("cnc_commands_dispatched_total", "Commands handed to the dispatcher by kind"),
		PlanTime:           NewHistogram("cnc_plan_seconds", "Time spent planning one command", DefaultBuckets()),
		LookaheadDepth:     NewGauge("cnc_lookahead_depth", "Segments waiting in the look-ahead buffer"),

		SafetyRejections: NewCounter("cnc_safety_rejections_total", "Commands withheld by the safety gate by kind"),
		SafetySafe:       NewGauge("cnc_safety_safe", "1 when the field layer reports safe"),
		EmergencyStops:   NewCounter("cnc_emergency_stops_total", "Emergency stops by source"),

		FieldRecords: NewCounter("cnc_fieldlink_records_total", "Safety records received by transport"),
		FieldErrors:  NewCounter("cnc_fieldlink_errors_total", "Field link decode and connection errors by transport"),

		Programs: NewCounter("cnc_programs_total", "Program runs by result"),
		Errors:   NewCounter("cnc_errors_total", "Errors by code"),
		Warnings: NewCounter("cnc_warnings_total", "Warnings by type"),

		Uptime:     NewGauge("cnc_uptime_seconds", "Seconds since start"),
		Goroutines: NewGauge("cnc_go_goroutines", "Number of goroutines"),
		HeapBytes:  NewGauge("cnc_go_heap_bytes", "Heap bytes allocated"),

		startTime: time.Now(),
		registry:  NewRegistry(),
	}
	m.registry.MustRegister(
		m.State, m.Mode, m.Position,
		m.BlocksExecuted, m.CommandsDispatched, m.PlanTime, m.LookaheadDepth,
		m.SafetyRejections, m.SafetySafe, m.EmergencyStops,
		m.FieldRecords, m.FieldErrors,
		m.Programs, m.Errors, m.Warnings,
		m.Uptime, m.Goroutines, m.HeapBytes,
	)
	return m
}

// SetState marks current as the one active value among all.
func (m *Machine) SetState(current string, all []string) {
	if m == nil {
		return
	}
	setOneHot(m.State, "state", current, all)
}

// SetMode marks current as the one active mode among all.
func (m *Machine) SetMode(current string, all []string) {
	if m == nil {
		return
	}
	setOneHot(m.Mode, "mode", current, all)
}

func setOneHot(g *Gauge, label, current string, all []string) {
	for _, v := range all {
		g.SetBool(Labels{label: strings.ToLower(v)}, v == current)
	}
}

// SetPosition records the commanded position; axes are named by letter.
func (m *Machine) SetPosition(axes string, pos []float64) {
	if m == nil {
		return
	}
	for i, v := range pos {
		if i < len(axes) {
			m.Position.Set(Labels{"axis": strings.ToLower(axes[i : i+1])}, v)
		}
	}
}

// RecordBlock counts one executed block.
func (m *Machine) RecordBlock() {
	if m == nil {
		return
	}
	m.BlocksExecuted.Inc(nil)
}

// RecordPlan observes the planning time of one command.
func (m *Machine) RecordPlan(d time.Duration) {
	if m == nil {
		return
	}
	m.PlanTime.Observe(nil, d.Seconds())
}

// SetLookahead records the buffer depth.
func (m *Machine) SetLookahead(n int) {
	if m == nil {
		return
	}
	m.LookaheadDepth.Set(nil, float64(n))
}

// RecordDispatch counts a command accepted by the gate.
func (m *Machine) RecordDispatch(kind string) {
	if m == nil {
		return
	}
	m.CommandsDispatched.Inc(Labels{"kind": kind})
}

// RecordRejection counts a command withheld by the gate.
func (m *Machine) RecordRejection(kind string) {
	if m == nil {
		return
	}
	m.SafetyRejections.Inc(Labels{"kind": kind})
}

// SetSafe records the field-layer verdict.
func (m *Machine) SetSafe(safe bool) {
	if m == nil {
		return
	}
	m.SafetySafe.SetBool(nil, safe)
}

// RecordEmergency counts an emergency stop.
func (m *Machine) RecordEmergency(source string) {
	if m == nil {
		return
	}
	m.EmergencyStops.Inc(Labels{"source": source})
}

// RecordFieldRecord counts a received safety record.
func (m *Machine) RecordFieldRecord(transport string) {
	if m == nil {
		return
	}
	m.FieldRecords.Inc(Labels{"transport": transport})
}

// RecordFieldError counts a field link failure.
func (m *Machine) RecordFieldError(transport string) {
	if m == nil {
		return
	}
	m.FieldErrors.Inc(Labels{"transport": transport})
}

// RecordProgram counts a finished run: completed, stopped or failed.
func (m *Machine) RecordProgram(result string) {
	if m == nil {
		return
	}
	m.Programs.Inc(Labels{"result": result})
}

// RecordError counts an error by code.
func (m *Machine) RecordError(code string) {
	if m == nil {
		return
	}
	m.Errors.Inc(Labels{"code": code})
}

// RecordWarning counts a warning.
func (m *Machine) RecordWarning(kind string) {
	if m == nil {
		return
	}
	m.Warnings.Inc(Labels{"type": kind})
}

func (m *Machine) updateRuntime() {
	var ms goruntime.MemStats
	goruntime.ReadMemStats(&ms)
	m.Goroutines.Set(nil, float64(goruntime.NumGoroutine()))
	m.HeapBytes.Set(nil, float64(ms.HeapAlloc))
	m.Uptime.Set(nil, time.Since(m.startTime).Seconds())
}

// Gather refreshes the runtime gauges and writes every metric.
func (m *Machine) Gather() string {
	if m == nil {
		return ""
	}
	m.updateRuntime()
	return m.registry.Gather()
}

// Registry returns the registry holding the machine metrics.
func (m *Machine) Registry() *Registry {
	return m.registry
}
