// Error and warning history, run statistics
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package controller

import (
	"time"

	cncerr "modax-cnc/pkg/errors"
)

// DefaultHistorySize is the number of errors and warnings kept.
const DefaultHistorySize = 100

// Event is one entry of the error or warning history.
type Event struct {
	Time    time.Time `json:"time"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Line    int       `json:"line,omitempty"`
	RunID   string    `json:"run_id,omitempty"`
}

func eventFrom(err error, runID string) Event {
	ev := Event{Time: time.Now(), Code: string(cncerr.CodeOf(err)), Message: err.Error(), RunID: runID}
	if ce, ok := cncerr.As(err); ok {
		ev.Message = ce.Message
		ev.Line = ce.Line
	}
	return ev
}

// ring keeps the newest size events.
type ring struct {
	size   int
	events []Event
}

func (r *ring) add(ev Event) {
	r.events = append(r.events, ev)
	if over := len(r.events) - r.size; over > 0 {
		r.events = append(r.events[:0], r.events[over:]...)
	}
}

func (r *ring) clear() { r.events = r.events[:0] }

func (r *ring) snapshot() []Event {
	return append([]Event(nil), r.events...)
}

// RunResult is how a job ended.
type RunResult string

const (
	ResultCompleted RunResult = "completed"
	ResultStopped   RunResult = "stopped"
	ResultFailed    RunResult = "failed"
	ResultEmergency RunResult = "emergency"
)

// RunStats describes the current or last job.
type RunStats struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	Program  string    `json:"program,omitempty"`
	Started  time.Time `json:"started"`
	Duration float64   `json:"duration"` // seconds, pauses excluded
	Paused   float64   `json:"paused"`   // seconds spent paused
	Blocks   int       `json:"blocks"`
	Commands int       `json:"commands"`
	Rejected int       `json:"rejected"`
	Result   RunResult `json:"result,omitempty"`

	pausedAt time.Time
	ended    time.Time
}

func (r *RunStats) notePause(now time.Time) {
	if r.pausedAt.IsZero() {
		r.pausedAt = now
	}
}

func (r *RunStats) noteResume(now time.Time) {
	if !r.pausedAt.IsZero() {
		r.Paused += now.Sub(r.pausedAt).Seconds()
		r.pausedAt = time.Time{}
	}
}

func (r *RunStats) noteFinish(result RunResult, now time.Time) {
	r.noteResume(now)
	r.Result = result
	r.ended = now
}

// view returns a copy with Duration computed at now.
func (r RunStats) view(now time.Time) RunStats {
	end := now
	if !r.ended.IsZero() {
		end = r.ended
	}
	paused := r.Paused
	if !r.pausedAt.IsZero() {
		paused += end.Sub(r.pausedAt).Seconds()
	}
	r.Paused = paused
	r.Duration = end.Sub(r.Started).Seconds() - paused
	return r
}
