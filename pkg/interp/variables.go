// Macro variable table
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package interp

import (
	"sort"
	"sync"

	cncerr "modax-cnc/pkg/errors"
)

const (
	// MaxVariable is the highest addressable #n.
	MaxVariable = 999
	// NumLocals is the number of local variables #1..#33 saved across calls.
	NumLocals = 33
)

// Locals is a saved copy of #1..#33; nil entries are unset.
type Locals [NumLocals]*float64

// VariableTable holds #1..#999. #0 is always null and unset variables read
// as null, which evaluates to 0 in arithmetic.
type VariableTable struct {
	mu     sync.RWMutex
	values map[int]float64
}

// NewVariableTable returns an empty table.
func NewVariableTable() *VariableTable {
	return &VariableTable{values: make(map[int]float64)}
}

func checkID(id int) error {
	if id < 0 || id > MaxVariable {
		return cncerr.Newf(cncerr.ErrInvalidArgument, "variable #%d out of range 0-%d", id, MaxVariable)
	}
	return nil
}

// Get implements gcode.Variables.
func (t *VariableTable) Get(id int) (float64, error) {
	v, _, err := t.Lookup(id)
	return v, err
}

// Lookup returns the value of #id and whether it is set.
func (t *VariableTable) Lookup(id int) (float64, bool, error) {
	if err := checkID(id); err != nil {
		return 0, false, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.values[id]
	return v, ok, nil
}

// Set assigns #id. #0 is read-only.
func (t *VariableTable) Set(id int, v float64) error {
	if err := checkID(id); err != nil {
		return err
	}
	if id == 0 {
		return cncerr.New(cncerr.ErrInvalidArgument, "#0 is read-only")
	}
	t.mu.Lock()
	t.values[id] = v
	t.mu.Unlock()
	return nil
}

// Clear unsets #id.
func (t *VariableTable) Clear(id int) {
	t.mu.Lock()
	delete(t.values, id)
	t.mu.Unlock()
}

// Reset unsets every variable.
func (t *VariableTable) Reset() {
	t.mu.Lock()
	t.values = make(map[int]float64)
	t.mu.Unlock()
}

// SaveLocals copies #1..#33.
func (t *VariableTable) SaveLocals() Locals {
	var l Locals
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := range l {
		if v, ok := t.values[i+1]; ok {
			v := v
			l[i] = &v
		}
	}
	return l
}

// RestoreLocals replaces #1..#33 with a saved copy.
func (t *VariableTable) RestoreLocals(l Locals) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, v := range l {
		if v == nil {
			delete(t.values, i+1)
		} else {
			t.values[i+1] = *v
		}
	}
}

// ClearLocals unsets #1..#33.
func (t *VariableTable) ClearLocals() {
	t.RestoreLocals(Locals{})
}

// Snapshot returns every set variable.
func (t *VariableTable) Snapshot() map[int]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[int]float64, len(t.values))
	for k, v := range t.values {
		out[k] = v
	}
	return out
}

// IDs returns the set variable numbers in ascending order.
func (t *VariableTable) IDs() []int {
	t.mu.RLock()
	ids := make([]int, 0, len(t.values))
	for k := range t.values {
		ids = append(ids, k)
	}
	t.mu.RUnlock()
	sort.Ints(ids)
	return ids
}

// macroArgs maps G65/G66 argument letters to local variables.
var macroArgs = map[byte]int{
	'A': 1, 'B': 2, 'C': 3, 'I': 4, 'J': 5, 'K': 6, 'D': 7, 'E': 8, 'F': 9,
	'H': 11, 'M': 13, 'Q': 17, 'R': 18, 'S': 19, 'T': 20, 'U': 21, 'V': 22,
	'W': 23, 'X': 24, 'Y': 25, 'Z': 26,
}
