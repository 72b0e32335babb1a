// Tool table and magazine
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package tools keeps the tool table, the magazine slot map and the
// active spindle tool.
package tools

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"modax-cnc/pkg/config"
	cncerr "modax-cnc/pkg/errors"
	"modax-cnc/pkg/log"
)

// Tool number range accepted by the table.
const (
	MinNumber = 1
	MaxNumber = 999
)

// DefaultSlots is the magazine size used when none is configured.
const DefaultSlots = 24

// Tool is one entry of the tool table.
type Tool struct {
	Number   int
	Name     string
	Type     string
	Material string
	Coating  string
	Diameter float64
	Length   float64
	Flutes   int

	LengthOffset float64
	RadiusOffset float64

	Wear         float64       // accumulated wear, mm
	CuttingTime  time.Duration // accumulated spindle-on cutting time
	ExpectedLife time.Duration // zero means unlimited
	Changes      int           // times the tool was loaded into the spindle
	Broken       bool
}

// LifeUsed returns consumed life in percent, or 0 when the tool has no
// expected life.
func (t Tool) LifeUsed() float64 {
	if t.ExpectedLife <= 0 {
		return 0
	}
	return 100 * float64(t.CuttingTime) / float64(t.ExpectedLife)
}

// Condition summarises whether a tool may be used.
type Condition int

const (
	ConditionOK Condition = iota
	ConditionWarning
	ConditionWornOut
	ConditionBroken
)

func (c Condition) String() string {
	switch c {
	case ConditionWarning:
		return "warning"
	case ConditionWornOut:
		return "worn_out"
	case ConditionBroken:
		return "broken"
	}
	return "ok"
}

// Snapshot is a copy of the manager state.
type Snapshot struct {
	Slots    []int // tool number per slot (index 0 is slot 1), 0 when empty
	Active   int
	Selected int
	Tools    map[int]Tool
}

// Manager owns the tool table and magazine. Every mutating operation
// validates fully before changing anything.
type Manager struct {
	mu          sync.RWMutex
	tools       map[int]*Tool
	slots       []int
	active      int
	selected    int
	wearWarning float64
	logger      *log.Logger
}

// NewManager returns a manager with an empty magazine of the given size.
func NewManager(slots int) *Manager {
	if slots <= 0 {
		slots = DefaultSlots
	}
	return &Manager{
		tools:       make(map[int]*Tool),
		slots:       make([]int, slots),
		wearWarning: 90,
		logger:      log.GetLogger("tools"),
	}
}

// SetWearWarning sets the life percentage at which a tool is reported as
// near the end of its life.
func (m *Manager) SetWearWarning(percent float64) {
	m.mu.Lock()
	m.wearWarning = percent
	m.mu.Unlock()
}

func checkNumber(n int) error {
	if n < MinNumber || n > MaxNumber {
		return cncerr.Newf(cncerr.ErrInvalidArgument, "tool number %d outside %d-%d", n, MinNumber, MaxNumber)
	}
	return nil
}

// Register adds or replaces a tool definition. Wear and life counters of
// an existing tool are kept.
func (m *Manager) Register(t Tool) error {
	if err := checkNumber(t.Number); err != nil {
		return err
	}
	if t.Diameter < 0 || t.Length < 0 {
		return cncerr.Newf(cncerr.ErrInvalidArgument, "T%d: negative geometry", t.Number)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.tools[t.Number]; ok {
		t.Wear, t.CuttingTime, t.Changes, t.Broken = old.Wear, old.CuttingTime, old.Changes, old.Broken
	}
	m.tools[t.Number] = &t
	return nil
}

func (m *Manager) slotIndex(slot int) (int, error) {
	if slot < 1 || slot > len(m.slots) {
		return 0, cncerr.Newf(cncerr.ErrInvalidArgument, "slot %d outside 1-%d", slot, len(m.slots))
	}
	return slot - 1, nil
}

func (m *Manager) slotOf(n int) int {
	for i, t := range m.slots {
		if t == n {
			return i + 1
		}
	}
	return 0
}

// LoadTool puts tool n into a magazine slot. A tool occupies at most one
// slot and a slot holds at most one tool.
func (m *Manager) LoadTool(slot, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, err := m.slotIndex(slot)
	if err != nil {
		return err
	}
	if _, ok := m.tools[n]; !ok {
		return cncerr.ToolNotFoundError(n)
	}
	if occupant := m.slots[idx]; occupant != 0 && occupant != n {
		return cncerr.MagazineSlotConflictError(slot, occupant, n)
	}
	if other := m.slotOf(n); other != 0 && other != slot {
		return cncerr.Newf(cncerr.ErrMagazineSlotConflict, "T%d is already in slot %d", n, other).
			SetContext("slot", slot)
	}
	m.slots[idx] = n
	return nil
}

// UnloadTool empties a slot and returns the tool that was in it.
func (m *Manager) UnloadTool(slot int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, err := m.slotIndex(slot)
	if err != nil {
		return 0, err
	}
	n := m.slots[idx]
	m.slots[idx] = 0
	return n, nil
}

// SlotOf returns the slot holding tool n, or 0.
func (m *Manager) SlotOf(n int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slotOf(n)
}

// SelectTool pre-selects tool n for the next change (T word). T0 clears
// the selection.
func (m *Manager) SelectTool(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n != 0 {
		if _, ok := m.tools[n]; !ok {
			return cncerr.ToolNotFoundError(n)
		}
	}
	m.selected = n
	return nil
}

// Selected returns the pre-selected tool number.
func (m *Manager) Selected() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selected
}

// ChangeTo makes tool n the active spindle tool. Zero empties the
// spindle. Unknown, broken or worn-out tools are refused and leave the
// magazine and active tool untouched.
func (m *Manager) ChangeTo(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n == 0 {
		m.active = 0
		return nil
	}
	t, ok := m.tools[n]
	if !ok {
		return cncerr.ToolNotFoundError(n)
	}
	switch m.condition(t) {
	case ConditionBroken:
		return cncerr.ToolUnavailableError(n, "tool is marked broken")
	case ConditionWornOut:
		return cncerr.ToolUnavailableError(n, fmt.Sprintf("tool life exhausted (%.0f%%)", t.LifeUsed()))
	case ConditionWarning:
		m.logger.WithField("tool", n).Warn("tool life at %.0f%%", t.LifeUsed())
	}
	m.active = n
	if m.selected == n {
		m.selected = 0
	}
	t.Changes++
	return nil
}

// Active returns the active tool.
func (m *Manager) Active() (Tool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.tools[m.active]; ok {
		return *t, true
	}
	return Tool{}, false
}

// ActiveNumber returns the active tool number, 0 when the spindle is empty.
func (m *Manager) ActiveNumber() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Get returns tool n.
func (m *Manager) Get(n int) (Tool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.tools[n]; ok {
		return *t, true
	}
	return Tool{}, false
}

// SetOffset writes the length and radius offsets of tool n.
func (m *Manager) SetOffset(n int, length, radius float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tools[n]
	if !ok {
		return cncerr.ToolNotFoundError(n)
	}
	t.LengthOffset, t.RadiusOffset = length, radius
	return nil
}

// LengthOffset returns the length offset selected by an H word. H0 is
// zero.
func (m *Manager) LengthOffset(h int) (float64, error) {
	if h == 0 {
		return 0, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tools[h]
	if !ok {
		return 0, cncerr.ToolNotFoundError(h)
	}
	return t.LengthOffset, nil
}

// RadiusOffset returns the radius offset selected by a D word.
func (m *Manager) RadiusOffset(d int) (float64, error) {
	if d == 0 {
		return 0, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tools[d]
	if !ok {
		return 0, cncerr.ToolNotFoundError(d)
	}
	return t.RadiusOffset, nil
}

// RecordWear adds delta (mm) to the wear accumulator of tool n.
func (m *Manager) RecordWear(n int, delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tools[n]
	if !ok {
		return cncerr.ToolNotFoundError(n)
	}
	t.Wear += delta
	return nil
}

// RecordCuttingTime adds cutting time to tool n and returns its resulting
// condition.
func (m *Manager) RecordCuttingTime(n int, d time.Duration) (Condition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tools[n]
	if !ok {
		return ConditionOK, cncerr.ToolNotFoundError(n)
	}
	before := m.condition(t)
	t.CuttingTime += d
	after := m.condition(t)
	if after != before {
		m.logger.WithFields(log.Fields{"tool": n, "life": t.LifeUsed()}).Warn("tool condition %s", after)
	}
	return after, nil
}

// MarkBroken flags tool n as broken. A broken tool cannot be changed to.
func (m *Manager) MarkBroken(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tools[n]
	if !ok {
		return cncerr.ToolNotFoundError(n)
	}
	t.Broken = true
	m.logger.WithField("tool", n).Warn("tool marked broken")
	return nil
}

// Condition reports the usability of tool n.
func (m *Manager) Condition(n int) (Condition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tools[n]
	if !ok {
		return ConditionOK, cncerr.ToolNotFoundError(n)
	}
	return m.condition(t), nil
}

func (m *Manager) condition(t *Tool) Condition {
	switch life := t.LifeUsed(); {
	case t.Broken:
		return ConditionBroken
	case life >= 100:
		return ConditionWornOut
	case life >= m.wearWarning:
		return ConditionWarning
	}
	return ConditionOK
}

// Snapshot returns a copy of the table, magazine and active tool.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{
		Slots:    append([]int(nil), m.slots...),
		Active:   m.active,
		Selected: m.selected,
		Tools:    make(map[int]Tool, len(m.tools)),
	}
	for n, t := range m.tools {
		s.Tools[n] = *t
	}
	return s
}

// Numbers returns the registered tool numbers in ascending order.
func (m *Manager) Numbers() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	nums := make([]int, 0, len(m.tools))
	for n := range m.tools {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// LoadTable registers every tool of an imported table and places tools
// with a slot into the magazine.
func (m *Manager) LoadTable(table *config.ToolTable) error {
	if table == nil {
		return nil
	}
	for _, rec := range table.Tools {
		t := Tool{
			Number:       rec.Number,
			Name:         rec.Name,
			Type:         rec.Type,
			Material:     rec.Material,
			Coating:      rec.Coating,
			Diameter:     rec.Diameter,
			Length:       rec.Length,
			Flutes:       rec.Flutes,
			LengthOffset: rec.LengthOffset,
			RadiusOffset: rec.RadiusOffset,
			ExpectedLife: time.Duration(rec.ExpectedLife * float64(time.Minute)),
		}
		if err := m.Register(t); err != nil {
			return fmt.Errorf("tool table: %w", err)
		}
		if rec.Slot > 0 {
			if err := m.LoadTool(rec.Slot, rec.Number); err != nil {
				return fmt.Errorf("tool table: %w", err)
			}
		}
	}
	m.logger.Info("loaded %d tools", len(table.Tools))
	return nil
}
