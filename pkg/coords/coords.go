// Work coordinate system manager
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package coords maintains the work coordinate systems and the
// work<->machine transform.
//
// A work position w maps to machine coordinates by
//
//	mirror -> scale (about a centre) -> rotate (about a centre, in a plane) -> translate
//
// and ToWork applies the inverse steps in reverse order. The translation is
// the sum of the active base system (G54..G59.3), the selected extended
// system (G54.1 Pn), the local offset (G52) and the origin shift (G92).
package coords

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gonum.org/v1/gonum/floats/scalar"

	"modax-cnc/pkg/config"
	cncerr "modax-cnc/pkg/errors"
	"modax-cnc/pkg/motion"
)

// MaxExtended is the highest G54.1 P index.
const MaxExtended = 300

// BaseSystems lists the standard work systems in table order.
var BaseSystems = []string{"G54", "G55", "G56", "G57", "G58", "G59", "G59.1", "G59.2", "G59.3"}

// ExtendedID returns the identifier used for G54.1 Pn.
func ExtendedID(n int) string { return "P" + strconv.Itoa(n) }

// State is a copy of every transform parameter.
type State struct {
	Base     string
	Extended int // 0 when no extended system is selected
	Work     map[string]motion.Position
	Ext      map[int]motion.Position
	Local    motion.Position
	Shift    motion.Position

	Mirror      motion.Mask
	Scale       motion.Position
	ScaleCenter motion.Position

	RotPlane  motion.Plane
	Rotation  float64 // degrees
	RotCenter motion.Position
}

// Manager owns the coordinate system table. It is safe for concurrent use.
type Manager struct {
	mu sync.RWMutex
	s  State
}

// New returns a manager with all offsets zero, G54 active and identity
// scale.
func New() *Manager {
	m := &Manager{s: State{
		Base: "G54",
		Work: make(map[string]motion.Position, len(BaseSystems)),
		Ext:  make(map[int]motion.Position),
	}}
	for _, id := range BaseSystems {
		m.s.Work[id] = motion.Position{}
	}
	m.s.Scale = identityScale()
	return m
}

func identityScale() motion.Position {
	var p motion.Position
	for i := range p {
		p[i] = 1
	}
	return p
}

func invalid(format string, args ...interface{}) error {
	return cncerr.Newf(cncerr.ErrInvalidArgument, format, args...)
}

// parseExtended accepts "P12" or "G54.1 P12".
func parseExtended(id string) (int, bool) {
	id = strings.TrimSpace(strings.TrimPrefix(strings.ToUpper(id), "G54.1"))
	if !strings.HasPrefix(id, "P") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(id[1:]))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Select makes id the active work system. Base ids are G54..G59.3; an
// extended id (P1..P300) composes with the current base system.
func (m *Manager) Select(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := parseExtended(id); ok {
		if n < 1 || n > MaxExtended {
			return invalid("extended work system P%d out of range 1-%d", n, MaxExtended)
		}
		m.s.Extended = n
		return nil
	}
	id = strings.ToUpper(id)
	if _, ok := m.s.Work[id]; !ok {
		return invalid("unknown work coordinate system %q", id)
	}
	m.s.Base = id
	m.s.Extended = 0
	return nil
}

// Active returns the active system id, e.g. "G55" or "G54.1 P12".
func (m *Manager) Active() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.s.Extended != 0 {
		return "G54.1 " + ExtendedID(m.s.Extended)
	}
	return m.s.Base
}

// SetOffset writes the offset of a base or extended system.
func (m *Manager) SetOffset(id string, offset motion.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := parseExtended(id); ok {
		if n < 1 || n > MaxExtended {
			return invalid("extended work system P%d out of range 1-%d", n, MaxExtended)
		}
		m.s.Ext[n] = offset
		return nil
	}
	id = strings.ToUpper(id)
	if _, ok := m.s.Work[id]; !ok {
		return invalid("unknown work coordinate system %q", id)
	}
	m.s.Work[id] = offset
	return nil
}

// Offset returns the stored offset of a base or extended system.
func (m *Manager) Offset(id string) (motion.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n, ok := parseExtended(id); ok {
		return m.s.Ext[n], nil
	}
	off, ok := m.s.Work[strings.ToUpper(id)]
	if !ok {
		return motion.Position{}, invalid("unknown work coordinate system %q", id)
	}
	return off, nil
}

// SetLocal sets the G52 local offset; zero cancels it.
func (m *Manager) SetLocal(offset motion.Position) {
	m.mu.Lock()
	m.s.Local = offset
	m.mu.Unlock()
}

// SetShift sets the G92 origin shift directly.
func (m *Manager) SetShift(shift motion.Position) {
	m.mu.Lock()
	m.s.Shift = shift
	m.mu.Unlock()
}

// ShiftTo adjusts the G92 shift so that machine position mp reads as the
// given work coordinates on the axes in mask. Other axes keep their
// current work reading.
func (m *Manager) ShiftTo(mp, work motion.Position, mask motion.Mask) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := m.s.toWork(mp)
	for a := motion.X; a < motion.NumAxes; a++ {
		if mask.Has(a) {
			want[a] = work[a]
		}
	}
	got := m.s.toMachine(want)
	m.s.Shift = m.s.Shift.Add(mp.Sub(got))
}

// Rotate sets the G68 rotation in plane about centre (work coordinates
// before rotation). A zero angle cancels.
func (m *Manager) Rotate(plane motion.Plane, angle float64, center motion.Position) {
	m.mu.Lock()
	m.s.RotPlane, m.s.Rotation, m.s.RotCenter = plane, angle, center
	m.mu.Unlock()
}

// Scale sets per-axis G51 scale factors about centre. Negative factors
// mirror the axis. Zero factors are rejected.
func (m *Manager) Scale(factors, center motion.Position) error {
	for a, f := range factors {
		if scalar.EqualWithinAbs(f, 0, 1e-12) || math.IsNaN(f) || math.IsInf(f, 0) {
			return invalid("scale factor for %s must be finite and non-zero, got %g", motion.Axis(a), f)
		}
	}
	m.mu.Lock()
	m.s.Scale, m.s.ScaleCenter = factors, center
	m.mu.Unlock()
	return nil
}

// CancelScale restores unit scale (G50).
func (m *Manager) CancelScale() {
	m.mu.Lock()
	m.s.Scale, m.s.ScaleCenter = identityScale(), motion.Position{}
	m.mu.Unlock()
}

// Mirror sets the mirrored axes; mirroring is about the work origin.
func (m *Manager) Mirror(mask motion.Mask) {
	m.mu.Lock()
	m.s.Mirror = mask
	m.mu.Unlock()
}

// UniformScale reports whether the in-plane axes of plane share one scale
// magnitude, which arcs require.
func (m *Manager) UniformScale(plane motion.Plane) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a0, a1, _ := plane.Axes()
	return scalar.EqualWithinAbs(math.Abs(m.s.Scale[a0]), math.Abs(m.s.Scale[a1]), 1e-12)
}

// Reflected reports whether the transform reverses handedness in plane,
// which flips arc direction.
func (m *Manager) Reflected(plane motion.Plane) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a0, a1, _ := plane.Axes()
	flips := 0
	for _, a := range []motion.Axis{a0, a1} {
		neg := m.s.Scale[a] < 0
		if m.s.Mirror.Has(a) {
			neg = !neg
		}
		if neg {
			flips++
		}
	}
	return flips%2 == 1
}

// ArcRadiusScale returns the factor applied to arc radii in plane.
func (m *Manager) ArcRadiusScale(plane motion.Plane) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a0, _, _ := plane.Axes()
	return math.Abs(m.s.Scale[a0])
}

// ToMachine converts a work position to machine coordinates.
func (m *Manager) ToMachine(work motion.Position) motion.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.toMachine(work)
}

// ToWork converts a machine position to work coordinates.
func (m *Manager) ToWork(mp motion.Position) motion.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.toWork(mp)
}

// VectorToMachine transforms a displacement (for example an arc centre
// offset): mirror, scale and rotate without translation.
func (m *Manager) VectorToMachine(v motion.Position) motion.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var zero motion.Position
	for a := range v {
		if m.s.Mirror.Has(motion.Axis(a)) {
			v[a] = -v[a]
		}
		v[a] *= m.s.Scale[a]
	}
	return rotate(v, zero, m.s.RotPlane, m.s.Rotation)
}

func (s *State) translation() motion.Position {
	t := s.Work[s.Base]
	if s.Extended != 0 {
		t = t.Add(s.Ext[s.Extended])
	}
	return t.Add(s.Local).Add(s.Shift)
}

func (s *State) toMachine(p motion.Position) motion.Position {
	for a := range p {
		if s.Mirror.Has(motion.Axis(a)) {
			p[a] = -p[a]
		}
		p[a] = s.ScaleCenter[a] + (p[a]-s.ScaleCenter[a])*s.Scale[a]
	}
	p = rotate(p, s.RotCenter, s.RotPlane, s.Rotation)
	return p.Add(s.translation())
}

func (s *State) toWork(p motion.Position) motion.Position {
	p = p.Sub(s.translation())
	p = rotate(p, s.RotCenter, s.RotPlane, -s.Rotation)
	for a := range p {
		p[a] = s.ScaleCenter[a] + (p[a]-s.ScaleCenter[a])/s.Scale[a]
		if s.Mirror.Has(motion.Axis(a)) {
			p[a] = -p[a]
		}
	}
	return p
}

func rotate(p, center motion.Position, plane motion.Plane, deg float64) motion.Position {
	if deg == 0 {
		return p
	}
	a0, a1, _ := plane.Axes()
	sin, cos := math.Sincos(deg * math.Pi / 180)
	u, v := p[a0]-center[a0], p[a1]-center[a1]
	p[a0] = center[a0] + u*cos - v*sin
	p[a1] = center[a1] + u*sin + v*cos
	return p
}

// Snapshot returns a deep copy of the transform state.
func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.clone()
}

// Restore replaces the transform state with a snapshot.
func (m *Manager) Restore(s State) {
	m.mu.Lock()
	m.s = s.clone()
	m.mu.Unlock()
}

func (s State) clone() State {
	work := make(map[string]motion.Position, len(s.Work))
	for k, v := range s.Work {
		work[k] = v
	}
	ext := make(map[int]motion.Position, len(s.Ext))
	for k, v := range s.Ext {
		ext[k] = v
	}
	s.Work, s.Ext = work, ext
	return s
}

// ResetTransient clears G52, G92, G68, G51 and mirroring, leaving the
// stored offsets and the selected system alone. Used at program start and
// reset.
func (m *Manager) ResetTransient() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.Local, m.s.Shift = motion.Position{}, motion.Position{}
	m.s.Rotation, m.s.RotCenter = 0, motion.Position{}
	m.s.Scale, m.s.ScaleCenter = identityScale(), motion.Position{}
	m.s.Mirror = 0
}

// Load installs the offsets of an imported table.
func (m *Manager) Load(table *config.OffsetTable) error {
	if table == nil {
		return nil
	}
	ids := make([]string, 0, len(table.Work))
	for id := range table.Work {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		rec := table.Work[id]
		if err := m.SetOffset(id, motion.Position(rec.Vector())); err != nil {
			return fmt.Errorf("offset table: %w", err)
		}
	}
	for key, rec := range table.Extended {
		n, err := config.ExtendedIndex(key)
		if err != nil {
			return fmt.Errorf("offset table: %w", err)
		}
		if err := m.SetOffset(ExtendedID(n), motion.Position(rec.Vector())); err != nil {
			return fmt.Errorf("offset table: %w", err)
		}
	}
	if table.Local != nil {
		m.SetLocal(motion.Position(table.Local.Vector()))
		if table.Local.Rotation != 0 {
			m.Rotate(motion.PlaneXY, table.Local.Rotation, motion.Position{})
		}
		if len(table.Local.Scale) > 0 {
			factors := identityScale()
			for i, f := range table.Local.Scale {
				if i < len(factors) {
					factors[i] = f
				}
			}
			if err := m.Scale(factors, motion.Position{}); err != nil {
				return fmt.Errorf("offset table: %w", err)
			}
		}
		var mask motion.Mask
		for _, letter := range table.Local.Mirror {
			if letter == "" {
				continue
			}
			if a, ok := motion.AxisFromLetter(letter[0]); ok {
				mask = mask.With(a)
			}
		}
		m.Mirror(mask)
	}
	return nil
}
