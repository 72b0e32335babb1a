// Motion planner configuration
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import (
	"fmt"
	"math"

	"modax-cnc/pkg/config"
	cncerr "modax-cnc/pkg/errors"
	"modax-cnc/pkg/motion"
)

// ProfileKind selects the velocity profile shape.
type ProfileKind int

const (
	// ProfileTrapezoid limits acceleration only.
	ProfileTrapezoid ProfileKind = iota
	// ProfileSCurve limits acceleration and jerk.
	ProfileSCurve
)

func (k ProfileKind) String() string {
	if k == ProfileSCurve {
		return "scurve"
	}
	return "trapezoid"
}

// ParseProfile maps a [planner] profile option to a ProfileKind.
func ParseProfile(s string) (ProfileKind, error) {
	switch s {
	case "", "trapezoid":
		return ProfileTrapezoid, nil
	case "scurve", "s-curve":
		return ProfileSCurve, nil
	}
	return 0, cncerr.Newf(cncerr.ErrConfig, "unknown velocity profile %q", s)
}

// AxisLimit is a soft travel limit in machine coordinates.
type AxisLimit struct {
	Min     float64
	Max     float64
	Enabled bool
}

// Config holds the planner limits.
type Config struct {
	MaxFeed        float64 // mm/min
	MaxRapid       float64 // mm/min
	MaxAccel       float64 // mm/s^2
	MaxJerk        float64 // mm/s^3
	Lookahead      int
	Profile        ProfileKind
	BlendTolerance float64 // mm
	MaxBlendAngle  float64 // degrees
	ArcTolerance   float64 // mm
	Limits         [motion.NumAxes]AxisLimit
}

// DefaultConfig returns the planner settings of config.DefaultMachine.
func DefaultConfig() Config {
	cfg, err := FromMachine(config.DefaultMachine())
	if err != nil {
		panic(err)
	}
	return cfg
}

// FromMachine builds a Config from the [planner] and [limits] sections.
func FromMachine(m *config.MachineConfig) (Config, error) {
	ps := m.Planner
	kind, err := ParseProfile(ps.Profile)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		MaxFeed:        ps.MaxFeed,
		MaxRapid:       ps.MaxRapid,
		MaxAccel:       ps.MaxAccel,
		MaxJerk:        ps.MaxJerk,
		Lookahead:      ps.Lookahead,
		Profile:        kind,
		BlendTolerance: ps.BlendTolerance,
		MaxBlendAngle:  ps.MaxBlendAngle,
		ArcTolerance:   ps.ArcTolerance,
	}
	for i, name := range config.AxisNames {
		if lim, ok := m.Limits[name]; ok {
			cfg.Limits[i] = AxisLimit{Min: lim.Min, Max: lim.Max, Enabled: true}
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks that every limit is usable.
func (c Config) Validate() error {
	positive := []struct {
		name string
		v    float64
	}{
		{"max_feed", c.MaxFeed},
		{"max_rapid", c.MaxRapid},
		{"max_accel", c.MaxAccel},
		{"max_jerk", c.MaxJerk},
		{"blend_tolerance", c.BlendTolerance},
		{"arc_tolerance", c.ArcTolerance},
	}
	for _, p := range positive {
		if !(p.v > 0) || math.IsInf(p.v, 0) {
			return cncerr.Newf(cncerr.ErrConfig, "planner %s must be positive, got %v", p.name, p.v)
		}
	}
	if c.Lookahead < 1 {
		return cncerr.Newf(cncerr.ErrConfig, "planner lookahead must be at least 1, got %d", c.Lookahead)
	}
	if c.MaxBlendAngle < 0 || c.MaxBlendAngle >= 180 {
		return cncerr.Newf(cncerr.ErrConfig, "planner max_blend_angle must be in [0, 180), got %v", c.MaxBlendAngle)
	}
	for i, lim := range c.Limits {
		if lim.Enabled && lim.Min > lim.Max {
			return cncerr.New(cncerr.ErrConfig, fmt.Sprintf("limits %s: min %v exceeds max %v",
				motion.Axis(i), lim.Min, lim.Max))
		}
	}
	return nil
}
