// Typed machine settings extracted from the configuration file
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package config

import (
	"strings"
	"time"
)

// AxisNames lists the axes the core understands, in position order.
var AxisNames = []string{"X", "Y", "Z", "A", "B", "C"}

// AxisLimit is a soft travel limit in machine coordinates.
type AxisLimit struct {
	Min float64
	Max float64
}

// PlannerSettings holds the [planner] section.
type PlannerSettings struct {
	MaxFeed        float64 // mm/min
	MaxRapid       float64 // mm/min
	MaxAccel       float64 // mm/s^2
	MaxJerk        float64 // mm/s^3
	Lookahead      int
	Profile        string // "trapezoid" or "scurve"
	BlendTolerance float64 // mm of allowed path deviation at a corner
	MaxBlendAngle  float64 // degrees of direction change still blended
	ArcTolerance   float64 // mm, radius mismatch accepted for arcs
}

// InterpreterSettings holds the [interpreter] section.
type InterpreterSettings struct {
	MaxCallDepth   int
	MaxSteps       int
	MaxCyclePasses int // passes of one canned cycle, and its L repeat
	OptionalStop   bool
}

// MagazineSettings holds the [magazine] section.
type MagazineSettings struct {
	Slots       int
	ToolTable   string
	WearWarning float64
}

// FieldLinkSettings holds the [fieldlink] section.
type FieldLinkSettings struct {
	Transport string // "websocket", "serial" or "none"
	URL       string
	Device    string
	Baud      int
}

// ServerSettings holds the [server] section.
type ServerSettings struct {
	Address        string
	StatusInterval time.Duration
	ProgramDir     string
}

// LogSettings holds the [log] section.
type LogSettings struct {
	Level      string
	Format     string
	File       string
	MaxSize    int
	MaxBackups int
	Compress   bool
}

// MachineConfig is the complete typed configuration of one machine.
type MachineConfig struct {
	Name         string
	Planner      PlannerSettings
	Interpreter  InterpreterSettings
	Limits       map[string]AxisLimit
	Magazine     MagazineSettings
	OffsetsFile  string
	MaxSpindle   float64
	StaleTimeout time.Duration
	FieldLink    FieldLinkSettings
	Server       ServerSettings
	Log          LogSettings
}

// DefaultMachine returns the settings used when an option is absent.
func DefaultMachine() *MachineConfig {
	return &MachineConfig{
		Name: "cnc",
		Planner: PlannerSettings{
			MaxFeed:        15000,
			MaxRapid:       30000,
			MaxAccel:       5000,
			MaxJerk:        50000,
			Lookahead:      100,
			Profile:        "trapezoid",
			BlendTolerance: 0.02,
			MaxBlendAngle:  120,
			ArcTolerance:   0.002,
		},
		Interpreter: InterpreterSettings{
			MaxCallDepth:   16,
			MaxSteps:       100000,
			MaxCyclePasses: 1000,
		},
		Limits: map[string]AxisLimit{
			"X": {-500, 500},
			"Y": {-500, 500},
			"Z": {-300, 0},
			"A": {-360, 360},
			"B": {-120, 120},
			"C": {-360, 360},
		},
		Magazine:     MagazineSettings{Slots: 24, WearWarning: 90},
		MaxSpindle:   24000,
		StaleTimeout: 250 * time.Millisecond,
		FieldLink:    FieldLinkSettings{Transport: "none", Baud: 115200},
		Server:       ServerSettings{Address: ":7125", StatusInterval: 250 * time.Millisecond},
		Log:          LogSettings{Level: "info", Format: "text", MaxSize: 10, MaxBackups: 5},
	}
}

// sectionReader keeps the first error so extraction reads linearly.
type sectionReader struct {
	err error
}

func (r *sectionReader) keep(err error) {
	if r.err == nil && err != nil {
		r.err = err
	}
}

func (r *sectionReader) str(s *Section, opt, def string) string {
	v, err := s.Get(opt, def)
	r.keep(err)
	return v
}

func (r *sectionReader) positive(s *Section, opt string, def float64) float64 {
	v, err := s.GetFloatWithBounds(opt, FloatBounds{Above: Ptr(0)}, def)
	r.keep(err)
	return v
}

func (r *sectionReader) float(s *Section, opt string, def float64) float64 {
	v, err := s.GetFloat(opt, def)
	r.keep(err)
	return v
}

func (r *sectionReader) intRange(s *Section, opt string, min, max, def int) int {
	v, err := s.GetIntWithBounds(opt, min, max, def)
	r.keep(err)
	return v
}

func (r *sectionReader) boolean(s *Section, opt string, def bool) bool {
	v, err := s.GetBool(opt, def)
	r.keep(err)
	return v
}

func (r *sectionReader) duration(s *Section, opt string, def time.Duration) time.Duration {
	v, err := s.GetDuration(opt, def)
	r.keep(err)
	return v
}

func (r *sectionReader) choice(s *Section, opt string, choices []string, def string) string {
	v, err := s.GetChoice(opt, choices, def)
	r.keep(err)
	return v
}

// LoadMachine extracts a MachineConfig from c. Absent sections and options
// take the DefaultMachine values; paths are resolved against the config
// file directory.
func LoadMachine(c *Config) (*MachineConfig, error) {
	m := DefaultMachine()
	r := &sectionReader{}

	sec := c.Section("machine")
	m.Name = r.str(sec, "name", m.Name)

	sec = c.Section("planner")
	p := &m.Planner
	p.MaxFeed = r.positive(sec, "max_feed", p.MaxFeed)
	p.MaxRapid = r.positive(sec, "max_rapid", p.MaxRapid)
	p.MaxAccel = r.positive(sec, "max_accel", p.MaxAccel)
	p.MaxJerk = r.positive(sec, "max_jerk", p.MaxJerk)
	p.Lookahead = r.intRange(sec, "lookahead", 1, 10000, p.Lookahead)
	p.Profile = r.choice(sec, "profile", []string{"trapezoid", "scurve"}, p.Profile)
	p.BlendTolerance = r.positive(sec, "blend_tolerance", p.BlendTolerance)
	angle, err := sec.GetFloatWithBounds("max_blend_angle", FloatBounds{MinVal: Ptr(0), Below: Ptr(180)}, p.MaxBlendAngle)
	r.keep(err)
	p.MaxBlendAngle = angle
	p.ArcTolerance = r.positive(sec, "arc_tolerance", p.ArcTolerance)

	sec = c.Section("interpreter")
	m.Interpreter.MaxCallDepth = r.intRange(sec, "max_call_depth", 1, 1000, m.Interpreter.MaxCallDepth)
	m.Interpreter.MaxSteps = r.intRange(sec, "max_steps", 1, 1<<30, m.Interpreter.MaxSteps)
	m.Interpreter.MaxCyclePasses = r.intRange(sec, "max_cycle_passes", 1, 1000000, m.Interpreter.MaxCyclePasses)
	m.Interpreter.OptionalStop = r.boolean(sec, "optional_stop", false)

	for _, ls := range c.GetPrefixSections("limits ") {
		axis := strings.ToUpper(ls.Suffix())
		def, known := m.Limits[axis]
		if !known {
			r.keep(NewConfigError(ls.Name(), "", "unknown axis "+axis))
			continue
		}
		lim := AxisLimit{Min: r.float(ls, "min", def.Min), Max: r.float(ls, "max", def.Max)}
		if lim.Min > lim.Max {
			r.keep(NewConfigError(ls.Name(), "min", "must not exceed max"))
		}
		m.Limits[axis] = lim
	}

	sec = c.Section("magazine")
	m.Magazine.Slots = r.intRange(sec, "slots", 1, 999, m.Magazine.Slots)
	m.Magazine.ToolTable = c.ResolvePath(r.str(sec, "tool_table", ""))
	wear, err := sec.GetFloatWithBounds("wear_warning", FloatBounds{MinVal: Ptr(0), MaxVal: Ptr(100)}, m.Magazine.WearWarning)
	r.keep(err)
	m.Magazine.WearWarning = wear

	m.OffsetsFile = c.ResolvePath(r.str(c.Section("offsets"), "file", ""))
	m.MaxSpindle = r.positive(c.Section("spindle"), "max_rpm", m.MaxSpindle)
	m.StaleTimeout = r.duration(c.Section("safety"), "stale_timeout", m.StaleTimeout)

	sec = c.Section("fieldlink")
	m.FieldLink.Transport = r.choice(sec, "transport", []string{"none", "websocket", "serial"}, m.FieldLink.Transport)
	m.FieldLink.URL = r.str(sec, "url", "")
	m.FieldLink.Device = r.str(sec, "device", "")
	m.FieldLink.Baud = r.intRange(sec, "baud", 1200, 4000000, m.FieldLink.Baud)
	if m.FieldLink.Transport == "websocket" && m.FieldLink.URL == "" {
		r.keep(ErrMissingOption("fieldlink", "url"))
	}
	if m.FieldLink.Transport == "serial" && m.FieldLink.Device == "" {
		r.keep(ErrMissingOption("fieldlink", "device"))
	}

	sec = c.Section("server")
	m.Server.Address = r.str(sec, "address", m.Server.Address)
	m.Server.StatusInterval = r.duration(sec, "status_interval", m.Server.StatusInterval)
	m.Server.ProgramDir = c.ResolvePath(r.str(sec, "program_dir", m.Server.ProgramDir))

	sec = c.Section("log")
	m.Log.Level = r.choice(sec, "level", []string{"debug", "info", "warn", "error"}, m.Log.Level)
	m.Log.Format = r.choice(sec, "format", []string{"text", "json"}, m.Log.Format)
	m.Log.File = c.ResolvePath(r.str(sec, "file", ""))
	m.Log.MaxSize = r.intRange(sec, "max_size", 1, 1024, m.Log.MaxSize)
	m.Log.MaxBackups = r.intRange(sec, "max_backups", 1, 100, m.Log.MaxBackups)
	m.Log.Compress = r.boolean(sec, "compress", false)

	if r.err != nil {
		return nil, r.err
	}
	return m, nil
}
