// Work offset table import
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// OffsetRecord is one coordinate system entry of the offset table.
type OffsetRecord struct {
	X        float64   `toml:"x"`
	Y        float64   `toml:"y"`
	Z        float64   `toml:"z"`
	A        float64   `toml:"a"`
	B        float64   `toml:"b"`
	C        float64   `toml:"c"`
	Rotation float64   `toml:"rotation"` // degrees about the active plane normal
	Scale    []float64 `toml:"scale"`    // per axis, X first; missing entries are 1
	Mirror   []string  `toml:"mirror"`   // axis letters
}

// Vector returns the translation in X..C order.
func (r OffsetRecord) Vector() [6]float64 {
	return [6]float64{r.X, r.Y, r.Z, r.A, r.B, r.C}
}

// OffsetTable is the TOML document holding persisted work offsets.
//
//	[work.G54]
//	x = 120.0
//	[work."G59.1"]
//	z = -15
//	[extended.12]   # G54.1 P12
//	x = 40
type OffsetTable struct {
	Work     map[string]OffsetRecord `toml:"work"`
	Extended map[string]OffsetRecord `toml:"extended"`
	Local    *OffsetRecord           `toml:"local"`
}

var workCodes = map[string]bool{
	"G54": true, "G55": true, "G56": true, "G57": true, "G58": true,
	"G59": true, "G59.1": true, "G59.2": true, "G59.3": true,
}

// LoadOffsetTable reads and validates a TOML offset table.
func LoadOffsetTable(path string) (*OffsetTable, error) {
	var table OffsetTable
	if _, err := toml.DecodeFile(path, &table); err != nil {
		return nil, WrapError("offsets", "file", err)
	}
	return &table, table.validate()
}

// ParseOffsetTable decodes and validates TOML offset data.
func ParseOffsetTable(data string) (*OffsetTable, error) {
	var table OffsetTable
	if _, err := toml.Decode(data, &table); err != nil {
		return nil, WrapError("offsets", "file", err)
	}
	return &table, table.validate()
}

// ExtendedIndex parses an [extended.N] key.
func ExtendedIndex(key string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(key), "P"))
	if err != nil || n < 1 || n > 300 {
		return 0, fmt.Errorf("extended offset %q must be 1-300", key)
	}
	return n, nil
}

func (t *OffsetTable) validate() error {
	for code, rec := range t.Work {
		if !workCodes[strings.ToUpper(code)] {
			return NewConfigError("offsets", "file", fmt.Sprintf("unknown work system %q", code))
		}
		if err := rec.validate(); err != nil {
			return NewConfigError("offsets", "file", code+": "+err.Error())
		}
	}
	for key, rec := range t.Extended {
		if _, err := ExtendedIndex(key); err != nil {
			return NewConfigError("offsets", "file", err.Error())
		}
		if err := rec.validate(); err != nil {
			return NewConfigError("offsets", "file", key+": "+err.Error())
		}
	}
	if t.Local != nil {
		return t.Local.validate()
	}
	return nil
}

func (r OffsetRecord) validate() error {
	if len(r.Scale) > 6 {
		return fmt.Errorf("scale has %d entries, at most 6", len(r.Scale))
	}
	for _, s := range r.Scale {
		if s == 0 {
			return fmt.Errorf("scale factor must not be zero")
		}
	}
	for _, m := range r.Mirror {
		if !strings.Contains("XYZABC", strings.ToUpper(m)) || len(m) != 1 {
			return fmt.Errorf("mirror axis %q", m)
		}
	}
	return nil
}
