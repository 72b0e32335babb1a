// Tool table import
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ToolRecord is one tool as stored in the tool table file.
type ToolRecord struct {
	Number       int     `yaml:"number"`
	Name         string  `yaml:"name"`
	Type         string  `yaml:"type"`
	Diameter     float64 `yaml:"diameter"`
	Length       float64 `yaml:"length"`
	Flutes       int     `yaml:"flutes"`
	Material     string  `yaml:"material"`
	Coating      string  `yaml:"coating"`
	LengthOffset float64 `yaml:"length_offset"`
	RadiusOffset float64 `yaml:"radius_offset"`
	ExpectedLife float64 `yaml:"expected_life"` // minutes of cutting time
	Slot         int     `yaml:"slot"`          // 0 = not in the magazine
}

// ToolTable is the YAML document holding the tool list.
type ToolTable struct {
	Tools []ToolRecord `yaml:"tools"`
}

// LoadToolTable reads and validates a YAML tool table.
func LoadToolTable(path string) (*ToolTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read tool table: %w", err)
	}
	return ParseToolTable(data)
}

// ParseToolTable decodes and validates a YAML tool table.
func ParseToolTable(data []byte) (*ToolTable, error) {
	var table ToolTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, WrapError("magazine", "tool_table", err)
	}

	numbers := make(map[int]bool, len(table.Tools))
	slots := make(map[int]int)
	for i, t := range table.Tools {
		if t.Number < 1 || t.Number > 999 {
			return nil, NewConfigError("magazine", "tool_table", fmt.Sprintf("entry %d: tool number %d outside 1-999", i, t.Number))
		}
		if numbers[t.Number] {
			return nil, NewConfigError("magazine", "tool_table", fmt.Sprintf("duplicate tool T%d", t.Number))
		}
		numbers[t.Number] = true
		if t.Slot < 0 {
			return nil, NewConfigError("magazine", "tool_table", fmt.Sprintf("T%d: negative slot", t.Number))
		}
		if t.Slot > 0 {
			if other, taken := slots[t.Slot]; taken {
				return nil, NewConfigError("magazine", "tool_table", fmt.Sprintf("slot %d assigned to T%d and T%d", t.Slot, other, t.Number))
			}
			slots[t.Slot] = t.Number
		}
		if t.Diameter < 0 || t.Length < 0 {
			return nil, NewConfigError("magazine", "tool_table", fmt.Sprintf("T%d: negative geometry", t.Number))
		}
	}
	return &table, nil
}
