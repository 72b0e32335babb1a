// Field-layer safety records
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package fieldlink

import (
	"encoding/json"
	"errors"
	"fmt"

	"modax-cnc/pkg/safety"
)

const (
	ReasonEmergencyStop = "emergency stop active"
	ReasonDoorOpen      = "door open"
	ReasonOverload      = "motor overload detected"
	ReasonTemperature   = "temperature out of range"
)

var (
	ErrUnknownRecord    = errors.New("fieldlink: record carries no safety fields")
	ErrIncompleteRecord = errors.New("fieldlink: incomplete field record")
)

// Record is one decoded safety message.
type Record struct {
	Status safety.Status
	// Emergency is set when the record reports a pressed emergency stop.
	Emergency bool
}

// wireRecord accepts the native {safe, reasons} form and the sensor form
// in both snake_case and camelCase.
type wireRecord struct {
	Safe    *bool    `json:"safe"`
	Reasons []string `json:"reasons"`
	Source  string   `json:"source"`
	Device  string   `json:"device_id"`

	EmergencyStop    *bool `json:"emergency_stop"`
	DoorClosed       *bool `json:"door_closed"`
	OverloadDetected *bool `json:"overload_detected"`
	TemperatureOK    *bool `json:"temperature_ok"`

	EmergencyStopCamel    *bool `json:"emergencyStop"`
	DoorClosedCamel       *bool `json:"doorClosed"`
	OverloadDetectedCamel *bool `json:"overloadDetected"`
	TemperatureOKCamel    *bool `json:"temperatureOk"`
}

func pick(a, b *bool) *bool {
	if a != nil {
		return a
	}
	return b
}

// DecodeRecord parses one JSON safety record.
func DecodeRecord(data []byte) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return Record{}, fmt.Errorf("fieldlink: decode record: %w", err)
	}
	source := w.Source
	if source == "" {
		source = w.Device
	}

	if w.Safe != nil {
		st := safety.Status{Safe: *w.Safe, Reasons: w.Reasons, Source: source}
		if !st.Safe && len(st.Reasons) == 0 {
			st.Reasons = []string{"unsafe"}
		}
		if st.Safe {
			st.Reasons = nil
		}
		return Record{Status: st}, nil
	}

	estop := pick(w.EmergencyStop, w.EmergencyStopCamel)
	door := pick(w.DoorClosed, w.DoorClosedCamel)
	overload := pick(w.OverloadDetected, w.OverloadDetectedCamel)
	temp := pick(w.TemperatureOK, w.TemperatureOKCamel)
	if estop == nil && door == nil && overload == nil && temp == nil {
		return Record{}, ErrUnknownRecord
	}
	if estop == nil || door == nil || overload == nil || temp == nil {
		return Record{}, ErrIncompleteRecord
	}

	var reasons []string
	if *estop {
		reasons = append(reasons, ReasonEmergencyStop)
	}
	if !*door {
		reasons = append(reasons, ReasonDoorOpen)
	}
	if *overload {
		reasons = append(reasons, ReasonOverload)
	}
	if !*temp {
		reasons = append(reasons, ReasonTemperature)
	}
	return Record{
		Status:    safety.Status{Safe: len(reasons) == 0, Reasons: reasons, Source: source},
		Emergency: *estop,
	}, nil
}

// EncodeSensors builds the sensor form of a record, as published by the
// field controller.
func EncodeSensors(device string, emergencyStop, doorClosed, overload, temperatureOK bool) ([]byte, error) {
	return json.Marshal(struct {
		Device           string `json:"device_id"`
		EmergencyStop    bool   `json:"emergency_stop"`
		DoorClosed       bool   `json:"door_closed"`
		OverloadDetected bool   `json:"overload_detected"`
		TemperatureOK    bool   `json:"temperature_ok"`
	}{device, emergencyStop, doorClosed, overload, temperatureOK})
}
