package fieldlink

import (
	"errors"
	"reflect"
	"testing"
)

func TestDecodeRecord(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		safe      bool
		reasons   []string
		emergency bool
		source    string
	}{
		{"native safe", `{"safe":true}`, true, nil, false, ""},
		{"native safe drops reasons", `{"safe":true,"reasons":["x"]}`, true, nil, false, ""},
		{"native unsafe", `{"safe":false,"reasons":["guard open"],"source":"plc"}`, false, []string{"guard open"}, false, "plc"},
		{"native unsafe without reason", `{"safe":false}`, false, []string{"unsafe"}, false, ""},
		{
			"sensors all good",
			`{"device_id":"esp32-1","emergency_stop":false,"door_closed":true,"overload_detected":false,"temperature_ok":true}`,
			true, nil, false, "esp32-1",
		},
		{
			"sensors camel case",
			`{"emergencyStop":false,"doorClosed":false,"overloadDetected":true,"temperatureOk":true}`,
			false, []string{ReasonDoorOpen, ReasonOverload}, false, "",
		},
		{
			"emergency stop",
			`{"emergency_stop":true,"door_closed":true,"overload_detected":false,"temperature_ok":false}`,
			false, []string{ReasonEmergencyStop, ReasonTemperature}, true, "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := DecodeRecord([]byte(tt.in))
			if err != nil {
				t.Fatalf("DecodeRecord: %v", err)
			}
			if rec.Status.Safe != tt.safe || rec.Emergency != tt.emergency || rec.Status.Source != tt.source {
				t.Errorf("got %+v", rec)
			}
			if !reflect.DeepEqual(rec.Status.Reasons, tt.reasons) {
				t.Errorf("reasons = %q, want %q", rec.Status.Reasons, tt.reasons)
			}
		})
	}
}

func TestDecodeRecordErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"unknown", `{"temperatures":[20.5]}`, ErrUnknownRecord},
		{"incomplete", `{"emergency_stop":false,"door_closed":true}`, ErrIncompleteRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeRecord([]byte(tt.in)); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := DecodeRecord([]byte("{not json")); err == nil {
		t.Error("malformed JSON accepted")
	}
}

func TestEncodeSensorsDecodes(t *testing.T) {
	data, err := EncodeSensors("sim", false, false, false, true)
	if err != nil {
		t.Fatal(err)
	}
	rec, err := DecodeRecord(data)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status.Safe || rec.Status.Source != "sim" || rec.Status.Reasons[0] != ReasonDoorOpen {
		t.Errorf("got %+v", rec)
	}
}
