// fieldsim tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"modax-cnc/pkg/fieldlink"
	"modax-cnc/pkg/safety"
)

func TestSensorsApply(t *testing.T) {
	tests := []struct {
		cmds    []string
		safe    bool
		reasons []string
		estop   bool
	}{
		{nil, true, nil, false},
		{[]string{"door open"}, false, []string{fieldlink.ReasonDoorOpen}, false},
		{[]string{"door open", "door close"}, true, nil, false},
		{[]string{"overload on", "temp bad"}, false, []string{fieldlink.ReasonOverload, fieldlink.ReasonTemperature}, false},
		{[]string{"estop"}, false, []string{fieldlink.ReasonEmergencyStop}, true},
		{[]string{"estop", "door open", "clear"}, true, nil, false},
	}
	for _, tt := range tests {
		s := &sensors{}
		for _, c := range tt.cmds {
			if err := s.apply(c); err != nil {
				t.Fatalf("apply(%q): %v", c, err)
			}
		}
		data, err := s.record("sim")
		if err != nil {
			t.Fatal(err)
		}
		rec, err := fieldlink.DecodeRecord(data)
		if err != nil {
			t.Fatalf("%v: decode: %v", tt.cmds, err)
		}
		if rec.Status.Safe != tt.safe || rec.Emergency != tt.estop {
			t.Errorf("%v: safe %v emergency %v", tt.cmds, rec.Status.Safe, rec.Emergency)
		}
		if strings.Join(rec.Status.Reasons, ",") != strings.Join(tt.reasons, ",") {
			t.Errorf("%v: reasons %v, want %v", tt.cmds, rec.Status.Reasons, tt.reasons)
		}
		if rec.Status.Source != "sim" {
			t.Errorf("source = %q", rec.Status.Source)
		}
	}
}

func TestSensorsApplyErrors(t *testing.T) {
	s := &sensors{}
	for _, c := range []string{"door", "door sideways", "launch", "temp"} {
		if err := s.apply(c); err == nil {
			t.Errorf("apply(%q) accepted", c)
		}
	}
	if err := s.apply("   "); err != nil {
		t.Errorf("blank line: %v", err)
	}
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (w *syncBuffer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.b.Write(p)
}

func (w *syncBuffer) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.b.String()
}

func TestServeStream(t *testing.T) {
	h := newHub()
	ctx, cancel := context.WithCancel(context.Background())
	var out syncBuffer
	done := make(chan struct{})
	go func() {
		h.serveStream(ctx, "test", &out)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for h.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	h.publish([]byte(`{"a":1}`))
	h.publish([]byte(`{"a":2}`))
	for !strings.Contains(out.String(), `{"a":2}`) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if got := out.String(); got != "{\"a\":1}\n{\"a\":2}\n" {
		t.Errorf("stream = %q", got)
	}
	if h.count() != 0 {
		t.Errorf("subscriber not removed")
	}
}

type sink struct {
	mu        sync.Mutex
	statuses  []safety.Status
	emergency []string
}

func (s *sink) Update(st safety.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
}

func (s *sink) Emergency(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emergency = append(s.emergency, reason)
}

func (s *sink) snapshot() ([]safety.Status, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]safety.Status(nil), s.statuses...), append([]string(nil), s.emergency...)
}

func TestWebsocketFeedsFieldLink(t *testing.T) {
	h := newHub()
	ts := httptest.NewServer(http.HandlerFunc(h.serveWS))
	defer ts.Close()

	state := &sensors{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go publishLoop(ctx, h, state, "sim", 10*time.Millisecond)

	sk := &sink{}
	client := fieldlink.NewWebsocketClient(fieldlink.Config{
		Transport: fieldlink.TransportWebsocket,
		URL:       "ws" + strings.TrimPrefix(ts.URL, "http"),
	}, sk)
	runDone := make(chan struct{})
	go func() {
		client.Run(ctx)
		close(runDone)
	}()

	wait := func(cond func([]safety.Status, []string) bool) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if cond(sk.snapshot()) {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		st, em := sk.snapshot()
		t.Fatalf("condition not met: %d statuses, emergencies %v", len(st), em)
	}

	wait(func(st []safety.Status, _ []string) bool { return len(st) > 0 && st[len(st)-1].Safe })

	state.apply("estop")
	wait(func(st []safety.Status, em []string) bool {
		return len(em) == 1 && len(st) > 0 && !st[len(st)-1].Safe
	})

	cancel()
	<-runDone
}
