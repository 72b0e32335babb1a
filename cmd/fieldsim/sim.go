// Simulated field-layer sensors and record fan-out
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"modax-cnc/pkg/fieldlink"
	"modax-cnc/pkg/log"

	"github.com/gorilla/websocket"
)

// sensors is the simulated microcontroller input state.
type sensors struct {
	mu       sync.Mutex
	estop    bool
	doorOpen bool
	overload bool
	tempBad  bool
}

// apply changes the state from an operator command such as "estop",
// "release", "door open" or "temp bad".
func (s *sensors) apply(line string) error {
	f := strings.Fields(strings.ToLower(line))
	if len(f) == 0 {
		return nil
	}
	arg := ""
	if len(f) > 1 {
		arg = f[1]
	}
	on := arg == "on" || arg == "open" || arg == "bad" || arg == "1"
	off := arg == "off" || arg == "close" || arg == "closed" || arg == "ok" || arg == "0"

	s.mu.Lock()
	defer s.mu.Unlock()
	switch f[0] {
	case "estop":
		s.estop = true
	case "release":
		s.estop = false
	case "door", "overload", "temp":
		if on == off {
			return fmt.Errorf("%s needs one of on/off, open/close, bad/ok", f[0])
		}
		switch f[0] {
		case "door":
			s.doorOpen = on
		case "overload":
			s.overload = on
		case "temp":
			s.tempBad = on
		}
	case "clear":
		s.estop, s.doorOpen, s.overload, s.tempBad = false, false, false, false
	default:
		return fmt.Errorf("unknown command %q", f[0])
	}
	return nil
}

func (s *sensors) record(device string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fieldlink.EncodeSensors(device, s.estop, !s.doorOpen, s.overload, !s.tempBad)
}

func (s *sensors) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("estop=%v door_open=%v overload=%v temp_bad=%v", s.estop, s.doorOpen, s.overload, s.tempBad)
}

// subscriber is one connected consumer with its own send queue.
type subscriber struct {
	name string
	ch   chan []byte
}

// hub fans records out to every subscriber. Slow subscribers lose
// records rather than stall the publisher.
type hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	logger *log.Logger
}

func newHub() *hub {
	return &hub{subs: make(map[*subscriber]struct{}), logger: log.GetLogger("fieldsim")}
}

func (h *hub) subscribe(name string) *subscriber {
	s := &subscriber{name: name, ch: make(chan []byte, 16)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.logger.WithFields(log.Fields{"subscriber": name, "count": n}).Info("subscriber connected")
	return s
}

func (h *hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()
	h.logger.WithFields(log.Fields{"subscriber": s.name, "count": n}).Info("subscriber disconnected")
}

func (h *hub) publish(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- msg:
		default:
		}
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// publishLoop sends the sensor record every period until ctx is done.
func publishLoop(ctx context.Context, h *hub, s *sensors, device string, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		rec, err := s.record(device)
		if err != nil {
			h.logger.WithError(err).Error("encode record failed")
		} else {
			h.publish(rec)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveWS streams records to one websocket client.
func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()
	sub := h.subscribe("ws " + r.RemoteAddr)
	defer h.unsubscribe(sub)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case msg := <-sub.ch:
			conn.SetWriteDeadline(time.Now().Add(time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// serveStream writes newline-terminated records to w until a write
// fails or ctx is done.
func (h *hub) serveStream(ctx context.Context, name string, w io.Writer) {
	sub := h.subscribe(name)
	defer h.unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub.ch:
			line := append(append([]byte(nil), msg...), '\n')
			if _, err := w.Write(line); err != nil {
				return
			}
		}
	}
}
