// Field-layer link
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package fieldlink receives safety records from the field layer over a
// websocket or a serial line and feeds them to the safety monitor.
package fieldlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"modax-cnc/pkg/config"
	"modax-cnc/pkg/log"
	"modax-cnc/pkg/metrics"
	"modax-cnc/pkg/safety"
	"modax-cnc/pkg/serial"

	"github.com/gorilla/websocket"
)

const (
	TransportWebsocket = "websocket"
	TransportSerial    = "serial"
	TransportNone      = "none"

	// unixPrefix selects a Unix socket instead of a tty for the serial
	// transport.
	unixPrefix = "unix:"
)

// Sink receives decoded records. *safety.Monitor satisfies it.
type Sink interface {
	Update(st safety.Status)
	Emergency(reason string)
}

// Config holds the link settings.
type Config struct {
	Transport      string
	URL            string
	Device         string
	Baud           int
	ReconnectDelay time.Duration
	ReadTimeout    time.Duration
	Metrics        *metrics.Machine
}

// ConfigFromMachine reads the [fieldlink] section.
func ConfigFromMachine(m *config.MachineConfig) Config {
	return Config{
		Transport: m.FieldLink.Transport,
		URL:       m.FieldLink.URL,
		Device:    m.FieldLink.Device,
		Baud:      m.FieldLink.Baud,
	}
}

func (c *Config) defaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 200 * time.Millisecond
	}
}

// Runner reads records until ctx is done.
type Runner interface {
	Run(ctx context.Context) error
}

// New returns the runner for cfg.Transport.
func New(cfg Config, sink Sink) (Runner, error) {
	switch strings.ToLower(cfg.Transport) {
	case TransportWebsocket:
		if cfg.URL == "" {
			return nil, errors.New("fieldlink: websocket transport needs a url")
		}
		return NewWebsocketClient(cfg, sink), nil
	case TransportSerial:
		if cfg.Device == "" {
			return nil, errors.New("fieldlink: serial transport needs a device")
		}
		return NewSerialReader(cfg, sink), nil
	}
	return nil, fmt.Errorf("fieldlink: unsupported transport %q", cfg.Transport)
}

// link holds what both transports share: decoding, delivery and counters.
type link struct {
	cfg       Config
	sink      Sink
	transport string
	logger    *log.Logger
	lastEstop bool
}

func newLink(cfg Config, sink Sink, transport string) link {
	cfg.defaults()
	return link{cfg: cfg, sink: sink, transport: transport, logger: log.GetLogger("fieldlink")}
}

// deliver decodes data and forwards it. Bad records are counted and
// dropped; the safety watchdog covers a link that only sends garbage.
func (l *link) deliver(data []byte) {
	rec, err := DecodeRecord(data)
	if err != nil {
		l.cfg.Metrics.RecordFieldError(l.transport)
		l.logger.WithError(err).WithField("transport", l.transport).Warn("dropped field record")
		return
	}
	if rec.Status.Source == "" {
		rec.Status.Source = l.transport
	}
	l.cfg.Metrics.RecordFieldRecord(l.transport)
	l.sink.Update(rec.Status)
	if rec.Emergency && !l.lastEstop {
		l.sink.Emergency("field emergency stop")
	}
	l.lastEstop = rec.Emergency
}

// pause waits for the reconnect delay; false means ctx is done.
func (l *link) pause(ctx context.Context) bool {
	t := time.NewTimer(l.cfg.ReconnectDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *link) failed(err error, msg string) {
	l.cfg.Metrics.RecordFieldError(l.transport)
	l.logger.WithError(err).WithField("transport", l.transport).Warn(msg)
}

// WebsocketClient reads one JSON record per text message.
type WebsocketClient struct {
	link
	dialer *websocket.Dialer
}

// NewWebsocketClient creates a client for cfg.URL.
func NewWebsocketClient(cfg Config, sink Sink) *WebsocketClient {
	return &WebsocketClient{
		link:   newLink(cfg, sink, TransportWebsocket),
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
	}
}

// Run connects, reads and reconnects until ctx is done.
func (c *WebsocketClient) Run(ctx context.Context) error {
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.failed(err, "field link connect failed")
		} else {
			c.logger.WithField("url", c.cfg.URL).Info("field link connected")
			err = c.read(ctx, conn)
			if ctx.Err() != nil {
				return nil
			}
			c.failed(err, "field link lost")
		}
		if !c.pause(ctx) {
			return nil
		}
	}
}

func (c *WebsocketClient) read(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("fieldlink: read: %w", err)
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		c.deliver(data)
	}
}

// SerialReader reads one JSON record per line from a serial device.
type SerialReader struct {
	link
}

// NewSerialReader creates a reader for cfg.Device.
func NewSerialReader(cfg Config, sink Sink) *SerialReader {
	return &SerialReader{link: newLink(cfg, sink, TransportSerial)}
}

func (r *SerialReader) open() (*serial.Port, error) {
	if path, ok := strings.CutPrefix(r.cfg.Device, unixPrefix); ok {
		return serial.OpenSocket(path, r.cfg.ReconnectDelay)
	}
	cfg := serial.DefaultConfig()
	cfg.Device = r.cfg.Device
	if r.cfg.Baud > 0 {
		cfg.BaudRate = r.cfg.Baud
	}
	return serial.Open(cfg)
}

// Run opens the device, reads and reopens until ctx is done.
func (r *SerialReader) Run(ctx context.Context) error {
	for {
		port, err := r.open()
		if err != nil {
			r.failed(err, "field link open failed")
		} else {
			r.logger.WithField("device", port.Device()).Info("field link connected")
			// records queued before the connect are stale
			if !port.IsSocket() {
				if err := port.Flush(); err != nil {
					r.logger.WithError(err).Debug("flush failed")
				}
			}
			port.SetReadTimeout(r.cfg.ReadTimeout)
			err = r.read(ctx, port)
			port.Close()
			if ctx.Err() != nil {
				return nil
			}
			r.failed(err, "field link lost")
		}
		if !r.pause(ctx) {
			return nil
		}
	}
}

func (r *SerialReader) read(ctx context.Context, port *serial.Port) error {
	lines := serial.NewLineReader(port)
	for ctx.Err() == nil {
		line, err := lines.ReadLine()
		switch {
		case err == nil:
			r.deliver(line)
		case errors.Is(err, serial.ErrTimeout):
		case errors.Is(err, serial.ErrLineTooLong):
			r.failed(err, "dropped field record")
		case errors.Is(err, io.EOF):
			return fmt.Errorf("fieldlink: %s closed", r.cfg.Device)
		default:
			return err
		}
	}
	return nil
}
