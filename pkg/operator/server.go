// Operator API server
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package operator exposes the controller to operator front ends: JSON-RPC
// 2.0 over HTTP and websocket, a small REST surface and periodic status
// notifications to every connected websocket client.
package operator

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"modax-cnc/pkg/controller"
	cncerr "modax-cnc/pkg/errors"
	"modax-cnc/pkg/log"
	"modax-cnc/pkg/metrics"

	"github.com/gorilla/websocket"
)

// Version is reported by server.info.
const Version = "0.3.0"

// Machine is the controller surface the server drives.
type Machine interface {
	LoadProgram(name, text string) error
	Start() error
	SetMode(m controller.OperatingMode) error
	ExecuteMDI(text string) error
	Jog(axis string, distance, feed float64) error
	Home() error
	Pause() error
	Resume() error
	Stop() error
	Reset() error
	EmergencyStop(reason string)
	SetFeedOverride(pct float64) (float64, error)
	SetSpindleOverride(pct float64) (float64, error)
	SetRapidOverride(pct float64) (float64, error)
	Status() controller.Status
}

// Config holds server configuration.
type Config struct {
	// Addr is the listen address, e.g. ":7125"
	Addr string

	Machine Machine

	// Metrics is served on /metrics when set
	Metrics     metrics.Gatherer
	MetricsAuth metrics.HandlerConfig

	// StatusInterval is the notify_status_update period
	StatusInterval time.Duration

	// ProgramDir enables the program library when set
	ProgramDir string
}

// Server is the operator API server.
type Server struct {
	machine  Machine
	programs *Library
	interval time.Duration
	logger   *log.Logger

	addr       string
	handler    http.Handler
	httpServer *http.Server
	srvMu      sync.Mutex

	upgrader  websocket.Upgrader
	clientsMu sync.RWMutex
	clients   map[string]*wsClient

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	startTime time.Time
}

// New creates a server and starts its status broadcaster. Shutdown stops
// both the listener and the broadcaster.
func New(cfg Config) (*Server, error) {
	if cfg.Machine == nil {
		return nil, cncerr.New(cncerr.ErrInvalidArgument, "operator server needs a machine")
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 250 * time.Millisecond
	}
	s := &Server{
		machine:   cfg.Machine,
		interval:  cfg.StatusInterval,
		logger:    log.GetLogger("operator"),
		addr:      cfg.Addr,
		clients:   make(map[string]*wsClient),
		done:      make(chan struct{}),
		startTime: time.Now(),
	}
	if cfg.ProgramDir != "" {
		lib, err := NewLibrary(cfg.ProgramDir)
		if err != nil {
			return nil, err
		}
		s.programs = lib
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/jsonrpc", s.handleJSONRPC)
	mux.HandleFunc("/websocket", s.handleWebSocket)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/program", s.handleProgram)
	mux.HandleFunc("/programs", s.handlePrograms)
	mux.HandleFunc("/machine/emergency_stop", s.handleEmergencyStop)
	if cfg.Metrics != nil {
		mux.Handle("/metrics", metrics.HandlerWithConfig(cfg.Metrics, cfg.MetricsAuth))
	}
	s.handler = s.corsMiddleware(mux)

	s.wg.Add(1)
	go s.statusBroadcastLoop()
	return s, nil
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Library returns the program library, or nil when none is configured.
func (s *Server) Library() *Library { return s.programs }

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return cncerr.Wrap(err, cncerr.ErrConfig, "operator listen failed")
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.srvMu.Lock()
	if s.isClosed() {
		s.srvMu.Unlock()
		ln.Close()
		return http.ErrServerClosed
	}
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.srvMu.Unlock()

	s.logger.WithField("addr", ln.Addr().String()).Info("operator server listening")
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown closes every websocket client and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })

	s.clientsMu.Lock()
	for _, c := range s.clients {
		c.Close()
	}
	s.clients = make(map[string]*wsClient)
	s.clientsMu.Unlock()

	var err error
	s.srvMu.Lock()
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.srvMu.Unlock()
	s.wg.Wait()
	s.logger.Info("operator server stopped")
	return err
}

func (s *Server) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Server) clientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// REST handlers

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.machine.Status())
}

// programRequest is the body of POST /program and the params of
// program.load.
type programRequest struct {
	Name  string `json:"name"`
	Text  string `json:"text"`
	File  string `json:"file"`
	Save  bool   `json:"save"`
	Start bool   `json:"start"`
}

func (s *Server) handleProgram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req programRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxProgramSize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, cncerr.Wrap(err, cncerr.ErrInvalidArgument, "invalid request body"))
		return
	}
	res, err := s.loadProgram(req)
	if err != nil {
		s.writeJSONError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"result": res})
}

func (s *Server) handlePrograms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	res, err := s.listPrograms()
	if err != nil {
		s.writeJSONError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"result": res})
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.machine.EmergencyStop("operator emergency stop (http)")
	s.writeJSON(w, http.StatusOK, map[string]any{"result": "ok"})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// JSON response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Debug("write response failed")
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, err error) {
	s.writeJSON(w, httpStatus(err), map[string]any{"error": toRPCError(err)})
}

// httpStatus maps an error code to the REST response status.
func httpStatus(err error) int {
	switch cncerr.CodeOf(err) {
	case cncerr.ErrParse, cncerr.ErrUnknownLabel, cncerr.ErrInvalidArgument, cncerr.ErrMotionLimit:
		return http.StatusBadRequest
	case cncerr.ErrStateRejected, cncerr.ErrSafetyRejected:
		return http.StatusConflict
	case cncerr.ErrToolNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
