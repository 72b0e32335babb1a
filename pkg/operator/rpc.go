// JSON-RPC 2.0 methods of the operator API
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package operator

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"modax-cnc/pkg/controller"
	cncerr "modax-cnc/pkg/errors"
	"modax-cnc/pkg/log"
)

// JSON-RPC 2.0 error codes.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcMachineError   = -32000
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type rpcError struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *errorData `json:"data,omitempty"`
}

// errorData carries the machine error code so clients can branch on it.
type errorData struct {
	Code   string      `json:"code"`
	Line   int         `json:"line,omitempty"`
	Token  string      `json:"token,omitempty"`
	Label  string      `json:"label,omitempty"`
	Errors []errorData `json:"errors,omitempty"`
}

// methodError is a protocol-level failure with a fixed JSON-RPC code.
type methodError struct {
	code int
	msg  string
}

func (e *methodError) Error() string { return e.msg }

func dataOf(ce *cncerr.CNCError) errorData {
	return errorData{Code: string(ce.Code), Line: ce.Line, Token: ce.Token, Label: ce.Label}
}

// toRPCError maps err onto a JSON-RPC error object.
func toRPCError(err error) *rpcError {
	var me *methodError
	if errors.As(err, &me) {
		return &rpcError{Code: me.code, Message: me.msg}
	}
	var list cncerr.List
	if errors.As(err, &list) && len(list) > 0 {
		d := dataOf(list[0])
		for _, ce := range list {
			d.Errors = append(d.Errors, dataOf(ce))
		}
		return &rpcError{Code: rpcMachineError, Message: err.Error(), Data: &d}
	}
	ce, ok := cncerr.As(err)
	if !ok {
		ce = cncerr.Wrap(err, cncerr.ErrRuntime, "internal error")
	}
	code := rpcMachineError
	if ce.Code == cncerr.ErrInvalidArgument {
		code = rpcInvalidParams
	}
	d := dataOf(ce)
	return &rpcError{Code: code, Message: err.Error(), Data: &d}
}

type rpcMethod func(s *Server, params json.RawMessage) (any, error)

var methods map[string]rpcMethod

func init() {
	methods = map[string]rpcMethod{
		"server.info":            (*Server).methodServerInfo,
		"program.load":           (*Server).methodProgramLoad,
		"program.list":           (*Server).methodProgramList,
		"program.start":          (*Server).methodProgramStart,
		"machine.set_mode":       (*Server).methodSetMode,
		"machine.mdi":            (*Server).methodMDI,
		"machine.pause":          simple(Machine.Pause),
		"machine.resume":         simple(Machine.Resume),
		"machine.stop":           simple(Machine.Stop),
		"machine.reset":          simple(Machine.Reset),
		"machine.home":           simple(Machine.Home),
		"machine.emergency_stop": (*Server).methodEmergencyStop,
		"machine.jog":            (*Server).methodJog,
		"machine.override":       (*Server).methodOverride,
		"machine.status":         (*Server).methodStatus,
	}
}

// MethodNames lists the JSON-RPC methods the server answers.
func MethodNames() []string {
	names := make([]string, 0, len(methods))
	for n := range methods {
		names = append(names, n)
	}
	return names
}

func simple(fn func(Machine) error) rpcMethod {
	return func(s *Server, _ json.RawMessage) (any, error) {
		if err := fn(s.machine); err != nil {
			return nil, err
		}
		return "ok", nil
	}
}

// decodeParams fills v from params; absent params leave v untouched.
func decodeParams(params json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return cncerr.Wrap(err, cncerr.ErrInvalidArgument, "invalid params")
	}
	return nil
}

// call runs one request and builds its response.
func (s *Server) call(req *rpcRequest, transport string) rpcResponse {
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	if len(resp.ID) == 0 {
		resp.ID = json.RawMessage("null")
	}
	var err error
	switch {
	case req.JSONRPC != "2.0" || req.Method == "":
		err = &methodError{code: rpcInvalidRequest, msg: "invalid request"}
	default:
		m, ok := methods[req.Method]
		if !ok {
			err = &methodError{code: rpcMethodNotFound, msg: "method not found: " + req.Method}
			break
		}
		var res any
		res, err = m(s, req.Params)
		resp.Result = res
	}
	if err != nil {
		resp.Result = nil
		resp.Error = toRPCError(err)
		s.logger.WithFields(log.Fields{
			"method":    req.Method,
			"transport": transport,
			"code":      resp.Error.Code,
		}).WithError(err).Warn("operator request rejected")
	} else {
		s.logger.WithFields(log.Fields{"method": req.Method, "transport": transport}).Debug("operator request")
	}
	return resp
}

func parseErrorResponse() rpcResponse {
	return rpcResponse{
		JSONRPC: "2.0",
		Error:   &rpcError{Code: rpcParseError, Message: "Parse error"},
		ID:      json.RawMessage("null"),
	}
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req rpcRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxProgramSize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusOK, parseErrorResponse())
		return
	}
	s.writeJSON(w, http.StatusOK, s.call(&req, "http"))
}

// Method implementations

func (s *Server) methodServerInfo(json.RawMessage) (any, error) {
	return map[string]any{
		"version":         Version,
		"uptime":          time.Since(s.startTime).Seconds(),
		"websocket_count": s.clientCount(),
		"program_library": s.programs != nil,
	}, nil
}

func (s *Server) loadProgram(req programRequest) (map[string]any, error) {
	name, text := req.Name, req.Text
	if req.File != "" {
		if s.programs == nil {
			return nil, cncerr.New(cncerr.ErrInvalidArgument, "no program library configured")
		}
		t, err := s.programs.Read(req.File)
		if err != nil {
			return nil, err
		}
		text = t
		if name == "" {
			name = req.File
		}
	}
	if strings.TrimSpace(text) == "" {
		return nil, cncerr.New(cncerr.ErrInvalidArgument, "program text is empty")
	}
	if name == "" {
		name = "program"
	}
	if err := s.machine.LoadProgram(name, text); err != nil {
		return nil, err
	}
	if req.Save && req.File == "" {
		if s.programs == nil {
			return nil, cncerr.New(cncerr.ErrInvalidArgument, "no program library configured")
		}
		if _, err := s.programs.Save(name, text); err != nil {
			return nil, err
		}
	}
	if req.Start {
		if err := s.machine.Start(); err != nil {
			return nil, err
		}
	}
	return map[string]any{"name": name, "started": req.Start}, nil
}

func (s *Server) listPrograms() ([]ProgramInfo, error) {
	if s.programs == nil {
		return []ProgramInfo{}, nil
	}
	return s.programs.List()
}

func (s *Server) methodProgramLoad(params json.RawMessage) (any, error) {
	var req programRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	return s.loadProgram(req)
}

func (s *Server) methodProgramList(json.RawMessage) (any, error) {
	return s.listPrograms()
}

func (s *Server) methodProgramStart(json.RawMessage) (any, error) {
	if err := s.machine.Start(); err != nil {
		return nil, err
	}
	return "ok", nil
}

func (s *Server) methodSetMode(params json.RawMessage) (any, error) {
	var p struct {
		Mode string `json:"mode"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	m, err := controller.ParseMode(p.Mode)
	if err != nil {
		return nil, err
	}
	if err := s.machine.SetMode(m); err != nil {
		return nil, err
	}
	return map[string]any{"mode": m}, nil
}

func (s *Server) methodMDI(params json.RawMessage) (any, error) {
	var p struct {
		Block string `json:"block"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := s.machine.ExecuteMDI(p.Block); err != nil {
		return nil, err
	}
	return "queued", nil
}

func (s *Server) methodEmergencyStop(params json.RawMessage) (any, error) {
	var p struct {
		Reason string `json:"reason"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	s.machine.EmergencyStop(p.Reason)
	return "ok", nil
}

func (s *Server) methodJog(params json.RawMessage) (any, error) {
	var p struct {
		Axis     string  `json:"axis"`
		Distance float64 `json:"distance"`
		Feed     float64 `json:"feed"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := s.machine.Jog(p.Axis, p.Distance, p.Feed); err != nil {
		return nil, err
	}
	return "ok", nil
}

func (s *Server) methodOverride(params json.RawMessage) (any, error) {
	var p struct {
		Kind  string   `json:"kind"`
		Value *float64 `json:"value"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Value == nil {
		return nil, cncerr.New(cncerr.ErrInvalidArgument, "override value is required")
	}
	var set func(float64) (float64, error)
	switch strings.ToLower(p.Kind) {
	case "feed":
		set = s.machine.SetFeedOverride
	case "spindle":
		set = s.machine.SetSpindleOverride
	case "rapid":
		set = s.machine.SetRapidOverride
	default:
		return nil, cncerr.Newf(cncerr.ErrInvalidArgument, "unknown override %q", p.Kind)
	}
	applied, err := set(*p.Value)
	if err != nil {
		return nil, err
	}
	return map[string]any{"kind": strings.ToLower(p.Kind), "value": applied}, nil
}

func (s *Server) methodStatus(json.RawMessage) (any, error) {
	return s.machine.Status(), nil
}
