// HTTP handler for the Prometheus metrics endpoint
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"crypto/subtle"
	"net/http"
	"strconv"
)

// Gatherer produces the exposition text.
type Gatherer interface {
	Gather() string
}

// HandlerConfig holds optional basic auth credentials.
type HandlerConfig struct {
	Username string
	Password string
}

type handler struct {
	src Gatherer
	cfg HandlerConfig
}

// Handler serves src on GET and HEAD.
func Handler(src Gatherer) http.Handler {
	return &handler{src: src}
}

// HandlerWithConfig is Handler with basic auth when credentials are set.
func HandlerWithConfig(src Gatherer, cfg HandlerConfig) http.Handler {
	return &handler{src: src, cfg: cfg}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkAuth(w, r) {
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out := h.src.Gather()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write([]byte(out))
}

func (h *handler) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if h.cfg.Username == "" && h.cfg.Password == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if ok &&
		subtle.ConstantTimeCompare([]byte(user), []byte(h.cfg.Username)) == 1 &&
		subtle.ConstantTimeCompare([]byte(pass), []byte(h.cfg.Password)) == 1 {
		return true
	}
	w.Header().Set("WWW-Authenticate", `Basic realm="CNC Metrics"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
	return false
}
