// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package server

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-core-stack/mcp-process-bridge/pkg/config"
)

const (
	// PathHealth is the liveness check endpoint.
	PathHealth = "/health"
	// PathMCP is the endpoint whose bodies are bridged to the helper.
	PathMCP = "/mcp"
)

// route is an exact method and path pair.
type route struct {
	method string
	path   string
}

// Server routes requests to the health responder and the process bridge.
type Server struct {
	// routes is the fixed dispatch table; lookups never fall back to prefixes.
	routes map[route]http.Handler
	// logger emits structured logs for observability.
	logger zerolog.Logger
}

// New constructs the router. bridge serves POST /mcp.
func New(cfg config.Config, bridge http.Handler) *Server {
	return &Server{
		routes: map[route]http.Handler{
			{method: http.MethodGet, path: PathHealth}: newHealthHandler(cfg),
			{method: http.MethodPost, path: PathMCP}:   bridge,
		},
		logger: log.With().Str("component", "server").Logger(),
	}
}

// ServeHTTP dispatches by exact match and logs the outcome of every request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	event := s.logger.With().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("remote_addr", r.RemoteAddr).
		Logger()

	sw := &statusWriter{ResponseWriter: w}

	handler, ok := s.routes[route{method: r.Method, path: r.URL.Path}]
	if !ok {
		http.NotFound(sw, r)
		event.Debug().
			Int("status", sw.Status()).
			Dur("duration", time.Since(start)).
			Msg("no route")
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			event.Error().
				Str("panic", fmt.Sprint(rec)).
				Bytes("stack", debug.Stack()).
				Msg("handler panicked")
			if !sw.wroteHeader {
				http.Error(sw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}
	}()

	handler.ServeHTTP(sw, r)

	event.Info().
		Int("status", sw.Status()).
		Dur("duration", time.Since(start)).
		Msg("request served")
}

// statusWriter records the status code for logging. Unwrap lets
// http.ResponseController reach the flushing and full duplex support of
// the underlying writer.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.status = http.StatusOK
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}

// Flush supports callers that type-assert http.Flusher directly.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Status returns the recorded status, defaulting to 200.
func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
