// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package bridge

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
)

const (
	// HeaderRequestID carries the per-session identifier back to the client.
	HeaderRequestID = "X-Request-Id"
	// TrailerExitCode reports the helper exit status once the stream ends.
	TrailerExitCode = "X-Helper-Exit-Code"
)

var errFinalized = errors.New("response already finalized")

// state tracks a session through Launching → Streaming → Finalizing → Done.
type state int32

const (
	stateLaunching state = iota
	stateStreaming
	stateFinalizing
	stateDone
)

func (s state) String() string {
	switch s {
	case stateLaunching:
		return "launching"
	case stateStreaming:
		return "streaming"
	case stateFinalizing:
		return "finalizing"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

// responder owns the http.ResponseWriter of one session. Exit-driven and
// error-driven finalization race through a single compare-and-swap; the
// loser is a no-op.
type responder struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	state     atomic.Int32
	committed bool
	written   int64
}

func newResponder(w http.ResponseWriter) *responder {
	return &responder{
		w:  w,
		rc: http.NewResponseController(w),
	}
}

func (r *responder) current() state {
	return state(r.state.Load())
}

// begin marks the helper as running.
func (r *responder) begin() bool {
	return r.state.CompareAndSwap(int32(stateLaunching), int32(stateStreaming))
}

// commit sends the 200 status line. The exit code trailer is declared up
// front so it can be filled in after the body.
func (r *responder) commit() {
	h := r.w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Trailer", TrailerExitCode)
	r.w.WriteHeader(http.StatusOK)
	r.committed = true
}

// write forwards one chunk of helper output and flushes it immediately.
func (r *responder) write(p []byte) error {
	if r.current() != stateStreaming {
		return errFinalized
	}
	if !r.committed {
		r.commit()
	}
	n, err := r.w.Write(p)
	r.written += int64(n)
	if err != nil {
		return err
	}
	if err := r.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// finish completes the response after the helper exited. It reports
// whether this call won the finalization.
func (r *responder) finish(exitCode int) bool {
	if !r.enterFinalizing() {
		return false
	}
	defer r.state.Store(int32(stateDone))

	if !r.committed {
		r.commit()
	}
	r.w.Header().Set(TrailerExitCode, strconv.Itoa(exitCode))
	return true
}

// fail completes the response after a launch or runtime error. Once bytes
// have been streamed the status can no longer change, so the response is
// simply closed.
func (r *responder) fail(err error) bool {
	if !r.enterFinalizing() {
		return false
	}
	defer r.state.Store(int32(stateDone))

	if r.committed {
		return true
	}
	writeError(r.w, http.StatusInternalServerError, err)
	return true
}

func (r *responder) enterFinalizing() bool {
	for {
		cur := r.state.Load()
		if cur != int32(stateLaunching) && cur != int32(stateStreaming) {
			return false
		}
		if r.state.CompareAndSwap(cur, int32(stateFinalizing)) {
			return true
		}
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := http.StatusText(status)
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg})
}
