// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/viant/jsonrpc"
	"golang.org/x/sync/errgroup"

	"github.com/go-core-stack/mcp-process-bridge/pkg/config"
)

// chunkSize bounds a single read from the helper's stdout.
const chunkSize = 32 * 1024

// Composer supplies the environment for each helper launch.
type Composer interface {
	Compose() []string
}

// Bridge is an http.Handler that serves every request with a dedicated
// helper process. It holds no per-request state.
type Bridge struct {
	// command and args identify the helper executable.
	command string
	args    []string
	// waitDelay bounds pipe reclamation after the helper is cancelled.
	waitDelay time.Duration
	// composer builds a fresh environment snapshot for every launch.
	composer Composer
	// logger emits structured logs for observability.
	logger zerolog.Logger
	// launches counts helper launch attempts.
	launches atomic.Uint64
}

// New constructs a Bridge for the helper described by cfg.
func New(cfg config.Config, composer Composer) *Bridge {
	return &Bridge{
		command:   cfg.Helper.Command,
		args:      append([]string(nil), cfg.Helper.Args...),
		waitDelay: cfg.Helper.WaitDelay,
		composer:  composer,
		logger:    log.With().Str("component", "bridge").Logger(),
	}
}

// Launches returns the number of helper launches attempted so far.
func (b *Bridge) Launches() uint64 {
	return b.launches.Load()
}

// ServeHTTP launches one helper, feeds it the request body and streams its
// output back. The request context scopes the helper: a client that goes
// away cancels it.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	began := time.Now()
	requestID := uuid.NewString()
	event := b.logger.With().
		Str("request_id", requestID).
		Str("remote_addr", r.RemoteAddr).
		Logger()

	w.Header().Set(HeaderRequestID, requestID)

	// Output may start flowing before the body has been read in full.
	if err := http.NewResponseController(w).EnableFullDuplex(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		event.Debug().Err(err).Msg("full duplex unavailable")
	}

	resp := newResponder(w)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stderr := newStderrLogger(event)
	b.launches.Add(1)
	proc, err := start(ctx, launchSpec{
		command:   b.command,
		args:      b.args,
		env:       b.composer.Compose(),
		waitDelay: b.waitDelay,
		stderr:    stderr,
	})
	if err != nil {
		resp.fail(err)
		event.Error().
			Err(err).
			Dur("duration", time.Since(began)).
			Msg("helper launch failed")
		return
	}
	defer proc.release()
	resp.begin()

	event = event.With().Int("pid", proc.pid()).Logger()
	event.Debug().Str("command", b.command).Msg("helper started")

	var g errgroup.Group
	g.Go(func() error {
		payload, err := readBody(r.Body, event)
		if err != nil {
			// A truncated body must never reach the helper as complete input.
			cancel()
			return err
		}
		return writeInput(proc.stdin, payload)
	})

	pumpErr := pump(proc.stdout, resp)
	if pumpErr != nil {
		cancel()
	}
	waitErr := proc.wait()
	feedErr := g.Wait()
	stderr.Flush()

	exitCode := proc.exitCode()
	event = event.With().
		Int("exit_code", exitCode).
		Int64("bytes", resp.written).
		Dur("duration", time.Since(began)).
		Logger()

	if feedErr != nil {
		event.Warn().Err(feedErr).Msg("helper input incomplete")
	}

	if pumpErr != nil {
		resp.fail(pumpErr)
		event.Error().Err(pumpErr).Msg("stream helper output failed")
		return
	}

	resp.finish(exitCode)

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		event.Info().Msg("request bridged")
	case errors.As(waitErr, &exitErr):
		event.Warn().Err(waitErr).Msg("helper exited with failure")
	default:
		event.Error().Err(waitErr).Msg("helper wait failed")
	}
}

// readBody accumulates the whole request body.
func readBody(body io.ReadCloser, event zerolog.Logger) ([]byte, error) {
	defer func() {
		if err := body.Close(); err != nil {
			event.Debug().Err(err).Msg("close request body failed")
		}
	}()

	payload, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}

	if reqs, ok := peek(payload); ok {
		methods := make([]string, 0, len(reqs))
		for _, req := range reqs {
			methods = append(methods, req.Method)
		}
		ev := event.Debug().
			Strs("rpc_methods", methods).
			Int("body_bytes", len(payload))
		if len(reqs) == 1 {
			ev = ev.Interface("rpc_id", reqs[0].Id)
		}
		ev.Msg("forwarding request to helper")
	} else {
		event.Debug().
			Int("body_bytes", len(payload)).
			Msg("forwarding opaque payload to helper")
	}
	return payload, nil
}

// writeInput hands the payload to the helper, then closes stdin so the
// helper sees end-of-input.
func writeInput(stdin io.WriteCloser, payload []byte) error {
	if _, err := stdin.Write(payload); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("write helper input: %w", err)
	}
	if err := stdin.Close(); err != nil {
		return fmt.Errorf("close helper input: %w", err)
	}
	return nil
}

// pump forwards helper stdout to the response in arrival order until EOF.
func pump(stdout io.Reader, resp *responder) error {
	buf := make([]byte, chunkSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if werr := resp.write(buf[:n]); werr != nil {
				return fmt.Errorf("forward helper output: %w", werr)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read helper output: %w", err)
		}
	}
}

// peek decodes payload as a JSON-RPC request or batch for logging. Bodies
// that are not valid JSON-RPC requests are reported as not ok.
func peek(payload []byte) ([]*jsonrpc.Request, bool) {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var batch jsonrpc.BatchRequest
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, false
		}
		return batch, true
	}

	req := &jsonrpc.Request{}
	if err := json.Unmarshal(trimmed, req); err != nil {
		return nil, false
	}
	return []*jsonrpc.Request{req}, true
}
