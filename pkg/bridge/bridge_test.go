// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-core-stack/mcp-process-bridge/pkg/auth"
	"github.com/go-core-stack/mcp-process-bridge/pkg/config"
	"github.com/go-core-stack/mcp-process-bridge/pkg/env"
)

const staggerDelay = 500 * time.Millisecond

// TestHelperProcess is the helper executable used by the tests below. It is
// invoked as os.Args[0] -test.run=^TestHelperProcess$ -- <mode>.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		os.Exit(2)
	}

	switch args[1] {
	case "echo":
		_, _ = io.Copy(os.Stdout, os.Stdin)
	case "stagger":
		_, _ = io.Copy(io.Discard, os.Stdin)
		_, _ = os.Stdout.WriteString("A")
		time.Sleep(staggerDelay)
		_, _ = os.Stdout.WriteString("B")
	case "env":
		_, _ = io.Copy(io.Discard, os.Stdin)
		fmt.Fprintf(os.Stdout, "%s|%s|%s",
			os.Getenv(env.KeyAPIName), os.Getenv(env.KeyAuthToken), os.Getenv(env.KeyOperationPrompts))
	case "fail":
		_, _ = io.Copy(io.Discard, os.Stdin)
		_, _ = os.Stdout.WriteString("partial")
		fmt.Fprintln(os.Stderr, "helper failed")
		os.Exit(3)
	case "silent":
		_, _ = io.Copy(io.Discard, os.Stdin)
	case "hang":
		_, _ = os.Stdout.WriteString("started")
		time.Sleep(time.Minute)
	default:
		os.Exit(2)
	}
	os.Exit(0)
}

func newTestBridge(t *testing.T, mode string) *Bridge {
	t.Helper()

	cfg := config.Default()
	cfg.Helper.Command = os.Args[0]
	cfg.Helper.Args = []string{"-test.run=^TestHelperProcess$", "--", mode}
	cfg.Helper.WaitDelay = time.Second
	cfg.API.Name = "test-api"
	cfg.Credential.Value = auth.Credential{Value: "KEYtest", Source: "TELNYX_API_KEY"}

	composer := env.NewComposer(cfg)
	composer.Environ = func() []string {
		return append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
	}
	return New(cfg, composer)
}

func postMCP(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/mcp", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestBridgeEchoRoundTrip(t *testing.T) {
	b := newTestBridge(t, "echo")
	srv := httptest.NewServer(b)
	defer srv.Close()

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`
	resp := postMCP(t, srv.URL, body)

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, body, string(got))
	assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))
	assert.Equal(t, "0", resp.Trailer.Get(TrailerExitCode))
	assert.Equal(t, uint64(1), b.Launches())
}

func TestBridgeEchoLargeBody(t *testing.T) {
	b := newTestBridge(t, "echo")
	srv := httptest.NewServer(b)
	defer srv.Close()

	body := strings.Repeat(`{"chunk":"0123456789abcdef"}`, 20000)
	resp := postMCP(t, srv.URL, body)

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, len(body), len(got))
	assert.Equal(t, body, string(got))
}

func TestBridgeStreamsChunksInOrder(t *testing.T) {
	b := newTestBridge(t, "stagger")
	srv := httptest.NewServer(b)
	defer srv.Close()

	resp := postMCP(t, srv.URL, `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	first := make([]byte, 1)
	_, err := io.ReadFull(resp.Body, first)
	require.NoError(t, err)
	firstAt := time.Now()

	rest, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	gap := time.Since(firstAt)

	assert.Equal(t, "A", string(first))
	assert.Equal(t, "B", string(rest))
	assert.GreaterOrEqual(t, gap, staggerDelay/2, "first chunk must arrive before the helper writes the second")
}

func TestBridgeHelperReceivesEnvironment(t *testing.T) {
	b := newTestBridge(t, "env")
	srv := httptest.NewServer(b)
	defer srv.Close()

	resp := postMCP(t, srv.URL, `{}`)
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, "test-api|KEYtest|true", string(got))
}

func TestBridgeLaunchFailure(t *testing.T) {
	b := newTestBridge(t, "echo")
	b.command = filepath.Join(t.TempDir(), "missing-helper")

	req := httptest.NewRequest(http.MethodPost, "http://bridge/mcp", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	b.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("Trailer"))

	var payload errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.NotEmpty(t, payload.Error)
	assert.Contains(t, payload.Error, "missing-helper")
	assert.Equal(t, uint64(1), b.Launches())
}

func TestBridgeNonZeroExitClosesStream(t *testing.T) {
	b := newTestBridge(t, "fail")
	srv := httptest.NewServer(b)
	defer srv.Close()

	resp := postMCP(t, srv.URL, `{}`)
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	// The status stays 200 once output was streamed; the exit code is only
	// surfaced in the trailer.
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "partial", string(got))
	assert.Equal(t, "3", resp.Trailer.Get(TrailerExitCode))
}

func TestBridgeSilentHelper(t *testing.T) {
	b := newTestBridge(t, "silent")
	srv := httptest.NewServer(b)
	defer srv.Close()

	resp := postMCP(t, srv.URL, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, got)
	assert.Equal(t, "0", resp.Trailer.Get(TrailerExitCode))
}

func TestBridgeConcurrentRequestsAreIsolated(t *testing.T) {
	b := newTestBridge(t, "echo")
	srv := httptest.NewServer(b)
	defer srv.Close()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"tools/call","params":{"name":"req-%d"}}`, i, i)
			resp, err := http.Post(srv.URL+"/mcp", "application/json", strings.NewReader(body))
			if err != nil {
				errs <- err
				return
			}
			defer resp.Body.Close()
			got, err := io.ReadAll(resp.Body)
			if err != nil {
				errs <- err
				return
			}
			if string(got) != body {
				errs <- fmt.Errorf("request %d: got %q want %q", i, got, body)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, uint64(n), b.Launches())
}

func TestBridgeClientDisconnectCancelsHelper(t *testing.T) {
	b := newTestBridge(t, "hang")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodPost, "http://bridge/mcp", strings.NewReader(`{}`)).WithContext(ctx)
	rec := newFlushRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(rec, req)
		close(done)
	}()

	waitUntil(t, 5*time.Second, func() bool {
		return strings.Contains(rec.bodyString(), "started")
	})

	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not return after the client went away")
	}
	assert.Equal(t, http.StatusOK, rec.statusCode())
}

func TestPeek(t *testing.T) {
	reqs, ok := peek([]byte(`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"x"}}`))
	require.True(t, ok)
	require.Len(t, reqs, 1)
	assert.Equal(t, "tools/call", reqs[0].Method)

	reqs, ok = peek([]byte(` [{"jsonrpc":"2.0","id":1,"method":"ping"},{"jsonrpc":"2.0","method":"notifications/initialized"}]`))
	require.True(t, ok, "batches are decoded")
	require.Len(t, reqs, 2)
	assert.Equal(t, "ping", reqs[0].Method)
	assert.Equal(t, "notifications/initialized", reqs[1].Method)

	_, ok = peek([]byte(`{"id":1,"method":"tools/list"}`))
	assert.False(t, ok, "the jsonrpc member is required")

	_, ok = peek([]byte(`[]`))
	assert.False(t, ok, "empty batches are not requests")

	_, ok = peek([]byte(`not json`))
	assert.False(t, ok)

	_, ok = peek([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	assert.False(t, ok)
}

func TestBridgeForwardsNonRPCBodyUnchanged(t *testing.T) {
	b := newTestBridge(t, "echo")
	srv := httptest.NewServer(b)
	defer srv.Close()

	body := `{"method":"tools/list"}`
	resp := postMCP(t, srv.URL, body)
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, body, string(got))
}

// flushRecorder is a minimal ResponseWriter that supports flushing and can
// be inspected while the handler is still running.
type flushRecorder struct {
	mu     sync.Mutex
	header http.Header
	status int
	body   bytes.Buffer
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{
		header: make(http.Header),
	}
}

func (r *flushRecorder) Header() http.Header {
	return r.header
}

func (r *flushRecorder) WriteHeader(status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == 0 {
		r.status = status
	}
}

func (r *flushRecorder) Write(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(b)
}

func (r *flushRecorder) Flush() {}

func (r *flushRecorder) bodyString() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.String()
}

func (r *flushRecorder) statusCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func waitUntil(t *testing.T, timeout time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
