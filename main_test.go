package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/utilitywarehouse/proposal-mirror/mcpserver"
	"github.com/utilitywarehouse/proposal-mirror/mirror"
	"github.com/utilitywarehouse/proposal-mirror/proposal"
)

type fakeMirror struct {
	initialized bool
}

func (f *fakeMirror) IsInitialized() bool { return f.initialized }
func (f *fakeMirror) Remote() string      { return mirror.DefaultRemote }

func Test_newOpsMux(t *testing.T) {
	m := &fakeMirror{}
	worker := newRefreshWorker(&countingRefresher{}, 0, logger)
	store := proposal.NewStore(nil, proposal.Config{}, logger)
	mcpSrv := mcpserver.New(store, &countingRefresher{}, "test", logger)

	serve := func(t *testing.T, mux http.Handler, req *http.Request) (int, string) {
		t.Helper()
		// streaming handlers must not outlive the test
		ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
		defer cancel()

		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req.WithContext(ctx))
		body, _ := io.ReadAll(rec.Result().Body)
		return rec.Code, string(body)
	}
	get := func(t *testing.T, mux http.Handler, path string) (int, string) {
		t.Helper()
		return serve(t, mux, httptest.NewRequest(http.MethodGet, path, nil))
	}
	initialize := func(t *testing.T, mux http.Handler) (int, string) {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(mcpInitializeRequest))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json, text/event-stream")
		return serve(t, mux, req)
	}

	t.Run("healthz", func(t *testing.T) {
		mux := newOpsMux(ServerConfig{}, m, worker, mcpSrv, transportStdio)

		m.initialized = false
		if code, _ := get(t, mux, "/healthz"); code != http.StatusServiceUnavailable {
			t.Errorf("expected status %d got %d", http.StatusServiceUnavailable, code)
		}

		m.initialized = true
		if code, body := get(t, mux, "/healthz"); code != http.StatusOK || body != "ok" {
			t.Errorf("expected status %d got %d %q", http.StatusOK, code, body)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		mux := newOpsMux(ServerConfig{}, m, worker, mcpSrv, transportStdio)
		if code, _ := get(t, mux, "/metrics"); code != http.StatusOK {
			t.Errorf("expected status %d got %d", http.StatusOK, code)
		}
	})

	t.Run("webhook only with secret", func(t *testing.T) {
		mux := newOpsMux(ServerConfig{}, m, worker, mcpSrv, transportStdio)
		if code, _ := get(t, mux, "/github-webhook"); code != http.StatusNotFound {
			t.Errorf("expected status %d got %d", http.StatusNotFound, code)
		}

		mux = newOpsMux(ServerConfig{GithubWebhookSecret: "secret"}, m, worker, mcpSrv, transportStdio)
		// GET is rejected by the webhook handler itself
		if code, _ := get(t, mux, "/github-webhook"); code != http.StatusBadRequest {
			t.Errorf("expected status %d got %d", http.StatusBadRequest, code)
		}
	})

	t.Run("mcp only with http transport", func(t *testing.T) {
		mux := newOpsMux(ServerConfig{}, m, worker, mcpSrv, transportStdio)
		if code, _ := initialize(t, mux); code != http.StatusNotFound {
			t.Errorf("expected status %d got %d", http.StatusNotFound, code)
		}

		mux = newOpsMux(ServerConfig{}, m, worker, mcpSrv, transportHTTP)
		code, body := initialize(t, mux)
		if code != http.StatusOK {
			t.Fatalf("expected status %d got %d %q", http.StatusOK, code, body)
		}
		if !strings.Contains(body, `"serverInfo"`) || !strings.Contains(body, `"proposal-mirror"`) {
			t.Errorf("expected initialize result with server info got %q", body)
		}
	})
}

const mcpInitializeRequest = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1.0.0"}}}`

func Test_run_opsServerBindFailure(t *testing.T) {
	upstream := mustInitUpstream(t)
	m := mustInitializedMirror(t, upstream, filepath.Join(t.TempDir(), "root"))

	// address already in use
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	conf := &Config{Server: ServerConfig{HTTPBindAddress: ln.Addr().String()}}
	conf.Proposals.ApplyDefaults()

	done := make(chan error, 1)
	go func() { done <- run(t.Context(), transportHTTP, conf, m) }()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "unable to start http server") {
			t.Errorf("run() error = %v, want http server start failure", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run() must return when http server cannot bind")
	}
}

func Test_run_httpTransport(t *testing.T) {
	upstream := mustInitUpstream(t)
	m := mustInitializedMirror(t, upstream, filepath.Join(t.TempDir(), "root"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	conf := &Config{Server: ServerConfig{HTTPBindAddress: addr}}
	conf.Proposals.ApplyDefaults()

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- run(ctx, transportHTTP, conf, m) }()

	waitFor(t, "http server", func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() unexpected error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("run() did not return after context was cancelled")
	}
}
