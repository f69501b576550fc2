package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig(okHandler())

	if config.Address != ":8080" {
		t.Errorf("Expected address :8080, got %s", config.Address)
	}
	if config.ReadTimeout != 15*time.Second {
		t.Errorf("Expected ReadTimeout 15s, got %v", config.ReadTimeout)
	}
	if config.IdleTimeout != 60*time.Second {
		t.Errorf("Expected IdleTimeout 60s, got %v", config.IdleTimeout)
	}
	if config.MaxHeaderBytes != 1<<20 {
		t.Errorf("Expected MaxHeaderBytes 1MB, got %d", config.MaxHeaderBytes)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Error("Expected error for nil config")
	}
	if _, err := New(&Config{Address: ":0"}, nil); err == nil {
		t.Error("Expected error for nil handler")
	}
}

func TestServer_ServeAndShutdown(t *testing.T) {
	srv, err := New(&Config{Address: "127.0.0.1:0", Handler: okHandler()}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if srv.Addr() == "127.0.0.1:0" {
		t.Fatal("Expected Addr to report the bound port")
	}

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	resp, err := http.Get("http://" + srv.Addr() + "/")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("Unexpected response: %d %q", resp.StatusCode, body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if err := <-done; !errors.Is(err, http.ErrServerClosed) {
		t.Errorf("Expected ErrServerClosed, got %v", err)
	}
}

func TestServer_ListenTwiceIsNoop(t *testing.T) {
	srv, _ := New(&Config{Address: "127.0.0.1:0", Handler: okHandler()}, nil)
	defer srv.Close()

	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	addr := srv.Addr()
	if err := srv.Listen(); err != nil {
		t.Fatalf("second Listen failed: %v", err)
	}
	if srv.Addr() != addr {
		t.Errorf("Expected address to stay %s, got %s", addr, srv.Addr())
	}
}

func TestServer_ListenError(t *testing.T) {
	srv, _ := New(&Config{Address: "256.0.0.1:bad", Handler: okHandler()}, nil)
	if err := srv.Listen(); err == nil {
		t.Error("Expected error for invalid address")
	}
}
