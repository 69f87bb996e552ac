package server

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		HTTPAddr: "127.0.0.1:0",
		Store: StoreConfig{
			Backend:  BackendSQLite,
			DBPath:   filepath.Join(t.TempDir(), "sessions.db"),
			PoolWait: time.Second,
		},
		MaxInactive:   time.Minute,
		SweepInterval: time.Hour,
	}
}

func TestOpenStoreSQLite(t *testing.T) {
	store, err := OpenStore(context.Background(), testConfig(t).Store, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if err := store.InsertSession(context.Background(), "a", "", []byte("x")); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestOpenStoreRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := OpenStore(context.Background(), StoreConfig{
		Backend:     BackendRedis,
		RedisAddr:   mr.Addr(),
		RedisPrefix: "test:",
	}, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if err := store.InsertSession(context.Background(), "a", "", []byte("x")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !mr.Exists("test:session:a") {
		t.Fatal("expected session hash under configured prefix")
	}
}

func TestOpenStoreRejectsUnknownBackend(t *testing.T) {
	if _, err := OpenStore(context.Background(), StoreConfig{Backend: "mongo"}, nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestNewServerValidatesConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTPAddr = " "
	if _, err := NewServer(context.Background(), cfg); err == nil {
		t.Fatal("expected error for empty http address")
	}

	cfg = testConfig(t)
	cfg.SweepInterval = 0
	if _, err := NewServer(context.Background(), cfg); err == nil {
		t.Fatal("expected error for zero sweep interval")
	}
}

func TestServeRoundTripAndShutdown(t *testing.T) {
	server, err := NewServer(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer server.Close()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, listener) }()

	base := "http://" + listener.Addr().String()
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Post(base+"/sessions/abc", "application/octet-stream", bytes.NewReader([]byte("state")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("post status = %d, want 201", resp.StatusCode)
	}

	resp, err = client.Get(base + "/sessions/abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "state" {
		t.Fatalf("get body = %q, want state", body)
	}

	resp, err = client.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `tomcat_sessions_store_operations_total{operation="insert",outcome="ok"} 1`) {
		t.Fatalf("metrics missing insert counter:\n%s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}
