package server

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"teamsync-server/internal/config"
)

func TestNewHTTPServer(t *testing.T) {
	cfg := config.Config{Port: 4321, JWTSecret: "x"}
	srv := NewHTTPServer(cfg, http.NewServeMux())
	if srv.Addr != ":4321" {
		t.Fatalf("expected :4321, got %q", srv.Addr)
	}
	if srv.ReadHeaderTimeout != 5*time.Second {
		t.Fatalf("unexpected ReadHeaderTimeout")
	}
}

func TestRun_StopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	worker := func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- Run(ctx, config.Config{Port: 0}, http.NewServeMux(), worker) }()

	<-started
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}

func TestRun_WorkerFailureStopsServer(t *testing.T) {
	boom := errors.New("bus down")
	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), config.Config{Port: 0}, http.NewServeMux(), func(context.Context) error {
			return boom
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("expected worker error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}
