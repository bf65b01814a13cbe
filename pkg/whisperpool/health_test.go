package whisperpool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestProberSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProber()
	if !p.Probe(context.Background(), srv.URL) {
		t.Fatal("expected probe success against a 200 handler")
	}
}

func TestProberFailureOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewProber()
	if p.Probe(context.Background(), srv.URL) {
		t.Fatal("expected probe failure against a 503 handler")
	}
}

func TestProberFailureOnUnreachable(t *testing.T) {
	p := NewProber()
	if p.Probe(context.Background(), "http://127.0.0.1:1") {
		t.Fatal("expected probe failure against an unreachable address")
	}
}

func TestWaitForHealthySucceedsOnceServerComesUp(t *testing.T) {
	var srv *httptest.Server
	ready := make(chan struct{})

	srv = httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	go func() {
		<-ready
		srv.Start()
	}()

	w := newWorker("w-1", 0)
	// Start the listener, then point the worker at its address once known.
	close(ready)
	time.Sleep(50 * time.Millisecond)
	defer srv.Close()
	w.baseURL = srv.URL

	if !waitForHealthy(context.Background(), NewProber(), w, 2*time.Second) {
		t.Fatal("expected waitForHealthy to eventually succeed")
	}
}

func TestWaitForHealthyTimesOut(t *testing.T) {
	w := newWorker("w-1", 0)
	w.baseURL = "http://127.0.0.1:1"

	start := time.Now()
	if waitForHealthy(context.Background(), NewProber(), w, 300*time.Millisecond) {
		t.Fatal("expected waitForHealthy to fail against an unreachable address")
	}
	if time.Since(start) < 300*time.Millisecond {
		t.Fatal("expected waitForHealthy to honor the deadline")
	}
}
