package whisperpool

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizeAudioB64StripsWhitespaceAndDataURI(t *testing.T) {
	raw := []byte("hello world")
	encoded := base64.StdEncoding.EncodeToString(raw)

	plain, err := normalizeAudioB64(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	withPrefix := "data:audio/wav;base64," + encoded[:4] + "\n  " + encoded[4:]
	prefixed, err := normalizeAudioB64(withPrefix)
	if err != nil {
		t.Fatalf("unexpected error decoding prefixed form: %v", err)
	}

	if string(plain) != string(raw) || string(prefixed) != string(raw) {
		t.Fatalf("expected both forms to decode to %q, got %q and %q", raw, plain, prefixed)
	}
}

func TestTranscribeAfterDisposeReturnsPoolShutdown(t *testing.T) {
	m := testManager()
	w := newWorker("a", 9000)
	w.markHealthy()
	m.register(w)

	if err := m.Dispose(context.Background()); err != nil {
		t.Fatalf("unexpected dispose error: %v", err)
	}

	_, err := m.Transcribe(context.Background(), TranscribeRequest{AudioB64: base64.StdEncoding.EncodeToString([]byte("x"))})
	if err != ErrPoolShutdown {
		t.Fatalf("expected ErrPoolShutdown, got %v", err)
	}
}

func TestTranscribeNoHealthyWorker(t *testing.T) {
	m := testManager()

	_, err := m.Transcribe(context.Background(), TranscribeRequest{AudioB64: base64.StdEncoding.EncodeToString([]byte("x"))})
	if err != ErrNoHealthyWorker {
		t.Fatalf("expected ErrNoHealthyWorker, got %v", err)
	}
}

func TestTranscribeHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"hello world","segments":[{"text":" hi ","start":0,"end":1.5}]}`))
	}))
	defer srv.Close()

	m := testManager()
	worker := newWorker("a", 9000)
	worker.markHealthy()
	worker.baseURL = srv.URL
	m.register(worker)

	result, err := m.Transcribe(context.Background(), TranscribeRequest{
		AudioB64: base64.StdEncoding.EncodeToString([]byte("audio-bytes")),
		Metadata: map[string]string{"caller": "test"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Text != "hello world" {
		t.Fatalf("unexpected text: %q", result.Text)
	}
	if result.Provider != "whisper-server" {
		t.Fatalf("unexpected provider: %q", result.Provider)
	}
	if result.Duration != 1.5 {
		t.Fatalf("unexpected duration: %v", result.Duration)
	}
	if result.Confidence != 1.0 {
		t.Fatalf("unexpected confidence: %v", result.Confidence)
	}
	if result.Metadata["worker_id"] != "a" || result.Metadata["caller"] != "test" {
		t.Fatalf("unexpected metadata: %+v", result.Metadata)
	}
	if len(result.Segments) != 1 || result.Segments[0].Text != "hi" {
		t.Fatalf("unexpected segments: %+v", result.Segments)
	}
	if worker.RequestCount() != 1 {
		t.Fatalf("expected request_count incremented, got %d", worker.RequestCount())
	}
}

func TestTranscribeUpstream500IncrementsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	m := testManager()
	worker := newWorker("a", 9000)
	worker.markHealthy()
	worker.baseURL = srv.URL
	m.register(worker)

	_, err := m.Transcribe(context.Background(), TranscribeRequest{
		AudioB64: base64.StdEncoding.EncodeToString([]byte("audio-bytes")),
	})

	if err == nil {
		t.Fatal("expected an error")
	}
	upstream, ok := err.(*UpstreamError)
	if !ok {
		t.Fatalf("expected *UpstreamError, got %T: %v", err, err)
	}
	if upstream.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", upstream.StatusCode)
	}
	if worker.ConsecutiveFailures() != 1 {
		t.Fatalf("expected consecutive_failures incremented, got %d", worker.ConsecutiveFailures())
	}
}
