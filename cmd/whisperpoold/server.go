package main

import (
	"encoding/json"
	"net/http"

	"github.com/example/whisperpool/pkg/whisperpool"
)

// newOuterServer wires the outer HTTP contract (spec.md §6) around a
// *whisperpool.Manager: health, transcription, and status endpoints, plus
// the Prometheus metrics handler.
func newOuterServer(manager *whisperpool.Manager, cfg *whisperpool.Config, metrics *whisperpool.Metrics, addr string) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/api/v1/providers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"providers": []string{"whisper-server"},
		})
	})

	mux.HandleFunc("/api/v1/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var reqBody struct {
			AudioB64   string            `json:"audio_base64"`
			Language   string            `json:"language"`
			Timestamps bool              `json:"timestamps"`
			Metadata   map[string]string `json:"metadata"`
		}
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		result, err := manager.Transcribe(r.Context(), whisperpool.TranscribeRequest{
			AudioB64:   reqBody.AudioB64,
			Language:   reqBody.Language,
			Timestamps: reqBody.Timestamps,
			Metadata:   reqBody.Metadata,
		})
		if err != nil {
			writeTranscribeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, result)
	})

	mux.HandleFunc("/api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, manager.PoolStatus())
	})

	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
	}

	return &http.Server{Addr: addr, Handler: mux}
}

func writeTranscribeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case err == whisperpool.ErrNoHealthyWorker:
		status = http.StatusServiceUnavailable
	}
	var upstream *whisperpool.UpstreamError
	if e, ok := err.(*whisperpool.UpstreamError); ok {
		upstream = e
		status = http.StatusBadGateway
	}

	body := map[string]any{"error": err.Error()}
	if upstream != nil {
		body["upstream_status"] = upstream.StatusCode
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
