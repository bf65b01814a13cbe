package whisperpool

import (
	"context"
	"net/http"
	"time"
)

// Prober issues a single HTTP GET against a worker's /health endpoint.
// It is stateless and mutates nothing (spec.md §4.2).
type Prober struct {
	client *http.Client
}

// NewProber creates a Health Prober with the fixed probe timeout.
func NewProber() *Prober {
	return &Prober{
		client: &http.Client{Timeout: healthTimeout},
	}
}

// Probe returns true iff the worker's /health endpoint responds with a 2xx
// status within HEALTH_TIMEOUT_MS. Any network error, timeout or non-2xx
// status returns false. Probe takes no startup flag and logs nothing.
func (p *Prober) Probe(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// waitForHealthy polls the Health Prober every 200ms until either a probe
// succeeds or the deadline elapses (spec.md §4.3.2 step 4).
func waitForHealthy(ctx context.Context, prober *Prober, w *Worker, deadline time.Duration) bool {
	timeoutCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	for {
		if prober.Probe(timeoutCtx, w.baseURL) {
			return true
		}
		select {
		case <-timeoutCtx.Done():
			return false
		case <-ticker.C:
		}
	}
}
