package whisperpool

import (
	"errors"
	"fmt"
)

// ErrConfigMissing is returned by Init when no child command is configured.
var ErrConfigMissing = errors.New("whisperpool: whisper_server.cmd must not be empty")

// ErrNoHealthyWorker is returned by Transcribe when the selectable set is empty.
var ErrNoHealthyWorker = errors.New("whisperpool: no healthy workers available")

// ErrPoolShutdown is returned by Transcribe after Dispose has run.
var ErrPoolShutdown = errors.New("whisperpool: pool is shut down")

// UpstreamError wraps a non-2xx response from a worker's /inference endpoint.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: status=%d body=%s", e.StatusCode, e.Body)
}
