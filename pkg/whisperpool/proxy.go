package whisperpool

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/example/whisperpool/internal/protocol"
)

var dataURIPrefix = regexp.MustCompile(`^data:[^;]+;base64,`)

// TranscriptionResult is the outer contract's transcribe() return shape
// (spec.md §6).
type TranscriptionResult struct {
	Text       string             `json:"text"`
	Language   string             `json:"language"`
	Duration   float64            `json:"duration"`
	Segments   []protocol.Segment `json:"segments"`
	Confidence float64            `json:"confidence"`
	Provider   string             `json:"provider"`
	Metadata   map[string]string  `json:"metadata"`
}

// TranscribeRequest carries the inputs to the Proxy Path (spec.md §4.4).
type TranscribeRequest struct {
	AudioB64   string
	Language   string
	Timestamps bool
	Metadata   map[string]string
}

// normalizeAudioB64 strips whitespace and any data-URI prefix, then decodes
// to raw bytes (spec.md §4.4 step 3).
func normalizeAudioB64(input string) ([]byte, error) {
	stripped := strings.Join(strings.Fields(input), "")
	stripped = dataURIPrefix.ReplaceAllString(stripped, "")
	return base64.StdEncoding.DecodeString(stripped)
}

// buildInferenceBody constructs the multipart/form-data body for POST
// <base_url>/inference (spec.md §4.4 step 4).
func buildInferenceBody(audio []byte, language string) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", err
	}

	if language == "" {
		language = "en"
	}
	for field, value := range map[string]string{
		"response_format": "json",
		"temperature":     "0.0",
		"language":        language,
	} {
		if err := writer.WriteField(field, value); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf, writer.FormDataContentType(), nil
}

// Transcribe implements the Proxy Path (spec.md §4.4): select a worker,
// post the audio to its /inference endpoint, and translate the response
// into a TranscriptionResult. consecutive_failures is incremented on any
// failure and the error is returned directly; the manager never retries
// against another worker.
func (m *Manager) Transcribe(ctx context.Context, req TranscribeRequest) (*TranscriptionResult, error) {
	start := time.Now()
	ctx = WithTraceID(ctx)

	if m.disposed.Load() {
		m.metrics.recordRequest(start, false)
		return nil, ErrPoolShutdown
	}

	w := m.selectWorker()
	if w == nil {
		m.metrics.recordRequest(start, false)
		return nil, ErrNoHealthyWorker
	}

	w.requestCount.Add(1)
	m.logger.InfoContext(ctx, "dispatching transcription request", "worker_id", w.ID(), "port", w.Port())

	audio, err := normalizeAudioB64(req.AudioB64)
	if err != nil {
		w.recordFailure()
		m.metrics.recordRequest(start, false)
		return nil, fmt.Errorf("decode audio: %w", err)
	}

	body, contentType, err := buildInferenceBody(audio, req.Language)
	if err != nil {
		w.recordFailure()
		m.metrics.recordRequest(start, false)
		return nil, fmt.Errorf("build inference request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, proxyTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, w.BaseURL()+"/inference", body)
	if err != nil {
		w.recordFailure()
		m.metrics.recordRequest(start, false)
		return nil, err
	}
	httpReq.Header.Set("Content-Type", contentType)

	client := &http.Client{Timeout: proxyTimeout}
	resp, err := client.Do(httpReq)
	if err != nil {
		w.recordFailure()
		m.metrics.recordRequest(start, false)
		m.logger.ErrorContext(ctx, "inference request failed", "worker_id", w.ID(), "error", err)
		return nil, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		w.recordFailure()
		m.metrics.recordRequest(start, false)
		return nil, fmt.Errorf("read inference response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.recordFailure()
		m.metrics.recordRequest(start, false)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var raw protocol.InferenceResponse
	if err := jsonCodec.Unmarshal(respBody, &raw); err != nil {
		w.recordFailure()
		m.metrics.recordRequest(start, false)
		return nil, fmt.Errorf("decode inference response: %w", err)
	}

	segments := raw.NormalizedSegments()

	duration := 0.0
	if len(segments) > 0 {
		duration = segments[len(segments)-1].End
	}

	confidence := 0.0
	if len(segments) > 0 {
		confidence = 1.0
	}

	language := req.Language
	if language == "" {
		language = "en"
	}

	metadata := make(map[string]string, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["worker_id"] = w.ID()
	metadata["worker_url"] = w.BaseURL()

	result := &TranscriptionResult{
		Text:       raw.ResolvedText(),
		Language:   language,
		Duration:   duration,
		Segments:   segments,
		Confidence: confidence,
		Provider:   "whisper-server",
		Metadata:   metadata,
	}

	m.metrics.recordRequest(start, true)
	m.logger.InfoContext(ctx, "transcription request completed", "worker_id", w.ID(), "duration_ms", time.Since(start).Milliseconds())
	m.scheduleRotation(ctx, w)

	return result, nil
}
