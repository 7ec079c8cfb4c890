package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxlabs/voicebridge/internal/observability"
	"github.com/voxlabs/voicebridge/internal/resilience"
)

// Transcriber converts an encoded mono 16-bit WAV payload into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, model string) (string, error)
}

// HTTPTranscriber uploads WAV audio to an OpenAI-compatible transcription
// endpoint as a multipart form. Calls are retried with exponential backoff
// and guarded by a circuit breaker.
type HTTPTranscriber struct {
	url     string
	apiKey  string
	client  *http.Client
	retry   *resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewHTTPTranscriber creates a transcription client.
func NewHTTPTranscriber(url, apiKey string, retry *resilience.RetryConfig, breaker *resilience.CircuitBreaker) *HTTPTranscriber {
	return &HTTPTranscriber{
		url:     url,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		retry:   retry,
		breaker: breaker,
		logger:  observability.WithComponent("stt.transcriber"),
	}
}

// Transcribe uploads the WAV payload and returns the transcript text.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, wav []byte, model string) (string, error) {
	var text string

	err := resilience.Retry(ctx, func() error {
		callErr := t.breaker.Call(func() error {
			var err error
			text, err = t.upload(ctx, wav, model)
			return err
		})
		observability.UpdateCircuitBreakerState(t.breaker.Name(), int(t.breaker.GetState()))
		return callErr
	}, t.retry, resilience.IsRetryableNetworkError)

	if err != nil {
		return "", err
	}
	return text, nil
}

func (t *HTTPTranscriber) upload(ctx context.Context, wav []byte, model string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("write audio payload: %w", err)
	}
	if err := writer.WriteField("model", model); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription failed: status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	t.logger.Debug().
		Dur("latency", time.Since(start)).
		Int("wav_bytes", len(wav)).
		Msg("Transcription upload completed")
	return parsed.Text, nil
}
