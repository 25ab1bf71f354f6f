// Package transcribe sends finished recordings to an OpenAI-compatible speech-to-text API.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/eliteGoblin/dictd/internal/domain"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 512

// Config configures the transcription client.
type Config struct {
	BaseURL        string        // e.g. https://api.openai.com/v1
	APIKey         string        // Bearer token
	Model          string        // e.g. whisper-1
	Language       string        // Optional ISO-639-1 hint
	Prompt         string        // Optional vocabulary hint
	RequestTimeout time.Duration // Per attempt
	MaxAttempts    int           // Including the first request
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns default transcription configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "https://api.openai.com/v1",
		Model:          "whisper-1",
		RequestTimeout: 60 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     4 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}

// Client implements domain.Transcriber.
type Client struct {
	config Config
	http   *http.Client
	logger *zap.Logger
}

// New creates a transcription client.
func New(config Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		config: config.withDefaults(),
		http:   &http.Client{},
		logger: logger,
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads audioPath and returns the recognized text, trimmed.
// Network errors, 429 and 5xx responses are retried with exponential backoff.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if c.config.APIKey == "" {
		return "", domain.ErrNoCredentials
	}

	body, contentType, err := c.buildForm(audioPath)
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		text, retryAfter, err := c.attempt(ctx, body, contentType)
		if err == nil {
			return text, nil
		}
		lastErr = err

		var retry *retryableError
		if !errors.As(err, &retry) || attempt == c.config.MaxAttempts {
			break
		}

		wait := c.backoff(attempt, retryAfter)
		c.logger.Warn("transcription request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(retry.err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	var retry *retryableError
	if errors.As(lastErr, &retry) {
		return "", retry.err
	}
	return "", lastErr
}

// buildForm reads the recording into a multipart body that can be replayed across attempts.
func (c *Client) buildForm(audioPath string) ([]byte, string, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrBadAudio, err)
	}
	if info.Size() == 0 {
		return nil, "", fmt.Errorf("%w: %s is empty", domain.ErrBadAudio, filepath.Base(audioPath))
	}

	file, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrBadAudio, err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	fields := [][2]string{
		{"model", c.config.Model},
		{"response_format", "json"},
		{"language", c.config.Language},
		{"prompt", c.config.Prompt},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("reading audio file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body.Bytes(), writer.FormDataContentType(), nil
}

// retryableError marks a failure worth another attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func (c *Client) attempt(ctx context.Context, body []byte, contentType string) (string, time.Duration, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.config.BaseURL+"/audio/transcriptions", bytes.NewReader(body))
	if err != nil {
		return "", 0, &domain.ServiceError{Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", 0, ctxErr
		}
		return "", 0, &retryableError{err: &domain.ServiceError{Err: err}}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, &retryableError{err: &domain.ServiceError{StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var parsed transcriptionResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return "", 0, &domain.ServiceError{StatusCode: resp.StatusCode, Err: fmt.Errorf("parsing response: %w", err)}
		}
		return strings.TrimSpace(parsed.Text), 0, nil

	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusRequestEntityTooLarge,
		resp.StatusCode == http.StatusUnsupportedMediaType:
		return "", 0, fmt.Errorf("%w (HTTP %d): %s", domain.ErrBadAudio, resp.StatusCode, errorMessage(respBody))

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		svcErr := &domain.ServiceError{StatusCode: resp.StatusCode, Body: errorMessage(respBody)}
		return "", retryAfter(resp.Header.Get("Retry-After")), &retryableError{err: svcErr}

	default:
		return "", 0, &domain.ServiceError{StatusCode: resp.StatusCode, Body: errorMessage(respBody)}
	}
}

// backoff doubles from InitialBackoff, capped at MaxBackoff. A server Retry-After wins if it is longer.
func (c *Client) backoff(attempt int, retryAfter time.Duration) time.Duration {
	wait := c.config.InitialBackoff << (attempt - 1)
	if wait > c.config.MaxBackoff || wait <= 0 {
		wait = c.config.MaxBackoff
	}
	if retryAfter > wait {
		wait = min(retryAfter, c.config.MaxBackoff)
	}
	return wait
}

func retryAfter(header string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// errorMessage extracts {"error":{"message":...}} when present, otherwise a truncated body.
func errorMessage(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	return msg
}

var _ domain.Transcriber = (*Client)(nil)
