package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-audit/internal/common"
)

// maxResponseBytes caps how much of a model response is read.
const maxResponseBytes = 16 << 20

// ProviderError is returned when the model API responds with a non-2xx status.
type ProviderError struct {
	StatusCode int
	Type       string // e.g. "invalid_request_error", "rate_limit_error"
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("model API HTTP %d: %s: %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("model API HTTP %d: %s", e.StatusCode, e.Message)
}

// PostJSON posts body to url and decodes a 2xx reply into out. Non-2xx replies come back
// as *ProviderError. The caller's request id, if any, tags every log line.
func PostJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}
	callID := common.RequestIDFromContext(ctx)
	if callID == "" {
		callID = uuid.NewString()
	}
	log := logger.With("call_id", callID)
	start := time.Now()

	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	log.Debug("llm.http.request", "url", url, "content_length", len(payload))
	resp, err := client.Do(req)
	if err != nil {
		log.Error("llm.http.send_failed", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	log.Info("llm.http.response",
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, providerError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response (%d bytes): %w", len(raw), err)
	}
	return resp.StatusCode, nil
}

// providerError reads the {"error":{"type","message"}} envelope used by the model API.
func providerError(status int, raw []byte) error {
	var wire struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &wire) == nil && wire.Error.Message != "" {
		return &ProviderError{StatusCode: status, Type: wire.Error.Type, Message: wire.Error.Message}
	}
	msg := string(raw)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &ProviderError{StatusCode: status, Message: msg}
}
