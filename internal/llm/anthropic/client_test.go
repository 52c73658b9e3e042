package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/joseph-ayodele/invoice-audit/internal/common"
	"github.com/joseph-ayodele/invoice-audit/internal/llm"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "test-model"}, quietLogger())
}

func auditRequest() llm.AuditRequest {
	return llm.AuditRequest{
		Contract: llm.DocumentPayload{Name: "contract.pdf", MediaType: "application/pdf", Data: []byte("contract-bytes")},
		Invoice:  llm.DocumentPayload{Name: "invoice.pdf", MediaType: "application/pdf", Data: []byte("invoice-bytes")},
	}
}

func TestInvokeAuditWireFormat(t *testing.T) {
	var captured messagesRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != APIVersion {
			t.Errorf("anthropic-version = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","model":"test-model","stop_reason":"end_turn",
			"content":[{"type":"text","text":"{\"ok\":true}"}],"usage":{"input_tokens":10,"output_tokens":3}}`)
	})

	text, err := client.InvokeAudit(context.Background(), auditRequest())
	if err != nil {
		t.Fatalf("InvokeAudit: %v", err)
	}
	if text != `{"ok":true}` {
		t.Fatalf("text = %q", text)
	}

	if captured.Model != "test-model" || captured.MaxTokens != DefaultMaxTokens || captured.System == "" {
		t.Fatalf("unexpected request envelope: model=%q max_tokens=%d", captured.Model, captured.MaxTokens)
	}
	if len(captured.Messages) != 1 || captured.Messages[0].Role != "user" {
		t.Fatalf("want one user message, got %+v", captured.Messages)
	}
	blocks := captured.Messages[0].Content
	if len(blocks) != 3 {
		t.Fatalf("want 3 content blocks, got %d", len(blocks))
	}
	wantDocs := []string{"contract-bytes", "invoice-bytes"}
	for i, want := range wantDocs {
		b := blocks[i]
		if b.Type != "document" || b.Source == nil || b.Source.Type != "base64" || b.Source.MediaType != "application/pdf" {
			t.Fatalf("block %d is not a base64 pdf document: %+v", i, b)
		}
		data, err := base64.StdEncoding.DecodeString(b.Source.Data)
		if err != nil || string(data) != want {
			t.Fatalf("block %d data = %q (%v), want %q", i, data, err, want)
		}
	}
	if blocks[2].Type != "text" || blocks[2].Text == "" {
		t.Fatalf("last block must be the text instruction: %+v", blocks[2])
	}
}

func TestInvokeAuditSkipsNonTextBlocks(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"content":[{"type":"thinking","text":""},{"type":"text","text":"first"},{"type":"text","text":"second"}]}`)
	})
	text, err := client.InvokeAudit(context.Background(), auditRequest())
	if err != nil {
		t.Fatalf("InvokeAudit: %v", err)
	}
	if text != "first" {
		t.Fatalf("text = %q, want first text block", text)
	}
}

func TestInvokeAuditSkipsBlankTextBlocks(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"  \n"},{"type":"text","text":"{\"ok\":true}"}]}`)
	})
	text, err := client.InvokeAudit(context.Background(), auditRequest())
	if err != nil {
		t.Fatalf("InvokeAudit: %v", err)
	}
	if text != `{"ok":true}` {
		t.Fatalf("text = %q, want the first non-blank text block", text)
	}
}

func TestInvokeAuditNoText(t *testing.T) {
	cases := map[string]string{
		"no text blocks":   `{"content":[{"type":"tool_use"}]}`,
		"only blank texts": `{"content":[{"type":"text","text":""},{"type":"text","text":"   "}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, body)
			})
			_, err := client.InvokeAudit(context.Background(), auditRequest())
			if !errors.Is(err, llm.ErrNoTextResponse) || !errors.Is(err, common.ErrNoTextResponse) {
				t.Fatalf("want ErrNoTextResponse, got %v", err)
			}
		})
	}
}

func TestInvokeAuditProviderError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	})
	_, err := client.InvokeAudit(context.Background(), auditRequest())
	var perr *llm.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("want *llm.ProviderError, got %T %v", err, err)
	}
	if perr.StatusCode != http.StatusTooManyRequests || perr.Type != "rate_limit_error" || perr.Message != "slow down" {
		t.Fatalf("unexpected provider error: %+v", perr)
	}
}
