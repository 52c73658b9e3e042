package anthropic

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-audit/internal/llm"
)

var _ llm.AuditInvoker = (*Client)(nil)

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Temperature float32   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string          `json:"type"`
	Text   string          `json:"text,omitempty"`
	Source *documentSource `json:"source,omitempty"`
}

type documentSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type messagesResponse struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// InvokeAudit implements llm.AuditInvoker with one single-turn Messages call:
// contract document, invoice document, then the instruction text.
func (c *Client) InvokeAudit(ctx context.Context, req llm.AuditRequest) (string, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.logger.Info("llm.audit.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"max_tokens", c.cfg.MaxTokens,
		"contract_bytes", len(req.Contract.Data),
		"contract_media_type", req.Contract.MediaType,
		"invoice_bytes", len(req.Invoice.Data),
		"invoice_media_type", req.Invoice.MediaType,
	)

	body := messagesRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		System:      llm.BuildAuditSystemPrompt(),
		Temperature: c.cfg.Temperature,
		Messages: []message{{
			Role: "user",
			Content: []contentBlock{
				documentBlock(req.Contract),
				documentBlock(req.Invoice),
				{Type: "text", Text: llm.BuildAuditUserPrompt()},
			},
		}},
	}
	headers := map[string]string{
		"x-api-key":         c.cfg.APIKey,
		"anthropic-version": APIVersion,
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/messages"
	var resp messagesResponse
	status, err := llm.PostJSON(ctx, c.http, endpoint, headers, body, &resp, c.logger)
	if err != nil {
		c.logger.Error("llm.audit.http_error",
			"req_id", rid, "status", status, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", err
	}

	for _, block := range resp.Content {
		if block.Type != "text" {
			continue
		}
		if strings.TrimSpace(block.Text) == "" {
			continue
		}
		c.logger.Info("llm.audit.ok",
			"req_id", rid,
			"message_id", resp.ID,
			"stop_reason", resp.StopReason,
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens,
			"text_len", len(block.Text),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return block.Text, nil
	}

	c.logger.Error("llm.audit.no_text",
		"req_id", rid, "message_id", resp.ID, "blocks", len(resp.Content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return "", llm.ErrNoTextResponse
}

func documentBlock(doc llm.DocumentPayload) contentBlock {
	return contentBlock{
		Type: "document",
		Source: &documentSource{
			Type:      "base64",
			MediaType: doc.MediaType,
			Data:      base64.StdEncoding.EncodeToString(doc.Data),
		},
	}
}
