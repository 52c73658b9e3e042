package llm

import (
	"context"

	"github.com/joseph-ayodele/invoice-audit/internal/common"
)

// ErrNoTextResponse is returned by an AuditInvoker when the model answered without a text block.
var ErrNoTextResponse = common.ErrNoTextResponse

// DocumentPayload is one binary document sent to the model.
type DocumentPayload struct {
	Name      string
	MediaType string // e.g. application/pdf
	Data      []byte
}

// AuditRequest carries the two documents of one audit, sent in this order.
type AuditRequest struct {
	Contract DocumentPayload
	Invoice  DocumentPayload
}

// AuditInvoker is the model boundary the orchestrator depends on. It returns the
// model's raw text; parsing is the caller's job.
type AuditInvoker interface {
	InvokeAudit(ctx context.Context, req AuditRequest) (string, error)
}
