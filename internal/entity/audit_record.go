package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-audit/constants"
)

// AuditRecord is one invoice-vs-contract comparison attempt and its terminal outcome.
type AuditRecord struct {
	ID                   uuid.UUID             `json:"id"`
	ContractID           string                `json:"contract_id"`
	InvoiceFileName      string                `json:"invoice_file_name"`
	InvoiceFilePath      string                `json:"invoice_file_path"`
	InvoiceFileSizeBytes int64                 `json:"invoice_file_size_bytes"`
	ContractDocumentID   *uuid.UUID            `json:"contract_document_id"`
	ContractDocumentPath *string               `json:"contract_document_path"`
	Status               constants.AuditStatus `json:"status"`
	AuditResult          *AuditResult          `json:"audit_result"`
	TotalDiscrepancies   *int                  `json:"total_discrepancies"`
	InvoiceTotal         *float64              `json:"invoice_total"`
	ContractExpected     *float64              `json:"contract_expected_total"`
	Currency             *string               `json:"currency"`
	ErrorMessage         *string               `json:"error_message"`
	CreatedBy            string                `json:"created_by"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
	CompletedAt          *time.Time            `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the record has left processing.
func (r *AuditRecord) IsTerminal() bool {
	return r.Status.IsTerminal()
}
