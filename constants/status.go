package constants

// AuditStatus is the canonical status for rows in invoice_audits.
type AuditStatus string

// Stable values (store these exact strings in DB).
const (
	AuditStatusProcessing AuditStatus = "processing" // row created, model not answered yet
	AuditStatusCompleted  AuditStatus = "completed"  // terminal: audit_result stored
	AuditStatusFailed     AuditStatus = "failed"     // terminal: error_message stored
)

// IsTerminal reports whether s can no longer change.
func (s AuditStatus) IsTerminal() bool {
	return s == AuditStatusCompleted || s == AuditStatusFailed
}

// DefaultCurrency is copied onto completed records whose summary has no currency.
const DefaultCurrency = "EUR"
