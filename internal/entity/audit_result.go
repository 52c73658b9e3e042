package entity

import "github.com/joseph-ayodele/invoice-audit/constants"

// AuditResult is the structured report produced by the model. It is embedded in
// AuditRecord.AuditResult and never stored on its own.
type AuditResult struct {
	Summary                AuditSummary           `json:"summary"`
	LineItems              []LineItem             `json:"line_items"`
	Discrepancies          []Discrepancy          `json:"discrepancies"`
	Recommendations        []string               `json:"recommendations"`
	ExtractedContractTerms ExtractedContractTerms `json:"extracted_contract_terms"`
}

type AuditSummary struct {
	OverallStatus   constants.OverallStatus `json:"overall_status"`
	ConfidenceScore float64                 `json:"confidence_score"`
	InvoiceNumber   *string                 `json:"invoice_number,omitempty"`
	InvoiceDate     *string                 `json:"invoice_date,omitempty"`
	InvoicePeriod   *string                 `json:"invoice_period,omitempty"`
	TotalInvoiced   float64                 `json:"total_invoiced"`
	TotalContracted float64                 `json:"total_contracted"`
	TotalDifference float64                 `json:"total_difference"`
	Currency        string                  `json:"currency,omitempty"`
}

type LineItem struct {
	Description       string                   `json:"description"`
	InvoiceQuantity   *float64                 `json:"invoice_quantity,omitempty"`
	InvoiceUnitPrice  *float64                 `json:"invoice_unit_price,omitempty"`
	InvoiceTotal      float64                  `json:"invoice_total"`
	ContractUnitPrice *float64                 `json:"contract_unit_price,omitempty"`
	ContractTotal     *float64                 `json:"contract_total,omitempty"`
	Status            constants.LineItemStatus `json:"status"`
	Difference        *float64                 `json:"difference,omitempty"`
	Notes             *string                  `json:"notes,omitempty"`
}

type Discrepancy struct {
	Type              constants.DiscrepancyType `json:"type"`
	Severity          constants.Severity        `json:"severity"`
	Description       string                    `json:"description"`
	InvoiceValue      *float64                  `json:"invoice_value,omitempty"`
	ContractValue     *float64                  `json:"contract_value,omitempty"`
	Difference        *float64                  `json:"difference,omitempty"`
	LineItemReference *string                   `json:"line_item_reference,omitempty"`
}

type ExtractedContractTerms struct {
	VisitFees           []VisitFee `json:"visit_fees"`
	StartupFee          *float64   `json:"startup_fee,omitempty"`
	CloseoutFee         *float64   `json:"closeout_fee,omitempty"`
	ScreenFailureFee    *float64   `json:"screen_failure_fee,omitempty"`
	PatientCompensation *float64   `json:"patient_compensation,omitempty"`
	OtherFees           []OtherFee `json:"other_fees"`
	Currency            string     `json:"currency,omitempty"`
}

type VisitFee struct {
	VisitName string  `json:"visit_name"`
	Fee       float64 `json:"fee"`
}

type OtherFee struct {
	Description string  `json:"description"`
	Fee         float64 `json:"fee"`
}
