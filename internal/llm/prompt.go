package llm

import (
	"encoding/json"
	"strings"
)

// BuildAuditSystemPrompt composes the fixed system instruction: the reconciliation task,
// the exact output schema, and the severity thresholds.
func BuildAuditSystemPrompt() string {
	parts := []string{
		"You are an auditor reconciling an invoice against the contract that governs it.",
		"The first document is the contract. The second document is the invoice.",
		"Extract the fees the contract agrees to, compare every invoice line against them, and report each discrepancy.",
		"Return ONLY JSON that matches the JSON Schema below. No prose before or after it.",
		"Use null for optional values you cannot read. Use numbers, not strings, for amounts.",
		"Currencies are 3-letter ISO 4217 codes.",
		"summary.overall_status is 'match' when nothing is flagged, 'major_discrepancies' when any discrepancy is high severity, otherwise 'discrepancies_found'.",
		"summary.total_difference is total_invoiced minus total_contracted.",
		"Severity rules:",
		"high = price mismatch above 10% or an unauthorized charge above 500 in absolute value;",
		"medium = price mismatch between 2% and 10% or a smaller unauthorized charge;",
		"low = rounding or minor calculation differences.",
		"Recommendations are short, actionable sentences ordered by importance.",
		"JSON Schema:\n" + mustJSON(BuildAuditResultJSONSchema()),
	}
	return strings.Join(parts, "\n")
}

// BuildAuditUserPrompt is the text block that follows the two documents.
func BuildAuditUserPrompt() string {
	return "Audit the invoice against the contract above and return the JSON result."
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
