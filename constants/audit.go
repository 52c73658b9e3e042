package constants

import "strings"

// OverallStatus is the headline verdict of an audit summary.
type OverallStatus string

const (
	OverallMatch              OverallStatus = "match"
	OverallDiscrepanciesFound OverallStatus = "discrepancies_found"
	OverallMajorDiscrepancies OverallStatus = "major_discrepancies"
)

// LineItemStatus classifies one invoice line against the contract.
type LineItemStatus string

const (
	LineItemMatch              LineItemStatus = "match"
	LineItemPriceMismatch      LineItemStatus = "price_mismatch"
	LineItemNotInContract      LineItemStatus = "not_in_contract"
	LineItemMissingFromInvoice LineItemStatus = "missing_from_invoice"
)

// DiscrepancyType classifies a flagged mismatch.
type DiscrepancyType string

const (
	DiscrepancyPriceMismatch      DiscrepancyType = "price_mismatch"
	DiscrepancyQuantityMismatch   DiscrepancyType = "quantity_mismatch"
	DiscrepancyUnauthorizedCharge DiscrepancyType = "unauthorized_charge"
	DiscrepancyMissingItem        DiscrepancyType = "missing_item"
	DiscrepancyCalculationError   DiscrepancyType = "calculation_error"
	DiscrepancyOther              DiscrepancyType = "other"
)

// Severity ranks a discrepancy.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

var (
	overallStatuses  = []OverallStatus{OverallMatch, OverallDiscrepanciesFound, OverallMajorDiscrepancies}
	lineItemStatuses = []LineItemStatus{LineItemMatch, LineItemPriceMismatch, LineItemNotInContract, LineItemMissingFromInvoice}
	discrepancyTypes = []DiscrepancyType{
		DiscrepancyPriceMismatch,
		DiscrepancyQuantityMismatch,
		DiscrepancyUnauthorizedCharge,
		DiscrepancyMissingItem,
		DiscrepancyCalculationError,
		DiscrepancyOther,
	}
	severities = []Severity{SeverityHigh, SeverityMedium, SeverityLow}
)

func OverallStatusValues() []string   { return asStrings(overallStatuses) }
func LineItemStatusValues() []string  { return asStrings(lineItemStatuses) }
func DiscrepancyTypeValues() []string { return asStrings(discrepancyTypes) }
func SeverityValues() []string        { return asStrings(severities) }

func asStrings[T ~string](in []T) []string {
	result := make([]string, len(in))
	for i, v := range in {
		result[i] = string(v)
	}
	return result
}

// CanonicalEnum folds the spelling variants models produce ("Price Mismatch", "PRICE-MISMATCH")
// onto the snake_case form. It only reshapes; callers still validate membership.
func CanonicalEnum(input string) string {
	s := strings.ToLower(strings.TrimSpace(input))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return s
}
