package llm

import "github.com/joseph-ayodele/invoice-audit/constants"

// BuildAuditResultJSONSchema returns the AuditResult JSON-Schema (draft 2020-12 subset) as a generic map.
// It is embedded in the system prompt and used locally to validate the model's answer.
func BuildAuditResultJSONSchema() map[string]any {
	summary := object(map[string]any{
		"overall_status":   enumProp(constants.OverallStatusValues()),
		"confidence_score": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
		"invoice_number":   nullableString(),
		"invoice_date":     nullableString(),
		"invoice_period":   nullableString(),
		"total_invoiced":   number(),
		"total_contracted": number(),
		"total_difference": number(),
		"currency":         currencyProp(),
	}, "overall_status", "confidence_score", "total_invoiced", "total_contracted", "total_difference")

	lineItem := object(map[string]any{
		"description":         map[string]any{"type": "string"},
		"invoice_quantity":    nullableNumber(),
		"invoice_unit_price":  nullableNumber(),
		"invoice_total":       number(),
		"contract_unit_price": nullableNumber(),
		"contract_total":      nullableNumber(),
		"status":              enumProp(constants.LineItemStatusValues()),
		"difference":          nullableNumber(),
		"notes":               nullableString(),
	}, "description", "invoice_total", "status")

	discrepancy := object(map[string]any{
		"type":                enumProp(constants.DiscrepancyTypeValues()),
		"severity":            enumProp(constants.SeverityValues()),
		"description":         map[string]any{"type": "string"},
		"invoice_value":       nullableNumber(),
		"contract_value":      nullableNumber(),
		"difference":          nullableNumber(),
		"line_item_reference": nullableString(),
	}, "type", "severity", "description")

	terms := object(map[string]any{
		"visit_fees": arrayOf(object(map[string]any{
			"visit_name": map[string]any{"type": "string"},
			"fee":        number(),
		}, "visit_name", "fee")),
		"startup_fee":          nullableNumber(),
		"closeout_fee":         nullableNumber(),
		"screen_failure_fee":   nullableNumber(),
		"patient_compensation": nullableNumber(),
		"other_fees": arrayOf(object(map[string]any{
			"description": map[string]any{"type": "string"},
			"fee":         number(),
		}, "description", "fee")),
		"currency": currencyProp(),
	}, "visit_fees", "other_fees")

	return object(map[string]any{
		"summary":                  summary,
		"line_items":               arrayOf(lineItem),
		"discrepancies":            arrayOf(discrepancy),
		"recommendations":          arrayOf(map[string]any{"type": "string"}),
		"extracted_contract_terms": terms,
	}, "summary", "line_items", "discrepancies", "recommendations", "extracted_contract_terms")
}

func object(props map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func arrayOf(items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items}
}

func enumProp(values []string) map[string]any {
	return map[string]any{"type": "string", "enum": values}
}

func number() map[string]any {
	return map[string]any{"type": "number"}
}

func nullableNumber() map[string]any {
	return map[string]any{"type": []string{"number", "null"}}
}

func nullableString() map[string]any {
	return map[string]any{"type": []string{"string", "null"}}
}

func currencyProp() map[string]any {
	return map[string]any{"type": "string", "pattern": `^[A-Z]{3}$`}
}
