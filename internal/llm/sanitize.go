package llm

import (
	"strings"

	"github.com/joseph-ayodele/invoice-audit/constants"
)

const fence = "```"

// StripCodeFence removes exactly one outer fenced code block, with or without a
// language tag. Unfenced text is returned trimmed but otherwise unchanged.
func StripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if len(s) < 2*len(fence) || !strings.HasPrefix(s, fence) || !strings.HasSuffix(s, fence) {
		return s
	}
	inner := s[len(fence) : len(s)-len(fence)]
	if i := strings.IndexByte(inner, '\n'); i >= 0 && isLanguageTag(strings.TrimSpace(inner[:i])) {
		inner = inner[i+1:]
	}
	return strings.TrimSpace(inner)
}

func isLanguageTag(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '+':
		default:
			return false
		}
	}
	return true
}

// normalizeAuditDocument applies the light repairs models commonly need: enum strings
// are folded to snake_case and currency codes uppercased. It edits doc in place and
// returns the paths it changed. Shapes it does not recognise are left for the schema.
func normalizeAuditDocument(doc any) []string {
	root, ok := doc.(map[string]any)
	if !ok {
		return nil
	}
	var changed []string
	fix := func(path string, m map[string]any, key string, fn func(string) string) {
		s, ok := m[key].(string)
		if !ok {
			return
		}
		if n := fn(s); n != s {
			m[key] = n
			changed = append(changed, path+"."+key)
		}
	}
	currency := func(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

	if summary, ok := root["summary"].(map[string]any); ok {
		fix("summary", summary, "overall_status", constants.CanonicalEnum)
		fix("summary", summary, "currency", currency)
	}
	if terms, ok := root["extracted_contract_terms"].(map[string]any); ok {
		fix("extracted_contract_terms", terms, "currency", currency)
	}
	if items, ok := root["line_items"].([]any); ok {
		for _, it := range items {
			if m, ok := it.(map[string]any); ok {
				fix("line_items[]", m, "status", constants.CanonicalEnum)
			}
		}
	}
	if discs, ok := root["discrepancies"].([]any); ok {
		for _, d := range discs {
			if m, ok := d.(map[string]any); ok {
				fix("discrepancies[]", m, "type", constants.CanonicalEnum)
				fix("discrepancies[]", m, "severity", constants.CanonicalEnum)
			}
		}
	}
	return changed
}
