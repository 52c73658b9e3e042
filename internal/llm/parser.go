package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/joseph-ayodele/invoice-audit/internal/common"
	"github.com/joseph-ayodele/invoice-audit/internal/entity"
)

const snippetLimit = 200

// ParseError reports model text that could not be turned into an AuditResult.
// It keeps the text length and a bounded snippet, never the full text.
type ParseError struct {
	Length  int
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse audit result (len=%d): %v", e.Length, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{common.ErrResultParse, e.Err}
}

// ParseAuditResult strips an optional code fence, decodes the JSON, applies light
// normalization, validates it against the AuditResult schema, and decodes the typed value.
func ParseAuditResult(text string) (*entity.AuditResult, error) {
	fail := func(err error) error {
		return &ParseError{Length: len(text), Snippet: snippet(text), Err: err}
	}

	body := StripCodeFence(text)
	if body == "" {
		return nil, fail(errors.New("empty response"))
	}

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fail(fmt.Errorf("decode json: %w", err))
	}
	normalizeAuditDocument(doc)
	if err := validateAuditDocument(doc); err != nil {
		return nil, fail(err)
	}

	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fail(fmt.Errorf("re-encode json: %w", err))
	}
	var out entity.AuditResult
	if err := json.Unmarshal(normalized, &out); err != nil {
		return nil, fail(fmt.Errorf("decode audit result: %w", err))
	}
	return &out, nil
}

func snippet(text string) string {
	if len(text) <= snippetLimit {
		return text
	}
	cut := snippetLimit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}
