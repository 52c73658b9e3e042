package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const auditSchemaURL = "audit_result.schema.json"

// auditSchema is compiled once; the schema is static.
var auditSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return compileSchema(auditSchemaURL, BuildAuditResultJSONSchema())
})

func compileSchema(url string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", url, err)
	}
	return c.Compile(url)
}

// validateAuditDocument checks a decoded JSON document against the AuditResult schema.
func validateAuditDocument(doc any) error {
	schema, err := auditSchema()
	if err != nil {
		return fmt.Errorf("compile audit schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
