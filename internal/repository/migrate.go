package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// {{ts}} is replaced per dialect: SQLite needs DATETIME for the driver to hand back time.Time.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS contract_documents (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		storage_path TEXT NOT NULL,
		file_name TEXT NOT NULL,
		is_primary BOOLEAN NOT NULL DEFAULT FALSE,
		uploaded_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_contract_documents_contract
		ON contract_documents (contract_id, uploaded_at DESC)`,
	`CREATE TABLE IF NOT EXISTS invoice_audits (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		invoice_file_name TEXT NOT NULL,
		invoice_file_path TEXT NOT NULL,
		invoice_file_size_bytes BIGINT NOT NULL,
		contract_document_id TEXT,
		contract_document_path TEXT,
		status TEXT NOT NULL CHECK (status IN ('processing', 'completed', 'failed')),
		audit_result TEXT,
		total_discrepancies INTEGER,
		invoice_total DOUBLE PRECISION,
		contract_expected_total DOUBLE PRECISION,
		currency TEXT,
		error_message TEXT,
		created_by TEXT NOT NULL,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL,
		completed_at {{ts}}
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invoice_audits_contract
		ON invoice_audits (contract_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_invoice_audits_invoice_path
		ON invoice_audits (invoice_file_path)`,
	`CREATE INDEX IF NOT EXISTS idx_invoice_audits_status
		ON invoice_audits (status)`,
}

// Migrate applies the schema in one transaction. It is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	ts := "TIMESTAMPTZ"
	if isSQLite(db) {
		ts = "DATETIME"
	}
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, strings.ReplaceAll(stmt, "{{ts}}", ts)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}
