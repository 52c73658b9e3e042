package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/joseph-ayodele/invoice-audit/constants"
	"github.com/joseph-ayodele/invoice-audit/internal/common"
	"github.com/joseph-ayodele/invoice-audit/internal/entity"
)

// AuditCompletion carries the fields written on the processing -> completed transition.
type AuditCompletion struct {
	Result                *entity.AuditResult
	TotalDiscrepancies    int
	InvoiceTotal          float64
	ContractExpectedTotal float64
	Currency              string
}

type AuditRepository interface {
	// Create inserts rec in processing state, filling ID and timestamps when unset.
	Create(ctx context.Context, rec *entity.AuditRecord) error
	// MarkCompleted and MarkFailed return common.ErrRecordNotPending when the
	// record is missing or already terminal.
	MarkCompleted(ctx context.Context, id uuid.UUID, c AuditCompletion) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.AuditRecord, error)
	ListByContract(ctx context.Context, contractID string) ([]*entity.AuditRecord, error)
	CountByStatus(ctx context.Context) (map[constants.AuditStatus]int, error)
	InvoicePathReferenced(ctx context.Context, path string) (bool, error)
}

type auditRepo struct {
	db  *sqlx.DB
	log *slog.Logger
	now func() time.Time
}

func NewAuditRepository(db *sqlx.DB, log *slog.Logger) AuditRepository {
	if log == nil {
		log = slog.Default()
	}
	return &auditRepo{db: db, log: log, now: time.Now}
}

const auditColumns = `id, contract_id, invoice_file_name, invoice_file_path, invoice_file_size_bytes,
	contract_document_id, contract_document_path, status, audit_result, total_discrepancies,
	invoice_total, contract_expected_total, currency, error_message, created_by,
	created_at, updated_at, completed_at`

type auditRow struct {
	ID                    string          `db:"id"`
	ContractID            string          `db:"contract_id"`
	InvoiceFileName       string          `db:"invoice_file_name"`
	InvoiceFilePath       string          `db:"invoice_file_path"`
	InvoiceFileSizeBytes  int64           `db:"invoice_file_size_bytes"`
	ContractDocumentID    sql.NullString  `db:"contract_document_id"`
	ContractDocumentPath  sql.NullString  `db:"contract_document_path"`
	Status                string          `db:"status"`
	AuditResult           sql.NullString  `db:"audit_result"`
	TotalDiscrepancies    sql.NullInt64   `db:"total_discrepancies"`
	InvoiceTotal          sql.NullFloat64 `db:"invoice_total"`
	ContractExpectedTotal sql.NullFloat64 `db:"contract_expected_total"`
	Currency              sql.NullString  `db:"currency"`
	ErrorMessage          sql.NullString  `db:"error_message"`
	CreatedBy             string          `db:"created_by"`
	CreatedAt             time.Time       `db:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at"`
	CompletedAt           sql.NullTime    `db:"completed_at"`
}

func (r *auditRepo) Create(ctx context.Context, rec *entity.AuditRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := r.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = rec.CreatedAt
	rec.Status = constants.AuditStatusProcessing

	var docID, docPath any
	if rec.ContractDocumentID != nil {
		docID = rec.ContractDocumentID.String()
	}
	if rec.ContractDocumentPath != nil {
		docPath = *rec.ContractDocumentPath
	}

	q := r.db.Rebind(`INSERT INTO invoice_audits (
		id, contract_id, invoice_file_name, invoice_file_path, invoice_file_size_bytes,
		contract_document_id, contract_document_path, status, created_by, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, q,
		rec.ID.String(), rec.ContractID, rec.InvoiceFileName, rec.InvoiceFilePath, rec.InvoiceFileSizeBytes,
		docID, docPath, string(rec.Status), rec.CreatedBy, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		r.log.Error("invoice_audit create failed", "contract_id", rec.ContractID, "err", err)
		return fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	r.log.Info("invoice_audit created", "audit_id", rec.ID, "contract_id", rec.ContractID)
	return nil
}

func (r *auditRepo) MarkCompleted(ctx context.Context, id uuid.UUID, c AuditCompletion) error {
	if c.Result == nil {
		return fmt.Errorf("%w: completion without audit result", common.ErrInvalidInput)
	}
	payload, err := json.Marshal(c.Result)
	if err != nil {
		return fmt.Errorf("encode audit result: %w", err)
	}
	now := r.now().UTC()
	q := r.db.Rebind(`UPDATE invoice_audits SET
		status = ?, audit_result = ?, total_discrepancies = ?, invoice_total = ?,
		contract_expected_total = ?, currency = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND status = ?`)
	res, err := r.db.ExecContext(ctx, q,
		string(constants.AuditStatusCompleted), string(payload), c.TotalDiscrepancies, c.InvoiceTotal,
		c.ContractExpectedTotal, c.Currency, now, now,
		id.String(), string(constants.AuditStatusProcessing),
	)
	if err := r.checkTransition(res, err, id); err != nil {
		r.log.Error("invoice_audit finish(completed) failed", "audit_id", id, "err", err)
		return err
	}
	r.log.Info("invoice_audit finished (completed)", "audit_id", id, "discrepancies", c.TotalDiscrepancies)
	return nil
}

func (r *auditRepo) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	now := r.now().UTC()
	q := r.db.Rebind(`UPDATE invoice_audits SET
		status = ?, error_message = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND status = ?`)
	res, err := r.db.ExecContext(ctx, q,
		string(constants.AuditStatusFailed), message, now, now,
		id.String(), string(constants.AuditStatusProcessing),
	)
	if err := r.checkTransition(res, err, id); err != nil {
		r.log.Error("invoice_audit finish(failed) failed", "audit_id", id, "err", err)
		return err
	}
	r.log.Warn("invoice_audit finished (failed)", "audit_id", id, "error", message)
	return nil
}

func (r *auditRepo) checkTransition(res sql.Result, err error, id uuid.UUID) error {
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", common.ErrRecordNotPending, id)
	}
	return nil
}

func (r *auditRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.AuditRecord, error) {
	var row auditRow
	q := r.db.Rebind(`SELECT ` + auditColumns + ` FROM invoice_audits WHERE id = ?`)
	if err := r.db.GetContext(ctx, &row, q, id.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: audit %s", common.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return row.toEntity()
}

func (r *auditRepo) ListByContract(ctx context.Context, contractID string) ([]*entity.AuditRecord, error) {
	var rows []auditRow
	q := r.db.Rebind(`SELECT ` + auditColumns + ` FROM invoice_audits
		WHERE contract_id = ? ORDER BY created_at DESC, id DESC`)
	if err := r.db.SelectContext(ctx, &rows, q, contractID); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	out := make([]*entity.AuditRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *auditRepo) CountByStatus(ctx context.Context) (map[constants.AuditStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS n FROM invoice_audits GROUP BY status`); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	out := make(map[constants.AuditStatus]int, len(rows))
	for _, row := range rows {
		out[constants.AuditStatus(row.Status)] = row.N
	}
	return out, nil
}

func (r *auditRepo) InvoicePathReferenced(ctx context.Context, path string) (bool, error) {
	var n int
	q := r.db.Rebind(`SELECT COUNT(*) FROM invoice_audits WHERE invoice_file_path = ?`)
	if err := r.db.GetContext(ctx, &n, q, path); err != nil {
		return false, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return n > 0, nil
}

func (row *auditRow) toEntity() (*entity.AuditRecord, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad audit id %q: %v", common.ErrDatabase, row.ID, err)
	}
	rec := &entity.AuditRecord{
		ID:                   id,
		ContractID:           row.ContractID,
		InvoiceFileName:      row.InvoiceFileName,
		InvoiceFilePath:      row.InvoiceFilePath,
		InvoiceFileSizeBytes: row.InvoiceFileSizeBytes,
		Status:               constants.AuditStatus(row.Status),
		CreatedBy:            row.CreatedBy,
		CreatedAt:            row.CreatedAt.UTC(),
		UpdatedAt:            row.UpdatedAt.UTC(),
	}
	if row.ContractDocumentID.Valid {
		docID, err := uuid.Parse(row.ContractDocumentID.String)
		if err != nil {
			return nil, fmt.Errorf("%w: bad contract document id %q: %v", common.ErrDatabase, row.ContractDocumentID.String, err)
		}
		rec.ContractDocumentID = &docID
	}
	if row.ContractDocumentPath.Valid {
		rec.ContractDocumentPath = &row.ContractDocumentPath.String
	}
	if row.AuditResult.Valid {
		var result entity.AuditResult
		if err := json.Unmarshal([]byte(row.AuditResult.String), &result); err != nil {
			return nil, fmt.Errorf("%w: decode audit_result for %s: %v", common.ErrDatabase, id, err)
		}
		rec.AuditResult = &result
	}
	if row.TotalDiscrepancies.Valid {
		n := int(row.TotalDiscrepancies.Int64)
		rec.TotalDiscrepancies = &n
	}
	if row.InvoiceTotal.Valid {
		rec.InvoiceTotal = &row.InvoiceTotal.Float64
	}
	if row.ContractExpectedTotal.Valid {
		rec.ContractExpected = &row.ContractExpectedTotal.Float64
	}
	if row.Currency.Valid {
		rec.Currency = &row.Currency.String
	}
	if row.ErrorMessage.Valid {
		rec.ErrorMessage = &row.ErrorMessage.String
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Time.UTC()
		rec.CompletedAt = &t
	}
	return rec, nil
}
