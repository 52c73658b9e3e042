package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/joseph-ayodele/invoice-audit/internal/common"
	"github.com/joseph-ayodele/invoice-audit/internal/entity"
)

type DocumentRepository interface {
	Create(ctx context.Context, doc *entity.Document) error
	// ListByContract returns documents newest first (uploaded_at DESC, id DESC).
	ListByContract(ctx context.Context, contractID string) ([]*entity.Document, error)
}

type documentRepo struct {
	db  *sqlx.DB
	log *slog.Logger
}

func NewDocumentRepository(db *sqlx.DB, log *slog.Logger) DocumentRepository {
	if log == nil {
		log = slog.Default()
	}
	return &documentRepo{db: db, log: log}
}

type documentRow struct {
	ID          string    `db:"id"`
	ContractID  string    `db:"contract_id"`
	StoragePath string    `db:"storage_path"`
	FileName    string    `db:"file_name"`
	IsPrimary   bool      `db:"is_primary"`
	UploadedAt  time.Time `db:"uploaded_at"`
}

func (r *documentRepo) Create(ctx context.Context, doc *entity.Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}
	q := r.db.Rebind(`INSERT INTO contract_documents (id, contract_id, storage_path, file_name, is_primary, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := r.db.ExecContext(ctx, q,
		doc.ID.String(), doc.ContractID, doc.StoragePath, doc.FileName, doc.IsPrimary, doc.UploadedAt,
	); err != nil {
		r.log.Error("contract_document create failed", "contract_id", doc.ContractID, "err", err)
		return fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	r.log.Info("contract_document created", "document_id", doc.ID, "contract_id", doc.ContractID, "is_primary", doc.IsPrimary)
	return nil
}

func (r *documentRepo) ListByContract(ctx context.Context, contractID string) ([]*entity.Document, error) {
	var rows []documentRow
	q := r.db.Rebind(`SELECT id, contract_id, storage_path, file_name, is_primary, uploaded_at
		FROM contract_documents WHERE contract_id = ? ORDER BY uploaded_at DESC, id DESC`)
	if err := r.db.SelectContext(ctx, &rows, q, contractID); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	out := make([]*entity.Document, 0, len(rows))
	for _, row := range rows {
		id, err := uuid.Parse(row.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: bad document id %q: %v", common.ErrDatabase, row.ID, err)
		}
		out = append(out, &entity.Document{
			ID:          id,
			ContractID:  row.ContractID,
			StoragePath: row.StoragePath,
			FileName:    row.FileName,
			IsPrimary:   row.IsPrimary,
			UploadedAt:  row.UploadedAt.UTC(),
		})
	}
	return out, nil
}
