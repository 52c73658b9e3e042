package core

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/joseph-ayodele/invoice-audit/constants"
	"github.com/joseph-ayodele/invoice-audit/internal/common"
	"github.com/joseph-ayodele/invoice-audit/internal/entity"
	"github.com/joseph-ayodele/invoice-audit/internal/repository"
	"github.com/joseph-ayodele/invoice-audit/internal/storage"
)

// UploadDocumentRequest is one contract document added to a contract.
type UploadDocumentRequest struct {
	ContractID  string `json:"contract_id" validate:"required"`
	Data        []byte `json:"document" validate:"required,min=1"`
	FileName    string `json:"file_name" validate:"required"`
	ContentType string `json:"content_type"`
	IsPrimary   bool   `json:"is_primary"`
}

// DocumentService stores contract documents and their metadata rows.
type DocumentService struct {
	store  storage.BlobStore
	docs   repository.DocumentRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewDocumentService(store storage.BlobStore, docs repository.DocumentRepository, logger *slog.Logger, now func() time.Time) *DocumentService {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &DocumentService{store: store, docs: docs, logger: logger, now: now}
}

// UploadDocument writes the blob first and the row second; a failed insert removes the blob.
func (s *DocumentService) UploadDocument(ctx context.Context, req UploadDocumentRequest) (*entity.Document, error) {
	if err := common.ValidateStruct(req); err != nil {
		return nil, common.NewAppError("VALIDATION_ERROR", err.Error(), err)
	}
	ext := constants.NormalizeExt(path.Ext(req.FileName))
	if _, ok := constants.AllowedExtensions[ext]; !ok {
		return nil, common.NewAppError("UNSUPPORTED_DOCUMENT_TYPE",
			fmt.Sprintf("unsupported document type %q", ext), common.ErrInvalidInput)
	}

	at := s.now().UTC()
	p := storage.ObjectPath(req.ContractID, at, req.FileName)
	if err := s.store.Upload(ctx, p, req.Data, constants.MediaTypeFor(req.FileName, req.ContentType)); err != nil {
		s.logger.Error("document.upload.failed", "contract_id", req.ContractID, "path", p, "error", err)
		return nil, common.NewAppError("DOCUMENT_UPLOAD_FAILED", "Failed to upload contract document", err)
	}

	doc := &entity.Document{
		ContractID:  req.ContractID,
		StoragePath: p,
		FileName:    storage.SanitizeFileName(req.FileName),
		IsPrimary:   req.IsPrimary,
		UploadedAt:  at,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		if derr := s.store.Delete(ctx, p); derr != nil {
			s.logger.Warn("document.upload.orphan_delete_failed", "path", p, "error", derr)
		}
		return nil, common.NewAppError("DOCUMENT_RECORD_CREATION_FAILED", "Failed to record contract document", err)
	}
	s.logger.Info("document.upload.done", "document_id", doc.ID, "contract_id", doc.ContractID, "path", p, "bytes", len(req.Data))
	return doc, nil
}

// ListDocuments returns the contract's documents, newest first.
func (s *DocumentService) ListDocuments(ctx context.Context, contractID string) ([]*entity.Document, error) {
	if contractID == "" {
		err := common.ValidationErrors{{Field: "contract_id", Message: "is required"}}
		return nil, common.NewAppError("VALIDATION_ERROR", err.Error(), err)
	}
	return s.docs.ListByContract(ctx, contractID)
}
