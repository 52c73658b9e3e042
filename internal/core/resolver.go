package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/invoice-audit/internal/common"
	"github.com/joseph-ayodele/invoice-audit/internal/entity"
	"github.com/joseph-ayodele/invoice-audit/internal/repository"
)

// DocumentResolver picks the contract document an invoice is audited against.
type DocumentResolver struct {
	docs   repository.DocumentRepository
	logger *slog.Logger
}

func NewDocumentResolver(docs repository.DocumentRepository, logger *slog.Logger) *DocumentResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentResolver{docs: docs, logger: logger}
}

// Resolve returns the newest primary document of the contract, else its newest document.
// Ties on upload time fall back to the higher id. A contract without documents yields
// common.ErrNoContractDocument.
func (r *DocumentResolver) Resolve(ctx context.Context, contractID string) (*entity.Document, error) {
	docs, err := r.docs.ListByContract(ctx, contractID)
	if err != nil {
		return nil, fmt.Errorf("list contract documents: %w", err)
	}
	if len(docs) == 0 {
		r.logger.Warn("audit.resolve.no_documents", "contract_id", contractID)
		return nil, fmt.Errorf("%w: contract %s", common.ErrNoContractDocument, contractID)
	}
	chosen := docs[0]
	for _, d := range docs {
		if d.IsPrimary {
			chosen = d
			break
		}
	}
	r.logger.Debug("audit.resolve.ok",
		"contract_id", contractID,
		"document_id", chosen.ID,
		"is_primary", chosen.IsPrimary,
		"candidates", len(docs),
	)
	return chosen, nil
}
