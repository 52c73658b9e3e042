package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/invoice-audit/constants"
	"github.com/joseph-ayodele/invoice-audit/internal/entity"
	"github.com/joseph-ayodele/invoice-audit/internal/repository"
)

const (
	SheetAudits        = "Audits"
	SheetDiscrepancies = "Discrepancies"
)

// Service is a tiny façade over the audit repository that produces XLSX bytes for exports.
type Service struct {
	audits repository.AuditRepository
	logger *slog.Logger
}

func NewService(audits repository.AuditRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{audits: audits, logger: logger}
}

// ExportAuditsXLSX returns a workbook with one row per audit of the contract and one row
// per discrepancy of its completed audits.
func (s *Service) ExportAuditsXLSX(ctx context.Context, contractID string) ([]byte, error) {
	start := time.Now()

	recs, err := s.audits.ListByContract(ctx, contractID)
	if err != nil {
		return nil, fmt.Errorf("query audits: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", SheetAudits); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SheetDiscrepancies); err != nil {
		return nil, err
	}
	activeIndex, _ := f.GetSheetIndex(SheetAudits)
	f.SetActiveSheet(activeIndex)

	writeRow(f, SheetAudits, 1, []any{
		"Audit ID",
		"Created At",
		"Status",
		"Invoice File",
		"Contract Document",
		"Invoice Total",
		"Contract Expected",
		"Difference",
		"Currency",
		"Discrepancies",
		"Error",
		"Completed At",
	})
	writeRow(f, SheetDiscrepancies, 1, []any{
		"Audit ID",
		"Invoice File",
		"Type",
		"Severity",
		"Description",
		"Invoice Value",
		"Contract Value",
		"Difference",
		"Line Item",
	})

	auditRow, discRow := 2, 2
	for _, r := range recs {
		writeRow(f, SheetAudits, auditRow, []any{
			r.ID.String(),
			r.CreatedAt.UTC().Format(time.RFC3339),
			string(r.Status),
			r.InvoiceFileName,
			deref(r.ContractDocumentPath),
			optNumber(r.InvoiceTotal),
			optNumber(r.ContractExpected),
			difference(r),
			deref(r.Currency),
			optInt(r.TotalDiscrepancies),
			truncate(deref(r.ErrorMessage), 240),
			optTime(r.CompletedAt),
		})
		auditRow++

		if r.Status != constants.AuditStatusCompleted || r.AuditResult == nil {
			continue
		}
		for _, d := range r.AuditResult.Discrepancies {
			writeRow(f, SheetDiscrepancies, discRow, []any{
				r.ID.String(),
				r.InvoiceFileName,
				string(d.Type),
				string(d.Severity),
				truncate(d.Description, 240),
				optNumber(d.InvoiceValue),
				optNumber(d.ContractValue),
				optNumber(d.Difference),
				deref(d.LineItemReference),
			})
			discRow++
		}
	}

	// Widen a few columns
	_ = f.SetColWidth(SheetAudits, "A", "A", 38) // id
	_ = f.SetColWidth(SheetAudits, "B", "C", 22)
	_ = f.SetColWidth(SheetAudits, "D", "E", 40) // files
	_ = f.SetColWidth(SheetAudits, "F", "H", 16) // amounts
	_ = f.SetColWidth(SheetAudits, "K", "K", 60) // error
	_ = f.SetColWidth(SheetDiscrepancies, "A", "B", 38)
	_ = f.SetColWidth(SheetDiscrepancies, "E", "E", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"contract_id", contractID,
		"audits", len(recs),
		"discrepancies", discRow-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

// difference is invoice_total - contract_expected_total in cents-exact arithmetic.
func difference(r *entity.AuditRecord) any {
	if r.InvoiceTotal == nil || r.ContractExpected == nil {
		return ""
	}
	return decimal.NewFromFloat(*r.InvoiceTotal).Sub(decimal.NewFromFloat(*r.ContractExpected)).Round(2).InexactFloat64()
}

func optNumber(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

func optInt(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}

func optTime(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
