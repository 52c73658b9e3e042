package export

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/invoice-audit/constants"
	"github.com/joseph-ayodele/invoice-audit/internal/entity"
	"github.com/joseph-ayodele/invoice-audit/internal/repository"
)

func TestExportAuditsXLSX(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := repository.OpenSQLite(ctx, ":memory:", logger)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := repository.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	audits := repository.NewAuditRepository(db, logger)

	base := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	completed := &entity.AuditRecord{ContractID: "C1", InvoiceFileName: "march.pdf", InvoiceFilePath: "C1/1-march.pdf", CreatedBy: "u", CreatedAt: base}
	failed := &entity.AuditRecord{ContractID: "C1", InvoiceFileName: "april.pdf", InvoiceFilePath: "C1/2-april.pdf", CreatedBy: "u", CreatedAt: base.Add(time.Hour)}
	for _, r := range []*entity.AuditRecord{completed, failed} {
		if err := audits.Create(ctx, r); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	diff := 150.0
	discrepancies := []entity.Discrepancy{
		{Type: constants.DiscrepancyPriceMismatch, Severity: constants.SeverityHigh, Description: "rate above contract", Difference: &diff},
	}
	result := &entity.AuditResult{
		Summary:                entity.AuditSummary{OverallStatus: constants.OverallDiscrepanciesFound, TotalInvoiced: 1150.10, TotalContracted: 1000.05, TotalDifference: 150.05},
		LineItems:              []entity.LineItem{},
		Discrepancies:          discrepancies,
		Recommendations:        []string{},
		ExtractedContractTerms: entity.ExtractedContractTerms{VisitFees: []entity.VisitFee{}, OtherFees: []entity.OtherFee{}},
	}
	if err := audits.MarkCompleted(ctx, completed.ID, repository.AuditCompletion{
		Result: result, TotalDiscrepancies: 1, InvoiceTotal: 1150.10, ContractExpectedTotal: 1000.05, Currency: "EUR",
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := audits.MarkFailed(ctx, failed.ID, "Failed to parse AI response as JSON"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	b, err := NewService(audits, logger).ExportAuditsXLSX(ctx, "C1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer func() { _ = f.Close() }()

	if diff := cmp.Diff([]string{SheetAudits, SheetDiscrepancies}, f.GetSheetList()); diff != "" {
		t.Fatalf("sheets (-want +got):\n%s", diff)
	}

	rows, err := f.GetRows(SheetAudits)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("audit rows = %d, want header + 2", len(rows))
	}
	// newest first
	if rows[1][0] != failed.ID.String() || rows[1][2] != "failed" || rows[1][10] != "Failed to parse AI response as JSON" {
		t.Fatalf("failed row = %v", rows[1])
	}
	if rows[2][0] != completed.ID.String() || rows[2][2] != "completed" || rows[2][7] != "150.05" || rows[2][8] != "EUR" {
		t.Fatalf("completed row = %v", rows[2])
	}

	discRows, err := f.GetRows(SheetDiscrepancies)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(discRows) != 2 || discRows[1][2] != "price_mismatch" || discRows[1][3] != "high" {
		t.Fatalf("discrepancy rows = %v", discRows)
	}
}
