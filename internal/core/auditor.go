package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joseph-ayodele/invoice-audit/constants"
	"github.com/joseph-ayodele/invoice-audit/internal/common"
	"github.com/joseph-ayodele/invoice-audit/internal/entity"
	"github.com/joseph-ayodele/invoice-audit/internal/llm"
	"github.com/joseph-ayodele/invoice-audit/internal/notify"
	"github.com/joseph-ayodele/invoice-audit/internal/repository"
	"github.com/joseph-ayodele/invoice-audit/internal/storage"
)

// Messages recorded on failed audits.
const (
	MsgContractDownloadFailed = "Failed to download contract document"
	MsgInvoiceDownloadFailed  = "Failed to download invoice"
	MsgNoTextResponse         = "No text response from AI model"
	MsgResultParseFailed      = "Failed to parse AI response as JSON"
	MsgResultStoreFailed      = "Failed to store audit result"

	msgNoContractDocument = "No contract document found. Please upload a contract PDF first."
)

const tracerName = "github.com/joseph-ayodele/invoice-audit/internal/core"

// terminalWriteTimeout bounds each write made after the pipeline context may have ended.
const terminalWriteTimeout = 10 * time.Second

// SubmitAuditRequest is one invoice submitted for audit against a contract.
type SubmitAuditRequest struct {
	ContractID  string `json:"contract_id" validate:"required"`
	Invoice     []byte `json:"invoice" validate:"required,min=1"`
	FileName    string `json:"file_name" validate:"required"`
	ContentType string `json:"content_type"`
	CallerID    string `json:"caller_id" validate:"required"`
}

type Option func(*Auditor)

// WithClock replaces time.Now, which names invoice blobs and stamps events.
func WithClock(now func() time.Time) Option {
	return func(a *Auditor) { a.now = now }
}

// WithPublisher sends a StatusEvent after every terminal transition.
func WithPublisher(p notify.Publisher) Option {
	return func(a *Auditor) { a.publisher = p }
}

func WithTracer(t trace.Tracer) Option {
	return func(a *Auditor) { a.tracer = t }
}

// Auditor drives one submission from invoice upload to a terminal audit record.
type Auditor struct {
	logger    *slog.Logger
	invoices  storage.BlobStore
	documents storage.BlobStore
	resolver  *DocumentResolver
	audits    repository.AuditRepository
	invoker   llm.AuditInvoker
	publisher notify.Publisher
	tracer    trace.Tracer
	now       func() time.Time

	mu       sync.Mutex
	inFlight int
	idle     chan struct{} // closed when inFlight drops back to zero
}

func NewAuditor(
	logger *slog.Logger,
	invoices storage.BlobStore,
	documents storage.BlobStore,
	resolver *DocumentResolver,
	audits repository.AuditRepository,
	invoker llm.AuditInvoker,
	opts ...Option,
) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Auditor{
		logger:    logger,
		invoices:  invoices,
		documents: documents,
		resolver:  resolver,
		audits:    audits,
		invoker:   invoker,
		publisher: notify.NopPublisher{},
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SubmitAudit uploads the invoice, resolves the contract document, records the audit
// and runs it to completion. Once the record exists, model, download and parse failures
// are reported through the returned record's status, not the error. An error is returned
// only when no record could be created or a terminal write failed.
func (a *Auditor) SubmitAudit(ctx context.Context, req SubmitAuditRequest) (*entity.AuditRecord, error) {
	a.begin()
	defer a.done()

	start := a.now()
	ctx, span := a.tracer.Start(ctx, "audit.submit", trace.WithAttributes(
		attribute.String("contract_id", req.ContractID),
		attribute.Int("invoice_bytes", len(req.Invoice)),
	))
	defer span.End()

	if err := common.ValidateStruct(req); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		return nil, common.NewAppError("VALIDATION_ERROR", err.Error(), err)
	}

	a.logger.Info("audit.submit.start",
		"contract_id", req.ContractID,
		"file_name", req.FileName,
		"bytes", len(req.Invoice),
		"caller_id", req.CallerID,
		"request_id", common.RequestIDFromContext(ctx),
	)

	// 1) invoice blob
	invoicePath := storage.ObjectPath(req.ContractID, a.now(), req.FileName)
	invoiceMediaType := constants.MediaTypeFor(req.FileName, req.ContentType)
	if err := a.invoices.Upload(ctx, invoicePath, req.Invoice, invoiceMediaType); err != nil {
		a.logger.Error("audit.submit.upload_failed", "contract_id", req.ContractID, "path", invoicePath, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invoice upload failed")
		return nil, common.NewAppError("INVOICE_UPLOAD_FAILED", "Failed to upload invoice",
			fmt.Errorf("%w: %w", common.ErrInvoiceUploadFailed, err))
	}

	// 2) contract document; the invoice blob is ours to remove until a record owns it
	doc, err := a.resolver.Resolve(ctx, req.ContractID)
	if err != nil {
		a.deleteOrphan(ctx, invoicePath)
		span.RecordError(err)
		span.SetStatus(codes.Error, "contract document not resolved")
		if errors.Is(err, common.ErrNoContractDocument) {
			return nil, common.NewAppError("NO_CONTRACT_DOCUMENT", msgNoContractDocument, err)
		}
		return nil, common.NewAppError("CONTRACT_DOCUMENT_LOOKUP_FAILED", "Failed to look up contract documents", err)
	}

	// 3) record
	docID := doc.ID
	docPath := doc.StoragePath
	rec := &entity.AuditRecord{
		ContractID:           req.ContractID,
		InvoiceFileName:      storage.SanitizeFileName(req.FileName),
		InvoiceFilePath:      invoicePath,
		InvoiceFileSizeBytes: int64(len(req.Invoice)),
		ContractDocumentID:   &docID,
		ContractDocumentPath: &docPath,
		CreatedBy:            req.CallerID,
	}
	if err := a.audits.Create(ctx, rec); err != nil {
		a.logger.Error("audit.submit.record_create_failed", "contract_id", req.ContractID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "record creation failed")
		return nil, common.NewAppError("AUDIT_RECORD_CREATION_FAILED", "Failed to create audit record",
			fmt.Errorf("%w: %w", common.ErrAuditRecordCreation, err))
	}
	span.SetAttributes(attribute.String("audit_id", rec.ID.String()))

	out, err := a.run(ctx, rec, doc, invoiceMediaType)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "terminal write failed")
		return nil, err
	}
	a.logger.Info("audit.submit.done",
		"audit_id", out.ID,
		"contract_id", out.ContractID,
		"status", out.Status,
		"elapsed_ms", a.now().Sub(start).Milliseconds(),
	)
	return out, nil
}

// run executes steps 4-7 against an existing processing record.
func (a *Auditor) run(ctx context.Context, rec *entity.AuditRecord, doc *entity.Document, invoiceMediaType string) (*entity.AuditRecord, error) {
	// 4) downloads
	dctx, dspan := a.tracer.Start(ctx, "audit.download")
	contractBytes, err := a.documents.Download(dctx, doc.StoragePath)
	if err != nil {
		dspan.RecordError(err)
		dspan.End()
		return a.fail(ctx, rec, fmt.Sprintf("%s: %v", MsgContractDownloadFailed, err), fmt.Errorf("%w: %w", common.ErrDownloadFailed, err))
	}
	invoiceBytes, err := a.invoices.Download(dctx, rec.InvoiceFilePath)
	if err != nil {
		dspan.RecordError(err)
		dspan.End()
		return a.fail(ctx, rec, fmt.Sprintf("%s: %v", MsgInvoiceDownloadFailed, err), fmt.Errorf("%w: %w", common.ErrDownloadFailed, err))
	}
	dspan.End()

	// 5) model
	ictx, ispan := a.tracer.Start(ctx, "audit.invoke")
	text, err := a.invoker.InvokeAudit(ictx, llm.AuditRequest{
		Contract: llm.DocumentPayload{
			Name:      doc.FileName,
			MediaType: constants.MediaTypeFor(doc.FileName, ""),
			Data:      contractBytes,
		},
		Invoice: llm.DocumentPayload{
			Name:      rec.InvoiceFileName,
			MediaType: invoiceMediaType,
			Data:      invoiceBytes,
		},
	})
	if err != nil {
		ispan.RecordError(err)
		ispan.End()
		if errors.Is(err, common.ErrNoTextResponse) {
			return a.fail(ctx, rec, MsgNoTextResponse, err)
		}
		return a.fail(ctx, rec, err.Error(), fmt.Errorf("%w: %w", common.ErrModelInvocation, err))
	}
	ispan.End()
	if text == "" {
		return a.fail(ctx, rec, MsgNoTextResponse, common.ErrNoTextResponse)
	}

	// 6) parse
	_, pspan := a.tracer.Start(ctx, "audit.parse")
	result, err := llm.ParseAuditResult(text)
	if err != nil {
		pspan.RecordError(err)
		pspan.End()
		var perr *llm.ParseError
		if errors.As(err, &perr) {
			a.logger.Warn("audit.parse.failed", "audit_id", rec.ID, "text_len", perr.Length, "snippet", perr.Snippet, "error", perr.Err)
		}
		return a.fail(ctx, rec, MsgResultParseFailed, err)
	}
	pspan.End()

	// 7) complete
	a.crossCheckTotals(rec.ID, result.Summary)
	currency := result.Summary.Currency
	if currency == "" {
		currency = constants.DefaultCurrency
	}
	completion := repository.AuditCompletion{
		Result:                result,
		TotalDiscrepancies:    len(result.Discrepancies),
		InvoiceTotal:          result.Summary.TotalInvoiced,
		ContractExpectedTotal: result.Summary.TotalContracted,
		Currency:              currency,
	}
	wctx, cancel := writeContext(ctx)
	err = a.audits.MarkCompleted(wctx, rec.ID, completion)
	cancel()
	if err != nil {
		a.logger.Error("audit.complete.write_failed", "audit_id", rec.ID, "error", err)
		return a.fail(ctx, rec, fmt.Sprintf("%s: %v", MsgResultStoreFailed, err), err)
	}

	rec.Status = constants.AuditStatusCompleted
	rec.AuditResult = result
	rec.TotalDiscrepancies = &completion.TotalDiscrepancies
	rec.InvoiceTotal = &completion.InvoiceTotal
	rec.ContractExpected = &completion.ContractExpectedTotal
	rec.Currency = &completion.Currency
	return a.finish(ctx, rec), nil
}

// fail moves rec to failed with msg. cause is only logged.
func (a *Auditor) fail(ctx context.Context, rec *entity.AuditRecord, msg string, cause error) (*entity.AuditRecord, error) {
	a.logger.Warn("audit.failed", "audit_id", rec.ID, "contract_id", rec.ContractID, "message", msg, "error", cause)
	wctx, cancel := writeContext(ctx)
	defer cancel()
	if err := a.audits.MarkFailed(wctx, rec.ID, msg); err != nil {
		a.logger.Error("audit.fail.write_failed", "audit_id", rec.ID, "error", err)
		return nil, common.NewAppError("AUDIT_RECORD_UPDATE_FAILED", "Failed to update audit record",
			fmt.Errorf("%w: %w", common.ErrAuditRecordUpdate, err))
	}
	rec.Status = constants.AuditStatusFailed
	rec.ErrorMessage = &msg
	return a.finish(ctx, rec), nil
}

// finish reloads the terminal record for its stored timestamps and announces it.
func (a *Auditor) finish(ctx context.Context, rec *entity.AuditRecord) *entity.AuditRecord {
	ctx, cancel := writeContext(ctx)
	defer cancel()
	if stored, err := a.audits.GetByID(ctx, rec.ID); err == nil {
		rec = stored
	} else {
		a.logger.Warn("audit.finish.reload_failed", "audit_id", rec.ID, "error", err)
	}
	if err := a.publisher.Publish(ctx, notify.EventFor(rec, a.now())); err != nil {
		a.logger.Warn("audit.notify.failed", "audit_id", rec.ID, "status", rec.Status, "error", err)
	}
	return rec
}

func (a *Auditor) deleteOrphan(ctx context.Context, path string) {
	ctx, cancel := writeContext(ctx)
	defer cancel()
	if err := a.invoices.Delete(ctx, path); err != nil {
		a.logger.Warn("audit.submit.orphan_delete_failed", "path", path, "error", err)
		return
	}
	a.logger.Info("audit.submit.orphan_deleted", "path", path)
}

// writeContext keeps ctx's values but not its cancellation, so a terminal write still
// lands after the pipeline deadline has passed.
func writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
}

func (a *Auditor) begin() {
	a.mu.Lock()
	if a.inFlight == 0 {
		a.idle = make(chan struct{})
	}
	a.inFlight++
	a.mu.Unlock()
}

func (a *Auditor) done() {
	a.mu.Lock()
	a.inFlight--
	if a.inFlight == 0 {
		close(a.idle)
	}
	a.mu.Unlock()
}

// Wait blocks until no SubmitAudit call is running, or ctx ends.
func (a *Auditor) Wait(ctx context.Context) error {
	a.mu.Lock()
	if a.inFlight == 0 {
		a.mu.Unlock()
		return nil
	}
	idle := a.idle
	a.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// crossCheckTotals warns when the model's total_difference disagrees with
// total_invoiced - total_contracted. The model's value is kept as reported.
func (a *Auditor) crossCheckTotals(id uuid.UUID, s entity.AuditSummary) {
	computed := decimal.NewFromFloat(s.TotalInvoiced).Sub(decimal.NewFromFloat(s.TotalContracted)).Round(2)
	reported := decimal.NewFromFloat(s.TotalDifference).Round(2)
	if !computed.Equal(reported) {
		a.logger.Warn("audit.totals.mismatch",
			"audit_id", id,
			"total_invoiced", s.TotalInvoiced,
			"total_contracted", s.TotalContracted,
			"reported_difference", reported.String(),
			"computed_difference", computed.String(),
		)
	}
}

// ListAudits returns the contract's audits, newest first.
func (a *Auditor) ListAudits(ctx context.Context, contractID string) ([]*entity.AuditRecord, error) {
	if contractID == "" {
		err := common.ValidationErrors{{Field: "contract_id", Message: "is required"}}
		return nil, common.NewAppError("VALIDATION_ERROR", err.Error(), err)
	}
	recs, err := a.audits.ListByContract(ctx, contractID)
	if err != nil {
		a.logger.Error("audit.list.failed", "contract_id", contractID, "error", err)
		return nil, err
	}
	return recs, nil
}

// GetAudit returns one audit; unknown ids match common.ErrNotFound.
func (a *Auditor) GetAudit(ctx context.Context, id uuid.UUID) (*entity.AuditRecord, error) {
	return a.audits.GetByID(ctx, id)
}
