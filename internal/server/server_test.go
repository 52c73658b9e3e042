package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-audit/constants"
	"github.com/joseph-ayodele/invoice-audit/internal/core"
	"github.com/joseph-ayodele/invoice-audit/internal/entity"
	"github.com/joseph-ayodele/invoice-audit/internal/export"
	"github.com/joseph-ayodele/invoice-audit/internal/llm"
	"github.com/joseph-ayodele/invoice-audit/internal/repository"
	"github.com/joseph-ayodele/invoice-audit/internal/storage"
)

const (
	testToken = "secret-token"
	matchJSON = `{"summary":{"overall_status":"match","confidence_score":0.9,"total_invoiced":1000,"total_contracted":1000,"total_difference":0,"currency":"EUR"},"line_items":[],"discrepancies":[],"recommendations":[],"extracted_contract_terms":{"visit_fees":[],"other_fees":[]}}`
)

type cannedInvoker struct{ text string }

func (c cannedInvoker) InvokeAudit(context.Context, llm.AuditRequest) (string, error) {
	return c.text, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// gatedInvoker signals entered on each call and answers once release is closed.
type gatedInvoker struct {
	entered chan struct{}
	release chan struct{}
}

func (g gatedInvoker) InvokeAudit(ctx context.Context, _ llm.AuditRequest) (string, error) {
	g.entered <- struct{}{}
	select {
	case <-g.release:
		return matchJSON, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func newTestServer(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(newTestAPI(t, cannedInvoker{text: matchJSON}, opts...))
	t.Cleanup(ts.Close)
	return ts
}

func newTestAPI(t *testing.T, invoker llm.AuditInvoker, opts ...Option) *Server {
	t.Helper()
	ctx := context.Background()
	logger := quietLogger()
	db, err := repository.OpenSQLite(ctx, ":memory:", logger)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := repository.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	root := t.TempDir()
	invoices, err := storage.NewLocalStore(root, constants.InvoiceBucket, logger)
	if err != nil {
		t.Fatalf("invoice store: %v", err)
	}
	documents, err := storage.NewLocalStore(root, constants.DocumentBucket, logger)
	if err != nil {
		t.Fatalf("document store: %v", err)
	}

	audits := repository.NewAuditRepository(db, logger)
	docs := repository.NewDocumentRepository(db, logger)
	auditor := core.NewAuditor(logger, invoices, documents, core.NewDocumentResolver(docs, logger), audits, invoker)

	return NewServer(
		auditor,
		core.NewDocumentService(documents, docs, logger, nil),
		export.NewService(audits, logger),
		NewStaticTokenAuthenticator(map[string]string{testToken: "alice"}),
		logger,
		append([]Option{WithHealth(func(ctx context.Context) error {
			return repository.HealthCheck(ctx, db, 0, logger)
		})}, opts...)...,
	)
}

func multipartBody(t *testing.T, fields map[string]string, fileField, fileName string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if fileField != "" {
		part, err := w.CreateFormFile(fileField, fileName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &body, w.FormDataContentType()
}

func do(t *testing.T, method, url, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func uploadContract(t *testing.T, base, contractID string) entity.Document {
	t.Helper()
	body, ct := multipartBody(t, map[string]string{"is_primary": "true"}, "document", "msa.pdf", []byte("%PDF-contract"))
	resp := do(t, http.MethodPost, base+"/contracts/"+contractID+"/documents", testToken, body, ct)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload document status = %d", resp.StatusCode)
	}
	return decode[entity.Document](t, resp)
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name     string
		token    string
		wantCode string
	}{
		{"missing token", "", "AUTH_REQUIRED"},
		{"unknown token", "nope", "AUTH_INVALID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodGet, ts.URL+"/invoice-audit?contract_id=C-1", tt.token, nil, "")
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", resp.StatusCode)
			}
			if got := decode[errorBody](t, resp); got.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestHealthzIsPublic(t *testing.T) {
	ts := newTestServer(t)
	resp := do(t, http.MethodGet, ts.URL+"/healthz", "", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestSubmitAuditMissingContractID(t *testing.T) {
	ts := newTestServer(t)
	body, ct := multipartBody(t, nil, "invoice", "inv.pdf", []byte("%PDF-invoice"))
	resp := do(t, http.MethodPost, ts.URL+"/invoice-audit", testToken, body, ct)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if got := decode[errorBody](t, resp); got.Code != "VALIDATION_ERROR" {
		t.Errorf("code = %q", got.Code)
	}
}

func TestSubmitAuditMissingInvoice(t *testing.T) {
	ts := newTestServer(t)
	body, ct := multipartBody(t, map[string]string{"contract_id": "C-1"}, "", "", nil)
	resp := do(t, http.MethodPost, ts.URL+"/invoice-audit", testToken, body, ct)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSubmitAuditNotMultipart(t *testing.T) {
	ts := newTestServer(t)
	resp := do(t, http.MethodPost, ts.URL+"/invoice-audit", testToken, bytes.NewBufferString(`{}`), "application/json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if got := decode[errorBody](t, resp); got.Code != "INVALID_MULTIPART" {
		t.Errorf("code = %q", got.Code)
	}
}

func TestSubmitAuditNoContractDocument(t *testing.T) {
	ts := newTestServer(t)
	body, ct := multipartBody(t, map[string]string{"contract_id": "C-404"}, "invoice", "inv.pdf", []byte("%PDF-invoice"))
	resp := do(t, http.MethodPost, ts.URL+"/invoice-audit", testToken, body, ct)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	want := errorBody{Code: "NO_CONTRACT_DOCUMENT", Message: "No contract document found. Please upload a contract PDF first."}
	if diff := cmp.Diff(want, decode[errorBody](t, resp)); diff != "" {
		t.Errorf("error body mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmitAuditTooLarge(t *testing.T) {
	ts := newTestServer(t, WithMaxUploadBytes(1024))
	body, ct := multipartBody(t, map[string]string{"contract_id": "C-1"}, "invoice", "inv.pdf", bytes.Repeat([]byte("x"), 4096))
	resp := do(t, http.MethodPost, ts.URL+"/invoice-audit", testToken, body, ct)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", resp.StatusCode)
	}
}

func TestSubmitAuditCompletedThenRead(t *testing.T) {
	ts := newTestServer(t)
	doc := uploadContract(t, ts.URL, "C-1")

	body, ct := multipartBody(t, map[string]string{"contract_id": "C-1"}, "invoice", "march.pdf", []byte("%PDF-invoice"))
	resp := do(t, http.MethodPost, ts.URL+"/invoice-audit", testToken, body, ct)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d, want 200", resp.StatusCode)
	}
	rec := decode[entity.AuditRecord](t, resp)
	if rec.Status != constants.AuditStatusCompleted {
		t.Fatalf("status = %q, want completed", rec.Status)
	}
	if rec.CreatedBy != "alice" {
		t.Errorf("created_by = %q, want alice", rec.CreatedBy)
	}
	if rec.ContractDocumentID == nil || *rec.ContractDocumentID != doc.ID {
		t.Errorf("contract_document_id = %v, want %s", rec.ContractDocumentID, doc.ID)
	}
	if rec.Currency == nil || *rec.Currency != "EUR" {
		t.Errorf("currency = %v, want EUR", rec.Currency)
	}

	resp = do(t, http.MethodGet, ts.URL+"/invoice-audit?contract_id=C-1", testToken, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	list := decode[[]entity.AuditRecord](t, resp)
	if len(list) != 1 || list[0].ID != rec.ID {
		t.Fatalf("list = %+v, want the one audit", list)
	}

	resp = do(t, http.MethodGet, ts.URL+"/invoice-audit/"+rec.ID.String(), testToken, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	if got := decode[entity.AuditRecord](t, resp); got.ID != rec.ID || got.AuditResult == nil {
		t.Errorf("get returned %+v", got)
	}
}

func TestGetAuditErrors(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name string
		id   string
		want int
	}{
		{"unknown", uuid.NewString(), http.StatusNotFound},
		{"malformed", "not-a-uuid", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodGet, ts.URL+"/invoice-audit/"+tt.id, testToken, nil, "")
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestListAudits(t *testing.T) {
	ts := newTestServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/invoice-audit?contract_id=C-empty", testToken, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	if got := string(bytes.TrimSpace(raw)); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}

	resp = do(t, http.MethodGet, ts.URL+"/invoice-audit", testToken, nil, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing contract_id status = %d, want 400", resp.StatusCode)
	}
}

func TestContractDocuments(t *testing.T) {
	ts := newTestServer(t)
	doc := uploadContract(t, ts.URL, "C-7")
	if !doc.IsPrimary || doc.FileName != "msa.pdf" || doc.ContractID != "C-7" {
		t.Errorf("uploaded document = %+v", doc)
	}

	resp := do(t, http.MethodGet, ts.URL+"/contracts/C-7/documents", testToken, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	docs := decode[[]entity.Document](t, resp)
	if len(docs) != 1 || docs[0].ID != doc.ID {
		t.Errorf("documents = %+v", docs)
	}

	body, ct := multipartBody(t, map[string]string{"is_primary": "maybe"}, "document", "msa.pdf", []byte("%PDF"))
	resp = do(t, http.MethodPost, ts.URL+"/contracts/C-7/documents", testToken, body, ct)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad is_primary status = %d, want 400", resp.StatusCode)
	}
}

func TestExportAudits(t *testing.T) {
	ts := newTestServer(t)
	uploadContract(t, ts.URL, "C-1")
	body, ct := multipartBody(t, map[string]string{"contract_id": "C-1"}, "invoice", "march.pdf", []byte("%PDF-invoice"))
	if resp := do(t, http.MethodPost, ts.URL+"/invoice-audit", testToken, body, ct); resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}

	resp := do(t, http.MethodGet, ts.URL+"/invoice-audit/export?contract_id=C-1", testToken, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != xlsxContentType {
		t.Errorf("content type = %q", got)
	}
	data, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(data, []byte("PK")) {
		t.Errorf("export is not a zip container (%d bytes)", len(data))
	}

	resp = do(t, http.MethodGet, ts.URL+"/invoice-audit/export", testToken, nil, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing contract_id status = %d, want 400", resp.StatusCode)
	}
}

func TestDrainWaitsForRunningAudits(t *testing.T) {
	invoker := gatedInvoker{entered: make(chan struct{}, 1), release: make(chan struct{})}
	api := newTestAPI(t, invoker)
	ts := httptest.NewServer(api)
	t.Cleanup(ts.Close)
	uploadContract(t, ts.URL, "C-1")

	body, ct := multipartBody(t, map[string]string{"contract_id": "C-1"}, "invoice", "inv.pdf", []byte("%PDF-invoice"))
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/invoice-audit", body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", ct)
	statuses := make(chan int, 1)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			statuses <- 0
			return
		}
		_ = resp.Body.Close()
		statuses <- resp.StatusCode
	}()
	<-invoker.entered

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := api.Drain(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Drain during audit = %v, want deadline exceeded", err)
	}

	close(invoker.release)
	if err := api.Drain(context.Background()); err != nil {
		t.Fatalf("Drain after release: %v", err)
	}
	if got := <-statuses; got != http.StatusOK {
		t.Fatalf("submit status = %d, want 200", got)
	}
}
