package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-audit/internal/entity"
	"github.com/joseph-ayodele/invoice-audit/internal/llm"
	"github.com/joseph-ayodele/invoice-audit/internal/notify"
	"github.com/joseph-ayodele/invoice-audit/internal/repository"
	"github.com/joseph-ayodele/invoice-audit/internal/storage"
)

const matchJSON = `{"summary":{"overall_status":"match","confidence_score":0.95,"total_invoiced":1000,"total_contracted":1000,"total_difference":0,"currency":"EUR"},"line_items":[],"discrepancies":[],"recommendations":[],"extracted_contract_terms":{"visit_fees":[],"other_fees":[],"currency":"EUR"}}`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memObject struct {
	data      []byte
	updatedAt time.Time
}

// memStore is an in-memory storage.BlobStore with injectable failures.
type memStore struct {
	mu          sync.Mutex
	objs        map[string]memObject
	now         func() time.Time
	uploadErr   error
	downloadErr error
	deleteErr   error
	deleted     []string
}

func newMemStore() *memStore {
	return &memStore{objs: map[string]memObject{}, now: time.Now}
}

func (m *memStore) Upload(_ context.Context, path string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return m.uploadErr
	}
	m.objs[path] = memObject{data: append([]byte(nil), data...), updatedAt: m.now()}
	return nil
}

func (m *memStore) Download(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.downloadErr != nil {
		return nil, m.downloadErr
	}
	obj, ok := m.objs[path]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return obj.data, nil
}

func (m *memStore) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.objs[path]; !ok {
		return storage.ErrObjectNotFound
	}
	delete(m.objs, path)
	m.deleted = append(m.deleted, path)
	return nil
}

func (m *memStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.ObjectInfo
	for p, obj := range m.objs {
		if strings.HasPrefix(p, prefix) {
			out = append(out, storage.ObjectInfo{Path: p, Size: int64(len(obj.data)), UpdatedAt: obj.updatedAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *memStore) paths() []string {
	objs, _ := m.List(context.Background(), "")
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.Path)
	}
	return out
}

// fakeInvoker returns a canned answer and records what it was sent. With hang set it
// waits for the caller's context to end instead.
type fakeInvoker struct {
	text  string
	err   error
	hang  bool
	calls []llm.AuditRequest
}

func (f *fakeInvoker) InvokeAudit(ctx context.Context, req llm.AuditRequest) (string, error) {
	f.calls = append(f.calls, req)
	if f.hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.text, f.err
}

// gatedInvoker signals entered on each call and answers once release is closed.
type gatedInvoker struct {
	text    string
	entered chan struct{}
	release chan struct{}
}

func newGatedInvoker(text string) *gatedInvoker {
	return &gatedInvoker{text: text, entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gatedInvoker) InvokeAudit(ctx context.Context, _ llm.AuditRequest) (string, error) {
	g.entered <- struct{}{}
	select {
	case <-g.release:
		return g.text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type recordingPublisher struct {
	events []notify.StatusEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev notify.StatusEvent) error {
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// failingAudits breaks selected transitions of a real repository.
type failingAudits struct {
	repository.AuditRepository
	completeErr error
	failErr     error
	createErr   error
}

func (f *failingAudits) Create(ctx context.Context, rec *entity.AuditRecord) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.AuditRepository.Create(ctx, rec)
}

func (f *failingAudits) MarkCompleted(ctx context.Context, id uuid.UUID, c repository.AuditCompletion) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	return f.AuditRepository.MarkCompleted(ctx, id, c)
}

func (f *failingAudits) MarkFailed(ctx context.Context, id uuid.UUID, msg string) error {
	if f.failErr != nil {
		return f.failErr
	}
	return f.AuditRepository.MarkFailed(ctx, id, msg)
}

type testEnv struct {
	invoices  *memStore
	documents *memStore
	audits    *failingAudits
	docs      repository.DocumentRepository
	invoker   *fakeInvoker
	publisher *recordingPublisher
	auditor   *Auditor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	db, err := repository.OpenSQLite(ctx, ":memory:", quietLogger())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := repository.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	env := &testEnv{
		invoices:  newMemStore(),
		documents: newMemStore(),
		audits:    &failingAudits{AuditRepository: repository.NewAuditRepository(db, quietLogger())},
		docs:      repository.NewDocumentRepository(db, quietLogger()),
		invoker:   &fakeInvoker{text: matchJSON},
		publisher: &recordingPublisher{},
	}
	clock := func() time.Time { return time.UnixMilli(1700000000000).UTC() }
	env.auditor = NewAuditor(quietLogger(),
		env.invoices, env.documents,
		NewDocumentResolver(env.docs, quietLogger()),
		env.audits, env.invoker,
		WithClock(clock), WithPublisher(env.publisher),
	)
	return env
}

func (e *testEnv) addDocument(t *testing.T, contractID, name string, primary bool, at time.Time, data string) *entity.Document {
	t.Helper()
	doc := &entity.Document{
		ContractID:  contractID,
		StoragePath: storage.ObjectPath(contractID, at, name),
		FileName:    name,
		IsPrimary:   primary,
		UploadedAt:  at,
	}
	if err := e.docs.Create(context.Background(), doc); err != nil {
		t.Fatalf("create document: %v", err)
	}
	if data != "" {
		if err := e.documents.Upload(context.Background(), doc.StoragePath, []byte(data), "application/pdf"); err != nil {
			t.Fatalf("upload document: %v", err)
		}
	}
	return doc
}

func submitRequest() SubmitAuditRequest {
	return SubmitAuditRequest{
		ContractID:  "C-100",
		Invoice:     []byte("%PDF-invoice"),
		FileName:    "invoice-march.pdf",
		ContentType: "application/pdf",
		CallerID:    "user-1",
	}
}

var errBoom = errors.New("boom")
