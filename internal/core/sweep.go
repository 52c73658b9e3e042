package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/invoice-audit/internal/repository"
	"github.com/joseph-ayodele/invoice-audit/internal/storage"
)

// OrphanSweeper removes invoice blobs that no audit record references, such as
// uploads whose record creation failed or whose compensating delete did not succeed.
type OrphanSweeper struct {
	invoices storage.BlobStore
	audits   repository.AuditRepository
	grace    time.Duration
	logger   *slog.Logger
	now      func() time.Time

	once   sync.Once
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type SweepOption func(*OrphanSweeper)

func WithSweepClock(now func() time.Time) SweepOption {
	return func(s *OrphanSweeper) { s.now = now }
}

// NewOrphanSweeper only considers blobs last written more than grace ago, so
// submissions still between upload and record creation are never touched.
func NewOrphanSweeper(invoices storage.BlobStore, audits repository.AuditRepository, grace time.Duration, logger *slog.Logger, opts ...SweepOption) *OrphanSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if grace <= 0 {
		grace = 24 * time.Hour
	}
	s := &OrphanSweeper{
		invoices: invoices,
		audits:   audits,
		grace:    grace,
		logger:   logger,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RunOnce sweeps the bucket once and returns how many blobs it deleted.
// Per-object failures are logged and skipped.
func (s *OrphanSweeper) RunOnce(ctx context.Context) (int, error) {
	start := s.now()
	objs, err := s.invoices.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list invoices: %w", err)
	}
	cutoff := start.Add(-s.grace)
	deleted := 0
	for _, obj := range objs {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if obj.UpdatedAt.After(cutoff) {
			continue
		}
		referenced, err := s.audits.InvoicePathReferenced(ctx, obj.Path)
		if err != nil {
			s.logger.Error("sweep.lookup_failed", "path", obj.Path, "error", err)
			continue
		}
		if referenced {
			continue
		}
		if err := s.invoices.Delete(ctx, obj.Path); err != nil {
			s.logger.Warn("sweep.delete_failed", "path", obj.Path, "error", err)
			continue
		}
		deleted++
		s.logger.Info("sweep.deleted", "path", obj.Path, "bytes", obj.Size, "updated_at", obj.UpdatedAt)
	}
	s.logger.Info("sweep.done", "scanned", len(objs), "deleted", deleted, "elapsed_ms", s.now().Sub(start).Milliseconds())
	return deleted, nil
}

// Start runs RunOnce every interval in the background until Shutdown.
func (s *OrphanSweeper) Start(ctx context.Context, interval time.Duration) {
	s.once.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Info("sweep started", "interval", interval, "grace", s.grace)
			t := time.NewTicker(interval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					s.logger.Info("sweep stopped")
					return
				case <-t.C:
					if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
						s.logger.Error("sweep.failed", "error", err)
					}
				}
			}
		}()
	})
}

// Shutdown stops the background loop and waits for an in-flight sweep to return.
func (s *OrphanSweeper) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
