package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/invoice-audit/internal/repository"
)

// HealthService is the gRPC health service name reported alongside the overall status.
const HealthService = "invoice-audit"

// HealthReporter mirrors database reachability onto a gRPC health server.
type HealthReporter struct {
	db      *sqlx.DB
	timeout time.Duration
	logger  *slog.Logger
	hs      *health.Server

	once sync.Once
	stop chan struct{}
	wg   sync.WaitGroup
}

func NewHealthReporter(db *sqlx.DB, timeout time.Duration, logger *slog.Logger) *HealthReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthReporter{
		db:      db,
		timeout: timeout,
		logger:  logger,
		hs:      health.NewServer(),
		stop:    make(chan struct{}),
	}
}

// Register adds the health service to a gRPC server.
func (h *HealthReporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.hs)
}

// Check pings the database. It doubles as the HTTP /healthz probe.
func (h *HealthReporter) Check(ctx context.Context) error {
	return repository.HealthCheck(ctx, h.db, h.timeout, h.logger)
}

// Refresh pings once and publishes the result.
func (h *HealthReporter) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := h.Check(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.hs.SetServingStatus("", status)
	h.hs.SetServingStatus(HealthService, status)
	return status
}

// Start refreshes immediately and then every interval until Shutdown or ctx is done.
func (h *HealthReporter) Start(ctx context.Context, interval time.Duration) {
	h.Refresh(ctx)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stop:
				return
			case <-ticker.C:
				if status := h.Refresh(ctx); status != healthpb.HealthCheckResponse_SERVING {
					h.logger.Warn("health.db.not_serving")
				}
			}
		}
	}()
}

// Shutdown stops refreshing and marks every service NOT_SERVING.
func (h *HealthReporter) Shutdown() {
	h.once.Do(func() {
		close(h.stop)
		h.wg.Wait()
		h.hs.Shutdown()
	})
}
