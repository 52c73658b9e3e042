package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/joseph-ayodele/invoice-audit/internal/common"
	"github.com/joseph-ayodele/invoice-audit/internal/core"
	"github.com/joseph-ayodele/invoice-audit/internal/export"
	"github.com/joseph-ayodele/invoice-audit/internal/llm/anthropic"
	"github.com/joseph-ayodele/invoice-audit/internal/notify"
	repo "github.com/joseph-ayodele/invoice-audit/internal/repository"
	"github.com/joseph-ayodele/invoice-audit/internal/server"
	"github.com/joseph-ayodele/invoice-audit/internal/storage"
)

func main() {
	cfg := common.LoadConfig()
	logger := common.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, closeDB, err := repo.Connect(ctx, repo.ConfigFrom(cfg.Database), logger)
	if err != nil {
		logger.Error("failed to open database", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer closeDB()

	if err := repo.HealthCheck(ctx, db, 5*time.Second, logger); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	invoices, documents, closeStores, err := openStores(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Error("failed to open blob storage", "provider", cfg.Storage.Provider, "error", err)
		os.Exit(1)
	}
	defer closeStores()

	publisher, err := openPublisher(ctx, cfg.Notify, logger)
	if err != nil {
		logger.Error("failed to open status publisher", "provider", cfg.Notify.Provider, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("failed to close status publisher", "error", err)
		}
	}()

	auditsRepo := repo.NewAuditRepository(db, logger)
	docsRepo := repo.NewDocumentRepository(db, logger)

	invoker := anthropic.NewClient(anthropic.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, logger)
	logger.Info("model client initialized", "model", cfg.LLM.Model)

	auditor := core.NewAuditor(logger,
		invoices, documents,
		core.NewDocumentResolver(docsRepo, logger),
		auditsRepo, invoker,
		core.WithPublisher(publisher),
	)

	var sweeper *core.OrphanSweeper
	if cfg.Audit.SweepInterval > 0 {
		sweeper = core.NewOrphanSweeper(invoices, auditsRepo, cfg.Audit.SweepGrace, logger)
		sweeper.Start(ctx, cfg.Audit.SweepInterval)
	}

	health := server.NewHealthReporter(db, 3*time.Second, logger)
	api := server.NewServer(
		auditor,
		core.NewDocumentService(documents, docsRepo, logger, nil),
		export.NewService(auditsRepo, logger),
		server.NewStaticTokenAuthenticator(cfg.Auth.Tokens),
		logger,
		server.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
		server.WithProcessTimeout(cfg.Audit.ProcessTimeout),
		server.WithHealth(health.Check),
	)

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("invoice-audit listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve error", "error", err)
			stop()
		}
	}()

	var grpcServer *grpc.Server
	if cfg.Server.HealthGRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.HealthGRPCAddr)
		if err != nil {
			logger.Error("failed to listen on health address", "addr", cfg.Server.HealthGRPCAddr, "error", err)
			os.Exit(1)
		}
		grpcServer = grpc.NewServer()
		health.Register(grpcServer)
		health.Start(ctx, 15*time.Second)
		go func() {
			logger.Info("grpc health listening", "addr", cfg.Server.HealthGRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("grpc serve error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	// detached audits still need the database for their terminal writes
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Audit.ProcessTimeout+time.Minute)
	defer cancelDrain()
	_ = api.Drain(drainCtx)
	if grpcServer != nil {
		health.Shutdown()
		grpcServer.GracefulStop()
	}
	if sweeper != nil {
		sweeper.Shutdown()
	}
}

// openStores returns the invoice and contract document stores for the configured provider.
func openStores(ctx context.Context, cfg common.StorageConfig, logger *slog.Logger) (storage.BlobStore, storage.BlobStore, func(), error) {
	switch cfg.Provider {
	case "gcs":
		client, err := storage.NewGCSClient(ctx, cfg.GCSCredentialsJSON)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init gcs client: %w", err)
		}
		invoices := storage.NewGCSStore(client, cfg.InvoiceBucket, logger)
		documents := storage.NewGCSStore(client, cfg.DocumentBucket, logger)
		for _, s := range []*storage.GCSStore{invoices, documents} {
			if err := s.CheckBucket(ctx); err != nil {
				_ = client.Close()
				return nil, nil, nil, err
			}
		}
		logger.Info("gcs storage ready", "invoice_bucket", cfg.InvoiceBucket, "document_bucket", cfg.DocumentBucket)
		return invoices, documents, func() { _ = client.Close() }, nil
	default:
		invoices, err := storage.NewLocalStore(cfg.LocalRoot, cfg.InvoiceBucket, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		documents, err := storage.NewLocalStore(cfg.LocalRoot, cfg.DocumentBucket, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("local storage ready", "root", cfg.LocalRoot)
		return invoices, documents, func() {}, nil
	}
}

func openPublisher(ctx context.Context, cfg common.NotifyConfig, logger *slog.Logger) (notify.Publisher, error) {
	if cfg.Provider != "pubsub" {
		return notify.NopPublisher{}, nil
	}
	return notify.NewPubSubPublisher(ctx, cfg.ProjectID, cfg.Topic, cfg.CredentialsJSON, logger)
}
