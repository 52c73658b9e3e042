package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/joseph-ayodele/invoice-audit/internal/common"
	"github.com/joseph-ayodele/invoice-audit/internal/export"
	repo "github.com/joseph-ayodele/invoice-audit/internal/repository"
)

func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	flags := pflag.NewFlagSet("audit-export", pflag.ContinueOnError)
	contractID := flags.String("contract-id", "", "contract whose audits are exported (required)")
	out := flags.StringP("out", "o", "", "output XLSX path (default audits-<contract-id>.xlsx)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if *contractID == "" {
		printError("Error: --contract-id is required\n")
		os.Exit(2)
	}
	if *out == "" {
		*out = fmt.Sprintf("audits-%s.xlsx", *contractID)
	}

	cfg := common.LoadConfig()
	logger := common.NewLogger(cfg.Log, os.Stderr)
	if err := cfg.ValidateDatabase(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx := context.Background()
	db, closeDB, err := repo.Connect(ctx, repo.ConfigFrom(cfg.Database), logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer closeDB()

	svc := export.NewService(repo.NewAuditRepository(db, logger), logger)
	data, err := svc.ExportAuditsXLSX(ctx, *contractID)
	if err != nil {
		logger.Error("failed to export audits", "contract_id", *contractID, "error", err)
		closeDB()
		os.Exit(1)
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		logger.Error("failed to write output file", "path", *out, "error", err)
		closeDB()
		os.Exit(1)
	}
	logger.Info("export complete", "contract_id", *contractID, "path", *out, "bytes", len(data))
}
