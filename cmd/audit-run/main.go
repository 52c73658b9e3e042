package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/joseph-ayodele/invoice-audit/constants"
	"github.com/joseph-ayodele/invoice-audit/internal/common"
	"github.com/joseph-ayodele/invoice-audit/internal/llm"
	"github.com/joseph-ayodele/invoice-audit/internal/llm/anthropic"
)

func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

// audit-run audits one local invoice against one local contract without touching
// storage or the database, and prints the parsed result.
func main() {
	flags := pflag.NewFlagSet("audit-run", pflag.ContinueOnError)
	contractPath := flags.String("contract", "", "contract document PDF (required)")
	invoicePath := flags.String("invoice", "", "invoice PDF (required)")
	raw := flags.Bool("raw", false, "print the model's raw text instead of the parsed result")
	timeout := flags.Duration("timeout", 3*time.Minute, "overall deadline for the model call")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if *contractPath == "" || *invoicePath == "" {
		printError("Error: --contract and --invoice are required\n")
		os.Exit(2)
	}

	cfg := common.LoadConfig()
	logger := common.NewLogger(cfg.Log, os.Stderr)
	if cfg.LLM.APIKey == "" {
		printError("Error: ANTHROPIC_API_KEY is required\n")
		os.Exit(2)
	}

	contract, err := readDocument(*contractPath)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	invoice, err := readDocument(*invoicePath)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	client := anthropic.NewClient(anthropic.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	text, err := client.InvokeAudit(ctx, llm.AuditRequest{Contract: contract, Invoice: invoice})
	if err != nil {
		logger.Error("model call failed", "error", err)
		cancel()
		os.Exit(1)
	}
	logger.Info("model answered", "elapsed_ms", time.Since(start).Milliseconds(), "chars", len(text))
	if *raw {
		fmt.Println(text)
		return
	}

	result, err := llm.ParseAuditResult(text)
	if err != nil {
		logger.Error("failed to parse model response", "error", err)
		cancel()
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		printError("Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func readDocument(p string) (llm.DocumentPayload, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return llm.DocumentPayload{}, fmt.Errorf("read %s: %w", p, err)
	}
	name := filepath.Base(p)
	return llm.DocumentPayload{
		Name:      name,
		MediaType: constants.MediaTypeFor(name, ""),
		Data:      data,
	}, nil
}
