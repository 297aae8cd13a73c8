// Command verifyctl drives the verification pipeline from the command
// line: verify, ingest, score, and inspect subcommands wrap the three
// Orchestrator entry points plus the certificate store.
//
// Usage:
//
//	verifyctl verify --repo owner/name [--limit N]   Ingest and certify in one pass
//	verifyctl ingest --repo owner/name [--limit N]   Ingest ground truth only
//	verifyctl score --repo owner/name                Score cached ground truth
//	verifyctl inspect [--id CERT_ID]                 Print one or all certificates
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/echelon-labs/verify/internal/app/services/oracleadapter"
	"github.com/echelon-labs/verify/internal/app/services/pipeline"
	"github.com/echelon-labs/verify/internal/app/services/scorer"
	"github.com/echelon-labs/verify/internal/app/storage"
	"github.com/echelon-labs/verify/pkg/config"
	"github.com/echelon-labs/verify/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "verify":
		runVerify(args)
	case "ingest":
		runIngest(args)
	case "score":
		runScore(args)
	case "inspect":
		runInspect(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `verifyctl - oracle calibration verification CLI

Usage:
  verifyctl verify --repo owner/name [--limit N]
  verifyctl ingest --repo owner/name [--limit N]
  verifyctl score  --repo owner/name
  verifyctl inspect [--id CERT_ID]`)
}

func buildOrchestrator(repo string, limit int) (*pipeline.Orchestrator, *storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if repo != "" {
		cfg.Ingestion.RepoURL = repo
	}
	if limit > 0 {
		cfg.Ingestion.Limit = limit
	}
	if err := cfg.Oracle.Validate(); err != nil {
		return nil, nil, err
	}

	store, err := storage.New(cfg.OutputDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}

	registry := oracleadapter.NewRegistry()
	oracle, err := oracleadapter.New(cfg.Oracle, registry)
	if err != nil {
		return nil, nil, err
	}

	anthropicClient := scorer.NewAnthropicClient(cfg.Scoring.APIKey, cfg.Scoring.Model)
	score := scorer.New(anthropicClient, cfg.Scoring.PromptVersion, cfg.Scoring.Temperature)

	orch := pipeline.New(*cfg, store, oracle, score, logger.NewDefault("verifyctl"))
	return orch, store, nil
}

func runVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	repo := fs.String("repo", "", "repository URL or owner/name slug")
	limit := fs.Int("limit", 0, "maximum pull requests to ingest (0 = configured default)")
	_ = fs.Parse(args)

	orch, _, err := buildOrchestrator(*repo, *limit)
	if err != nil {
		fatal(err)
	}

	cert, err := orch.Run(context.Background(), reportProgress)
	if err != nil {
		fatal(err)
	}
	printJSON(cert)
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	repo := fs.String("repo", "", "repository URL or owner/name slug")
	limit := fs.Int("limit", 0, "maximum pull requests to ingest (0 = configured default)")
	_ = fs.Parse(args)

	orch, _, err := buildOrchestrator(*repo, *limit)
	if err != nil {
		fatal(err)
	}

	records, err := orch.IngestOnly(context.Background())
	if err != nil {
		fatal(err)
	}
	fmt.Printf("ingested %d ground-truth records\n", len(records))
}

func runScore(args []string) {
	fs := flag.NewFlagSet("score", flag.ExitOnError)
	repo := fs.String("repo", "", "repository URL or owner/name slug")
	_ = fs.Parse(args)

	orch, _, err := buildOrchestrator(*repo, 0)
	if err != nil {
		fatal(err)
	}

	cert, err := orch.ScoreOnly(context.Background(), reportProgress)
	if err != nil {
		fatal(err)
	}
	printJSON(cert)
}

func runInspect(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	id := fs.String("id", "", "certificate id to print (default: list all)")
	_ = fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}
	store, err := storage.New(cfg.OutputDir)
	if err != nil {
		fatal(err)
	}

	if *id != "" {
		cert, err := store.ReadCertificate(*id)
		if err != nil {
			fatal(err)
		}
		printJSON(cert)
		return
	}

	entries, err := store.ListCertificates()
	if err != nil {
		fatal(err)
	}
	printJSON(entries)
}

func reportProgress(completed, total int) {
	fmt.Fprintf(os.Stderr, "\rreplaying %d/%d", completed, total)
	if completed == total {
		fmt.Fprintln(os.Stderr)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
