// Command verifyd runs the verification pipeline's HTTP command server:
// POST /api/verification/run kicks off a background run, and
// /status/{job_id} and /result/{job_id} poll it to completion.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/echelon-labs/verify/infrastructure/metrics"
	"github.com/echelon-labs/verify/internal/app/httpapi"
	"github.com/echelon-labs/verify/internal/app/services/oracleadapter"
	"github.com/echelon-labs/verify/internal/app/services/pipeline"
	"github.com/echelon-labs/verify/internal/app/services/scorer"
	"github.com/echelon-labs/verify/internal/app/storage"
	"github.com/echelon-labs/verify/pkg/config"
	"github.com/echelon-labs/verify/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	store, err := storage.New(cfg.OutputDir)
	if err != nil {
		log.WithField("err", err).Fatal("failed to initialize storage")
	}

	registry := oracleadapter.NewRegistry()
	m := metrics.New()

	buildFunc := func(req httpapi.RunRequest) (*pipeline.Orchestrator, error) {
		runCfg := *cfg
		if req.RepoURL != "" {
			runCfg.Ingestion.RepoURL = req.RepoURL
		}
		if req.Construct.Type != "" {
			runCfg.Oracle = req.Construct
		}
		if req.Scoring.Model != "" {
			runCfg.Scoring = req.Scoring
		}
		if req.MinReplays > 0 {
			runCfg.MinReplays = req.MinReplays
		}
		if req.ConstructID != "" {
			runCfg.ConstructID = req.ConstructID
		}
		if req.Limit > 0 {
			runCfg.Ingestion.Limit = req.Limit
		}
		if req.AuthToken != "" {
			runCfg.Ingestion.GithubToken = req.AuthToken
		}

		if err := runCfg.Oracle.Validate(); err != nil {
			return nil, err
		}

		oracle, err := oracleadapter.New(runCfg.Oracle, registry)
		if err != nil {
			return nil, err
		}

		anthropicClient := scorer.NewAnthropicClient(runCfg.Scoring.APIKey, runCfg.Scoring.Model)
		score := scorer.New(anthropicClient, runCfg.Scoring.PromptVersion, runCfg.Scoring.Temperature)

		orch := pipeline.New(runCfg, store, oracle, score, logger.NewDefault("pipeline"))
		return orch.WithMetrics(m), nil
	}

	srv := httpapi.NewServer(cfg.Server, buildFunc, logger.NewDefault("httpapi")).WithMetrics(m)

	mux := http.NewServeMux()
	mux.Handle("/", srv.Router())
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.WithField("addr", addr).Info("verifyd listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithField("err", err).Fatal("server exited")
	}
}
