// Package config loads the verification pipeline's configuration from a
// YAML file and environment overrides, following the same
// file-then-env layering the rest of the stack uses.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/echelon-labs/verify/internal/app/apperr"
)

// ServerConfig controls the HTTP command server.
type ServerConfig struct {
	Host           string `json:"host" yaml:"host" env:"SERVER_HOST"`
	Port           int    `json:"port" yaml:"port" env:"SERVER_PORT"`
	RateLimitRPS   float64 `json:"rate_limit_rps" yaml:"rate_limit_rps" env:"SERVER_RATE_LIMIT_RPS"`
	RateLimitBurst int    `json:"rate_limit_burst" yaml:"rate_limit_burst" env:"SERVER_RATE_LIMIT_BURST"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"LOG_FORMAT"`
}

// IngestionConfig controls source-code-host ingestion.
type IngestionConfig struct {
	RepoURL     string   `json:"repo_url" yaml:"repo_url" env:"INGESTION_REPO_URL"`
	GithubToken string   `json:"github_token" yaml:"github_token" env:"GITHUB_TOKEN"`
	Limit       int      `json:"limit" yaml:"limit" env:"INGESTION_LIMIT"`
	Since       string   `json:"since" yaml:"since" env:"INGESTION_SINCE"`
	Labels      []string `json:"labels" yaml:"labels"`
	MergedOnly  bool     `json:"merged_only" yaml:"merged_only" env:"INGESTION_MERGED_ONLY"`
}

// OracleConfig controls how the oracle under test is invoked.
type OracleConfig struct {
	Type           string            `json:"type" yaml:"type" env:"ORACLE_TYPE"`
	URL            string            `json:"url" yaml:"url" env:"ORACLE_URL"`
	Headers        map[string]string `json:"headers" yaml:"headers"`
	TimeoutSeconds int               `json:"timeout_seconds" yaml:"timeout_seconds" env:"ORACLE_TIMEOUT_SECONDS"`
	Module         string            `json:"module" yaml:"module" env:"ORACLE_MODULE"`
	Callable       string            `json:"callable" yaml:"callable" env:"ORACLE_CALLABLE"`
}

// Validate enforces the type-dependent required fields, mirroring the
// pipeline's model-level validator.
func (o OracleConfig) Validate() error {
	switch o.Type {
	case "http":
		if strings.TrimSpace(o.URL) == "" {
			return apperr.Configuration("oracle: url is required when type=http")
		}
	case "inprocess":
		if strings.TrimSpace(o.Module) == "" {
			return apperr.Configuration("oracle: module is required when type=inprocess")
		}
		if strings.TrimSpace(o.Callable) == "" {
			return apperr.Configuration("oracle: callable is required when type=inprocess")
		}
	default:
		return apperr.Configuration("oracle: unknown type %q", o.Type)
	}
	return nil
}

// ScoringConfig controls the reference scoring model.
type ScoringConfig struct {
	Provider      string  `json:"provider" yaml:"provider" env:"SCORING_PROVIDER"`
	Model         string  `json:"model" yaml:"model" env:"SCORING_MODEL"`
	APIKey        string  `json:"api_key" yaml:"api_key" env:"ANTHROPIC_API_KEY"`
	Temperature   float64 `json:"temperature" yaml:"temperature" env:"SCORING_TEMPERATURE"`
	PromptVersion string  `json:"prompt_version" yaml:"prompt_version" env:"SCORING_PROMPT_VERSION"`
}

// CompositeWeights weighs the three dimensions into the composite score.
type CompositeWeights struct {
	Precision     float64 `json:"precision" yaml:"precision" env:"WEIGHTS_PRECISION"`
	Recall        float64 `json:"recall" yaml:"recall" env:"WEIGHTS_RECALL"`
	ReplyAccuracy float64 `json:"reply_accuracy" yaml:"reply_accuracy" env:"WEIGHTS_REPLY_ACCURACY"`
}

// PipelineConfig is the top-level configuration for a verification run.
type PipelineConfig struct {
	Server           ServerConfig     `json:"server" yaml:"server"`
	Logging          LoggingConfig    `json:"logging" yaml:"logging"`
	Ingestion        IngestionConfig  `json:"ingestion" yaml:"ingestion"`
	Oracle           OracleConfig     `json:"oracle" yaml:"oracle"`
	Scoring          ScoringConfig    `json:"scoring" yaml:"scoring"`
	MinReplays       int              `json:"min_replays" yaml:"min_replays" env:"PIPELINE_MIN_REPLAYS"`
	CompositeWeights CompositeWeights `json:"composite_weights" yaml:"composite_weights"`
	OutputDir        string           `json:"output_dir" yaml:"output_dir" env:"PIPELINE_OUTPUT_DIR"`
	ConstructID      string           `json:"construct_id" yaml:"construct_id" env:"PIPELINE_CONSTRUCT_ID"`
}

// Config is an alias kept for symmetry with the ambient layering
// convention: one exported top-level type named Config.
type Config = PipelineConfig

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			RateLimitRPS:   1,
			RateLimitBurst: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Ingestion: IngestionConfig{
			Limit:      100,
			MergedOnly: true,
		},
		Oracle: OracleConfig{
			Type:           "http",
			TimeoutSeconds: 30,
		},
		Scoring: ScoringConfig{
			Provider:      "anthropic",
			Model:         "claude-sonnet-4-6",
			PromptVersion: "v1",
		},
		MinReplays: 50,
		CompositeWeights: CompositeWeights{
			Precision:     1.0,
			Recall:        1.0,
			ReplyAccuracy: 1.0,
		},
		OutputDir:   "data",
		ConstructID: "unnamed-oracle",
	}
}

// Load loads configuration from file (if present) and environment
// variables, env taking precedence over file, file over defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors out when none of the tagged fields were found in
		// the environment; that just means "no overrides" for a local run.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, apperr.Wrap(apperr.CodeConfiguration, "decode env", err)
		}
	}

	if cfg.Scoring.APIKey == "" {
		cfg.Scoring.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	return cfg, nil
}

// LoadFile reads configuration from a YAML file without consulting the
// environment, used by inspection tooling that wants a pure file view.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return apperr.Wrap(apperr.CodeConfiguration, "resolve config path", err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperr.Wrap(apperr.CodeConfiguration, "read config file", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return apperr.Wrap(apperr.CodeConfiguration, fmt.Sprintf("parse config file %s", path), err)
	}
	return nil
}
