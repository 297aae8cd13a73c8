package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.MinReplays != 50 {
		t.Fatalf("expected default min_replays 50, got %d", cfg.MinReplays)
	}
	if cfg.CompositeWeights.Precision != 1.0 {
		t.Fatalf("expected default precision weight 1.0, got %f", cfg.CompositeWeights.Precision)
	}
}

func TestOracleConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     OracleConfig
		wantErr bool
	}{
		{"http ok", OracleConfig{Type: "http", URL: "https://oracle.example.com"}, false},
		{"http missing url", OracleConfig{Type: "http"}, true},
		{"inprocess ok", OracleConfig{Type: "inprocess", Module: "reviewers", Callable: "Review"}, false},
		{"inprocess missing callable", OracleConfig{Type: "inprocess", Module: "reviewers"}, true},
		{"unknown type", OracleConfig{Type: "carrier-pigeon"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
construct_id: my-oracle
min_replays: 10
oracle:
  type: http
  url: https://oracle.internal/review
ingestion:
  repo_url: https://github.com/octo/demo
  limit: 25
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.ConstructID != "my-oracle" {
		t.Fatalf("expected construct_id override, got %q", cfg.ConstructID)
	}
	if cfg.MinReplays != 10 {
		t.Fatalf("expected min_replays override, got %d", cfg.MinReplays)
	}
	if cfg.Ingestion.Limit != 25 {
		t.Fatalf("expected ingestion.limit override, got %d", cfg.Ingestion.Limit)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port to survive file load, got %d", cfg.Server.Port)
	}
}

func TestLoadFileMissingIsNotError(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.OutputDir != "data" {
		t.Fatalf("expected default output_dir, got %q", cfg.OutputDir)
	}
}
