package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/echelon-labs/verify/internal/app/domain"
	"github.com/echelon-labs/verify/internal/app/services/oracleadapter"
	"github.com/echelon-labs/verify/internal/app/services/pipeline"
	"github.com/echelon-labs/verify/internal/app/services/scorer"
	"github.com/echelon-labs/verify/internal/app/storage"
	"github.com/echelon-labs/verify/pkg/config"
)

type stubOracle struct{}

func (stubOracle) Invoke(ctx context.Context, record domain.GroundTruthRecord, question string) domain.OracleOutput {
	return domain.OracleOutput{GroundTruthID: record.ID, Summary: "ok", Metadata: map[string]any{}}
}

type stubScorer struct{}

func (stubScorer) GenerateFollowUpQuestion(ctx context.Context, record domain.GroundTruthRecord) (string, error) {
	return "q", nil
}
func (stubScorer) ScorePrecision(ctx context.Context, record domain.GroundTruthRecord, output domain.OracleOutput) (float64, int, int, map[string]any, error) {
	return 0.9, 1, 1, map[string]any{}, nil
}
func (stubScorer) ScoreRecall(ctx context.Context, record domain.GroundTruthRecord, output domain.OracleOutput) (float64, int, int, map[string]any, error) {
	return 0.8, 1, 1, map[string]any{}, nil
}
func (stubScorer) ScoreReplyAccuracy(ctx context.Context, record domain.GroundTruthRecord, output domain.OracleOutput) (float64, map[string]any, error) {
	return 0.85, map[string]any{}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	dir, err := store.RepoDir("octocat/hello-world")
	if err != nil {
		t.Fatalf("RepoDir: %v", err)
	}
	if err := storage.AppendJSONL(dir+"/ground_truth.jsonl", domain.GroundTruthRecord{ID: "1", Repo: "octocat/hello-world"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	factory := func(req RunRequest) (*pipeline.Orchestrator, error) {
		cfg := config.New()
		cfg.Ingestion.RepoURL = req.RepoURL
		cfg.CompositeWeights = config.CompositeWeights{Precision: 1, Recall: 1, ReplyAccuracy: 1}
		var ad oracleadapter.Adapter = stubOracle{}
		var sc scorer.Scorer = stubScorer{}
		return pipeline.New(*cfg, store, ad, sc, nil), nil
	}

	srv := NewServer(config.ServerConfig{RateLimitRPS: 1000, RateLimitBurst: 1000}, factory, nil)
	return srv
}

func TestRunStatusResultHappyPath(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := strings.NewReader(`{"repo_url": "octocat/hello-world"}`)
	resp, err := http.Post(ts.URL+"/api/verification/run", "application/json", body)
	if err != nil {
		t.Fatalf("POST /run: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var started RunStatus
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("decode: %v", err)
	}

	var final RunStatus
	for i := 0; i < 50; i++ {
		statusResp, err := http.Get(ts.URL + "/api/verification/status/" + started.JobID)
		if err != nil {
			t.Fatalf("GET /status: %v", err)
		}
		_ = json.NewDecoder(statusResp.Body).Decode(&final)
		statusResp.Body.Close()
		if final.Status == StatusCompleted || final.Status == StatusFailed {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if final.Status != StatusCompleted {
		t.Fatalf("expected completed status, got %+v", final)
	}

	resultResp, err := http.Get(ts.URL + "/api/verification/result/" + started.JobID)
	if err != nil {
		t.Fatalf("GET /result: %v", err)
	}
	defer resultResp.Body.Close()
	if resultResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resultResp.StatusCode)
	}
	var result RunResult
	if err := json.NewDecoder(resultResp.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Certificate.ReplayCount != 1 {
		t.Fatalf("unexpected certificate: %+v", result.Certificate)
	}
}

func TestStatusUnknownJobIs404(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/verification/status/does-not-exist")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestResultBeforeCompletionIs409(t *testing.T) {
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	blocking := make(chan struct{})
	factory := func(req RunRequest) (*pipeline.Orchestrator, error) {
		<-blocking
		return nil, errors.New("unreachable")
	}
	srv := NewServer(config.ServerConfig{RateLimitRPS: 1000, RateLimitBurst: 1000}, factory, nil)
	_ = store

	jobID := "manual-job"
	srv.jobs[jobID] = &RunStatus{JobID: jobID, Status: StatusScoring}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/verification/result/" + jobID)
	if err != nil {
		t.Fatalf("GET /result: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	close(blocking)
}
