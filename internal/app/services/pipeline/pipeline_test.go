package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/echelon-labs/verify/internal/app/domain"
	"github.com/echelon-labs/verify/internal/app/storage"
	"github.com/echelon-labs/verify/pkg/config"
)

// fakeOracle always returns a fixed envelope, except for ids listed in
// failIDs, which return an error envelope.
type fakeOracle struct {
	failIDs map[string]bool
}

func (f *fakeOracle) Invoke(ctx context.Context, record domain.GroundTruthRecord, question string) domain.OracleOutput {
	if f.failIDs != nil && f.failIDs[record.ID] {
		return domain.OracleOutput{
			GroundTruthID: record.ID,
			Metadata:      map[string]any{"error": "oracle raised"},
		}
	}
	return domain.OracleOutput{
		GroundTruthID:    record.ID,
		Summary:          "a fixed summary",
		KeyClaims:        []string{"claim"},
		FollowUpQuestion: question,
		FollowUpResponse: "a fixed answer",
		Metadata:         map[string]any{},
	}
}

// fixedScorer always returns the same three dimension scores.
type fixedScorer struct {
	precision, recall, replyAccuracy float64
}

func (s *fixedScorer) GenerateFollowUpQuestion(ctx context.Context, record domain.GroundTruthRecord) (string, error) {
	return "did this change anything?", nil
}

func (s *fixedScorer) ScorePrecision(ctx context.Context, record domain.GroundTruthRecord, output domain.OracleOutput) (float64, int, int, map[string]any, error) {
	return s.precision, 4, 3, map[string]any{}, nil
}

func (s *fixedScorer) ScoreRecall(ctx context.Context, record domain.GroundTruthRecord, output domain.OracleOutput) (float64, int, int, map[string]any, error) {
	return s.recall, 5, 4, map[string]any{}, nil
}

func (s *fixedScorer) ScoreReplyAccuracy(ctx context.Context, record domain.GroundTruthRecord, output domain.OracleOutput) (float64, map[string]any, error) {
	return s.replyAccuracy, map[string]any{}, nil
}

func testConfig(minReplays int) config.PipelineConfig {
	cfg := config.New()
	cfg.Ingestion.RepoURL = "octocat/hello-world"
	cfg.MinReplays = minReplays
	cfg.CompositeWeights = config.CompositeWeights{Precision: 1, Recall: 1, ReplyAccuracy: 1}
	return *cfg
}

func seedGroundTruth(t *testing.T, store *storage.Store, repo string, ids ...string) {
	t.Helper()
	dir, err := store.RepoDir(repo)
	if err != nil {
		t.Fatalf("RepoDir: %v", err)
	}
	for _, id := range ids {
		rec := domain.GroundTruthRecord{ID: id, Title: "pr " + id, Repo: repo}
		if err := storage.AppendJSONL(dir+"/ground_truth.jsonl", rec); err != nil {
			t.Fatalf("seed ground truth: %v", err)
		}
	}
}

// TestScoreOnlyFixedFixture matches scenario S1.
func TestScoreOnlyFixedFixture(t *testing.T) {
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	seedGroundTruth(t, store, "octocat/hello-world", "1", "2", "3")

	orch := New(testConfig(1), store, &fakeOracle{}, &fixedScorer{precision: 0.9, recall: 0.8, replyAccuracy: 0.85}, nil)

	cert, err := orch.ScoreOnly(context.Background(), nil)
	if err != nil {
		t.Fatalf("ScoreOnly: %v", err)
	}
	if cert.Precision != 0.9 || cert.Recall != 0.8 || cert.ReplyAccuracy != 0.85 {
		t.Fatalf("unexpected means: %+v", cert)
	}
	if cert.CompositeScore != 0.85 {
		t.Fatalf("expected composite 0.85, got %v", cert.CompositeScore)
	}
	if cert.Brier != 0.075 {
		t.Fatalf("expected brier 0.075, got %v", cert.Brier)
	}
	if cert.ReplayCount != 3 {
		t.Fatalf("expected replay_count 3, got %d", cert.ReplayCount)
	}
}

// TestScoreOnlyPartialOracleFailure matches scenario S3: the oracle
// raises on the middle record but scoring still isolates the other two.
func TestScoreOnlyPartialOracleFailure(t *testing.T) {
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	seedGroundTruth(t, store, "octocat/hello-world", "1", "2", "3")

	orch := New(testConfig(1), store, &fakeOracle{failIDs: map[string]bool{"2": true}},
		&fixedScorer{precision: 0.9, recall: 0.8, replyAccuracy: 0.85}, nil)

	cert, err := orch.ScoreOnly(context.Background(), nil)
	if err != nil {
		t.Fatalf("ScoreOnly: %v", err)
	}
	// The oracle's own error is scored, not skipped: a replay only drops
	// when the scorer itself errors, so all 3 still succeed here.
	if cert.ReplayCount != 3 {
		t.Fatalf("expected replay_count 3 (oracle errors are still scored), got %d", cert.ReplayCount)
	}

	dir, err := store.RepoDir("octocat/hello-world")
	if err != nil {
		t.Fatalf("RepoDir: %v", err)
	}
	outputs, err := storage.ReadJSONL[domain.OracleOutput](dir + "/oracle_outputs.jsonl")
	if err != nil {
		t.Fatalf("read oracle outputs: %v", err)
	}
	if len(outputs) != 3 {
		t.Fatalf("expected 3 oracle output lines, got %d", len(outputs))
	}
	if !outputs[1].IsError() {
		t.Fatalf("expected middle output to carry an error envelope")
	}
}

// failingScorer fails ScorePrecision for one specific record id, used
// to exercise true per-record score-stage isolation.
type failingScorer struct {
	fixedScorer
	failID string
}

func (s *failingScorer) ScorePrecision(ctx context.Context, record domain.GroundTruthRecord, output domain.OracleOutput) (float64, int, int, map[string]any, error) {
	if record.ID == s.failID {
		return 0, 0, 0, nil, errors.New("scorer exploded")
	}
	return s.fixedScorer.ScorePrecision(ctx, record, output)
}

func TestScoreOnlyScorerFailureIsIsolated(t *testing.T) {
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	seedGroundTruth(t, store, "octocat/hello-world", "1", "2", "3")

	orch := New(testConfig(1), store, &fakeOracle{},
		&failingScorer{fixedScorer: fixedScorer{precision: 0.9, recall: 0.8, replyAccuracy: 0.85}, failID: "2"}, nil)

	cert, err := orch.ScoreOnly(context.Background(), nil)
	if err != nil {
		t.Fatalf("ScoreOnly: %v", err)
	}
	if cert.ReplayCount != 2 {
		t.Fatalf("expected replay_count 2, got %d", cert.ReplayCount)
	}
}

// TestScoreOnlyBelowMinimumStillCertifies matches scenario S4.
func TestScoreOnlyBelowMinimumStillCertifies(t *testing.T) {
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	seedGroundTruth(t, store, "octocat/hello-world", "1", "2", "3")

	cfg := testConfig(5)
	orch := New(cfg, store, &fakeOracle{}, &fixedScorer{precision: 0.9, recall: 0.8, replyAccuracy: 0.85}, nil)

	cert, err := orch.ScoreOnly(context.Background(), nil)
	if err != nil {
		t.Fatalf("expected certificate despite being below min_replays: %v", err)
	}
	if cert.ReplayCount != 3 {
		t.Fatalf("expected replay_count 3, got %d", cert.ReplayCount)
	}
}

// TestScoreOnlyNoCachedGroundTruth matches scenario S5.
func TestScoreOnlyNoCachedGroundTruth(t *testing.T) {
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	orch := New(testConfig(1), store, &fakeOracle{}, &fixedScorer{}, nil)

	if _, err := orch.ScoreOnly(context.Background(), nil); err == nil {
		t.Fatalf("expected error for missing cached ground truth")
	}
}

// alwaysFailingScorer fails every call to ScorePrecision.
type alwaysFailingScorer struct {
	fixedScorer
}

func (s alwaysFailingScorer) ScorePrecision(ctx context.Context, record domain.GroundTruthRecord, output domain.OracleOutput) (float64, int, int, map[string]any, error) {
	return 0, 0, 0, nil, errors.New("scorer exploded")
}

func TestScoreOnlyAllReplaysFailedIsHardError(t *testing.T) {
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	seedGroundTruth(t, store, "octocat/hello-world", "1", "2")

	orch := New(testConfig(1), store, &fakeOracle{}, alwaysFailingScorer{}, nil)

	if _, err := orch.ScoreOnly(context.Background(), nil); err == nil {
		t.Fatalf("expected all-replays-failed error")
	}
}

func TestProgressCallbackInvokedPerRecord(t *testing.T) {
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	seedGroundTruth(t, store, "octocat/hello-world", "1", "2", "3")

	orch := New(testConfig(1), store, &fakeOracle{}, &fixedScorer{precision: 0.9, recall: 0.8, replyAccuracy: 0.85}, nil)

	var calls [][2]int
	_, err = orch.ScoreOnly(context.Background(), func(completed, total int) {
		calls = append(calls, [2]int{completed, total})
	})
	if err != nil {
		t.Fatalf("ScoreOnly: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("expected 3 progress callbacks, got %d", len(calls))
	}
	if calls[2][0] != 3 || calls[2][1] != 3 {
		t.Fatalf("unexpected final progress call: %+v", calls[2])
	}
}
