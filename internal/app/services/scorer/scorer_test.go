package scorer

import (
	"context"
	"errors"
	"testing"

	"github.com/echelon-labs/verify/internal/app/domain"
)

type scriptedClient struct {
	replies []string
	errs    []error
	calls   int
}

func (c *scriptedClient) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	if i < len(c.replies) {
		return c.replies[i], nil
	}
	return "", errors.New("no scripted reply")
}

func TestGenerateFollowUpQuestionTrimsWhitespace(t *testing.T) {
	client := &scriptedClient{replies: []string{"  did this break auth?  \n"}}
	s := New(client, "v1", 0)

	q, err := s.GenerateFollowUpQuestion(context.Background(), domain.GroundTruthRecord{Title: "t", Repo: "o/r"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q != "did this break auth?" {
		t.Fatalf("unexpected question: %q", q)
	}
}

func TestScorePrecisionParsesJSON(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"precision": 0.75, "total": 4, "supported": 3, "claims": []}`,
	}}
	s := New(client, "v1", 0)

	score, total, supported, raw, err := s.ScorePrecision(context.Background(),
		domain.GroundTruthRecord{DiffContent: "diff"},
		domain.OracleOutput{Summary: "s", KeyClaims: []string{"a"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 0.75 || total != 4 || supported != 3 {
		t.Fatalf("unexpected scoring: score=%v total=%v supported=%v", score, total, supported)
	}
	if raw["total"].(float64) != 4 {
		t.Fatalf("unexpected raw output: %+v", raw)
	}
}

func TestScoreRecallStripsMarkdownFences(t *testing.T) {
	client := &scriptedClient{replies: []string{
		"```json\n{\"recall\": 0.5, \"total\": 2, \"surfaced\": 1, \"changes\": []}\n```",
	}}
	s := New(client, "v1", 0)

	score, total, surfaced, _, err := s.ScoreRecall(context.Background(),
		domain.GroundTruthRecord{DiffContent: "diff"}, domain.OracleOutput{Summary: "s"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 0.5 || total != 2 || surfaced != 1 {
		t.Fatalf("unexpected scoring: score=%v total=%v surfaced=%v", score, total, surfaced)
	}
}

func TestScoreRetriesOnceOnMalformedJSONThenFailsHard(t *testing.T) {
	client := &scriptedClient{replies: []string{"not json", "still not json"}}
	s := New(client, "v1", 0)

	_, _, _, _, err := s.ScorePrecision(context.Background(),
		domain.GroundTruthRecord{DiffContent: "diff"}, domain.OracleOutput{})
	if err == nil {
		t.Fatalf("expected parse error after retry exhausted")
	}
	if client.calls != 2 {
		t.Fatalf("expected exactly 2 calls (initial + structured retry), got %d", client.calls)
	}
}

func TestScoreRecoversAfterSecondAttemptSucceeds(t *testing.T) {
	client := &scriptedClient{replies: []string{"garbage", `{"accuracy": 0.6}`}}
	s := New(client, "v1", 0)

	score, _, err := s.ScoreReplyAccuracy(context.Background(),
		domain.GroundTruthRecord{DiffContent: "diff"}, domain.OracleOutput{FollowUpQuestion: "q", FollowUpResponse: "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 0.6 {
		t.Fatalf("unexpected score: %v", score)
	}
}

func TestCompleteWithRetryRecoversFromSingleAPIError(t *testing.T) {
	client := &scriptedClient{
		errs:    []error{errors.New("transient"), nil},
		replies: []string{"", "ok reply"},
	}
	s := New(client, "v1", 0)
	reply, err := s.completeWithRetry(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "ok reply" {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestCompleteWithRetryPropagatesSecondFailure(t *testing.T) {
	client := &scriptedClient{errs: []error{errors.New("e1"), errors.New("e2")}}
	s := New(client, "v1", 0)
	if _, err := s.completeWithRetry(context.Background(), "prompt"); err == nil {
		t.Fatalf("expected propagated error after second failure")
	}
}

func TestClamp01(t *testing.T) {
	if clamp01(-1) != 0 {
		t.Fatalf("expected clamp to 0")
	}
	if clamp01(2) != 1 {
		t.Fatalf("expected clamp to 1")
	}
	if clamp01(0.5) != 0.5 {
		t.Fatalf("expected passthrough")
	}
}
