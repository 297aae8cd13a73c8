// Package scorer drives a reference language model through the four
// prompts that evaluate one oracle replay: a follow-up question
// generated from the bare record, then precision, recall, and
// reply-accuracy judgments of the oracle's response.
package scorer

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/echelon-labs/verify/internal/app/apperr"
	"github.com/echelon-labs/verify/internal/app/domain"
)

// Scorer is the capability set the orchestrator drives per replay.
type Scorer interface {
	GenerateFollowUpQuestion(ctx context.Context, record domain.GroundTruthRecord) (string, error)
	ScorePrecision(ctx context.Context, record domain.GroundTruthRecord, output domain.OracleOutput) (score float64, total, supported int, raw map[string]any, err error)
	ScoreRecall(ctx context.Context, record domain.GroundTruthRecord, output domain.OracleOutput) (score float64, total, surfaced int, raw map[string]any, err error)
	ScoreReplyAccuracy(ctx context.Context, record domain.GroundTruthRecord, output domain.OracleOutput) (score float64, raw map[string]any, err error)
}

// ModelClient is the narrow interface onto the reference LLM that
// AnthropicScorer needs; isolating it behind an interface keeps the
// retry/parse machinery below testable without a live API key.
type ModelClient interface {
	Complete(ctx context.Context, prompt string, temperature float64) (string, error)
}

// AnthropicScorer implements Scorer by chaining prompts through a
// ModelClient, applying the single-textual-retry and single-parse-retry
// policy uniformly across all three scoring dimensions.
type AnthropicScorer struct {
	client        ModelClient
	promptVersion string
	temperature   float64
}

// New constructs an AnthropicScorer over client, using promptVersion
// (e.g. "v1") to select the template bundle.
func New(client ModelClient, promptVersion string, temperature float64) *AnthropicScorer {
	if promptVersion == "" {
		promptVersion = "v1"
	}
	return &AnthropicScorer{client: client, promptVersion: promptVersion, temperature: temperature}
}

type followUpQuestionData struct {
	Title       string
	Repo        string
	Description string
	DiffContent string
}

func (s *AnthropicScorer) GenerateFollowUpQuestion(ctx context.Context, record domain.GroundTruthRecord) (string, error) {
	prompt, err := render(s.promptVersion, "follow_up_question", followUpQuestionData{
		Title:       record.Title,
		Repo:        record.Repo,
		Description: record.Description,
		DiffContent: record.DiffContent,
	})
	if err != nil {
		return "", err
	}
	reply, err := s.completeWithRetry(ctx, prompt)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeScorerAPI, "generate follow-up question", err)
	}
	return strings.TrimSpace(reply), nil
}

type precisionData struct {
	DiffContent string
	Summary     string
	KeyClaims   []string
}

func (s *AnthropicScorer) ScorePrecision(ctx context.Context, record domain.GroundTruthRecord, output domain.OracleOutput) (float64, int, int, map[string]any, error) {
	prompt, err := render(s.promptVersion, "precision", precisionData{
		DiffContent: record.DiffContent,
		Summary:     output.Summary,
		KeyClaims:   output.KeyClaims,
	})
	if err != nil {
		return 0, 0, 0, nil, err
	}

	parsed, err := s.completeAndParse(ctx, prompt)
	if err != nil {
		return 0, 0, 0, nil, err
	}

	score := clamp01(parsed.Get("precision").Float())
	total := int(parsed.Get("total").Int())
	supported := int(parsed.Get("supported").Int())
	return score, total, supported, rawMap(parsed), nil
}

type recallData struct {
	DiffContent string
	Summary     string
}

func (s *AnthropicScorer) ScoreRecall(ctx context.Context, record domain.GroundTruthRecord, output domain.OracleOutput) (float64, int, int, map[string]any, error) {
	prompt, err := render(s.promptVersion, "recall", recallData{
		DiffContent: record.DiffContent,
		Summary:     output.Summary,
	})
	if err != nil {
		return 0, 0, 0, nil, err
	}

	parsed, err := s.completeAndParse(ctx, prompt)
	if err != nil {
		return 0, 0, 0, nil, err
	}

	score := clamp01(parsed.Get("recall").Float())
	total := int(parsed.Get("total").Int())
	surfaced := int(parsed.Get("surfaced").Int())
	return score, total, surfaced, rawMap(parsed), nil
}

type replyAccuracyData struct {
	DiffContent      string
	FollowUpQuestion string
	FollowUpResponse string
}

func (s *AnthropicScorer) ScoreReplyAccuracy(ctx context.Context, record domain.GroundTruthRecord, output domain.OracleOutput) (float64, map[string]any, error) {
	prompt, err := render(s.promptVersion, "reply_accuracy", replyAccuracyData{
		DiffContent:      record.DiffContent,
		FollowUpQuestion: output.FollowUpQuestion,
		FollowUpResponse: output.FollowUpResponse,
	})
	if err != nil {
		return 0, nil, err
	}

	parsed, err := s.completeAndParse(ctx, prompt)
	if err != nil {
		return 0, nil, err
	}

	score := clamp01(parsed.Get("accuracy").Float())
	return score, rawMap(parsed), nil
}

// completeWithRetry issues prompt, retrying once on a recoverable API
// error; a second failure propagates.
func (s *AnthropicScorer) completeWithRetry(ctx context.Context, prompt string) (string, error) {
	reply, err := s.client.Complete(ctx, prompt, s.temperature)
	if err == nil {
		return reply, nil
	}
	reply, err = s.client.Complete(ctx, prompt, s.temperature)
	if err != nil {
		return "", err
	}
	return reply, nil
}

// completeAndParse applies the model-call contract: one textual retry
// on API error, then one structured retry (stricter prompt, fence
// stripping) if the first reply fails to parse as JSON.
func (s *AnthropicScorer) completeAndParse(ctx context.Context, prompt string) (gjson.Result, error) {
	reply, err := s.completeWithRetry(ctx, prompt)
	if err != nil {
		return gjson.Result{}, apperr.Wrap(apperr.CodeScorerAPI, "scoring model call failed", err)
	}

	cleaned := stripFences(reply)
	if gjson.Valid(cleaned) {
		return gjson.Parse(cleaned), nil
	}

	strictPrompt := prompt + "\n\nRespond with only valid JSON. Do not wrap the response in markdown code fences."
	retryReply, err := s.client.Complete(ctx, strictPrompt, s.temperature)
	if err != nil {
		return gjson.Result{}, apperr.Wrap(apperr.CodeScorerAPI, "scoring model retry call failed", err)
	}

	cleaned = stripFences(retryReply)
	if !gjson.Valid(cleaned) {
		return gjson.Result{}, apperr.New(apperr.CodeScorerParse, "scoring model did not return valid JSON after retry")
	}
	return gjson.Parse(cleaned), nil
}

// stripFences removes a leading/trailing ``` or ```json code fence, if
// present, tolerating surrounding whitespace.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// rawMap copies the parsed JSON object into a plain map for storage in
// ReplayScore.RawScoringOutput; missing fields default to zero values
// per the specification's coercion-to-zero policy for partial JSON.
func rawMap(result gjson.Result) map[string]any {
	out := make(map[string]any)
	result.ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = value.Value()
		return true
	})
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
