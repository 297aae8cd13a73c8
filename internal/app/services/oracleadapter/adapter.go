// Package oracleadapter implements polymorphic invocation of the
// oracle under test: an HTTP transport variant and an in-process
// callable variant, both producing a uniform OracleOutput envelope
// that never leaks a raw error to its caller.
package oracleadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/echelon-labs/verify/infrastructure/httputil"
	"github.com/echelon-labs/verify/internal/app/apperr"
	"github.com/echelon-labs/verify/internal/app/domain"
	"github.com/echelon-labs/verify/pkg/config"
)

// Adapter invokes an oracle under test on one ground-truth record.
type Adapter interface {
	Invoke(ctx context.Context, record domain.GroundTruthRecord, followUpQuestion string) domain.OracleOutput
}

// New selects and constructs an Adapter variant from cfg. Unknown
// oracle types are a configuration error, raised at construction.
func New(cfg config.OracleConfig, registry *Registry) (Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case "http":
		return NewHTTP(cfg), nil
	case "inprocess":
		return NewInProcess(cfg, registry)
	default:
		return nil, apperr.Configuration("oracle: unknown type %q", cfg.Type)
	}
}

// prRequestBody is the wire shape POSTed to an HTTP oracle.
type prRequestBody struct {
	PR                prPayload `json:"pr"`
	FollowUpQuestion  string    `json:"follow_up_question"`
}

type prPayload struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	DiffContent  string   `json:"diff_content"`
	FilesChanged []string `json:"files_changed"`
}

// oracleResponseBody is the expected wire shape of a successful oracle
// response; every field but Summary tolerates absence.
type oracleResponseBody struct {
	Summary          string         `json:"summary"`
	KeyClaims        []string       `json:"key_claims"`
	FollowUpResponse string         `json:"follow_up_response"`
	Metadata         map[string]any `json:"metadata"`
}

// HTTPAdapter invokes the oracle over HTTP. It never retries
// internally — retry policy, if any, belongs to the deployment.
type HTTPAdapter struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewHTTP constructs an HTTP oracle adapter from configuration.
func NewHTTP(cfg config.OracleConfig) *HTTPAdapter {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAdapter{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  httputil.CopyHTTPClientWithTimeout(nil, timeout, true),
	}
}

// Invoke POSTs the record and question, translating every failure mode
// into a populated error envelope rather than propagating it.
func (a *HTTPAdapter) Invoke(ctx context.Context, record domain.GroundTruthRecord, followUpQuestion string) domain.OracleOutput {
	start := time.Now()
	body := prRequestBody{
		PR: prPayload{
			ID:           record.ID,
			Title:        record.Title,
			Description:  record.Description,
			DiffContent:  record.DiffContent,
			FilesChanged: record.FilesChanged,
		},
		FollowUpQuestion: followUpQuestion,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return errorEnvelope(record.ID, followUpQuestion, start, fmt.Sprintf("encode request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return errorEnvelope(record.ID, followUpQuestion, start, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return errorEnvelope(record.ID, followUpQuestion, start, "timeout")
		}
		return errorEnvelope(record.ID, followUpQuestion, start, err.Error())
	}
	defer resp.Body.Close()

	respBody, _, err := httputil.ReadAllWithLimit(resp.Body, 1<<20)
	if err != nil {
		return errorEnvelope(record.ID, followUpQuestion, start, fmt.Sprintf("read response: %v", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview := respBody
		if len(preview) > 200 {
			preview = preview[:200]
		}
		logrus.WithFields(logrus.Fields{
			"record_id":   record.ID,
			"status_code": resp.StatusCode,
			"body":        string(preview),
		}).Warn("oracle returned a non-2xx response")
		return errorEnvelope(record.ID, followUpQuestion, start, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	var parsed oracleResponseBody
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return errorEnvelope(record.ID, followUpQuestion, start, fmt.Sprintf("malformed response: %v", err))
	}

	metadata := parsed.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	claims := parsed.KeyClaims
	if claims == nil {
		claims = []string{}
	}

	return domain.OracleOutput{
		GroundTruthID:    record.ID,
		Summary:          parsed.Summary,
		KeyClaims:        claims,
		FollowUpQuestion: followUpQuestion,
		FollowUpResponse: parsed.FollowUpResponse,
		Metadata:         metadata,
		InvokedAt:        start.UTC(),
		LatencyMS:        time.Since(start).Milliseconds(),
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return false
}

func errorEnvelope(groundTruthID, question string, start time.Time, reason string) domain.OracleOutput {
	return domain.OracleOutput{
		GroundTruthID:    groundTruthID,
		Summary:          "",
		KeyClaims:        []string{},
		FollowUpQuestion: question,
		FollowUpResponse: "",
		Metadata:         map[string]any{"error": reason},
		InvokedAt:        start.UTC(),
		LatencyMS:        time.Since(start).Milliseconds(),
	}
}
