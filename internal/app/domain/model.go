// Package domain holds the pipeline's core entities: GroundTruthRecord,
// OracleOutput, ReplayScore, and CalibrationCertificate. They are plain,
// immutable-after-creation structs — the Go analogue of the source's
// pydantic models, validated at the edges that construct them rather
// than by a runtime schema.
package domain

import "time"

// GroundTruthRecord is one PR snapshot pulled from a source-code host.
type GroundTruthRecord struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	DiffContent  string    `json:"diff_content"`
	FilesChanged []string  `json:"files_changed"`
	Timestamp    time.Time `json:"timestamp"`
	Labels       []string  `json:"labels"`
	Author       string    `json:"author"`
	URL          string    `json:"url"`
	Repo         string    `json:"repo"`
}

// OracleOutput is the oracle's response envelope for one record. An
// error envelope (Metadata containing the "error" key) is still a
// valid, fully-formed OracleOutput.
type OracleOutput struct {
	GroundTruthID     string         `json:"ground_truth_id"`
	Summary           string         `json:"summary"`
	KeyClaims         []string       `json:"key_claims"`
	FollowUpQuestion  string         `json:"follow_up_question"`
	FollowUpResponse  string         `json:"follow_up_response"`
	Metadata          map[string]any `json:"metadata"`
	InvokedAt         time.Time      `json:"invoked_at"`
	LatencyMS         int64          `json:"latency_ms"`
}

// IsError reports whether this envelope captured an invocation failure.
func (o OracleOutput) IsError() bool {
	_, ok := o.Metadata["error"]
	return ok
}

// ReplayScore is one scored replay.
type ReplayScore struct {
	GroundTruthID    string         `json:"ground_truth_id"`
	Precision        float64        `json:"precision"`
	Recall           float64        `json:"recall"`
	ReplyAccuracy    float64        `json:"reply_accuracy"`
	ClaimsTotal      int            `json:"claims_total"`
	ClaimsSupported  int            `json:"claims_supported"`
	ChangesTotal     int            `json:"changes_total"`
	ChangesSurfaced  int            `json:"changes_surfaced"`
	ScoringModel     string         `json:"scoring_model"`
	ScoringLatencyMS int64          `json:"scoring_latency_ms"`
	ScoredAt         time.Time      `json:"scored_at"`
	RawScoringOutput map[string]any `json:"raw_scoring_output"`
}

// Validate enforces the invariants of §8 of the pipeline's testable
// properties: scores in [0,1] and supported/surfaced counts bounded by
// their totals.
func (s ReplayScore) Validate() error {
	if s.Precision < 0 || s.Precision > 1 {
		return errOutOfRange("precision", s.Precision)
	}
	if s.Recall < 0 || s.Recall > 1 {
		return errOutOfRange("recall", s.Recall)
	}
	if s.ReplyAccuracy < 0 || s.ReplyAccuracy > 1 {
		return errOutOfRange("reply_accuracy", s.ReplyAccuracy)
	}
	if s.ClaimsSupported > s.ClaimsTotal {
		return errBound("claims_supported", s.ClaimsSupported, s.ClaimsTotal)
	}
	if s.ChangesSurfaced > s.ChangesTotal {
		return errBound("changes_surfaced", s.ChangesSurfaced, s.ChangesTotal)
	}
	return nil
}

// DomainCommunityOracle is the constant domain tag carried by every
// certificate this pipeline produces.
const DomainCommunityOracle = "community_oracle"

// SchemaVersion is the current CalibrationCertificate schema version.
const SchemaVersion = "1.0.0"

// CalibrationCertificate is the final aggregate artifact of a
// verification run.
type CalibrationCertificate struct {
	SchemaVersion      string        `json:"schema_version"`
	CertificateID      string        `json:"certificate_id"`
	ConstructID        string        `json:"construct_id"`
	Domain             string        `json:"domain"`
	ReplayCount        int           `json:"replay_count"`
	Precision          float64       `json:"precision"`
	Recall             float64       `json:"recall"`
	ReplyAccuracy      float64       `json:"reply_accuracy"`
	CompositeScore     float64       `json:"composite_score"`
	Brier              float64       `json:"brier"`
	SampleSize         int           `json:"sample_size"`
	Timestamp          time.Time     `json:"timestamp"`
	GroundTruthSource  string        `json:"ground_truth_source"`
	CommitRange        string        `json:"commit_range"`
	MethodologyVersion string        `json:"methodology_version"`
	ScoringModel       string        `json:"scoring_model"`
	IndividualScores   []ReplayScore `json:"individual_scores"`
}

// CertificateIndexEntry is one line of certificates/index.jsonl.
type CertificateIndexEntry struct {
	CertificateID  string    `json:"certificate_id"`
	ConstructID    string    `json:"construct_id"`
	CompositeScore float64   `json:"composite_score"`
	ReplayCount    int       `json:"replay_count"`
	Timestamp      time.Time `json:"timestamp"`
}

func errOutOfRange(field string, value float64) error {
	return &rangeError{field: field, value: value}
}

type rangeError struct {
	field string
	value float64
}

func (e *rangeError) Error() string {
	return "domain: " + e.field + " out of [0,1] range"
}

func errBound(field string, got, limit int) error {
	return &boundError{field: field, got: got, limit: limit}
}

type boundError struct {
	field    string
	got, limit int
}

func (e *boundError) Error() string {
	return "domain: " + e.field + " exceeds its total"
}
