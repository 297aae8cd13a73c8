// Package pipeline implements the Orchestrator: it sequences
// ingestion, oracle invocation, scoring, and certification, isolating
// per-record failures so a single bad replay never aborts a run.
package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"github.com/echelon-labs/verify/infrastructure/metrics"
	"github.com/echelon-labs/verify/internal/app/apperr"
	"github.com/echelon-labs/verify/internal/app/domain"
	"github.com/echelon-labs/verify/internal/app/services/certgen"
	"github.com/echelon-labs/verify/internal/app/services/ingest"
	"github.com/echelon-labs/verify/internal/app/services/oracleadapter"
	"github.com/echelon-labs/verify/internal/app/services/scorer"
	"github.com/echelon-labs/verify/internal/app/storage"
	"github.com/echelon-labs/verify/pkg/config"
	"github.com/echelon-labs/verify/pkg/logger"
)

const (
	groundTruthFile  = "ground_truth.jsonl"
	oracleOutputFile = "oracle_outputs.jsonl"
	replayScoreFile  = "replay_scores.jsonl"
)

// ProgressFunc is invoked synchronously after each record in the
// score-and-certify loop, with the number completed and the total
// entering the loop.
type ProgressFunc func(completed, total int)

// Orchestrator sequences the Ingester, Oracle Adapter, Scorer, and
// Certificate Generator against one repository's configuration.
type Orchestrator struct {
	cfg     config.PipelineConfig
	store   *storage.Store
	oracle  oracleadapter.Adapter
	score   scorer.Scorer
	log     *logger.Logger
	metrics *metrics.Metrics
}

// New wires the four dependency-ordered components for one run. The
// ingester is constructed internally from cfg.Ingestion since it has
// no external state to inject; the oracle adapter and scorer are
// passed in so callers can substitute test doubles or a different
// in-process registry.
func New(cfg config.PipelineConfig, store *storage.Store, oracle oracleadapter.Adapter, score scorer.Scorer, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.NewDefault("pipeline")
	}
	return &Orchestrator{cfg: cfg, store: store, oracle: oracle, score: score, log: log}
}

// WithMetrics attaches a Metrics instance the orchestrator records
// oracle-invocation, scoring-call, and replay counters against. Safe
// to call with nil, which leaves metrics recording disabled.
func (o *Orchestrator) WithMetrics(m *metrics.Metrics) *Orchestrator {
	o.metrics = m
	return o
}

// IngestOnly reads any cached ground-truth log for the configured
// repo, passes its ids to the Ingester as a skip set, appends newly
// fetched records, and returns the full cached-plus-new list.
func (o *Orchestrator) IngestOnly(ctx context.Context) ([]domain.GroundTruthRecord, error) {
	dir, err := o.repoDir()
	if err != nil {
		return nil, err
	}
	groundTruthPath := filepath.Join(dir, groundTruthFile)

	cached, err := storage.ReadJSONL[domain.GroundTruthRecord](groundTruthPath)
	if err != nil {
		return nil, err
	}

	skip := make(map[string]struct{}, len(cached))
	for _, r := range cached {
		skip[r.ID] = struct{}{}
	}

	ingester, err := ingest.New(o.cfg.Ingestion, o.log)
	if err != nil {
		return nil, err
	}

	fetched, err := ingester.Ingest(ctx)
	if err != nil {
		return nil, err
	}

	newRecords := make([]domain.GroundTruthRecord, 0, len(fetched))
	for _, r := range fetched {
		if _, seen := skip[r.ID]; seen {
			continue
		}
		newRecords = append(newRecords, r)
	}

	for _, r := range newRecords {
		if err := storage.AppendJSONL(groundTruthPath, r); err != nil {
			return nil, err
		}
	}

	all := make([]domain.GroundTruthRecord, 0, len(cached)+len(newRecords))
	all = append(all, cached...)
	all = append(all, newRecords...)
	return all, nil
}

// ScoreOnly requires a non-empty cached ground-truth log and runs the
// score-and-certify sub-routine over it.
func (o *Orchestrator) ScoreOnly(ctx context.Context, progress ProgressFunc) (domain.CalibrationCertificate, error) {
	dir, err := o.repoDir()
	if err != nil {
		return domain.CalibrationCertificate{}, err
	}
	records, err := storage.ReadJSONL[domain.GroundTruthRecord](filepath.Join(dir, groundTruthFile))
	if err != nil {
		return domain.CalibrationCertificate{}, err
	}
	if len(records) == 0 {
		return domain.CalibrationCertificate{}, apperr.New(apperr.CodeInsufficientSamples, "no cached ground truth")
	}
	return o.scoreAndCertify(ctx, records, progress)
}

// Run performs IngestOnly followed by the score-and-certify
// sub-routine; zero ingested records is a hard failure.
func (o *Orchestrator) Run(ctx context.Context, progress ProgressFunc) (domain.CalibrationCertificate, error) {
	records, err := o.IngestOnly(ctx)
	if err != nil {
		return domain.CalibrationCertificate{}, err
	}
	if len(records) == 0 {
		return domain.CalibrationCertificate{}, apperr.New(apperr.CodeInsufficientSamples, "no ground truth records ingested")
	}
	return o.scoreAndCertify(ctx, records, progress)
}

// scoreAndCertify runs the per-record replay loop of §4.6: follow-up
// question, oracle invocation, three scoring calls, composed
// ReplayScore, then durable appends of both the oracle output and the
// score before advancing — so an abort mid-run leaves well-formed
// partial progress. A failure at any step for one record only drops
// that record from the score list; it never aborts the loop.
func (o *Orchestrator) scoreAndCertify(ctx context.Context, records []domain.GroundTruthRecord, progress ProgressFunc) (domain.CalibrationCertificate, error) {
	dir, err := o.repoDir()
	if err != nil {
		return domain.CalibrationCertificate{}, err
	}
	oracleOutputPath := filepath.Join(dir, oracleOutputFile)
	replayScorePath := filepath.Join(dir, replayScoreFile)

	total := len(records)
	scores := make([]domain.ReplayScore, 0, total)

	for i, record := range records {
		replayScore, oracleOutput, err := o.replayOne(ctx, record)
		if err != nil {
			o.log.WithField("ground_truth_id", record.ID).WithField("err", err).Warn("replay failed, skipping record")
			o.recordReplayMetric("skipped")
			if progress != nil {
				progress(i+1, total)
			}
			continue
		}
		o.recordReplayMetric("scored")

		if err := storage.AppendJSONL(oracleOutputPath, oracleOutput); err != nil {
			return domain.CalibrationCertificate{}, err
		}
		if err := storage.AppendJSONL(replayScorePath, replayScore); err != nil {
			return domain.CalibrationCertificate{}, err
		}

		scores = append(scores, replayScore)
		if progress != nil {
			progress(i+1, total)
		}
	}

	if len(scores) == 0 {
		return domain.CalibrationCertificate{}, apperr.New(apperr.CodeInsufficientSamples, "all replays failed")
	}
	if len(scores) < o.cfg.MinReplays {
		o.log.WithField("successes", len(scores)).WithField("min_replays", o.cfg.MinReplays).
			Warn("replay count below configured minimum; certificate still generated")
	}

	cert, err := certgen.Generate(scores, certgen.Config{
		ConstructID:        o.cfg.ConstructID,
		GroundTruthSource:  o.repoSlugOrConfigured(records),
		CommitRange:        commitRange(records),
		ScoringModel:       o.cfg.Scoring.Model,
		MethodologyVersion: "1.0.0",
		CompositeWeights:   o.cfg.CompositeWeights,
	})
	if err != nil {
		return domain.CalibrationCertificate{}, err
	}

	if _, err := o.store.WriteCertificate(cert); err != nil {
		return domain.CalibrationCertificate{}, err
	}
	if o.metrics != nil {
		o.metrics.RecordCertificate(cert.ConstructID, cert.CompositeScore)
	}
	return cert, nil
}

func (o *Orchestrator) recordScoringMetric(dimension string, start time.Time, err error) {
	if o.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	o.metrics.RecordScoringCall(dimension, outcome, time.Since(start))
}

func (o *Orchestrator) recordReplayMetric(outcome string) {
	if o.metrics != nil {
		o.metrics.RecordReplay(o.cfg.Ingestion.RepoURL, outcome)
	}
}

// replayOne performs the four in-order steps of one replay for a
// single record: follow-up question, oracle invocation, and the three
// scoring calls, composing the resulting ReplayScore. Any error from
// the scorer during steps 1-4 is returned so the caller can isolate it
// as a per-record failure; an oracle invocation failure is never an
// error here — it is already captured in the OracleOutput envelope and
// scoring proceeds against it, which is the intended low-score signal.
func (o *Orchestrator) replayOne(ctx context.Context, record domain.GroundTruthRecord) (domain.ReplayScore, domain.OracleOutput, error) {
	question, err := o.score.GenerateFollowUpQuestion(ctx, record)
	if err != nil {
		return domain.ReplayScore{}, domain.OracleOutput{}, err
	}

	oracleStart := nowUTC()
	output := o.oracle.Invoke(ctx, record, question)
	if o.metrics != nil {
		outcome := "success"
		if output.IsError() {
			outcome = "error"
		}
		o.metrics.RecordOracleInvocation(o.cfg.Oracle.Type, outcome, time.Since(oracleStart))
	}

	precisionStart := nowUTC()
	precisionScore, claimsTotal, claimsSupported, precisionRaw, err := o.score.ScorePrecision(ctx, record, output)
	o.recordScoringMetric("precision", precisionStart, err)
	if err != nil {
		return domain.ReplayScore{}, domain.OracleOutput{}, err
	}
	recallStart := nowUTC()
	recallScore, changesTotal, changesSurfaced, recallRaw, err := o.score.ScoreRecall(ctx, record, output)
	o.recordScoringMetric("recall", recallStart, err)
	if err != nil {
		return domain.ReplayScore{}, domain.OracleOutput{}, err
	}
	replyAccuracyStart := nowUTC()
	replyAccuracyScore, replyAccuracyRaw, err := o.score.ScoreReplyAccuracy(ctx, record, output)
	o.recordScoringMetric("reply_accuracy", replyAccuracyStart, err)
	if err != nil {
		return domain.ReplayScore{}, domain.OracleOutput{}, err
	}

	replayScore := domain.ReplayScore{
		GroundTruthID:   record.ID,
		Precision:       precisionScore,
		Recall:          recallScore,
		ReplyAccuracy:   replyAccuracyScore,
		ClaimsTotal:     claimsTotal,
		ClaimsSupported: claimsSupported,
		ChangesTotal:    changesTotal,
		ChangesSurfaced: changesSurfaced,
		ScoringModel:    o.cfg.Scoring.Model,
		ScoredAt:        nowUTC(),
		RawScoringOutput: map[string]any{
			"precision":      precisionRaw,
			"recall":         recallRaw,
			"reply_accuracy": replyAccuracyRaw,
		},
	}
	if err := replayScore.Validate(); err != nil {
		return domain.ReplayScore{}, domain.OracleOutput{}, err
	}

	return replayScore, output, nil
}

func (o *Orchestrator) repoDir() (string, error) {
	slug, err := ingest.ParseRepoSlug(o.cfg.Ingestion.RepoURL)
	if err != nil {
		return "", err
	}
	return o.store.RepoDir(slug)
}

func (o *Orchestrator) repoSlugOrConfigured(records []domain.GroundTruthRecord) string {
	if len(records) > 0 {
		return records[0].Repo
	}
	return o.cfg.Ingestion.RepoURL
}

// commitRange formats the "{first_id}..{last_id}" range from the input
// record order.
func commitRange(records []domain.GroundTruthRecord) string {
	if len(records) == 0 {
		return ""
	}
	return records[0].ID + ".." + records[len(records)-1].ID
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
