// Package certgen aggregates per-replay scores into the pipeline's
// final artifact: a CalibrationCertificate. The arithmetic here is a
// contract, not a heuristic — means, a weighted composite, and a
// derived Brier proxy, all rounded to six decimal places.
package certgen

import (
	"math"

	"github.com/google/uuid"

	"github.com/echelon-labs/verify/internal/app/apperr"
	"github.com/echelon-labs/verify/internal/app/domain"
	"github.com/echelon-labs/verify/pkg/config"
)

// Config carries the non-numeric inputs that ride along with the
// score aggregation into the certificate.
type Config struct {
	ConstructID        string
	GroundTruthSource  string
	CommitRange        string
	ScoringModel       string
	MethodologyVersion string
	CompositeWeights   config.CompositeWeights
}

// nowFunc is overridable in tests; production code leaves it as the
// real clock.
var nowFunc = timeNowUTC

// Generate aggregates scores into a certificate. An empty scores slice
// or an all-zero weight sum are both hard configuration errors.
func Generate(scores []domain.ReplayScore, cfg Config) (domain.CalibrationCertificate, error) {
	if len(scores) == 0 {
		return domain.CalibrationCertificate{}, apperr.Configuration("certgen: cannot generate a certificate from zero replay scores")
	}

	weightSum := cfg.CompositeWeights.Precision + cfg.CompositeWeights.Recall + cfg.CompositeWeights.ReplyAccuracy
	if weightSum == 0 {
		return domain.CalibrationCertificate{}, apperr.Configuration("certgen: composite weights sum to zero")
	}

	precisionMean := mean(scores, func(s domain.ReplayScore) float64 { return s.Precision })
	recallMean := mean(scores, func(s domain.ReplayScore) float64 { return s.Recall })
	replyAccuracyMean := mean(scores, func(s domain.ReplayScore) float64 { return s.ReplyAccuracy })

	composite := (cfg.CompositeWeights.Precision*precisionMean +
		cfg.CompositeWeights.Recall*recallMean +
		cfg.CompositeWeights.ReplyAccuracy*replyAccuracyMean) / weightSum

	brier := (1 - composite) * 0.5

	cert := domain.CalibrationCertificate{
		SchemaVersion:      domain.SchemaVersion,
		CertificateID:      uuid.NewString(),
		ConstructID:        cfg.ConstructID,
		Domain:             domain.DomainCommunityOracle,
		ReplayCount:        len(scores),
		Precision:          round6(precisionMean),
		Recall:             round6(recallMean),
		ReplyAccuracy:      round6(replyAccuracyMean),
		CompositeScore:     round6(composite),
		Brier:              round6(brier),
		SampleSize:         len(scores),
		Timestamp:          nowFunc(),
		GroundTruthSource:  cfg.GroundTruthSource,
		CommitRange:        cfg.CommitRange,
		MethodologyVersion: cfg.MethodologyVersion,
		ScoringModel:       cfg.ScoringModel,
		IndividualScores:   scores,
	}
	return cert, nil
}

func mean(scores []domain.ReplayScore, field func(domain.ReplayScore) float64) float64 {
	var sum float64
	for _, s := range scores {
		sum += field(s)
	}
	return sum / float64(len(scores))
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
