// Package metrics provides Prometheus metrics collection for the
// verification pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector the pipeline exposes.
type Metrics struct {
	IngestionRequestsTotal *prometheus.CounterVec
	IngestionPagesFetched  prometheus.Counter
	IngestionRecordsTotal  *prometheus.CounterVec

	OracleInvocationsTotal *prometheus.CounterVec
	OracleLatencySeconds   *prometheus.HistogramVec

	ScoringCallsTotal  *prometheus.CounterVec
	ScoringRetriesTotal *prometheus.CounterVec
	ScoringLatencySeconds *prometheus.HistogramVec

	ReplaysTotal       *prometheus.CounterVec
	CertificatesTotal  prometheus.Counter
	CompositeScore     *prometheus.GaugeVec

	APIRequestsTotal *prometheus.CounterVec
}

// New creates a Metrics instance registered against the default
// registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against a
// caller-supplied registerer, useful for isolated test registries.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		IngestionRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verify_ingestion_requests_total",
				Help: "Total number of GitHub REST requests issued by the ingester.",
			},
			[]string{"repo", "status"},
		),
		IngestionPagesFetched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "verify_ingestion_pages_fetched_total",
				Help: "Total number of paginated pull-request listing pages fetched.",
			},
		),
		IngestionRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verify_ingestion_records_total",
				Help: "Total number of ground-truth records ingested.",
			},
			[]string{"repo"},
		),

		OracleInvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verify_oracle_invocations_total",
				Help: "Total number of oracle invocations, partitioned by outcome.",
			},
			[]string{"oracle_type", "outcome"},
		),
		OracleLatencySeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "verify_oracle_latency_seconds",
				Help:    "Oracle invocation latency in seconds.",
				Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"oracle_type"},
		),

		ScoringCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verify_scoring_calls_total",
				Help: "Total number of scoring-model calls, partitioned by dimension and outcome.",
			},
			[]string{"dimension", "outcome"},
		),
		ScoringRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verify_scoring_retries_total",
				Help: "Total number of scoring-model retries, partitioned by reason.",
			},
			[]string{"reason"},
		),
		ScoringLatencySeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "verify_scoring_latency_seconds",
				Help:    "Scoring-model call latency in seconds.",
				Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 40},
			},
			[]string{"dimension"},
		),

		ReplaysTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verify_replays_total",
				Help: "Total number of replays, partitioned by outcome (scored, skipped).",
			},
			[]string{"repo", "outcome"},
		),
		CertificatesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "verify_certificates_total",
				Help: "Total number of calibration certificates generated.",
			},
		),
		CompositeScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "verify_certificate_composite_score",
				Help: "Composite score of the most recently generated certificate per construct.",
			},
			[]string{"construct_id"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verify_api_requests_total",
				Help: "Total number of inbound command-server requests, partitioned by route and status code.",
			},
			[]string{"route", "status"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.IngestionRequestsTotal,
			m.IngestionPagesFetched,
			m.IngestionRecordsTotal,
			m.OracleInvocationsTotal,
			m.OracleLatencySeconds,
			m.ScoringCallsTotal,
			m.ScoringRetriesTotal,
			m.ScoringLatencySeconds,
			m.ReplaysTotal,
			m.CertificatesTotal,
			m.CompositeScore,
			m.APIRequestsTotal,
		)
	}

	return m
}

// RecordOracleInvocation records one oracle call's outcome and latency.
func (m *Metrics) RecordOracleInvocation(oracleType, outcome string, latency time.Duration) {
	m.OracleInvocationsTotal.WithLabelValues(oracleType, outcome).Inc()
	m.OracleLatencySeconds.WithLabelValues(oracleType).Observe(latency.Seconds())
}

// RecordScoringCall records one scoring-model call's outcome and latency.
func (m *Metrics) RecordScoringCall(dimension, outcome string, latency time.Duration) {
	m.ScoringCallsTotal.WithLabelValues(dimension, outcome).Inc()
	m.ScoringLatencySeconds.WithLabelValues(dimension).Observe(latency.Seconds())
}

// RecordScoringRetry records a scoring retry, tagged by the reason
// (api_error or parse_error).
func (m *Metrics) RecordScoringRetry(reason string) {
	m.ScoringRetriesTotal.WithLabelValues(reason).Inc()
}

// RecordReplay records one replay's outcome (scored or skipped).
func (m *Metrics) RecordReplay(repo, outcome string) {
	m.ReplaysTotal.WithLabelValues(repo, outcome).Inc()
}

// RecordAPIRequest records one inbound command-server request.
func (m *Metrics) RecordAPIRequest(route, status string) {
	m.APIRequestsTotal.WithLabelValues(route, status).Inc()
}

// RecordCertificate records a newly generated certificate's composite
// score for its construct.
func (m *Metrics) RecordCertificate(constructID string, composite float64) {
	m.CertificatesTotal.Inc()
	m.CompositeScore.WithLabelValues(constructID).Set(composite)
}
