package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewWithRegistryRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.RecordOracleInvocation("http", "success", 250*time.Millisecond)
	m.RecordScoringCall("precision", "success", 1200*time.Millisecond)
	m.RecordScoringRetry("parse_error")
	m.RecordReplay("octocat/hello-world", "scored")
	m.RecordCertificate("unnamed-oracle", 0.87)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("expected registered metric families, got none")
	}

	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	for _, name := range []string{
		"verify_oracle_invocations_total",
		"verify_scoring_calls_total",
		"verify_scoring_retries_total",
		"verify_replays_total",
		"verify_certificates_total",
		"verify_certificate_composite_score",
	} {
		if !found[name] {
			t.Fatalf("expected metric family %q to be registered", name)
		}
	}
}

func TestRecordCertificateSetsGaugeValue(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)
	m.RecordCertificate("unnamed-oracle", 0.91)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var gauge *dto.Metric
	for _, mf := range families {
		if mf.GetName() == "verify_certificate_composite_score" {
			gauge = mf.GetMetric()[0]
		}
	}
	if gauge == nil {
		t.Fatalf("composite score gauge not found")
	}
	if gauge.GetGauge().GetValue() != 0.91 {
		t.Fatalf("expected gauge value 0.91, got %v", gauge.GetGauge().GetValue())
	}
}

func TestNewRegistersAgainstDefaultRegisterer(t *testing.T) {
	// A second call to New() in the same process would double-register
	// against the default registerer and panic; NewWithRegistry against
	// an isolated registry is what every other test in this package uses.
	// This test only exercises the nil-registerer no-op path.
	m := NewWithRegistry(nil)
	m.RecordReplay("octocat/hello-world", "skipped")
}
