// Package reviewgate implements the Constraint Gate: the one-rule
// review-escalation policy consumed by an external reviewer. It has no
// state and no dependencies — the entire specification is one
// function.
package reviewgate

const (
	TierUnverified = "UNVERIFIED"
	TierBacktested = "BACKTESTED"
	TierProven     = "PROVEN"

	PreferenceSkip = "skip"
	PreferenceFull = "full"
)

// ResolveReviewPreference returns the effective review level for a
// construct of the given tier and declared preference: full whenever
// the tier is UNVERIFIED, regardless of preference; otherwise the
// declared preference is honored verbatim.
func ResolveReviewPreference(tier, declaredPreference string) string {
	if tier == TierUnverified {
		return PreferenceFull
	}
	return declaredPreference
}
