// Package confidence implements the deterministic scoring rules applied to
// every pattern observation. The gates trade a little learning speed for
// strong resistance to single-event false positives: one noisy observation
// must never look like established knowledge.
package confidence

import (
	"fmt"

	"github.com/engramdev/engram/internal/models"
)

const (
	// FirstObservationCeiling caps what a brand-new pattern may claim.
	FirstObservationCeiling = 0.50
	// OccurrenceGateMin is the observation count below which confidence
	// stays at or under the ceiling.
	OccurrenceGateMin = 3
	// MaxJump is the largest single-observation increase allowed before the
	// jump limiter engages.
	MaxJump = 0.30
	// JumpStep is the increase granted when the limiter engages.
	JumpStep = 0.15
	// PerfectionMinOccurrences is the evidence required before a confidence
	// of exactly 1.0 is permitted.
	PerfectionMinOccurrences = 10
	// PerfectionFallback is the ceiling applied when perfection is claimed
	// without enough evidence.
	PerfectionFallback = 0.85
	// SpikeThreshold marks a proposed confidence as a suspicious spike when
	// backed by a single occurrence.
	SpikeThreshold = 0.95
	// SpikeClamp is the confidence stored for a spiking single observation.
	SpikeClamp = 0.70
)

// Signal is an anomaly raised during scoring, to be appended to the review
// queue in the same transaction as the score it concerns.
type Signal struct {
	Type        models.AnomalyType
	Severity    models.AnomalySeverity
	Description string
}

// Result is the outcome of one scoring pass.
type Result struct {
	Confidence float64
	Signals    []Signal
}

// ScoreFirst computes the stored confidence for a pattern's first
// observation. First-time evidence is never trusted above a moderate
// ceiling, however confident the caller claims to be; a claim above the
// spike threshold additionally raises a high-severity anomaly.
func ScoreFirst(name string, hint float64) Result {
	r := Result{Confidence: min(clamp01(hint), FirstObservationCeiling)}
	if hint > SpikeThreshold {
		r.Signals = append(r.Signals, Signal{
			Type:     models.AnomalyHighConfidence,
			Severity: models.SeverityHigh,
			Description: fmt.Sprintf(
				"pattern %q claimed confidence %.2f on first observation; stored %.2f",
				name, hint, r.Confidence),
		})
	}
	return r
}

// ScoreRepeat computes the stored confidence for a subsequent observation.
// occurrences is the count after the new observation has been tallied. The
// gates apply in a fixed order; each may clamp the proposal and some raise
// anomalies.
func ScoreRepeat(name string, prior, proposed float64, occurrences int) Result {
	var r Result
	c := clamp01(proposed)

	// Single-evidence spike gate. Checked against the pre-clamp proposal so
	// a suspicious claim is flagged even when a later gate would have hidden
	// it inside an ordinary-looking score.
	if proposed > SpikeThreshold && occurrences == 1 {
		r.Signals = append(r.Signals, Signal{
			Type:     models.AnomalyHighConfidence,
			Severity: models.SeverityHigh,
			Description: fmt.Sprintf(
				"pattern %q proposed confidence %.2f with a single occurrence; clamped to %.2f",
				name, proposed, SpikeClamp),
		})
		r.Confidence = SpikeClamp
		return r
	}

	// Occurrence gate.
	if occurrences < OccurrenceGateMin && c > FirstObservationCeiling {
		c = FirstObservationCeiling
	}

	// Jump limiter.
	if c-prior > MaxJump {
		c = prior + JumpStep
	}

	// Perfection gate.
	if c == 1.0 && occurrences < PerfectionMinOccurrences {
		r.Signals = append(r.Signals, Signal{
			Type:     models.AnomalyPerfectConfidence,
			Severity: models.SeverityMedium,
			Description: fmt.Sprintf(
				"pattern %q reached confidence 1.0 with only %d occurrences; clamped to %.2f",
				name, occurrences, PerfectionFallback),
		})
		c = PerfectionFallback
	}

	r.Confidence = clamp01(c)
	return r
}

// Propose derives the success-driven confidence proposal used when an
// outcome is recorded: the observed success rate, floored at the prior so a
// single failure cannot erase accumulated trust faster than decay would.
func Propose(prior float64, successes, failures int) float64 {
	total := successes + failures
	if total == 0 {
		return prior
	}
	rate := float64(successes) / float64(total)
	if rate < prior {
		// Step down gradually rather than snapping to the raw rate.
		return max(0, prior-JumpStep)
	}
	return rate
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
