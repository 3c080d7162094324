// Package routing classifies pattern matches into safety levels before any
// automated action is taken on them.
package routing

import "fmt"

// SafetyLevel grades how much trust a pattern match has earned.
type SafetyLevel string

const (
	SafetyHigh    SafetyLevel = "HIGH"
	SafetyMedium  SafetyLevel = "MEDIUM"
	SafetyLow     SafetyLevel = "LOW"
	SafetyAnomaly SafetyLevel = "ANOMALY"
)

// Action is the routing behavior a safety level permits.
type Action string

const (
	ActionAutoRoute Action = "AUTO_ROUTE"
	ActionConfirm   Action = "CONFIRM"
	ActionFallback  Action = "FALLBACK"
	ActionBlocked   Action = "BLOCKED"
)

// Decision is the gate's verdict for one pattern match.
type Decision struct {
	Level      SafetyLevel `json:"safety_level"`
	Action     Action      `json:"action"`
	Confidence float64     `json:"confidence"`
	Occurrence int         `json:"occurrence_count"`
	Reason     string      `json:"reason"`
}

const (
	autoRouteMin   = 0.85
	confirmMin     = 0.70
	minOccurrences = 3
	anomalyConf    = 0.95
)

// Evaluate grades a match by its stored confidence and occurrence count.
// The anomaly check runs first: a row claiming near-certainty on a single
// observation is blocked outright regardless of the confidence bands.
func Evaluate(confidence float64, occurrences int) Decision {
	d := Decision{Confidence: confidence, Occurrence: occurrences}

	switch {
	case confidence > anomalyConf && occurrences == 1:
		d.Level = SafetyAnomaly
		d.Action = ActionBlocked
		d.Reason = fmt.Sprintf("confidence %.2f on a single occurrence is untrustworthy", confidence)
	case confidence >= autoRouteMin && occurrences >= minOccurrences:
		d.Level = SafetyHigh
		d.Action = ActionAutoRoute
		d.Reason = "established pattern with strong evidence"
	case confidence >= confirmMin && occurrences >= minOccurrences:
		d.Level = SafetyMedium
		d.Action = ActionConfirm
		d.Reason = "moderate confidence, confirmation required"
	default:
		d.Level = SafetyLow
		d.Action = ActionFallback
		d.Reason = "insufficient confidence or evidence for routing"
	}
	return d
}
