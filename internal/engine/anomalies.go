package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/engramdev/engram/internal/models"
	"github.com/engramdev/engram/internal/protect"
	"github.com/engramdev/engram/internal/routing"
)

// EvaluateRouting runs a confidence/occurrence pair through the safety gate.
// A BLOCKED verdict is itself evidence of corrupted trust, so it lands in
// the anomaly queue for review.
func (s *Service) EvaluateRouting(confidence float64, occurrences int) (routing.Decision, error) {
	d := routing.Evaluate(confidence, occurrences)
	s.metrics.RoutingDecision(string(d.Level))

	if d.Action == routing.ActionBlocked {
		a := &models.Anomaly{
			ID:       uuid.NewString(),
			Type:     models.AnomalyBlockedRouting,
			Severity: models.SeverityHigh,
			Description: fmt.Sprintf(
				"routing blocked: confidence %.2f with %d occurrence(s)", confidence, occurrences),
			Context:   fmt.Sprintf("confidence=%.2f occurrences=%d", confidence, occurrences),
			CreatedAt: time.Now().Unix(),
		}
		// The anomaly queue is append-only with no cross-row invariants, so
		// the insert bypasses the guard.
		if err := s.anomalies.Insert(s.db, a); err != nil {
			return d, err
		}
		s.metrics.AnomalyRaised(string(a.Type), string(a.Severity))
		s.logger.Warn("routing blocked", "confidence", confidence, "occurrences", occurrences)
	}
	return d, nil
}

// ListAnomalies returns queue entries, optionally filtered by status.
func (s *Service) ListAnomalies(status models.AnomalyStatus, limit int) ([]*models.Anomaly, error) {
	if status != "" && !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return s.anomalies.List(status, limit)
}

// ReviewAnomaly moves a pending anomaly to a terminal status. Transitions
// are one-way; reviewing an already-reviewed anomaly fails.
func (s *Service) ReviewAnomaly(id string, status models.AnomalyStatus, notes string) (*models.Anomaly, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("%w: review status must be resolved or dismissed, got %q", ErrInvalidInput, status)
	}
	existing, err := s.anomalies.GetByID(id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: anomaly %s", ErrNotFound, id)
	}
	if existing.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: anomaly %s is already %s", ErrAlreadyReviewed, id, existing.Status)
	}
	return s.anomalies.Review(id, status, notes)
}

// AnomalyStats summarizes the queue by type, severity and status.
func (s *Service) AnomalyStats() (*models.AnomalyStats, error) {
	return s.anomalies.Stats()
}

// Health reports store reachability and headline counts.
func (s *Service) Health() *models.HealthResponse {
	resp := &models.HealthResponse{Status: "ok", DB: models.ServiceCheck{Status: "ok"}}
	conversations, patterns, pending, err := s.db.Counts()
	if err != nil {
		resp.Status = "degraded"
		resp.DB = models.ServiceCheck{Status: "error", Message: err.Error()}
		return resp
	}
	resp.Conversations = conversations
	resp.Patterns = patterns
	resp.Anomalies = pending
	if s.tier1.Halted() || s.tier2.Halted() {
		resp.Status = "halted"
	}
	return resp
}

// GuardStatus is the operator view of one protection guard.
type GuardStatus struct {
	Store     string             `json:"store"`
	State     string             `json:"state"`
	Halted    bool               `json:"halted"`
	Snapshots []protect.Snapshot `json:"snapshots"`
}

// GuardStatuses reports both guards, Tier 1 first.
func (s *Service) GuardStatuses() []GuardStatus {
	out := make([]GuardStatus, 0, 2)
	for _, g := range []*protect.Guard{s.tier1, s.tier2} {
		out = append(out, GuardStatus{
			Store:     g.Name(),
			State:     g.State().String(),
			Halted:    g.Halted(),
			Snapshots: g.Snapshots(),
		})
	}
	return out
}

// ClearHalt re-enables writes on the named store after manual review.
func (s *Service) ClearHalt(storeName string) error {
	switch storeName {
	case "tier1":
		s.tier1.ClearHalt()
	case "tier2":
		s.tier2.ClearHalt()
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidInput, storeName)
	}
	return nil
}
