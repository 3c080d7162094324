package models

// Anomaly is a suspicious confidence/occurrence combination flagged for
// manual review. Only the confidence engine and the routing safety gate
// create anomalies; the core never resolves them on its own.
type Anomaly struct {
	ID          string          `json:"id"`
	Type        AnomalyType     `json:"type"`
	Severity    AnomalySeverity `json:"severity"`
	Description string          `json:"description"`
	Context     string          `json:"context,omitempty"`
	Status      AnomalyStatus   `json:"status"`
	ReviewNotes string          `json:"reviewNotes,omitempty"`
	CreatedAt   int64           `json:"createdAt"`
	ReviewedAt  *int64          `json:"reviewedAt,omitempty"`
}

// AnomalyStats summarizes the queue for periodic operational review.
type AnomalyStats struct {
	Total      int            `json:"total"`
	ByType     map[string]int `json:"byType"`
	BySeverity map[string]int `json:"bySeverity"`
	ByStatus   map[string]int `json:"byStatus"`
}
