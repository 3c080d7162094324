package models

// Pattern is a long-term (Tier 2) unit of reusable knowledge. Confidence is
// always within [0, 1] and is bounded by occurrence-based gating; a single
// observation can never masquerade as established knowledge.
type Pattern struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Category     Category `json:"category"`
	Confidence   float64  `json:"confidence"`
	UsageCount   int      `json:"usageCount"`
	SuccessCount int      `json:"successCount"`
	FailureCount int      `json:"failureCount"`
	Tags         []string `json:"tags,omitempty"`
	RelatedIDs   []string `json:"relatedIds,omitempty"`
	CreatedAt    int64    `json:"createdAt"`
	LastUsedAt   int64    `json:"lastUsedAt"`
}

// FileRelationship tracks files that tend to change together. The
// co-modification count feeds the same confidence gates as pattern
// occurrences.
type FileRelationship struct {
	ID         string  `json:"id"`
	FileA      string  `json:"fileA"`
	FileB      string  `json:"fileB"`
	CoCount    int     `json:"coCount"`
	Confidence float64 `json:"confidence"`
	CreatedAt  int64   `json:"createdAt"`
	UpdatedAt  int64   `json:"updatedAt"`
}

// IntentPattern maps a recurring user phrasing to a resolved intent.
type IntentPattern struct {
	ID         string  `json:"id"`
	Phrase     string  `json:"phrase"`
	Intent     string  `json:"intent"`
	UsageCount int     `json:"usageCount"`
	Confidence float64 `json:"confidence"`
	CreatedAt  int64   `json:"createdAt"`
	LastUsedAt int64   `json:"lastUsedAt"`
}

// Correction records a user fixing an assistant output; repeated identical
// corrections accumulate occurrence-gated confidence.
type Correction struct {
	ID          string  `json:"id"`
	Original    string  `json:"original"`
	Corrected   string  `json:"corrected"`
	Context     string  `json:"context,omitempty"`
	Occurrences int     `json:"occurrences"`
	Confidence  float64 `json:"confidence"`
	CreatedAt   int64   `json:"createdAt"`
	UpdatedAt   int64   `json:"updatedAt"`
}

// PatternSearch is one immutable entry in the append-only lookup log.
type PatternSearch struct {
	ID         int64         `json:"id"`
	Query      string        `json:"query"`
	PatternID  string        `json:"patternId,omitempty"`
	Outcome    SearchOutcome `json:"outcome"`
	Confidence float64       `json:"confidence"`
	CreatedAt  int64         `json:"createdAt"`
}

// PatternMatch is a ranked full-text search hit over pattern names and tags.
type PatternMatch struct {
	Pattern *Pattern `json:"pattern"`
	Rank    float64  `json:"rank"`
}

// PatternStats summarizes the learned pattern base for operational review.
type PatternStats struct {
	Total         int            `json:"total"`
	ByCategory    map[string]int `json:"byCategory"`
	AvgConfidence float64        `json:"avgConfidence"`
	TotalUsage    int            `json:"totalUsage"`
	SearchReuses  int            `json:"searchReuses"`
	SearchCreates int            `json:"searchCreates"`
}
