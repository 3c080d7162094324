package models

// Category classifies what kind of knowledge a pattern captures. The set is
// closed: unrecognized values are rejected at the API boundary, never deep
// inside store logic.
type Category string

const (
	CategoryWorkflow         Category = "workflow"
	CategoryCodePattern      Category = "code-pattern"
	CategoryUIPattern        Category = "ui-pattern"
	CategoryArchitectural    Category = "architectural"
	CategoryValidation       Category = "validation"
	CategoryIntent           Category = "intent"
	CategoryFileRelationship Category = "file-relationship"
)

var ValidCategories = map[Category]bool{
	CategoryWorkflow:         true,
	CategoryCodePattern:      true,
	CategoryUIPattern:        true,
	CategoryArchitectural:    true,
	CategoryValidation:       true,
	CategoryIntent:           true,
	CategoryFileRelationship: true,
}

func (c Category) IsValid() bool {
	return ValidCategories[c]
}

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// ConversationStatus tracks a conversation through its lifecycle.
type ConversationStatus string

const (
	StatusActive   ConversationStatus = "active"
	StatusComplete ConversationStatus = "complete"
	StatusArchived ConversationStatus = "archived"
)

func (s ConversationStatus) IsValid() bool {
	return s == StatusActive || s == StatusComplete || s == StatusArchived
}

// SearchOutcome records whether a pattern lookup found reusable knowledge.
type SearchOutcome string

const (
	OutcomeReuse  SearchOutcome = "REUSE"
	OutcomeCreate SearchOutcome = "CREATE"
)

// AnomalyType names the suspicious condition that produced an anomaly.
type AnomalyType string

const (
	AnomalyPerfectConfidence AnomalyType = "perfect-confidence-insufficient-evidence"
	AnomalyHighConfidence    AnomalyType = "high-confidence-low-occurrences"
	AnomalyBlockedRouting    AnomalyType = "routing-blocked-overconfident"
)

// AnomalySeverity ranks how urgently an anomaly needs review.
type AnomalySeverity string

const (
	SeverityLow    AnomalySeverity = "low"
	SeverityMedium AnomalySeverity = "medium"
	SeverityHigh   AnomalySeverity = "high"
)

func (s AnomalySeverity) IsValid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

// AnomalyStatus tracks an anomaly through review. Transitions are one-way:
// pending may move to resolved or dismissed, never back.
type AnomalyStatus string

const (
	AnomalyPending   AnomalyStatus = "pending"
	AnomalyResolved  AnomalyStatus = "resolved"
	AnomalyDismissed AnomalyStatus = "dismissed"
)

func (s AnomalyStatus) IsValid() bool {
	return s == AnomalyPending || s == AnomalyResolved || s == AnomalyDismissed
}

// IsTerminal reports whether a status permits no further transitions.
func (s AnomalyStatus) IsTerminal() bool {
	return s == AnomalyResolved || s == AnomalyDismissed
}
