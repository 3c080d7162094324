package models

// AddConversationRequest is the payload for POST /conversations.
type AddConversationRequest struct {
	Topic  string `json:"topic"`
	Intent string `json:"intent"`
}

// AppendMessageRequest is the payload for POST /conversations/{id}/messages.
type AppendMessageRequest struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	ReplyTo string `json:"replyTo,omitempty"`
}

// ObservePatternRequest is the payload for POST /patterns/observe.
// Confidence is the caller's raw hint; the confidence engine decides what is
// actually stored.
type ObservePatternRequest struct {
	Name       string   `json:"name"`
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
	Tags       []string `json:"tags,omitempty"`
}

// RecordOutcomeRequest is the payload for POST /patterns/{id}/outcome.
type RecordOutcomeRequest struct {
	Success bool `json:"success"`
}

// DecayRequest is the payload for POST /patterns/decay. A zero ThresholdDays
// falls back to the configured default.
type DecayRequest struct {
	ThresholdDays int `json:"thresholdDays"`
}

// DecayResponse is returned from POST /patterns/decay.
type DecayResponse struct {
	Decayed int `json:"decayed"`
}

// ObserveRelationshipRequest is the payload for POST /relationships/observe.
type ObserveRelationshipRequest struct {
	FileA string `json:"fileA"`
	FileB string `json:"fileB"`
}

// ObserveIntentRequest is the payload for POST /intents/observe.
type ObserveIntentRequest struct {
	Phrase     string  `json:"phrase"`
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// RecordCorrectionRequest is the payload for POST /corrections.
type RecordCorrectionRequest struct {
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
	Context   string `json:"context,omitempty"`
}

// EvaluateRoutingRequest is the payload for POST /routing/evaluate.
type EvaluateRoutingRequest struct {
	Confidence  float64 `json:"confidence"`
	Occurrences int     `json:"occurrences"`
}

// ReviewAnomalyRequest is the payload for POST /anomalies/{id}/review.
type ReviewAnomalyRequest struct {
	Status AnomalyStatus `json:"status"`
	Notes  string        `json:"notes,omitempty"`
}

// SearchPatternsResponse is returned from GET /patterns/search.
type SearchPatternsResponse struct {
	Results []PatternMatch `json:"results"`
	Outcome SearchOutcome  `json:"outcome"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status        string       `json:"status"`
	DB            ServiceCheck `json:"db"`
	Conversations int          `json:"conversations"`
	Patterns      int          `json:"patterns"`
	Anomalies     int          `json:"anomalies"`
}

type ServiceCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
