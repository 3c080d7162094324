package models

// Conversation is a short-term (Tier 1) memory unit. Active conversations
// form a bounded FIFO queue: queue_position is a permutation of 1..count,
// position 1 being the most recent.
type Conversation struct {
	ID            string             `json:"id"`
	Topic         string             `json:"topic"`
	Intent        string             `json:"intent,omitempty"`
	Status        ConversationStatus `json:"status"`
	QueuePosition *int               `json:"queuePosition,omitempty"`
	MessageCount  int                `json:"messageCount"`
	CreatedAt     int64              `json:"createdAt"`
	UpdatedAt     int64              `json:"updatedAt"`
}

// Message belongs to exactly one conversation. Sequence numbers per
// conversation are contiguous starting at 1.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	Sequence       int    `json:"sequence"`
	Role           Role   `json:"role"`
	Content        string `json:"content"`
	ReplyTo        string `json:"replyTo,omitempty"`
	CreatedAt      int64  `json:"createdAt"`
}

// ConversationMatch is a ranked full-text search hit across conversation
// topics and message content.
type ConversationMatch struct {
	Conversation *Conversation `json:"conversation"`
	Snippet      string        `json:"snippet,omitempty"`
	Rank         float64       `json:"rank"`
}
