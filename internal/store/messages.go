package store

import (
	"database/sql"
	"fmt"

	"github.com/engramdev/engram/internal/models"
)

const messageColumns = `id, conversation_id, sequence, role, content, reply_to, created_at`

// MessageStore handles message rows. A conversation exclusively owns its
// messages; sequence numbers per conversation are contiguous starting at 1.
type MessageStore struct {
	db *DB
}

func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db}
}

// NextSequence returns the next contiguous sequence number for a conversation.
func (s *MessageStore) NextSequence(q Queryer, conversationID string) (int, error) {
	var next int
	err := q.QueryRow(`SELECT COALESCE(MAX(sequence), 0) + 1 FROM messages WHERE conversation_id = ?`, conversationID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return next, nil
}

// Insert stores a new message. The caller must have assigned ID and Sequence.
func (s *MessageStore) Insert(q Queryer, m *models.Message) error {
	var replyTo any
	if m.ReplyTo != "" {
		replyTo = m.ReplyTo
	}
	_, err := q.Exec(`
		INSERT INTO messages (id, conversation_id, sequence, role, content, reply_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.ConversationID, m.Sequence, string(m.Role), m.Content, replyTo, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// Exists reports whether a message id exists within the given conversation.
func (s *MessageStore) Exists(q Queryer, conversationID, messageID string) (bool, error) {
	var n int
	err := q.QueryRow(`SELECT COUNT(*) FROM messages WHERE id = ? AND conversation_id = ?`, messageID, conversationID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check message exists: %w", err)
	}
	return n > 0, nil
}

// ListByConversation returns all messages for a conversation in sequence order.
func (s *MessageStore) ListByConversation(q Queryer, conversationID string) ([]*models.Message, error) {
	rows, err := q.Query(
		fmt.Sprintf(`SELECT %s FROM messages WHERE conversation_id = ? ORDER BY sequence ASC`, messageColumns), conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var m models.Message
		var replyTo sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Sequence, &m.Role, &m.Content, &replyTo, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if replyTo.Valid {
			m.ReplyTo = replyTo.String
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// ValidateSequence checks that a conversation's sequence numbers form a
// gap-free ascending run starting at 1.
func (s *MessageStore) ValidateSequence(q Queryer, conversationID string) error {
	rows, err := q.Query(`SELECT sequence FROM messages WHERE conversation_id = ? ORDER BY sequence ASC`, conversationID)
	if err != nil {
		return fmt.Errorf("read sequences: %w", err)
	}
	defer rows.Close()

	want := 1
	for rows.Next() {
		var got int
		if err := rows.Scan(&got); err != nil {
			return fmt.Errorf("scan sequence: %w", err)
		}
		if got != want {
			return fmt.Errorf("sequence-contiguity: conversation %s expected sequence %d, found %d", conversationID, want, got)
		}
		want++
	}
	return rows.Err()
}
