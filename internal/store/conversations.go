package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/engramdev/engram/internal/models"
)

const conversationColumns = `id, topic, intent, status, queue_position, message_count, created_at, updated_at`

// ConversationStore handles Tier 1 conversation rows. Mutating methods take
// a Queryer so the protection layer can drive them inside its transaction.
type ConversationStore struct {
	db *DB
}

func NewConversationStore(db *DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// ActiveCount returns the number of conversations currently in the queue.
func (s *ConversationStore) ActiveCount(q Queryer) (int, error) {
	var n int
	err := q.QueryRow(`SELECT COUNT(*) FROM conversations WHERE status = 'active'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active conversations: %w", err)
	}
	return n, nil
}

// AtPosition returns the active conversation at the given queue position,
// or nil if the position is unoccupied.
func (s *ConversationStore) AtPosition(q Queryer, pos int) (*models.Conversation, error) {
	c, err := scanConversation(q.QueryRow(
		fmt.Sprintf(`SELECT %s FROM conversations WHERE status = 'active' AND queue_position = ?`, conversationColumns), pos))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// InsertAtFront shifts every active conversation one position back and
// inserts the new conversation at position 1. Capacity enforcement is the
// caller's job; this method only maintains the permutation.
func (s *ConversationStore) InsertAtFront(q Queryer, c *models.Conversation) error {
	// Negate-then-flip keeps the partial unique index on queue_position happy
	// while the whole active set shifts by one.
	if _, err := q.Exec(`UPDATE conversations SET queue_position = -(queue_position + 1) WHERE status = 'active'`); err != nil {
		return fmt.Errorf("shift queue positions: %w", err)
	}
	if _, err := q.Exec(`UPDATE conversations SET queue_position = -queue_position WHERE status = 'active' AND queue_position < 0`); err != nil {
		return fmt.Errorf("restore queue positions: %w", err)
	}

	pos := 1
	c.QueuePosition = &pos
	c.Status = models.StatusActive

	_, err := q.Exec(`
		INSERT INTO conversations (id, topic, intent, status, queue_position, message_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Topic, c.Intent, string(c.Status), pos, c.MessageCount, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// Retire removes a conversation from the active queue, setting the given
// terminal status and closing the position gap it leaves behind.
func (s *ConversationStore) Retire(q Queryer, id string, status models.ConversationStatus) error {
	var pos sql.NullInt64
	err := q.QueryRow(`SELECT queue_position FROM conversations WHERE id = ? AND status = 'active'`, id).Scan(&pos)
	if err == sql.ErrNoRows {
		return fmt.Errorf("active conversation not found: %s", id)
	}
	if err != nil {
		return fmt.Errorf("lookup queue position: %w", err)
	}

	now := time.Now().Unix()
	if _, err := q.Exec(`
		UPDATE conversations SET status = ?, queue_position = NULL, updated_at = ? WHERE id = ?
	`, string(status), now, id); err != nil {
		return fmt.Errorf("retire conversation: %w", err)
	}

	if pos.Valid {
		if _, err := q.Exec(`
			UPDATE conversations SET queue_position = -(queue_position - 1)
			WHERE status = 'active' AND queue_position > ?
		`, pos.Int64); err != nil {
			return fmt.Errorf("close queue gap: %w", err)
		}
		if _, err := q.Exec(`UPDATE conversations SET queue_position = -queue_position WHERE status = 'active' AND queue_position < 0`); err != nil {
			return fmt.Errorf("restore queue positions: %w", err)
		}
	}
	return nil
}

// GetByID fetches a single conversation by ID.
func (s *ConversationStore) GetByID(id string) (*models.Conversation, error) {
	c, err := scanConversation(s.db.QueryRow(
		fmt.Sprintf(`SELECT %s FROM conversations WHERE id = ?`, conversationColumns), id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// GetByIDTx is GetByID against an in-flight transaction.
func (s *ConversationStore) GetByIDTx(q Queryer, id string) (*models.Conversation, error) {
	c, err := scanConversation(q.QueryRow(
		fmt.Sprintf(`SELECT %s FROM conversations WHERE id = ?`, conversationColumns), id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// GetRecent returns the n most recently positioned active conversations,
// position 1 first.
func (s *ConversationStore) GetRecent(n int) ([]*models.Conversation, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT %s FROM conversations WHERE status = 'active' ORDER BY queue_position ASC LIMIT ?`, conversationColumns), n)
	if err != nil {
		return nil, fmt.Errorf("get recent conversations: %w", err)
	}
	defer rows.Close()
	return scanConversations(rows)
}

// BumpMessageCount increments message_count and refreshes updated_at.
func (s *ConversationStore) BumpMessageCount(q Queryer, id string) error {
	res, err := q.Exec(`
		UPDATE conversations SET message_count = message_count + 1, updated_at = ? WHERE id = ?
	`, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("bump message count: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("conversation not found: %s", id)
	}
	return nil
}

// Search performs token-based full-text lookup across conversation topics and
// message content, merging hits per conversation and ranking by best BM25
// score. Only committed rows are visible: FTS triggers fire inside the
// mutating transaction.
func (s *ConversationStore) Search(query string, limit int) ([]models.ConversationMatch, error) {
	match := FTSQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	// bm25() returns negative values where more negative = better match,
	// so we negate to get positive scores where higher = better.
	rows, err := s.db.Query(`
		SELECT c.id, MAX(score) AS best, MAX(snippet) FROM (
			SELECT cf.rowid AS rid, -rank AS score, '' AS snippet
			FROM conversations_fts cf
			WHERE conversations_fts MATCH ?
			UNION ALL
			SELECT m2.crowid AS rid, m2.score, m2.snippet FROM (
				SELECT c2.rowid AS crowid, -rank AS score, snippet(messages_fts, 0, '', '', '…', 12) AS snippet
				FROM messages_fts
				JOIN messages m ON m.rowid = messages_fts.rowid
				JOIN conversations c2 ON c2.id = m.conversation_id
				WHERE messages_fts MATCH ?
			) m2
		) hits
		JOIN conversations c ON c.rowid = hits.rid
		GROUP BY c.id
		ORDER BY best DESC
		LIMIT ?
	`, match, match, limit)
	if err != nil {
		return nil, fmt.Errorf("search conversations: %w", err)
	}
	defer rows.Close()

	var out []models.ConversationMatch
	for rows.Next() {
		var id, snippet string
		var rank float64
		if err := rows.Scan(&id, &rank, &snippet); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		c, err := s.GetByID(id)
		if err != nil {
			return nil, err
		}
		if c == nil {
			continue
		}
		out = append(out, models.ConversationMatch{Conversation: c, Snippet: snippet, Rank: rank})
	}
	return out, rows.Err()
}

// ValidateQueue checks the FIFO structural invariants: no more than maxActive
// conversations, and queue positions forming exactly {1..count}. Returns a
// descriptive error naming the violated invariant.
func (s *ConversationStore) ValidateQueue(q Queryer, maxActive int) error {
	rows, err := q.Query(`SELECT queue_position FROM conversations WHERE status = 'active' ORDER BY queue_position ASC`)
	if err != nil {
		return fmt.Errorf("read queue positions: %w", err)
	}
	defer rows.Close()

	var positions []int
	for rows.Next() {
		var p sql.NullInt64
		if err := rows.Scan(&p); err != nil {
			return fmt.Errorf("scan queue position: %w", err)
		}
		if !p.Valid {
			return fmt.Errorf("fifo-permutation: active conversation with NULL queue_position")
		}
		positions = append(positions, int(p.Int64))
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if len(positions) > maxActive {
		return fmt.Errorf("fifo-capacity: %d active conversations exceeds maximum %d", len(positions), maxActive)
	}
	for i, p := range positions {
		if p != i+1 {
			return fmt.Errorf("fifo-permutation: expected position %d, found %d", i+1, p)
		}
	}
	return nil
}

// ValidateMessageCounts cross-checks message_count against the actual number
// of stored messages for the given conversation.
func (s *ConversationStore) ValidateMessageCounts(q Queryer, conversationID string) error {
	var declared, actual int
	err := q.QueryRow(`SELECT message_count FROM conversations WHERE id = ?`, conversationID).Scan(&declared)
	if err != nil {
		return fmt.Errorf("read message_count: %w", err)
	}
	if err := q.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&actual); err != nil {
		return fmt.Errorf("count messages: %w", err)
	}
	if declared != actual {
		return fmt.Errorf("message-count: conversation %s declares %d messages, has %d", conversationID, declared, actual)
	}
	return nil
}

func scanConversation(row *sql.Row) (*models.Conversation, error) {
	var c models.Conversation
	var intent sql.NullString
	var pos sql.NullInt64
	err := row.Scan(&c.ID, &c.Topic, &intent, &c.Status, &pos, &c.MessageCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if intent.Valid {
		c.Intent = intent.String
	}
	if pos.Valid {
		p := int(pos.Int64)
		c.QueuePosition = &p
	}
	return &c, nil
}

func scanConversations(rows *sql.Rows) ([]*models.Conversation, error) {
	var out []*models.Conversation
	for rows.Next() {
		var c models.Conversation
		var intent sql.NullString
		var pos sql.NullInt64
		if err := rows.Scan(&c.ID, &c.Topic, &intent, &c.Status, &pos, &c.MessageCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if intent.Valid {
			c.Intent = intent.String
		}
		if pos.Valid {
			p := int(pos.Int64)
			c.QueuePosition = &p
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// FTSQuery turns free text into a safe FTS5 MATCH expression: bare tokens,
// each quoted, joined with implicit AND.
func FTSQuery(text string) string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(fields) == 0 {
		return ""
	}
	for i, f := range fields {
		fields[i] = `"` + f + `"`
	}
	return strings.Join(fields, " ")
}
