// Package engine wires the tiered stores, the confidence engine, the
// protection guards and the routing gate into one service facade. All writes
// go through a per-tier guard; reads hit committed state directly.
package engine

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/engramdev/engram/internal/confidence"
	"github.com/engramdev/engram/internal/metrics"
	"github.com/engramdev/engram/internal/models"
	"github.com/engramdev/engram/internal/protect"
	"github.com/engramdev/engram/internal/store"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned for payloads that fail domain validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConversationInactive is returned when appending to a conversation
	// that has left the active queue.
	ErrConversationInactive = errors.New("conversation is not active")
	// ErrAlreadyReviewed is returned when reviewing an anomaly that has
	// already reached a terminal status. Transitions are one-way.
	ErrAlreadyReviewed = errors.New("anomaly already reviewed")
)

// ExtractedPattern is knowledge distilled from an evicted conversation. The
// eviction callback may return one to promote it into Tier 2.
type ExtractedPattern struct {
	Name       string
	Category   models.Category
	Confidence float64
	Tags       []string
}

// EvictFunc is invoked with a conversation about to leave the active queue
// and its full message history. A nil return means nothing worth keeping.
type EvictFunc func(c *models.Conversation, msgs []*models.Message) *ExtractedPattern

// Options configures a Service.
type Options struct {
	MaxActiveConversations int
	SnapshotRetention      int
	Decay                  confidence.DecayFunc
	DecayThresholdDays     int
	OnEvict                EvictFunc
	Metrics                *metrics.Metrics
	Logger                 *slog.Logger
}

// Service is the memory engine facade the HTTP layer talks to.
type Service struct {
	db            *store.DB
	conversations *store.ConversationStore
	messages      *store.MessageStore
	patterns      *store.PatternStore
	relationships *store.FileRelationshipStore
	intents       *store.IntentPatternStore
	corrections   *store.CorrectionStore
	anomalies     *store.AnomalyStore

	tier1 *protect.Guard
	tier2 *protect.Guard

	maxActive int
	decay     confidence.DecayFunc
	decayDays int
	onEvict   EvictFunc
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New builds a Service over an open database.
func New(db *store.DB, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxActiveConversations <= 0 {
		opts.MaxActiveConversations = 20
	}
	if opts.SnapshotRetention <= 0 {
		opts.SnapshotRetention = 10
	}
	if opts.Decay == nil {
		opts.Decay = confidence.LinearDecay(0.01)
	}
	if opts.DecayThresholdDays <= 0 {
		opts.DecayThresholdDays = 30
	}

	s := &Service{
		db:            db,
		conversations: store.NewConversationStore(db),
		messages:      store.NewMessageStore(db),
		patterns:      store.NewPatternStore(db),
		relationships: store.NewFileRelationshipStore(db),
		intents:       store.NewIntentPatternStore(db),
		corrections:   store.NewCorrectionStore(db),
		anomalies:     store.NewAnomalyStore(db),
		maxActive:     opts.MaxActiveConversations,
		decay:         opts.Decay,
		decayDays:     opts.DecayThresholdDays,
		onEvict:       opts.OnEvict,
		metrics:       opts.Metrics,
		logger:        logger,
	}

	s.tier1 = protect.NewGuard("tier1", db.DB, func() ([]byte, error) {
		return db.DumpTables(store.Tier1Tables...)
	}, opts.SnapshotRetention, logger)
	s.tier2 = protect.NewGuard("tier2", db.DB, func() ([]byte, error) {
		return db.DumpTables(store.Tier2Tables...)
	}, opts.SnapshotRetention, logger)

	s.tier1.SetObserver(s.observeMutation)
	s.tier2.SetObserver(s.observeMutation)
	return s
}

func (s *Service) observeMutation(op string, outcome protect.Outcome, d time.Duration) {
	s.metrics.Mutation(op, string(outcome), d)
	if outcome == protect.OutcomeFatal {
		s.metrics.WriteHalt()
	}
}

// AddConversation pushes a new conversation onto the front of the active
// queue. When the queue is full the oldest conversation is evicted first: the
// eviction callback runs on its committed state, the queue mutation commits,
// and any extracted pattern is then promoted into Tier 2.
func (s *Service) AddConversation(req models.AddConversationRequest) (*models.Conversation, *models.Conversation, error) {
	if req.Topic == "" {
		return nil, nil, fmt.Errorf("%w: topic is required", ErrInvalidInput)
	}

	now := time.Now().Unix()
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		Topic:     req.Topic,
		Intent:    req.Intent,
		Status:    models.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Capacity check and victim selection run inside the guarded
	// transaction, atomic with the retire+insert. Reads before the first
	// write see committed state, which is what the eviction callback gets.
	var victim *models.Conversation
	var extracted *ExtractedPattern
	err := s.tier1.Mutate("conversation.add", func(tx *sql.Tx) error {
		count, err := s.conversations.ActiveCount(tx)
		if err != nil {
			return err
		}
		if count >= s.maxActive {
			victim, err = s.conversations.AtPosition(tx, s.maxActive)
			if err != nil {
				return err
			}
			if victim == nil {
				return fmt.Errorf("queue full but no conversation at position %d", s.maxActive)
			}
			if s.onEvict != nil {
				msgs, err := s.messages.ListByConversation(tx, victim.ID)
				if err != nil {
					return err
				}
				extracted = s.onEvict(victim, msgs)
			}
			if err := s.conversations.Retire(tx, victim.ID, models.StatusArchived); err != nil {
				return err
			}
		}
		return s.conversations.InsertAtFront(tx, conv)
	}, func(tx *sql.Tx) error {
		return s.conversations.ValidateQueue(tx, s.maxActive)
	})
	if err != nil {
		return nil, nil, err
	}

	if victim != nil {
		s.metrics.Eviction()
		s.logger.Info("conversation evicted", "id", victim.ID, "topic", victim.Topic)
	}

	// Pattern promotion happens after the queue commit; a Tier 2 failure
	// must not undo a successful Tier 1 mutation.
	if extracted != nil {
		if _, err := s.ObservePattern(models.ObservePatternRequest{
			Name:       extracted.Name,
			Category:   extracted.Category,
			Confidence: extracted.Confidence,
			Tags:       extracted.Tags,
		}); err != nil {
			s.logger.Error("promoting extracted pattern failed", "name", extracted.Name, "error", err)
		}
	}
	return conv, victim, nil
}

// AppendMessage adds a message to an active conversation, assigning the next
// contiguous sequence number.
func (s *Service) AppendMessage(conversationID string, req models.AppendMessageRequest) (*models.Message, error) {
	if !req.Role.IsValid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, req.Role)
	}
	if req.Content == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}

	conv, err := s.conversations.GetByID(conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
	}
	if conv.Status != models.StatusActive {
		return nil, ErrConversationInactive
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           req.Role,
		Content:        req.Content,
		ReplyTo:        req.ReplyTo,
		CreatedAt:      time.Now().Unix(),
	}

	err = s.tier1.Mutate("message.append", func(tx *sql.Tx) error {
		seq, err := s.messages.NextSequence(tx, conversationID)
		if err != nil {
			return err
		}
		cur, err := s.conversations.GetByIDTx(tx, conversationID)
		if err != nil {
			return err
		}
		if cur == nil {
			return fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
		}
		if seq != cur.MessageCount+1 {
			return &protect.SequenceGapError{ConversationID: conversationID, Expected: cur.MessageCount + 1, Got: seq}
		}
		if req.ReplyTo != "" {
			ok, err := s.messages.Exists(tx, conversationID, req.ReplyTo)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: replyTo message %s", ErrNotFound, req.ReplyTo)
			}
		}
		msg.Sequence = seq
		if err := s.messages.Insert(tx, msg); err != nil {
			return err
		}
		return s.conversations.BumpMessageCount(tx, conversationID)
	}, func(tx *sql.Tx) error {
		return s.messages.ValidateSequence(tx, conversationID)
	}, func(tx *sql.Tx) error {
		return s.conversations.ValidateMessageCounts(tx, conversationID)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// CompleteConversation marks a conversation complete and removes it from the
// active queue. Its history stays searchable.
func (s *Service) CompleteConversation(id string) (*models.Conversation, error) {
	conv, err := s.conversations.GetByID(id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, id)
	}
	if conv.Status != models.StatusActive {
		return nil, ErrConversationInactive
	}

	err = s.tier1.Mutate("conversation.complete", func(tx *sql.Tx) error {
		return s.conversations.Retire(tx, id, models.StatusComplete)
	}, func(tx *sql.Tx) error {
		return s.conversations.ValidateQueue(tx, s.maxActive)
	})
	if err != nil {
		return nil, err
	}
	return s.conversations.GetByID(id)
}

// GetConversation returns a conversation with its full message history.
func (s *Service) GetConversation(id string) (*models.Conversation, []*models.Message, error) {
	conv, err := s.conversations.GetByID(id)
	if err != nil {
		return nil, nil, err
	}
	if conv == nil {
		return nil, nil, fmt.Errorf("%w: conversation %s", ErrNotFound, id)
	}
	msgs, err := s.messages.ListByConversation(s.db, id)
	if err != nil {
		return nil, nil, err
	}
	return conv, msgs, nil
}

// RecentConversations lists active conversations, most recent first.
func (s *Service) RecentConversations(n int) ([]*models.Conversation, error) {
	return s.conversations.GetRecent(n)
}

// SearchConversations runs full-text lookup over topics and message content.
func (s *Service) SearchConversations(query string, limit int) ([]models.ConversationMatch, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	start := time.Now()
	matches, err := s.conversations.Search(query, limit)
	s.metrics.Search("conversations", time.Since(start))
	return matches, err
}
