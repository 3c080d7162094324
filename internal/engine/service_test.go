package engine

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdev/engram/internal/confidence"
	"github.com/engramdev/engram/internal/models"
	"github.com/engramdev/engram/internal/routing"
	"github.com/engramdev/engram/internal/store"
)

func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return New(db, opts)
}

func addConversations(t *testing.T, s *Service, n int) []*models.Conversation {
	t.Helper()
	out := make([]*models.Conversation, 0, n)
	for i := 1; i <= n; i++ {
		c, _, err := s.AddConversation(models.AddConversationRequest{
			Topic: fmt.Sprintf("topic number %d", i),
		})
		require.NoError(t, err)
		out = append(out, c)
	}
	return out
}

func TestAddConversationQueue(t *testing.T) {
	s := newTestService(t, Options{MaxActiveConversations: 3})

	convs := addConversations(t, s, 3)

	recent, err := s.RecentConversations(10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, convs[2].ID, recent[0].ID, "newest at position 1")
	assert.Equal(t, convs[0].ID, recent[2].ID)
}

func TestAddConversationEvictsOldest(t *testing.T) {
	var evictedID string
	s := newTestService(t, Options{
		MaxActiveConversations: 3,
		OnEvict: func(c *models.Conversation, msgs []*models.Message) *ExtractedPattern {
			evictedID = c.ID
			return nil
		},
	})

	convs := addConversations(t, s, 3)

	c4, evicted, err := s.AddConversation(models.AddConversationRequest{Topic: "fourth topic"})
	require.NoError(t, err)
	require.NotNil(t, evicted)
	assert.Equal(t, convs[0].ID, evicted.ID, "oldest conversation leaves")
	assert.Equal(t, convs[0].ID, evictedID, "callback saw the victim")

	recent, err := s.RecentConversations(10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, c4.ID, recent[0].ID)

	// Evicted conversation is archived, not deleted; history stays searchable.
	old, _, err := s.GetConversation(convs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusArchived, old.Status)
	assert.Nil(t, old.QueuePosition)

	matches, err := s.SearchConversations("topic", 10)
	require.NoError(t, err)
	assert.Len(t, matches, 4)
}

func TestConcurrentAddsEvictInsteadOfRejecting(t *testing.T) {
	var mu sync.Mutex
	evicted := 0
	s := newTestService(t, Options{
		MaxActiveConversations: 3,
		OnEvict: func(c *models.Conversation, msgs []*models.Message) *ExtractedPattern {
			mu.Lock()
			evicted++
			mu.Unlock()
			return nil
		},
	})

	const adders = 6
	var wg sync.WaitGroup
	errs := make(chan error, adders)
	for i := 0; i < adders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := s.AddConversation(models.AddConversationRequest{
				Topic: fmt.Sprintf("concurrent topic %d", i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err, "a full queue evicts, it never rejects")
	}

	recent, err := s.RecentConversations(10)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
	mu.Lock()
	assert.Equal(t, adders-3, evicted)
	mu.Unlock()
}

func TestEvictionPromotesExtractedPattern(t *testing.T) {
	s := newTestService(t, Options{
		MaxActiveConversations: 1,
		OnEvict: func(c *models.Conversation, msgs []*models.Message) *ExtractedPattern {
			return &ExtractedPattern{
				Name:     "deploy-then-verify",
				Category: models.CategoryWorkflow,
				// A hopeful callback; the gates decide what is stored.
				Confidence: 0.9,
			}
		},
	})

	addConversations(t, s, 2)

	resp, err := s.SearchPatterns("deploy", 0, 10)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	p := resp.Results[0].Pattern
	assert.Equal(t, "deploy-then-verify", p.Name)
	assert.Equal(t, 1, p.UsageCount)
	assert.LessOrEqual(t, p.Confidence, confidence.FirstObservationCeiling)
}

func TestAppendMessageSequencing(t *testing.T) {
	s := newTestService(t, Options{})
	convs := addConversations(t, s, 1)

	for i := 1; i <= 5; i++ {
		m, err := s.AppendMessage(convs[0].ID, models.AppendMessageRequest{
			Role: models.RoleUser, Content: fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
		assert.Equal(t, i, m.Sequence)
	}

	conv, msgs, err := s.GetConversation(convs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 5, conv.MessageCount)
	require.Len(t, msgs, 5)

	t.Run("invalid payloads leave state untouched", func(t *testing.T) {
		_, err := s.AppendMessage(convs[0].ID, models.AppendMessageRequest{Role: "gremlin", Content: "x"})
		assert.ErrorIs(t, err, ErrInvalidInput)

		_, err = s.AppendMessage(convs[0].ID, models.AppendMessageRequest{Role: models.RoleUser})
		assert.ErrorIs(t, err, ErrInvalidInput)

		conv, _, err := s.GetConversation(convs[0].ID)
		require.NoError(t, err)
		assert.Equal(t, 5, conv.MessageCount)
	})

	t.Run("replyTo must exist in the conversation", func(t *testing.T) {
		_, err := s.AppendMessage(convs[0].ID, models.AppendMessageRequest{
			Role: models.RoleAssistant, Content: "reply", ReplyTo: "no-such-message",
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAppendToInactiveConversation(t *testing.T) {
	s := newTestService(t, Options{})
	convs := addConversations(t, s, 1)

	_, err := s.CompleteConversation(convs[0].ID)
	require.NoError(t, err)

	_, err = s.AppendMessage(convs[0].ID, models.AppendMessageRequest{
		Role: models.RoleUser, Content: "too late",
	})
	assert.ErrorIs(t, err, ErrConversationInactive)
}

func TestCompleteConversation(t *testing.T) {
	s := newTestService(t, Options{})
	convs := addConversations(t, s, 2)

	done, err := s.CompleteConversation(convs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, done.Status)
	assert.Nil(t, done.QueuePosition)

	recent, err := s.RecentConversations(10)
	require.NoError(t, err)
	require.Len(t, recent, 1, "queue gap closed")

	_, err = s.CompleteConversation(convs[0].ID)
	assert.ErrorIs(t, err, ErrConversationInactive, "completing twice")
}

func TestObservePattern(t *testing.T) {
	s := newTestService(t, Options{})

	t.Run("first observation is capped", func(t *testing.T) {
		p, err := s.ObservePattern(models.ObservePatternRequest{
			Name: "retry-on-timeout", Category: models.CategoryWorkflow, Confidence: 0.8,
		})
		require.NoError(t, err)
		assert.Equal(t, confidence.FirstObservationCeiling, p.Confidence)
		assert.Equal(t, 1, p.UsageCount)
	})

	t.Run("repeat observations accumulate", func(t *testing.T) {
		var p *models.Pattern
		var err error
		for i := 0; i < 4; i++ {
			p, err = s.ObservePattern(models.ObservePatternRequest{
				Name: "retry-on-timeout", Category: models.CategoryWorkflow, Confidence: 0.8,
			})
			require.NoError(t, err)
		}
		assert.Equal(t, 5, p.UsageCount)
		assert.Greater(t, p.Confidence, confidence.FirstObservationCeiling)
	})

	t.Run("overconfident first observation raises an anomaly", func(t *testing.T) {
		p, err := s.ObservePattern(models.ObservePatternRequest{
			Name: "one-shot-wonder", Category: models.CategoryCodePattern, Confidence: 0.99,
		})
		require.NoError(t, err)
		assert.LessOrEqual(t, p.Confidence, confidence.FirstObservationCeiling)

		pending, err := s.ListAnomalies(models.AnomalyPending, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, models.AnomalyHighConfidence, pending[0].Type)
		assert.Equal(t, models.SeverityHigh, pending[0].Severity)
	})

	t.Run("unknown category rejected", func(t *testing.T) {
		_, err := s.ObservePattern(models.ObservePatternRequest{
			Name: "x", Category: "astrology", Confidence: 0.5,
		})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestRecordOutcome(t *testing.T) {
	s := newTestService(t, Options{})

	p, err := s.ObservePattern(models.ObservePatternRequest{
		Name: "retry-on-timeout", Category: models.CategoryWorkflow, Confidence: 0.5,
	})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		p, err = s.RecordOutcome(p.ID, true)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, p.SuccessCount)
	assert.Equal(t, 5, p.UsageCount)
	assert.Greater(t, p.Confidence, confidence.FirstObservationCeiling)

	p, err = s.RecordOutcome(p.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, p.FailureCount)

	_, err = s.RecordOutcome("no-such-pattern", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearchPatternsLogsOutcome(t *testing.T) {
	s := newTestService(t, Options{})

	_, err := s.ObservePattern(models.ObservePatternRequest{
		Name: "retry-on-timeout", Category: models.CategoryWorkflow, Confidence: 0.4,
	})
	require.NoError(t, err)

	hit, err := s.SearchPatterns("retry", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeReuse, hit.Outcome)
	require.Len(t, hit.Results, 1)

	miss, err := s.SearchPatterns("kubernetes", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCreate, miss.Outcome)
	assert.Empty(t, miss.Results)

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM pattern_searches`).Scan(&n))
	assert.Equal(t, 2, n, "every lookup is logged")
}

func TestDecayUnused(t *testing.T) {
	s := newTestService(t, Options{
		Decay:              confidence.LinearDecay(0.01),
		DecayThresholdDays: 30,
	})

	p, err := s.ObservePattern(models.ObservePatternRequest{
		Name: "stale-pattern", Category: models.CategoryWorkflow, Confidence: 0.5,
	})
	require.NoError(t, err)

	// Age the pattern well past the threshold.
	aged := time.Now().Add(-40 * 24 * time.Hour).Unix()
	_, err = s.db.Exec(`UPDATE patterns SET last_used_at = ? WHERE id = ?`, aged, p.ID)
	require.NoError(t, err)

	decayed, err := s.DecayUnused(0)
	require.NoError(t, err)
	assert.Equal(t, 1, decayed)

	got, err := s.GetPattern(p.ID)
	require.NoError(t, err)
	assert.Less(t, got.Confidence, 0.5)
	assert.GreaterOrEqual(t, got.Confidence, 0.0)

	t.Run("fresh patterns untouched", func(t *testing.T) {
		decayed, err := s.DecayUnused(0)
		require.NoError(t, err)
		assert.Equal(t, 1, decayed, "still stale until used again")
	})
}

func TestObserveFileRelationship(t *testing.T) {
	s := newTestService(t, Options{})

	r1, err := s.ObserveFileRelationship("handler.go", "routes.go")
	require.NoError(t, err)
	assert.Equal(t, 1, r1.CoCount)

	// Reversed order accumulates on the same row.
	r2, err := s.ObserveFileRelationship("routes.go", "handler.go")
	require.NoError(t, err)
	assert.Equal(t, r1.ID, r2.ID)
	assert.Equal(t, 2, r2.CoCount)
	assert.GreaterOrEqual(t, r2.Confidence, r1.Confidence)

	_, err = s.ObserveFileRelationship("same.go", "same.go")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestObserveIntent(t *testing.T) {
	s := newTestService(t, Options{})

	ip, err := s.ObserveIntent(models.ObserveIntentRequest{
		Phrase: "ship it", Intent: "deploy", Confidence: 0.6,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, ip.UsageCount)
	assert.LessOrEqual(t, ip.Confidence, confidence.FirstObservationCeiling)

	ip, err = s.ObserveIntent(models.ObserveIntentRequest{
		Phrase: "ship it", Intent: "deploy", Confidence: 0.6,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, ip.UsageCount)
}

func TestRecordCorrection(t *testing.T) {
	s := newTestService(t, Options{})

	c, err := s.RecordCorrection(models.RecordCorrectionRequest{
		Original: "use var", Corrected: "use const", Context: "style review",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Occurrences)

	c, err = s.RecordCorrection(models.RecordCorrectionRequest{
		Original: "use var", Corrected: "use const",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Occurrences)
}

func TestEvaluateRoutingRecordsBlockedAnomaly(t *testing.T) {
	s := newTestService(t, Options{})

	d, err := s.EvaluateRouting(0.98, 1)
	require.NoError(t, err)
	assert.Equal(t, routing.SafetyAnomaly, d.Level)
	assert.Equal(t, routing.ActionBlocked, d.Action)

	pending, err := s.ListAnomalies(models.AnomalyPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.AnomalyBlockedRouting, pending[0].Type)

	t.Run("auto-route leaves no anomaly", func(t *testing.T) {
		d, err := s.EvaluateRouting(0.90, 5)
		require.NoError(t, err)
		assert.Equal(t, routing.ActionAutoRoute, d.Action)

		pending, err := s.ListAnomalies(models.AnomalyPending, 10)
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})
}

func TestReviewAnomaly(t *testing.T) {
	s := newTestService(t, Options{})

	_, err := s.EvaluateRouting(0.98, 1)
	require.NoError(t, err)
	pending, err := s.ListAnomalies(models.AnomalyPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	id := pending[0].ID

	a, err := s.ReviewAnomaly(id, models.AnomalyResolved, "checked by hand")
	require.NoError(t, err)
	assert.Equal(t, models.AnomalyResolved, a.Status)

	_, err = s.ReviewAnomaly(id, models.AnomalyDismissed, "")
	assert.ErrorIs(t, err, ErrAlreadyReviewed)

	_, err = s.ReviewAnomaly(id, models.AnomalyPending, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.ReviewAnomaly("nope", models.AnomalyResolved, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHealthAndGuards(t *testing.T) {
	s := newTestService(t, Options{})
	addConversations(t, s, 2)

	h := s.Health()
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 2, h.Conversations)

	statuses := s.GuardStatuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "tier1", statuses[0].Store)
	assert.Equal(t, "IDLE", statuses[0].State)
	assert.False(t, statuses[0].Halted)
	assert.NotEmpty(t, statuses[0].Snapshots, "conversation adds left snapshots")

	assert.Error(t, s.ClearHalt("tier9"))
	assert.NoError(t, s.ClearHalt("tier1"))
}
