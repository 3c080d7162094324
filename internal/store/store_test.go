package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/engramdev/engram/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newConversation(id, topic string) *models.Conversation {
	now := time.Now().Unix()
	return &models.Conversation{
		ID:        id,
		Topic:     topic,
		Status:    models.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newPattern(id, name string, category models.Category, conf float64) *models.Pattern {
	now := time.Now().Unix()
	return &models.Pattern{
		ID:         id,
		Name:       name,
		Category:   category,
		Confidence: conf,
		UsageCount: 1,
		CreatedAt:  now,
		LastUsedAt: now,
	}
}

func insertConversations(t *testing.T, db *DB, n int) []*models.Conversation {
	t.Helper()
	s := NewConversationStore(db)
	out := make([]*models.Conversation, 0, n)
	for i := 1; i <= n; i++ {
		c := newConversation(fmt.Sprintf("conv-%d", i), fmt.Sprintf("topic number %d", i))
		require.NoError(t, s.InsertAtFront(db, c))
		out = append(out, c)
	}
	return out
}
