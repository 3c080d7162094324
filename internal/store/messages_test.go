package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdev/engram/internal/models"
)

func insertMessage(t *testing.T, db *DB, s *MessageStore, convID, id string, content string) *models.Message {
	t.Helper()
	seq, err := s.NextSequence(db, convID)
	require.NoError(t, err)
	m := &models.Message{
		ID: id, ConversationID: convID, Sequence: seq,
		Role: models.RoleUser, Content: content,
	}
	require.NoError(t, s.Insert(db, m))
	return m
}

func TestNextSequence(t *testing.T) {
	db := newTestDB(t)
	s := NewMessageStore(db)
	insertConversations(t, db, 1)

	seq, err := s.NextSequence(db, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 1, seq, "empty conversation starts at 1")

	insertMessage(t, db, s, "conv-1", "m1", "hello")
	insertMessage(t, db, s, "conv-1", "m2", "world")

	seq, err = s.NextSequence(db, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 3, seq)
}

func TestSequencesPerConversation(t *testing.T) {
	db := newTestDB(t)
	s := NewMessageStore(db)
	insertConversations(t, db, 2)

	insertMessage(t, db, s, "conv-1", "a1", "first")
	insertMessage(t, db, s, "conv-2", "b1", "other thread")
	insertMessage(t, db, s, "conv-1", "a2", "second")

	msgs, err := s.ListByConversation(db, "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, 1, msgs[0].Sequence)
	assert.Equal(t, 2, msgs[1].Sequence)

	require.NoError(t, s.ValidateSequence(db, "conv-1"))
	require.NoError(t, s.ValidateSequence(db, "conv-2"))
}

func TestValidateSequenceDetectsGap(t *testing.T) {
	db := newTestDB(t)
	s := NewMessageStore(db)
	insertConversations(t, db, 1)

	insertMessage(t, db, s, "conv-1", "m1", "one")
	insertMessage(t, db, s, "conv-1", "m2", "two")

	_, err := db.Exec(`UPDATE messages SET sequence = 5 WHERE id = 'm2'`)
	require.NoError(t, err)

	err = s.ValidateSequence(db, "conv-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequence-contiguity")
}

func TestDuplicateSequenceRejected(t *testing.T) {
	db := newTestDB(t)
	s := NewMessageStore(db)
	insertConversations(t, db, 1)

	insertMessage(t, db, s, "conv-1", "m1", "one")
	err := s.Insert(db, &models.Message{
		ID: "m2", ConversationID: "conv-1", Sequence: 1,
		Role: models.RoleUser, Content: "duplicate",
	})
	assert.Error(t, err, "unique(conversation_id, sequence)")
}

func TestMessageExists(t *testing.T) {
	db := newTestDB(t)
	s := NewMessageStore(db)
	insertConversations(t, db, 2)

	insertMessage(t, db, s, "conv-1", "m1", "hello")

	ok, err := s.Exists(db, "conv-1", "m1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(db, "conv-2", "m1")
	require.NoError(t, err)
	assert.False(t, ok, "scoped to its conversation")
}
