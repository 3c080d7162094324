package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdev/engram/internal/models"
)

func insertAnomaly(t *testing.T, db *DB, s *AnomalyStore, id string, typ models.AnomalyType, sev models.AnomalySeverity) *models.Anomaly {
	t.Helper()
	a := &models.Anomaly{
		ID:          id,
		Type:        typ,
		Severity:    sev,
		Description: fmt.Sprintf("anomaly %s", id),
		CreatedAt:   time.Now().Unix(),
	}
	require.NoError(t, s.Insert(db, a))
	return a
}

func TestAnomalyInsertIsAlwaysPending(t *testing.T) {
	db := newTestDB(t)
	s := NewAnomalyStore(db)

	a := insertAnomaly(t, db, s, "a1", models.AnomalyHighConfidence, models.SeverityHigh)
	assert.Equal(t, models.AnomalyPending, a.Status)

	got, err := s.GetByID("a1")
	require.NoError(t, err)
	assert.Equal(t, models.AnomalyPending, got.Status)
	assert.Nil(t, got.ReviewedAt)
}

func TestAnomalyReviewTransitions(t *testing.T) {
	db := newTestDB(t)
	s := NewAnomalyStore(db)

	insertAnomaly(t, db, s, "a1", models.AnomalyHighConfidence, models.SeverityHigh)

	reviewed, err := s.Review("a1", models.AnomalyResolved, "verified by hand")
	require.NoError(t, err)
	assert.Equal(t, models.AnomalyResolved, reviewed.Status)
	assert.Equal(t, "verified by hand", reviewed.ReviewNotes)
	require.NotNil(t, reviewed.ReviewedAt)

	t.Run("terminal states are final", func(t *testing.T) {
		_, err := s.Review("a1", models.AnomalyDismissed, "changed my mind")
		assert.Error(t, err)

		got, getErr := s.GetByID("a1")
		require.NoError(t, getErr)
		assert.Equal(t, models.AnomalyResolved, got.Status, "first review stands")
	})

	t.Run("cannot review back to pending", func(t *testing.T) {
		insertAnomaly(t, db, s, "a2", models.AnomalyPerfectConfidence, models.SeverityMedium)
		_, err := s.Review("a2", models.AnomalyPending, "")
		assert.Error(t, err)
	})
}

func TestAnomalyList(t *testing.T) {
	db := newTestDB(t)
	s := NewAnomalyStore(db)

	insertAnomaly(t, db, s, "a1", models.AnomalyHighConfidence, models.SeverityHigh)
	insertAnomaly(t, db, s, "a2", models.AnomalyBlockedRouting, models.SeverityHigh)
	_, err := s.Review("a2", models.AnomalyDismissed, "")
	require.NoError(t, err)

	pending, err := s.List(models.AnomalyPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a1", pending[0].ID)

	all, err := s.List("", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAnomalyStats(t *testing.T) {
	db := newTestDB(t)
	s := NewAnomalyStore(db)

	insertAnomaly(t, db, s, "a1", models.AnomalyHighConfidence, models.SeverityHigh)
	insertAnomaly(t, db, s, "a2", models.AnomalyHighConfidence, models.SeverityHigh)
	insertAnomaly(t, db, s, "a3", models.AnomalyPerfectConfidence, models.SeverityMedium)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByType[string(models.AnomalyHighConfidence)])
	assert.Equal(t, 2, stats.BySeverity[string(models.SeverityHigh)])
	assert.Equal(t, 3, stats.ByStatus[string(models.AnomalyPending)])
}

func TestDumpTables(t *testing.T) {
	db := newTestDB(t)

	insertConversations(t, db, 2)

	data, err := db.DumpTables(Tier1Tables...)
	require.NoError(t, err)
	assert.Contains(t, string(data), "conv-1")
	assert.Contains(t, string(data), `"messages":null`)
}
