package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/engramdev/engram/internal/models"
)

const anomalyColumns = `id, type, severity, description, context, status, review_notes, created_at, reviewed_at`

// AnomalyStore is the append-mostly review queue. Rows are created by the
// confidence engine and the routing safety gate; status moves one way only,
// pending to resolved or dismissed, via explicit review.
type AnomalyStore struct {
	db *DB
}

func NewAnomalyStore(db *DB) *AnomalyStore {
	return &AnomalyStore{db: db}
}

// Insert appends a new pending anomaly.
func (s *AnomalyStore) Insert(q Queryer, a *models.Anomaly) error {
	var context any
	if a.Context != "" {
		context = a.Context
	}
	_, err := q.Exec(`
		INSERT INTO anomalies (id, type, severity, description, context, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, string(a.Type), string(a.Severity), a.Description, context, string(models.AnomalyPending), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert anomaly: %w", err)
	}
	a.Status = models.AnomalyPending
	return nil
}

// GetByID fetches a single anomaly, nil if absent.
func (s *AnomalyStore) GetByID(id string) (*models.Anomaly, error) {
	a, err := scanAnomaly(s.db.QueryRow(
		fmt.Sprintf(`SELECT %s FROM anomalies WHERE id = ?`, anomalyColumns), id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// List returns anomalies, optionally filtered to one status, newest first.
func (s *AnomalyStore) List(status models.AnomalyStatus, limit int) ([]*models.Anomaly, error) {
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`SELECT %s FROM anomalies`, anomalyColumns)
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	defer rows.Close()

	var out []*models.Anomaly
	for rows.Next() {
		a, err := scanAnomalyRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Review moves a pending anomaly to resolved or dismissed. Terminal statuses
// never transition again; re-opening is not supported.
func (s *AnomalyStore) Review(id string, newStatus models.AnomalyStatus, notes string) (*models.Anomaly, error) {
	if !newStatus.IsTerminal() {
		return nil, fmt.Errorf("invalid review status: %s", newStatus)
	}

	now := time.Now().Unix()
	res, err := s.db.Exec(`
		UPDATE anomalies SET status = ?, review_notes = ?, reviewed_at = ?
		WHERE id = ? AND status = ?
	`, string(newStatus), notes, now, id, string(models.AnomalyPending))
	if err != nil {
		return nil, fmt.Errorf("review anomaly: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		existing, err := s.GetByID(id)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("anomaly not found: %s", id)
		}
		return nil, fmt.Errorf("anomaly %s already %s; transitions are one-way", id, existing.Status)
	}
	return s.GetByID(id)
}

// Stats returns counts by type, severity, and status.
func (s *AnomalyStore) Stats() (*models.AnomalyStats, error) {
	stats := &models.AnomalyStats{
		ByType:     make(map[string]int),
		BySeverity: make(map[string]int),
		ByStatus:   make(map[string]int),
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM anomalies`).Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("count anomalies: %w", err)
	}

	for col, dest := range map[string]map[string]int{
		"type":     stats.ByType,
		"severity": stats.BySeverity,
		"status":   stats.ByStatus,
	} {
		rows, err := s.db.Query(fmt.Sprintf(`SELECT %s, COUNT(*) FROM anomalies GROUP BY %s`, col, col))
		if err != nil {
			return nil, fmt.Errorf("anomaly stats by %s: %w", col, err)
		}
		for rows.Next() {
			var key string
			var c int
			if err := rows.Scan(&key, &c); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan anomaly stats: %w", err)
			}
			dest[key] = c
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	return stats, nil
}

func scanAnomaly(row *sql.Row) (*models.Anomaly, error) {
	var a models.Anomaly
	var context, notes sql.NullString
	var reviewedAt sql.NullInt64
	err := row.Scan(&a.ID, &a.Type, &a.Severity, &a.Description, &context, &a.Status, &notes, &a.CreatedAt, &reviewedAt)
	if err != nil {
		return nil, err
	}
	populateAnomalyNullables(&a, context, notes, reviewedAt)
	return &a, nil
}

func scanAnomalyRows(rows *sql.Rows) (*models.Anomaly, error) {
	var a models.Anomaly
	var context, notes sql.NullString
	var reviewedAt sql.NullInt64
	if err := rows.Scan(&a.ID, &a.Type, &a.Severity, &a.Description, &context, &a.Status, &notes, &a.CreatedAt, &reviewedAt); err != nil {
		return nil, fmt.Errorf("scan anomaly: %w", err)
	}
	populateAnomalyNullables(&a, context, notes, reviewedAt)
	return &a, nil
}

func populateAnomalyNullables(a *models.Anomaly, context, notes sql.NullString, reviewedAt sql.NullInt64) {
	if context.Valid {
		a.Context = context.String
	}
	if notes.Valid {
		a.ReviewNotes = notes.String
	}
	if reviewedAt.Valid {
		a.ReviewedAt = &reviewedAt.Int64
	}
}
