package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/engramdev/engram/internal/models"
)

const patternColumns = `id, name, category, confidence, usage_count, success_count, failure_count, tags, created_at, last_used_at`

// PatternStore handles Tier 2 pattern rows plus the append-only search log.
type PatternStore struct {
	db *DB
}

func NewPatternStore(db *DB) *PatternStore {
	return &PatternStore{db: db}
}

// Insert stores a new pattern. The caller must set ID, confidence, and
// counters; the confidence engine owns those values.
func (s *PatternStore) Insert(q Queryer, p *models.Pattern) error {
	tagsJSON, _ := json.Marshal(p.Tags)
	_, err := q.Exec(`
		INSERT INTO patterns (id, name, category, confidence, usage_count, success_count, failure_count, tags, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, string(p.Category), p.Confidence, p.UsageCount, p.SuccessCount, p.FailureCount,
		string(tagsJSON), p.CreatedAt, p.LastUsedAt)
	if err != nil {
		return fmt.Errorf("insert pattern: %w", err)
	}
	return nil
}

// GetByID fetches a single pattern by ID from committed state.
func (s *PatternStore) GetByID(id string) (*models.Pattern, error) {
	return s.getBy(s.db, `id = ?`, id)
}

// GetByIDTx is GetByID against an in-flight transaction.
func (s *PatternStore) GetByIDTx(q Queryer, id string) (*models.Pattern, error) {
	return s.getBy(q, `id = ?`, id)
}

// GetByName fetches a pattern by its (name, category) identity.
func (s *PatternStore) GetByName(q Queryer, name string, category models.Category) (*models.Pattern, error) {
	return s.getBy(q, `name = ? AND category = ?`, name, string(category))
}

func (s *PatternStore) getBy(q Queryer, where string, args ...any) (*models.Pattern, error) {
	row := q.QueryRow(fmt.Sprintf(`SELECT %s FROM patterns WHERE %s`, patternColumns, where), args...)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.RelatedIDs, err = s.relatedIDs(q, p.ID)
	return p, err
}

// UpdateObservation writes back the counters and confidence produced by one
// observation cycle.
func (s *PatternStore) UpdateObservation(q Queryer, p *models.Pattern) error {
	res, err := q.Exec(`
		UPDATE patterns SET confidence = ?, usage_count = ?, success_count = ?, failure_count = ?, last_used_at = ?
		WHERE id = ?
	`, p.Confidence, p.UsageCount, p.SuccessCount, p.FailureCount, p.LastUsedAt, p.ID)
	if err != nil {
		return fmt.Errorf("update pattern: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("pattern not found: %s", p.ID)
	}
	return nil
}

// SetConfidence applies a recomputed confidence (decay, administrative fix).
func (s *PatternStore) SetConfidence(q Queryer, id string, confidence float64) error {
	_, err := q.Exec(`UPDATE patterns SET confidence = ? WHERE id = ?`, confidence, id)
	if err != nil {
		return fmt.Errorf("set confidence: %w", err)
	}
	return nil
}

// Delete removes a pattern. Deletion is administrative only; the engine never
// drops patterns implicitly.
func (s *PatternStore) Delete(q Queryer, id string) error {
	res, err := q.Exec(`DELETE FROM patterns WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete pattern: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("pattern not found: %s", id)
	}
	return nil
}

// UnusedSince returns patterns whose last_used_at predates the cutoff.
func (s *PatternStore) UnusedSince(q Queryer, cutoff int64) ([]*models.Pattern, error) {
	rows, err := q.Query(
		fmt.Sprintf(`SELECT %s FROM patterns WHERE last_used_at < ?`, patternColumns), cutoff)
	if err != nil {
		return nil, fmt.Errorf("unused patterns: %w", err)
	}
	defer rows.Close()
	return scanPatterns(rows)
}

// Search performs ranked full-text lookup over pattern names and tags,
// filtered to a minimum confidence.
func (s *PatternStore) Search(query string, minConfidence float64, limit int) ([]models.PatternMatch, error) {
	match := FTSQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT %s, -rank AS score
		FROM patterns_fts
		JOIN patterns p ON p.rowid = patterns_fts.rowid
		WHERE patterns_fts MATCH ? AND p.confidence >= ?
		ORDER BY rank
		LIMIT ?
	`, prefixColumns("p", patternColumns)), match, minConfidence, limit)
	if err != nil {
		return nil, fmt.Errorf("search patterns: %w", err)
	}
	defer rows.Close()

	var out []models.PatternMatch
	for rows.Next() {
		p, rank, err := scanPatternWithRank(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, models.PatternMatch{Pattern: p, Rank: rank})
	}
	return out, rows.Err()
}

// AppendSearchRecord writes one immutable entry to the lookup log. The log is
// append-only with no structural invariants, so it bypasses the protection
// layer and never blocks readers.
func (s *PatternStore) AppendSearchRecord(rec *models.PatternSearch) error {
	var patternID any
	if rec.PatternID != "" {
		patternID = rec.PatternID
	}
	res, err := s.db.Exec(`
		INSERT INTO pattern_searches (query, pattern_id, outcome, confidence, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.Query, patternID, string(rec.Outcome), rec.Confidence, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("append search record: %w", err)
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

// AddRelation records a weak, non-owning reference between two patterns.
// Stats aggregates the pattern base and the search log in one pass each.
func (s *PatternStore) Stats() (*models.PatternStats, error) {
	stats := &models.PatternStats{
		ByCategory: make(map[string]int),
	}

	var avg sql.NullFloat64
	var usage sql.NullInt64
	err := s.db.QueryRow(`SELECT COUNT(*), AVG(confidence), SUM(usage_count) FROM patterns`).
		Scan(&stats.Total, &avg, &usage)
	if err != nil {
		return nil, fmt.Errorf("pattern totals: %w", err)
	}
	stats.AvgConfidence = avg.Float64
	stats.TotalUsage = int(usage.Int64)

	rows, err := s.db.Query(`SELECT category, COUNT(*) FROM patterns GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("patterns by category: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cat string
		var c int
		if err := rows.Scan(&cat, &c); err != nil {
			return nil, fmt.Errorf("scan pattern stats: %w", err)
		}
		stats.ByCategory[cat] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pattern stats rows: %w", err)
	}

	err = s.db.QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0)
		FROM pattern_searches
	`, string(models.OutcomeReuse), string(models.OutcomeCreate)).
		Scan(&stats.SearchReuses, &stats.SearchCreates)
	if err != nil {
		return nil, fmt.Errorf("search log totals: %w", err)
	}

	return stats, nil
}

func (s *PatternStore) AddRelation(q Queryer, sourceID, targetID string) error {
	_, err := q.Exec(`
		INSERT INTO pattern_relations (source_id, target_id, created_at)
		VALUES (?, ?, ?) ON CONFLICT(source_id, target_id) DO NOTHING
	`, sourceID, targetID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("add pattern relation: %w", err)
	}
	return nil
}

func (s *PatternStore) relatedIDs(q Queryer, id string) ([]string, error) {
	rows, err := q.Query(`SELECT target_id FROM pattern_relations WHERE source_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("related patterns: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		ids = append(ids, t)
	}
	return ids, rows.Err()
}

// ValidateConfidenceBounds checks that every pattern-family row carries a
// confidence within [0, 1] and a recognized category.
func (s *PatternStore) ValidateConfidenceBounds(q Queryer) error {
	var n int
	if err := q.QueryRow(`SELECT COUNT(*) FROM patterns WHERE confidence < 0.0 OR confidence > 1.0`).Scan(&n); err != nil {
		return fmt.Errorf("check confidence bounds: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("confidence-bounds: %d patterns outside [0,1]", n)
	}

	rows, err := q.Query(`SELECT DISTINCT category FROM patterns`)
	if err != nil {
		return fmt.Errorf("check categories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return fmt.Errorf("scan category: %w", err)
		}
		if !models.Category(c).IsValid() {
			return fmt.Errorf("category-closed: unrecognized category %q", c)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, table := range []string{"file_relationships", "intent_patterns", "corrections"} {
		if err := q.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE confidence < 0.0 OR confidence > 1.0`, table)).Scan(&n); err != nil {
			return fmt.Errorf("check %s bounds: %w", table, err)
		}
		if n > 0 {
			return fmt.Errorf("confidence-bounds: %d rows in %s outside [0,1]", n, table)
		}
	}
	return nil
}

// ValidateOccurrenceGate checks that no under-observed pattern carries more
// than moderate confidence.
func (s *PatternStore) ValidateOccurrenceGate(q Queryer, minOccurrences int, ceiling float64) error {
	var n int
	err := q.QueryRow(`SELECT COUNT(*) FROM patterns WHERE usage_count < ? AND confidence > ?`, minOccurrences, ceiling).Scan(&n)
	if err != nil {
		return fmt.Errorf("check occurrence gate: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("occurrence-gate: %d patterns with fewer than %d observations above confidence %.2f", n, minOccurrences, ceiling)
	}
	return nil
}

func scanPattern(row *sql.Row) (*models.Pattern, error) {
	var p models.Pattern
	var tagsJSON sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Confidence, &p.UsageCount,
		&p.SuccessCount, &p.FailureCount, &tagsJSON, &p.CreatedAt, &p.LastUsedAt)
	if err != nil {
		return nil, err
	}
	if tagsJSON.Valid {
		json.Unmarshal([]byte(tagsJSON.String), &p.Tags)
	}
	return &p, nil
}

func scanPatterns(rows *sql.Rows) ([]*models.Pattern, error) {
	var out []*models.Pattern
	for rows.Next() {
		var p models.Pattern
		var tagsJSON sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Confidence, &p.UsageCount,
			&p.SuccessCount, &p.FailureCount, &tagsJSON, &p.CreatedAt, &p.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		if tagsJSON.Valid {
			json.Unmarshal([]byte(tagsJSON.String), &p.Tags)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func scanPatternWithRank(rows *sql.Rows) (*models.Pattern, float64, error) {
	var p models.Pattern
	var tagsJSON sql.NullString
	var rank float64
	if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Confidence, &p.UsageCount,
		&p.SuccessCount, &p.FailureCount, &tagsJSON, &p.CreatedAt, &p.LastUsedAt, &rank); err != nil {
		return nil, 0, fmt.Errorf("scan pattern match: %w", err)
	}
	if tagsJSON.Valid {
		json.Unmarshal([]byte(tagsJSON.String), &p.Tags)
	}
	return &p, rank, nil
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	out := ""
	for i, c := range splitColumns(columns) {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + c
	}
	return out
}

func splitColumns(columns string) []string {
	var out []string
	cur := ""
	for _, r := range columns {
		switch r {
		case ',':
			out = append(out, cur)
			cur = ""
		case ' ', '\n', '\t':
		default:
			cur += string(r)
		}
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}
