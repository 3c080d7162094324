package store

import (
	"database/sql"
	"fmt"

	"github.com/engramdev/engram/internal/models"
)

// FileRelationshipStore tracks files that change together.
type FileRelationshipStore struct {
	db *DB
}

func NewFileRelationshipStore(db *DB) *FileRelationshipStore {
	return &FileRelationshipStore{db: db}
}

// GetByPair fetches the relationship for an ordered file pair. Callers are
// expected to normalize the pair ordering before lookup.
func (s *FileRelationshipStore) GetByPair(q Queryer, fileA, fileB string) (*models.FileRelationship, error) {
	var r models.FileRelationship
	err := q.QueryRow(`
		SELECT id, file_a, file_b, co_count, confidence, created_at, updated_at
		FROM file_relationships WHERE file_a = ? AND file_b = ?
	`, fileA, fileB).Scan(&r.ID, &r.FileA, &r.FileB, &r.CoCount, &r.Confidence, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file relationship: %w", err)
	}
	return &r, nil
}

// Insert stores a new relationship row.
func (s *FileRelationshipStore) Insert(q Queryer, r *models.FileRelationship) error {
	_, err := q.Exec(`
		INSERT INTO file_relationships (id, file_a, file_b, co_count, confidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.FileA, r.FileB, r.CoCount, r.Confidence, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert file relationship: %w", err)
	}
	return nil
}

// Update writes back counters and confidence after an observation.
func (s *FileRelationshipStore) Update(q Queryer, r *models.FileRelationship) error {
	_, err := q.Exec(`
		UPDATE file_relationships SET co_count = ?, confidence = ?, updated_at = ? WHERE id = ?
	`, r.CoCount, r.Confidence, r.UpdatedAt, r.ID)
	if err != nil {
		return fmt.Errorf("update file relationship: %w", err)
	}
	return nil
}

// ListForFile returns every relationship touching the given file.
func (s *FileRelationshipStore) ListForFile(file string) ([]*models.FileRelationship, error) {
	rows, err := s.db.Query(`
		SELECT id, file_a, file_b, co_count, confidence, created_at, updated_at
		FROM file_relationships WHERE file_a = ? OR file_b = ?
		ORDER BY confidence DESC
	`, file, file)
	if err != nil {
		return nil, fmt.Errorf("list file relationships: %w", err)
	}
	defer rows.Close()

	var out []*models.FileRelationship
	for rows.Next() {
		var r models.FileRelationship
		if err := rows.Scan(&r.ID, &r.FileA, &r.FileB, &r.CoCount, &r.Confidence, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan file relationship: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// IntentPatternStore maps recurring phrasings to resolved intents.
type IntentPatternStore struct {
	db *DB
}

func NewIntentPatternStore(db *DB) *IntentPatternStore {
	return &IntentPatternStore{db: db}
}

func (s *IntentPatternStore) GetByPhrase(q Queryer, phrase string) (*models.IntentPattern, error) {
	var ip models.IntentPattern
	err := q.QueryRow(`
		SELECT id, phrase, intent, usage_count, confidence, created_at, last_used_at
		FROM intent_patterns WHERE phrase = ?
	`, phrase).Scan(&ip.ID, &ip.Phrase, &ip.Intent, &ip.UsageCount, &ip.Confidence, &ip.CreatedAt, &ip.LastUsedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get intent pattern: %w", err)
	}
	return &ip, nil
}

func (s *IntentPatternStore) Insert(q Queryer, ip *models.IntentPattern) error {
	_, err := q.Exec(`
		INSERT INTO intent_patterns (id, phrase, intent, usage_count, confidence, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ip.ID, ip.Phrase, ip.Intent, ip.UsageCount, ip.Confidence, ip.CreatedAt, ip.LastUsedAt)
	if err != nil {
		return fmt.Errorf("insert intent pattern: %w", err)
	}
	return nil
}

func (s *IntentPatternStore) Update(q Queryer, ip *models.IntentPattern) error {
	_, err := q.Exec(`
		UPDATE intent_patterns SET intent = ?, usage_count = ?, confidence = ?, last_used_at = ? WHERE id = ?
	`, ip.Intent, ip.UsageCount, ip.Confidence, ip.LastUsedAt, ip.ID)
	if err != nil {
		return fmt.Errorf("update intent pattern: %w", err)
	}
	return nil
}

// CorrectionStore records user corrections of assistant output.
type CorrectionStore struct {
	db *DB
}

func NewCorrectionStore(db *DB) *CorrectionStore {
	return &CorrectionStore{db: db}
}

func (s *CorrectionStore) GetByPair(q Queryer, original, corrected string) (*models.Correction, error) {
	var c models.Correction
	var context sql.NullString
	err := q.QueryRow(`
		SELECT id, original, corrected, context, occurrences, confidence, created_at, updated_at
		FROM corrections WHERE original = ? AND corrected = ?
	`, original, corrected).Scan(&c.ID, &c.Original, &c.Corrected, &context, &c.Occurrences, &c.Confidence, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get correction: %w", err)
	}
	if context.Valid {
		c.Context = context.String
	}
	return &c, nil
}

func (s *CorrectionStore) Insert(q Queryer, c *models.Correction) error {
	var context any
	if c.Context != "" {
		context = c.Context
	}
	_, err := q.Exec(`
		INSERT INTO corrections (id, original, corrected, context, occurrences, confidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Original, c.Corrected, context, c.Occurrences, c.Confidence, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert correction: %w", err)
	}
	return nil
}

func (s *CorrectionStore) Update(q Queryer, c *models.Correction) error {
	_, err := q.Exec(`
		UPDATE corrections SET occurrences = ?, confidence = ?, updated_at = ? WHERE id = ?
	`, c.Occurrences, c.Confidence, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("update correction: %w", err)
	}
	return nil
}
