package engine

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/engramdev/engram/internal/confidence"
	"github.com/engramdev/engram/internal/models"
	"github.com/engramdev/engram/internal/protect"
)

// observationConfidenceStep is the proposal increment for repeat
// observations of relationships, intents and corrections, which carry no
// caller-supplied confidence hint.
const observationConfidenceStep = 0.10

// ObservePattern records one observation of a pattern, creating it on first
// sight. The stored confidence is whatever the gates allow, never the raw
// hint; anomalies the gates raise are committed in the same transaction.
func (s *Service) ObservePattern(req models.ObservePatternRequest) (*models.Pattern, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if !req.Category.IsValid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, req.Category)
	}

	var out *models.Pattern
	err := s.tier2.Mutate("pattern.observe", func(tx *sql.Tx) error {
		now := time.Now().Unix()
		existing, err := s.patterns.GetByName(tx, req.Name, req.Category)
		if err != nil {
			return err
		}

		var res confidence.Result
		if existing == nil {
			res = confidence.ScoreFirst(req.Name, req.Confidence)
			out = &models.Pattern{
				ID:         uuid.NewString(),
				Name:       req.Name,
				Category:   req.Category,
				Confidence: res.Confidence,
				UsageCount: 1,
				Tags:       req.Tags,
				CreatedAt:  now,
				LastUsedAt: now,
			}
			if err := s.patterns.Insert(tx, out); err != nil {
				return err
			}
		} else {
			existing.UsageCount++
			res = confidence.ScoreRepeat(req.Name, existing.Confidence, req.Confidence, existing.UsageCount)
			existing.Confidence = res.Confidence
			existing.LastUsedAt = now
			if err := s.patterns.UpdateObservation(tx, existing); err != nil {
				return err
			}
			out = existing
		}
		return s.raiseSignals(tx, res.Signals, fmt.Sprintf("pattern=%s category=%s", req.Name, req.Category))
	}, s.tier2Validators()...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordOutcome tallies a success or failure for a pattern and rescores its
// confidence from the observed rate, subject to the usual gates.
func (s *Service) RecordOutcome(id string, success bool) (*models.Pattern, error) {
	var out *models.Pattern
	err := s.tier2.Mutate("pattern.outcome", func(tx *sql.Tx) error {
		p, err := s.patterns.GetByIDTx(tx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("%w: pattern %s", ErrNotFound, id)
		}

		if success {
			p.SuccessCount++
		} else {
			p.FailureCount++
		}
		p.UsageCount++
		proposed := confidence.Propose(p.Confidence, p.SuccessCount, p.FailureCount)
		res := confidence.ScoreRepeat(p.Name, p.Confidence, proposed, p.UsageCount)
		p.Confidence = res.Confidence
		p.LastUsedAt = time.Now().Unix()

		if err := s.patterns.UpdateObservation(tx, p); err != nil {
			return err
		}
		out = p
		return s.raiseSignals(tx, res.Signals, fmt.Sprintf("pattern=%s outcome=%t", p.Name, success))
	}, s.tier2Validators()...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetPattern fetches a pattern by ID.
func (s *Service) GetPattern(id string) (*models.Pattern, error) {
	p, err := s.patterns.GetByID(id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: pattern %s", ErrNotFound, id)
	}
	return p, nil
}

// SearchPatterns runs full-text lookup over pattern names and tags and
// appends the lookup to the immutable search log. An empty result set is the
// CREATE signal: the caller holds knowledge the store does not.
func (s *Service) SearchPatterns(query string, minConfidence float64, limit int) (*models.SearchPatternsResponse, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}

	start := time.Now()
	matches, err := s.patterns.Search(query, minConfidence, limit)
	s.metrics.Search("patterns", time.Since(start))
	if err != nil {
		return nil, err
	}

	rec := &models.PatternSearch{
		Query:     query,
		Outcome:   models.OutcomeCreate,
		CreatedAt: time.Now().Unix(),
	}
	if len(matches) > 0 {
		rec.Outcome = models.OutcomeReuse
		rec.PatternID = matches[0].Pattern.ID
		rec.Confidence = matches[0].Pattern.Confidence
	}
	// The search log is append-only and carries no invariants, so it skips
	// the guard; a logging failure must not fail the read.
	if err := s.patterns.AppendSearchRecord(rec); err != nil {
		s.logger.Error("appending search record failed", "query", query, "error", err)
	}

	return &models.SearchPatternsResponse{Results: matches, Outcome: rec.Outcome}, nil
}

// PatternStats reports aggregate counts over the pattern base and the
// search log.
func (s *Service) PatternStats() (*models.PatternStats, error) {
	return s.patterns.Stats()
}

// RelatePatterns records a directed association between two patterns.
func (s *Service) RelatePatterns(sourceID, targetID string) error {
	return s.tier2.Mutate("pattern.relate", func(tx *sql.Tx) error {
		for _, id := range []string{sourceID, targetID} {
			p, err := s.patterns.GetByIDTx(tx, id)
			if err != nil {
				return err
			}
			if p == nil {
				return fmt.Errorf("%w: pattern %s", ErrNotFound, id)
			}
		}
		return s.patterns.AddRelation(tx, sourceID, targetID)
	}, s.tier2Validators()...)
}

// DecayUnused lowers confidence for every pattern idle longer than the
// threshold, using the configured decay curve. Returns how many patterns
// were touched.
func (s *Service) DecayUnused(thresholdDays int) (int, error) {
	if thresholdDays <= 0 {
		thresholdDays = s.decayDays
	}
	now := time.Now()
	cutoff := now.Add(-time.Duration(thresholdDays) * 24 * time.Hour).Unix()

	var decayed int
	err := s.tier2.Mutate("pattern.decay", func(tx *sql.Tx) error {
		stale, err := s.patterns.UnusedSince(tx, cutoff)
		if err != nil {
			return err
		}
		for _, p := range stale {
			idle := now.Sub(time.Unix(p.LastUsedAt, 0))
			next := s.decay(p.Confidence, idle)
			if next >= p.Confidence {
				continue
			}
			if err := s.patterns.SetConfidence(tx, p.ID, next); err != nil {
				return err
			}
			decayed++
		}
		return nil
	}, s.tier2Validators()...)
	if err != nil {
		return 0, err
	}
	if decayed > 0 {
		s.logger.Info("decayed stale patterns", "count", decayed, "threshold_days", thresholdDays)
	}
	return decayed, nil
}

// ObserveFileRelationship records that two files changed together. The pair
// is stored in lexical order so (a,b) and (b,a) accumulate on one row.
func (s *Service) ObserveFileRelationship(fileA, fileB string) (*models.FileRelationship, error) {
	if fileA == "" || fileB == "" || fileA == fileB {
		return nil, fmt.Errorf("%w: two distinct files are required", ErrInvalidInput)
	}
	if fileB < fileA {
		fileA, fileB = fileB, fileA
	}

	var out *models.FileRelationship
	err := s.tier2.Mutate("relationship.observe", func(tx *sql.Tx) error {
		now := time.Now().Unix()
		rel, err := s.relationships.GetByPair(tx, fileA, fileB)
		if err != nil {
			return err
		}
		var res confidence.Result
		if rel == nil {
			res = confidence.ScoreFirst(fileA+"+"+fileB, observationConfidenceStep)
			rel = &models.FileRelationship{
				ID:         uuid.NewString(),
				FileA:      fileA,
				FileB:      fileB,
				CoCount:    1,
				Confidence: res.Confidence,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := s.relationships.Insert(tx, rel); err != nil {
				return err
			}
		} else {
			rel.CoCount++
			res = confidence.ScoreRepeat(fileA+"+"+fileB, rel.Confidence,
				rel.Confidence+observationConfidenceStep, rel.CoCount)
			rel.Confidence = res.Confidence
			rel.UpdatedAt = now
			if err := s.relationships.Update(tx, rel); err != nil {
				return err
			}
		}
		out = rel
		return s.raiseSignals(tx, res.Signals, fmt.Sprintf("files=%s,%s", fileA, fileB))
	}, s.tier2Validators()...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RelationshipsForFile lists known co-change partners of a file.
func (s *Service) RelationshipsForFile(file string) ([]*models.FileRelationship, error) {
	return s.relationships.ListForFile(file)
}

// ObserveIntent records a phrase resolving to an intent. Repeats of the same
// phrase build occurrence-gated confidence in the mapping.
func (s *Service) ObserveIntent(req models.ObserveIntentRequest) (*models.IntentPattern, error) {
	if req.Phrase == "" || req.Intent == "" {
		return nil, fmt.Errorf("%w: phrase and intent are required", ErrInvalidInput)
	}

	var out *models.IntentPattern
	err := s.tier2.Mutate("intent.observe", func(tx *sql.Tx) error {
		now := time.Now().Unix()
		ip, err := s.intents.GetByPhrase(tx, req.Phrase)
		if err != nil {
			return err
		}
		var res confidence.Result
		if ip == nil {
			res = confidence.ScoreFirst(req.Phrase, req.Confidence)
			ip = &models.IntentPattern{
				ID:         uuid.NewString(),
				Phrase:     req.Phrase,
				Intent:     req.Intent,
				UsageCount: 1,
				Confidence: res.Confidence,
				CreatedAt:  now,
				LastUsedAt: now,
			}
			if err := s.intents.Insert(tx, ip); err != nil {
				return err
			}
		} else {
			ip.UsageCount++
			ip.Intent = req.Intent
			res = confidence.ScoreRepeat(req.Phrase, ip.Confidence, req.Confidence, ip.UsageCount)
			ip.Confidence = res.Confidence
			ip.LastUsedAt = now
			if err := s.intents.Update(tx, ip); err != nil {
				return err
			}
		}
		out = ip
		return s.raiseSignals(tx, res.Signals, fmt.Sprintf("phrase=%q", req.Phrase))
	}, s.tier2Validators()...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordCorrection stores a user correction; identical corrections stack.
func (s *Service) RecordCorrection(req models.RecordCorrectionRequest) (*models.Correction, error) {
	if req.Original == "" || req.Corrected == "" {
		return nil, fmt.Errorf("%w: original and corrected are required", ErrInvalidInput)
	}

	var out *models.Correction
	err := s.tier2.Mutate("correction.record", func(tx *sql.Tx) error {
		now := time.Now().Unix()
		c, err := s.corrections.GetByPair(tx, req.Original, req.Corrected)
		if err != nil {
			return err
		}
		var res confidence.Result
		if c == nil {
			res = confidence.ScoreFirst(req.Original, observationConfidenceStep)
			c = &models.Correction{
				ID:          uuid.NewString(),
				Original:    req.Original,
				Corrected:   req.Corrected,
				Context:     req.Context,
				Occurrences: 1,
				Confidence:  res.Confidence,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := s.corrections.Insert(tx, c); err != nil {
				return err
			}
		} else {
			c.Occurrences++
			res = confidence.ScoreRepeat(req.Original, c.Confidence,
				c.Confidence+observationConfidenceStep, c.Occurrences)
			c.Confidence = res.Confidence
			c.UpdatedAt = now
			if err := s.corrections.Update(tx, c); err != nil {
				return err
			}
		}
		out = c
		return s.raiseSignals(tx, res.Signals, fmt.Sprintf("original=%q", req.Original))
	}, s.tier2Validators()...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// tier2Validators are the invariants re-checked inside every Tier 2
// transaction before it may commit.
func (s *Service) tier2Validators() []protect.Validator {
	return []protect.Validator{
		func(tx *sql.Tx) error { return s.patterns.ValidateConfidenceBounds(tx) },
		func(tx *sql.Tx) error {
			return s.patterns.ValidateOccurrenceGate(tx, confidence.OccurrenceGateMin, confidence.FirstObservationCeiling)
		},
	}
}

// raiseSignals appends scoring anomalies to the review queue inside the same
// transaction as the score that produced them.
func (s *Service) raiseSignals(tx *sql.Tx, signals []confidence.Signal, context string) error {
	for _, sig := range signals {
		a := &models.Anomaly{
			ID:          uuid.NewString(),
			Type:        sig.Type,
			Severity:    sig.Severity,
			Description: sig.Description,
			Context:     context,
			CreatedAt:   time.Now().Unix(),
		}
		if err := s.anomalies.Insert(tx, a); err != nil {
			return err
		}
		s.metrics.AnomalyRaised(string(sig.Type), string(sig.Severity))
		s.logger.Warn("anomaly raised", "type", sig.Type, "severity", sig.Severity, "description", sig.Description)
	}
	return nil
}
