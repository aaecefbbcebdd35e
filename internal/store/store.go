// Package store provides PostgreSQL-backed storage for committed matches.
// Each record captures both users, the opposition score that paired them,
// and the questions they disagreed on most.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nemesis/matcher/internal/matching"
)

// MatchRecord is a persisted match.
type MatchRecord struct {
	ID             string
	UserA          string
	UserB          string
	Score          float64
	TopDifferences []matching.Difference
	CreatedAt      time.Time
}

// Store manages match records in PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new match store backed by the given database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveMatch inserts a match. Top differences are marshalled to JSONB.
func (s *Store) SaveMatch(ctx context.Context, rec MatchRecord) error {
	if rec.UserA == rec.UserB {
		return fmt.Errorf("store: match pairs %q with itself", rec.UserA)
	}

	var diffsJSON []byte
	if len(rec.TopDifferences) > 0 {
		var err error
		diffsJSON, err = json.Marshal(rec.TopDifferences)
		if err != nil {
			return fmt.Errorf("store: marshal differences: %w", err)
		}
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	const query = `
		INSERT INTO matches (id, user_a, user_b, opposition_score, top_differences, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.UserA,
		rec.UserB,
		rec.Score,
		diffsJSON,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert match: %w", err)
	}
	return nil
}

// MatchFor returns the most recent match involving userID, or nil if the
// user has never been matched.
func (s *Store) MatchFor(ctx context.Context, userID string) (*MatchRecord, error) {
	const query = `
		SELECT id, user_a, user_b, opposition_score, top_differences, created_at
		FROM matches
		WHERE user_a = $1 OR user_b = $1
		ORDER BY created_at DESC
		LIMIT 1`

	var (
		rec       MatchRecord
		diffsJSON []byte
	)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&rec.ID, &rec.UserA, &rec.UserB, &rec.Score, &diffsJSON, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: query match: %w", err)
	}

	if len(diffsJSON) > 0 {
		if err := json.Unmarshal(diffsJSON, &rec.TopDifferences); err != nil {
			return nil, fmt.Errorf("store: unmarshal differences: %w", err)
		}
	}
	return &rec, nil
}

// Record persists a freshly committed match. It satisfies
// matching.Recorder.
func (s *Store) Record(ctx context.Context, matchID string, m matching.Match, diffs []matching.Difference) error {
	return s.SaveMatch(ctx, MatchRecord{
		ID:             matchID,
		UserA:          m.UserA,
		UserB:          m.UserB,
		Score:          m.Score,
		TopDifferences: diffs,
	})
}
