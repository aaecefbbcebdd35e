package matching

import (
	"encoding/json"
	"fmt"
	"math"
)

// Publisher delivers per-user match notifications.
type Publisher interface {
	PublishMatchFound(userID string, data []byte) error
}

// MatchResult is the payload published when a user is matched or times out.
// Each user receives it on their match.found.<user_id> subject.
type MatchResult struct {
	Timeout         bool         `json:"timeout,omitempty"`
	MatchID         string       `json:"match_id,omitempty"`
	PartnerID       string       `json:"partner_id,omitempty"`
	OppositionScore float64      `json:"opposition_score"`
	TopDifferences  []Difference `json:"top_differences,omitempty"`
}

// PublishMatchFound notifies both users of a match. Differences are given
// from UserA's point of view and are flipped for UserB.
func PublishMatchFound(pub Publisher, matchID string, m Match, diffs []Difference) error {
	score := m.Score
	if math.IsNaN(score) || math.IsInf(score, 0) {
		score = 0 // not representable in JSON
	}

	msgA := MatchResult{
		MatchID:         matchID,
		PartnerID:       m.UserB,
		OppositionScore: score,
		TopDifferences:  diffs,
	}
	if err := publishResult(pub, m.UserA, msgA); err != nil {
		return err
	}

	msgB := MatchResult{
		MatchID:         matchID,
		PartnerID:       m.UserA,
		OppositionScore: score,
		TopDifferences:  flipDifferences(diffs),
	}
	return publishResult(pub, m.UserB, msgB)
}

// PublishTimeout tells a user they left the pool without a match.
func PublishTimeout(pub Publisher, userID string) error {
	return publishResult(pub, userID, MatchResult{Timeout: true})
}

func publishResult(pub Publisher, userID string, msg MatchResult) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("matching: marshal result for %s: %w", userID, err)
	}
	if err := pub.PublishMatchFound(userID, data); err != nil {
		return fmt.Errorf("matching: publish match.found for %s: %w", userID, err)
	}
	return nil
}

func flipDifferences(diffs []Difference) []Difference {
	if diffs == nil {
		return nil
	}
	out := make([]Difference, len(diffs))
	for i, d := range diffs {
		out[i] = Difference{Index: d.Index, ValueA: d.ValueB, ValueB: d.ValueA, Gap: d.Gap}
	}
	return out
}
