package matching

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"
)

// scoredPair is a candidate pairing of users[i] and users[j], i < j.
type scoredPair struct {
	i, j  int
	score float64
}

// GreedyMatcher pairs users with maximum opposition using a greedy pass over
// all candidate pairs, highest score first.
//
//  1. Score every unordered pair: O(n²) scorer calls.
//  2. Stable sort by score, descending: O(n² log n).
//  3. Walk the sorted pairs, committing a pair when both users are still
//     free: O(n²).
//
// The result is not guaranteed to be a maximum-weight matching. A
// GreedyMatcher holds no state between calls and is safe for concurrent use.
type GreedyMatcher struct {
	scorer Scorer
}

// NewGreedyMatcher creates a matcher bound to the given scorer.
func NewGreedyMatcher(s Scorer) *GreedyMatcher {
	return &GreedyMatcher{scorer: s}
}

// FindMatches pairs users and returns the committed matches in descending
// score order. Fewer than two users yields an empty slice. With an odd
// number of users exactly one is left out.
func (m *GreedyMatcher) FindMatches(users []User) []Match {
	if len(users) < 2 {
		return []Match{}
	}
	pairs := m.scoreAllPairs(users)
	sortPairs(pairs)
	return greedySelect(users, pairs)
}

// FindMatchesContext is FindMatches with the scoring phase spread across
// workers goroutines. Each worker fills a fixed index range, so the merged
// candidate list is identical to the sequential one and so is the result.
// Errors from a CheckedScorer and context cancellation abort the run.
func (m *GreedyMatcher) FindMatchesContext(ctx context.Context, users []User, workers int) ([]Match, error) {
	if len(users) < 2 {
		return []Match{}, nil
	}
	pairs, err := m.scoreAllPairsParallel(ctx, users, workers)
	if err != nil {
		return nil, err
	}
	sortPairs(pairs)
	return greedySelect(users, pairs), nil
}

// scoreAllPairs returns all n*(n-1)/2 scored pairs in enumeration order:
// ascending i, then ascending j.
func (m *GreedyMatcher) scoreAllPairs(users []User) []scoredPair {
	n := len(users)
	pairs := make([]scoredPair, 0, pairCount(n))
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			pairs = append(pairs, scoredPair{i: i, j: j, score: m.scorer.Score(users[i], users[j])})
		}
	}
	return pairs
}

func (m *GreedyMatcher) scoreAllPairsParallel(ctx context.Context, users []User, workers int) ([]scoredPair, error) {
	n := len(users)
	pairs := make([]scoredPair, pairCount(n))

	// offset[i] is the index of pair (i, i+1) in enumeration order.
	offset := make([]int, n)
	for i := 1; i < n; i++ {
		offset[i] = offset[i-1] + (n - i)
	}

	checked, _ := m.scorer.(CheckedScorer)

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i := 0; i < n-1; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for j := i + 1; j < n; j++ {
				var score float64
				if checked != nil {
					s, err := checked.ScoreChecked(users[i], users[j])
					if err != nil {
						return fmt.Errorf("matching: score %s/%s: %w", users[i].ID, users[j].ID, err)
					}
					score = s
				} else {
					score = m.scorer.Score(users[i], users[j])
				}
				pairs[offset[i]+j-i-1] = scoredPair{i: i, j: j, score: score}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pairs, nil
}

func pairCount(n int) int {
	return n * (n - 1) / 2
}

// sortPairs orders pairs by score, highest first. The sort is stable so
// equal scores keep enumeration order. Scores that cannot be ordered (NaN)
// compare equal to everything.
func sortPairs(pairs []scoredPair) {
	slices.SortStableFunc(pairs, func(a, b scoredPair) int {
		return compareScoresDesc(a.score, b.score)
	})
}

func compareScoresDesc(a, b float64) int {
	if a != a || b != b {
		return 0
	}
	return cmp.Compare(b, a)
}

// greedySelect walks the sorted pairs once. A user committed to a match is
// never reconsidered, even for a different partner.
func greedySelect(users []User, pairs []scoredPair) []Match {
	matched := make(map[string]struct{}, len(users))
	matches := make([]Match, 0, len(users)/2)

	for _, p := range pairs {
		a, b := users[p.i].ID, users[p.j].ID
		if a == b {
			continue
		}
		if _, ok := matched[a]; ok {
			continue
		}
		if _, ok := matched[b]; ok {
			continue
		}
		matched[a] = struct{}{}
		matched[b] = struct{}{}
		matches = append(matches, Match{UserA: a, UserB: b, Score: p.score})
	}

	return matches
}
