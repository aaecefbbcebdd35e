package matching

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"testing"
)

// scenarioUsers returns the four-user example: A and B disagree on every
// question, C sits at the midpoint and D swings between extremes.
func scenarioUsers(t *testing.T) []User {
	t.Helper()
	return []User{
		mustUser(t, "A", 1, 2, 3),
		mustUser(t, "B", 7, 6, 5),
		mustUser(t, "C", 4, 4, 4),
		mustUser(t, "D", 1, 7, 1),
	}
}

func mustUser(t *testing.T, id string, opinions ...int) User {
	t.Helper()
	u, err := NewUser(id, opinions)
	if err != nil {
		t.Fatalf("NewUser(%q): %v", id, err)
	}
	return u
}

// randomUsers builds n users with 10 answers on a 1-7 scale.
func randomUsers(t *testing.T, n int, seed uint64) []User {
	t.Helper()
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	users := make([]User, n)
	for i := range users {
		opinions := make([]int, 10)
		for j := range opinions {
			opinions[j] = 1 + r.IntN(7)
		}
		users[i] = mustUser(t, fmt.Sprintf("user-%d", i), opinions...)
	}
	return users
}

// pairKey identifies a match regardless of side order.
func pairKey(m Match) string {
	if m.UserA < m.UserB {
		return m.UserA + "|" + m.UserB
	}
	return m.UserB + "|" + m.UserA
}

func pairKeys(matches []Match) []string {
	keys := make([]string, len(matches))
	for i, m := range matches {
		keys[i] = pairKey(m)
	}
	slices.Sort(keys)
	return keys
}

// ---------- scenario tests ----------

func TestFindMatches_FourUserScenario(t *testing.T) {
	scorers := map[string]Scorer{
		ScorerDifference:   SimpleDifferenceScorer{},
		ScorerEuclidean:    EuclideanScorer{},
		ScorerPolarization: DefaultPolarizationScorer(),
	}

	for name, scorer := range scorers {
		t.Run(name, func(t *testing.T) {
			matches := NewGreedyMatcher(scorer).FindMatches(scenarioUsers(t))

			if len(matches) != 2 {
				t.Fatalf("expected 2 matches, got %d: %+v", len(matches), matches)
			}
			if got := pairKey(matches[0]); got != "A|B" {
				t.Errorf("expected A/B committed first, got %s", got)
			}
			if got := pairKey(matches[1]); got != "C|D" {
				t.Errorf("expected C/D committed second, got %s", got)
			}
			if matches[0].Score <= matches[1].Score {
				t.Errorf("expected A/B score %v > C/D score %v", matches[0].Score, matches[1].Score)
			}
		})
	}
}

func TestFindMatches_DifferenceScores(t *testing.T) {
	matches := NewGreedyMatcher(SimpleDifferenceScorer{}).FindMatches(scenarioUsers(t))

	// A/B: |1-7|+|2-6|+|3-5| = 12 over 3 questions. C/D: 3+3+3 over 3.
	if matches[0].Score != 4 {
		t.Errorf("expected A/B score 4, got %v", matches[0].Score)
	}
	if matches[1].Score != 3 {
		t.Errorf("expected C/D score 3, got %v", matches[1].Score)
	}
}

func TestFindMatches_ThreeUsers(t *testing.T) {
	users := scenarioUsers(t)[:3]
	matches := NewGreedyMatcher(SimpleDifferenceScorer{}).FindMatches(users)

	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}

	absent := 0
	for _, u := range users {
		if !matches[0].Involves(u.ID) {
			absent++
		}
	}
	if absent != 1 {
		t.Errorf("expected exactly 1 unmatched user, got %d", absent)
	}
}

func TestFindMatches_IdenticalUsers(t *testing.T) {
	users := []User{
		mustUser(t, "twin-1", 3, 3, 3),
		mustUser(t, "twin-2", 3, 3, 3),
	}

	matches := NewGreedyMatcher(SimpleDifferenceScorer{}).FindMatches(users)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match even with zero opposition, got %d", len(matches))
	}
	if matches[0].Score != 0 {
		t.Errorf("expected score 0, got %v", matches[0].Score)
	}
}

func TestFindMatches_DuplicateIDsNeverSelfMatch(t *testing.T) {
	users := []User{
		mustUser(t, "x", 1, 1),
		mustUser(t, "x", 7, 7),
		mustUser(t, "y", 4, 4),
	}

	matches := NewGreedyMatcher(SimpleDifferenceScorer{}).FindMatches(users)
	for _, m := range matches {
		if m.UserA == m.UserB {
			t.Fatalf("self-match committed: %+v", m)
		}
	}
	if len(matches) != 1 || !matches[0].Involves("x") || !matches[0].Involves("y") {
		t.Errorf("expected a single x/y match, got %+v", matches)
	}
}

func TestFindMatches_FewerThanTwoUsers(t *testing.T) {
	m := NewGreedyMatcher(SimpleDifferenceScorer{})

	for _, users := range [][]User{nil, {}, {mustUser(t, "solo", 1)}} {
		matches := m.FindMatches(users)
		if matches == nil {
			t.Errorf("expected empty non-nil slice for %d users", len(users))
		}
		if len(matches) != 0 {
			t.Errorf("expected no matches for %d users, got %d", len(users), len(matches))
		}
	}
}

// ---------- property tests ----------

func TestFindMatches_LengthAndUniqueness(t *testing.T) {
	m := NewGreedyMatcher(DefaultPolarizationScorer())

	for n := 0; n <= 25; n++ {
		users := randomUsers(t, n, uint64(n))
		matches := m.FindMatches(users)

		if len(matches) != n/2 {
			t.Errorf("n=%d: expected %d matches, got %d", n, n/2, len(matches))
		}

		seen := make(map[string]bool)
		for _, match := range matches {
			if match.UserA == match.UserB {
				t.Errorf("n=%d: user %s matched with itself", n, match.UserA)
			}
			for _, id := range []string{match.UserA, match.UserB} {
				if seen[id] {
					t.Errorf("n=%d: user %s appears in more than one match", n, id)
				}
				seen[id] = true
			}
		}
	}
}

func TestFindMatches_Deterministic(t *testing.T) {
	users := randomUsers(t, 30, 42)
	m := NewGreedyMatcher(SimpleDifferenceScorer{})

	first := m.FindMatches(users)
	for i := 0; i < 5; i++ {
		again := m.FindMatches(users)
		if !slices.Equal(first, again) {
			t.Fatalf("run %d differs from first run:\n%+v\n%+v", i, first, again)
		}
	}
}

func TestFindMatches_DescendingScores(t *testing.T) {
	matches := NewGreedyMatcher(EuclideanScorer{}).FindMatches(randomUsers(t, 20, 7))

	for i := 1; i < len(matches); i++ {
		if matches[i].Score > matches[i-1].Score {
			t.Errorf("match %d score %v exceeds previous %v", i, matches[i].Score, matches[i-1].Score)
		}
	}
}

func TestFindMatches_SwapInputOrder(t *testing.T) {
	users := scenarioUsers(t)
	swapped := slices.Clone(users)
	swapped[0], swapped[1] = swapped[1], swapped[0]
	swapped[2], swapped[3] = swapped[3], swapped[2]

	for _, scorer := range []Scorer{SimpleDifferenceScorer{}, EuclideanScorer{}, DefaultPolarizationScorer()} {
		m := NewGreedyMatcher(scorer)
		a := pairKeys(m.FindMatches(users))
		b := pairKeys(m.FindMatches(swapped))
		if !slices.Equal(a, b) {
			t.Errorf("%T: swapping input order changed matches: %v vs %v", scorer, a, b)
		}
	}
}

// ---------- tie-breaking and edge-case tests ----------

func TestFindMatches_TiesFollowInputOrder(t *testing.T) {
	users := []User{
		mustUser(t, "u0", 1),
		mustUser(t, "u1", 1),
		mustUser(t, "u2", 1),
		mustUser(t, "u3", 1),
	}
	constant := ScorerFunc(func(a, b User) float64 { return 1 })

	matches := NewGreedyMatcher(constant).FindMatches(users)
	want := []Match{
		{UserA: "u0", UserB: "u1", Score: 1},
		{UserA: "u2", UserB: "u3", Score: 1},
	}
	if !slices.Equal(matches, want) {
		t.Errorf("expected %+v, got %+v", want, matches)
	}
}

func TestFindMatches_GreedyIsNotOptimal(t *testing.T) {
	scores := map[string]float64{
		"A|B": 10,
		"A|C": 9,
		"B|D": 9,
		"C|D": 1,
	}
	scorer := ScorerFunc(func(a, b User) float64 {
		return scores[pairKey(Match{UserA: a.ID, UserB: b.ID})]
	})
	users := []User{mustUser(t, "A", 1), mustUser(t, "B", 1), mustUser(t, "C", 1), mustUser(t, "D", 1)}

	matches := NewGreedyMatcher(scorer).FindMatches(users)

	// A/C + B/D totals 18, but greedy commits A/B first and is left with C/D.
	got := pairKeys(matches)
	want := []string{"A|B", "C|D"}
	if !slices.Equal(got, want) {
		t.Errorf("expected greedy pairs %v, got %v", want, got)
	}
}

func TestFindMatches_NaNScoresDoNotPanic(t *testing.T) {
	users := randomUsers(t, 9, 3)
	i := 0
	flaky := ScorerFunc(func(a, b User) float64 {
		i++
		if i%3 == 0 {
			return math.NaN()
		}
		return float64(i % 5)
	})

	matches := NewGreedyMatcher(flaky).FindMatches(users)
	if len(matches) != 4 {
		t.Errorf("expected 4 matches, got %d", len(matches))
	}

	allNaN := ScorerFunc(func(a, b User) float64 { return math.NaN() })
	matches = NewGreedyMatcher(allNaN).FindMatches(users)
	if len(matches) != 4 {
		t.Errorf("expected 4 matches with all-NaN scores, got %d", len(matches))
	}
}

func TestScoreAllPairs_EnumeratesEveryPairOnce(t *testing.T) {
	users := randomUsers(t, 6, 11)
	pairs := NewGreedyMatcher(SimpleDifferenceScorer{}).scoreAllPairs(users)

	if len(pairs) != 15 {
		t.Fatalf("expected 15 pairs, got %d", len(pairs))
	}
	k := 0
	for i := 0; i < 6; i++ {
		for j := i + 1; j < 6; j++ {
			if pairs[k].i != i || pairs[k].j != j {
				t.Errorf("pair %d: expected (%d,%d), got (%d,%d)", k, i, j, pairs[k].i, pairs[k].j)
			}
			k++
		}
	}
}

func TestCompareScoresDesc(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		a, b float64
		want int
	}{
		{2, 1, -1},
		{1, 2, 1},
		{1, 1, 0},
		{nan, 1, 0},
		{1, nan, 0},
		{nan, nan, 0},
	}
	for _, tt := range tests {
		if got := compareScoresDesc(tt.a, tt.b); got != tt.want {
			t.Errorf("compareScoresDesc(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

// ---------- FindMatchesContext tests ----------

func TestFindMatchesContext_MatchesSequential(t *testing.T) {
	users := randomUsers(t, 40, 99)
	m := NewGreedyMatcher(DefaultPolarizationScorer())
	want := m.FindMatches(users)

	for _, workers := range []int{0, 1, 3, 16} {
		got, err := m.FindMatchesContext(context.Background(), users, workers)
		if err != nil {
			t.Fatalf("workers=%d: unexpected error: %v", workers, err)
		}
		if !slices.Equal(got, want) {
			t.Errorf("workers=%d: parallel result differs from sequential", workers)
		}
	}
}

func TestFindMatchesContext_FewerThanTwoUsers(t *testing.T) {
	got, err := NewGreedyMatcher(SimpleDifferenceScorer{}).FindMatchesContext(context.Background(), nil, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

type failingScorer struct {
	SimpleDifferenceScorer
	failOn string
}

var errScoreUnavailable = errors.New("score unavailable")

func (f failingScorer) ScoreChecked(a, b User) (float64, error) {
	if a.ID == f.failOn || b.ID == f.failOn {
		return 0, errScoreUnavailable
	}
	return f.Score(a, b), nil
}

func TestFindMatchesContext_SurfacesScorerErrors(t *testing.T) {
	users := randomUsers(t, 8, 5)
	m := NewGreedyMatcher(failingScorer{failOn: "user-6"})

	matches, err := m.FindMatchesContext(context.Background(), users, 2)
	if !errors.Is(err, errScoreUnavailable) {
		t.Fatalf("expected errScoreUnavailable, got %v", err)
	}
	if matches != nil {
		t.Errorf("expected no matches on error, got %+v", matches)
	}
}

func TestFindMatchesContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewGreedyMatcher(SimpleDifferenceScorer{}).FindMatchesContext(ctx, randomUsers(t, 10, 1), 2)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
