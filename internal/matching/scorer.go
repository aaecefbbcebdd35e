package matching

import (
	"errors"
	"fmt"
	"math"

	"github.com/hupe1980/vecgo/distance"
)

// ErrUnknownScorer is returned by ScorerByName for unregistered names.
var ErrUnknownScorer = errors.New("matching: unknown scorer")

// Scorer measures how opposed two users are. Higher means a more desirable
// pairing. Implementations must be pure and must not depend on argument
// order.
type Scorer interface {
	Score(a, b User) float64
}

// CheckedScorer is implemented by scorers whose computation can fail.
// FindMatchesContext prefers ScoreChecked and returns its errors to the
// caller.
type CheckedScorer interface {
	Scorer
	ScoreChecked(a, b User) (float64, error)
}

// ScorerFunc adapts a plain function to the Scorer interface.
type ScorerFunc func(a, b User) float64

// Score calls f(a, b).
func (f ScorerFunc) Score(a, b User) float64 {
	return f(a, b)
}

// Scorer names accepted by ScorerByName.
const (
	ScorerDifference   = "difference"
	ScorerEuclidean    = "euclidean"
	ScorerPolarization = "polarization"
)

// ScorerByName returns the built-in scorer registered under name.
func ScorerByName(name string) (Scorer, error) {
	switch name {
	case ScorerDifference:
		return SimpleDifferenceScorer{}, nil
	case ScorerEuclidean:
		return EuclideanScorer{}, nil
	case ScorerPolarization:
		return DefaultPolarizationScorer(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScorer, name)
	}
}

// comparedLen is the number of dimensions two users are compared on.
// Vectors of different length are truncated to the shorter one.
func comparedLen(a, b User) int {
	return min(len(a.Opinions), len(b.Opinions))
}

// SimpleDifferenceScorer scores a pair by the mean absolute difference
// across the compared dimensions. Vectors are truncated to the shorter
// length; two users with nothing to compare score 0.
type SimpleDifferenceScorer struct{}

// Score implements Scorer.
func (SimpleDifferenceScorer) Score(a, b User) float64 {
	n := comparedLen(a, b)
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += math.Abs(float64(a.Opinions[i] - b.Opinions[i]))
	}
	return sum / float64(n)
}

// EuclideanScorer scores a pair by the Euclidean distance between their
// opinion vectors, truncated to the shorter length.
type EuclideanScorer struct{}

// Score implements Scorer.
func (EuclideanScorer) Score(a, b User) float64 {
	n := comparedLen(a, b)
	if n == 0 {
		return 0
	}
	return math.Sqrt(float64(distance.SquaredL2(toFloat32(a.Opinions[:n]), toFloat32(b.Opinions[:n]))))
}

func toFloat32(v []int) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// PolarizationScorer rewards raw disagreement and, on top of it, answers
// that fall on opposite sides of the scale midpoint. For each compared
// dimension the contribution is
//
//	DifferenceWeight*|a-b| + PolarizationWeight*(|a-m|+|b-m|)/2
//
// where the second term only applies when a and b are strictly on opposite
// sides of m = Midpoint. The result is averaged over the compared
// dimensions; vectors are truncated to the shorter length.
type PolarizationScorer struct {
	DifferenceWeight   float64
	PolarizationWeight float64
	Midpoint           float64
}

// DefaultPolarizationScorer returns a scorer tuned for the 1-7 agreement
// scale used by the questionnaire.
func DefaultPolarizationScorer() PolarizationScorer {
	return PolarizationScorer{
		DifferenceWeight:   1.0,
		PolarizationWeight: 0.5,
		Midpoint:           4,
	}
}

// Score implements Scorer.
func (p PolarizationScorer) Score(a, b User) float64 {
	n := comparedLen(a, b)
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		x, y := float64(a.Opinions[i]), float64(b.Opinions[i])
		sum += p.DifferenceWeight * math.Abs(x-y)
		if (x-p.Midpoint)*(y-p.Midpoint) < 0 {
			sum += p.PolarizationWeight * (math.Abs(x-p.Midpoint) + math.Abs(y-p.Midpoint)) / 2
		}
	}
	return sum / float64(n)
}
