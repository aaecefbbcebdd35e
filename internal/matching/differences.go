package matching

import (
	"cmp"
	"slices"
)

// Difference is one questionnaire dimension on which two users disagree.
type Difference struct {
	Index  int `json:"index"`
	ValueA int `json:"value_a"`
	ValueB int `json:"value_b"`
	Gap    int `json:"gap"`
}

// TopDifferences lists the dimensions where a and b disagree the most,
// largest gap first (ties by lower index). Dimensions with no gap are left
// out. A limit <= 0 returns every differing dimension.
func TopDifferences(a, b User, limit int) []Difference {
	n := comparedLen(a, b)
	diffs := make([]Difference, 0, n)
	for i := 0; i < n; i++ {
		gap := a.Opinions[i] - b.Opinions[i]
		if gap < 0 {
			gap = -gap
		}
		if gap == 0 {
			continue
		}
		diffs = append(diffs, Difference{Index: i, ValueA: a.Opinions[i], ValueB: b.Opinions[i], Gap: gap})
	}

	slices.SortStableFunc(diffs, func(x, y Difference) int {
		return cmp.Compare(y.Gap, x.Gap)
	})

	if limit > 0 && len(diffs) > limit {
		diffs = diffs[:limit]
	}
	return diffs
}
