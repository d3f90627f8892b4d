package similarity

import (
	"math"
	"sort"
)

// Cosine returns the cosine similarity of a and b in [-1, 1]. Empty,
// mismatched or zero-magnitude vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, na2, nb2 float64
	for i := range a {
		va := float64(a[i])
		vb := float64(b[i])
		dot += va * vb
		na2 += va * va
		nb2 += vb * vb
	}
	if na2 == 0 || nb2 == 0 {
		return 0
	}

	score := dot / (math.Sqrt(na2) * math.Sqrt(nb2))
	switch {
	case math.IsNaN(score):
		return 0
	case score > 1:
		return 1
	case score < -1:
		return -1
	}
	return score
}

type Scored[T any] struct {
	Item  T
	Score float64
}

// Rank scores every item that has a vector against query and orders them by
// descending score. Items without a vector are left out. Equal scores keep
// their input order.
func Rank[T any](items []T, query []float32, vector func(T) []float32) []Scored[T] {
	scored := make([]Scored[T], 0, len(items))
	for _, item := range items {
		v := vector(item)
		if len(v) == 0 {
			continue
		}
		scored = append(scored, Scored[T]{Item: item, Score: Cosine(query, v)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

func TopK[T any](scored []Scored[T], k int) []Scored[T] {
	if k < 0 {
		k = 0
	}
	if len(scored) > k {
		return scored[:k]
	}
	return scored
}
