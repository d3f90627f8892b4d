package similarity

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineEdgeCases(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"nil", nil, []float32{1}, 0},
		{"empty", []float32{}, []float32{}, 0},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 2}, []float32{-1, -2}, -1},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 1e-9)
		})
	}
}

func TestCosineBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		n := 1 + rng.Intn(32)
		a := make([]float32, n)
		b := make([]float32, n)
		for j := range a {
			a[j] = rng.Float32()*2 - 1
			b[j] = rng.Float32()*2 - 1
		}
		s := Cosine(a, b)
		assert.GreaterOrEqual(t, s, -1.0)
		assert.LessOrEqual(t, s, 1.0)
		assert.InDelta(t, 1.0, Cosine(a, a), 1e-6)
	}
}

type item struct {
	name string
	vec  []float32
}

func TestRankOrdersAndSkipsMissingVectors(t *testing.T) {
	items := []item{
		{"far", []float32{0, 1}},
		{"none", nil},
		{"close", []float32{1, 0.1}},
		{"tie-a", []float32{1, 1}},
		{"tie-b", []float32{2, 2}},
	}
	query := []float32{1, 0}

	ranked := Rank(items, query, func(i item) []float32 { return i.vec })
	require.Len(t, ranked, 4)

	names := make([]string, len(ranked))
	for i, r := range ranked {
		names[i] = r.Item.name
	}
	assert.Equal(t, []string{"close", "tie-a", "tie-b", "far"}, names)

	again := Rank(items, query, func(i item) []float32 { return i.vec })
	assert.Equal(t, ranked, again)
}

func TestTopK(t *testing.T) {
	scored := []Scored[int]{{1, 0.9}, {2, 0.8}, {3, 0.7}}
	assert.Len(t, TopK(scored, 5), 3)
	assert.Len(t, TopK(scored, 2), 2)
	assert.Empty(t, TopK(scored, 0))
}
