package graph

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/ar90n/knngraph"
	"github.com/ar90n/knngraph/dataset"
	"github.com/ar90n/knngraph/similarity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_SignatureBits(t *testing.T) {
	testCases := []struct {
		Buckets int
		Want    int
	}{
		{1, 1}, {2, 1}, {3, 2}, {4, 2}, {5, 3}, {16, 4}, {17, 5}, {1024, 10},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.Want, signatureBits(tc.Buckets), "buckets = %d", tc.Buckets)
	}
}

func Test_HyperplaneFamily(t *testing.T) {
	h := NewHyperplaneFamily(rand.NewPCG(1, 2), 6, 3)
	assert.Equal(t, 6, h.Bits())
	assert.Equal(t, 3, h.Dim())

	v := []float64{0.3, -1.2, 2.0}
	scaled := []float64{0.6, -2.4, 4.0}
	opposite := []float64{-0.3, 1.2, -2.0}

	assert.Equal(t, h.Signature(v), h.Signature(scaled))
	assert.Less(t, h.Signature(v), uint64(1)<<6)

	// a generic opposite vector flips every sign
	assert.Equal(t, uint64(1)<<6-1, h.Signature(v)^h.Signature(opposite))

	for i := 0; i < 100; i++ {
		p := []float64{rand.NormFloat64(), rand.NormFloat64(), rand.NormFloat64()}
		b := h.Bucket(p, 5)
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 5)
	}
}

func Test_LSHVectors(t *testing.T) {
	const dim = 8
	nodes := vectorNodes(t, 400, dim)
	exec := newTestExecutor()
	ctx := context.Background()

	inner := NewLocalNNDescent[[]float64]().SetRho(1.0)
	g, err := NewLSHVectors(dim, inner).
		SetK(testK).
		SetStages(4).
		SetBuckets(4).
		SetLogger(knngraph.NoopLogger()).
		ComputeGraph(ctx, dataset.Parallelize(exec, nodes, 4))
	require.NoError(t, err)
	assert.Equal(t, 4, g.NumPartitions())

	lists := toMap(t, g)
	assert.Len(t, lists, len(nodes))
	checkLists(t, lists, testK)

	exact, err := NewBrute[[]float64](nil).Build(ctx, nodes, testK, similarity.Cosine)
	require.NoError(t, err)
	assert.Greater(t, recall(lists, exact), 0.5)
}

func Test_LSHBucketedWithBrute(t *testing.T) {
	nodes := textNodes(120)
	exec := newTestExecutor()

	// hash texts on their length and vowel count
	vector := func(s string) []float64 {
		vowels := 0
		for _, r := range s {
			switch r {
			case 'a', 'e', 'i', 'o', 'u':
				vowels++
			}
		}
		return []float64{float64(len(s)) - 60.0, float64(vowels) - 15.0}
	}

	g, err := NewLSHBucketed[string](2, vector, similarity.JaroWinkler, NewBrute[string](nil)).
		SetK(5).
		SetStages(3).
		SetBuckets(2).
		ComputeGraph(context.Background(), dataset.Parallelize(exec, nodes, 3))
	require.NoError(t, err)

	lists := toMap(t, g)
	assert.Len(t, lists, len(nodes))
	checkLists(t, lists, 5)
}

func Test_LSHDimMismatch(t *testing.T) {
	exec := newTestExecutor()
	nodes := []Node[[]float64]{
		NewNode("a", []float64{1, 2, 3}),
		NewNode("b", []float64{1, 2}),
	}

	_, err := NewLSHVectors(3, NewBrute[[]float64](nil)).
		ComputeGraph(context.Background(), dataset.Parallelize(exec, nodes, 2))
	require.Error(t, err)
	assert.ErrorIs(t, err, knngraph.ErrDimMismatch)
	assert.False(t, knngraph.IsConfigError(err))
}

func Test_LSHValidation(t *testing.T) {
	exec := newTestExecutor()
	nodes := dataset.Parallelize(exec, vectorNodes(t, 10, 2), 2)
	ctx := context.Background()
	inner := NewBrute[[]float64](nil)

	type TestCase struct {
		Name    string
		Builder *LSHBucketed[[]float64]
		Want    error
	}

	testCases := []TestCase{
		{Name: "dim", Builder: NewLSHVectors(0, inner), Want: knngraph.ErrInvalidDim},
		{Name: "stages", Builder: NewLSHVectors(2, inner).SetStages(0), Want: knngraph.ErrInvalidStages},
		{Name: "buckets", Builder: NewLSHVectors(2, inner).SetBuckets(0), Want: knngraph.ErrInvalidBuckets},
		{Name: "k", Builder: NewLSHVectors(2, inner).SetK(-1), Want: knngraph.ErrInvalidK},
		{Name: "inner", Builder: NewLSHVectors(2, nil), Want: knngraph.ErrNilBuilder},
		{Name: "similarity", Builder: NewLSHVectors(2, inner).SetSimilarity(nil), Want: knngraph.ErrNilSimilarity},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			_, err := tc.Builder.ComputeGraph(ctx, nodes)
			assert.ErrorIs(t, err, tc.Want)
			assert.True(t, knngraph.IsConfigError(err))
		})
	}
}
