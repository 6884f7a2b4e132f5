package graph

import (
	"context"
	"math/rand/v2"
	"sort"
	"strconv"
	"testing"

	"github.com/ar90n/knngraph/dataset"
	"github.com/ar90n/knngraph/synthetic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testK = 10

func textNodes(n int) []Node[string] {
	texts := synthetic.Texts(n, rand.NewPCG(7, 8))
	nodes := make([]Node[string], len(texts))
	for i, s := range texts {
		nodes[i] = NewNode(strconv.Itoa(i), s)
	}
	return nodes
}

func scalarNodes(t *testing.T, n int) []Node[float64] {
	g, err := synthetic.NewGaussian(1, 3, synthetic.WithSource(rand.NewPCG(9, 10)))
	require.NoError(t, err)

	nodes := make([]Node[float64], n)
	for i, v := range g.Scalars(n) {
		nodes[i] = NewNode(strconv.Itoa(i), v)
	}
	return nodes
}

func vectorNodes(t *testing.T, n, dim int) []Node[[]float64] {
	g, err := synthetic.NewGaussian(dim, 4, synthetic.WithOverlap(synthetic.OverlapLow), synthetic.WithSource(rand.NewPCG(11, 12)))
	require.NoError(t, err)

	nodes := make([]Node[[]float64], n)
	for i, v := range g.Points(n) {
		nodes[i] = NewNode(strconv.Itoa(i), v)
	}
	return nodes
}

func newTestExecutor() *dataset.Executor {
	return dataset.NewExecutor(dataset.WithWorkers(4))
}

// checkLists asserts the invariants every built list must hold.
func checkLists[T any](t *testing.T, lists map[string]*NeighborList[T], k int) {
	t.Helper()

	for owner, nl := range lists {
		require.NotNil(t, nl, owner)
		assert.LessOrEqual(t, nl.Len(), k)

		seen := map[string]struct{}{}
		for i, n := range nl.Neighbors() {
			assert.NotEqual(t, owner, n.Node.ID, "self neighbor")
			_, dup := seen[n.Node.ID]
			assert.False(t, dup, "duplicate neighbor %s of %s", n.Node.ID, owner)
			seen[n.Node.ID] = struct{}{}
			if 0 < i {
				assert.GreaterOrEqual(t, nl.At(i-1).Similarity, n.Similarity)
			}
		}
	}
}

// exactTopK recomputes the best k similarities of every node directly.
func exactTopK[T any](nodes []Node[T], k int, similarity Similarity[T]) map[string][]float64 {
	out := make(map[string][]float64, len(nodes))
	for _, a := range nodes {
		sims := make([]float64, 0, len(nodes)-1)
		for _, b := range nodes {
			if a.ID != b.ID {
				sims = append(sims, similarity(a.Value, b.Value))
			}
		}
		sort.Sort(sort.Reverse(sort.Float64Slice(sims)))
		if k < len(sims) {
			sims = sims[:k]
		}
		out[a.ID] = sims
	}
	return out
}

// recall returns the mean fraction of the exact neighbors found per node.
func recall[T any](approx, exact map[string]*NeighborList[T]) float64 {
	total := 0.0
	for id, want := range exact {
		if want.Len() == 0 {
			continue
		}
		total += float64(want.CountCommons(approx[id])) / float64(want.Len())
	}
	return total / float64(len(exact))
}

func toMap[T any](t *testing.T, g *Graph[T]) map[string]*NeighborList[T] {
	m, err := g.ToMap(context.Background())
	require.NoError(t, err)
	return m
}
