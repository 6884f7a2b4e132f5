package partition

import (
	"context"
	"math"
	"math/rand/v2"
	"strconv"
	"testing"

	"github.com/ar90n/knngraph"
	"github.com/ar90n/knngraph/dataset"
	"github.com/ar90n/knngraph/graph"
	"github.com/ar90n/knngraph/similarity"
	"github.com/ar90n/knngraph/synthetic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bruteGraph(t *testing.T, n int) *graph.Graph[float64] {
	t.Helper()

	gen, err := synthetic.NewGaussian(1, 3, synthetic.WithSource(rand.NewPCG(1, 2)))
	require.NoError(t, err)

	nodes := make([]graph.Node[float64], n)
	for i, v := range gen.Scalars(n) {
		nodes[i] = graph.NewNode(strconv.Itoa(i), v)
	}

	exec := dataset.NewExecutor(dataset.WithWorkers(4))
	g, err := graph.NewBrute[float64](similarity.InverseDistance).
		SetK(10).
		ComputeGraph(context.Background(), dataset.Parallelize(exec, nodes, 4))
	require.NoError(t, err)
	return g
}

func Test_PartitionCount(t *testing.T) {
	g := bruteGraph(t, 600)
	ctx := context.Background()
	before, err := g.ToMap(ctx)
	require.NoError(t, err)

	for _, partitions := range []int{1, 3, 8} {
		for _, iterations := range []int{0, 1, 5} {
			t.Run(strconv.Itoa(partitions)+"x"+strconv.Itoa(iterations), func(t *testing.T) {
				partitioned, err := New[float64]().Partition(ctx, g, partitions, iterations)
				require.NoError(t, err)
				assert.Equal(t, partitions, partitioned.NumPartitions())

				parts, err := partitioned.Partitions(ctx)
				require.NoError(t, err)
				assert.Len(t, parts, partitions)

				capacity := int(math.Ceil(600.0 / float64(partitions) * DefaultBalance))
				for _, part := range parts {
					assert.LessOrEqual(t, len(part), capacity)
				}

				after, err := partitioned.ToMap(ctx)
				require.NoError(t, err)
				assert.Len(t, after, len(before))
				for id, nl := range before {
					assert.Equal(t, nl.Neighbors(), after[id].Neighbors())
				}
			})
		}
	}
}

func Test_PartitionImprovesLocality(t *testing.T) {
	g := bruteGraph(t, 1000)
	ctx := context.Background()

	random, err := New[float64]().Partition(ctx, g, 8, 0)
	require.NoError(t, err)
	balanced, err := New[float64]().Partition(ctx, g, 8, 5)
	require.NoError(t, err)

	before, err := Locality(ctx, random)
	require.NoError(t, err)
	after, err := Locality(ctx, balanced)
	require.NoError(t, err)

	assert.Less(t, before, 0.3)
	assert.Greater(t, after, 0.8)
}

func Test_PartitionMoveHook(t *testing.T) {
	g := bruteGraph(t, 300)

	rounds := 0
	total := 0
	p := New[float64](
		WithBalance(1.5),
		WithLogger(knngraph.NoopLogger()),
		WithMoveHook(func(round, moves int) {
			rounds = round
			total += moves
		}),
	)
	assert.Equal(t, 1.5, p.Balance())

	_, err := p.Partition(context.Background(), g, 4, 3)
	require.NoError(t, err)
	assert.Positive(t, rounds)
	assert.LessOrEqual(t, rounds, 3)
	assert.LessOrEqual(t, total, 3*300)
}

func Test_PartitionValidation(t *testing.T) {
	g := bruteGraph(t, 20)
	ctx := context.Background()

	_, err := New[float64]().Partition(ctx, g, 0, 1)
	assert.ErrorIs(t, err, knngraph.ErrInvalidPartitions)

	_, err = New[float64]().Partition(ctx, g, 2, -1)
	assert.ErrorIs(t, err, knngraph.ErrInvalidIterations)

	_, err = New[float64](WithBalance(0.5)).Partition(ctx, g, 2, 1)
	assert.ErrorIs(t, err, knngraph.ErrInvalidBalance)
}

func Test_PartitionEmptyGraph(t *testing.T) {
	exec := dataset.NewExecutor()
	g := graph.NewGraph(dataset.Empty[graph.Vertex[float64]](exec, 2))

	partitioned, err := New[float64]().Partition(context.Background(), g, 5, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, partitioned.NumPartitions())

	locality, err := Locality(context.Background(), partitioned)
	require.NoError(t, err)
	assert.Equal(t, 0.0, locality)
}

func Test_Majority(t *testing.T) {
	best, tie := majority([]int{1, 4, 2})
	assert.Equal(t, 1, best)
	assert.False(t, tie)

	_, tie = majority([]int{3, 1, 3})
	assert.True(t, tie)

	best, tie = majority([]int{2, 2, 5})
	assert.Equal(t, 2, best)
	assert.False(t, tie)
}

func Test_Grow(t *testing.T) {
	g := bruteGraph(t, 200)
	vertices, err := g.Collect(context.Background())
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(3, 4))
	assignment, sizes := grow(rng, vertices, 3)
	assert.Len(t, assignment, 200)
	assert.Equal(t, 200, sizes[0]+sizes[1]+sizes[2])
	for _, size := range sizes {
		assert.InDelta(t, 200.0/3.0, float64(size), 1.0)
	}

	assignment, sizes = deal(rng, vertices, 7)
	assert.Len(t, assignment, 200)
	for _, size := range sizes {
		assert.InDelta(t, 200.0/7.0, float64(size), 1.0)
	}
}
