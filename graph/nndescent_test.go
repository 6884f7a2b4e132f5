package graph

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/ar90n/knngraph"
	"github.com/ar90n/knngraph/dataset"
	"github.com/ar90n/knngraph/similarity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_NNDescentOnText(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in short mode")
	}

	nodes := textNodes(726)
	exec := newTestExecutor()

	iterations := 0
	g, err := NewNNDescent[string](similarity.WordJaccard).
		SetK(testK).
		SetIterationHook(func(iteration, changes int) {
			iterations = iteration
			assert.GreaterOrEqual(t, changes, 0)
		}).
		ComputeGraph(context.Background(), dataset.Parallelize(exec, nodes, 4))
	require.NoError(t, err)
	assert.LessOrEqual(t, iterations, defaultMaxIterations)
	assert.Positive(t, iterations)

	lists := toMap(t, g)
	assert.Len(t, lists, len(nodes))
	checkLists(t, lists, testK)
	assert.Positive(t, lists["0"].Len())
}

func Test_NNDescentRecall(t *testing.T) {
	nodes := scalarNodes(t, 500)
	exec := newTestExecutor()
	ctx := context.Background()

	exact, err := NewBrute[float64](similarity.InverseDistance).
		SetK(testK).
		ComputeGraph(ctx, dataset.Parallelize(exec, nodes, 4))
	require.NoError(t, err)

	approx, err := NewNNDescent[float64](similarity.InverseDistance).
		SetK(testK).
		SetRho(1.0).
		SetMaxIterations(20).
		SetLogger(knngraph.NoopLogger()).
		ComputeGraph(ctx, dataset.Parallelize(exec, nodes, 4))
	require.NoError(t, err)

	approxLists := toMap(t, approx)
	checkLists(t, approxLists, testK)
	assert.Greater(t, recall(approxLists, toMap(t, exact)), 0.8)
}

func Test_NNDescentStopping(t *testing.T) {
	exec := newTestExecutor()
	ctx := context.Background()

	rounds := 0
	_, err := NewNNDescent[float64](similarity.InverseDistance).
		SetK(5).
		SetDelta(0.0).
		SetMaxIterations(3).
		SetIterationHook(func(int, int) { rounds++ }).
		ComputeGraph(ctx, dataset.Parallelize(exec, scalarNodes(t, 100), 2))
	require.NoError(t, err)
	assert.Equal(t, 3, rounds)

	// every node already knows all others, so the first round changes nothing
	rounds = 0
	_, err = NewNNDescent[float64](similarity.InverseDistance).
		SetK(5).
		SetIterationHook(func(_, changes int) {
			rounds++
			assert.Equal(t, 0, changes)
		}).
		ComputeGraph(ctx, dataset.Parallelize(exec, scalarNodes(t, 4), 2))
	require.NoError(t, err)
	assert.Equal(t, 1, rounds)

	// zero rounds returns the random graph
	g, err := NewNNDescent[float64](similarity.InverseDistance).
		SetK(5).
		SetMaxIterations(0).
		ComputeGraph(ctx, dataset.Parallelize(exec, scalarNodes(t, 100), 2))
	require.NoError(t, err)
	lists := toMap(t, g)
	checkLists(t, lists, 5)
	for _, nl := range lists {
		assert.Equal(t, 5, nl.Len())
	}
}

// countingSimilarity wraps InverseDistance and counts its calls.
func countingSimilarity(calls *atomic.Int64) Similarity[float64] {
	return func(a, b float64) float64 {
		calls.Add(1)
		return similarity.InverseDistance(a, b)
	}
}

func Test_NNDescentSkipsLinkedPairs(t *testing.T) {
	exec := newTestExecutor()
	ctx := context.Background()

	// every node lists every other after init, so rounds score nothing
	var calls atomic.Int64
	_, err := NewNNDescent[float64](countingSimilarity(&calls)).
		SetK(5).
		SetDelta(0.0).
		SetMaxIterations(3).
		ComputeGraph(ctx, dataset.Parallelize(exec, scalarNodes(t, 4), 2))
	require.NoError(t, err)
	assert.Equal(t, int64(12), calls.Load())

	// once a round changes nothing, no entry is new and the next round
	// makes no calls at all
	calls.Store(0)
	var perRound, changed []int64
	last := int64(0)
	_, err = NewNNDescent[float64](countingSimilarity(&calls)).
		SetK(5).
		SetRho(1.0).
		SetDelta(0.0).
		SetMaxIterations(20).
		SetIterationHook(func(_, changes int) {
			now := calls.Load()
			perRound = append(perRound, now-last)
			changed = append(changed, int64(changes))
			last = now
		}).
		ComputeGraph(ctx, dataset.Parallelize(exec, scalarNodes(t, 60), 3))
	require.NoError(t, err)
	require.Len(t, perRound, 20)

	settled := -1
	for i, c := range changed {
		if c == 0 {
			settled = i
			break
		}
	}
	require.GreaterOrEqual(t, settled, 0)
	require.Less(t, settled, len(perRound)-1)
	for _, c := range perRound[settled+1:] {
		assert.Equal(t, int64(0), c)
	}
}

func Test_LocalNNDescentSkipsLinkedPairs(t *testing.T) {
	ctx := context.Background()

	var calls atomic.Int64
	lists, err := NewLocalNNDescent[float64]().
		SetDelta(0.0).
		SetMaxIterations(3).
		Build(ctx, scalarNodes(t, 4), 5, countingSimilarity(&calls))
	require.NoError(t, err)
	checkLists(t, lists, 5)
	assert.Equal(t, int64(12), calls.Load())

	// rounds after convergence only touch old pairs, which are skipped
	nodes := scalarNodes(t, 60)
	state := newLocalNNDescent(nodes, 5, 1.0, countingSimilarity(&calls), 2)
	state.randomize()
	settled := false
	for i := 0; i < 30 && !settled; i++ {
		changes, err := state.Update(ctx)
		require.NoError(t, err)
		settled = changes == 0
	}
	require.True(t, settled)

	calls.Store(0)
	changes, err := state.Update(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), changes)
	assert.Equal(t, int64(0), calls.Load())
}

func Test_NNDescentSmallInputs(t *testing.T) {
	exec := newTestExecutor()
	ctx := context.Background()
	builder := NewNNDescent[float64](similarity.InverseDistance).SetK(4)

	g, err := builder.ComputeGraph(ctx, dataset.Parallelize(exec, []Node[float64]{}, 2))
	require.NoError(t, err)
	count, err := g.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	nodes := []Node[float64]{NewNode("a", 0.0), NewNode("b", 1.0), NewNode("c", 3.0)}
	g, err = builder.ComputeGraph(ctx, dataset.Parallelize(exec, nodes, 2))
	require.NoError(t, err)
	lists := toMap(t, g)
	assert.Equal(t, []string{"b", "c"}, ids(lists["a"]))
	assert.Equal(t, []string{"a", "c"}, ids(lists["b"]))
}

func Test_NNDescentValidation(t *testing.T) {
	exec := newTestExecutor()
	nodes := dataset.Parallelize(exec, scalarNodes(t, 10), 2)
	ctx := context.Background()

	type TestCase struct {
		Name    string
		Builder *NNDescent[float64]
		Want    error
	}

	testCases := []TestCase{
		{Name: "k", Builder: NewNNDescent[float64](similarity.InverseDistance).SetK(0), Want: knngraph.ErrInvalidK},
		{Name: "rho zero", Builder: NewNNDescent[float64](similarity.InverseDistance).SetRho(0.0), Want: knngraph.ErrInvalidRho},
		{Name: "rho above one", Builder: NewNNDescent[float64](similarity.InverseDistance).SetRho(1.5), Want: knngraph.ErrInvalidRho},
		{Name: "delta", Builder: NewNNDescent[float64](similarity.InverseDistance).SetDelta(-0.1), Want: knngraph.ErrInvalidDelta},
		{Name: "iterations", Builder: NewNNDescent[float64](similarity.InverseDistance).SetMaxIterations(-1), Want: knngraph.ErrInvalidIterations},
		{Name: "similarity", Builder: NewNNDescent[float64](nil), Want: knngraph.ErrNilSimilarity},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			_, err := tc.Builder.ComputeGraph(ctx, nodes)
			assert.ErrorIs(t, err, tc.Want)
		})
	}
}

func Test_LocalNNDescentBuild(t *testing.T) {
	nodes := scalarNodes(t, 300)
	ctx := context.Background()

	exact, err := NewBrute[float64](nil).Build(ctx, nodes, testK, similarity.InverseDistance)
	require.NoError(t, err)

	approx, err := NewLocalNNDescent[float64]().
		SetRho(1.0).
		SetMaxIterations(20).
		SetMaxGoroutines(0).
		Build(ctx, nodes, testK, similarity.InverseDistance)
	require.NoError(t, err)

	assert.Len(t, approx, len(nodes))
	checkLists(t, approx, testK)
	assert.Greater(t, recall(approx, exact), 0.8)

	// the distributed builder delegates to the local one
	viaBuilder, err := NewNNDescent[float64](nil).Build(ctx, nodes[:20], 3, similarity.InverseDistance)
	require.NoError(t, err)
	assert.Len(t, viaBuilder, 20)
	checkLists(t, viaBuilder, 3)
}

func Test_LocalNNDescentTinyInputs(t *testing.T) {
	ctx := context.Background()
	builder := NewLocalNNDescent[float64]()

	lists, err := builder.Build(ctx, nil, 3, similarity.InverseDistance)
	require.NoError(t, err)
	assert.Empty(t, lists)

	lists, err = builder.Build(ctx, []Node[float64]{NewNode("only", 1.0)}, 3, similarity.InverseDistance)
	require.NoError(t, err)
	assert.Equal(t, 0, lists["only"].Len())

	_, err = builder.SetRho(2.0).Build(ctx, []Node[float64]{NewNode("only", 1.0)}, 3, similarity.InverseDistance)
	assert.ErrorIs(t, err, knngraph.ErrInvalidRho)
}

func Test_Sample(t *testing.T) {
	rng := newTaskRand()
	items := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	assert.Len(t, sample(rng, append([]int{}, items...), 0.5), 5)
	assert.Len(t, sample(rng, append([]int{}, items...), 0.01), 1)
	assert.Len(t, sample(rng, append([]int{}, items...), 1.0), 10)
	assert.Empty(t, sample(rng, []int{}, 0.5))
}
