package graph

import (
	"context"
	"slices"

	"github.com/ar90n/knngraph"
	"github.com/ar90n/knngraph/common"
	"github.com/ar90n/knngraph/dataset"
	"github.com/cockroachdb/errors"
)

const (
	defaultRho           = 0.5
	defaultDelta         = 0.001
	defaultMaxIterations = 10
)

// NNDescent refines a random k-nn graph by comparing neighbors of
// neighbors. Every round is a shuffle of sampled candidates followed by a
// merge into the current lists; rounds stop once fewer than
// delta * n * k entries changed or after maxIterations rounds. A pair is
// scored only when one side entered a list since it was last sampled and
// neither side lists the other yet.
type NNDescent[T any] struct {
	k             int
	rho           float64
	delta         float64
	maxIterations int
	maxGoroutines int
	similarity    Similarity[T]
	logger        *knngraph.Logger
	hook          func(iteration, changes int)
}

func NewNNDescent[T any](similarity Similarity[T]) *NNDescent[T] {
	return &NNDescent[T]{
		k:             defaultK,
		rho:           defaultRho,
		delta:         defaultDelta,
		maxIterations: defaultMaxIterations,
		maxGoroutines: 1,
		similarity:    similarity,
		logger:        knngraph.NoopLogger(),
	}
}

func (nd *NNDescent[T]) SetK(k int) *NNDescent[T] {
	nd.k = k
	return nd
}

func (nd *NNDescent[T]) SetRho(rho float64) *NNDescent[T] {
	nd.rho = rho
	return nd
}

func (nd *NNDescent[T]) SetDelta(delta float64) *NNDescent[T] {
	nd.delta = delta
	return nd
}

func (nd *NNDescent[T]) SetMaxIterations(maxIterations int) *NNDescent[T] {
	nd.maxIterations = maxIterations
	return nd
}

// SetMaxGoroutines bounds the join pool used by Build.
func (nd *NNDescent[T]) SetMaxGoroutines(maxGoroutines int) *NNDescent[T] {
	nd.maxGoroutines = common.GetProcNum(maxGoroutines)
	return nd
}

func (nd *NNDescent[T]) SetSimilarity(similarity Similarity[T]) *NNDescent[T] {
	nd.similarity = similarity
	return nd
}

func (nd *NNDescent[T]) SetLogger(logger *knngraph.Logger) *NNDescent[T] {
	nd.logger = logger.OrNoop()
	return nd
}

// SetIterationHook registers f to be called after every round with the
// round number, starting at 1, and the number of changed entries.
func (nd *NNDescent[T]) SetIterationHook(f func(iteration, changes int)) *NNDescent[T] {
	nd.hook = f
	return nd
}

func (nd *NNDescent[T]) validate() error {
	if err := validateK(nd.k); err != nil {
		return err
	}
	if err := validateSimilarity(nd.similarity); err != nil {
		return err
	}
	return validateDescent(nd.rho, nd.delta, nd.maxIterations)
}

func validateDescent(rho, delta float64, maxIterations int) error {
	if rho <= 0.0 || 1.0 < rho {
		return errors.Wrapf(knngraph.ErrInvalidRho, "rho = %g", rho)
	}
	if delta < 0.0 || 1.0 < delta {
		return errors.Wrapf(knngraph.ErrInvalidDelta, "delta = %g", delta)
	}
	if maxIterations < 0 {
		return errors.Wrapf(knngraph.ErrInvalidIterations, "max iterations = %d", maxIterations)
	}
	return nil
}

func (nd *NNDescent[T]) ComputeGraph(ctx context.Context, nodes *dataset.Dataset[Node[T]]) (*Graph[T], error) {
	if err := nd.validate(); err != nil {
		return nil, err
	}

	current, n, err := nd.initialize(ctx, nodes)
	if err != nil {
		return nil, err
	}

	if n < 2 {
		return NewGraph(current), nil
	}

	parts := nodes.NumPartitions()
	threshold := nd.delta * float64(n*nd.k)
	changes := dataset.NewAccumulator(0, func(a, b int) int { return a + b })
	for i := 1; i <= nd.maxIterations; i++ {
		next, err := nd.round(ctx, current, parts, changes)
		if err != nil {
			return nil, errors.Wrapf(err, "nndescent round %d", i)
		}
		current = next

		c := changes.Value()
		changes.Reset()
		nd.logger.Debug("nndescent round", "iteration", i, "changes", c)
		if nd.hook != nil {
			nd.hook(i, c)
		}
		if float64(c) < threshold {
			break
		}
	}

	g := NewGraph(current)
	nd.logger.Debug("nndescent graph computed", "k", nd.k, "nodes", n, "partitions", g.NumPartitions())
	return g, nil
}

// initialize gives every node k random neighbors. The nodes are collected
// once and shared read-only with the partition tasks.
func (nd *NNDescent[T]) initialize(ctx context.Context, nodes *dataset.Dataset[Node[T]]) (*dataset.Dataset[Vertex[T]], int, error) {
	all, err := nodes.Collect(ctx)
	if err != nil {
		return nil, 0, err
	}

	k := nd.k
	similarity := nd.similarity
	initial, err := dataset.MapPartitions(nodes, func(ctx context.Context, _ int, items []Node[T]) ([]Vertex[T], error) {
		rng := newTaskRand()
		out := make([]Vertex[T], 0, len(items))
		for _, a := range items {
			nl := NewNeighborList[T](k, a.ID)
			if len(all)-1 <= k {
				for _, other := range all {
					nl.Add(Neighbor[T]{Node: other, Similarity: similarity(a.Value, other.Value)})
				}
			} else {
				for nl.Len() < k {
					other := all[rng.IntN(len(all))]
					if other.ID == a.ID || nl.Contains(other.ID) {
						continue
					}
					nl.Add(Neighbor[T]{Node: other, Similarity: similarity(a.Value, other.Value)})
				}
			}
			out = append(out, Vertex[T]{Node: a, Neighbors: nl})
		}
		return out, ctx.Err()
	}).Named("nndescent-init").Materialize(ctx)
	if err != nil {
		return nil, 0, err
	}

	return initial, len(all), nil
}

// membership places a node in the candidate group of Group. New is false
// when the edge behind it already took part in a join.
type membership struct {
	Group string
	New   bool
}

// candidate is a group member with the ids it lists at the start of the
// round.
type candidate[T any] struct {
	Node  Node[T]
	Known []string
	New   bool
}

// sampled is a vertex whose entries picked for this round are marked old,
// along with the memberships it announces.
type sampled[T any] struct {
	Vertex  Vertex[T]
	Members []dataset.Pair[string, membership]
}

// round runs one refinement step and materializes the refined graph. The
// number of changed entries is added to changes.
func (nd *NNDescent[T]) round(ctx context.Context, current *dataset.Dataset[Vertex[T]], parts int, changes *dataset.Accumulator[int]) (*dataset.Dataset[Vertex[T]], error) {
	rho := nd.rho
	k := nd.k
	similarity := nd.similarity

	// forward edges put the neighbor in the owner's group, reverse edges
	// put the owner in the neighbor's group
	marked, err := dataset.MapPartitions(current, func(ctx context.Context, _ int, items []Vertex[T]) ([]sampled[T], error) {
		rng := newTaskRand()
		out := make([]sampled[T], 0, len(items))
		for _, v := range items {
			nl := v.Neighbors.Clone()
			var fresh, old []int
			for i := 0; i < nl.Len(); i++ {
				if nl.isNew(i) {
					fresh = append(fresh, i)
				} else {
					old = append(old, i)
				}
			}
			fresh = sample(rng, fresh, rho)
			for _, i := range fresh {
				nl.markOld(i)
			}

			members := make([]dataset.Pair[string, membership], 0, 2*nl.Len())
			for _, i := range fresh {
				members = append(members, dataset.NewPair(nl.At(i).Node.ID, membership{Group: v.Node.ID, New: true}))
			}
			for _, i := range old {
				members = append(members, dataset.NewPair(nl.At(i).Node.ID, membership{Group: v.Node.ID}))
			}
			for _, i := range sample(rng, slices.Clone(fresh), rho) {
				members = append(members, dataset.NewPair(v.Node.ID, membership{Group: nl.At(i).Node.ID, New: true}))
			}
			for _, i := range sample(rng, slices.Clone(old), rho) {
				members = append(members, dataset.NewPair(v.Node.ID, membership{Group: nl.At(i).Node.ID}))
			}

			out = append(out, sampled[T]{Vertex: Vertex[T]{Node: v.Node, Neighbors: nl}, Members: members})
		}
		return out, ctx.Err()
	}).Named("nndescent-sample").Materialize(ctx)
	if err != nil {
		return nil, err
	}

	vertices := dataset.Map(marked, func(s sampled[T]) Vertex[T] {
		return s.Vertex
	})
	members := dataset.FlatMap(marked, func(s sampled[T]) []dataset.Pair[string, membership] {
		return s.Members
	})

	withLists, err := dataset.CoGroup(ctx, dataset.Map(vertices, keyed[T]), members, parts)
	if err != nil {
		return nil, err
	}

	candidates := dataset.MapPartitions(withLists, func(ctx context.Context, _ int, items []dataset.Pair[string, dataset.CoGrouped[Vertex[T], membership]]) ([]dataset.Pair[string, candidate[T]], error) {
		var out []dataset.Pair[string, candidate[T]]
		for _, item := range items {
			if len(item.Value.Left) == 0 {
				continue
			}

			v := item.Value.Left[0]
			known := v.Neighbors.ids()
			for _, m := range item.Value.Right {
				out = append(out, dataset.NewPair(m.Group, candidate[T]{Node: v.Node, Known: known, New: m.New}))
			}
		}
		return out, ctx.Err()
	}).Named("nndescent-candidates")

	groups, err := dataset.GroupByKey(ctx, candidates, parts)
	if err != nil {
		return nil, err
	}

	proposals := dataset.MapPartitions(groups, func(ctx context.Context, _ int, items []dataset.Pair[string, []candidate[T]]) ([]dataset.Pair[string, Vertex[T]], error) {
		lists := map[string]*Vertex[T]{}
		propose := func(owner, other Node[T], sim float64) {
			v, ok := lists[owner.ID]
			if !ok {
				v = &Vertex[T]{Node: owner, Neighbors: NewNeighborList[T](k, owner.ID)}
				lists[owner.ID] = v
			}
			v.Neighbors.Add(Neighbor[T]{Node: other, Similarity: sim})
		}

		for _, group := range items {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			members := uniqueCandidates(group.Value)
			for i, a := range members {
				for _, b := range members[i+1:] {
					if !a.New && !b.New {
						continue
					}
					if slices.Contains(a.Known, b.Node.ID) || slices.Contains(b.Known, a.Node.ID) {
						continue
					}

					sim := similarity(a.Node.Value, b.Node.Value)
					propose(a.Node, b.Node, sim)
					propose(b.Node, a.Node, sim)
				}
			}
		}

		out := make([]dataset.Pair[string, Vertex[T]], 0, len(lists))
		for _, v := range lists {
			out = append(out, keyed(*v))
		}
		return out, nil
	}).Named("nndescent-join")

	reduced, err := dataset.ReduceByKey(ctx, proposals, parts, mergeVertices[T])
	if err != nil {
		return nil, err
	}

	grouped, err := dataset.CoGroup(ctx, dataset.Map(vertices, keyed[T]), reduced, parts)
	if err != nil {
		return nil, err
	}

	return dataset.MapPartitions(grouped, func(ctx context.Context, _ int, items []dataset.Pair[string, dataset.CoGrouped[Vertex[T], Vertex[T]]]) ([]Vertex[T], error) {
		out := make([]Vertex[T], 0, len(items))
		changed := 0
		for _, item := range items {
			if len(item.Value.Left) == 0 {
				continue
			}

			v := item.Value.Left[0]
			nl := v.Neighbors.Clone()
			for _, proposal := range item.Value.Right {
				changed += nl.AddAll(proposal.Neighbors)
			}
			out = append(out, Vertex[T]{Node: v.Node, Neighbors: nl})
		}
		changes.Add(changed)
		return out, ctx.Err()
	}).Named("nndescent-update").Materialize(ctx)
}

// uniqueCandidates drops repeated members of a group. A member is new when
// any of its edges is.
func uniqueCandidates[T any](members []candidate[T]) []candidate[T] {
	index := make(map[string]int, len(members))
	out := make([]candidate[T], 0, len(members))
	for _, m := range members {
		if i, ok := index[m.Node.ID]; ok {
			out[i].New = out[i].New || m.New
			continue
		}
		index[m.Node.ID] = len(out)
		out = append(out, m)
	}
	return out
}

// Build implements LocalBuilder with the receiver's sampling rate and
// iteration bounds.
func (nd *NNDescent[T]) Build(ctx context.Context, nodes []Node[T], k int, similarity Similarity[T]) (map[string]*NeighborList[T], error) {
	return NewLocalNNDescent[T]().
		SetRho(nd.rho).
		SetDelta(nd.delta).
		SetMaxIterations(nd.maxIterations).
		SetMaxGoroutines(nd.maxGoroutines).
		Build(ctx, nodes, k, similarity)
}
