// Package search answers nearest neighbor queries against a graph, either
// by walking it or by scanning every node.
package search

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/ar90n/knngraph"
	"github.com/ar90n/knngraph/collection"
	"github.com/ar90n/knngraph/dataset"
	"github.com/ar90n/knngraph/graph"
	"github.com/ar90n/knngraph/partition"
	"github.com/cockroachdb/errors"
)

const (
	DefaultJumps     = 8
	DefaultExpansion = 3
	DefaultSpeedup   = 4.0
)

// ApproximateSearch walks a partitioned graph toward the query inside
// every partition and merges what the walks found.
type ApproximateSearch[T any] struct {
	graph      *graph.Graph[T]
	indexes    *dataset.Dataset[*localIndex[T]]
	similarity graph.Similarity[T]
	options    options
}

// NewApproximateSearch partitions g into partitions partitions with
// iterations balancing rounds and prepares one index per partition.
func NewApproximateSearch[T any](ctx context.Context, g *graph.Graph[T], iterations, partitions int, similarity graph.Similarity[T], opts ...Option) (*ApproximateSearch[T], error) {
	if similarity == nil {
		return nil, knngraph.ErrNilSimilarity
	}

	o := newOptions(opts)
	partitionOpts := append([]partition.Option{partition.WithLogger(o.logger)}, o.partitions...)
	partitioned, err := partition.New[T](partitionOpts...).Partition(ctx, g, partitions, iterations)
	if err != nil {
		return nil, err
	}

	indexes, err := dataset.MapPartitions(partitioned.Dataset(), func(_ context.Context, _ int, items []graph.Vertex[T]) ([]*localIndex[T], error) {
		return []*localIndex[T]{newLocalIndex(items)}, nil
	}).Named("search-index").Materialize(ctx)
	if err != nil {
		return nil, err
	}

	o.logger.Debug("approximate search ready", "partitions", partitions, "iterations", iterations)
	return &ApproximateSearch[T]{
		graph:      partitioned,
		indexes:    indexes,
		similarity: similarity,
		options:    o,
	}, nil
}

// Graph returns the partitioned graph the search walks.
func (s *ApproximateSearch[T]) Graph() *graph.Graph[T] {
	return s.graph
}

// Search returns up to resultSize nodes similar to query. speedup trades
// accuracy for work: every partition evaluates at most
// max(speedup * k, |partition| / speedup) similarities. acc may be nil.
func (s *ApproximateSearch[T]) Search(ctx context.Context, query graph.Node[T], resultSize int, speedup float64, jumps, expansion int, acc *StatisticsAccumulator) (*graph.NeighborList[T], error) {
	if resultSize < 1 {
		return nil, errors.Wrapf(knngraph.ErrInvalidResultSize, "result size = %d", resultSize)
	}
	if !(0.0 < speedup) || math.IsInf(speedup, 1) {
		return nil, errors.Wrapf(knngraph.ErrInvalidSpeedup, "speedup = %g", speedup)
	}
	if jumps < 1 {
		return nil, errors.Wrapf(knngraph.ErrInvalidJumps, "jumps = %d", jumps)
	}
	if expansion < 1 {
		return nil, errors.Wrapf(knngraph.ErrInvalidExpansion, "expansion = %d", expansion)
	}

	start := time.Now()
	total := NewStatisticsAccumulator()
	total.Add(Statistics{Searches: 1})

	similarity := s.similarity
	found, err := dataset.MapPartitions(s.indexes, func(ctx context.Context, _ int, items []*localIndex[T]) ([]*graph.NeighborList[T], error) {
		out := make([]*graph.NeighborList[T], 0, len(items))
		for _, idx := range items {
			w := &walk[T]{
				index:      idx,
				query:      query,
				similarity: similarity,
				visited:    roaring.New(),
				crossed:    map[string]struct{}{},
				results:    graph.NewNeighborList[T](resultSize, query.ID),
				rng:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
			}
			w.run(ctx, idx.budget(speedup), jumps, expansion)
			total.Add(w.stats)
			out = append(out, w.results)
		}
		return out, ctx.Err()
	}).Named("search").Collect(ctx)
	if err != nil {
		return nil, err
	}

	result := graph.NewNeighborList[T](resultSize, query.ID)
	for _, nl := range found {
		result.AddAll(nl)
	}

	stats := total.Value()
	if acc != nil {
		acc.Add(stats)
	}
	s.options.observe("approximate", stats, start)
	return result, nil
}

// localIndex is the read-only view of one partition used by walks.
type localIndex[T any] struct {
	vertices []graph.Vertex[T]
	ordinals map[string]uint32
	k        int
}

func newLocalIndex[T any](vertices []graph.Vertex[T]) *localIndex[T] {
	ordinals := make(map[string]uint32, len(vertices))
	k := 0
	for i, v := range vertices {
		ordinals[v.Node.ID] = uint32(i)
		k = max(k, v.Neighbors.K())
	}
	return &localIndex[T]{vertices: vertices, ordinals: ordinals, k: k}
}

func (idx *localIndex[T]) budget(speedup float64) int {
	return max(int(speedup*float64(idx.k)), int(math.Ceil(float64(len(idx.vertices))/speedup)))
}

// walk is the state of one query inside one partition.
type walk[T any] struct {
	index      *localIndex[T]
	query      graph.Node[T]
	similarity graph.Similarity[T]
	visited    *roaring.Bitmap
	crossed    map[string]struct{}
	results    *graph.NeighborList[T]
	rng        *rand.Rand
	stats      Statistics
}

func (w *walk[T]) exhausted(budget int) bool {
	return int64(budget) <= w.stats.Similarities
}

// visit evaluates a local node once. It reports false when the node was
// already visited.
func (w *walk[T]) visit(ordinal uint32) (float64, bool) {
	if !w.visited.CheckedAdd(ordinal) {
		return 0, false
	}

	node := w.index.vertices[ordinal].Node
	sim := w.similarity(w.query.Value, node.Value)
	w.stats.Similarities++
	w.stats.Visited++
	w.results.Add(graph.Neighbor[T]{Node: node, Similarity: sim})
	return sim, true
}

// cross evaluates a neighbor held by another partition. Its payload travels
// with the edge, so it can be scored but not expanded.
func (w *walk[T]) cross(node graph.Node[T]) {
	if _, ok := w.crossed[node.ID]; ok {
		return
	}
	w.crossed[node.ID] = struct{}{}

	sim := w.similarity(w.query.Value, node.Value)
	w.stats.Similarities++
	w.stats.CrossPartition++
	w.results.Add(graph.Neighbor[T]{Node: node, Similarity: sim})
}

// entry scores a random sample of unvisited nodes and returns the best
// expansion of them.
func (w *walk[T]) entry(budget, expansion int) []collection.WithPriority[uint32] {
	size := len(w.index.vertices)
	samples := max(expansion, int(math.Ceil(math.Sqrt(float64(size)))))

	candidates := collection.NewMaxPriorityQueue[uint32](samples)
	for attempts := 0; attempts < 2*samples && candidates.Len() < samples && !w.exhausted(budget); attempts++ {
		ordinal := uint32(w.rng.IntN(size))
		if sim, ok := w.visit(ordinal); ok {
			candidates.Push(ordinal, sim)
		}
	}

	// random draws keep hitting visited nodes once most are visited
	if candidates.Len() == 0 && !w.exhausted(budget) {
		for ordinal := uint32(0); ordinal < uint32(size); ordinal++ {
			if sim, ok := w.visit(ordinal); ok {
				candidates.Push(ordinal, sim)
				break
			}
		}
	}

	return best(candidates, expansion)
}

func best(pq *collection.PriorityQueue[uint32], n int) []collection.WithPriority[uint32] {
	out := make([]collection.WithPriority[uint32], 0, n)
	for len(out) < n {
		item, err := pq.PopWithPriority()
		if err != nil {
			break
		}
		out = append(out, item)
	}
	return out
}

func (w *walk[T]) run(ctx context.Context, budget, jumps, expansion int) {
	size := len(w.index.vertices)
	if size == 0 {
		return
	}

	for restart := 0; !w.exhausted(budget) && w.visited.GetCardinality() < uint64(size); restart++ {
		if ctx.Err() != nil {
			return
		}
		if 0 < restart {
			w.stats.Restarts++
		}

		frontier := w.entry(budget, expansion)
		for hop := 0; hop < jumps && 0 < len(frontier) && !w.exhausted(budget); hop++ {
			w.stats.Hops++

			next := collection.NewMaxPriorityQueue[uint32](expansion * w.index.k)
			for _, f := range frontier {
				next.Push(f.Item, f.Priority)
			}

			improved := false
			for _, f := range frontier {
				for _, n := range w.index.vertices[f.Item].Neighbors.Neighbors() {
					if w.exhausted(budget) {
						break
					}

					ordinal, local := w.index.ordinals[n.Node.ID]
					if !local {
						w.cross(n.Node)
						continue
					}
					if sim, ok := w.visit(ordinal); ok {
						next.Push(ordinal, sim)
					}
				}
			}

			candidates := best(next, expansion)
			for i := range candidates {
				if i >= len(frontier) || candidates[i].Item != frontier[i].Item {
					improved = true
					break
				}
			}
			if !improved {
				break
			}
			frontier = candidates
		}
	}
}
