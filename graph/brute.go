package graph

import (
	"context"

	"github.com/ar90n/knngraph"
	"github.com/ar90n/knngraph/dataset"
)

// Brute computes the exact k-nn graph by comparing every ordered pair of
// nodes. It costs n² similarities and serves as ground truth for the
// approximate builders.
type Brute[T any] struct {
	k          int
	similarity Similarity[T]
	logger     *knngraph.Logger
}

func NewBrute[T any](similarity Similarity[T]) *Brute[T] {
	return &Brute[T]{
		k:          defaultK,
		similarity: similarity,
		logger:     knngraph.NoopLogger(),
	}
}

func (b *Brute[T]) SetK(k int) *Brute[T] {
	b.k = k
	return b
}

func (b *Brute[T]) SetSimilarity(similarity Similarity[T]) *Brute[T] {
	b.similarity = similarity
	return b
}

func (b *Brute[T]) SetLogger(logger *knngraph.Logger) *Brute[T] {
	b.logger = logger.OrNoop()
	return b
}

func (b *Brute[T]) validate() error {
	if err := validateK(b.k); err != nil {
		return err
	}
	return validateSimilarity(b.similarity)
}

// ComputeGraph pairs every partition with every partition. Each task keeps
// a partial top-k list per left node; the partial lists of a node are then
// merged after a shuffle on its id.
func (b *Brute[T]) ComputeGraph(ctx context.Context, nodes *dataset.Dataset[Node[T]]) (*Graph[T], error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	k := b.k
	similarity := b.similarity
	partials, err := dataset.CartesianPartitions(ctx, nodes, nodes,
		func(ctx context.Context, left, right []Node[T]) ([]dataset.Pair[string, Vertex[T]], error) {
			out := make([]dataset.Pair[string, Vertex[T]], 0, len(left))
			for _, a := range left {
				nl := NewNeighborList[T](k, a.ID)
				for _, other := range right {
					if a.ID == other.ID {
						continue
					}
					nl.Add(Neighbor[T]{Node: other, Similarity: similarity(a.Value, other.Value)})
				}
				out = append(out, keyed(Vertex[T]{Node: a, Neighbors: nl}))
			}
			return out, ctx.Err()
		})
	if err != nil {
		return nil, err
	}

	reduced, err := dataset.ReduceByKey(ctx, partials.Named("brute"), nodes.NumPartitions(), mergeVertices[T])
	if err != nil {
		return nil, err
	}

	g, err := fromReduced(ctx, reduced)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("brute graph computed", "k", k, "partitions", g.NumPartitions())
	return g, nil
}

// Build implements LocalBuilder.
func (b *Brute[T]) Build(ctx context.Context, nodes []Node[T], k int, similarity Similarity[T]) (map[string]*NeighborList[T], error) {
	if err := validateK(k); err != nil {
		return nil, err
	}
	if err := validateSimilarity(similarity); err != nil {
		return nil, err
	}

	out := make(map[string]*NeighborList[T], len(nodes))
	for _, a := range nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		nl := NewNeighborList[T](k, a.ID)
		for _, other := range nodes {
			if a.ID == other.ID {
				continue
			}
			nl.Add(Neighbor[T]{Node: other, Similarity: similarity(a.Value, other.Value)})
		}
		out[a.ID] = nl
	}
	return out, nil
}
