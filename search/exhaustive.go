package search

import (
	"context"
	"time"

	"github.com/ar90n/knngraph"
	"github.com/ar90n/knngraph/dataset"
	"github.com/ar90n/knngraph/graph"
	"github.com/cockroachdb/errors"
)

// ExhaustiveSearch scores the query against every node. It is exact and
// linear in the number of nodes; use it to check approximate results.
type ExhaustiveSearch[T any] struct {
	nodes      *dataset.Dataset[graph.Node[T]]
	similarity graph.Similarity[T]
	options    options
}

func NewExhaustiveSearch[T any](nodes *dataset.Dataset[graph.Node[T]], similarity graph.Similarity[T], opts ...Option) (*ExhaustiveSearch[T], error) {
	if similarity == nil {
		return nil, knngraph.ErrNilSimilarity
	}

	return &ExhaustiveSearch[T]{
		nodes:      nodes,
		similarity: similarity,
		options:    newOptions(opts),
	}, nil
}

// NewExhaustiveSearchFromGraph scans the nodes of g, ignoring its edges.
func NewExhaustiveSearchFromGraph[T any](g *graph.Graph[T], similarity graph.Similarity[T], opts ...Option) (*ExhaustiveSearch[T], error) {
	return NewExhaustiveSearch(g.Nodes(), similarity, opts...)
}

func (s *ExhaustiveSearch[T]) Search(ctx context.Context, query graph.Node[T], resultSize int) (*graph.NeighborList[T], error) {
	if resultSize < 1 {
		return nil, errors.Wrapf(knngraph.ErrInvalidResultSize, "result size = %d", resultSize)
	}

	start := time.Now()
	total := NewStatisticsAccumulator()
	total.Add(Statistics{Searches: 1})

	similarity := s.similarity
	found, err := dataset.MapPartitions(s.nodes, func(ctx context.Context, _ int, items []graph.Node[T]) ([]*graph.NeighborList[T], error) {
		nl := graph.NewNeighborList[T](resultSize, query.ID)
		for _, n := range items {
			nl.Add(graph.Neighbor[T]{Node: n, Similarity: similarity(query.Value, n.Value)})
		}
		total.Add(Statistics{Similarities: int64(len(items)), Visited: int64(len(items))})
		return []*graph.NeighborList[T]{nl}, ctx.Err()
	}).Named("exhaustive-search").Collect(ctx)
	if err != nil {
		return nil, err
	}

	result := graph.NewNeighborList[T](resultSize, query.ID)
	for _, nl := range found {
		result.AddAll(nl)
	}

	s.options.observe("exhaustive", total.Value(), start)
	return result, nil
}
