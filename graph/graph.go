package graph

import (
	"context"

	"github.com/ar90n/knngraph"
	"github.com/ar90n/knngraph/dataset"
	"github.com/cockroachdb/errors"
)

const defaultK = 10

// Vertex is one entry of a graph: a node and its neighbor list.
type Vertex[T any] struct {
	Node      Node[T]
	Neighbors *NeighborList[T]
}

// Graph is a k-nn graph split into partitions. It is a value: partitioning
// or rebuilding produces a new Graph and leaves the old one untouched.
type Graph[T any] struct {
	data *dataset.Dataset[Vertex[T]]
}

func NewGraph[T any](data *dataset.Dataset[Vertex[T]]) *Graph[T] {
	return &Graph[T]{data: data}
}

// Builder builds a graph from a partitioned collection of nodes.
type Builder[T any] interface {
	ComputeGraph(ctx context.Context, nodes *dataset.Dataset[Node[T]]) (*Graph[T], error)
}

// LocalBuilder builds a graph over a slice held by a single task. k and
// similarity are chosen by the caller; the receiver contributes only its
// own tuning (sampling rate, iteration bounds, ...). The result has an
// entry for every input node, possibly with an empty list.
type LocalBuilder[T any] interface {
	Build(ctx context.Context, nodes []Node[T], k int, similarity Similarity[T]) (map[string]*NeighborList[T], error)
}

func (g *Graph[T]) Dataset() *dataset.Dataset[Vertex[T]] {
	return g.data
}

func (g *Graph[T]) NumPartitions() int {
	return g.data.NumPartitions()
}

func (g *Graph[T]) Partition(ctx context.Context, i int) ([]Vertex[T], error) {
	return g.data.Partition(ctx, i)
}

func (g *Graph[T]) Partitions(ctx context.Context) ([][]Vertex[T], error) {
	return g.data.Partitions(ctx)
}

func (g *Graph[T]) Collect(ctx context.Context) ([]Vertex[T], error) {
	return g.data.Collect(ctx)
}

func (g *Graph[T]) Count(ctx context.Context) (int, error) {
	return g.data.Count(ctx)
}

// Nodes projects the graph back onto its nodes, keeping the partitioning.
func (g *Graph[T]) Nodes() *dataset.Dataset[Node[T]] {
	return dataset.Map(g.data, func(v Vertex[T]) Node[T] {
		return v.Node
	}).Named("nodes")
}

// ToMap collects the graph into a map from node id to neighbor list.
func (g *Graph[T]) ToMap(ctx context.Context) (map[string]*NeighborList[T], error) {
	vertices, err := g.Collect(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*NeighborList[T], len(vertices))
	for _, v := range vertices {
		out[v.Node.ID] = v.Neighbors
	}
	return out, nil
}

type Summary struct {
	Nodes          int
	Edges          int
	Partitions     int
	PartitionSizes []int
	MeanNeighbors  float64
}

func (g *Graph[T]) Summary(ctx context.Context) (Summary, error) {
	partitions, err := g.Partitions(ctx)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		Partitions:     len(partitions),
		PartitionSizes: make([]int, len(partitions)),
	}
	for i, p := range partitions {
		s.PartitionSizes[i] = len(p)
		s.Nodes += len(p)
		for _, v := range p {
			s.Edges += v.Neighbors.Len()
		}
	}
	if s.Nodes > 0 {
		s.MeanNeighbors = float64(s.Edges) / float64(s.Nodes)
	}
	return s, nil
}

func keyed[T any](v Vertex[T]) dataset.Pair[string, Vertex[T]] {
	return dataset.NewPair(v.Node.ID, v)
}

func mergeVertices[T any](a, b Vertex[T]) Vertex[T] {
	return Vertex[T]{Node: a.Node, Neighbors: Merge(a.Neighbors, b.Neighbors)}
}

// fromReduced turns a reduced (id, vertex) dataset into a materialized graph.
func fromReduced[T any](ctx context.Context, reduced *dataset.Dataset[dataset.Pair[string, Vertex[T]]]) (*Graph[T], error) {
	vertices, err := dataset.Map(reduced, func(p dataset.Pair[string, Vertex[T]]) Vertex[T] {
		return p.Value
	}).Named("vertices").Materialize(ctx)
	if err != nil {
		return nil, err
	}
	return NewGraph(vertices), nil
}

func validateK(k int) error {
	if k < 1 {
		return errors.Wrapf(knngraph.ErrInvalidK, "k = %d", k)
	}
	return nil
}

func validateSimilarity[T any](similarity Similarity[T]) error {
	if similarity == nil {
		return knngraph.ErrNilSimilarity
	}
	return nil
}
