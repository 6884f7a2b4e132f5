// Package partition rearranges a graph so that nodes sharing edges tend to
// share a partition, which keeps graph walks local during search.
package partition

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/ar90n/knngraph"
	"github.com/ar90n/knngraph/dataset"
	"github.com/ar90n/knngraph/graph"
	"github.com/cockroachdb/errors"
)

const DefaultBalance = 1.1

type options struct {
	balance float64
	logger  *knngraph.Logger
	hook    func(round, moves int)
}

type Option func(*options)

// WithBalance bounds every partition to balance times the even split.
// It must be at least 1.
func WithBalance(balance float64) Option {
	return func(o *options) {
		o.balance = balance
	}
}

func WithLogger(logger *knngraph.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMoveHook registers f to be called after every round with the round
// number, starting at 1, and the number of nodes moved.
func WithMoveHook(f func(round, moves int)) Option {
	return func(o *options) {
		o.hook = f
	}
}

// Partitioner assigns nodes to partitions by neighbor majority under a
// size bound. It keeps no state between calls.
type Partitioner[T any] struct {
	balance float64
	logger  *knngraph.Logger
	hook    func(round, moves int)
}

func New[T any](opts ...Option) *Partitioner[T] {
	o := options{balance: DefaultBalance}
	for _, opt := range opts {
		opt(&o)
	}

	return &Partitioner[T]{
		balance: o.balance,
		logger:  o.logger.OrNoop().WithComponent("partitioner"),
		hook:    o.hook,
	}
}

func (p *Partitioner[T]) Balance() float64 {
	return p.balance
}

type move struct {
	ID   string
	From int
	To   int
}

// Partition returns g split into exactly partitions partitions. With zero
// iterations the assignment is a uniformly random balanced deal. Otherwise
// regions are first grown from random seeds along the edges, and each of
// the iterations rounds then moves nodes toward the partition holding most
// of their neighbors, as long as the target stays within capacity.
// Neighbor lists are carried unchanged.
func (p *Partitioner[T]) Partition(ctx context.Context, g *graph.Graph[T], partitions, iterations int) (*graph.Graph[T], error) {
	if partitions < 1 {
		return nil, errors.Wrapf(knngraph.ErrInvalidPartitions, "partitions = %d", partitions)
	}
	if iterations < 0 {
		return nil, errors.Wrapf(knngraph.ErrInvalidIterations, "iterations = %d", iterations)
	}
	if p.balance < 1.0 || math.IsNaN(p.balance) {
		return nil, errors.Wrapf(knngraph.ErrInvalidBalance, "balance = %g", p.balance)
	}

	vertices, err := g.Collect(ctx)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	var assignment map[string]int
	var sizes []int
	if iterations == 0 {
		assignment, sizes = deal(rng, vertices, partitions)
	} else {
		assignment, sizes = grow(rng, vertices, partitions)
	}
	capacity := int(math.Ceil(float64(len(vertices)) / float64(partitions) * p.balance))

	for round := 1; round <= iterations; round++ {
		proposals, err := propose(ctx, g, assignment, partitions)
		if err != nil {
			return nil, errors.Wrapf(err, "partition round %d", round)
		}

		moves := 0
		rng.Shuffle(len(proposals), func(i, j int) {
			proposals[i], proposals[j] = proposals[j], proposals[i]
		})
		for _, m := range proposals {
			if capacity < sizes[m.To]+1 {
				continue
			}
			sizes[m.From]--
			sizes[m.To]++
			assignment[m.ID] = m.To
			moves++
		}

		p.logger.Debug("partition round", "round", round, "proposals", len(proposals), "moves", moves)
		if p.hook != nil {
			p.hook(round, moves)
		}
		if moves == 0 {
			break
		}
	}

	partitioned, err := dataset.PartitionBy(ctx, g.Dataset(), partitions, func(v graph.Vertex[T]) int {
		return assignment[v.Node.ID]
	})
	if err != nil {
		return nil, err
	}

	p.logger.Debug("graph partitioned", "partitions", partitions, "iterations", iterations, "capacity", capacity, "sizes", sizes)
	return graph.NewGraph(partitioned.Named("partitioned")), nil
}

// deal shuffles the nodes and hands them out round robin.
func deal[T any](rng *rand.Rand, vertices []graph.Vertex[T], partitions int) (map[string]int, []int) {
	order := rng.Perm(len(vertices))
	assignment := make(map[string]int, len(vertices))
	sizes := make([]int, partitions)
	for i, j := range order {
		part := i % partitions
		assignment[vertices[j].Node.ID] = part
		sizes[part]++
	}
	return assignment, sizes
}

// grow runs one breadth first search per partition over the undirected
// edges, taking turns so that regions stay within one node of each other.
// A region with nothing left to reach restarts from a random unassigned
// node.
func grow[T any](rng *rand.Rand, vertices []graph.Vertex[T], partitions int) (map[string]int, []int) {
	ordinals := make(map[string]int, len(vertices))
	for i, v := range vertices {
		ordinals[v.Node.ID] = i
	}
	adjacency := make([][]int, len(vertices))
	for i, v := range vertices {
		for _, n := range v.Neighbors.Neighbors() {
			j, ok := ordinals[n.Node.ID]
			if !ok {
				continue
			}
			adjacency[i] = append(adjacency[i], j)
			adjacency[j] = append(adjacency[j], i)
		}
	}

	assignment := make(map[string]int, len(vertices))
	sizes := make([]int, partitions)
	assigned := make([]bool, len(vertices))
	unassigned := rng.Perm(len(vertices))
	queues := make([][]int, partitions)

	// next pops the first unassigned node reachable from region part, or a
	// random unassigned node when the region is stuck
	next := func(part int) (int, bool) {
		for len(queues[part]) > 0 {
			i := queues[part][0]
			queues[part] = queues[part][1:]
			if !assigned[i] {
				return i, true
			}
		}
		for len(unassigned) > 0 {
			i := unassigned[len(unassigned)-1]
			unassigned = unassigned[:len(unassigned)-1]
			if !assigned[i] {
				return i, true
			}
		}
		return 0, false
	}

	for count := 0; count < len(vertices); {
		for part := 0; part < partitions && count < len(vertices); part++ {
			i, ok := next(part)
			if !ok {
				break
			}
			assigned[i] = true
			assignment[vertices[i].Node.ID] = part
			sizes[part]++
			count++
			queues[part] = append(queues[part], adjacency[i]...)
		}
	}
	return assignment, sizes
}

// propose lets every partition task tally, for each of its nodes, the
// partitions of its neighbors. A node proposes to move only when a single
// partition strictly beats every other one, its own included.
func propose[T any](ctx context.Context, g *graph.Graph[T], assignment map[string]int, partitions int) ([]move, error) {
	moves := dataset.MapPartitions(g.Dataset(), func(ctx context.Context, _ int, items []graph.Vertex[T]) ([]move, error) {
		var out []move
		counts := make([]int, partitions)
		for _, v := range items {
			clear(counts)
			for _, n := range v.Neighbors.Neighbors() {
				if part, ok := assignment[n.Node.ID]; ok {
					counts[part]++
				}
			}

			current := assignment[v.Node.ID]
			best, tie := majority(counts)
			if tie || best == current || counts[best] <= counts[current] {
				continue
			}
			out = append(out, move{ID: v.Node.ID, From: current, To: best})
		}
		return out, ctx.Err()
	}).Named("partition-propose")

	return moves.Collect(ctx)
}

func majority(counts []int) (int, bool) {
	best, tie := 0, false
	for i := 1; i < len(counts); i++ {
		switch {
		case counts[best] < counts[i]:
			best, tie = i, false
		case counts[best] == counts[i]:
			tie = true
		}
	}
	return best, tie
}

// Locality returns the fraction of edges whose endpoints share a partition.
func Locality[T any](ctx context.Context, g *graph.Graph[T]) (float64, error) {
	partitions, err := g.Partitions(ctx)
	if err != nil {
		return 0, err
	}

	owner := map[string]int{}
	for i, part := range partitions {
		for _, v := range part {
			owner[v.Node.ID] = i
		}
	}

	local, total := 0, 0
	for i, part := range partitions {
		for _, v := range part {
			for _, n := range v.Neighbors.Neighbors() {
				total++
				if owner[n.Node.ID] == i {
					local++
				}
			}
		}
	}
	if total == 0 {
		return 0, nil
	}
	return float64(local) / float64(total), nil
}
