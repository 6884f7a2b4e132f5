package graph

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/ar90n/knngraph/common"
	"github.com/sourcegraph/conc/pool"
)

// localNNDescent is the in-memory NNDescent state for nodes held by a
// single task. Lists are guarded by one lock per node during the join.
type localNNDescent[T any] struct {
	nodes      []Node[T]
	index      map[string]int
	lists      []*NeighborList[T]
	locks      []sync.Mutex
	k          int
	rho        float64
	similarity Similarity[T]

	maxGoroutines int
}

func newLocalNNDescent[T any](nodes []Node[T], k int, rho float64, similarity Similarity[T], maxGoroutines int) *localNNDescent[T] {
	index := make(map[string]int, len(nodes))
	for i, node := range nodes {
		index[node.ID] = i
	}

	return &localNNDescent[T]{
		nodes:         nodes,
		index:         index,
		lists:         make([]*NeighborList[T], len(nodes)),
		locks:         make([]sync.Mutex, len(nodes)),
		k:             k,
		rho:           rho,
		similarity:    similarity,
		maxGoroutines: maxGoroutines,
	}
}

func newTaskRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// randomize gives every node up to k distinct random neighbors.
func (n *localNNDescent[T]) randomize() {
	size := len(n.nodes)

	p := pool.New().WithMaxGoroutines(n.maxGoroutines)
	for i := range n.nodes {
		i := i
		p.Go(func() {
			rng := newTaskRand()
			nl := NewNeighborList[T](n.k, n.nodes[i].ID)

			ignores := map[int]struct{}{
				i: {},
			}
			for len(ignores) <= n.k && len(ignores) < size {
				idx := rng.IntN(size)
				if _, ok := ignores[idx]; ok {
					continue
				}
				ignores[idx] = struct{}{}

				other := n.nodes[idx]
				nl.Add(Neighbor[T]{Node: other, Similarity: n.similarity(n.nodes[i].Value, other.Value)})
			}
			n.lists[i] = nl
		})
	}
	p.Wait()
}

// candidates samples rho of every node's new entries and marks them old.
// It returns, per node, the sampled new neighbors and the old ones, each
// joined by a rho sample of the nodes listing it the same way.
func (n *localNNDescent[T]) candidates(rng *rand.Rand) (news, olds [][]int) {
	forwardNew := make([][]int, len(n.nodes))
	forwardOld := make([][]int, len(n.nodes))
	reverseNew := make([][]int, len(n.nodes))
	reverseOld := make([][]int, len(n.nodes))
	for v, nl := range n.lists {
		var fresh []int
		for i := 0; i < nl.Len(); i++ {
			u, ok := n.index[nl.At(i).Node.ID]
			if !ok {
				continue
			}
			if nl.isNew(i) {
				fresh = append(fresh, i)
				continue
			}
			forwardOld[v] = append(forwardOld[v], u)
			reverseOld[u] = append(reverseOld[u], v)
		}

		for _, i := range sample(rng, fresh, n.rho) {
			nl.markOld(i)
			u := n.index[nl.At(i).Node.ID]
			forwardNew[v] = append(forwardNew[v], u)
			reverseNew[u] = append(reverseNew[u], v)
		}
	}

	news = make([][]int, len(n.nodes))
	olds = make([][]int, len(n.nodes))
	for v := range n.nodes {
		seen := map[int]struct{}{}
		collect := func(dst []int, us []int) []int {
			for _, u := range us {
				if _, ok := seen[u]; ok {
					continue
				}
				seen[u] = struct{}{}
				dst = append(dst, u)
			}
			return dst
		}
		news[v] = collect(news[v], forwardNew[v])
		news[v] = collect(news[v], sample(rng, reverseNew[v], n.rho))
		olds[v] = collect(olds[v], forwardOld[v])
		olds[v] = collect(olds[v], sample(rng, reverseOld[v], n.rho))
	}
	return news, olds
}

// join scores u1 and u2 unless one of them already lists the other.
func (n *localNNDescent[T]) join(u1, u2 int) uint64 {
	a, b := n.nodes[u1], n.nodes[u2]

	n.locks[u1].Lock()
	known := n.lists[u1].Contains(b.ID)
	n.locks[u1].Unlock()
	if !known {
		n.locks[u2].Lock()
		known = n.lists[u2].Contains(a.ID)
		n.locks[u2].Unlock()
	}
	if known {
		return 0
	}

	sim := n.similarity(a.Value, b.Value)
	changes := uint64(0)

	n.locks[u1].Lock()
	if n.lists[u1].Add(Neighbor[T]{Node: b, Similarity: sim}) {
		changes++
	}
	n.locks[u1].Unlock()

	n.locks[u2].Lock()
	if n.lists[u2].Add(Neighbor[T]{Node: a, Similarity: sim}) {
		changes++
	}
	n.locks[u2].Unlock()

	return changes
}

// Update runs one round of local joins, new against new and new against
// old, and returns the number of list changes it caused.
func (n *localNNDescent[T]) Update(ctx context.Context) (uint64, error) {
	news, olds := n.candidates(newTaskRand())
	changes := uint64(0)

	p := pool.New().WithMaxGoroutines(n.maxGoroutines).WithContext(ctx)
	for v := range n.nodes {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}

			local := uint64(0)
			for i, u1 := range news[v] {
				for _, u2 := range news[v][i+1:] {
					local += n.join(u1, u2)
				}
				for _, u2 := range olds[v] {
					if u1 != u2 {
						local += n.join(u1, u2)
					}
				}
			}
			atomic.AddUint64(&changes, local)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return 0, err
	}

	return changes, nil
}

func (n *localNNDescent[T]) Create() map[string]*NeighborList[T] {
	out := make(map[string]*NeighborList[T], len(n.nodes))
	for i, node := range n.nodes {
		out[node.ID] = n.lists[i]
	}
	return out
}

// sample returns round(rho * len(items)) items picked at random, at least
// one when items is not empty. items is shuffled in place.
func sample[E any](rng *rand.Rand, items []E, rho float64) []E {
	if rho >= 1.0 || len(items) == 0 {
		return items
	}

	size := int(rho*float64(len(items)) + 0.5)
	if size < 1 {
		size = 1
	}
	rng.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
	return items[:size]
}

// LocalNNDescent runs NNDescent over a slice held by one task. It is the
// inner builder LSHBucketed usually runs per bucket.
type LocalNNDescent[T any] struct {
	rho           float64
	delta         float64
	maxIterations int
	maxGoroutines int
}

func NewLocalNNDescent[T any]() *LocalNNDescent[T] {
	return &LocalNNDescent[T]{
		rho:           defaultRho,
		delta:         defaultDelta,
		maxIterations: defaultMaxIterations,
		maxGoroutines: 1,
	}
}

func (l *LocalNNDescent[T]) SetRho(rho float64) *LocalNNDescent[T] {
	l.rho = rho
	return l
}

func (l *LocalNNDescent[T]) SetDelta(delta float64) *LocalNNDescent[T] {
	l.delta = delta
	return l
}

func (l *LocalNNDescent[T]) SetMaxIterations(maxIterations int) *LocalNNDescent[T] {
	l.maxIterations = maxIterations
	return l
}

// SetMaxGoroutines bounds the join pool of a single Build. Builds already
// run one per partition, so the default is 1.
func (l *LocalNNDescent[T]) SetMaxGoroutines(maxGoroutines int) *LocalNNDescent[T] {
	l.maxGoroutines = common.GetProcNum(maxGoroutines)
	return l
}

// Build implements LocalBuilder.
func (l *LocalNNDescent[T]) Build(ctx context.Context, nodes []Node[T], k int, similarity Similarity[T]) (map[string]*NeighborList[T], error) {
	if err := validateK(k); err != nil {
		return nil, err
	}
	if err := validateSimilarity(similarity); err != nil {
		return nil, err
	}
	if err := validateDescent(l.rho, l.delta, l.maxIterations); err != nil {
		return nil, err
	}

	state := newLocalNNDescent(nodes, k, l.rho, similarity, l.maxGoroutines)
	state.randomize()

	threshold := l.delta * float64(len(nodes)*k)
	for i := 0; i < l.maxIterations; i++ {
		changes, err := state.Update(ctx)
		if err != nil {
			return nil, err
		}
		if float64(changes) < threshold {
			break
		}
	}

	return state.Create(), nil
}
