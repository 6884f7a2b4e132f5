package graph

import (
	"math"
	"sort"
	"strings"
)

// NeighborList keeps the k most similar neighbors of one node, sorted by
// descending similarity. Ids are unique and the owner is never admitted.
//
// A full list only accepts a neighbor that is strictly more similar than
// its current worst entry, so ties keep whatever arrived first. NaN
// similarities are never accepted.
type NeighborList[T any] struct {
	k         int
	owner     string
	neighbors []Neighbor[T]
	// fresh[i] is set until neighbors[i] has been sampled for a local join
	fresh []bool
}

// NewNeighborList returns an empty list of capacity k. owner is the id of
// the node the list belongs to; it is rejected by Add. An empty owner
// disables that check. k must be at least 1.
func NewNeighborList[T any](k int, owner string) *NeighborList[T] {
	if k < 1 {
		panic("graph: neighbor list capacity must be at least 1")
	}
	return &NeighborList[T]{
		k:         k,
		owner:     owner,
		neighbors: make([]Neighbor[T], 0, k),
		fresh:     make([]bool, 0, k),
	}
}

func (nl *NeighborList[T]) K() int {
	return nl.k
}

func (nl *NeighborList[T]) Owner() string {
	return nl.owner
}

func (nl *NeighborList[T]) Len() int {
	return len(nl.neighbors)
}

func (nl *NeighborList[T]) IsFull() bool {
	return len(nl.neighbors) == nl.k
}

// At returns the i-th best neighbor.
func (nl *NeighborList[T]) At(i int) Neighbor[T] {
	return nl.neighbors[i]
}

// Neighbors returns a copy of the entries, best first.
func (nl *NeighborList[T]) Neighbors() []Neighbor[T] {
	return append([]Neighbor[T]{}, nl.neighbors...)
}

// Min returns the least similar entry.
func (nl *NeighborList[T]) Min() (Neighbor[T], bool) {
	if len(nl.neighbors) == 0 {
		return Neighbor[T]{}, false
	}
	return nl.neighbors[len(nl.neighbors)-1], true
}

func (nl *NeighborList[T]) Contains(id string) bool {
	for i := range nl.neighbors {
		if nl.neighbors[i].Node.ID == id {
			return true
		}
	}
	return false
}

// Accepts reports whether a neighbor with the given similarity would pass
// the capacity check. It does not look at ids.
func (nl *NeighborList[T]) Accepts(similarity float64) bool {
	if math.IsNaN(similarity) {
		return false
	}
	if len(nl.neighbors) < nl.k {
		return true
	}
	return nl.neighbors[len(nl.neighbors)-1].Similarity < similarity
}

// Add inserts n and reports whether the list changed.
func (nl *NeighborList[T]) Add(n Neighbor[T]) bool {
	if !nl.Accepts(n.Similarity) {
		return false
	}
	if n.Node.ID == nl.owner && nl.owner != "" {
		return false
	}
	if nl.Contains(n.Node.ID) {
		return false
	}

	// first position holding a strictly smaller similarity, so equal
	// entries keep their arrival order
	pos := sort.Search(len(nl.neighbors), func(i int) bool {
		return nl.neighbors[i].Similarity < n.Similarity
	})

	if len(nl.neighbors) < nl.k {
		nl.neighbors = append(nl.neighbors, Neighbor[T]{})
		nl.fresh = append(nl.fresh, false)
	}
	copy(nl.neighbors[pos+1:], nl.neighbors[pos:len(nl.neighbors)-1])
	copy(nl.fresh[pos+1:], nl.fresh[pos:len(nl.fresh)-1])
	nl.neighbors[pos] = n
	nl.fresh[pos] = true
	return true
}

// isNew reports whether the i-th entry has not taken part in a local join.
func (nl *NeighborList[T]) isNew(i int) bool {
	return nl.fresh[i]
}

func (nl *NeighborList[T]) markOld(i int) {
	nl.fresh[i] = false
}

// ids returns the neighbor ids, best first.
func (nl *NeighborList[T]) ids() []string {
	out := make([]string, len(nl.neighbors))
	for i := range nl.neighbors {
		out[i] = nl.neighbors[i].Node.ID
	}
	return out
}

// AddAll inserts every entry of other and returns how many changed nl.
func (nl *NeighborList[T]) AddAll(other *NeighborList[T]) int {
	if other == nil {
		return 0
	}

	changes := 0
	for _, n := range other.neighbors {
		if nl.Add(n) {
			changes++
		}
	}
	return changes
}

// CountCommons returns the number of ids present in both lists.
func (nl *NeighborList[T]) CountCommons(other *NeighborList[T]) int {
	if other == nil {
		return 0
	}

	count := 0
	for _, n := range nl.neighbors {
		if other.Contains(n.Node.ID) {
			count++
		}
	}
	return count
}

func (nl *NeighborList[T]) Clone() *NeighborList[T] {
	c := &NeighborList[T]{
		k:         nl.k,
		owner:     nl.owner,
		neighbors: make([]Neighbor[T], len(nl.neighbors), nl.k),
		fresh:     make([]bool, len(nl.fresh), nl.k),
	}
	copy(c.neighbors, nl.neighbors)
	copy(c.fresh, nl.fresh)
	return c
}

// Merge returns a new list holding the best entries of a and b under the
// insertion policy. It is the reduce function used when partial lists of
// the same node meet after a shuffle.
func Merge[T any](a, b *NeighborList[T]) *NeighborList[T] {
	merged := a.Clone()
	merged.AddAll(b)
	return merged
}

func (nl *NeighborList[T]) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, n := range nl.neighbors {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(n.String())
	}
	sb.WriteString("]")
	return sb.String()
}
