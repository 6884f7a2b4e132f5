package graph

import "fmt"

// Node is an item of the dataset. Two nodes are the same node when their
// ids are equal, whatever their values.
type Node[T any] struct {
	ID    string
	Value T
}

func NewNode[T any](id string, value T) Node[T] {
	return Node[T]{ID: id, Value: value}
}

func (n Node[T]) Equal(other Node[T]) bool {
	return n.ID == other.ID
}

func (n Node[T]) String() string {
	return fmt.Sprintf("%s (%v)", n.ID, n.Value)
}

type Neighbor[T any] struct {
	Node       Node[T]
	Similarity float64
}

func (n Neighbor[T]) String() string {
	return fmt.Sprintf("(%s, %g)", n.Node.ID, n.Similarity)
}

// Similarity scores how alike two values are; higher is more similar.
// It must be a pure function safe for concurrent use.
type Similarity[T any] func(a, b T) float64
