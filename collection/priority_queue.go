package collection

import (
	"container/heap"

	"github.com/cockroachdb/errors"
)

var ErrEmptyQueue = errors.New("empty queue")

type WithPriority[T any] struct {
	Item     T
	Priority float64
}

type priorityQueue[T any] []*WithPriority[T]

func (pq priorityQueue[T]) Len() int { return len(pq) }

func (pq priorityQueue[T]) Less(i, j int) bool {
	return pq[j].Priority < pq[i].Priority
}

func (pq priorityQueue[T]) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
}

func (pq *priorityQueue[T]) Push(x interface{}) {
	item := x.(*WithPriority[T])
	*pq = append(*pq, item)
}

func (pq *priorityQueue[T]) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	*pq = old[0 : n-1]
	return item
}

// PriorityQueue pops the highest priority first.
type PriorityQueue[T any] struct {
	items priorityQueue[T]
}

func NewMaxPriorityQueue[T any](capacity int) *PriorityQueue[T] {
	return &PriorityQueue[T]{
		items: make(priorityQueue[T], 0, capacity),
	}
}

func (pq *PriorityQueue[T]) Push(item T, priority float64) {
	heap.Push(
		&pq.items,
		&WithPriority[T]{
			Item:     item,
			Priority: priority,
		},
	)
}

func (pq *PriorityQueue[T]) PopWithPriority() (ret WithPriority[T], _ error) {
	if pq.items.Len() == 0 {
		return ret, ErrEmptyQueue
	}
	item := heap.Pop(&pq.items).(*WithPriority[T])
	return *item, nil
}

func (pq *PriorityQueue[T]) Len() int {
	return pq.items.Len()
}
