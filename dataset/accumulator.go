package dataset

import "sync"

// Accumulator is a value that many partition tasks add to concurrently.
// merge must be associative and commutative so the final value does not
// depend on the order in which tasks finish.
type Accumulator[T any] struct {
	mu    sync.Mutex
	zero  T
	value T
	merge func(T, T) T
}

func NewAccumulator[T any](zero T, merge func(T, T) T) *Accumulator[T] {
	return &Accumulator[T]{
		zero:  zero,
		value: zero,
		merge: merge,
	}
}

func (a *Accumulator[T]) Add(v T) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.value = a.merge(a.value, v)
}

func (a *Accumulator[T]) Value() T {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value
}

func (a *Accumulator[T]) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.value = a.zero
}
