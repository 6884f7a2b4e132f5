package dataset

import (
	"context"

	"github.com/ar90n/knngraph/common"
	"github.com/cockroachdb/errors"
)

type computeFunc[T any] func(ctx context.Context, part int) ([]T, error)

// Dataset is an immutable, partitioned collection. Derived datasets are
// lazy until Materialize is called.
type Dataset[T any] struct {
	exec    *Executor
	name    string
	parts   int
	compute computeFunc[T]

	materialized bool
	cached       [][]T
}

// Parallelize splits items into parts contiguous partitions.
// Zero parts uses the executor default.
func Parallelize[T any](exec *Executor, items []T, parts int) *Dataset[T] {
	parts = exec.resolvePartitions(parts)

	partitions := make([][]T, parts)
	for i, c := range common.Chunks(len(items), parts) {
		partitions[i] = items[c.Begin:c.End:c.End]
	}

	return FromPartitions(exec, partitions)
}

// FromPartitions wraps already partitioned data without copying it.
func FromPartitions[T any](exec *Executor, partitions [][]T) *Dataset[T] {
	return &Dataset[T]{
		exec:         exec,
		name:         "parallelize",
		parts:        len(partitions),
		materialized: true,
		cached:       partitions,
	}
}

// Empty returns a materialized dataset with parts empty partitions.
func Empty[T any](exec *Executor, parts int) *Dataset[T] {
	return FromPartitions(exec, make([][]T, exec.resolvePartitions(parts)))
}

func (d *Dataset[T]) Executor() *Executor {
	return d.exec
}

// NumPartitions reports the partition count. It never triggers evaluation.
func (d *Dataset[T]) NumPartitions() int {
	return d.parts
}

func (d *Dataset[T]) IsMaterialized() bool {
	return d.materialized
}

// Named returns a copy of d labelled for logging.
func (d *Dataset[T]) Named(name string) *Dataset[T] {
	c := *d
	c.name = name
	return &c
}

func (d *Dataset[T]) Name() string {
	return d.name
}

func (d *Dataset[T]) partition(ctx context.Context, i int) ([]T, error) {
	if d.materialized {
		return d.cached[i], nil
	}
	return d.compute(ctx, i)
}

// Materialize evaluates every partition and returns a dataset backed by
// the results. It is the synchronization barrier of the execution model.
func (d *Dataset[T]) Materialize(ctx context.Context) (*Dataset[T], error) {
	if d.materialized {
		return d, nil
	}

	out := make([][]T, d.parts)
	err := d.exec.run(ctx, d.name, d.parts, func(ctx context.Context, i int) error {
		items, err := d.compute(ctx, i)
		if err != nil {
			return err
		}
		out[i] = items
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Dataset[T]{
		exec:         d.exec,
		name:         d.name,
		parts:        d.parts,
		materialized: true,
		cached:       out,
	}, nil
}

// Partition returns the items of partition i, evaluating it if needed.
func (d *Dataset[T]) Partition(ctx context.Context, i int) ([]T, error) {
	if i < 0 || d.parts <= i {
		return nil, errors.Newf("partition %d out of range [0, %d)", i, d.parts)
	}
	return d.partition(ctx, i)
}

// Partitions materializes d and returns its partitions.
func (d *Dataset[T]) Partitions(ctx context.Context) ([][]T, error) {
	m, err := d.Materialize(ctx)
	if err != nil {
		return nil, err
	}
	return m.cached, nil
}

// Collect materializes d and concatenates its partitions in order.
func (d *Dataset[T]) Collect(ctx context.Context) ([]T, error) {
	partitions, err := d.Partitions(ctx)
	if err != nil {
		return nil, err
	}

	n := 0
	for _, p := range partitions {
		n += len(p)
	}
	out := make([]T, 0, n)
	for _, p := range partitions {
		out = append(out, p...)
	}
	return out, nil
}

func (d *Dataset[T]) Count(ctx context.Context) (int, error) {
	partitions, err := d.Partitions(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, p := range partitions {
		n += len(p)
	}
	return n, nil
}

func derive[T, U any](d *Dataset[T], name string, f func(ctx context.Context, part int, items []T) ([]U, error)) *Dataset[U] {
	return &Dataset[U]{
		exec:  d.exec,
		name:  name,
		parts: d.parts,
		compute: func(ctx context.Context, part int) ([]U, error) {
			items, err := d.partition(ctx, part)
			if err != nil {
				return nil, err
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return f(ctx, part, items)
		},
	}
}

// MapPartitions applies f to whole partitions. An error from any partition
// aborts the materialization that evaluates it.
func MapPartitions[T, U any](d *Dataset[T], f func(ctx context.Context, part int, items []T) ([]U, error)) *Dataset[U] {
	return derive(d, "mapPartitions", f)
}

func Map[T, U any](d *Dataset[T], f func(T) U) *Dataset[U] {
	return derive(d, "map", func(_ context.Context, _ int, items []T) ([]U, error) {
		out := make([]U, len(items))
		for i, item := range items {
			out[i] = f(item)
		}
		return out, nil
	})
}

func FlatMap[T, U any](d *Dataset[T], f func(T) []U) *Dataset[U] {
	return derive(d, "flatMap", func(_ context.Context, _ int, items []T) ([]U, error) {
		out := make([]U, 0, len(items))
		for _, item := range items {
			out = append(out, f(item)...)
		}
		return out, nil
	})
}

func Filter[T any](d *Dataset[T], predicate func(T) bool) *Dataset[T] {
	return derive(d, "filter", func(_ context.Context, _ int, items []T) ([]T, error) {
		out := make([]T, 0, len(items))
		for _, item := range items {
			if predicate(item) {
				out = append(out, item)
			}
		}
		return out, nil
	})
}

// Union concatenates the partitions of a and b.
func Union[T any](a, b *Dataset[T]) *Dataset[T] {
	return &Dataset[T]{
		exec:  a.exec,
		name:  "union",
		parts: a.parts + b.parts,
		compute: func(ctx context.Context, part int) ([]T, error) {
			if part < a.parts {
				return a.partition(ctx, part)
			}
			return b.partition(ctx, part-a.parts)
		},
	}
}

// CartesianPartitions materializes a and b, then derives a dataset with one
// partition per (left, right) partition pair holding f(left, right).
// Output partition i*b.NumPartitions()+j pairs left i with right j.
func CartesianPartitions[T, U, R any](ctx context.Context, a *Dataset[T], b *Dataset[U], f func(ctx context.Context, left []T, right []U) ([]R, error)) (*Dataset[R], error) {
	a, err := a.Materialize(ctx)
	if err != nil {
		return nil, err
	}
	b, err = b.Materialize(ctx)
	if err != nil {
		return nil, err
	}

	return &Dataset[R]{
		exec:  a.exec,
		name:  "cartesian",
		parts: a.parts * b.parts,
		compute: func(ctx context.Context, part int) ([]R, error) {
			return f(ctx, a.cached[part/b.parts], b.cached[part%b.parts])
		},
	}, nil
}
