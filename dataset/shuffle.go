package dataset

import (
	"context"

	"github.com/cockroachdb/errors"
)

type Pair[K comparable, V any] struct {
	Key   K
	Value V
}

func NewPair[K comparable, V any](key K, value V) Pair[K, V] {
	return Pair[K, V]{Key: key, Value: value}
}

// Joined is one matching (left, right) combination produced by Join.
type Joined[V, W any] struct {
	Left  V
	Right W
}

// CoGrouped holds, for one key, the values found on each side of a CoGroup.
type CoGrouped[V, W any] struct {
	Left  []V
	Right []W
}

// tagged marks which side of a CoGroup a value came from.
type tagged[K comparable, V, W any] struct {
	key   K
	left  *V
	right *W
}

// shuffle materializes d and routes every item to the partition chosen by
// route. Routing runs in parallel per source partition; the exchange is the
// barrier after it.
func shuffle[T any](ctx context.Context, d *Dataset[T], name string, parts int, route func(T) int) ([][]T, error) {
	d, err := d.Materialize(ctx)
	if err != nil {
		return nil, err
	}

	buckets := make([][][]T, d.parts)
	err = d.exec.run(ctx, name, d.parts, func(ctx context.Context, src int) error {
		local := make([][]T, parts)
		for _, item := range d.cached[src] {
			dst := route(item)
			if dst < 0 || parts <= dst {
				return errors.Newf("route %d out of range [0, %d)", dst, parts)
			}
			local[dst] = append(local[dst], item)
		}
		buckets[src] = local
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([][]T, parts)
	for dst := range out {
		n := 0
		for src := range buckets {
			n += len(buckets[src][dst])
		}
		out[dst] = make([]T, 0, n)
		for src := range buckets {
			out[dst] = append(out[dst], buckets[src][dst]...)
		}
	}
	return out, nil
}

// PartitionBy redistributes d into parts partitions, placing each item in
// partition route(item).
func PartitionBy[T any](ctx context.Context, d *Dataset[T], parts int, route func(T) int) (*Dataset[T], error) {
	parts = d.exec.resolvePartitions(parts)
	out, err := shuffle(ctx, d, "partitionBy", parts, route)
	if err != nil {
		return nil, err
	}
	return FromPartitions(d.exec, out).Named("partitionBy"), nil
}

// HashPartition redistributes pairs by the hash of their key.
func HashPartition[K comparable, V any](ctx context.Context, d *Dataset[Pair[K, V]], parts int) (*Dataset[Pair[K, V]], error) {
	parts = d.exec.resolvePartitions(parts)
	seed := d.exec.seed
	return PartitionBy(ctx, d, parts, func(p Pair[K, V]) int {
		return partitionOf(seed, p.Key, parts)
	})
}

// GroupByKey gathers all values of each key into one pair. Keys keep the
// order in which they were first seen within their destination partition.
func GroupByKey[K comparable, V any](ctx context.Context, d *Dataset[Pair[K, V]], parts int) (*Dataset[Pair[K, []V]], error) {
	shuffled, err := HashPartition(ctx, d, parts)
	if err != nil {
		return nil, err
	}

	return derive(shuffled, "groupByKey", func(_ context.Context, _ int, items []Pair[K, V]) ([]Pair[K, []V], error) {
		index := make(map[K]int)
		out := make([]Pair[K, []V], 0)
		for _, item := range items {
			i, ok := index[item.Key]
			if !ok {
				i = len(out)
				index[item.Key] = i
				out = append(out, Pair[K, []V]{Key: item.Key})
			}
			out[i].Value = append(out[i].Value, item.Value)
		}
		return out, nil
	}).Materialize(ctx)
}

// ReduceByKey combines values per key with reduce, first inside every
// source partition and then once more after the shuffle. reduce must be
// associative.
func ReduceByKey[K comparable, V any](ctx context.Context, d *Dataset[Pair[K, V]], parts int, reduce func(V, V) V) (*Dataset[Pair[K, V]], error) {
	combine := func(_ context.Context, _ int, items []Pair[K, V]) ([]Pair[K, V], error) {
		index := make(map[K]int)
		out := make([]Pair[K, V], 0)
		for _, item := range items {
			if i, ok := index[item.Key]; ok {
				out[i].Value = reduce(out[i].Value, item.Value)
				continue
			}
			index[item.Key] = len(out)
			out = append(out, item)
		}
		return out, nil
	}

	shuffled, err := HashPartition(ctx, derive(d, "combine", combine), parts)
	if err != nil {
		return nil, err
	}

	return derive(shuffled, "reduceByKey", combine).Materialize(ctx)
}

// CoGroup groups a and b by key into the same partitions. Every key present
// on either side appears exactly once in the result.
func CoGroup[K comparable, V, W any](ctx context.Context, a *Dataset[Pair[K, V]], b *Dataset[Pair[K, W]], parts int) (*Dataset[Pair[K, CoGrouped[V, W]]], error) {
	left := Map(a, func(p Pair[K, V]) tagged[K, V, W] {
		v := p.Value
		return tagged[K, V, W]{key: p.Key, left: &v}
	})
	right := Map(b, func(p Pair[K, W]) tagged[K, V, W] {
		w := p.Value
		return tagged[K, V, W]{key: p.Key, right: &w}
	})

	parts = a.exec.resolvePartitions(parts)
	seed := a.exec.seed
	shuffled, err := PartitionBy(ctx, Union(left, right), parts, func(t tagged[K, V, W]) int {
		return partitionOf(seed, t.key, parts)
	})
	if err != nil {
		return nil, err
	}

	return derive(shuffled, "coGroup", func(_ context.Context, _ int, items []tagged[K, V, W]) ([]Pair[K, CoGrouped[V, W]], error) {
		index := make(map[K]int)
		out := make([]Pair[K, CoGrouped[V, W]], 0)
		for _, item := range items {
			i, ok := index[item.key]
			if !ok {
				i = len(out)
				index[item.key] = i
				out = append(out, Pair[K, CoGrouped[V, W]]{Key: item.key})
			}
			if item.left != nil {
				out[i].Value.Left = append(out[i].Value.Left, *item.left)
			} else {
				out[i].Value.Right = append(out[i].Value.Right, *item.right)
			}
		}
		return out, nil
	}).Materialize(ctx)
}

// Join is the inner join of a and b on their keys.
func Join[K comparable, V, W any](ctx context.Context, a *Dataset[Pair[K, V]], b *Dataset[Pair[K, W]], parts int) (*Dataset[Pair[K, Joined[V, W]]], error) {
	grouped, err := CoGroup(ctx, a, b, parts)
	if err != nil {
		return nil, err
	}

	return FlatMap(grouped, func(p Pair[K, CoGrouped[V, W]]) []Pair[K, Joined[V, W]] {
		out := make([]Pair[K, Joined[V, W]], 0, len(p.Value.Left)*len(p.Value.Right))
		for _, v := range p.Value.Left {
			for _, w := range p.Value.Right {
				out = append(out, Pair[K, Joined[V, W]]{Key: p.Key, Value: Joined[V, W]{Left: v, Right: w}})
			}
		}
		return out
	}).Named("join"), nil
}
