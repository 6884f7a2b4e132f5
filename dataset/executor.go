// Package dataset implements the partitioned execution substrate every
// builder, partitioner and searcher runs on.
//
// A Dataset is a lazily evaluated collection split into partitions.
// Transformations compose per-partition functions; nothing runs until the
// dataset is materialized. Materialization evaluates every partition in
// parallel and is a hard barrier: all partitions finish, or the first error
// cancels the remaining ones and is returned to the caller. Shuffles
// (GroupByKey, ReduceByKey, CoGroup, PartitionBy) materialize their input
// first, so data crosses partitions only at those points.
package dataset

import (
	"context"
	"hash/maphash"
	"time"

	"github.com/ar90n/knngraph"
	"github.com/ar90n/knngraph/common"
	"github.com/cockroachdb/errors"
	"github.com/sourcegraph/conc/pool"
)

// Executor owns the worker pool configuration shared by all datasets
// derived from it.
type Executor struct {
	workers    int
	partitions int
	logger     *knngraph.Logger
	seed       maphash.Seed
}

type Option func(*Executor)

// WithWorkers bounds the number of partitions evaluated concurrently.
// Zero means one worker per CPU.
func WithWorkers(workers int) Option {
	return func(e *Executor) {
		e.workers = workers
	}
}

// WithDefaultPartitions sets the partition count used when callers pass zero.
func WithDefaultPartitions(partitions int) Option {
	return func(e *Executor) {
		e.partitions = partitions
	}
}

func WithLogger(logger *knngraph.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

func NewExecutor(options ...Option) *Executor {
	e := &Executor{
		seed: maphash.MakeSeed(),
	}
	for _, option := range options {
		option(e)
	}

	e.workers = common.GetProcNum(e.workers)
	if e.partitions <= 0 {
		e.partitions = e.workers
	}
	e.logger = e.logger.OrNoop().WithComponent("executor")

	return e
}

func (e *Executor) Workers() int {
	return e.workers
}

func (e *Executor) DefaultPartitions() int {
	return e.partitions
}

func (e *Executor) Logger() *knngraph.Logger {
	return e.logger
}

func (e *Executor) resolvePartitions(parts int) int {
	if parts <= 0 {
		return e.partitions
	}
	return parts
}

// run evaluates f for every index in [0, n) on the pool and waits for all
// of them. The first error cancels the context handed to the others.
func (e *Executor) run(ctx context.Context, name string, n int, f func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}

	begin := time.Now()
	p := pool.New().
		WithMaxGoroutines(e.workers).
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()
	for i := 0; i < n; i++ {
		i := i
		p.Go(func(ctx context.Context) error {
			if err := f(ctx, i); err != nil {
				return errors.Wrapf(err, "%s: partition %d", name, i)
			}
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		e.logger.Debug("step failed", "step", name, "partitions", n, "error", err)
		return err
	}

	e.logger.Debug("step done", "step", name, "partitions", n, "elapsed", time.Since(begin))
	return nil
}

// partitionOf maps a key onto one of parts partitions.
func partitionOf[K comparable](seed maphash.Seed, key K, parts int) int {
	return int(maphash.Comparable(seed, key) % uint64(parts))
}
