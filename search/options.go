package search

import (
	"time"

	"github.com/ar90n/knngraph"
	"github.com/ar90n/knngraph/partition"
)

// Observer receives the statistics and duration of every search.
type Observer interface {
	ObserveSearch(kind string, stats Statistics, elapsed time.Duration)
}

type options struct {
	logger     *knngraph.Logger
	observer   Observer
	partitions []partition.Option
}

type Option func(*options)

func WithLogger(logger *knngraph.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithObserver(observer Observer) Option {
	return func(o *options) {
		o.observer = observer
	}
}

// WithPartitionOptions forwards opts to the partitioner run by
// NewApproximateSearch.
func WithPartitionOptions(opts ...partition.Option) Option {
	return func(o *options) {
		o.partitions = append(o.partitions, opts...)
	}
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.OrNoop()
	return o
}

func (o options) observe(kind string, stats Statistics, start time.Time) {
	if o.observer != nil {
		o.observer.ObserveSearch(kind, stats, time.Since(start))
	}
}
