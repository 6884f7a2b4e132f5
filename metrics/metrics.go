// Package metrics exports build, partitioning and search activity to
// Prometheus. A nil *Collector is valid and records nothing.
package metrics

import (
	"time"

	"github.com/ar90n/knngraph/search"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "knngraph"

type Collector struct {
	buildDuration  *prometheus.HistogramVec
	iterations     prometheus.Counter
	changes        prometheus.Counter
	moves          prometheus.Counter
	searches       *prometheus.CounterVec
	similarities   *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		buildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Duration of graph builds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"builder"}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nndescent_iterations_total",
			Help:      "Total NNDescent rounds completed",
		}),
		changes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nndescent_changes_total",
			Help:      "Total neighbor list entries changed by NNDescent rounds",
		}),
		moves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partition_moves_total",
			Help:      "Total nodes moved between partitions",
		}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Total searches answered",
		}, []string{"kind"}),
		similarities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_similarities_total",
			Help:      "Total similarities computed by searches",
		}, []string{"kind"}),
		searchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Duration of searches",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}

	for _, collector := range []prometheus.Collector{
		c.buildDuration,
		c.iterations,
		c.changes,
		c.moves,
		c.searches,
		c.similarities,
		c.searchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, errors.Wrap(err, "register metrics")
		}
	}
	return c, nil
}

func (c *Collector) ObserveBuild(builder string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.buildDuration.WithLabelValues(builder).Observe(elapsed.Seconds())
}

// NNDescentHook returns a function suitable for NNDescent.SetIterationHook.
func (c *Collector) NNDescentHook() func(iteration, changes int) {
	return func(_, changes int) {
		if c == nil {
			return
		}
		c.iterations.Inc()
		c.changes.Add(float64(changes))
	}
}

// PartitionHook returns a function suitable for partition.WithMoveHook.
func (c *Collector) PartitionHook() func(round, moves int) {
	return func(_, moves int) {
		if c == nil {
			return
		}
		c.moves.Add(float64(moves))
	}
}

// ObserveSearch implements search.Observer.
func (c *Collector) ObserveSearch(kind string, stats search.Statistics, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.searches.WithLabelValues(kind).Add(float64(stats.Searches))
	c.similarities.WithLabelValues(kind).Add(float64(stats.Similarities))
	c.searchDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

var _ search.Observer = (*Collector)(nil)
