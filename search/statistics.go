package search

import (
	"fmt"

	"github.com/ar90n/knngraph/dataset"
)

// Statistics counts the work done by searches. The zero value is empty and
// Merge is associative and commutative, so partial values from partitions
// combine in any order.
type Statistics struct {
	Searches       int64
	Similarities   int64
	Visited        int64
	Restarts       int64
	Hops           int64
	CrossPartition int64
}

func (s Statistics) Merge(other Statistics) Statistics {
	return Statistics{
		Searches:       s.Searches + other.Searches,
		Similarities:   s.Similarities + other.Similarities,
		Visited:        s.Visited + other.Visited,
		Restarts:       s.Restarts + other.Restarts,
		Hops:           s.Hops + other.Hops,
		CrossPartition: s.CrossPartition + other.CrossPartition,
	}
}

func (s Statistics) String() string {
	return fmt.Sprintf(
		"searches: %d, similarities: %d, visited: %d, restarts: %d, hops: %d, cross partition: %d",
		s.Searches, s.Similarities, s.Visited, s.Restarts, s.Hops, s.CrossPartition,
	)
}

// StatisticsAccumulator is the counter partition tasks write to
// concurrently while a search runs.
type StatisticsAccumulator struct {
	acc *dataset.Accumulator[Statistics]
}

func NewStatisticsAccumulator() *StatisticsAccumulator {
	return &StatisticsAccumulator{
		acc: dataset.NewAccumulator(Statistics{}, Statistics.Merge),
	}
}

func (a *StatisticsAccumulator) Add(s Statistics) {
	a.acc.Add(s)
}

func (a *StatisticsAccumulator) Value() Statistics {
	return a.acc.Value()
}

func (a *StatisticsAccumulator) Reset() {
	a.acc.Reset()
}

func (a *StatisticsAccumulator) String() string {
	return a.Value().String()
}
