package metrics

import (
	"testing"
	"time"

	"github.com/ar90n/knngraph/search"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Collector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	c.ObserveBuild("brute", 2*time.Second)
	c.NNDescentHook()(1, 120)
	c.NNDescentHook()(2, 30)
	c.PartitionHook()(1, 7)
	c.ObserveSearch("approximate", search.Statistics{Searches: 1, Similarities: 250}, time.Millisecond)
	c.ObserveSearch("approximate", search.Statistics{Searches: 1, Similarities: 150}, time.Millisecond)
	c.ObserveSearch("exhaustive", search.Statistics{Searches: 1, Similarities: 1000}, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.iterations))
	assert.Equal(t, 150.0, testutil.ToFloat64(c.changes))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.moves))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.searches.WithLabelValues("approximate")))
	assert.Equal(t, 400.0, testutil.ToFloat64(c.similarities.WithLabelValues("approximate")))
	assert.Equal(t, 1000.0, testutil.ToFloat64(c.similarities.WithLabelValues("exhaustive")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.buildDuration))
	assert.Equal(t, 2, testutil.CollectAndCount(c.searchDuration))
}

func Test_CollectorRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewCollector(reg)
	require.NoError(t, err)

	_, err = NewCollector(reg)
	assert.Error(t, err)
}

func Test_NilCollector(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.ObserveBuild("brute", time.Second)
		c.NNDescentHook()(1, 1)
		c.PartitionHook()(1, 1)
		c.ObserveSearch("approximate", search.Statistics{Searches: 1}, time.Second)
	})
}
