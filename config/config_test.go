package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ar90n/knngraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Default(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	assert.Equal(t, BuilderBrute, c.Builder.Type)
	assert.Equal(t, 10, c.Builder.K)
	assert.Equal(t, 8, c.Partitioner.Partitions)
	assert.Equal(t, 4.0, c.Search.Speedup)

	level, err := c.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func Test_ParseOverridesDefaults(t *testing.T) {
	c, err := Parse(strings.NewReader(`
workers: 4
log_level: debug
builder:
  type: lsh
  k: 5
  dim: 16
  inner: brute
partitioner:
  iterations: 0
`))
	require.NoError(t, err)

	assert.Equal(t, 4, c.Workers)
	assert.Equal(t, BuilderLSH, c.Builder.Type)
	assert.Equal(t, 5, c.Builder.K)
	assert.Equal(t, 16, c.Builder.Dim)
	assert.Equal(t, BuilderBrute, c.Builder.Inner)
	assert.Equal(t, 0, c.Partitioner.Iterations)
	assert.Equal(t, 8, c.Partitioner.Partitions)
	assert.Equal(t, 0.5, c.Builder.Rho)

	level, err := c.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func Test_ParseEmpty(t *testing.T) {
	c, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func Test_ParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse(strings.NewReader("builder:\n  kk: 3\n"))
	assert.Error(t, err)
}

func Test_Validate(t *testing.T) {
	type TestCase struct {
		Name   string
		Mutate func(c *Config)
		Want   error
	}

	testCases := []TestCase{
		{Name: "builder type", Mutate: func(c *Config) { c.Builder.Type = "annoy" }, Want: ErrUnknownBuilder},
		{Name: "inner", Mutate: func(c *Config) { c.Builder.Type = BuilderLSH; c.Builder.Inner = "lsh" }, Want: ErrUnknownBuilder},
		{Name: "dim", Mutate: func(c *Config) { c.Builder.Type = BuilderLSH; c.Builder.Dim = 0 }, Want: knngraph.ErrInvalidDim},
		{Name: "stages", Mutate: func(c *Config) { c.Builder.Type = BuilderLSH; c.Builder.Stages = 0 }, Want: knngraph.ErrInvalidStages},
		{Name: "buckets", Mutate: func(c *Config) { c.Builder.Type = BuilderLSH; c.Builder.Buckets = 0 }, Want: knngraph.ErrInvalidBuckets},
		{Name: "k", Mutate: func(c *Config) { c.Builder.K = 0 }, Want: knngraph.ErrInvalidK},
		{Name: "rho", Mutate: func(c *Config) { c.Builder.Rho = 0 }, Want: knngraph.ErrInvalidRho},
		{Name: "delta", Mutate: func(c *Config) { c.Builder.Delta = 2 }, Want: knngraph.ErrInvalidDelta},
		{Name: "max iterations", Mutate: func(c *Config) { c.Builder.MaxIterations = -1 }, Want: knngraph.ErrInvalidIterations},
		{Name: "builder partitions", Mutate: func(c *Config) { c.Builder.Partitions = 0 }, Want: knngraph.ErrInvalidPartitions},
		{Name: "partitions", Mutate: func(c *Config) { c.Partitioner.Partitions = 0 }, Want: knngraph.ErrInvalidPartitions},
		{Name: "iterations", Mutate: func(c *Config) { c.Partitioner.Iterations = -1 }, Want: knngraph.ErrInvalidIterations},
		{Name: "balance", Mutate: func(c *Config) { c.Partitioner.Balance = 0.9 }, Want: knngraph.ErrInvalidBalance},
		{Name: "result size", Mutate: func(c *Config) { c.Search.ResultSize = 0 }, Want: knngraph.ErrInvalidResultSize},
		{Name: "speedup", Mutate: func(c *Config) { c.Search.Speedup = 0 }, Want: knngraph.ErrInvalidSpeedup},
		{Name: "jumps", Mutate: func(c *Config) { c.Search.Jumps = 0 }, Want: knngraph.ErrInvalidJumps},
		{Name: "expansion", Mutate: func(c *Config) { c.Search.Expansion = 0 }, Want: knngraph.ErrInvalidExpansion},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			c := Default()
			tc.Mutate(c)
			assert.ErrorIs(t, c.Validate(), tc.Want)
		})
	}

	c := Default()
	c.LogLevel = "loud"
	assert.Error(t, c.Validate())
}

func Test_Load(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)

	t.Setenv("KNNGRAPH_TEST_K", "7")
	path := filepath.Join(t.TempDir(), "knngraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte("builder:\n  k: ${KNNGRAPH_TEST_K}\n"), 0o600))

	c, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, c.Builder.K)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
