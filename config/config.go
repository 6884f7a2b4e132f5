// Package config loads the YAML configuration of the knngraph command.
package config

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ar90n/knngraph"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

const (
	BuilderBrute     = "brute"
	BuilderNNDescent = "nndescent"
	BuilderLSH       = "lsh"
)

var ErrUnknownBuilder = errors.New("unknown builder")

type Config struct {
	Workers     int               `yaml:"workers"`
	LogLevel    string            `yaml:"log_level"`
	Builder     BuilderConfig     `yaml:"builder"`
	Partitioner PartitionerConfig `yaml:"partitioner"`
	Search      SearchConfig      `yaml:"search"`
}

type BuilderConfig struct {
	Type          string  `yaml:"type"`
	K             int     `yaml:"k"`
	Partitions    int     `yaml:"partitions"`
	Rho           float64 `yaml:"rho"`
	Delta         float64 `yaml:"delta"`
	MaxIterations int     `yaml:"max_iterations"`
	Stages        int     `yaml:"stages"`
	Buckets       int     `yaml:"buckets"`
	Dim           int     `yaml:"dim"`
	// Inner is the per bucket builder of lsh: brute or nndescent.
	Inner string `yaml:"inner"`
}

type PartitionerConfig struct {
	Partitions int     `yaml:"partitions"`
	Iterations int     `yaml:"iterations"`
	Balance    float64 `yaml:"balance"`
}

type SearchConfig struct {
	ResultSize int     `yaml:"result_size"`
	Speedup    float64 `yaml:"speedup"`
	Jumps      int     `yaml:"jumps"`
	Expansion  int     `yaml:"expansion"`
}

func Default() *Config {
	return &Config{
		Workers:  0,
		LogLevel: "info",
		Builder: BuilderConfig{
			Type:          BuilderBrute,
			K:             10,
			Partitions:    8,
			Rho:           0.5,
			Delta:         0.001,
			MaxIterations: 10,
			Stages:        2,
			Buckets:       16,
			Dim:           1,
			Inner:         BuilderNNDescent,
		},
		Partitioner: PartitionerConfig{
			Partitions: 8,
			Iterations: 5,
			Balance:    1.1,
		},
		Search: SearchConfig{
			ResultSize: 1,
			Speedup:    4.0,
			Jumps:      8,
			Expansion:  3,
		},
	}
}

// Load reads the file at path over the defaults. Environment variables in
// the file are expanded. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	c, err := Parse(strings.NewReader(os.ExpandEnv(string(data))))
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return c, nil
}

// Parse decodes YAML from r over the defaults. Unknown fields are errors.
func Parse(r io.Reader) (*Config, error) {
	c := Default()

	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "decode yaml")
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}

	b := c.Builder
	switch b.Type {
	case BuilderBrute, BuilderNNDescent:
	case BuilderLSH:
		if b.Inner != BuilderBrute && b.Inner != BuilderNNDescent {
			return errors.Wrapf(ErrUnknownBuilder, "inner = %q", b.Inner)
		}
		if b.Dim < 1 {
			return errors.Wrapf(knngraph.ErrInvalidDim, "dim = %d", b.Dim)
		}
		if b.Stages < 1 {
			return errors.Wrapf(knngraph.ErrInvalidStages, "stages = %d", b.Stages)
		}
		if b.Buckets < 1 {
			return errors.Wrapf(knngraph.ErrInvalidBuckets, "buckets = %d", b.Buckets)
		}
	default:
		return errors.Wrapf(ErrUnknownBuilder, "type = %q", b.Type)
	}
	if b.K < 1 {
		return errors.Wrapf(knngraph.ErrInvalidK, "k = %d", b.K)
	}
	if b.Partitions < 1 {
		return errors.Wrapf(knngraph.ErrInvalidPartitions, "builder partitions = %d", b.Partitions)
	}
	if b.Rho <= 0.0 || 1.0 < b.Rho {
		return errors.Wrapf(knngraph.ErrInvalidRho, "rho = %g", b.Rho)
	}
	if b.Delta < 0.0 || 1.0 < b.Delta {
		return errors.Wrapf(knngraph.ErrInvalidDelta, "delta = %g", b.Delta)
	}
	if b.MaxIterations < 0 {
		return errors.Wrapf(knngraph.ErrInvalidIterations, "max iterations = %d", b.MaxIterations)
	}

	p := c.Partitioner
	if p.Partitions < 1 {
		return errors.Wrapf(knngraph.ErrInvalidPartitions, "partitions = %d", p.Partitions)
	}
	if p.Iterations < 0 {
		return errors.Wrapf(knngraph.ErrInvalidIterations, "iterations = %d", p.Iterations)
	}
	if p.Balance < 1.0 {
		return errors.Wrapf(knngraph.ErrInvalidBalance, "balance = %g", p.Balance)
	}

	s := c.Search
	if s.ResultSize < 1 {
		return errors.Wrapf(knngraph.ErrInvalidResultSize, "result size = %d", s.ResultSize)
	}
	if s.Speedup <= 0.0 {
		return errors.Wrapf(knngraph.ErrInvalidSpeedup, "speedup = %g", s.Speedup)
	}
	if s.Jumps < 1 {
		return errors.Wrapf(knngraph.ErrInvalidJumps, "jumps = %d", s.Jumps)
	}
	if s.Expansion < 1 {
		return errors.Wrapf(knngraph.ErrInvalidExpansion, "expansion = %d", s.Expansion)
	}
	return nil
}

// Level parses LogLevel as a slog level name.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, errors.Wrapf(err, "log level %q", c.LogLevel)
	}
	return level, nil
}
