// Package synthetic generates datasets for examples and tests: points
// drawn from a mixture of gaussian clusters and short spam-like texts.
package synthetic

import (
	"math/rand/v2"

	"github.com/ar90n/knngraph"
	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/stat/distuv"
)

var ErrInvalidCenters = errors.New("invalid center count")

// Overlap controls how much neighboring clusters blend into each other.
type Overlap int

const (
	OverlapNone Overlap = iota
	OverlapLow
	OverlapMedium
	OverlapHigh
)

func (o Overlap) String() string {
	switch o {
	case OverlapNone:
		return "none"
	case OverlapLow:
		return "low"
	case OverlapMedium:
		return "medium"
	case OverlapHigh:
		return "high"
	}
	return "unknown"
}

// deviation returns the cluster standard deviation as a fraction of the
// mean distance between centers.
func (o Overlap) deviation() float64 {
	switch o {
	case OverlapNone:
		return 0.05
	case OverlapLow:
		return 0.15
	case OverlapHigh:
		return 0.6
	}
	return 0.3
}

const defaultSpread = 1000.0

type options struct {
	overlap Overlap
	spread  float64
	src     rand.Source
}

type Option func(*options)

func WithOverlap(overlap Overlap) Option {
	return func(o *options) {
		o.overlap = overlap
	}
}

// WithSpread sets the side of the hypercube the centers are drawn from.
func WithSpread(spread float64) Option {
	return func(o *options) {
		o.spread = spread
	}
}

func WithSource(src rand.Source) Option {
	return func(o *options) {
		o.src = src
	}
}

// Gaussian draws points from a mixture of isotropic gaussian clusters with
// equal weights. It is not safe for concurrent use.
type Gaussian struct {
	dim     int
	centers [][]float64
	pick    *rand.Rand
	normal  distuv.Normal
}

func NewGaussian(dim, centers int, opts ...Option) (*Gaussian, error) {
	if dim < 1 {
		return nil, errors.Wrapf(knngraph.ErrInvalidDim, "dim = %d", dim)
	}
	if centers < 1 {
		return nil, errors.Wrapf(ErrInvalidCenters, "centers = %d", centers)
	}

	o := options{
		overlap: OverlapMedium,
		spread:  defaultSpread,
		src:     rand.NewPCG(rand.Uint64(), rand.Uint64()),
	}
	for _, opt := range opts {
		opt(&o)
	}

	uniform := distuv.Uniform{Min: 0.0, Max: o.spread, Src: o.src}
	cs := make([][]float64, centers)
	for i := range cs {
		cs[i] = make([]float64, dim)
		for j := range cs[i] {
			cs[i][j] = uniform.Rand()
		}
	}

	sigma := o.overlap.deviation() * o.spread / float64(centers)
	return &Gaussian{
		dim:     dim,
		centers: cs,
		pick:    rand.New(o.src),
		normal:  distuv.Normal{Mu: 0.0, Sigma: sigma, Src: o.src},
	}, nil
}

func (g *Gaussian) Dim() int {
	return g.dim
}

// Centers returns a copy of the cluster centers.
func (g *Gaussian) Centers() [][]float64 {
	out := make([][]float64, len(g.centers))
	for i, c := range g.centers {
		out[i] = append([]float64{}, c...)
	}
	return out
}

func (g *Gaussian) Next() []float64 {
	center := g.centers[g.pick.IntN(len(g.centers))]
	p := make([]float64, g.dim)
	for i := range p {
		p[i] = center[i] + g.normal.Rand()
	}
	return p
}

func (g *Gaussian) Points(n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = g.Next()
	}
	return out
}

// Scalars returns the first coordinate of n points; handy with dim 1.
func (g *Gaussian) Scalars(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = g.Next()[0]
	}
	return out
}
