package graph

import (
	"context"
	"math/bits"
	"math/rand/v2"

	"github.com/ar90n/knngraph"
	"github.com/ar90n/knngraph/dataset"
	"github.com/ar90n/knngraph/similarity"
	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	defaultStages  = 2
	defaultBuckets = 16
)

// HyperplaneFamily hashes a vector to the sign pattern of its projections
// on random hyperplanes through the origin. Vectors with a small angle
// between them share most signs.
type HyperplaneFamily struct {
	normals [][]float64
}

// NewHyperplaneFamily draws nbits normals of length dim with standard
// gaussian components. nbits is at most 64.
func NewHyperplaneFamily(src rand.Source, nbits, dim int) *HyperplaneFamily {
	normal := distuv.Normal{Mu: 0.0, Sigma: 1.0, Src: src}

	normals := make([][]float64, nbits)
	for i := range normals {
		normals[i] = make([]float64, dim)
		for j := range normals[i] {
			normals[i][j] = normal.Rand()
		}
	}
	return &HyperplaneFamily{normals: normals}
}

func (h *HyperplaneFamily) Bits() int {
	return len(h.normals)
}

func (h *HyperplaneFamily) Dim() int {
	if len(h.normals) == 0 {
		return 0
	}
	return len(h.normals[0])
}

// Signature packs one bit per hyperplane, set when v lies on its positive
// side. v must have length Dim().
func (h *HyperplaneFamily) Signature(v []float64) uint64 {
	var sig uint64
	for i, n := range h.normals {
		if 0.0 <= floats.Dot(n, v) {
			sig |= 1 << uint(i)
		}
	}
	return sig
}

func (h *HyperplaneFamily) Bucket(v []float64, buckets int) int {
	return int(h.Signature(v) % uint64(buckets))
}

type bucketKey struct {
	Stage  int
	Bucket int
}

// LSHBucketed routes every node to one bucket per stage, builds a small
// graph inside each bucket with an inner LocalBuilder and merges the lists
// a node collected over all stages. More stages raise recall at the cost
// of more inner builds.
type LSHBucketed[T any] struct {
	k          int
	stages     int
	buckets    int
	dim        int
	vector     func(T) []float64
	similarity Similarity[T]
	inner      LocalBuilder[T]
	logger     *knngraph.Logger
}

// NewLSHBucketed returns a builder hashing vector(value), which must have
// length dim, while the inner builder ranks neighbors with similarity.
func NewLSHBucketed[T any](dim int, vector func(T) []float64, similarity Similarity[T], inner LocalBuilder[T]) *LSHBucketed[T] {
	return &LSHBucketed[T]{
		k:          defaultK,
		stages:     defaultStages,
		buckets:    defaultBuckets,
		dim:        dim,
		vector:     vector,
		similarity: similarity,
		inner:      inner,
		logger:     knngraph.NoopLogger(),
	}
}

// NewLSHVectors is NewLSHBucketed for dense vectors under cosine
// similarity.
func NewLSHVectors(dim int, inner LocalBuilder[[]float64]) *LSHBucketed[[]float64] {
	identity := func(v []float64) []float64 { return v }
	return NewLSHBucketed[[]float64](dim, identity, similarity.Cosine, inner)
}

func (l *LSHBucketed[T]) SetK(k int) *LSHBucketed[T] {
	l.k = k
	return l
}

func (l *LSHBucketed[T]) SetStages(stages int) *LSHBucketed[T] {
	l.stages = stages
	return l
}

func (l *LSHBucketed[T]) SetBuckets(buckets int) *LSHBucketed[T] {
	l.buckets = buckets
	return l
}

func (l *LSHBucketed[T]) SetSimilarity(similarity Similarity[T]) *LSHBucketed[T] {
	l.similarity = similarity
	return l
}

func (l *LSHBucketed[T]) SetLogger(logger *knngraph.Logger) *LSHBucketed[T] {
	l.logger = logger.OrNoop()
	return l
}

func (l *LSHBucketed[T]) validate() error {
	if err := validateK(l.k); err != nil {
		return err
	}
	if err := validateSimilarity(l.similarity); err != nil {
		return err
	}
	if l.inner == nil {
		return knngraph.ErrNilBuilder
	}
	if l.dim < 1 {
		return errors.Wrapf(knngraph.ErrInvalidDim, "dim = %d", l.dim)
	}
	if l.vector == nil {
		return errors.Wrap(knngraph.ErrInvalidDim, "no vector projection")
	}
	if l.stages < 1 {
		return errors.Wrapf(knngraph.ErrInvalidStages, "stages = %d", l.stages)
	}
	if l.buckets < 1 {
		return errors.Wrapf(knngraph.ErrInvalidBuckets, "buckets = %d", l.buckets)
	}
	return nil
}

// signatureBits returns ceil(log2(buckets)), at least 1 and at most 64.
func signatureBits(buckets int) int {
	n := bits.Len(uint(buckets - 1))
	if n < 1 {
		return 1
	}
	if 64 < n {
		return 64
	}
	return n
}

func (l *LSHBucketed[T]) ComputeGraph(ctx context.Context, nodes *dataset.Dataset[Node[T]]) (*Graph[T], error) {
	if err := l.validate(); err != nil {
		return nil, err
	}

	rng := newTaskRand()
	nbits := signatureBits(l.buckets)
	families := make([]*HyperplaneFamily, l.stages)
	for i := range families {
		families[i] = NewHyperplaneFamily(rng, nbits, l.dim)
	}

	dim := l.dim
	buckets := l.buckets
	vector := l.vector
	routed := dataset.MapPartitions(nodes, func(ctx context.Context, _ int, items []Node[T]) ([]dataset.Pair[bucketKey, Node[T]], error) {
		out := make([]dataset.Pair[bucketKey, Node[T]], 0, len(items)*len(families))
		for _, n := range items {
			v := vector(n.Value)
			if len(v) != dim {
				return nil, errors.Wrapf(knngraph.ErrDimMismatch, "node %s: len = %d, dim = %d", n.ID, len(v), dim)
			}
			for stage, family := range families {
				key := bucketKey{Stage: stage, Bucket: family.Bucket(v, buckets)}
				out = append(out, dataset.NewPair(key, n))
			}
		}
		return out, ctx.Err()
	}).Named("lsh-route")

	parts := nodes.NumPartitions()
	groups, err := dataset.GroupByKey(ctx, routed, parts)
	if err != nil {
		return nil, err
	}

	k := l.k
	sim := l.similarity
	inner := l.inner
	built := dataset.MapPartitions(groups, func(ctx context.Context, _ int, items []dataset.Pair[bucketKey, []Node[T]]) ([]dataset.Pair[string, Vertex[T]], error) {
		var out []dataset.Pair[string, Vertex[T]]
		for _, group := range items {
			lists, err := inner.Build(ctx, group.Value, k, sim)
			if err != nil {
				return nil, errors.Wrapf(err, "stage %d bucket %d", group.Key.Stage, group.Key.Bucket)
			}

			for _, n := range group.Value {
				nl, ok := lists[n.ID]
				if !ok {
					nl = NewNeighborList[T](k, n.ID)
				}
				out = append(out, keyed(Vertex[T]{Node: n, Neighbors: nl}))
			}
		}
		return out, nil
	}).Named("lsh-build")

	reduced, err := dataset.ReduceByKey(ctx, built, parts, mergeVertices[T])
	if err != nil {
		return nil, err
	}

	g, err := fromReduced(ctx, reduced)
	if err != nil {
		return nil, err
	}

	if groupCount, err := groups.Count(ctx); err == nil {
		l.logger.Debug("lsh graph computed", "stages", l.stages, "buckets", l.buckets, "groups", groupCount, "partitions", g.NumPartitions())
	}
	return g, nil
}
