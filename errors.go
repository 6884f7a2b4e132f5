package knngraph

import "github.com/cockroachdb/errors"

var (
	ErrInvalidK          = errors.New("invalid k")
	ErrInvalidPartitions = errors.New("invalid partition count")
	ErrInvalidIterations = errors.New("invalid iteration count")
	ErrInvalidDim        = errors.New("invalid dim")
	ErrInvalidStages     = errors.New("invalid stages")
	ErrInvalidBuckets    = errors.New("invalid buckets")
	ErrInvalidRho        = errors.New("invalid rho")
	ErrInvalidDelta      = errors.New("invalid delta")
	ErrInvalidSpeedup    = errors.New("invalid speedup")
	ErrInvalidResultSize = errors.New("invalid result size")
	ErrInvalidJumps      = errors.New("invalid jumps")
	ErrInvalidExpansion  = errors.New("invalid expansion")
	ErrInvalidBalance    = errors.New("invalid balance multiplier")
	ErrNilSimilarity     = errors.New("similarity is nil")
	ErrNilBuilder        = errors.New("inner builder is nil")
	ErrDimMismatch       = errors.New("vector dim mismatch")
)

// IsConfigError reports whether err was caused by invalid configuration.
// Such errors are not recoverable by retrying the same call.
func IsConfigError(err error) bool {
	return errors.IsAny(err,
		ErrInvalidK,
		ErrInvalidPartitions,
		ErrInvalidIterations,
		ErrInvalidDim,
		ErrInvalidStages,
		ErrInvalidBuckets,
		ErrInvalidRho,
		ErrInvalidDelta,
		ErrInvalidSpeedup,
		ErrInvalidResultSize,
		ErrInvalidJumps,
		ErrInvalidExpansion,
		ErrInvalidBalance,
		ErrNilSimilarity,
		ErrNilBuilder,
	)
}
