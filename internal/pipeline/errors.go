package pipeline

import "errors"

// Structural errors abort the operation that raised them; per-record
// problems are collected into the run manifest instead.
var (
	// ErrInvalidTrafficDensity reports a negative density reaching the
	// travel estimate.
	ErrInvalidTrafficDensity = errors.New("invalid traffic density")

	// ErrInvalidDistance reports a non-positive order distance.
	ErrInvalidDistance = errors.New("invalid distance")

	// ErrEmptyAggregateDomain reports an aggregation request that produced
	// no groups at all.
	ErrEmptyAggregateDomain = errors.New("empty aggregate domain")

	// ErrUnknownDimension reports a group-by dimension this engine does not
	// define.
	ErrUnknownDimension = errors.New("unknown group dimension")

	// ErrUnknownMetric reports a metric name this engine does not define.
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrUnknownOp reports an aggregation operation this engine does not
	// define.
	ErrUnknownOp = errors.New("unknown aggregation op")

	// ErrInsufficientSample reports a correlation over fewer than two
	// paired observations.
	ErrInsufficientSample = errors.New("insufficient sample")

	// ErrZeroVariance reports a correlation where one series never varies,
	// leaving the coefficient undefined.
	ErrZeroVariance = errors.New("zero variance")

	// ErrInvalidBucketBoundaries reports traffic bucket boundaries that are
	// not strictly ascending.
	ErrInvalidBucketBoundaries = errors.New("invalid bucket boundaries")
)
