package kdkmeans

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is wrapped by every configuration validation failure.
	ErrInvalidConfig = errors.New("kdkmeans: invalid config")

	// ErrDimensionMismatch is matched by every *DimensionMismatchError.
	ErrDimensionMismatch = errors.New("kdkmeans: dimension mismatch")

	// ErrEmptyCluster is returned by Centroid.Normalize when no point was
	// accumulated into the centroid.
	ErrEmptyCluster = errors.New("kdkmeans: empty cluster")

	// ErrTooFewPoints is returned when an initializer is asked for more
	// centroids than there are points.
	ErrTooFewPoints = errors.New("kdkmeans: fewer points than clusters")

	// ErrNoPoints is returned when clustering is requested on an empty dataset.
	ErrNoPoints = errors.New("kdkmeans: no points")
)

// DimensionMismatchError reports two points, or a point and a tree, that
// disagree on dimensionality.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("kdkmeans: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Is lets errors.Is(err, ErrDimensionMismatch) match.
func (e *DimensionMismatchError) Is(target error) bool { return target == ErrDimensionMismatch }

func checkDims(expected, actual int) error {
	if expected != actual {
		return &DimensionMismatchError{Expected: expected, Actual: actual}
	}
	return nil
}

func invalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
