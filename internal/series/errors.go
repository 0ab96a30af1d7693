package series

import "errors"

var (
	// ErrNotFound is returned when a point lookup misses or a range or
	// filter query matches no samples.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a sample already exists at a timestamp.
	ErrDuplicate = errors.New("duplicate timestamp")

	// ErrMalformedQuery is returned for queries that cannot be evaluated,
	// kept distinct from ErrNotFound so callers can tell "no rows" from a bad request.
	ErrMalformedQuery = errors.New("malformed query")

	// ErrEmptySeries is returned by operations that need a bound on a series
	// with no samples.
	ErrEmptySeries = errors.New("series is empty")
)
