// Copyright 2025 James Ross
package chunk

import "errors"

var (
	// ErrInvalidInput is returned for malformed ids, empty merge input,
	// unknown type tags and missing required chunk fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoStrategy is returned when no strategy is registered for a
	// requested chunk type.
	ErrNoStrategy = errors.New("no strategy registered")

	// ErrDepthExceeded is returned when recursion passes the depth cap;
	// it indicates malformed or adversarial input.
	ErrDepthExceeded = errors.New("recursion depth exceeded")
)
