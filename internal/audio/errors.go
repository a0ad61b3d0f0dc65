package audio

import "errors"

var (
	// ErrInvalidArgument is returned for empty input, a missing or unrecognized
	// format descriptor, or a format that is not linear PCM.
	ErrInvalidArgument = errors.New("audio: invalid argument")

	// ErrAllocation is returned when the allocator cannot provide storage or
	// scratch space.
	ErrAllocation = errors.New("audio: allocation failed")

	// ErrAlreadyInitialized is returned by InitializeInput while storage is live.
	ErrAlreadyInitialized = errors.New("audio: ring buffer already initialized")

	// ErrUninitialized is returned by Write/Read before a successful Initialize.
	ErrUninitialized = errors.New("audio: ring buffer not initialized")

	// ErrUnsupportedConversion is returned when no SampleConverter is registered
	// for the negotiated pair of bit depths.
	ErrUnsupportedConversion = errors.New("audio: unsupported sample conversion")
)
