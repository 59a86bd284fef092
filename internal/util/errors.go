package util

import "errors"

// Sentinel errors for common failure modes. The distinction between
// "unsupported" (a skip, counted separately) and an actual failure is
// load-bearing throughout the pipeline.
var (
	// ErrUnsupported indicates a file format the fingerprinter cannot decode
	ErrUnsupported = errors.New("unsupported format")

	// ErrAbsent indicates a fingerprint or tag that has not been written yet
	ErrAbsent = errors.New("absent")

	// ErrUnresolvable indicates an item whose filesystem path cannot be derived
	ErrUnresolvable = errors.New("path unresolvable")

	// ErrNotFound indicates a required resource was not found in its store
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates disagreeing fingerprints within an inferred group
	ErrConflict = errors.New("fingerprint conflict")

	// ErrPermission indicates a permission error (terminal, never retried)
	ErrPermission = errors.New("permission denied")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")
)
