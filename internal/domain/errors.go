package domain

import "errors"

var (
	// ErrEmptyInput reports an operation that needs at least one vector.
	ErrEmptyInput = errors.New("empty input")

	// ErrDimensionMismatch reports an embedding of unexpected length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrStaleTopicSet reports a write carrying a topic-set version that a
	// clustering pass has since superseded. The write must be discarded.
	ErrStaleTopicSet = errors.New("stale topic set version")

	// ErrLockBusy reports that a date lock could not be acquired within the
	// bounded wait. Recoverable: skip the cycle, retry next schedule.
	ErrLockBusy = errors.New("date lock busy")
)
