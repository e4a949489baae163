package store

import (
	"errors"
	"fmt"
)

var (
	// ErrVersionConflict matches any *ConflictError.
	ErrVersionConflict = errors.New("store version conflict")

	// ErrStoreCorruption matches any *CorruptionError.
	ErrStoreCorruption = errors.New("store corruption")
)

// ConflictError is returned by Commit when the store version moved past
// the version the commit was computed against. Nothing was written.
type ConflictError struct {
	Expected int64
	Current  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("store version conflict: expected %d, current %d", e.Expected, e.Current)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// CorruptionError is returned when persisted data fails structural
// validation. It is fatal; the store is never repaired automatically.
type CorruptionError struct {
	Key    string // serialized instance key, empty for store-level problems
	Reason string
}

func (e *CorruptionError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store corruption at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("store corruption: %s", e.Reason)
}

func (e *CorruptionError) Is(target error) bool {
	return target == ErrStoreCorruption
}

// IsConflict reports whether err is an optimistic-concurrency conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsCorruption reports whether err is a structural validation failure.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrStoreCorruption)
}
