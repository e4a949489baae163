package engine

import (
	"errors"
	"fmt"
)

// CandidateError describes why a single candidate was skipped or degraded.
//
// Candidate errors never abort a pass. They are attached to the candidate's
// Outcome and enumerated in the reports:
//   - Malformed candidate: missing canonical fields, skipped
//   - Out of scope: process type not reconciled under the config, skipped
//   - Catalog inconsistency: process or step has no catalog entry; the
//     candidate is reconciled with step and health inference degraded to unknown
type CandidateError struct {
	// Code identifies the error category.
	Code CandidateErrorCode

	// Message is a human-readable description.
	Message string

	// SourceKey is the upstream instance key of the candidate, if any.
	SourceKey string

	// Index is the candidate's position in the run input.
	Index int

	// Details contains additional context.
	Details map[string]string
}

// CandidateErrorCode categorizes candidate errors.
type CandidateErrorCode string

const (
	// ErrCodeMalformedCandidate indicates missing or invalid required fields.
	ErrCodeMalformedCandidate CandidateErrorCode = "MALFORMED_CANDIDATE"

	// ErrCodeOutOfScope indicates a process type outside the configured scope.
	ErrCodeOutOfScope CandidateErrorCode = "OUT_OF_SCOPE"

	// ErrCodeCatalogInconsistency indicates a process or step label with no
	// catalog entry.
	ErrCodeCatalogInconsistency CandidateErrorCode = "CATALOG_INCONSISTENCY"
)

// Error implements the error interface.
func (e *CandidateError) Error() string {
	if e.SourceKey != "" {
		return fmt.Sprintf("%s: %s (candidate=%d, source=%s)", e.Code, e.Message, e.Index, e.SourceKey)
	}
	return fmt.Sprintf("%s: %s (candidate=%d)", e.Code, e.Message, e.Index)
}

// Skips reports whether the error removes the candidate from reconciliation.
func (e *CandidateError) Skips() bool {
	return e.Code != ErrCodeCatalogInconsistency
}

// IsMalformed returns true if the error is a malformed candidate error.
// Uses errors.As to handle wrapped errors.
func IsMalformed(err error) bool {
	var ce *CandidateError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeMalformedCandidate
	}
	return false
}

// IsOutOfScope returns true if the error is an out-of-scope error.
func IsOutOfScope(err error) bool {
	var ce *CandidateError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeOutOfScope
	}
	return false
}

// IsCatalogInconsistency returns true if the error is a catalog inconsistency.
func IsCatalogInconsistency(err error) bool {
	var ce *CandidateError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeCatalogInconsistency
	}
	return false
}

// NewMalformedError creates a CandidateError for a candidate that failed validation.
func NewMalformedError(index int, sourceKey string, cause error) *CandidateError {
	return &CandidateError{
		Code:      ErrCodeMalformedCandidate,
		Message:   cause.Error(),
		SourceKey: sourceKey,
		Index:     index,
	}
}

// NewOutOfScopeError creates a CandidateError for a process outside the scope.
func NewOutOfScopeError(index int, sourceKey, processID string) *CandidateError {
	return &CandidateError{
		Code:      ErrCodeOutOfScope,
		Message:   fmt.Sprintf("process %q is not in scope", processID),
		SourceKey: sourceKey,
		Index:     index,
		Details:   map[string]string{"process": processID},
	}
}

// NewCatalogError creates a CandidateError for an unresolved catalog label.
func NewCatalogError(index int, sourceKey, field, label string) *CandidateError {
	return &CandidateError{
		Code:      ErrCodeCatalogInconsistency,
		Message:   fmt.Sprintf("%s %q has no catalog entry", field, label),
		SourceKey: sourceKey,
		Index:     index,
		Details:   map[string]string{"field": field, "label": label},
	}
}

// ErrRetriesExhausted matches any *PassError.
var ErrRetriesExhausted = errors.New("commit retries exhausted")

// PassError is returned when every commit attempt of a pass lost to a
// concurrent commit. The store is untouched by the failed pass.
type PassError struct {
	RunID    string
	Attempts int
	Err      error // last conflict
}

func (e *PassError) Error() string {
	return fmt.Sprintf("reconciliation pass %s failed after %d attempts: %v", e.RunID, e.Attempts, e.Err)
}

func (e *PassError) Unwrap() error {
	return e.Err
}

func (e *PassError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

// IsRetriesExhausted returns true if the pass gave up after bounded retries.
func IsRetriesExhausted(err error) bool {
	return errors.Is(err, ErrRetriesExhausted)
}
