// Package models contains domain models for curio.
package models

import (
	"errors"
	"fmt"
)

// ErrInsufficientData signals that a learned pattern has fewer samples than
// the minimum threshold. Callers must fall back to neutral defaults instead
// of treating the pattern as authoritative.
var ErrInsufficientData = errors.New("insufficient pattern data")

// PersistenceError wraps a pattern store write failure. It must propagate to
// the caller; a silently dropped write corrupts the learning signal.
type PersistenceError struct {
	Namespace string
	Key       string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s/%s: %v", e.Namespace, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NewPersistenceError wraps err with the namespace and key that failed.
func NewPersistenceError(namespace, key string, err error) *PersistenceError {
	return &PersistenceError{Namespace: namespace, Key: key, Err: err}
}

// ValidationError reports a malformed feedback action or an unknown
// feature/species reference. Not retryable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransientError marks a failed external call (vision assessment) that may
// succeed on retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPersistence reports whether err is (or wraps) a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
