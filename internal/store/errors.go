package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Update and Delete for an unknown appointment ID.
var ErrNotFound = errors.New("appointment not found")

// ValidationError rejects a create or update before anything is changed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// SyncError reports a failed explicit integration action: connect,
// disconnect or sync. Mirroring done as part of a create, update or delete
// never returns one.
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("external calendar %s failed: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
