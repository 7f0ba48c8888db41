// Package models holds the types and sentinel errors shared across the
// ttts subsystem: the task/document wire shapes and the error kinds raised
// by the task queue, shard connections and search engine.
package models

import (
	"errors"
)

// Standard engine errors. Callers should compare with errors.Is rather than
// switching on the concrete value, since engine-level errors are often
// wrapped with fmt.Errorf("...: %w", ...) to attach context.
var (
	// ErrNotFound is returned when a document, shard or task id is absent.
	ErrNotFound = errors.New("not found")

	// ErrConfig is returned for malformed caller input: invalid timestamp,
	// missing required field, a query that tokenizes to nothing.
	ErrConfig = errors.New("invalid input")

	// ErrAdmissionDenied is returned when a maintenance-required operation
	// is requested while maintenance mode is off.
	ErrAdmissionDenied = errors.New("maintenance mode required")

	// ErrResourceExhausted is returned when a shard's rowid space reaches
	// zero; the operator must RECONSTRUCT with a higher newInitialId.
	ErrResourceExhausted = errors.New("rowid space exhausted")

	// ErrTransient marks a disk I/O or lock-contention failure that the
	// caller should expect to be retried by the worker via batch replay.
	ErrTransient = errors.New("transient storage error")

	// ErrCorruption marks a shard file that exists but could not be opened.
	ErrCorruption = errors.New("shard corrupt")

	// ErrContentless is returned when an update or delete is attempted
	// against a contentless shard.
	ErrContentless = errors.New("operation not permitted on contentless shard")

	// ErrDuplicateExternalID is returned when an ADD targets an external id
	// that already exists in a different shard. (An ADD of an id that exists
	// in the same contentless shard gets ErrContentless instead.)
	ErrDuplicateExternalID = errors.New("external id already exists")
)
