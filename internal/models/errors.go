package models

import "errors"

// MalformedSignalError marks a raw observation rejected at the normaliser
// boundary. The reject is reported upstream; no incident is created.
type MalformedSignalError struct {
	Reason string
}

func (e *MalformedSignalError) Error() string {
	return "malformed signal: " + e.Reason
}

var (
	// ErrDuplicateEvent signals idempotent ingestion: an event with the same
	// reference already sits inside the retention window.
	ErrDuplicateEvent = errors.New("change event already recorded")

	// ErrNotFound is returned for operations on unknown incident ids.
	ErrNotFound = errors.New("incident not found")

	// ErrAlreadyResolved rejects transitions out of the terminal state.
	ErrAlreadyResolved = errors.New("incident already resolved")
)
