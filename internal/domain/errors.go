package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExists      = errors.New("session already exists")
	ErrInvalidSessionName = errors.New("invalid session name")
	ErrActivationConflict = errors.New("another session was activated concurrently")
	ErrUnsupportedFormat  = errors.New("unsupported export format")
)

// Op names the database-level operation that failed.
type Op string

const (
	OpProvision Op = "provision"
	OpDrop      Op = "drop"
	OpSwitch    Op = "switch"
	OpExport    Op = "export"
)

// OpError wraps an unexpected infrastructure failure with the session and
// operation it belongs to. Expected outcomes (not found, already exists) are
// returned as sentinels, never as OpError.
type OpError struct {
	Op      Op
	Session string
	Err     error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s session %q: %v", e.Op, e.Session, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}
