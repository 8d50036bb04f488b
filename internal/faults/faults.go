// Package faults defines the centralized error taxonomy for the trail
// pipeline.
//
// Every fallible operation in the pipeline classifies its failures into one
// of the kinds below. Only Fatal faults cross component boundaries; all other
// kinds are recovered at the narrowest component that can handle them:
//   - Transient: bounded retry with backoff, then skip the unit of work
//   - Parse: skip the row, advance the cursor, log at warn
//   - SizeExceeded: skip, no retry, log at info
//   - Conflict: re-query once, then drop silently
//   - Duplicate: treated as success, no notification
//   - Fatal: component transitions to Failed and the orchestrator halts
//     dependents
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a fault for recovery policy purposes.
type Kind string

const (
	Transient    Kind = "transient"
	Parse        Kind = "parse"
	SizeExceeded Kind = "size_exceeded"
	Conflict     Kind = "conflict"
	Duplicate    Kind = "duplicate"
	Fatal        Kind = "fatal"
)

// Fault wraps an error with its taxonomy kind.
type Fault struct {
	Kind Kind
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// New wraps err with the given kind. Returns nil if err is nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Kind: kind, Err: err}
}

// Newf wraps a formatted error with the given kind.
func Newf(kind Kind, format string, args ...any) error {
	return &Fault{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err, or Transient if err carries no
// classification. Unclassified errors default to the retryable kind so an
// unlabelled failure never escalates past its component by accident.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return Transient
}

// IsFatal reports whether err must escalate to the orchestrator.
func IsFatal(err error) bool {
	return err != nil && KindOf(err) == Fatal
}
