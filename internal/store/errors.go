package store

import "errors"

var (
	// ErrDuplicateID is returned when an appended entry or event reuses an
	// existing row id.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyLinked is returned by Link when either endpoint already
	// points at a different counterpart.
	ErrAlreadyLinked = errors.New("already linked")

	// ErrClosed is returned when a mutation is submitted after Close.
	ErrClosed = errors.New("store closed")
)
