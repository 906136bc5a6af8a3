package index

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyIndex is returned when a build is attempted with zero entries.
	ErrEmptyIndex = errors.New("index has no entries")
	// ErrMissingIndex is returned when no built index exists at the path.
	ErrMissingIndex = errors.New("index not found")
	// ErrCorruptIndex is returned when stored data is present but unreadable or inconsistent.
	ErrCorruptIndex = errors.New("index is corrupt")
	// ErrStorageFailure wraps underlying I/O and storage engine errors.
	ErrStorageFailure = errors.New("index storage failure")
	// ErrBuildLocked is returned when another build holds the target's lock.
	ErrBuildLocked = errors.New("index build already in progress")
)

// Error attaches an error kind and the failing operation to an underlying cause.
// errors.Is matches both the kind sentinel and anything in the cause chain.
type Error struct {
	Kind error
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Missing reports that no index exists at path.
func Missing(op, path string) error {
	return &Error{Kind: ErrMissingIndex, Op: op, Path: path}
}

// Corrupt reports stored data that failed validation.
func Corrupt(op, path string, err error) error {
	return &Error{Kind: ErrCorruptIndex, Op: op, Path: path, Err: err}
}

// Corruptf is Corrupt with a formatted cause.
func Corruptf(op, path, format string, args ...any) error {
	return Corrupt(op, path, fmt.Errorf(format, args...))
}

// Failure wraps a storage error. A nil err yields nil, and errors that already
// carry a kind are returned unchanged.
func Failure(op string, err error) error {
	if err == nil {
		return nil
	}
	var ie *Error
	if errors.As(err, &ie) {
		return err
	}
	return &Error{Kind: ErrStorageFailure, Op: op, Err: err}
}
