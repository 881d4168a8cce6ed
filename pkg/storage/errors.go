package storage

import (
	"errors"
	"fmt"
)

// Sentinel errors for storage operations.
var (
	// ErrAlreadyOpen indicates a stream was requested on a resource that
	// still has an unclosed stream.
	ErrAlreadyOpen = errors.New("resource stream already open")

	// ErrInvalidName indicates a resource or folder name that is empty,
	// absolute, or escapes the storage root.
	ErrInvalidName = errors.New("invalid storage name")
)

// StorageError wraps an underlying filesystem error with the failing
// operation and path.
type StorageError struct {
	// Op is the operation that failed (e.g., "OutputStream", "Dispose").
	Op string

	// Path is the filesystem path involved.
	Path string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// AlreadyOpenError is returned when a resource already has an open stream.
//
// It is a contract violation by the caller and is never recovered silently.
type AlreadyOpenError struct {
	Path string
}

func (e *AlreadyOpenError) Error() string {
	return fmt.Sprintf("%s: %s", ErrAlreadyOpen.Error(), e.Path)
}

// Is reports whether target is ErrAlreadyOpen.
func (e *AlreadyOpenError) Is(target error) bool {
	return target == ErrAlreadyOpen
}

// IsAlreadyOpen returns true if the error indicates a second stream was
// requested on the same resource.
func IsAlreadyOpen(err error) bool {
	return errors.Is(err, ErrAlreadyOpen)
}

// IsStorageError returns true if err is or wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
