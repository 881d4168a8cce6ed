package jobregistry

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry operations.
var (
	// ErrNotFound indicates no job is tracked under the requested ID,
	// either because it was never submitted or because it was evicted or killed.
	ErrNotFound = errors.New("job not found")

	// ErrNotReady indicates a result was requested for a job that has not
	// finished successfully.
	ErrNotReady = errors.New("job result not ready")

	// ErrAlreadyStarted indicates Execute was called on a job that is not
	// waiting. Jobs are single-use.
	ErrAlreadyStarted = errors.New("job already started")

	// ErrRegistryClosed indicates a submission after Close.
	ErrRegistryClosed = errors.New("registry is closed")
)

// JobError wraps registry errors with the operation and job ID.
type JobError struct {
	// Op is the operation that failed (e.g., "Status", "Result").
	Op string

	// ID is the job the operation referred to.
	ID JobID

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *JobError) Error() string {
	return fmt.Sprintf("%s job %d: %v", e.Op, e.ID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *JobError) Unwrap() error {
	return e.Err
}

// FatalError is a panic recovered at the job execution boundary.
//
// The job is marked failed with the FatalError as its cause, and Execute
// returns it so the caller can tell it apart from an ordinary failure.
type FatalError struct {
	// Value is the value passed to panic.
	Value any

	// Stack is the goroutine stack at the point of recovery.
	Stack []byte
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error in job: %v", e.Value)
}

// Unwrap returns the panic value when it is itself an error.
func (e *FatalError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// IsNotFound returns true if the error indicates an unknown or evicted job.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsNotReady returns true if the error indicates a result is not available.
func IsNotReady(err error) bool {
	return errors.Is(err, ErrNotReady)
}

// IsFatal returns true if the error is a recovered panic.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
