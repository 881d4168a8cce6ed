// Package output writes job events as JSONL.
//
// Each line is a self-contained envelope carrying a typed payload, so a
// consumer can follow a job's lifecycle (state changes, progress, the
// final result or error) by reading stdout line by line.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants, versioned as procctl.<type>.v<version>.
const (
	// TypeJob identifies job state change records.
	TypeJob = "procctl.job.v1"

	// TypeProgress identifies progress update records.
	TypeProgress = "procctl.progress.v1"

	// TypeResult identifies final result records.
	TypeResult = "procctl.result.v1"

	// TypeError identifies error records.
	TypeError = "procctl.error.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`

	// JobID correlates records of one job.
	JobID string `json:"job_id"`

	// Kind is the job kind (e.g. "archive").
	Kind string `json:"kind,omitempty"`

	// Data is the type-specific payload.
	Data json.RawMessage `json:"data"`
}

// JobRecord is the payload for state changes.
type JobRecord struct {
	Name  string `json:"name,omitempty"`
	State string `json:"state"`
}

// ProgressRecord is the payload for progress updates.
type ProgressRecord struct {
	// Percent is in [0, 100].
	Percent float64 `json:"percent"`
	State   string  `json:"state"`
}

// ResultRecord is the payload emitted once a job finishes.
type ResultRecord struct {
	Result map[string]any `json:"result"`

	Duration      time.Duration `json:"duration_ns"`
	DurationHuman string        `json:"duration"`
}

// ErrorRecord is the payload for failed or cancelled jobs and for
// errors raised before a job could start.
type ErrorRecord struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeFailed    = "FAILED"
	ErrCodeFatal     = "FATAL"
	ErrCodeCancelled = "CANCELLED"
	ErrCodeInvalid   = "INVALID_SPEC"
	ErrCodeInternal  = "INTERNAL"
)

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = errors.New("writer is closed")

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // "marshal_data", "marshal_record" or "write"
	Err error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
