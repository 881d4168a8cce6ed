package jobregistry

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/3leaps/procctl/pkg/storage"
)

// JobID identifies a submitted job. IDs come from a process-wide
// monotonically increasing sequence and are never reused.
type JobID int64

// String returns the decimal form used for directory names and URLs.
func (id JobID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseJobID parses the decimal form of a JobID.
func ParseJobID(s string) (JobID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid job id %q", s)
	}
	return JobID(n), nil
}

// JobState is the lifecycle state of a job.
//
// NOTE: These values are persisted in job.json by the Journal and are
// part of the stable on-disk contract.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateRunning   JobState = "running"
	JobStateFinished  JobState = "finished"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"

	// JobStateUnknown is only used by the Journal for records left in a
	// non-terminal state by a previous process.
	JobStateUnknown JobState = "unknown"
)

// IsTerminal reports whether no further transitions are possible.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateFinished, JobStateFailed, JobStateCancelled, JobStateUnknown:
		return true
	default:
		return false
	}
}

// InputStorage is the input key under which the registry injects the
// job's *storage.Manager.
const InputStorage = "storage_manager"

// Inputs are the parameters handed to a Process. The registry passes each
// job its own copy.
type Inputs map[string]any

// Result is the output of a successfully finished job.
type Result map[string]any

// Storage returns the job's storage manager injected by the registry.
func (in Inputs) Storage() (*storage.Manager, error) {
	v, ok := in[InputStorage]
	if !ok {
		return nil, fmt.Errorf("input %q is missing", InputStorage)
	}
	m, ok := v.(*storage.Manager)
	if !ok || m == nil {
		return nil, fmt.Errorf("input %q has type %T", InputStorage, v)
	}
	return m, nil
}

// String returns the named input as a trimmed string, or "" if absent.
func (in Inputs) String(key string) string {
	v, ok := in[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func cloneInputs(in Inputs) Inputs {
	out := make(Inputs, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneResult(in Result) Result {
	if in == nil {
		return nil
	}
	out := make(Result, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Timestamps records when a job moved through its lifecycle. Zero values
// mean the transition has not happened.
type Timestamps struct {
	CreatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time
}

// Snapshot is a point-in-time view of a tracked job.
type Snapshot struct {
	ID          JobID     `json:"job_id"`
	Name        string    `json:"name,omitempty"`
	Kind        string    `json:"kind,omitempty"`
	State       JobState  `json:"state"`
	Progress    float64   `json:"progress"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
