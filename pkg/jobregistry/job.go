package jobregistry

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/3leaps/procctl/pkg/storage"
)

// Process is the unit of work run by a Job.
//
// Implementations report through the Monitor and should check
// m.IsCanceled (or ctx) regularly; cancellation is cooperative.
type Process interface {
	Execute(ctx context.Context, inputs Inputs, m *Monitor) (Result, error)
}

// ProcessFunc adapts a function to Process.
type ProcessFunc func(ctx context.Context, inputs Inputs, m *Monitor) (Result, error)

// Execute calls f.
func (f ProcessFunc) Execute(ctx context.Context, inputs Inputs, m *Monitor) (Result, error) {
	return f(ctx, inputs, m)
}

// Disposer is implemented by processes that hold resources beyond their
// job storage. Dispose runs once, before the storage is removed.
type Disposer interface {
	Dispose() error
}

// JobOption configures a Job.
type JobOption func(*Job)

// WithJobName sets a human-readable label.
func WithJobName(name string) JobOption {
	return func(j *Job) { j.name = name }
}

// WithJobKind records which kind of process the job runs.
func WithJobKind(kind string) JobOption {
	return func(j *Job) { j.kind = kind }
}

// WithJobLogger sets the job logger.
func WithJobLogger(l *zap.Logger) JobOption {
	return func(j *Job) {
		if l != nil {
			j.logger = l
		}
	}
}

func withTerminalHook(fn func(*Job)) JobOption {
	return func(j *Job) { j.onTerminal = fn }
}

// Job wraps a Process with a state machine, progress tracking and
// guaranteed disposal. A Job runs at most once.
type Job struct {
	id      JobID
	name    string
	kind    string
	process Process
	storage *storage.Manager
	logger  *zap.Logger

	onTerminal func(*Job)
	done       chan struct{}

	mu      sync.Mutex
	state   JobState
	monitor *Monitor
	result  Result
	cause   error
	times   Timestamps

	disposeOnce sync.Once
	hookErr     error
}

// NewJob creates a waiting job. st may be nil for processes that need no
// storage.
func NewJob(id JobID, p Process, st *storage.Manager, opts ...JobOption) *Job {
	j := &Job{
		id:      id,
		process: p,
		storage: st,
		logger:  zap.NewNop(),
		done:    make(chan struct{}),
		state:   JobStateWaiting,
		times:   Timestamps{CreatedAt: time.Now().UTC()},
	}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.With(zap.Int64("job_id", int64(id)))
	return j
}

// Execute runs the process and drives the job to a terminal state.
//
// Whatever the process does (return, fail or panic) the job ends in a
// terminal state and its resources are disposed before Execute returns.
// A panic is returned as *FatalError.
func (j *Job) Execute(ctx context.Context, inputs Inputs) (res Result, err error) {
	j.mu.Lock()
	if j.state != JobStateWaiting {
		j.mu.Unlock()
		return nil, &JobError{Op: "Execute", ID: j.id, Err: ErrAlreadyStarted}
	}
	m := newMonitor(ctx, j.id, j.logger)
	j.state = JobStateRunning
	j.monitor = m
	j.times.StartedAt = time.Now().UTC()
	j.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			fe := &FatalError{Value: rec, Stack: debug.Stack()}
			j.logger.Error("Job crashed", zap.Any("panic", rec), zap.ByteString("stack", fe.Stack))
			j.finish(JobStateFailed, nil, fe)
			res, err = nil, fe
		}
		if derr := j.Dispose(); derr != nil {
			j.logger.Warn("Job disposal failed", zap.Error(derr))
		}
	}()

	out, execErr := j.process.Execute(ctx, inputs, m)
	switch {
	case execErr != nil && m.IsCanceled() && errors.Is(execErr, context.Canceled):
		j.finish(JobStateCancelled, nil, nil)
		return nil, nil
	case execErr != nil:
		m.ExceptionOccurred(execErr)
		j.finish(JobStateFailed, nil, execErr)
		return nil, execErr
	case m.IsCanceled():
		j.finish(JobStateCancelled, nil, nil)
		return nil, nil
	default:
		if out == nil {
			out = Result{}
		}
		m.Complete()
		j.finish(JobStateFinished, out, nil)
		return cloneResult(out), nil
	}
}

func (j *Job) finish(state JobState, res Result, cause error) {
	j.mu.Lock()
	if j.state.IsTerminal() {
		j.mu.Unlock()
		return
	}
	j.state = state
	j.result = res
	j.cause = cause
	j.times.EndedAt = time.Now().UTC()
	j.mu.Unlock()

	j.logger.Info("Job ended", zap.String("state", string(state)), zap.Error(cause))
	if j.onTerminal != nil {
		j.onTerminal(j)
	}
	close(j.done)
}

// cancelBeforeStart moves a job that never ran to cancelled and disposes it.
// It reports whether the transition happened.
func (j *Job) cancelBeforeStart() bool {
	j.mu.Lock()
	waiting := j.state == JobStateWaiting
	j.mu.Unlock()
	if !waiting {
		return false
	}
	j.finish(JobStateCancelled, nil, nil)
	if err := j.Dispose(); err != nil {
		j.logger.Warn("Job disposal failed", zap.Error(err))
	}
	return true
}

// Dispose runs the process's Disposer hook, then removes the job storage.
// The hook runs once; the storage is removed on every call, since a job
// that outlives a kill can recreate its root.
func (j *Job) Dispose() error {
	j.disposeOnce.Do(func() {
		if d, ok := j.process.(Disposer); ok {
			j.hookErr = d.Dispose()
		}
	})
	errs := j.hookErr
	if j.storage != nil && !j.storage.Dispose() {
		errs = multierr.Append(errs, &storage.StorageError{Op: "Dispose", Path: j.storage.Root(), Err: errors.New("job storage still present")})
	}
	return errs
}

// ID returns the job ID.
func (j *Job) ID() JobID { return j.id }

// Name returns the job label.
func (j *Job) Name() string { return j.name }

// Kind returns the process kind.
func (j *Job) Kind() string { return j.kind }

// Storage returns the job's storage manager.
func (j *Job) Storage() *storage.Manager { return j.storage }

// Done is closed once the job reaches a terminal state and its terminal
// hooks have run.
func (j *Job) Done() <-chan struct{} { return j.done }

// State returns the current state.
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// IsDone reports whether the job is in a terminal state.
func (j *Job) IsDone() bool {
	return j.State().IsTerminal()
}

// Progress returns the last reported completion percentage. It is 0 for a
// job that has not started.
func (j *Job) Progress() float64 {
	j.mu.Lock()
	m := j.monitor
	j.mu.Unlock()
	if m == nil {
		return 0
	}
	return m.Value()
}

// Result returns a copy of the result of a finished job, nil otherwise.
func (j *Job) Result() Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != JobStateFinished {
		return nil
	}
	return cloneResult(j.result)
}

// Cause returns the failure cause of a failed job, nil otherwise.
func (j *Job) Cause() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != JobStateFailed {
		return nil
	}
	return j.cause
}

// Timestamps returns the lifecycle timestamps.
func (j *Job) Timestamps() Timestamps {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.times
}
