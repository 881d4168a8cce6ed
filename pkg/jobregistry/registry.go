// Package jobregistry runs processes asynchronously and tracks them by ID.
//
// A Registry hands every submitted Process its own storage.Manager, runs it
// on a goroutine wrapped in a Job state machine, and answers status,
// progress, result and failure queries until the job is killed or evicted.
// An optional Evictor drops terminal jobs after a grace period, and an
// optional Journal persists each job's outcome to disk.
package jobregistry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"k8s.io/utils/clock"

	"github.com/3leaps/procctl/pkg/storage"
)

const (
	defaultKillWait        = 250 * time.Millisecond
	defaultShutdownTimeout = 5 * time.Second
)

// StorageFactory creates the storage manager for a new job.
type StorageFactory func(id JobID) (*storage.Manager, error)

// FactoryFrom adapts a storage.Factory, giving each job a directory named
// after its ID.
func FactoryFrom(f *storage.Factory) StorageFactory {
	return func(id JobID) (*storage.Manager, error) {
		return f.ForJob(id.String())
	}
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithSequence overrides the process-wide ID sequence.
func WithSequence(s Sequence) Option {
	return func(r *Registry) {
		if s != nil {
			r.seq = s
		}
	}
}

// WithMaxConcurrent bounds how many jobs run at once. Jobs over the limit
// stay waiting until a slot frees up. n <= 0 means unbounded.
func WithMaxConcurrent(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.sem = semaphore.NewWeighted(int64(n))
		} else {
			r.sem = nil
		}
	}
}

// WithEviction enables the evictor with the given check interval and grace
// period. It runs once Start is called.
func WithEviction(interval, grace time.Duration) Option {
	return func(r *Registry) {
		r.evictInterval = interval
		r.evictGrace = grace
	}
}

// WithClock sets the clock used for eviction bookkeeping.
func WithClock(c clock.PassiveClock) Option {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithMetrics records registry metrics.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithJournal persists job records on submit and on completion.
func WithJournal(j *Journal) Option {
	return func(r *Registry) { r.journal = j }
}

// WithKillWait sets how long Kill waits for a running job to stop before
// logging that it ignored cancellation.
func WithKillWait(d time.Duration) Option {
	return func(r *Registry) { r.killWait = d }
}

// WithShutdownTimeout bounds how long Close waits for job goroutines.
func WithShutdownTimeout(d time.Duration) Option {
	return func(r *Registry) { r.shutdownTimeout = d }
}

// SubmitOption labels a submitted job.
type SubmitOption = JobOption

type entry struct {
	job         *Job
	cancel      context.CancelFunc
	submittedAt time.Time

	// finalizedAt is guarded by Registry.mu.
	finalizedAt time.Time
}

// Registry tracks asynchronously running jobs by ID.
type Registry struct {
	factory StorageFactory
	seq     Sequence
	logger  *zap.Logger
	clock   clock.PassiveClock
	metrics *Metrics
	journal *Journal
	sem     *semaphore.Weighted

	killWait        time.Duration
	shutdownTimeout time.Duration
	evictInterval   time.Duration
	evictGrace      time.Duration
	evictor         *Evictor

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	entries map[JobID]*entry
	closed  bool
}

// New creates a Registry. factory may be nil, in which case jobs get no
// storage.
func New(factory StorageFactory, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		factory:         factory,
		seq:             DefaultSequence(),
		logger:          zap.NewNop(),
		clock:           clock.RealClock{},
		killWait:        defaultKillWait,
		shutdownTimeout: defaultShutdownTimeout,
		baseCtx:         ctx,
		baseCancel:      cancel,
		entries:         make(map[JobID]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.evictInterval > 0 {
		r.evictor = newEvictor(r, r.evictInterval, r.evictGrace)
	}
	return r
}

// Start starts the evictor, if configured.
func (r *Registry) Start() {
	if r.evictor != nil {
		r.evictor.Start()
	}
}

// Evictor returns the registry's evictor, or nil if eviction is disabled.
func (r *Registry) Evictor() *Evictor {
	return r.evictor
}

// SubmitAsync starts p on its own goroutine and returns its ID at once.
//
// The job receives a copy of inputs with its storage manager added under
// InputStorage.
func (r *Registry) SubmitAsync(p Process, inputs Inputs, opts ...SubmitOption) (JobID, error) {
	if p == nil {
		return 0, fmt.Errorf("process is nil")
	}
	if r.isClosed() {
		return 0, ErrRegistryClosed
	}

	id := r.seq.Next()

	var st *storage.Manager
	if r.factory != nil {
		var err error
		st, err = r.factory(id)
		if err != nil {
			return 0, fmt.Errorf("create storage for job %d: %w", id, err)
		}
	}

	merged := cloneInputs(inputs)
	if st != nil {
		merged[InputStorage] = st
	}

	jobOpts := append([]JobOption{
		WithJobLogger(r.logger),
		withTerminalHook(r.jobEnded),
	}, opts...)
	job := NewJob(id, p, st, jobOpts...)

	ctx, cancel := context.WithCancel(r.baseCtx)
	e := &entry{job: job, cancel: cancel, submittedAt: r.clock.Now()}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return 0, ErrRegistryClosed
	}
	r.entries[id] = e
	r.wg.Add(1)
	r.mu.Unlock()

	r.metrics.jobSubmitted()
	r.record(job)

	go r.run(ctx, e, merged)

	r.logger.Debug("Job submitted", zap.Int64("job_id", int64(id)), zap.String("kind", job.Kind()))
	return id, nil
}

func (r *Registry) run(ctx context.Context, e *entry, inputs Inputs) {
	defer r.wg.Done()
	defer e.cancel()

	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			e.job.cancelBeforeStart()
			return
		}
		defer r.sem.Release(1)
	}

	if _, err := e.job.Execute(ctx, inputs); err != nil {
		var fe *FatalError
		if errors.As(err, &fe) {
			r.logger.Error("Job terminated by fatal error", zap.Int64("job_id", int64(e.job.ID())), zap.Error(err))
		}
	}
}

func (r *Registry) jobEnded(j *Job) {
	r.metrics.jobCompleted(j.State())
	r.record(j)
}

func (r *Registry) record(j *Job) {
	if r.journal == nil {
		return
	}
	if err := r.journal.Write(recordFromJob(j)); err != nil {
		r.logger.Warn("Failed to write job record", zap.Int64("job_id", int64(j.ID())), zap.Error(err))
	}
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Registry) lookup(op string, id JobID) (*entry, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return nil, &JobError{Op: op, ID: id, Err: ErrNotFound}
	}
	return e, nil
}

// Job returns the tracked job.
func (r *Registry) Job(id JobID) (*Job, error) {
	e, err := r.lookup("Job", id)
	if err != nil {
		return nil, err
	}
	return e.job, nil
}

// Status returns the job state.
func (r *Registry) Status(id JobID) (JobState, error) {
	e, err := r.lookup("Status", id)
	if err != nil {
		return "", err
	}
	return e.job.State(), nil
}

// Progress returns the job's completion percentage.
func (r *Registry) Progress(id JobID) (float64, error) {
	e, err := r.lookup("Progress", id)
	if err != nil {
		return 0, err
	}
	return e.job.Progress(), nil
}

// IsDone reports whether the job is terminal.
func (r *Registry) IsDone(id JobID) (bool, error) {
	e, err := r.lookup("IsDone", id)
	if err != nil {
		return false, err
	}
	return e.job.IsDone(), nil
}

// FailureCause returns the error that failed the job. The cause is nil
// unless the job is in the failed state.
func (r *Registry) FailureCause(id JobID) (error, error) {
	e, err := r.lookup("FailureCause", id)
	if err != nil {
		return nil, err
	}
	return e.job.Cause(), nil
}

// Result returns the job's result. It fails with ErrNotReady unless the job
// finished successfully.
func (r *Registry) Result(id JobID) (Result, error) {
	e, err := r.lookup("Result", id)
	if err != nil {
		return nil, err
	}
	if e.job.State() != JobStateFinished {
		return nil, &JobError{Op: "Result", ID: id, Err: ErrNotReady}
	}
	return e.job.Result(), nil
}

// List returns a snapshot of every tracked job ordered by ID.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	finalized := make(map[JobID]time.Time, len(r.entries))
	for id, e := range r.entries {
		entries = append(entries, e)
		finalized[id] = e.finalizedAt
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		out = append(out, snapshotOf(e, finalized[e.job.ID()]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot returns a point-in-time view of one job.
func (r *Registry) Snapshot(id JobID) (Snapshot, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	var finalized time.Time
	if ok {
		finalized = e.finalizedAt
	}
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, &JobError{Op: "Snapshot", ID: id, Err: ErrNotFound}
	}
	return snapshotOf(e, finalized), nil
}

func snapshotOf(e *entry, finalizedAt time.Time) Snapshot {
	j := e.job
	ts := j.Timestamps()
	s := Snapshot{
		ID:          j.ID(),
		Name:        j.Name(),
		Kind:        j.Kind(),
		State:       j.State(),
		Progress:    j.Progress(),
		SubmittedAt: e.submittedAt.UTC(),
		StartedAt:   optionalTime(ts.StartedAt),
		EndedAt:     optionalTime(ts.EndedAt),
		FinalizedAt: optionalTime(finalizedAt),
	}
	if cause := j.Cause(); cause != nil {
		s.Error = cause.Error()
	}
	return s
}

// Kill requests cancellation of the job, disposes its resources and stops
// tracking it. It returns true when the job was still active and the
// cancellation was accepted, false when the job had already ended.
//
// Cancellation is cooperative: a process that ignores it keeps running,
// which is logged as a warning.
func (r *Registry) Kill(id JobID) (bool, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if !ok {
		return false, &JobError{Op: "Kill", ID: id, Err: ErrNotFound}
	}

	logger := r.logger.With(zap.Int64("job_id", int64(id)))
	accepted := !e.job.IsDone()

	e.cancel()

	if accepted && r.killWait > 0 {
		t := time.NewTimer(r.killWait)
		select {
		case <-e.job.Done():
		case <-t.C:
		}
		t.Stop()
	}

	if err := e.job.Dispose(); err != nil {
		logger.Warn("Failed to dispose killed job", zap.Error(err))
	}

	if e.job.State() == JobStateRunning {
		logger.Warn("Job still running after cancellation request")
	}

	if accepted {
		r.metrics.jobKilled()
	}
	logger.Info("Job killed", zap.Bool("accepted", accepted))
	return accepted, nil
}

// Close kills every tracked job, stops the evictor and waits up to the
// shutdown timeout for job goroutines to return. Individual kill failures
// are logged and returned together.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ids := make([]JobID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	// Kills run concurrently; each may wait up to killWait.
	killErrs := make([]error, len(ids))
	var kills sync.WaitGroup
	for i, id := range ids {
		kills.Add(1)
		go func() {
			defer kills.Done()
			if _, err := r.Kill(id); err != nil && !IsNotFound(err) {
				r.logger.Warn("Failed to kill job on shutdown", zap.Int64("job_id", int64(id)), zap.Error(err))
				killErrs[i] = err
			}
		}()
	}
	kills.Wait()
	errs := multierr.Combine(killErrs...)

	if r.evictor != nil {
		r.evictor.Stop()
	}

	r.baseCancel()
	if !r.waitForJobs(r.shutdownTimeout) {
		r.logger.Warn("Timed out waiting for jobs to stop", zap.Duration("timeout", r.shutdownTimeout))
	}
	return errs
}

func (r *Registry) waitForJobs(timeout time.Duration) bool {
	c := make(chan struct{})
	go func() {
		defer close(c)
		r.wg.Wait()
	}()
	select {
	case <-c:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Closed reports whether Close has been called.
func (r *Registry) Closed() bool {
	return r.isClosed()
}
