package jobregistry

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// progressLogRate bounds how often a single job logs progress updates.
const progressLogRate = 2

// Monitor is the channel between a running process and its job wrapper.
//
// The process reports lifecycle and progress through it and polls
// IsCanceled (or selects on Done) to honour cancellation.
type Monitor struct {
	ctx    context.Context
	id     JobID
	logger *zap.Logger

	limiter  *rate.Limiter
	progress atomic.Uint64 // float64 bits
	started  atomic.Bool

	mu  sync.Mutex
	err error
}

func newMonitor(ctx context.Context, id JobID, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		ctx:     ctx,
		id:      id,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(progressLogRate), 1),
	}
}

// Started marks the beginning of the process's work. Progress already
// reported is kept.
func (m *Monitor) Started() {
	if m.started.CompareAndSwap(false, true) {
		m.logger.Debug("Job started", zap.Float64("progress", m.Value()))
	}
}

// Progress records the completion percentage, clamped to [0, 100].
func (m *Monitor) Progress(pct float64) {
	switch {
	case math.IsNaN(pct), pct < 0:
		pct = 0
	case pct > 100:
		pct = 100
	}
	m.progress.Store(math.Float64bits(pct))
	if m.limiter.Allow() {
		m.logger.Debug("Job progress", zap.Float64("progress", pct))
	}
}

// Complete records that the process finished its work.
func (m *Monitor) Complete() {
	m.progress.Store(math.Float64bits(100))
	m.logger.Debug("Job complete")
}

// IsCanceled reports whether cancellation was requested for the job.
func (m *Monitor) IsCanceled() bool {
	return m.ctx.Err() != nil
}

// Done is closed when cancellation is requested.
func (m *Monitor) Done() <-chan struct{} {
	return m.ctx.Done()
}

// ExceptionOccurred records an error raised by the process. The last
// recorded error is kept.
func (m *Monitor) ExceptionOccurred(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
	m.logger.Warn("Job reported an error", zap.Error(err))
}

// Err returns the last error passed to ExceptionOccurred.
func (m *Monitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Value returns the last reported progress.
func (m *Monitor) Value() float64 {
	return math.Float64frombits(m.progress.Load())
}
