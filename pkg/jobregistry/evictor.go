package jobregistry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Evictor periodically drops terminal jobs from a Registry.
//
// A terminal job is first stamped with a finalization time on the sweep
// that observes it, and is evicted on a later sweep once the grace period
// has elapsed since that stamp. Evicted jobs are disposed outside the
// registry lock.
type Evictor struct {
	registry *Registry
	interval time.Duration
	grace    time.Duration
	logger   *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func newEvictor(r *Registry, interval, grace time.Duration) *Evictor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Evictor{
		registry: r,
		interval: interval,
		grace:    grace,
		logger:   r.logger.Named("evictor"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the sweep loop. Calling it more than once has no effect.
func (e *Evictor) Start() {
	e.startOnce.Do(func() {
		e.logger.Info("Starting job evictor",
			zap.Duration("interval", e.interval),
			zap.Duration("grace", e.grace))
		e.wg.Add(1)
		go e.loop()
	})
}

// Stop ends the sweep loop and waits for an in-flight sweep to finish.
func (e *Evictor) Stop() {
	e.stopOnce.Do(func() {
		e.cancel()
		e.wg.Wait()
		e.logger.Info("Job evictor stopped")
	})
}

func (e *Evictor) loop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.Sweep()
		}
	}
}

// Sweep runs one eviction pass and returns the number of jobs evicted.
func (e *Evictor) Sweep() int {
	start := time.Now()
	r := e.registry
	now := r.clock.Now()

	r.mu.Lock()
	candidates := make([]*entry, 0, len(r.entries))
	for _, en := range r.entries {
		candidates = append(candidates, en)
	}
	r.mu.Unlock()

	done := make([]*entry, 0, len(candidates))
	for _, en := range candidates {
		if en.job.IsDone() {
			done = append(done, en)
		}
	}

	var victims []*entry
	r.mu.Lock()
	for _, en := range done {
		id := en.job.ID()
		if cur, ok := r.entries[id]; !ok || cur != en {
			continue
		}
		if en.finalizedAt.IsZero() {
			en.finalizedAt = now
			continue
		}
		if now.Sub(en.finalizedAt) >= e.grace {
			delete(r.entries, id)
			victims = append(victims, en)
		}
	}
	r.mu.Unlock()

	var errs error
	for _, en := range victims {
		en.cancel()
		if err := en.job.Dispose(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("job %d: %w", en.job.ID(), err))
		}
	}
	if errs != nil {
		e.logger.Warn("Failed to dispose evicted jobs", zap.Error(errs))
	}

	if len(victims) > 0 {
		e.logger.Debug("Evicted finished jobs", zap.Int("count", len(victims)))
	}
	r.metrics.jobsEvicted(len(victims))
	r.metrics.observeSweep(time.Since(start).Seconds())
	return len(victims)
}
