package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/3leaps/procctl/pkg/jobregistry"
	"github.com/3leaps/procctl/pkg/jobspec"
)

// KindWait names the wait job.
const KindWait = "wait"

// Wait sleeps through a number of steps, reporting progress after each.
// It is used for smoke tests and to exercise cancellation.
type Wait struct {
	Steps    int           `mapstructure:"steps"`
	Interval time.Duration `mapstructure:"interval"`

	// FailAt makes the job fail after that step; 0 never fails.
	FailAt int `mapstructure:"fail_at"`
}

// NewWait is the Factory for KindWait.
func NewWait(spec jobspec.Spec) (jobregistry.Process, error) {
	w := &Wait{Steps: 10, Interval: 100 * time.Millisecond}
	if err := decodeInputs(KindWait, spec.Inputs, w); err != nil {
		return nil, err
	}
	switch {
	case w.Steps <= 0:
		return nil, &InputError{Kind: KindWait, Err: fmt.Errorf("steps must be positive, got %d", w.Steps)}
	case w.Interval < 0:
		return nil, &InputError{Kind: KindWait, Err: fmt.Errorf("interval must not be negative")}
	case w.FailAt < 0 || w.FailAt > w.Steps:
		return nil, &InputError{Kind: KindWait, Err: fmt.Errorf("fail_at must be within [0, %d]", w.Steps)}
	}
	return w, nil
}

func (w *Wait) Execute(ctx context.Context, _ jobregistry.Inputs, m *jobregistry.Monitor) (jobregistry.Result, error) {
	m.Started()

	t := time.NewTimer(w.Interval)
	defer t.Stop()
	for step := 1; step <= w.Steps; step++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
		if step == w.FailAt {
			return nil, fmt.Errorf("wait: failing at step %d as requested", step)
		}
		m.Progress(float64(step) * 100 / float64(w.Steps))
		t.Reset(w.Interval)
	}

	return jobregistry.Result{"ok": true, "steps": w.Steps}, nil
}
