package jobregistry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/3leaps/procctl/pkg/storage"
)

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, string) {
	t.Helper()
	base := t.TempDir()
	f, err := storage.NewFactory(afero.NewOsFs(), base, nil)
	require.NoError(t, err)
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithSequence(NewSequence(0))}, opts...)
	r := New(FactoryFrom(f), opts...)
	t.Cleanup(func() { _ = r.Close() })
	return r, base
}

func sleepThen(d time.Duration, res Result) ProcessFunc {
	return func(ctx context.Context, in Inputs, m *Monitor) (Result, error) {
		m.Started()
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return res, nil
	}
}

// cancellable polls IsCanceled every 100ms for up to 10s.
func cancellable(ctx context.Context, in Inputs, m *Monitor) (Result, error) {
	m.Started()
	for i := 0; i < 100; i++ {
		if m.IsCanceled() {
			return nil, nil
		}
		m.Progress(float64(i))
		time.Sleep(100 * time.Millisecond)
	}
	return Result{"ok": true}, nil
}

func waitDone(t *testing.T, r *Registry, id JobID) {
	t.Helper()
	require.Eventually(t, func() bool {
		done, err := r.IsDone(id)
		return err == nil && done
	}, 5*time.Second, 10*time.Millisecond)
}

// waitEnded blocks until the job's terminal hooks (metrics, journal) ran.
func waitEnded(t *testing.T, r *Registry, id JobID) {
	t.Helper()
	job, err := r.Job(id)
	require.NoError(t, err)
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("job %d did not end", id)
	}
}

func TestRegistry_SubmitAndPollUntilDone(t *testing.T) {
	r, _ := newTestRegistry(t)

	id, err := r.SubmitAsync(sleepThen(200*time.Millisecond, Result{"ok": true}), nil)
	require.NoError(t, err)

	done, err := r.IsDone(id)
	require.NoError(t, err)
	assert.False(t, done, "submit returns before the job finishes")

	_, err = r.Result(id)
	assert.True(t, IsNotReady(err))

	waitDone(t, r, id)

	res, err := r.Result(id)
	require.NoError(t, err)
	assert.Equal(t, Result{"ok": true}, res)

	status, err := r.Status(id)
	require.NoError(t, err)
	assert.Equal(t, JobStateFinished, status)

	progress, err := r.Progress(id)
	require.NoError(t, err)
	assert.Equal(t, float64(100), progress)
}

func TestRegistry_IDsAreUniqueAndIncreasing(t *testing.T) {
	r, _ := newTestRegistry(t)
	noop := ProcessFunc(func(ctx context.Context, in Inputs, m *Monitor) (Result, error) { return nil, nil })

	const n = 50
	ids := make([]JobID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.SubmitAsync(noop, nil)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[JobID]bool, n)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}

	var prev JobID
	for i := 0; i < 5; i++ {
		id, err := r.SubmitAsync(noop, nil)
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestRegistry_InputsCarryStorage(t *testing.T) {
	r, base := newTestRegistry(t)

	caller := Inputs{"name": "roads"}
	got := make(chan Inputs, 1)
	id, err := r.SubmitAsync(ProcessFunc(func(ctx context.Context, in Inputs, m *Monitor) (Result, error) {
		got <- in
		return nil, nil
	}), caller)
	require.NoError(t, err)

	in := <-got
	st, err := in.Storage()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, id.String()), st.Root())
	assert.Equal(t, "roads", in.String("name"))
	_, leaked := caller[InputStorage]
	assert.False(t, leaked, "caller inputs are not modified")
}

func TestRegistry_UnknownID(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Result(999999)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	var je *JobError
	require.ErrorAs(t, err, &je)
	assert.Equal(t, "Result", je.Op)
	assert.Equal(t, JobID(999999), je.ID)

	_, err = r.Status(999999)
	assert.True(t, IsNotFound(err))
	_, err = r.Kill(999999)
	assert.True(t, IsNotFound(err))
}

func TestRegistry_FailedJob(t *testing.T) {
	r, _ := newTestRegistry(t)
	boom := errors.New("source unreachable")

	id, err := r.SubmitAsync(ProcessFunc(func(ctx context.Context, in Inputs, m *Monitor) (Result, error) {
		return nil, boom
	}), nil)
	require.NoError(t, err)
	waitDone(t, r, id)

	status, err := r.Status(id)
	require.NoError(t, err)
	assert.Equal(t, JobStateFailed, status)

	cause, err := r.FailureCause(id)
	require.NoError(t, err)
	assert.ErrorIs(t, cause, boom)

	_, err = r.Result(id)
	assert.True(t, IsNotReady(err))
}

func TestRegistry_PanickingJobDoesNotCrashRegistry(t *testing.T) {
	r, _ := newTestRegistry(t)

	id, err := r.SubmitAsync(ProcessFunc(func(ctx context.Context, in Inputs, m *Monitor) (Result, error) {
		var m2 map[string]int
		m2["x"] = 1
		return nil, nil
	}), nil)
	require.NoError(t, err)
	waitDone(t, r, id)

	cause, err := r.FailureCause(id)
	require.NoError(t, err)
	assert.True(t, IsFatal(cause))

	other, err := r.SubmitAsync(sleepThen(0, Result{"ok": true}), nil)
	require.NoError(t, err)
	waitDone(t, r, other)
}

func TestRegistry_KillRunningJob(t *testing.T) {
	r, base := newTestRegistry(t)

	started := make(chan struct{})
	id, err := r.SubmitAsync(ProcessFunc(func(ctx context.Context, in Inputs, m *Monitor) (Result, error) {
		st, err := in.Storage()
		if err != nil {
			return nil, err
		}
		res, err := st.CreateFile("partial.bin")
		if err != nil {
			return nil, err
		}
		w, err := res.OutputStream()
		if err != nil {
			return nil, err
		}
		_ = w.Close()
		close(started)
		return cancellable(ctx, in, m)
	}), nil)
	require.NoError(t, err)
	<-started
	time.Sleep(150 * time.Millisecond)

	job, err := r.Job(id)
	require.NoError(t, err)

	accepted, err := r.Kill(id)
	require.NoError(t, err)
	assert.True(t, accepted)

	require.Eventually(t, func() bool {
		return job.State() == JobStateCancelled
	}, 250*time.Millisecond, 10*time.Millisecond)

	_, statErr := os.Stat(filepath.Join(base, id.String()))
	assert.True(t, os.IsNotExist(statErr), "storage removed after kill")

	_, err = r.Status(id)
	assert.True(t, IsNotFound(err), "kill removes the entry")
	_, err = r.Kill(id)
	assert.True(t, IsNotFound(err), "second kill reports not found")
}

func TestRegistry_KillTerminalJob(t *testing.T) {
	r, _ := newTestRegistry(t)

	id, err := r.SubmitAsync(sleepThen(0, Result{"ok": true}), nil)
	require.NoError(t, err)
	waitDone(t, r, id)

	accepted, err := r.Kill(id)
	require.NoError(t, err)
	assert.False(t, accepted, "nothing to cancel")

	_, err = r.Kill(id)
	assert.True(t, IsNotFound(err))
}

func TestRegistry_TerminalStateIsSticky(t *testing.T) {
	r, _ := newTestRegistry(t)

	id, err := r.SubmitAsync(sleepThen(10*time.Millisecond, nil), nil)
	require.NoError(t, err)
	waitDone(t, r, id)

	for i := 0; i < 20; i++ {
		done, err := r.IsDone(id)
		require.NoError(t, err)
		assert.True(t, done)
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegistry_MaxConcurrentKeepsJobsWaiting(t *testing.T) {
	r, _ := newTestRegistry(t, WithMaxConcurrent(1))

	release := make(chan struct{})
	first, err := r.SubmitAsync(ProcessFunc(func(ctx context.Context, in Inputs, m *Monitor) (Result, error) {
		<-release
		return nil, nil
	}), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, _ := r.Status(first)
		return s == JobStateRunning
	}, time.Second, 5*time.Millisecond)

	second, err := r.SubmitAsync(sleepThen(0, nil), nil)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	s, err := r.Status(second)
	require.NoError(t, err)
	assert.Equal(t, JobStateWaiting, s)

	third, err := r.SubmitAsync(sleepThen(0, nil), nil)
	require.NoError(t, err)
	job, err := r.Job(third)
	require.NoError(t, err)
	accepted, err := r.Kill(third)
	require.NoError(t, err)
	assert.True(t, accepted)
	require.Eventually(t, func() bool { return job.State() == JobStateCancelled }, time.Second, 5*time.Millisecond)

	close(release)
	waitDone(t, r, second)
}

func TestRegistry_ListAndSnapshot(t *testing.T) {
	r, _ := newTestRegistry(t)

	a, err := r.SubmitAsync(sleepThen(0, nil), nil, WithJobName("a"), WithJobKind("wait"))
	require.NoError(t, err)
	b, err := r.SubmitAsync(sleepThen(0, nil), nil, WithJobName("b"))
	require.NoError(t, err)
	waitDone(t, r, a)
	waitDone(t, r, b)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, a, list[0].ID)
	assert.Equal(t, "wait", list[0].Kind)
	assert.Equal(t, b, list[1].ID)

	snap, err := r.Snapshot(a)
	require.NoError(t, err)
	assert.Equal(t, JobStateFinished, snap.State)
	assert.NotNil(t, snap.EndedAt)
	assert.Nil(t, snap.FinalizedAt)
}

func TestRegistry_CloseKillsJobsAndRejectsSubmissions(t *testing.T) {
	r, _ := newTestRegistry(t)

	id, err := r.SubmitAsync(ProcessFunc(cancellable), nil)
	require.NoError(t, err)
	job, err := r.Job(id)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	assert.Equal(t, JobStateCancelled, job.State())

	_, err = r.SubmitAsync(ProcessFunc(cancellable), nil)
	assert.ErrorIs(t, err, ErrRegistryClosed)
	assert.NoError(t, r.Close())
}

func TestRegistry_MetricsAndJournal(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	journal := NewJournal(afero.NewMemMapFs(), "/journal")
	r, _ := newTestRegistry(t, WithMetrics(metrics), WithJournal(journal))

	ok, err := r.SubmitAsync(sleepThen(0, Result{"ok": true}), nil, WithJobKind("wait"))
	require.NoError(t, err)
	failed, err := r.SubmitAsync(ProcessFunc(func(ctx context.Context, in Inputs, m *Monitor) (Result, error) {
		return nil, errors.New("nope")
	}), nil)
	require.NoError(t, err)
	waitEnded(t, r, ok)
	waitEnded(t, r, failed)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.submitted))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.completed.WithLabelValues("finished")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.completed.WithLabelValues("failed")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.active))

	rec, err := journal.Get(ok)
	require.NoError(t, err)
	assert.Equal(t, JobStateFinished, rec.State)
	assert.Equal(t, "wait", rec.Kind)
	assert.Equal(t, true, rec.Result["ok"])

	rec, err = journal.Get(failed)
	require.NoError(t, err)
	assert.Equal(t, JobStateFailed, rec.State)
	assert.Equal(t, "nope", rec.Error)
}

// stubborn ignores cancellation and keeps writing temp resources for d.
func stubborn(d time.Duration) ProcessFunc {
	return func(ctx context.Context, in Inputs, m *Monitor) (Result, error) {
		st, err := in.Storage()
		if err != nil {
			return nil, err
		}
		m.Started()
		for end := time.Now().Add(d); time.Now().Before(end); {
			if res, err := st.CreateTempResource(); err == nil {
				if w, err := res.OutputStream(); err == nil {
					_, _ = w.Write([]byte("late"))
					_ = w.Close()
				}
			}
			time.Sleep(20 * time.Millisecond)
		}
		return nil, nil
	}
}

func TestRegistry_KillIgnoredCancellation(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r, base := newTestRegistry(t, WithLogger(zap.New(core)), WithKillWait(20*time.Millisecond))

	id, err := r.SubmitAsync(stubborn(300*time.Millisecond), nil)
	require.NoError(t, err)
	job, err := r.Job(id)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return job.State() == JobStateRunning }, time.Second, 5*time.Millisecond)

	accepted, err := r.Kill(id)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, 1, logs.FilterMessage("Job still running after cancellation request").Len())

	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job did not end")
	}
	assert.Equal(t, JobStateCancelled, job.State())

	root := filepath.Join(base, id.String())
	require.Eventually(t, func() bool {
		_, err := os.Stat(root)
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond, "storage recreated after the kill is removed at the terminal state")
}

func TestRegistry_KillDisposalFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r, _ := newTestRegistry(t, WithLogger(zap.New(core)), WithKillWait(time.Second))

	hookErr := errors.New("release failed")
	p := &disposingProcess{ProcessFunc: cancellable, err: hookErr}
	id, err := r.SubmitAsync(p, nil)
	require.NoError(t, err)
	job, err := r.Job(id)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return job.State() == JobStateRunning }, time.Second, 5*time.Millisecond)

	accepted, err := r.Kill(id)
	require.NoError(t, err, "disposal failures are not propagated")
	assert.True(t, accepted)

	entries := logs.FilterMessage("Failed to dispose killed job").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["error"], hookErr.Error())
	assert.Equal(t, 1, p.disposed)
}

func TestRegistry_CloseKillsJobsConcurrently(t *testing.T) {
	r, _ := newTestRegistry(t, WithKillWait(200*time.Millisecond), WithShutdownTimeout(5*time.Second))

	jobs := make([]*Job, 0, 6)
	for i := 0; i < 6; i++ {
		id, err := r.SubmitAsync(stubborn(300*time.Millisecond), nil)
		require.NoError(t, err)
		job, err := r.Job(id)
		require.NoError(t, err)
		jobs = append(jobs, job)
	}

	start := time.Now()
	require.NoError(t, r.Close())
	assert.Less(t, time.Since(start), time.Second, "six kill waits in sequence would take 1.2s")
	for _, job := range jobs {
		assert.True(t, job.IsDone())
	}
}
