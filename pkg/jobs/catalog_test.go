package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/3leaps/procctl/pkg/jobregistry"
	"github.com/3leaps/procctl/pkg/jobspec"
	"github.com/3leaps/procctl/pkg/storage"
)

func TestCatalog_Register(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register("b", NewWait))
	require.NoError(t, c.Register("a", NewWait))
	assert.Error(t, c.Register("a", NewWait))
	assert.Error(t, c.Register("", NewWait))
	assert.Equal(t, []string{"a", "b"}, c.Kinds())
}

func TestCatalog_Build(t *testing.T) {
	c := Default(Options{OutputRoot: t.TempDir()})
	assert.Equal(t, []string{KindArchive, KindWait}, c.Kinds())

	_, err := c.Build(jobspec.Spec{Kind: "transcode"})
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.True(t, IsInputError(err))

	_, err = c.Build(jobspec.Spec{})
	assert.True(t, IsInputError(err))

	_, err = c.Build(jobspec.Spec{Kind: KindWait, Inputs: map[string]any{"steps": -1}})
	assert.True(t, IsInputError(err))

	p, err := c.Build(jobspec.Spec{Kind: KindWait, Inputs: map[string]any{"steps": "3", "interval": "5ms"}})
	require.NoError(t, err)
	w := p.(*Wait)
	assert.Equal(t, 3, w.Steps)
	assert.Equal(t, 5*time.Millisecond, w.Interval)
}

func TestCatalog_Submit(t *testing.T) {
	f, err := storage.NewFactory(afero.NewOsFs(), t.TempDir(), nil)
	require.NoError(t, err)
	r := jobregistry.New(jobregistry.FactoryFrom(f),
		jobregistry.WithLogger(zaptest.NewLogger(t)),
		jobregistry.WithSequence(jobregistry.NewSequence(0)),
	)
	t.Cleanup(func() { _ = r.Close() })

	c := Default(Options{OutputRoot: t.TempDir()})
	id, err := c.Submit(r, jobspec.Spec{Kind: KindWait, Name: "smoke", Inputs: map[string]any{"steps": 2, "interval": "1ms"}})
	require.NoError(t, err)
	assert.Equal(t, jobregistry.JobID(1), id)

	job, err := r.Job(id)
	require.NoError(t, err)
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
	}
	assert.Equal(t, jobregistry.JobStateFinished, job.State())
	assert.Equal(t, "smoke", job.Name())
	assert.Equal(t, KindWait, job.Kind())
	assert.Equal(t, jobregistry.Result{"ok": true, "steps": 2}, job.Result())

	_, err = c.Submit(r, jobspec.Spec{Kind: "nope"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestWait_FailAtAndCancel(t *testing.T) {
	p, err := NewWait(jobspec.Spec{Kind: KindWait, Inputs: map[string]any{"steps": 4, "interval": "1ms", "fail_at": 2}})
	require.NoError(t, err)
	job := jobregistry.NewJob(1, p, nil)
	_, err = job.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, jobregistry.JobStateFailed, job.State())
	assert.Contains(t, err.Error(), "step 2")
	assert.Equal(t, 25.0, job.Progress())

	p, err = NewWait(jobspec.Spec{Kind: KindWait, Inputs: map[string]any{"steps": 100, "interval": "1h"}})
	require.NoError(t, err)
	job = jobregistry.NewJob(2, p, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = job.Execute(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, jobregistry.JobStateCancelled, job.State())
}
