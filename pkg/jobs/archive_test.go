package jobs

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/3leaps/procctl/pkg/jobregistry"
	"github.com/3leaps/procctl/pkg/jobspec"
	"github.com/3leaps/procctl/pkg/preflight"
	"github.com/3leaps/procctl/pkg/provider"
	"github.com/3leaps/procctl/pkg/storage"
)

func writeSource(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
}

func runArchive(t *testing.T, spec jobspec.Spec, opts Options) (*jobregistry.Job, *storage.Manager, jobregistry.Result, error) {
	t.Helper()
	opts.Logger = zaptest.NewLogger(t)
	p, err := NewArchive(spec, opts)
	require.NoError(t, err)

	st := storage.NewManager(afero.NewOsFs(), filepath.Join(t.TempDir(), "job"))
	job := jobregistry.NewJob(1, p, st)
	res, err := job.Execute(context.Background(), jobregistry.Inputs{jobregistry.InputStorage: st})
	return job, st, res, err
}

func TestArchive_PublishesMatchingObjects(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	writeSource(t, src, map[string]string{
		"layers/roads/roads.shp":  "shape",
		"layers/roads/roads.dbf":  "table",
		"layers/roads/roads.prj":  "projection",
		"layers/.cache/stale.shp": "hidden",
		"layers/tmp/draft.shp":    "draft",
	})

	spec := jobspec.Spec{Kind: KindArchive, Name: "roads", Inputs: map[string]any{
		"source":   src,
		"includes": []any{"**/*.shp", "**/*.dbf"},
		"excludes": "**/tmp/**",
	}}
	job, st, res, err := runArchive(t, spec, Options{OutputRoot: out})
	require.NoError(t, err)
	assert.Equal(t, jobregistry.JobStateFinished, job.State())
	assert.Equal(t, 100.0, job.Progress())

	assert.Equal(t, "roads.zip", res["archive"])
	assert.Equal(t, 2, res["files"])
	assert.Equal(t, int64(len("shape")+len("table")), res["bytes"])
	published := filepath.Join(out, "roads.zip")
	assert.Equal(t, "file://"+published, res["published"])

	zr, err := zip.OpenReader(published)
	require.NoError(t, err)
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"layers/roads/roads.dbf", "layers/roads/roads.shp"}, names)

	_, err = os.Stat(st.Root())
	assert.True(t, os.IsNotExist(err), "job storage must be disposed")
}

func TestArchive_SourcePrefixAndDestination(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	writeSource(t, src, map[string]string{
		"exports/2026/a.csv": "a",
		"exports/2025/b.csv": "b",
		"other/c.csv":        "c",
	})

	spec := jobspec.Spec{Kind: KindArchive, Inputs: map[string]any{
		"source":      "file://" + src,
		"destination": "file://" + dest,
		"name":        "csv.zip",
		"includes":    []any{"exports/**/*.csv"},
	}}
	_, _, res, err := runArchive(t, spec, Options{})
	require.NoError(t, err)
	assert.Equal(t, "csv.zip", res["archive"])
	assert.Equal(t, 2, res["files"])
	assert.FileExists(t, filepath.Join(dest, "csv.zip"))
}

func TestArchive_NoMatches(t *testing.T) {
	src := t.TempDir()
	writeSource(t, src, map[string]string{"readme.txt": "hi"})

	spec := jobspec.Spec{Kind: KindArchive, Inputs: map[string]any{"source": src, "includes": "**/*.shp"}}
	job, _, _, err := runArchive(t, spec, Options{OutputRoot: t.TempDir()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoObjects)
	assert.Equal(t, jobregistry.JobStateFailed, job.State())
	assert.ErrorIs(t, job.Cause(), ErrNoObjects)
}

func TestArchive_CancelledBeforeListing(t *testing.T) {
	src := t.TempDir()
	writeSource(t, src, map[string]string{"a.shp": "a"})

	p, err := NewArchive(jobspec.Spec{Kind: KindArchive, Inputs: map[string]any{"source": src}}, Options{OutputRoot: t.TempDir()})
	require.NoError(t, err)
	st := storage.NewManager(afero.NewOsFs(), filepath.Join(t.TempDir(), "job"))
	job := jobregistry.NewJob(1, p, st)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = job.Execute(ctx, jobregistry.Inputs{jobregistry.InputStorage: st})
	require.NoError(t, err)
	assert.Equal(t, jobregistry.JobStateCancelled, job.State())
}

type listOnly struct{}

func (listOnly) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	return &provider.ListResult{Objects: []provider.ObjectSummary{{Key: "a.shp", Size: 1}}}, nil
}

func (listOnly) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	return nil, provider.ErrNotFound
}

func (listOnly) Close() error { return nil }

func TestArchive_SourceWithoutGetter(t *testing.T) {
	open := func(ctx context.Context, loc provider.Location) (provider.Provider, error) { return listOnly{}, nil }
	spec := jobspec.Spec{Kind: KindArchive, Inputs: map[string]any{"source": "s3://bucket/x/"}}
	_, _, _, err := runArchive(t, spec, Options{OutputRoot: t.TempDir(), Opener: open})
	assert.ErrorIs(t, err, provider.ErrUnsupported)
}

func TestArchive_WriteProbe(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	writeSource(t, src, map[string]string{"a.shp": "a"})

	spec := jobspec.Spec{Kind: KindArchive, Inputs: map[string]any{"source": src, "preflight": "write-probe"}}
	_, _, res, err := runArchive(t, spec, Options{OutputRoot: out})
	require.NoError(t, err)
	assert.Equal(t, 1, res["files"])

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	require.Len(t, entries, 1, "probe object must be removed")
	assert.Equal(t, "archive.zip", entries[0].Name())
}

type deniedDest struct{ listOnly }

func (deniedDest) PutObject(ctx context.Context, key string, body io.Reader, n int64) error {
	return provider.ErrAccessDenied
}

func (deniedDest) DeleteObject(ctx context.Context, key string) error { return nil }

func TestArchive_WriteProbeDenied(t *testing.T) {
	src := t.TempDir()
	writeSource(t, src, map[string]string{"a.shp": "a"})
	fileOpener := NewOpener(OpenerConfig{})
	open := func(ctx context.Context, loc provider.Location) (provider.Provider, error) {
		if loc.Type == provider.ProviderS3 {
			return deniedDest{}, nil
		}
		return fileOpener(ctx, loc)
	}

	spec := jobspec.Spec{Kind: KindArchive, Inputs: map[string]any{
		"source":      src,
		"destination": "s3://exports/maps/",
		"preflight":   "write-probe",
	}}
	job, _, _, err := runArchive(t, spec, Options{Opener: open})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrAccessDenied)
	var pe *preflight.Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, preflight.CapTargetWrite, pe.Result.Capability)
	assert.Equal(t, jobregistry.JobStateFailed, job.State())
}

func TestNewArchive_InvalidInputs(t *testing.T) {
	tests := []struct {
		name   string
		inputs map[string]any
		opts   Options
	}{
		{name: "missing source", inputs: map[string]any{}, opts: Options{OutputRoot: "/out"}},
		{name: "bad source", inputs: map[string]any{"source": "gs://bucket"}, opts: Options{OutputRoot: "/out"}},
		{name: "no destination", inputs: map[string]any{"source": "/src"}},
		{name: "bad name", inputs: map[string]any{"source": "/src", "name": "../x"}, opts: Options{OutputRoot: "/out"}},
		{name: "bad pattern", inputs: map[string]any{"source": "/src", "includes": "["}, opts: Options{OutputRoot: "/out"}},
		{name: "bad preflight", inputs: map[string]any{"source": "/src", "preflight": "plan-only"}, opts: Options{OutputRoot: "/out"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewArchive(jobspec.Spec{Kind: KindArchive, Inputs: tt.inputs}, tt.opts)
			require.Error(t, err)
			assert.True(t, IsInputError(err))
		})
	}
}

type flakyGetter struct {
	failures int
	err      error
	calls    int
}

func (g *flakyGetter) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	g.calls++
	if g.calls <= g.failures {
		return nil, 0, &provider.ProviderError{Op: "GetObject", Provider: provider.ProviderS3, Key: key, Err: g.err}
	}
	return io.NopCloser(strings.NewReader("payload")), 7, nil
}

func TestStageWithRetry(t *testing.T) {
	dir := storage.NewManager(afero.NewMemMapFs(), "/job").RootFolder()
	obj := stagedObject{rel: "a.shp", key: "src/a.shp"}

	g := &flakyGetter{failures: 2, err: provider.ErrThrottled}
	n, err := stageWithRetry(context.Background(), g, dir, obj, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, 3, g.calls)

	g = &flakyGetter{failures: 5, err: provider.ErrProviderUnavailable}
	_, err = stageWithRetry(context.Background(), g, dir, obj, time.Millisecond)
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)
	assert.Equal(t, stageAttempts, g.calls)

	g = &flakyGetter{failures: 1, err: provider.ErrAccessDenied}
	_, err = stageWithRetry(context.Background(), g, dir, obj, time.Millisecond)
	assert.ErrorIs(t, err, provider.ErrAccessDenied)
	assert.Equal(t, 1, g.calls)
}
