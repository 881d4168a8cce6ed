package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/3leaps/procctl/internal/config"
	"github.com/3leaps/procctl/pkg/jobregistry"
	"github.com/3leaps/procctl/pkg/jobs"
	"github.com/3leaps/procctl/pkg/jobspec"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		Jobs: config.JobsConfig{
			StorageRoot:           root + "/storage",
			JournalRoot:           root + "/journal",
			OutputRoot:            root + "/output",
			EvictionCheckInterval: 60,
			EvictionGracePeriod:   30,
			KillWait:              50 * time.Millisecond,
			ShutdownTimeout:       time.Second,
		},
	}
}

func TestRegistryHealthChecker(t *testing.T) {
	reg := jobregistry.New(nil)
	c := registryHealthChecker{registry: reg}
	assert.NoError(t, c.CheckHealth(context.Background()))

	require.NoError(t, reg.Close())
	assert.Error(t, c.CheckHealth(context.Background()))
	assert.Error(t, registryHealthChecker{}.CheckHealth(context.Background()))
}

func TestStorageHealthChecker(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := storageHealthChecker{fs: fs, root: "/jobs"}
	require.NoError(t, c.CheckHealth(context.Background()))

	entries, err := afero.ReadDir(fs, "/jobs")
	require.NoError(t, err)
	assert.Empty(t, entries)

	ro := storageHealthChecker{fs: afero.NewReadOnlyFs(afero.NewMemMapFs()), root: "/jobs"}
	assert.Error(t, ro.CheckHealth(context.Background()))
}

func TestServeOverrides(t *testing.T) {
	t.Cleanup(func() { serveHost, servePort = "", 0 })

	serveHost, servePort = "", 0
	assert.Nil(t, serveOverrides())

	serveHost, servePort = "0.0.0.0", 9000
	assert.Equal(t, map[string]any{"server": map[string]any{"host": "0.0.0.0", "port": 9000}}, serveOverrides())
}

func TestBuildRuntime_SeedsSequenceFromJournal(t *testing.T) {
	cfg := testConfig(t)

	j := jobregistry.NewJournal(afero.NewOsFs(), cfg.Jobs.JournalRoot)
	now := time.Now().UTC()
	require.NoError(t, j.Write(&jobregistry.JobRecord{JobID: 41, State: jobregistry.JobStateRunning, CreatedAt: now}))

	deps, err := buildRuntime(cfg, zaptest.NewLogger(t), prometheus.NewRegistry(), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.registry.Close() })

	rec, err := j.Get(41)
	require.NoError(t, err)
	assert.Equal(t, jobregistry.JobStateUnknown, rec.State)

	id, err := deps.catalog.Submit(deps.registry, jobspec.Spec{Kind: jobs.KindWait, Inputs: map[string]any{"steps": 1, "interval": "1ms"}})
	require.NoError(t, err)
	assert.Equal(t, jobregistry.JobID(42), id)
	assert.NotNil(t, deps.registry.Evictor())
}
