package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/3leaps/procctl/pkg/jobregistry"
	"github.com/3leaps/procctl/pkg/jobs"
	"github.com/3leaps/procctl/pkg/jobspec"
	"github.com/3leaps/procctl/pkg/output"
)

func newTestRuntime(t *testing.T) *runtimeDeps {
	t.Helper()
	deps, err := buildRuntime(testConfig(t), zaptest.NewLogger(t), nil, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.registry.Close() })
	return deps
}

func records(t *testing.T, buf *bytes.Buffer) []output.Record {
	t.Helper()
	var out []output.Record
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var r output.Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		out = append(out, r)
	}
	return out
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return ExitSuccess
	}
	var ee *ExitError
	require.True(t, errors.As(err, &ee), "unexpected error type: %v", err)
	return ee.Code
}

func TestRunJob_Finished(t *testing.T) {
	deps := newTestRuntime(t)
	var buf bytes.Buffer
	w := output.NewJSONLWriter(&buf, "", "")

	spec := jobspec.Spec{Kind: jobs.KindWait, Name: "smoke", Inputs: map[string]any{"steps": 3, "interval": "5ms"}}
	err := runJob(context.Background(), deps.registry, deps.catalog, spec, w, time.Millisecond, false)
	require.NoError(t, err)

	recs := records(t, &buf)
	require.NotEmpty(t, recs)
	assert.Equal(t, output.TypeJob, recs[0].Type)
	last := recs[len(recs)-1]
	assert.Equal(t, output.TypeResult, last.Type)
	assert.Equal(t, jobs.KindWait, last.Kind)
	assert.NotEmpty(t, last.JobID)

	var res output.ResultRecord
	require.NoError(t, json.Unmarshal(last.Data, &res))
	assert.Equal(t, true, res.Result["ok"])
	assert.NotEmpty(t, res.DurationHuman)

	// The journal keeps the outcome after the run.
	id, err := jobregistry.ParseJobID(last.JobID)
	require.NoError(t, err)
	rec, err := deps.journal.Get(id)
	require.NoError(t, err)
	assert.Equal(t, jobregistry.JobStateFinished, rec.State)
}

func TestRunJob_Failed(t *testing.T) {
	deps := newTestRuntime(t)
	var buf bytes.Buffer
	w := output.NewJSONLWriter(&buf, "", "")

	spec := jobspec.Spec{Kind: jobs.KindWait, Inputs: map[string]any{"steps": 2, "interval": "1ms", "fail_at": 1}}
	err := runJob(context.Background(), deps.registry, deps.catalog, spec, w, time.Millisecond, true)
	assert.Equal(t, ExitJobFailed, exitCode(t, err))

	recs := records(t, &buf)
	last := recs[len(recs)-1]
	require.Equal(t, output.TypeError, last.Type)
	var e output.ErrorRecord
	require.NoError(t, json.Unmarshal(last.Data, &e))
	assert.Equal(t, output.ErrCodeFailed, e.Code)
	for _, r := range recs {
		assert.NotEqual(t, output.TypeProgress, r.Type)
	}
}

func TestRunJob_InvalidSpec(t *testing.T) {
	deps := newTestRuntime(t)
	var buf bytes.Buffer
	w := output.NewJSONLWriter(&buf, "", "")

	err := runJob(context.Background(), deps.registry, deps.catalog, jobspec.Spec{Kind: "transcode"}, w, time.Millisecond, false)
	assert.Equal(t, ExitInvalidArgument, exitCode(t, err))

	recs := records(t, &buf)
	require.Len(t, recs, 1)
	var e output.ErrorRecord
	require.NoError(t, json.Unmarshal(recs[0].Data, &e))
	assert.Equal(t, output.ErrCodeInvalid, e.Code)
}

func TestRunJob_InterruptKills(t *testing.T) {
	deps := newTestRuntime(t)
	var buf bytes.Buffer
	w := output.NewJSONLWriter(&buf, "", "")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	spec := jobspec.Spec{Kind: jobs.KindWait, Inputs: map[string]any{"steps": 100, "interval": "1h"}}
	err := runJob(ctx, deps.registry, deps.catalog, spec, w, 5*time.Millisecond, false)
	assert.Equal(t, ExitSignalInt, exitCode(t, err))

	recs := records(t, &buf)
	last := recs[len(recs)-1]
	require.Equal(t, output.TypeError, last.Type)
	var e output.ErrorRecord
	require.NoError(t, json.Unmarshal(last.Data, &e))
	assert.Equal(t, output.ErrCodeCancelled, e.Code)
	assert.Empty(t, deps.registry.List())
}
