package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetVersionInfo(t *testing.T) {
	orig := versionInfo
	t.Cleanup(func() { SetVersionInfo(orig.Version, orig.Commit, orig.BuildDate) })

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{name: "release", version: "1.0.0", commit: "abc123", buildDate: "2026-01-15"},
		{name: "dev", version: "dev", commit: "HEAD", buildDate: "unknown"},
		{name: "empty", version: "", commit: "", buildDate: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)
			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestExecute_ExitCodes(t *testing.T) {
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	rootCmd.SetArgs([]string{"version"})
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() { rootCmd.SetOut(nil) })
	assert.Equal(t, ExitSuccess, Execute(context.Background()))
	assert.Contains(t, out.String(), "procctl")

	rootCmd.SetArgs([]string{"run", "does-not-exist.yaml"})
	assert.Equal(t, ExitInvalidArgument, Execute(context.Background()))

	rootCmd.SetArgs([]string{"no-such-command"})
	assert.Equal(t, ExitFailure, Execute(context.Background()))
}

func TestExitError(t *testing.T) {
	cause := errors.New("boom")
	err := exitError(ExitJobFailed, "Job failed", cause)
	assert.EqualError(t, err, "Job failed: boom")
	assert.ErrorIs(t, err, cause)

	var ee *ExitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, ExitJobFailed, ee.Code)

	assert.EqualError(t, exitError(ExitSignalInt, "Job cancelled", nil), "Job cancelled")
}
