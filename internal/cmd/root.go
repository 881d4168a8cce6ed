// Package cmd implements the procctl command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/3leaps/procctl/internal/config"
	"github.com/3leaps/procctl/internal/observability"
	"github.com/3leaps/procctl/internal/server/handlers"
)

const binaryName = "procctl"

var (
	cfgFile string
	verbose bool
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var rootCmd = &cobra.Command{
	Use:   binaryName,
	Short: "Run and track long-running processing jobs",
	Long: `procctl runs asynchronous processing jobs (archive exports, test waits)
with per-job scratch storage, progress tracking, cancellation and automatic
eviction of finished jobs.

Jobs can be submitted to a running server over HTTP ('procctl serve') or
executed in the foreground with JSONL progress on stdout ('procctl run').`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.SetConfigFile(cfgFile)
		observability.InitCLILogger(binaryName, verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./procctl.yaml or <user config dir>/procctl/procctl.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// SetVersionInfo records build metadata for 'procctl version' and /version.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFailure
}
