package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/procctl/internal/config"
	"github.com/3leaps/procctl/internal/observability"
	"github.com/3leaps/procctl/pkg/jobregistry"
	"github.com/3leaps/procctl/pkg/jobs"
	"github.com/3leaps/procctl/pkg/jobspec"
	"github.com/3leaps/procctl/pkg/output"
)

var runCmd = &cobra.Command{
	Use:   "run <jobspec>",
	Short: "Run a job in the foreground",
	Long: `Run a job described by a YAML or JSON job spec and stream its lifecycle
as JSONL records on stdout (procctl.job.v1, procctl.progress.v1,
procctl.result.v1, procctl.error.v1). Logs go to stderr.

Interrupting the command kills the job.

Example:
  procctl run export.yaml
  procctl run export.yaml --quiet | jq 'select(.type == "procctl.result.v1")'`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runQuiet            bool
	runProgressInterval time.Duration
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Suppress progress records")
	runCmd.Flags().DurationVar(&runProgressInterval, "progress-interval", 500*time.Millisecond, "How often to emit progress records")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := output.NewJSONLWriter(cmd.OutOrStdout(), "", "")
	defer func() { _ = w.Close() }()

	spec, err := jobspec.Load(args[0])
	if err != nil {
		_ = w.WriteError(context.Background(), &output.ErrorRecord{Code: output.ErrCodeInvalid, Message: err.Error()})
		return exitError(ExitInvalidArgument, "Invalid job spec", err)
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return exitError(ExitConfigError, "Invalid configuration", err)
	}

	deps, err := buildRuntime(cfg, observability.CLILogger, nil, false)
	if err != nil {
		return exitError(ExitFailure, "Failed to start job registry", err)
	}
	defer func() { _ = deps.registry.Close() }()

	return runJob(ctx, deps.registry, deps.catalog, *spec, w, runProgressInterval, runQuiet)
}

// runJob submits spec, streams its lifecycle to w and maps the terminal
// state to an exit error. Cancelling ctx kills the job.
func runJob(ctx context.Context, reg *jobregistry.Registry, catalog *jobs.Catalog, spec jobspec.Spec, w *output.JSONLWriter, interval time.Duration, quiet bool) error {
	logger := observability.CLILogger
	// Records are still written after ctx is cancelled.
	wctx := context.WithoutCancel(ctx)

	w.SetKind(spec.Kind)
	id, err := catalog.Submit(reg, spec)
	if err != nil {
		code, exit := output.ErrCodeInternal, ExitFailure
		if jobs.IsInputError(err) {
			code, exit = output.ErrCodeInvalid, ExitInvalidArgument
		}
		_ = w.WriteError(wctx, &output.ErrorRecord{Code: code, Message: err.Error()})
		return exitError(exit, "Failed to submit job", err)
	}
	w.SetJobID(id.String())

	job, err := reg.Job(id)
	if err != nil {
		return exitError(ExitFailure, "Job vanished after submit", err)
	}
	logger.Debug("Job submitted", zap.Int64("job_id", int64(id)), zap.String("kind", spec.Kind))

	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastState := job.State()
	lastProgress := -1.0
	_ = w.WriteJob(wctx, &output.JobRecord{Name: job.Name(), State: string(lastState)})

	emit := func() {
		state := job.State()
		if state != lastState {
			lastState = state
			_ = w.WriteJob(wctx, &output.JobRecord{Name: job.Name(), State: string(state)})
		}
		if quiet || state.IsTerminal() {
			return
		}
		if p := job.Progress(); p != lastProgress {
			lastProgress = p
			_ = w.WriteProgress(wctx, &output.ProgressRecord{Percent: p, State: string(state)})
		}
	}

	killed := false
	for done := false; !done; {
		select {
		case <-job.Done():
			done = true
		case <-ticker.C:
			emit()
		case <-ctx.Done():
			if !killed {
				killed = true
				logger.Info("Interrupted, killing job", zap.Int64("job_id", int64(id)))
				if _, err := reg.Kill(id); err != nil && !jobregistry.IsNotFound(err) {
					logger.Warn("Kill failed", zap.Error(err))
				}
			}
			ctx = context.Background()
		}
	}
	emit()

	switch job.State() {
	case jobregistry.JobStateFinished:
		ts := job.Timestamps()
		_ = w.WriteResult(wctx, &output.ResultRecord{Result: job.Result(), Duration: ts.EndedAt.Sub(ts.StartedAt)})
		return nil
	case jobregistry.JobStateCancelled:
		_ = w.WriteError(wctx, &output.ErrorRecord{Code: output.ErrCodeCancelled, Message: "job cancelled"})
		return exitError(ExitSignalInt, "Job cancelled", nil)
	default:
		cause := job.Cause()
		code := output.ErrCodeFailed
		var fatal *jobregistry.FatalError
		if errors.As(cause, &fatal) {
			code = output.ErrCodeFatal
		}
		msg := "job failed"
		if cause != nil {
			msg = cause.Error()
		}
		_ = w.WriteError(wctx, &output.ErrorRecord{Code: code, Message: msg})
		return exitError(ExitJobFailed, "Job failed", cause)
	}
}
