package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/3leaps/procctl/internal/config"
	"github.com/3leaps/procctl/pkg/jobregistry"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect the job journal",
	Long: `Inspect job records written to the journal (jobs.journal_root) by
'procctl serve' and 'procctl run'.

Records survive process restarts and registry eviction. Jobs that were
waiting or running when their process exited are reported as 'unknown'.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded jobs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		j, err := openJournal(cmd)
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		return listJobs(cmd.OutOrStdout(), j, asJSON)
	},
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show one job record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		j, err := openJournal(cmd)
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		return jobStatus(cmd.OutOrStdout(), j, args[0], asJSON)
	},
}

var jobsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete old terminal job records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		j, err := openJournal(cmd)
		if err != nil {
			return err
		}
		maxAge, _ := cmd.Flags().GetString("max-age")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		asJSON, _ := cmd.Flags().GetBool("json")
		return gcJobs(cmd.OutOrStdout(), j, maxAge, dryRun, asJSON)
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsStatusCmd, jobsGCCmd)

	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsStatusCmd.Flags().Bool("json", false, "Output as JSON")
	jobsGCCmd.Flags().Bool("json", false, "Output as JSON")
	jobsGCCmd.Flags().String("max-age", "168h", "Delete terminal jobs not updated for this long")
	jobsGCCmd.Flags().Bool("dry-run", false, "Only report what would be deleted")
}

func openJournal(cmd *cobra.Command) (*jobregistry.Journal, error) {
	cfg, err := config.Load(cmd.Context())
	if err != nil {
		return nil, exitError(ExitConfigError, "Invalid configuration", err)
	}
	if strings.TrimSpace(cfg.Jobs.JournalRoot) == "" {
		return nil, exitError(ExitConfigError, "Journal disabled", fmt.Errorf("jobs.journal_root is empty"))
	}
	return jobregistry.NewJournal(afero.NewOsFs(), cfg.Jobs.JournalRoot), nil
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func listJobs(w io.Writer, j *jobregistry.Journal, asJSON bool) error {
	records, err := j.List()
	if err != nil {
		return err
	}
	if asJSON {
		if records == nil {
			records = []jobregistry.JobRecord{}
		}
		return encodeJSON(w, records)
	}
	if len(records) == 0 {
		_, _ = fmt.Fprintln(w, "No jobs found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()

	_, _ = fmt.Fprintln(tw, "JOB ID\tKIND\tNAME\tSTATE\tPROGRESS\tCREATED\tENDED")
	for _, r := range records {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.0f%%\t%s\t%s\n",
			r.JobID,
			orDash(r.Kind),
			orDash(r.Name),
			r.State,
			r.Progress,
			r.CreatedAt.UTC().Format(time.RFC3339),
			formatOptionalTime(r.EndedAt),
		)
	}
	return nil
}

func jobStatus(w io.Writer, j *jobregistry.Journal, rawID string, asJSON bool) error {
	id, err := jobregistry.ParseJobID(rawID)
	if err != nil {
		return exitError(ExitInvalidArgument, "Invalid job id", err)
	}
	rec, err := j.Get(id)
	if err != nil {
		return err
	}
	if asJSON {
		return encodeJSON(w, rec)
	}

	_, _ = fmt.Fprintf(w, "job_id=%s\n", rec.JobID)
	if rec.Kind != "" {
		_, _ = fmt.Fprintf(w, "kind=%s\n", rec.Kind)
	}
	if rec.Name != "" {
		_, _ = fmt.Fprintf(w, "name=%s\n", rec.Name)
	}
	_, _ = fmt.Fprintf(w, "state=%s\n", rec.State)
	_, _ = fmt.Fprintf(w, "progress=%.1f\n", rec.Progress)
	_, _ = fmt.Fprintf(w, "created_at=%s\n", rec.CreatedAt.UTC().Format(time.RFC3339))
	if rec.StartedAt != nil {
		_, _ = fmt.Fprintf(w, "started_at=%s\n", formatOptionalTime(rec.StartedAt))
	}
	if rec.EndedAt != nil {
		_, _ = fmt.Fprintf(w, "ended_at=%s\n", formatOptionalTime(rec.EndedAt))
	}
	if rec.Error != "" {
		_, _ = fmt.Fprintf(w, "error=%s\n", rec.Error)
	}
	for _, k := range resultKeys(rec.Result) {
		_, _ = fmt.Fprintf(w, "result.%s=%v\n", k, rec.Result[k])
	}
	return nil
}

type jobsGCResult struct {
	Deleted     []jobregistry.JobID `json:"deleted"`
	DryRun      bool                `json:"dry_run"`
	MaxAge      string              `json:"max_age"`
	WouldDelete int                 `json:"would_delete,omitempty"`
}

func gcJobs(w io.Writer, j *jobregistry.Journal, maxAgeStr string, dryRun, asJSON bool) error {
	maxAgeStr = strings.TrimSpace(maxAgeStr)
	if maxAgeStr == "" {
		maxAgeStr = "168h"
	}
	maxAge, err := time.ParseDuration(maxAgeStr)
	if err != nil {
		return exitError(ExitInvalidArgument, "Invalid --max-age", err)
	}
	if maxAge <= 0 {
		return exitError(ExitInvalidArgument, "Invalid --max-age", fmt.Errorf("must be > 0"))
	}

	removed, err := j.Prune(maxAge, dryRun)
	if err != nil {
		return err
	}

	if asJSON {
		res := jobsGCResult{Deleted: removed, DryRun: dryRun, MaxAge: maxAgeStr}
		if res.Deleted == nil {
			res.Deleted = []jobregistry.JobID{}
		}
		if dryRun {
			res.WouldDelete = len(removed)
			res.Deleted = []jobregistry.JobID{}
		}
		return encodeJSON(w, res)
	}
	if dryRun {
		_, _ = fmt.Fprintf(w, "would_delete=%d\n", len(removed))
		return nil
	}
	_, _ = fmt.Fprintf(w, "deleted=%d\n", len(removed))
	return nil
}

func resultKeys(r jobregistry.Result) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
