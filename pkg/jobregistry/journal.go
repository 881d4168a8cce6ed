package jobregistry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// JobRecord is the persisted summary of a job.
type JobRecord struct {
	JobID    JobID    `json:"job_id"`
	Name     string   `json:"name,omitempty"`
	Kind     string   `json:"kind,omitempty"`
	State    JobState `json:"state"`
	Progress float64  `json:"progress"`
	Error    string   `json:"error,omitempty"`
	Result   Result   `json:"result,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Journal persists JobRecords so job outcomes outlive the process and the
// in-memory registry entry.
//
// Directory layout:
//
//	<root>/<job_id>/job.json
type Journal struct {
	fs   afero.Fs
	root string
}

// NewJournal creates a journal under root. A nil fs uses the OS filesystem.
func NewJournal(fs afero.Fs, root string) *Journal {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Journal{fs: fs, root: strings.TrimSpace(root)}
}

func (s *Journal) RootDir() string {
	return s.root
}

func (s *Journal) JobDir(id JobID) string {
	return filepath.Join(s.root, id.String())
}

func (s *Journal) JobPath(id JobID) string {
	return filepath.Join(s.JobDir(id), "job.json")
}

func (s *Journal) ensureRoot() error {
	if s.root == "" {
		return fmt.Errorf("job journal root dir is empty")
	}
	return s.fs.MkdirAll(s.root, 0o755)
}

// Write stores record atomically (temp file + rename).
func (s *Journal) Write(record *JobRecord) error {
	if record == nil {
		return fmt.Errorf("job record is nil")
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	jobDir := s.JobDir(record.JobID)
	if err := s.fs.MkdirAll(jobDir, 0o755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	record.UpdatedAt = time.Now().UTC()
	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := afero.TempFile(s.fs, jobDir, "job.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = s.fs.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp job file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp job file: %w", err)
	}

	if err := s.fs.Rename(tmpName, s.JobPath(record.JobID)); err != nil {
		return fmt.Errorf("rename job file: %w", err)
	}
	return nil
}

// Get reads one record.
func (s *Journal) Get(id JobID) (*JobRecord, error) {
	b, err := afero.ReadFile(s.fs, s.JobPath(id))
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("job.json is empty")
	}

	var record JobRecord
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, fmt.Errorf("parse job.json: %w", err)
	}
	return &record, nil
}

// List returns all readable records, newest first. Unreadable entries are
// skipped.
func (s *Journal) List() ([]JobRecord, error) {
	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read journal root: %w", err)
	}

	out := make([]JobRecord, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := ParseJobID(entry.Name())
		if err != nil {
			continue
		}
		r, err := s.Get(id)
		if err != nil {
			continue
		}
		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool {
		ti, tj := recordSortTime(out[i]), recordSortTime(out[j])
		if ti.Equal(tj) {
			return out[i].JobID > out[j].JobID
		}
		return ti.After(tj)
	})

	return out, nil
}

func recordSortTime(r JobRecord) time.Time {
	if r.StartedAt != nil {
		return r.StartedAt.UTC()
	}
	return r.CreatedAt.UTC()
}

// LastID returns the highest job id present in the journal, or 0. A
// registry sharing the journal across restarts should start its sequence
// there so ids are not reused.
func (s *Journal) LastID() (JobID, error) {
	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read journal root: %w", err)
	}
	var last JobID
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if id, err := ParseJobID(entry.Name()); err == nil && id > last {
			last = id
		}
	}
	return last, nil
}

// MarkAbandoned flips records left waiting or running by a previous
// process to unknown. It returns the number of records changed.
func (s *Journal) MarkAbandoned() (int, error) {
	records, err := s.List()
	if err != nil {
		return 0, err
	}
	var errs error
	n := 0
	for i := range records {
		r := &records[i]
		if r.State != JobStateWaiting && r.State != JobStateRunning {
			continue
		}
		r.State = JobStateUnknown
		if err := s.Write(r); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("job %d: %w", r.JobID, err))
			continue
		}
		n++
	}
	return n, errs
}

// Prune removes terminal records whose last update is older than maxAge.
// With dryRun it only reports what would be removed.
func (s *Journal) Prune(maxAge time.Duration, dryRun bool) ([]JobID, error) {
	records, err := s.List()
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().UTC().Add(-maxAge)

	var (
		removed []JobID
		errs    error
	)
	for _, r := range records {
		if !r.State.IsTerminal() || r.UpdatedAt.After(cutoff) {
			continue
		}
		if !dryRun {
			if err := s.fs.RemoveAll(s.JobDir(r.JobID)); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("job %d: %w", r.JobID, err))
				continue
			}
		}
		removed = append(removed, r.JobID)
	}
	return removed, errs
}

func recordFromJob(j *Job) *JobRecord {
	ts := j.Timestamps()
	rec := &JobRecord{
		JobID:     j.ID(),
		Name:      j.Name(),
		Kind:      j.Kind(),
		State:     j.State(),
		Progress:  j.Progress(),
		Result:    j.Result(),
		CreatedAt: ts.CreatedAt,
		StartedAt: optionalTime(ts.StartedAt),
		EndedAt:   optionalTime(ts.EndedAt),
	}
	if cause := j.Cause(); cause != nil {
		rec.Error = cause.Error()
	}
	return rec
}
