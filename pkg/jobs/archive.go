package jobs

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/procctl/pkg/jobregistry"
	"github.com/3leaps/procctl/pkg/jobspec"
	"github.com/3leaps/procctl/pkg/match"
	"github.com/3leaps/procctl/pkg/preflight"
	"github.com/3leaps/procctl/pkg/provider"
	"github.com/3leaps/procctl/pkg/storage"
)

// KindArchive names the archive job.
const KindArchive = "archive"

// ErrNoObjects is returned when no source object matches the filters.
var ErrNoObjects = errors.New("no objects matched")

// Progress milestones for the archive phases.
const (
	stagedPct = 85.0
	zippedPct = 95.0
)

// ArchiveInputs are the inputs of an archive spec.
type ArchiveInputs struct {
	// Source is the URI listed for objects (s3://bucket/prefix/ or a path).
	Source string `mapstructure:"source"`

	// Destination is where the zip is published. Defaults to the
	// catalog's output root.
	Destination string `mapstructure:"destination"`

	// Name is the archive base name. Defaults to the spec name.
	Name string `mapstructure:"name"`

	Includes      []string `mapstructure:"includes"`
	Excludes      []string `mapstructure:"excludes"`
	IncludeHidden bool     `mapstructure:"include_hidden"`

	// Preflight is off, read-safe (default) or write-probe.
	Preflight string `mapstructure:"preflight"`
}

// Archive lists a source, stages the matching objects in job storage,
// zips them and publishes the zip.
type Archive struct {
	in      ArchiveInputs
	source  provider.Location
	dest    provider.Location
	mode    preflight.Mode
	matcher *match.Matcher
	open    Opener
	logger  *zap.Logger
}

// NewArchive builds an archive process from spec.
func NewArchive(spec jobspec.Spec, opts Options) (*Archive, error) {
	var in ArchiveInputs
	if err := decodeInputs(KindArchive, spec.Inputs, &in); err != nil {
		return nil, err
	}
	if len(in.Includes) == 0 {
		in.Includes = []string{"**"}
	}
	invalid := func(format string, args ...any) error {
		return &InputError{Kind: KindArchive, Err: fmt.Errorf(format, args...)}
	}

	if in.Source == "" {
		return nil, invalid("source is required")
	}
	src, err := provider.ParseURI(in.Source)
	if err != nil {
		return nil, invalid("source: %w", err)
	}

	var dest provider.Location
	switch {
	case in.Destination != "":
		if dest, err = provider.ParseURI(in.Destination); err != nil {
			return nil, invalid("destination: %w", err)
		}
	case opts.OutputRoot != "":
		dest = provider.Location{Type: provider.ProviderFile, Bucket: strings.TrimSuffix(opts.OutputRoot, "/")}
	default:
		return nil, invalid("destination is required when no output root is configured")
	}

	if in.Name == "" {
		in.Name = spec.Name
	}
	if in.Name == "" {
		in.Name = KindArchive
	}
	in.Name = strings.TrimSuffix(in.Name, ".zip")
	if strings.ContainsAny(in.Name, `/\`) || in.Name == "." || in.Name == ".." {
		return nil, invalid("name %q must be a plain file name", in.Name)
	}

	mode, err := preflight.ParseMode(in.Preflight)
	if err != nil {
		return nil, invalid("preflight: %w", err)
	}

	m, err := match.New(match.Config{Includes: in.Includes, Excludes: in.Excludes, IncludeHidden: in.IncludeHidden})
	if err != nil {
		return nil, &InputError{Kind: KindArchive, Err: err}
	}

	open := opts.Opener
	if open == nil {
		open = NewOpener(OpenerConfig{})
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{
		in:      in,
		source:  src,
		dest:    dest,
		mode:    mode,
		matcher: m,
		open:    open,
		logger:  logger.With(zap.String("kind", KindArchive), zap.String("source", src.String())),
	}, nil
}

// stagedObject is a source object copied into job storage.
type stagedObject struct {
	rel  string
	key  string
	size int64
}

func (a *Archive) Execute(ctx context.Context, inputs jobregistry.Inputs, m *jobregistry.Monitor) (jobregistry.Result, error) {
	st, err := inputs.Storage()
	if err != nil {
		return nil, err
	}
	m.Started()

	src, err := a.open(ctx, a.source)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()
	getter, ok := src.(provider.ObjectGetter)
	if !ok {
		return nil, fmt.Errorf("source %s: %w: get object", a.source, provider.ErrUnsupported)
	}
	dst, err := a.open(ctx, a.dest)
	if err != nil {
		return nil, fmt.Errorf("open destination: %w", err)
	}
	defer dst.Close()

	rep, err := preflight.Run(ctx, src, dst, preflight.Spec{
		Mode:         a.mode,
		SourcePrefix: a.source.Key(""),
		ProbePrefix:  a.dest.Key(""),
	})
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Preflight passed", zap.String("mode", string(rep.Mode)), zap.Int("checks", len(rep.Results)))

	objects, err := a.list(ctx, src)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("%s: %w", a.source, ErrNoObjects)
	}
	a.logger.Info("Archiving objects", zap.Int("objects", len(objects)))

	staging, err := st.CreateTempFolder()
	if err != nil {
		return nil, err
	}
	var total int64
	for i := range objects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := stageWithRetry(ctx, getter, staging, objects[i], stageBackoff)
		if err != nil {
			return nil, err
		}
		objects[i].size = n
		total += n
		m.Progress(stagedPct * float64(i+1) / float64(len(objects)))
	}

	archiveName := a.in.Name + ".zip"
	archive, err := st.CreateFile(archiveName)
	if err != nil {
		return nil, err
	}
	if err := writeZip(ctx, archive, staging, objects); err != nil {
		return nil, err
	}
	if err := staging.Delete(); err != nil {
		a.logger.Warn("Failed to remove staging folder", zap.Error(err))
	}
	m.Progress(zippedPct)

	published, err := a.publish(ctx, dst, archive)
	if err != nil {
		return nil, err
	}

	return jobregistry.Result{
		"archive":   archiveName,
		"files":     len(objects),
		"bytes":     total,
		"size":      archive.Size(),
		"published": published,
	}, nil
}

// list walks every listing prefix of the matcher below the source prefix
// and keeps the keys that match, relative to the source prefix.
func (a *Archive) list(ctx context.Context, p provider.Provider) ([]stagedObject, error) {
	base := a.source.Key("")
	var out []stagedObject
	for _, prefix := range a.matcher.Prefixes() {
		err := provider.Walk(ctx, p, base+prefix, func(obj provider.ObjectSummary) error {
			rel := strings.TrimPrefix(obj.Key, base)
			if rel == "" || strings.HasSuffix(rel, "/") || !a.matcher.Match(rel) {
				return nil
			}
			out = append(out, stagedObject{rel: rel, key: obj.Key, size: obj.Size})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", a.source, err)
		}
	}
	return out, nil
}

// stageAttempts bounds retries of throttled or unavailable reads.
const stageAttempts = 3

var stageBackoff = 250 * time.Millisecond

func stageWithRetry(ctx context.Context, g provider.ObjectGetter, dir *storage.Folder, obj stagedObject, backoff time.Duration) (int64, error) {
	var err error
	for attempt := 1; ; attempt++ {
		var n int64
		n, err = stage(ctx, g, dir, obj)
		if err == nil || attempt == stageAttempts || !provider.Classify(err).Retryable() {
			return n, err
		}
		t := time.NewTimer(backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return 0, ctx.Err()
		case <-t.C:
		}
	}
}

func stage(ctx context.Context, g provider.ObjectGetter, dir *storage.Folder, obj stagedObject) (int64, error) {
	res, err := dir.Resource(obj.rel)
	if err != nil {
		return 0, err
	}
	body, _, err := g.GetObject(ctx, obj.key)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", obj.key, err)
	}
	defer body.Close()

	w, err := res.OutputStream()
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, body)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("stage %s: %w", obj.key, err)
	}
	return n, nil
}

func writeZip(ctx context.Context, archive *storage.Resource, dir *storage.Folder, objects []stagedObject) (err error) {
	out, err := archive.OutputStream()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	zw := zip.NewWriter(out)
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addToZip(zw, dir, obj.rel); err != nil {
			return fmt.Errorf("zip %s: %w", obj.rel, err)
		}
	}
	return zw.Close()
}

func addToZip(zw *zip.Writer, dir *storage.Folder, rel string) error {
	res, err := dir.Resource(rel)
	if err != nil {
		return err
	}
	in, err := res.InputStream()
	if err != nil {
		return err
	}
	defer in.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: path.Clean(rel), Method: zip.Deflate})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}

// publish uploads the archive and returns its URI.
func (a *Archive) publish(ctx context.Context, dest provider.Provider, archive *storage.Resource) (string, error) {
	putter, ok := dest.(provider.ObjectPutter)
	if !ok {
		return "", fmt.Errorf("destination %s: %w: put object", a.dest, provider.ErrUnsupported)
	}

	in, err := archive.InputStream()
	if err != nil {
		return "", err
	}
	defer in.Close()

	key := a.dest.Key(archive.Name())
	if err := putter.PutObject(ctx, key, in, archive.Size()); err != nil {
		return "", fmt.Errorf("publish %s: %w", key, err)
	}
	uri := provider.Location{Type: a.dest.Type, Bucket: a.dest.Bucket, Prefix: key}.String()
	a.logger.Info("Archive published", zap.String("uri", uri), zap.Int64("bytes", archive.Size()))
	return uri, nil
}
