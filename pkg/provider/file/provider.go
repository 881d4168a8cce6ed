// Package file implements the provider interface over a local directory.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/3leaps/procctl/pkg/provider"
)

// Provider implements provider.Provider for a directory tree.
//
// Keys are slash-separated paths relative to BaseDir. Prefixes match keys
// as plain string prefixes, the same way S3 does.
type Provider struct {
	fs      afero.Fs
	baseDir string
}

var (
	_ provider.Provider      = (*Provider)(nil)
	_ provider.ObjectGetter  = (*Provider)(nil)
	_ provider.ObjectPutter  = (*Provider)(nil)
	_ provider.ObjectDeleter = (*Provider)(nil)
)

type Config struct {
	BaseDir string `mapstructure:"base_dir"`

	// Fs overrides the filesystem; nil uses the OS filesystem.
	Fs afero.Fs `mapstructure:"-"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Provider{fs: fs, baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// BaseDir returns the root directory.
func (p *Provider) BaseDir() string { return p.baseDir }

func (p *Provider) Close() error { return nil }

func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	pageSize := opts.MaxKeys
	if pageSize <= 0 {
		pageSize = 1000
	}
	entries, err := p.scan(ctx, strings.TrimPrefix(opts.Prefix, "/"))
	if err != nil {
		return nil, p.wrapError("List", opts.Prefix, err)
	}

	// Tokens are the last key of the previous page.
	from := 0
	if tok := opts.ContinuationToken; tok != "" {
		from = sort.Search(len(entries), func(i int) bool { return entries[i].Key > tok })
	}
	page := entries[from:]
	res := &provider.ListResult{}
	if len(page) > pageSize {
		page = page[:pageSize]
		res.IsTruncated = true
		res.ContinuationToken = page[len(page)-1].Key
	}
	res.Objects = append(make([]provider.ObjectSummary, 0, len(page)), page...)
	return res, nil
}

func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	full, info, err := p.statObject("Head", key)
	if err != nil {
		return nil, err
	}
	return &provider.ObjectMeta{ObjectSummary: summary(p.keyOf(full), info)}, nil
}

func (p *Provider) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	full, info, err := p.statObject("GetObject", key)
	if err != nil {
		return nil, 0, err
	}
	f, err := p.fs.Open(full)
	if err != nil {
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	return f, info.Size(), nil
}

// statObject resolves key to a regular file. Directories count as missing.
func (p *Provider) statObject(op, key string) (string, os.FileInfo, error) {
	full, err := p.fullPath(key)
	if err != nil {
		return "", nil, p.wrapError(op, key, err)
	}
	info, err := p.fs.Stat(full)
	if err != nil {
		return "", nil, p.wrapError(op, key, err)
	}
	if info.IsDir() {
		return "", nil, p.wrapError(op, key, os.ErrNotExist)
	}
	return full, info, nil
}

func summary(key string, info os.FileInfo) provider.ObjectSummary {
	return provider.ObjectSummary{Key: key, Size: info.Size(), LastModified: info.ModTime()}
}

// PutObject writes to a temp file next to the target and renames it into
// place, so readers never see a partial object.
func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error {
	full, err := p.fullPath(key)
	if err != nil {
		return p.wrapError("PutObject", key, err)
	}
	dir := filepath.Dir(full)
	if err := p.fs.MkdirAll(dir, 0o755); err != nil {
		return p.wrapError("PutObject", key, err)
	}

	tmp, err := afero.TempFile(p.fs, dir, ".procctl-put-*")
	if err != nil {
		return p.wrapError("PutObject", key, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = p.fs.Remove(tmpName)
	}()

	n, err := io.Copy(tmp, body)
	if err != nil {
		return p.wrapError("PutObject", key, err)
	}
	if contentLength >= 0 && n != contentLength {
		return p.wrapError("PutObject", key, fmt.Errorf("short write: %d of %d bytes", n, contentLength))
	}
	if err := tmp.Close(); err != nil {
		return p.wrapError("PutObject", key, err)
	}
	if err := p.fs.Rename(tmpName, full); err != nil {
		return p.wrapError("PutObject", key, err)
	}
	return nil
}

func (p *Provider) DeleteObject(ctx context.Context, key string) error {
	full, err := p.fullPath(key)
	if err != nil {
		return p.wrapError("DeleteObject", key, err)
	}
	if err := p.fs.Remove(full); err != nil && !os.IsNotExist(err) {
		return p.wrapError("DeleteObject", key, err)
	}
	return nil
}

// fullPath maps a key below baseDir; keys cannot climb out of it.
func (p *Provider) fullPath(key string) (string, error) {
	clean := strings.TrimPrefix(path.Clean("/"+strings.TrimSpace(key)), "/")
	if clean == "" {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(p.baseDir, filepath.FromSlash(clean)), nil
}

func (p *Provider) keyOf(full string) string {
	rel, err := filepath.Rel(p.baseDir, full)
	if err != nil {
		return ""
	}
	return filepath.ToSlash(rel)
}

// scan returns every file whose key starts with prefix, sorted by key.
// Only the directory the prefix names is walked.
func (p *Provider) scan(ctx context.Context, prefix string) ([]provider.ObjectSummary, error) {
	root := p.baseDir
	if i := strings.LastIndex(prefix, "/"); i > 0 {
		dir, err := p.fullPath(prefix[:i])
		if err != nil {
			return nil, err
		}
		root = dir
	}
	if ok, err := afero.DirExists(p.fs, root); err != nil || !ok {
		return nil, err
	}

	var out []provider.ObjectSummary
	err := afero.Walk(p.fs, root, func(full string, info os.FileInfo, err error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err != nil || info.IsDir() {
			return nil
		}
		if key := p.keyOf(full); key != "" && strings.HasPrefix(key, prefix) {
			out = append(out, summary(key, info))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (p *Provider) wrapError(op, key string, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		err = provider.ErrNotFound
	case errors.Is(err, os.ErrPermission):
		err = provider.ErrAccessDenied
	}
	return &provider.ProviderError{Op: op, Provider: provider.ProviderFile, Bucket: p.baseDir, Key: key, Err: err}
}
