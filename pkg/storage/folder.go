package storage

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
)

// Folder is a handle to a directory inside a job's storage area.
//
// Like Resource, a Folder is lazy: Create must be called (or a child
// resource written) before it exists on disk.
type Folder struct {
	fs   afero.Fs
	path string
}

func newFolder(fs afero.Fs, path string) *Folder {
	return &Folder{fs: fs, path: path}
}

// Path returns the folder's filesystem path.
func (f *Folder) Path() string {
	return f.path
}

// Exists reports whether the folder is present on disk.
func (f *Folder) Exists() bool {
	ok, err := afero.DirExists(f.fs, f.path)
	return err == nil && ok
}

// Create creates the folder and any missing parents. It is a no-op if the
// folder already exists.
func (f *Folder) Create() error {
	if err := f.fs.MkdirAll(f.path, 0o755); err != nil {
		return &StorageError{Op: "Create", Path: f.path, Err: err}
	}
	return nil
}

// Delete removes the folder and everything below it. A missing folder is
// not an error.
func (f *Folder) Delete() error {
	if err := f.fs.RemoveAll(f.path); err != nil && !os.IsNotExist(err) {
		return &StorageError{Op: "Delete", Path: f.path, Err: err}
	}
	return nil
}

// Folder returns a handle to a named subfolder (which may be a nested
// slash-separated path). The subfolder is not created.
func (f *Folder) Folder(name string) (*Folder, error) {
	p, err := childPath(f.path, name)
	if err != nil {
		return nil, err
	}
	return newFolder(f.fs, p), nil
}

// Resource returns a handle to a named file below this folder.
func (f *Folder) Resource(name string) (*Resource, error) {
	p, err := childPath(f.path, name)
	if err != nil {
		return nil, err
	}
	return newResource(f.fs, p), nil
}

// Glob returns the slash-separated paths (relative to the folder) of files
// matching a doublestar pattern, sorted. A missing folder yields no matches.
func (f *Folder) Glob(pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, &StorageError{Op: "Glob", Path: f.path, Err: doublestar.ErrBadPattern}
	}
	if !f.Exists() {
		return []string{}, nil
	}

	fsys := afero.NewIOFS(afero.NewBasePathFs(f.fs, f.path))
	matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, &StorageError{Op: "Glob", Path: f.path, Err: err}
	}
	sort.Strings(matches)
	return matches, nil
}

// childPath joins a relative slash path below parent, rejecting names that
// are empty, absolute, or escape parent.
func childPath(parent, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) || filepath.IsAbs(filepath.FromSlash(name)) {
		return "", &StorageError{Op: "Resolve", Path: name, Err: ErrInvalidName}
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", &StorageError{Op: "Resolve", Path: name, Err: ErrInvalidName}
	}
	return filepath.Join(parent, clean), nil
}
