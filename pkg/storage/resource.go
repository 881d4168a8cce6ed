package storage

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// Resource is a handle to a single file inside a job's storage area.
//
// Nothing touches the filesystem until the first stream is opened. At most
// one stream (input or output) may be open at a time.
type Resource struct {
	fs   afero.Fs
	path string

	mu     sync.Mutex
	stream *stream
}

func newResource(fs afero.Fs, path string) *Resource {
	return &Resource{fs: fs, path: path}
}

// Path returns the resource's filesystem path.
func (r *Resource) Path() string {
	return r.path
}

// Name returns the base name of the resource.
func (r *Resource) Name() string {
	return filepath.Base(r.path)
}

// Exists reports whether the resource has been materialized.
func (r *Resource) Exists() bool {
	st, err := r.fs.Stat(r.path)
	return err == nil && !st.IsDir()
}

// Size returns the current size in bytes, or 0 if the file does not exist.
func (r *Resource) Size() int64 {
	st, err := r.fs.Stat(r.path)
	if err != nil {
		return 0
	}
	return st.Size()
}

// IsOpen reports whether a stream from this resource is still open.
func (r *Resource) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream != nil && !r.stream.isClosed()
}

// OutputStream creates (or truncates) the file and returns a writer.
//
// Parent directories are created on demand.
func (r *Resource) OutputStream() (io.WriteCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream != nil && !r.stream.isClosed() {
		return nil, &AlreadyOpenError{Path: r.path}
	}
	if err := r.fs.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return nil, &StorageError{Op: "OutputStream", Path: r.path, Err: err}
	}
	f, err := r.fs.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, &StorageError{Op: "OutputStream", Path: r.path, Err: err}
	}
	r.stream = &stream{file: f}
	return r.stream, nil
}

// InputStream opens the file for reading.
func (r *Resource) InputStream() (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream != nil && !r.stream.isClosed() {
		return nil, &AlreadyOpenError{Path: r.path}
	}
	f, err := r.fs.Open(r.path)
	if err != nil {
		return nil, &StorageError{Op: "InputStream", Path: r.path, Err: err}
	}
	r.stream = &stream{file: f}
	return r.stream, nil
}

// stream wraps an afero.File so the owning resource can tell whether it
// has been closed.
type stream struct {
	file afero.File

	mu     sync.Mutex
	closed bool
}

func (s *stream) Read(p []byte) (int, error) {
	return s.file.Read(p)
}

func (s *stream) Write(p []byte) (int, error) {
	return s.file.Write(p)
}

// Close closes the underlying file. Repeated calls return nil.
func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

func (s *stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
