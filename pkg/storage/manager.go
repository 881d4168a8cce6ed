// Package storage provides per-job sandboxed file storage.
//
// A Manager owns a single root directory (one per job). Resources and
// folders are handed out relative to that root and are materialized lazily:
// the root itself does not exist until something is written below it.
// Dispose removes the whole tree and is safe to call more than once.
//
// A Manager is owned by exactly one job and is not meant to be shared
// across jobs; Resource stream bookkeeping is the only internal locking.
package storage

import (
	"crypto/rand"
	"encoding/binary"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// TempSuffix is appended to randomly named temporary resources.
const TempSuffix = ".tmp"

// Manager hands out resources and folders inside one job's root directory.
type Manager struct {
	fs     afero.Fs
	root   *Folder
	logger *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used to report disposal failures.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a Manager rooted at root on fs. Nothing is created on
// disk until a resource is written or a folder is created.
func NewManager(fs afero.Fs, root string, opts ...Option) *Manager {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	m := &Manager{
		fs:     fs,
		root:   newFolder(fs, root),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Root returns the root directory path.
func (m *Manager) Root() string {
	return m.root.Path()
}

// RootFolder returns a handle to the root directory.
func (m *Manager) RootFolder() *Folder {
	return m.root
}

// CreateTempResource allocates a resource with a random, unguessable name
// directly under the root.
func (m *Manager) CreateTempResource() (*Resource, error) {
	n, err := randomName()
	if err != nil {
		return nil, &StorageError{Op: "CreateTempResource", Path: m.Root(), Err: err}
	}
	return m.root.Resource(n + TempSuffix)
}

// CreateFile allocates a named resource under the root, typically the
// job's final deliverable (e.g. "roads.zip").
func (m *Manager) CreateFile(name string) (*Resource, error) {
	return m.root.Resource(name)
}

// CreateTempFolder allocates a randomly named subfolder under the root. It
// appears on disk once a resource below it is written or Create is called.
func (m *Manager) CreateTempFolder() (*Folder, error) {
	return m.root.Folder(uuid.NewString())
}

// Dispose recursively deletes the root directory.
//
// It returns false only if deletion failed and the root still exists. A
// root that was never materialized counts as success. Dispose never panics;
// failures are logged.
func (m *Manager) Dispose() bool {
	err := m.root.Delete()
	if err == nil {
		return true
	}
	if _, statErr := m.fs.Stat(m.Root()); os.IsNotExist(statErr) {
		return true
	}
	m.logger.Warn("Failed to dispose job storage",
		zap.String("root", m.Root()),
		zap.Error(err))
	return false
}

// randomName returns a non-negative 63-bit random integer in decimal form.
func randomName() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint64(b[:]) &^ (1 << 63)
	return strconv.FormatUint(n, 10), nil
}
