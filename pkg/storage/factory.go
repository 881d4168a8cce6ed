package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Factory creates per-job Managers under a shared base directory.
//
// Directory layout:
//
//	<base>/<job_id>/...
type Factory struct {
	fs     afero.Fs
	base   string
	logger *zap.Logger
}

// NewFactory returns a Factory rooted at base. A nil fs uses the OS filesystem.
func NewFactory(fs afero.Fs, base string, logger *zap.Logger) (*Factory, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return nil, fmt.Errorf("storage base dir is empty")
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{fs: fs, base: filepath.Clean(base), logger: logger}, nil
}

// Base returns the base directory.
func (f *Factory) Base() string {
	return f.base
}

// ForJob returns the Manager for the named job directory.
func (f *Factory) ForJob(name string) (*Manager, error) {
	p, err := childPath(f.base, name)
	if err != nil {
		return nil, err
	}
	return NewManager(f.fs, p, WithLogger(f.logger.With(zap.String("job_dir", name)))), nil
}
