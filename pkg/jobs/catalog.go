// Package jobs holds the job kinds procctl can run and the catalog that
// turns a jobspec.Spec into a registered job.
package jobs

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/3leaps/procctl/pkg/jobregistry"
	"github.com/3leaps/procctl/pkg/jobspec"
)

// ErrUnknownKind is returned for a spec whose kind is not registered.
var ErrUnknownKind = errors.New("unknown job kind")

// Factory validates a spec's inputs and builds the process that runs it.
type Factory func(spec jobspec.Spec) (jobregistry.Process, error)

// Catalog maps kind names to factories. It is safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Options configures the built-in kinds.
type Options struct {
	// OutputRoot is the directory archive jobs publish to when the spec
	// names no destination.
	OutputRoot string

	// Opener opens source and destination providers. Defaults to
	// NewOpener(OpenerConfig{}).
	Opener Opener

	Logger *zap.Logger
}

// Default returns a catalog with the wait and archive kinds registered.
func Default(opts Options) *Catalog {
	if opts.Opener == nil {
		opts.Opener = NewOpener(OpenerConfig{})
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	c := NewCatalog()
	c.mustRegister(KindWait, NewWait)
	c.mustRegister(KindArchive, func(spec jobspec.Spec) (jobregistry.Process, error) {
		return NewArchive(spec, opts)
	})
	return c
}

// Register adds a kind. Registering a kind twice is an error.
func (c *Catalog) Register(kind string, f Factory) error {
	if kind == "" || f == nil {
		return fmt.Errorf("register job kind: kind and factory are required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.factories[kind]; dup {
		return fmt.Errorf("register job kind %q: already registered", kind)
	}
	c.factories[kind] = f
	return nil
}

func (c *Catalog) mustRegister(kind string, f Factory) {
	if err := c.Register(kind, f); err != nil {
		panic(err)
	}
}

// Kinds returns the registered kind names, sorted.
func (c *Catalog) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.factories))
	for k := range c.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build validates spec and returns its process.
func (c *Catalog) Build(spec jobspec.Spec) (jobregistry.Process, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	f, ok := c.factories[spec.Kind]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, spec.Kind)
	}
	return f(spec)
}

// Submit builds spec and hands it to the registry.
func (c *Catalog) Submit(r *jobregistry.Registry, spec jobspec.Spec) (jobregistry.JobID, error) {
	p, err := c.Build(spec)
	if err != nil {
		return 0, err
	}
	return r.SubmitAsync(p, jobregistry.Inputs(spec.Inputs),
		jobregistry.WithJobName(spec.Name),
		jobregistry.WithJobKind(spec.Kind),
	)
}

// InputError reports an invalid input for a kind.
type InputError struct {
	Kind string
	Err  error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s inputs: %v", e.Kind, e.Err)
}

func (e *InputError) Unwrap() error {
	return e.Err
}

// IsInputError reports whether err was caused by invalid spec inputs.
func IsInputError(err error) bool {
	var ie *InputError
	var ve jobspec.ValidationErrors
	return errors.As(err, &ie) || errors.As(err, &ve) || errors.Is(err, ErrUnknownKind)
}
