// Package provider is the object store layer jobs read sources from and
// publish deliverables to. A Provider only lists and stats; reading,
// writing and deleting are optional and detected by type assertion.
package provider

import (
	"context"
	"io"
	"time"
)

// ProviderType names a backend and doubles as the URI scheme.
type ProviderType string

const (
	ProviderS3   ProviderType = "s3"
	ProviderFile ProviderType = "file"
)

func (p ProviderType) String() string { return string(p) }

// Provider lists and stats objects. Implementations must be safe for
// concurrent use by the jobs sharing them.
type Provider interface {
	// List returns one page of keys under opts.Prefix in lexical order.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)
	// Head stats a single key. A missing key yields ErrNotFound.
	Head(ctx context.Context, key string) (*ObjectMeta, error)
	Close() error
}

// ObjectGetter streams an object body. Archive staging needs it on the source.
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) (body io.ReadCloser, contentLength int64, err error)
}

// ObjectPutter writes an object. Publishing needs it on the destination.
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error
}

// ObjectDeleter removes an object; used to clean up write probes.
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, key string) error
}

// ListOptions selects one page of a listing. MaxKeys of zero leaves the
// page size to the backend.
type ListOptions struct {
	Prefix            string
	ContinuationToken string
	MaxKeys           int
}

// ListResult is one listing page. ContinuationToken is empty on the last page.
type ListResult struct {
	Objects           []ObjectSummary
	ContinuationToken string
	IsTruncated       bool
}

// ObjectSummary is what a listing knows about a key.
type ObjectSummary struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ObjectMeta extends the listing view with what Head can return.
type ObjectMeta struct {
	ObjectSummary
	ContentType string
	Metadata    map[string]string
}
