package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Location is a parsed object store URI.
//
//	s3://bucket/prefix/    -> {Type: s3, Bucket: "bucket", Prefix: "prefix/"}
//	file:///srv/exports/   -> {Type: file, Bucket: "/srv/exports", Prefix: ""}
//
// For file locations Bucket holds the base directory.
type Location struct {
	Type   ProviderType
	Bucket string
	Prefix string
}

// String returns the URI form.
func (l Location) String() string {
	switch l.Type {
	case ProviderFile:
		return "file://" + strings.TrimSuffix(l.Bucket, "/") + "/" + l.Prefix
	default:
		return string(l.Type) + "://" + l.Bucket + "/" + l.Prefix
	}
}

// Key joins the location prefix with name.
func (l Location) Key(name string) string {
	name = strings.TrimPrefix(name, "/")
	if l.Prefix == "" {
		return name
	}
	return strings.TrimSuffix(l.Prefix, "/") + "/" + name
}

// ParseURI parses an s3:// or file:// URI. A bare absolute path is treated
// as a file location.
func ParseURI(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, fmt.Errorf("%w: empty", ErrInvalidURI)
	}
	if strings.HasPrefix(raw, "/") {
		return Location{Type: ProviderFile, Bucket: strings.TrimSuffix(raw, "/")}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "s3":
		if u.Host == "" {
			return Location{}, fmt.Errorf("%w: %q has no bucket", ErrInvalidURI, raw)
		}
		return Location{Type: ProviderS3, Bucket: u.Host, Prefix: strings.TrimPrefix(u.Path, "/")}, nil
	case "file":
		if u.Host != "" && u.Host != "localhost" {
			return Location{}, fmt.Errorf("%w: %q names a remote host", ErrInvalidURI, raw)
		}
		dir := strings.TrimSuffix(u.Path, "/")
		if dir == "" {
			return Location{}, fmt.Errorf("%w: %q has no path", ErrInvalidURI, raw)
		}
		return Location{Type: ProviderFile, Bucket: dir}, nil
	default:
		return Location{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURI, u.Scheme)
	}
}

// Walk lists every object under prefix, following continuation tokens,
// and calls fn for each. It stops at the first error from fn or the
// provider, or when ctx is cancelled.
func Walk(ctx context.Context, p Provider, prefix string, fn func(ObjectSummary) error) error {
	token := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := p.List(ctx, ListOptions{Prefix: prefix, ContinuationToken: token})
		if err != nil {
			return err
		}
		for _, obj := range res.Objects {
			if err := fn(obj); err != nil {
				return err
			}
		}
		if !res.IsTruncated || res.ContinuationToken == "" {
			return nil
		}
		token = res.ContinuationToken
	}
}
