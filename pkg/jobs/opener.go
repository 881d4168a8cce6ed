package jobs

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/3leaps/procctl/pkg/provider"
	"github.com/3leaps/procctl/pkg/provider/file"
	"github.com/3leaps/procctl/pkg/provider/s3"
)

// Opener opens the provider behind a location.
type Opener func(ctx context.Context, loc provider.Location) (provider.Provider, error)

// OpenerConfig holds settings shared by every provider an Opener creates.
type OpenerConfig struct {
	// Fs backs file locations; nil uses the OS filesystem.
	Fs afero.Fs

	// S3 is the template for s3 locations. Bucket is taken from the URI.
	S3 s3.Config
}

// NewOpener returns an Opener for file and s3 locations.
func NewOpener(cfg OpenerConfig) Opener {
	return func(ctx context.Context, loc provider.Location) (provider.Provider, error) {
		switch loc.Type {
		case provider.ProviderFile:
			return file.New(file.Config{BaseDir: loc.Bucket, Fs: cfg.Fs})
		case provider.ProviderS3:
			sc := cfg.S3
			sc.Bucket = loc.Bucket
			return s3.New(ctx, sc)
		default:
			return nil, fmt.Errorf("%w: provider %q", provider.ErrUnsupported, loc.Type)
		}
	}
}
