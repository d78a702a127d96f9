// internal/storage/archive/interface.go
package archive

import (
	"context"
	"fmt"

	"github.com/newthinker/catalyst/internal/core"
)

// Storage is a flat key/value sink for run exports and recorded provider
// responses. Put overwrites; there is no append.
type Storage interface {
	// Put stores data under key, replacing any previous object
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the object stored under key, or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns all keys under the prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists reports whether key is present
	Exists(ctx context.Context, key string) (bool, error)
}

// ErrNotFound is returned by Get for a missing key
var ErrNotFound = &core.Error{Code: "ARCHIVE_NOT_FOUND", Message: "archive object not found"}

// Config selects and configures a backend
type Config struct {
	Type string   `mapstructure:"type"` // "localfs" or "s3"
	Path string   `mapstructure:"path"` // For localfs
	S3   S3Config `mapstructure:"s3"`
}

// New builds the configured backend
func New(cfg Config) (Storage, error) {
	switch cfg.Type {
	case "", "localfs":
		path := cfg.Path
		if path == "" {
			path = "reports"
		}
		return NewLocalFS(path)
	case "s3":
		return NewS3(cfg.S3)
	default:
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown archive type %q", cfg.Type))
	}
}
