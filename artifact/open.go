package artifact

import (
	"context"

	"github.com/YuminosukeSato/pvtrain/pkg/errors"
)

// Backends accepted by Open.
const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMinio  = "minio"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	// Path is the FileStore directory.
	Path  string
	Redis RedisOptions
	Minio MinioOptions
}

// Open creates the configured store. An empty backend means file.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendFile, "":
		if opts.Path == "" {
			return nil, errors.NewConfigError("artifact_store.path is required for the file backend")
		}
		return NewFileStore(opts.Path)
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendRedis:
		return NewRedisStore(ctx, opts.Redis)
	case BackendMinio:
		return NewMinioStore(ctx, opts.Minio)
	}
	return nil, errors.NewConfigError("artifact_store.backend must be file, memory, redis or minio, got " + opts.Backend)
}
