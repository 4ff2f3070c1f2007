package ports

import "context"

type ArtifactCache interface {
	// Get returns nil without error when the key is missing.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}
