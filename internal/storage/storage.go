// Package storage holds artifacts and extraction records as opaque objects,
// keyed by slash-separated paths.
package storage

import "context"

// ObjectStore abstracts artifact storage. Keys look like
// oficios/lotes/{batch}/{unit}.pdf and oficios/results/{unit}.json.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
