// Package storage abstracts the object store holding the pipeline's staged
// areas: raw input, filtered output, and query results.
package storage

import "context"

// ObjectStore is the minimal object-storage surface the pipeline needs.
// Implementations must be safe for concurrent use.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}
