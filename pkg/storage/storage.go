// Package storage abstracts where report artifacts land.
package storage

import "context"

// BlobStore is the destination for exported report artifacts.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}
