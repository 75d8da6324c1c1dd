package state

import "context"

// Store is a small string key/value store. SetBatch writes every entry or
// none of them.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	SetBatch(ctx context.Context, entries map[string]string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
