// Package storage defines where encoded cassettes live. The core only
// produces and consumes bytes plus a logical key; backends decide how keys
// map to files or objects.
package storage

import (
	"context"

	"github.com/retracehq/retrace/pkg/cassette"
)

// Store persists and retrieves encoded cassettes by logical key.
type Store interface {
	// Put stores encoded cassette bytes under the given key, creating any
	// intermediate structure the backend needs.
	Put(ctx context.Context, key string, data []byte) error

	// Get retrieves the bytes stored under key. Returns ErrNotFound if the
	// key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns all keys under the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// ErrNotFound is returned when a cassette key doesn't exist in the store.
type ErrNotFound struct {
	Key string
}

func (e ErrNotFound) Error() string {
	if e.Key == "" {
		return "cassette not found"
	}
	return "cassette not found: " + e.Key
}

// CassetteWriter binds a store, the codec, and the naming scheme into a
// session.Sink: finalize hands it a cassette and it synchronously encodes
// and persists under a deterministic date-partitioned key.
type CassetteWriter struct {
	Store       Store
	Compression cassette.Compression
}

// WriteCassette encodes and persists a cassette, returning the storage key.
func (w CassetteWriter) WriteCassette(ctx context.Context, c *cassette.Cassette) (string, error) {
	data, err := cassette.Encode(c, w.Compression)
	if err != nil {
		return "", err
	}
	key := cassette.Key(c, w.Compression)
	if err := w.Store.Put(ctx, key, data); err != nil {
		return "", err
	}
	return key, nil
}

// LoadCassette fetches and decodes a cassette by key. Compression is
// auto-detected by the codec, so callers never need to know how the
// cassette was stored.
func LoadCassette(ctx context.Context, s Store, key string) (*cassette.Cassette, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return cassette.Decode(data)
}
