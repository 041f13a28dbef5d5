// Package kvstore provides the shared key-value namespace that holds every board record.
//
// Values are opaque strings; callers serialize whole collections under a single key.
// Backends give atomic single-key reads and writes but no compare-and-swap, and every
// write is announced to subscribers of the key, including subscribers owned by the writer.
package kvstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrClosed indicates the store was used after Close.
	ErrClosed = errors.New("kvstore: store closed")
	// ErrInvalidKey indicates an empty key.
	ErrInvalidKey = errors.New("kvstore: invalid key")
)

// Change describes a single write observed on a key.
type Change struct {
	Key       string
	Value     string
	Deleted   bool
	Timestamp time.Time
}

// Store is the shared namespace every board component reads and writes.
type Store interface {
	// Get returns the value stored under key; ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Subscribe streams changes for the given keys (all keys when none are given) until
	// ctx is done or the returned cancel function is called.
	Subscribe(ctx context.Context, keys ...string) (<-chan Change, func())
	Close() error
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	return nil
}
