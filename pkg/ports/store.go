package ports

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by KeyValueStore.Get when the key is absent or expired.
var ErrKeyNotFound = errors.New("key not found")

// KeyValueStore defines the TTL key-value store holding serialized sessions.
// Values are opaque to the store.
type KeyValueStore interface {
	// Get returns the value stored under key.
	// Returns ErrKeyNotFound if the key does not exist.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key. A zero ttl means no expiration.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Del removes the keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error
}

// KeyLister is implemented by stores able to enumerate their live keys.
type KeyLister interface {
	// Keys returns the live keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
