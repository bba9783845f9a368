package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/productflow/pkg/ports"
)

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiration
}

// Store implements ports.KeyValueStore in memory.
// Safe for concurrent use. Expired entries are dropped on access.
type Store struct {
	data map[string]entry
	mu   sync.RWMutex
	now  func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreClock overrides the time source used for expiry.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a new in-memory store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		data: make(map[string]entry),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) live(e entry) bool {
	return e.expiresAt.IsZero() || s.now().Before(e.expiresAt)
}

// Get retrieves a value from memory.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()

	if !ok || !s.live(e) {
		return "", ports.ErrKeyNotFound
	}
	return e.value, nil
}

// Set stores the value.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = e
	return nil
}

// Del removes the keys.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

// Keys returns live keys with the given prefix in lexical order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.data))
	for k, e := range s.data {
		if !s.live(e) {
			delete(s.data, k)
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
