package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/productflow/internal/logging"
	"github.com/aretw0/productflow/pkg/domain"
	"github.com/aretw0/productflow/pkg/ports"
)

// DefaultExpiryGrace is how long a session stays distinguishable as expired
// after its deadline.
const DefaultExpiryGrace = time.Hour

// expiredSuffix names the tombstone left by MarkExpired.
const expiredSuffix = ":expired"

// Auxiliary keys derived from the session key. The canonical blob is
// authoritative; these are only cleaned up on delete.
var auxSuffixes = []string{":product", ":target", expiredSuffix}

// ErrListingUnsupported is returned by ListSessions when the store cannot enumerate keys.
var ErrListingUnsupported = errors.New("session store does not support listing")

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Repository persists sessions in a ports.KeyValueStore.
// It uses Reference Counting to garbage collect unused per-session locks.
type Repository struct {
	store  ports.KeyValueStore
	prefix string
	now    func() time.Time
	grace  time.Duration
	logger *slog.Logger

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks
}

// Option configures the Repository.
type Option func(*Repository)

// WithKeyPrefix sets the prefix of session keys inside the store (default "session:").
func WithKeyPrefix(prefix string) Option {
	return func(r *Repository) {
		r.prefix = prefix
	}
}

// WithClock overrides the time source used to compute TTLs.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		r.now = now
	}
}

// WithExpiryGrace sets how long past ExpiresAt the store keeps a session, so
// that reads report it as expired rather than missing (default: 1h).
func WithExpiryGrace(d time.Duration) Option {
	return func(r *Repository) {
		if d >= 0 {
			r.grace = d
		}
	}
}

// WithLogger configures a logger for the Repository.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		r.logger = logger
	}
}

// NewRepository creates a session repository on top of store.
func NewRepository(store ports.KeyValueStore, opts ...Option) *Repository {
	r := &Repository{
		store:  store,
		prefix: "session:",
		now:    time.Now,
		grace:  DefaultExpiryGrace,
		logger: logging.NewNop(),
		locks:  make(map[string]*lockEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) key(sessionID string) string {
	return r.prefix + sessionID
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(sessionID) after unlocking.
func (r *Repository) acquire(sessionID string) *lockEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		r.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (r *Repository) release(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.locks[sessionID]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(r.locks, sessionID)
	}
}

func (r *Repository) withLock(sessionID string, fn func() error) error {
	entry := r.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		r.release(sessionID)
	}()
	return fn()
}

// SaveSession serializes the session under its id with a TTL equal to the
// time left until ExpiresAt plus the expiry grace.
//
// s.Version must equal the stored version (0 for a session never saved);
// otherwise domain.ErrConcurrentModification is returned. On success the
// stored and in-memory versions are advanced by one.
func (r *Repository) SaveSession(ctx context.Context, s *domain.Session) error {
	return r.withLock(s.SessionID, func() error {
		ttl := s.RemainingTTL(r.now())
		if ttl <= 0 {
			return fmt.Errorf("%w: %s", domain.ErrSessionExpired, s.SessionID)
		}

		stored, err := r.GetSession(ctx, s.SessionID)
		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			if s.Version != 0 {
				return fmt.Errorf("%w: %s was removed while in use", domain.ErrSessionNotFound, s.SessionID)
			}
		case err != nil:
			return err
		case stored.Version != s.Version:
			return fmt.Errorf("%w: session %s is at version %d, save carries %d",
				domain.ErrConcurrentModification, s.SessionID, stored.Version, s.Version)
		}

		next := *s
		next.Version = s.Version + 1
		data, err := json.Marshal(&next)
		if err != nil {
			return fmt.Errorf("%w: failed to marshal session: %w", domain.ErrStoreWrite, err)
		}

		if err := r.store.Set(ctx, r.key(s.SessionID), string(data), ttl+r.grace); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrStoreWrite, err)
		}

		s.Version = next.Version
		return nil
	})
}

// GetSession loads a session. Absent keys and undecodable blobs both return
// domain.ErrSessionNotFound; a session replaced by MarkExpired returns
// domain.ErrSessionExpired. The deadline of a live blob is not checked here.
func (r *Repository) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	val, err := r.store.Get(ctx, r.key(sessionID))
	if err != nil {
		if errors.Is(err, ports.ErrKeyNotFound) {
			return nil, r.missing(ctx, sessionID)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreRead, err)
	}

	var s domain.Session
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		r.logger.Warn("Discarding undecodable session blob",
			"session_id", sessionID,
			"err", err,
		)
		return nil, domain.ErrSessionNotFound
	}
	if s.SessionID == "" {
		s.SessionID = sessionID
	}
	return &s, nil
}

// missing tells an expired session from one that never existed.
func (r *Repository) missing(ctx context.Context, sessionID string) error {
	deadline, err := r.store.Get(ctx, r.key(sessionID)+expiredSuffix)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s expired at %s", domain.ErrSessionExpired, sessionID, deadline)
	case errors.Is(err, ports.ErrKeyNotFound):
		return domain.ErrSessionNotFound
	default:
		return fmt.Errorf("%w: %w", domain.ErrStoreRead, err)
	}
}

// MarkExpired replaces an expired session by a tombstone kept for the expiry
// grace. Later reads return domain.ErrSessionExpired until the tombstone lapses
// or DeleteSession removes it.
func (r *Repository) MarkExpired(ctx context.Context, s *domain.Session) error {
	return r.withLock(s.SessionID, func() error {
		key := r.key(s.SessionID)
		if r.grace > 0 {
			deadline := s.ExpiresAt.UTC().Format(time.RFC3339)
			if err := r.store.Set(ctx, key+expiredSuffix, deadline, r.grace); err != nil {
				return fmt.Errorf("%w: %w", domain.ErrStoreWrite, err)
			}
		}
		if err := r.store.Del(ctx, key); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrStoreWrite, err)
		}
		return nil
	})
}

// DeleteSession removes the session key and, best-effort, its auxiliary keys.
func (r *Repository) DeleteSession(ctx context.Context, sessionID string) error {
	return r.withLock(sessionID, func() error {
		if err := r.store.Del(ctx, r.key(sessionID)); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrStoreWrite, err)
		}

		aux := make([]string, len(auxSuffixes))
		for i, suffix := range auxSuffixes {
			aux[i] = r.key(sessionID) + suffix
		}
		if err := r.store.Del(ctx, aux...); err != nil {
			r.logger.Warn("Failed to delete auxiliary session keys",
				"session_id", sessionID,
				"err", err,
			)
		}
		return nil
	})
}

// UpdateSessionState loads the session, sets its state and saves it.
func (r *Repository) UpdateSessionState(ctx context.Context, sessionID string, state domain.SessionState) (*domain.Session, error) {
	s, err := r.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.State = state
	s.UpdatedAt = r.now()
	if err := r.SaveSession(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ListSessions returns the ids of sessions present in the store.
// Returns ErrListingUnsupported if the store does not implement ports.KeyLister.
func (r *Repository) ListSessions(ctx context.Context) ([]string, error) {
	lister, ok := r.store.(ports.KeyLister)
	if !ok {
		return nil, ErrListingUnsupported
	}

	keys, err := lister.Keys(ctx, r.prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreRead, err)
	}

	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		id := strings.TrimPrefix(k, r.prefix)
		if isAuxKey(id) {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func isAuxKey(id string) bool {
	for _, suffix := range auxSuffixes {
		if strings.HasSuffix(id, suffix) {
			return true
		}
	}
	return false
}

// activeLocks reports the number of live lock entries.
func (r *Repository) activeLocks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
