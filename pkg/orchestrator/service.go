package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/productflow/internal/logging"
	"github.com/aretw0/productflow/pkg/domain"
	"github.com/aretw0/productflow/pkg/ports"
	"github.com/aretw0/productflow/pkg/retry"
	"github.com/aretw0/productflow/pkg/validation"
	"github.com/google/uuid"
)

const (
	// DefaultTTL is the absolute lifetime of a session.
	DefaultTTL = 30 * time.Minute
	// DefaultCleanupDelay is how long a committed session stays readable.
	DefaultCleanupDelay = 5 * time.Second
)

// SessionRepository is the persistence the service needs.
// *session.Repository implements it.
type SessionRepository interface {
	SaveSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	// MarkExpired drops the session so that later reads report it as expired.
	MarkExpired(ctx context.Context, s *domain.Session) error
}

// Service coordinates sessions, validation and the record store.
// Safe for concurrent use.
type Service struct {
	repo     SessionRepository
	records  ports.RecordStore
	products ports.ProductValidator
	targets  ports.TargetValidator
	notifier ports.Notifier
	logger   *slog.Logger
	schema   Schema

	now          func() time.Time
	newID        func() string
	sleep        func(context.Context, time.Duration) error
	ttl          time.Duration
	cleanupDelay time.Duration
	policy       retry.Policy

	mu       sync.Mutex
	timers   map[string]*time.Timer
	cleanups sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithNotifier sets the event sink. Use observability.NewMulti to fan out.
func WithNotifier(n ports.Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithIDGenerator overrides the uuid generator used for session and operation ids.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

// WithTTL sets the absolute session lifetime (default: 30m).
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.ttl = ttl
	}
}

// WithCleanupDelay sets the delay before a committed session is deleted
// (default: 5s). A negative delay disables the deletion; the session then
// lives until CompleteSession or its TTL.
func WithCleanupDelay(d time.Duration) Option {
	return func(s *Service) {
		s.cleanupDelay = d
	}
}

// WithRetryPolicy sets the commit retry policy (default: retry.DefaultPolicy).
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// WithSleeper overrides the wait between commit attempts.
func WithSleeper(fn func(context.Context, time.Duration) error) Option {
	return func(s *Service) {
		s.sleep = fn
	}
}

// WithValidators replaces the payload validators.
func WithValidators(p ports.ProductValidator, t ports.TargetValidator) Option {
	return func(s *Service) {
		s.products = p
		s.targets = t
	}
}

// WithSchema sets the record store collection and field names.
func WithSchema(schema Schema) Option {
	return func(s *Service) {
		s.schema = schema
	}
}

// New creates a Service over a session repository and a record store.
func New(repo SessionRepository, records ports.RecordStore, opts ...Option) *Service {
	v := validation.Default()
	s := &Service{
		repo:         repo,
		records:      records,
		products:     v,
		targets:      v,
		logger:       logging.NewNop(),
		schema:       DefaultSchema(),
		now:          time.Now,
		newID:        uuid.NewString,
		sleep:        retry.Sleep,
		ttl:          DefaultTTL,
		cleanupDelay: DefaultCleanupDelay,
		policy:       retry.DefaultPolicy(),
		timers:       make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy.MaxAttempts < 1 {
		s.policy.MaxAttempts = 1
	}
	return s
}

// Close stops pending cleanups and waits for the running ones.
// Sessions whose cleanup was stopped expire through their TTL.
func (s *Service) Close() {
	s.mu.Lock()
	for id, t := range s.timers {
		if t.Stop() {
			s.cleanups.Done()
		}
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.cleanups.Wait()
}

// Wait blocks until every scheduled cleanup has run.
func (s *Service) Wait() {
	s.cleanups.Wait()
}

func (s *Service) operationID(id string) string {
	if id != "" {
		return id
	}
	return s.newID()
}

// load reads a session and enforces its deadline.
func (s *Service) load(ctx context.Context, op, sessionID, operationID string) (*domain.Session, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.IsExpired(s.now()) {
		s.expire(ctx, sess, operationID)
		return nil, domain.NewError(domain.ErrSessionExpired, op, sessionID, operationID,
			fmt.Sprintf("session expired at %s", sess.ExpiresAt.UTC().Format(time.RFC3339)))
	}
	return sess, nil
}

func (s *Service) expire(ctx context.Context, sess *domain.Session, operationID string) {
	if err := s.repo.MarkExpired(ctx, sess); err != nil {
		s.logger.Warn("Failed to mark session expired",
			"session_id", sess.SessionID,
			"operation_id", operationID,
			"err", err,
		)
	}
	// Terminal sessions keep their state in the event.
	previous := sess.State
	if domain.IsValidTransition(previous, domain.StateExpired) {
		sess.State = domain.StateExpired
	}
	s.publish(ctx, domain.EventSessionExpired, sess, operationID, map[string]any{
		"previous_state": string(previous),
	})
}

// fail converts err into a *domain.Error and logs it with correlation ids.
func (s *Service) fail(ctx context.Context, op, sessionID, operationID string, err error) *domain.Error {
	e := domain.AsError(err, op, sessionID, operationID)
	if e.Op == "" {
		e.Op = op
	}
	if e.SessionID == "" {
		e.SessionID = sessionID
	}

	level := slog.LevelInfo
	switch e.Kind {
	case domain.ErrStoreRead, domain.ErrStoreWrite, domain.ErrRecordStore, domain.ErrCommitFailed:
		level = slog.LevelError
	case domain.ErrConcurrentModification, domain.ErrSessionExpired:
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "Session operation failed",
		"op", op,
		"session_id", sessionID,
		"operation_id", operationID,
		"kind", e.Kind.Error(),
		"err", err,
	)
	return e
}

func (s *Service) publish(ctx context.Context, typ domain.EventType, sess *domain.Session, operationID string, attrs map[string]any) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(ctx, domain.Event{
		Type:        typ,
		Timestamp:   s.now(),
		SessionID:   sess.SessionID,
		OperationID: operationID,
		State:       sess.State,
		Attributes:  attrs,
	})
}

// scheduleCleanup deletes a committed session after the cleanup delay,
// outside of the caller's request.
func (s *Service) scheduleCleanup(sessionID, operationID string) {
	if s.cleanupDelay < 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[sessionID]; ok && old.Stop() {
		s.cleanups.Done()
	}
	s.cleanups.Add(1)
	s.timers[sessionID] = time.AfterFunc(s.cleanupDelay, func() {
		defer s.cleanups.Done()

		s.mu.Lock()
		delete(s.timers, sessionID)
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.repo.DeleteSession(ctx, sessionID); err != nil {
			s.logger.Warn("Deferred session cleanup failed",
				"session_id", sessionID,
				"operation_id", operationID,
				"err", err,
			)
			return
		}
		s.logger.Debug("Committed session cleaned up",
			"session_id", sessionID,
			"operation_id", operationID,
		)
		s.publish(ctx, domain.EventSessionDeleted, &domain.Session{SessionID: sessionID}, operationID, nil)
	})
}
