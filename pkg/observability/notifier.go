package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/productflow/pkg/domain"
	"github.com/aretw0/productflow/pkg/ports"
)

// LogNotifier writes every event as a structured log line.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier logging at Info level (Warn for failures).
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Publish implements ports.Notifier.
func (n *LogNotifier) Publish(ctx context.Context, e domain.Event) {
	attrs := []any{
		"event", string(e.Type),
		"session_id", e.SessionID,
		"operation_id", e.OperationID,
	}
	if e.State != "" {
		attrs = append(attrs, "state", string(e.State))
	}
	for k, v := range e.Attributes {
		attrs = append(attrs, k, v)
	}

	level := slog.LevelInfo
	switch e.Type {
	case domain.EventCommitFailed, domain.EventCommitAttempt, domain.EventCompensation:
		level = slog.LevelWarn
	}
	n.logger.Log(ctx, level, "workflow event", attrs...)
}

// Hooks dispatches events to lifecycle callbacks.
type Hooks struct {
	hooks domain.LifecycleHooks
}

// NewHooks wraps lifecycle callbacks as a notifier.
func NewHooks(hooks domain.LifecycleHooks) *Hooks {
	return &Hooks{hooks: hooks}
}

// Publish implements ports.Notifier.
func (h *Hooks) Publish(ctx context.Context, e domain.Event) {
	var fn func(context.Context, *domain.Event)
	switch e.Type {
	case domain.EventSessionCreated:
		fn = h.hooks.OnSessionCreated
	case domain.EventProductAdded, domain.EventTargetAdded:
		fn = h.hooks.OnStepCompleted
	case domain.EventCommitStarted:
		fn = h.hooks.OnCommitStarted
	case domain.EventCommitSucceeded, domain.EventCommitFailed:
		fn = h.hooks.OnCommitFinished
	case domain.EventSessionExpired, domain.EventSessionDeleted, domain.EventSessionClosed:
		fn = h.hooks.OnSessionClosed
	}
	if fn != nil {
		fn(ctx, &e)
	}
}

// Multi fans an event out to several notifiers. A panicking notifier is
// recovered and logged so the remaining ones still receive the event.
type Multi struct {
	notifiers []ports.Notifier
	logger    *slog.Logger
}

// NewMulti creates a fan-out notifier. Nil notifiers are skipped.
func NewMulti(logger *slog.Logger, notifiers ...ports.Notifier) *Multi {
	m := &Multi{logger: logger}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Publish implements ports.Notifier.
func (m *Multi) Publish(ctx context.Context, e domain.Event) {
	for _, n := range m.notifiers {
		m.publishOne(ctx, n, e)
	}
}

func (m *Multi) publishOne(ctx context.Context, n ports.Notifier, e domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Notifier panicked",
				"event", string(e.Type),
				"session_id", e.SessionID,
				"panic", r,
			)
		}
	}()
	n.Publish(ctx, e)
}

// Nop discards every event.
type Nop struct{}

// Publish implements ports.Notifier.
func (Nop) Publish(context.Context, domain.Event) {}
