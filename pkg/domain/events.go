package domain

import (
	"context"
	"time"
)

// EventType names a workflow notification.
type EventType string

const (
	EventSessionCreated  EventType = "session.created"
	EventProductAdded    EventType = "session.product_added"
	EventTargetAdded     EventType = "session.target_configured"
	EventCommitStarted   EventType = "session.commit_started"
	EventCommitAttempt   EventType = "session.commit_attempt_failed"
	EventCompensation    EventType = "session.compensation"
	EventCommitSucceeded EventType = "session.commit_succeeded"
	EventCommitFailed    EventType = "session.commit_failed"
	EventSessionExpired  EventType = "session.expired"
	EventSessionDeleted  EventType = "session.deleted"
	EventSessionClosed   EventType = "session.closed"
)

// Event is a fire-and-forget notification emitted by the orchestrator.
type Event struct {
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	SessionID   string         `json:"session_id"`
	OperationID string         `json:"operation_id"`
	State       SessionState   `json:"state,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// LifecycleHooks defines callbacks for workflow observability.
// Nil callbacks are skipped.
type LifecycleHooks struct {
	OnSessionCreated func(context.Context, *Event)
	OnStepCompleted  func(context.Context, *Event)
	OnCommitStarted  func(context.Context, *Event)
	OnCommitFinished func(context.Context, *Event)
	OnSessionClosed  func(context.Context, *Event)
}
