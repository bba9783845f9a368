package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Every failure returned by the workflow matches exactly one
// of these through errors.Is.
var (
	// ErrForbidden is returned when the caller lacks the privilege for an operation.
	ErrForbidden = errors.New("forbidden")

	// ErrSessionNotFound is returned when a session ID cannot be found in the store.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when a session exists but its deadline has passed.
	ErrSessionExpired = errors.New("session expired")

	// ErrInvalidTransition is returned when a state change is not in the transition table.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrPreconditionFailed is returned when a data-level precondition is not met.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrValidation is returned when a payload fails validation.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when a natural key already exists in the record store.
	ErrConflict = errors.New("conflict")

	// ErrInvalidState is returned when a commit is attempted from a non-committable state.
	ErrInvalidState = errors.New("invalid state")

	// ErrCommitFailed is returned when every commit attempt failed.
	ErrCommitFailed = errors.New("commit failed")

	// ErrStoreWrite is returned when the session store rejects a write.
	ErrStoreWrite = errors.New("session store write failed")

	// ErrStoreRead is returned when the session store cannot be read.
	ErrStoreRead = errors.New("session store read failed")

	// ErrConcurrentModification is returned when a save carries a stale version stamp.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrRecordStore is returned when the record store cannot answer a non-commit query.
	ErrRecordStore = errors.New("record store unavailable")
)

var kinds = []error{
	ErrForbidden,
	ErrSessionNotFound,
	ErrSessionExpired,
	ErrInvalidTransition,
	ErrPreconditionFailed,
	ErrValidation,
	ErrConflict,
	ErrInvalidState,
	ErrCommitFailed,
	ErrStoreWrite,
	ErrStoreRead,
	ErrConcurrentModification,
	ErrRecordStore,
}

// Error is a typed workflow failure carrying correlation data.
type Error struct {
	Kind        error    // one of the sentinel errors above
	Op          string   // operation that failed, e.g. "commit_session"
	SessionID   string   // empty for CreateSession failures
	OperationID string   // correlation token supplied by the caller
	Details     []string // field errors, conflicting keys, attempt errors
	Err         error    // underlying cause, if any
}

// NewError builds an Error of the given kind.
func NewError(kind error, op, sessionID, operationID string, details ...string) *Error {
	return &Error{
		Kind:        kind,
		Op:          op,
		SessionID:   sessionID,
		OperationID: operationID,
		Details:     details,
	}
}

// Wrap attaches an underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if len(e.Details) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Details, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, " (%v)", e.Err)
	}
	if e.OperationID != "" {
		fmt.Fprintf(&b, " [operation %s]", e.OperationID)
	}
	return b.String()
}

// Is matches the error's kind.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the sentinel matched by err, or nil when err is not a workflow error.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// AsError converts err into an *Error, keeping it as is when it already is one.
// Errors that match no kind are reported as store read failures.
func AsError(err error, op, sessionID, operationID string) *Error {
	var e *Error
	if errors.As(err, &e) {
		if e.OperationID == "" {
			e.OperationID = operationID
		}
		return e
	}
	kind := KindOf(err)
	if kind == nil {
		kind = ErrStoreRead
	}
	return NewError(kind, op, sessionID, operationID).Wrap(err)
}
