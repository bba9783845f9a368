package ports

import (
	"context"
	"errors"
)

// ErrRecordNotFound is returned when a record id does not exist in its collection.
var ErrRecordNotFound = errors.New("record not found")

// Fields is the attribute map of a record.
// A Reference value binds the attribute to another record.
type Fields map[string]any

// Reference points at a record of another collection (a foreign key binding).
type Reference struct {
	Collection string
	ID         string
}

// RecordStore defines the remote system of record.
type RecordStore interface {
	// Create inserts a record and returns its generated id.
	Create(ctx context.Context, collection string, fields Fields) (string, error)

	// Delete removes a record. Used to compensate partial commits.
	// Returns ErrRecordNotFound if the record does not exist.
	Delete(ctx context.Context, collection, id string) error

	// Exists reports whether a record with field == value exists.
	Exists(ctx context.Context, collection, field string, value string) (bool, error)
}
