package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/productflow/pkg/ports"
	"github.com/google/uuid"
)

// FailureFunc decides whether a Create call fails. It receives the collection
// and the 1-based count of Create calls made on that collection so far.
type FailureFunc func(collection string, call int) error

// RecordStore implements ports.RecordStore in memory.
// Safe for concurrent use.
type RecordStore struct {
	mu          sync.Mutex
	collections map[string]map[string]ports.Fields
	calls       map[string]int
	deletes     map[string]int
	failCreate  FailureFunc
	failDelete  FailureFunc
	external    map[string]bool
}

// RecordOption configures a RecordStore.
type RecordOption func(*RecordStore)

// WithCreateFailures injects failures into Create.
func WithCreateFailures(fn FailureFunc) RecordOption {
	return func(r *RecordStore) {
		r.failCreate = fn
	}
}

// WithDeleteFailures injects failures into Delete.
func WithDeleteFailures(fn FailureFunc) RecordOption {
	return func(r *RecordStore) {
		r.failDelete = fn
	}
}

// WithExternal marks collections owned by another system. References into
// them are accepted without a lookup.
func WithExternal(collections ...string) RecordOption {
	return func(r *RecordStore) {
		for _, c := range collections {
			r.external[c] = true
		}
	}
}

// NewRecordStore creates an empty in-memory record store.
func NewRecordStore(opts ...RecordOption) *RecordStore {
	r := &RecordStore{
		collections: make(map[string]map[string]ports.Fields),
		calls:       make(map[string]int),
		deletes:     make(map[string]int),
		external:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create stores a copy of fields under a new uuid.
func (r *RecordStore) Create(ctx context.Context, collection string, fields ports.Fields) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls[collection]++
	if r.failCreate != nil {
		if err := r.failCreate(collection, r.calls[collection]); err != nil {
			return "", err
		}
	}

	for k, v := range fields {
		ref, ok := v.(ports.Reference)
		if !ok || r.external[ref.Collection] {
			continue
		}
		if _, exists := r.collections[ref.Collection][ref.ID]; !exists {
			return "", fmt.Errorf("field %s: %w: %s(%s)", k, ports.ErrRecordNotFound, ref.Collection, ref.ID)
		}
	}

	id := uuid.NewString()
	if r.collections[collection] == nil {
		r.collections[collection] = make(map[string]ports.Fields)
	}
	cp := make(ports.Fields, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	r.collections[collection][id] = cp
	return id, nil
}

// Delete removes a record.
func (r *RecordStore) Delete(ctx context.Context, collection, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deletes[collection]++
	if r.failDelete != nil {
		if err := r.failDelete(collection, r.deletes[collection]); err != nil {
			return err
		}
	}

	if _, ok := r.collections[collection][id]; !ok {
		return ports.ErrRecordNotFound
	}
	delete(r.collections[collection], id)
	return nil
}

// Exists scans the collection for a string field equal to value.
func (r *RecordStore) Exists(ctx context.Context, collection, field, value string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.collections[collection] {
		if v, ok := rec[field]; ok && fmt.Sprint(v) == value {
			return true, nil
		}
	}
	return false, nil
}

// Seed stores a record under a fixed id, bypassing failure injection.
func (r *RecordStore) Seed(collection, id string, fields ports.Fields) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.collections[collection] == nil {
		r.collections[collection] = make(map[string]ports.Fields)
	}
	cp := make(ports.Fields, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	r.collections[collection][id] = cp
}

// Get returns a copy of a stored record.
func (r *RecordStore) Get(collection, id string) (ports.Fields, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.collections[collection][id]
	if !ok {
		return nil, false
	}
	cp := make(ports.Fields, len(rec))
	for k, v := range rec {
		cp[k] = v
	}
	return cp, true
}

// Count returns the number of records in a collection.
func (r *RecordStore) Count(collection string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.collections[collection])
}

// CreateCalls returns how many times Create was called for a collection.
func (r *RecordStore) CreateCalls(collection string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[collection]
}
