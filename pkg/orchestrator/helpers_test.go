package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/productflow/pkg/adapters/memory"
	"github.com/aretw0/productflow/pkg/domain"
	"github.com/aretw0/productflow/pkg/orchestrator"
	"github.com/aretw0/productflow/pkg/retry"
	"github.com/aretw0/productflow/pkg/session"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(_ context.Context, e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) last(typ domain.EventType) (domain.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == typ {
			return r.events[i], true
		}
	}
	return domain.Event{}, false
}

type harness struct {
	svc     *orchestrator.Service
	repo    *session.Repository
	records *memory.RecordStore
	clock   *fakeClock
	events  *recorder

	mu     sync.Mutex
	sleeps []time.Duration
}

// newHarness wires the service over in-memory stores. The key-value store
// keeps real time, so a blob outlives the logical deadline driven by the
// fake clock, the way a lagging store would.
func newHarness(t *testing.T, recordOpts []memory.RecordOption, opts ...orchestrator.Option) *harness {
	t.Helper()

	h := &harness{
		clock:  newFakeClock(),
		events: &recorder{},
	}
	recordOpts = append([]memory.RecordOption{memory.WithExternal("organizations")}, recordOpts...)
	h.records = memory.NewRecordStore(recordOpts...)
	h.repo = session.NewRepository(memory.NewStore(), session.WithClock(h.clock.Now))

	base := []orchestrator.Option{
		orchestrator.WithClock(h.clock.Now),
		orchestrator.WithNotifier(h.events),
		orchestrator.WithCleanupDelay(-1),
		orchestrator.WithRetryPolicy(retry.FixedPolicy(3, 100*time.Millisecond)),
		orchestrator.WithSleeper(func(_ context.Context, d time.Duration) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.sleeps = append(h.sleeps, d)
			return nil
		}),
	}
	h.svc = orchestrator.New(h.repo, h.records, append(base, opts...)...)
	t.Cleanup(h.svc.Close)
	return h
}

func (h *harness) create(t *testing.T) *domain.Session {
	t.Helper()
	sess, err := h.svc.CreateSession(context.Background(), orchestrator.CreateRequest{
		UserID:           "user-1",
		Privilege:        domain.PrivilegeAdmin,
		OrganizationGUID: "org-1",
		OperationID:      "op-create",
	})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return sess
}

func (h *harness) withProduct(t *testing.T, code string) *domain.Session {
	t.Helper()
	sess := h.create(t)
	if _, err := h.svc.AddProductData(context.Background(), sess.SessionID, validProduct(code), "op-product"); err != nil {
		t.Fatalf("AddProductData failed: %v", err)
	}
	return sess
}

func validProduct(code string) domain.ProductData {
	price := 49.9
	return domain.ProductData{
		ProductCode: code,
		Name:        "Gold membership",
		ProductType: "MEMBERSHIP",
		Price:       &price,
		Currency:    "EUR",
	}
}

func ptr[T any](v T) *T {
	return &v
}
