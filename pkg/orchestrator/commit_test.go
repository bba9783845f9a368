package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/productflow/pkg/adapters/memory"
	"github.com/aretw0/productflow/pkg/adapters/redis"
	"github.com/aretw0/productflow/pkg/domain"
	"github.com/aretw0/productflow/pkg/orchestrator"
	"github.com/aretw0/productflow/pkg/ports"
	"github.com/aretw0/productflow/pkg/retry"
	"github.com/aretw0/productflow/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUnavailable = errors.New("record service unavailable")

func failOn(collection string, calls ...int) memory.FailureFunc {
	return func(c string, call int) error {
		if c != collection {
			return nil
		}
		for _, n := range calls {
			if n == call || n < 0 {
				return errUnavailable
			}
		}
		return nil
	}
}

const always = -1

func TestCommitSession_HappyPath(t *testing.T) {
	h := newHarness(t, nil)
	sess := h.withProduct(t, "GOLD-2026")
	_, err := h.svc.AddTargetData(context.Background(), sess.SessionID, domain.TargetConfig{
		MinAge:      ptr(18),
		MemberTypes: []string{"FAMILY", "SINGLE"},
	}, "op-3")
	require.NoError(t, err)

	result, err := h.svc.CommitSession(context.Background(), sess.SessionID, "op-4")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, "op-4", result.OperationID)
	assert.Empty(t, result.Errors)

	product, ok := h.records.Get("products", result.ProductID)
	require.True(t, ok)
	assert.Equal(t, "GOLD-2026", product["productcode"])
	assert.Equal(t, "user-1", product["createdby"])
	assert.Equal(t, ports.Reference{Collection: "organizations", ID: "org-1"}, product["organization"])

	target, ok := h.records.Get("product_targets", result.TargetID)
	require.True(t, ok)
	assert.Equal(t, ports.Reference{Collection: "products", ID: result.ProductID}, target["product"])
	assert.Equal(t, 18, target["minage"])
	assert.Equal(t, "FAMILY,SINGLE", target["membertypes"])
	assert.Nil(t, target["maxage"])

	stored, err := h.svc.GetSessionProgress(context.Background(), sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCommitted, stored.State)
	require.NotNil(t, stored.CommitResult)
	assert.Equal(t, result.ProductID, stored.CommitResult.ProductID)
	assert.Equal(t, result.TargetID, stored.CommitResult.TargetID)

	assert.Equal(t, []domain.EventType{
		domain.EventSessionCreated,
		domain.EventProductAdded,
		domain.EventTargetAdded,
		domain.EventCommitStarted,
		domain.EventCommitSucceeded,
	}, h.events.types())

	ev, _ := h.events.last(domain.EventCommitSucceeded)
	assert.Equal(t, 1, ev.Attributes["attempts"])
}

func TestCommitSession_SkippedTargetUsesDefault(t *testing.T) {
	h := newHarness(t, nil)
	sess := h.withProduct(t, "GOLD-2026")

	result, err := h.svc.CommitSession(context.Background(), sess.SessionID, "op-3")
	require.NoError(t, err)
	require.NotEmpty(t, result.TargetID, "the target record is never omitted")

	target, ok := h.records.Get("product_targets", result.TargetID)
	require.True(t, ok)
	for _, field := range []string{"minage", "maxage", "gender", "membertypes", "regions", "membershipstatus", "mintenuremonths"} {
		v, present := target[field]
		assert.True(t, present, "field %s written", field)
		assert.Nil(t, v, "field %s unrestricted", field)
	}
}

func TestCommitSession_ProductBeforeTarget(t *testing.T) {
	h := newHarness(t, []memory.RecordOption{memory.WithCreateFailures(failOn("products", always))})
	sess := h.withProduct(t, "GOLD-2026")

	_, err := h.svc.CommitSession(context.Background(), sess.SessionID, "op-3")
	require.ErrorIs(t, err, domain.ErrCommitFailed)

	assert.Equal(t, 3, h.records.CreateCalls("products"))
	assert.Zero(t, h.records.CreateCalls("product_targets"), "no target without a product")
}

func TestCommitSession_RetriesThenSucceeds(t *testing.T) {
	h := newHarness(t, []memory.RecordOption{memory.WithCreateFailures(failOn("products", 1, 2))})
	sess := h.withProduct(t, "GOLD-2026")

	result, err := h.svc.CommitSession(context.Background(), sess.SessionID, "op-3")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Len(t, result.Errors, 2)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}, h.sleeps)
	assert.Equal(t, 1, h.records.Count("products"))
}

func TestCommitSession_Exhausted(t *testing.T) {
	h := newHarness(t, []memory.RecordOption{memory.WithCreateFailures(failOn("products", always))})
	sess := h.withProduct(t, "GOLD-2026")

	result, err := h.svc.CommitSession(context.Background(), sess.SessionID, "op-3")
	require.ErrorIs(t, err, domain.ErrCommitFailed)

	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "attempt 1")
	assert.Contains(t, result.Errors[0], errUnavailable.Error())
	assert.Len(t, h.sleeps, 2, "no wait after the last attempt")

	var e *domain.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "op-3", e.OperationID)
	assert.Len(t, e.Details, 3)

	stored, err := h.svc.GetSessionProgress(context.Background(), sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, stored.State)
	assert.Len(t, stored.Errors, 3)
	assert.Nil(t, stored.CommitResult)

	ev, ok := h.events.last(domain.EventCommitFailed)
	require.True(t, ok)
	assert.Equal(t, 3, ev.Attributes["attempts"])
}

func TestCommitSession_RetryBoundFromPolicy(t *testing.T) {
	h := newHarness(t, []memory.RecordOption{memory.WithCreateFailures(failOn("products", always))},
		orchestrator.WithRetryPolicy(retry.FixedPolicy(5, time.Millisecond)))
	sess := h.withProduct(t, "GOLD-2026")

	result, err := h.svc.CommitSession(context.Background(), sess.SessionID, "op-3")
	require.Error(t, err)
	assert.Equal(t, 5, result.Attempts)
}

func TestCommitSession_CompensatesOrphanedProduct(t *testing.T) {
	h := newHarness(t, []memory.RecordOption{memory.WithCreateFailures(failOn("product_targets", 1))})
	sess := h.withProduct(t, "GOLD-2026")

	result, err := h.svc.CommitSession(context.Background(), sess.SessionID, "op-3")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Attempts)
	assert.Empty(t, result.OrphanedProductIDs)
	assert.Equal(t, 1, h.records.Count("products"), "first product was rolled back")
	assert.Equal(t, 2, h.records.CreateCalls("products"))
	assert.Contains(t, result.Errors[0], "rolled back")

	ev, ok := h.events.last(domain.EventCompensation)
	require.True(t, ok)
	assert.Equal(t, false, ev.Attributes["failed"])
}

func TestCommitSession_CompensationFailureRecordsOrphans(t *testing.T) {
	h := newHarness(t, []memory.RecordOption{
		memory.WithCreateFailures(failOn("product_targets", always)),
		memory.WithDeleteFailures(failOn("products", always)),
	})
	sess := h.withProduct(t, "GOLD-2026")

	result, err := h.svc.CommitSession(context.Background(), sess.SessionID, "op-3")
	require.ErrorIs(t, err, domain.ErrCommitFailed)

	require.Len(t, result.OrphanedProductIDs, 3)
	assert.Equal(t, 3, h.records.Count("products"))
	for _, id := range result.OrphanedProductIDs {
		_, ok := h.records.Get("products", id)
		assert.True(t, ok)
	}

	var e *domain.Error
	require.True(t, errors.As(err, &e))
	assert.Contains(t, e.Details[len(e.Details)-1], result.OrphanedProductIDs[2])

	stored, err := h.svc.GetSessionProgress(context.Background(), sess.SessionID)
	require.NoError(t, err)
	for i, msg := range stored.Errors {
		assert.Contains(t, msg, result.OrphanedProductIDs[i], "orphan id recorded in the session errors")
	}
}

func TestCommitSession_Preconditions(t *testing.T) {
	t.Run("no product data", func(t *testing.T) {
		h := newHarness(t, nil)
		sess := h.create(t)

		_, err := h.svc.CommitSession(context.Background(), sess.SessionID, "op-2")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("no organization", func(t *testing.T) {
		h := newHarness(t, nil)
		sess, err := h.svc.CreateSession(context.Background(), orchestrator.CreateRequest{
			UserID:    "user-1",
			Privilege: domain.PrivilegeMain,
		})
		require.NoError(t, err)
		_, err = h.svc.AddProductData(context.Background(), sess.SessionID, validProduct("GOLD-2026"), "")
		require.NoError(t, err)

		_, err = h.svc.CommitSession(context.Background(), sess.SessionID, "op-3")
		require.ErrorIs(t, err, domain.ErrValidation)

		var e *domain.Error
		require.True(t, errors.As(err, &e))
		assert.Equal(t, []string{"organizationGuid is required"}, e.Details)
	})

	t.Run("already committed", func(t *testing.T) {
		h := newHarness(t, nil)
		sess := h.withProduct(t, "GOLD-2026")
		_, err := h.svc.CommitSession(context.Background(), sess.SessionID, "op-3")
		require.NoError(t, err)

		_, err = h.svc.CommitSession(context.Background(), sess.SessionID, "op-4")
		assert.ErrorIs(t, err, domain.ErrInvalidState)
		assert.Equal(t, 1, h.records.Count("products"))
	})

	t.Run("expired", func(t *testing.T) {
		h := newHarness(t, nil)
		sess := h.withProduct(t, "GOLD-2026")
		h.clock.Advance(orchestrator.DefaultTTL + time.Minute)

		_, err := h.svc.CommitSession(context.Background(), sess.SessionID, "op-3")
		assert.ErrorIs(t, err, domain.ErrSessionExpired)
		assert.Zero(t, h.records.CreateCalls("products"))
	})
}

func TestCommitSession_IgnoresCallerCancellation(t *testing.T) {
	h := newHarness(t, []memory.RecordOption{memory.WithCreateFailures(failOn("products", 1))},
		orchestrator.WithSleeper(retry.Sleep),
		orchestrator.WithRetryPolicy(retry.FixedPolicy(3, time.Millisecond)))
	sess := h.withProduct(t, "GOLD-2026")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := h.svc.CommitSession(ctx, sess.SessionID, "op-3")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempts)
}

func TestCommitSession_DeferredCleanup(t *testing.T) {
	h := newHarness(t, nil, orchestrator.WithCleanupDelay(10*time.Millisecond))
	sess := h.withProduct(t, "GOLD-2026")

	_, err := h.svc.CommitSession(context.Background(), sess.SessionID, "op-3")
	require.NoError(t, err)

	stored, err := h.svc.GetSessionProgress(context.Background(), sess.SessionID)
	require.NoError(t, err, "committed session is readable until cleanup")
	assert.Equal(t, domain.StateCommitted, stored.State)

	h.svc.Wait()

	_, err = h.svc.GetSessionProgress(context.Background(), sess.SessionID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, ok := h.events.last(domain.EventSessionDeleted)
	assert.True(t, ok)
}

func TestCommitSession_CloseStopsPendingCleanup(t *testing.T) {
	h := newHarness(t, nil, orchestrator.WithCleanupDelay(time.Hour))
	sess := h.withProduct(t, "GOLD-2026")

	_, err := h.svc.CommitSession(context.Background(), sess.SessionID, "op-3")
	require.NoError(t, err)

	h.svc.Close()

	_, err = h.repo.GetSession(context.Background(), sess.SessionID)
	assert.NoError(t, err, "session is left to its TTL")
}

func TestCommitSession_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	store := redis.New(mr.Addr(), "", 0)
	defer store.Close()

	clock := newFakeClock()
	records := memory.NewRecordStore(memory.WithExternal("organizations"))
	repo := session.NewRepository(store, session.WithClock(clock.Now))
	svc := orchestrator.New(repo, records,
		orchestrator.WithClock(clock.Now),
		orchestrator.WithCleanupDelay(-1),
		orchestrator.WithTTL(10*time.Minute),
	)
	defer svc.Close()

	ctx := context.Background()
	sess, err := svc.CreateSession(ctx, orchestrator.CreateRequest{
		UserID:           "user-1",
		Privilege:        domain.PrivilegeAdmin,
		OrganizationGUID: "org-1",
	})
	require.NoError(t, err)

	key := "productflow:session:" + sess.SessionID
	assert.Equal(t, 10*time.Minute+session.DefaultExpiryGrace, mr.TTL(key))

	clock.Advance(4 * time.Minute)
	mr.FastForward(4 * time.Minute)
	_, err = svc.AddProductData(ctx, sess.SessionID, validProduct("GOLD-2026"), "")
	require.NoError(t, err)
	assert.Equal(t, 6*time.Minute+session.DefaultExpiryGrace, mr.TTL(key), "writes keep the original deadline")

	result, err := svc.CommitSession(ctx, sess.SessionID, "")
	require.NoError(t, err)
	assert.True(t, result.Success)

	clock.Advance(6 * time.Minute)
	mr.FastForward(6 * time.Minute)
	_, err = svc.CommitSession(ctx, sess.SessionID, "")
	require.ErrorIs(t, err, domain.ErrSessionExpired)
	assert.NotErrorIs(t, err, domain.ErrSessionNotFound)

	assert.False(t, mr.Exists(key), "blob is dropped on the first expired read")
	assert.True(t, mr.Exists(key+":expired"))

	_, err = svc.GetSessionProgress(ctx, sess.SessionID)
	assert.ErrorIs(t, err, domain.ErrSessionExpired, "repeated reads stay expired")

	mr.FastForward(session.DefaultExpiryGrace)
	_, err = svc.GetSessionProgress(ctx, sess.SessionID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound, "tombstone lapses after the grace")
}

func TestCommitSession_ExpiredAfterDeadline(t *testing.T) {
	stores := map[string]func(t *testing.T) ports.KeyValueStore{
		"memory": func(t *testing.T) ports.KeyValueStore {
			return memory.NewStore()
		},
		"redis": func(t *testing.T) ports.KeyValueStore {
			mr := miniredis.RunT(t)
			store := redis.New(mr.Addr(), "", 0)
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			repo := session.NewRepository(open(t))
			svc := orchestrator.New(repo, memory.NewRecordStore(memory.WithExternal("organizations")),
				orchestrator.WithTTL(time.Second),
				orchestrator.WithCleanupDelay(-1),
			)
			t.Cleanup(svc.Close)

			ctx := context.Background()
			sess, err := svc.CreateSession(ctx, orchestrator.CreateRequest{
				UserID:           "user-1",
				Privilege:        domain.PrivilegeAdmin,
				OrganizationGUID: "org-1",
			})
			require.NoError(t, err)
			_, err = svc.AddProductData(ctx, sess.SessionID, validProduct("GOLD-2026"), "")
			require.NoError(t, err)

			time.Sleep(1500 * time.Millisecond)

			_, err = svc.CommitSession(ctx, sess.SessionID, "")
			require.ErrorIs(t, err, domain.ErrSessionExpired)
			assert.NotErrorIs(t, err, domain.ErrSessionNotFound)

			_, err = svc.CommitSession(ctx, sess.SessionID, "")
			assert.ErrorIs(t, err, domain.ErrSessionExpired, "second read after expiry")
		})
	}
}

func TestConcurrentProductWrites(t *testing.T) {
	h := newHarness(t, nil)
	sess := h.create(t)

	const writers = 6
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			_, err := h.svc.AddProductData(context.Background(), sess.SessionID, validProduct(fmt.Sprintf("CODE-%d", i)), "")
			errs <- err
		}(i)
	}

	succeeded := 0
	for i := 0; i < writers; i++ {
		err := <-errs
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t,
			errors.Is(err, domain.ErrConcurrentModification) || errors.Is(err, domain.ErrInvalidTransition),
			"unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded, "exactly one writer wins")
}
