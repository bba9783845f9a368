package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/productflow/pkg/adapters/memory"
	"github.com/aretw0/productflow/pkg/domain"
	"github.com/aretw0/productflow/pkg/orchestrator"
	"github.com/aretw0/productflow/pkg/ports"
	"github.com/aretw0/productflow/pkg/retry"
	"github.com/aretw0/productflow/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	handler http.Handler
	records *memory.RecordStore
	streams *StreamManager
	now     time.Time
}

func newTestAPI(t *testing.T, recordOpts ...memory.RecordOption) *testAPI {
	t.Helper()
	api := &testAPI{
		now:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		streams: NewStreamManager(nil),
	}
	clock := func() time.Time { return api.now }

	api.records = memory.NewRecordStore(append([]memory.RecordOption{memory.WithExternal("organizations")}, recordOpts...)...)
	repo := session.NewRepository(memory.NewStore(), session.WithClock(clock))
	svc := orchestrator.New(repo, api.records,
		orchestrator.WithClock(clock),
		orchestrator.WithCleanupDelay(-1),
		orchestrator.WithRetryPolicy(retry.FixedPolicy(2, 0)),
		orchestrator.WithNotifier(api.streams),
	)
	t.Cleanup(svc.Close)

	api.handler = NewHandler(svc, WithStreams(api.streams))
	return api
}

func (a *testAPI) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w
}

func adminHeaders() map[string]string {
	return map[string]string{
		HeaderUserID:       "user-1",
		HeaderPrivilege:    "ADMIN",
		HeaderOrganization: "org-1",
		HeaderOperationID:  "op-1",
	}
}

func (a *testAPI) createSession(t *testing.T) string {
	t.Helper()
	w := a.do(t, "POST", "/sessions", nil, adminHeaders())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var sess domain.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	return sess.SessionID
}

func productBody(code string) map[string]any {
	return map[string]any{
		"productCode": code,
		"name":        "Gold membership",
		"productType": "MEMBERSHIP",
		"price":       49.9,
		"currency":    "EUR",
		"maxMembers":  4,
		"validFrom":   "2026-04-01T00:00:00Z",
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestSessionFlow(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, "POST", "/sessions", nil, adminHeaders())
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "op-1", w.Header().Get(HeaderOperationID))

	var sess domain.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, domain.StateInitiated, sess.State)
	id := sess.SessionID

	body := productBody("GOLD-2026")
	body["organization@odata.bind"] = "/organizations(other-org)"
	w = api.do(t, "POST", "/sessions/"+id+"/product", body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, domain.StateProductAdded, sess.State)
	assert.Equal(t, 4, *sess.ProductData.MaxMembers)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), sess.ProductData.ValidFrom.UTC())
	assert.NotEmpty(t, w.Header().Get(HeaderOperationID), "operation id generated when absent")

	w = api.do(t, "POST", "/sessions/"+id+"/target", map[string]any{
		"minAge":  21,
		"regions": []string{"NORTH"},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = api.do(t, "POST", "/sessions/"+id+"/commit", nil, map[string]string{HeaderOperationID: "op-commit"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result domain.CommitResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "op-commit", result.OperationID)

	product, ok := api.records.Get("products", result.ProductID)
	require.True(t, ok)
	assert.Equal(t, ports.Reference{Collection: "organizations", ID: "org-1"}, product["organization"],
		"caller payload cannot rebind the organization")

	w = api.do(t, "POST", "/sessions/"+id+"/complete", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = api.do(t, "GET", "/sessions/"+id, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, domain.StateCompleted, sess.State)
}

func TestCreateSession_Forbidden(t *testing.T) {
	api := newTestAPI(t)
	headers := adminHeaders()
	headers[HeaderPrivilege] = "MEMBER"

	w := api.do(t, "POST", "/sessions", nil, headers)
	assert.Equal(t, http.StatusForbidden, w.Code)

	resp := decodeError(t, w)
	assert.Equal(t, domain.ErrForbidden.Error(), resp.Kind)
	assert.Equal(t, "op-1", resp.OperationID)
}

func TestGetSession_NotFound(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, "GET", "/sessions/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, domain.ErrSessionNotFound.Error(), decodeError(t, w).Kind)
}

func TestGetSession_Expired(t *testing.T) {
	api := newTestAPI(t)
	id := api.createSession(t)

	api.now = api.now.Add(orchestrator.DefaultTTL)

	w := api.do(t, "GET", "/sessions/"+id, nil, nil)
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, domain.ErrSessionExpired.Error(), decodeError(t, w).Kind)
}

func TestAddProduct_Validation(t *testing.T) {
	api := newTestAPI(t)
	id := api.createSession(t)

	w := api.do(t, "POST", "/sessions/"+id+"/product", map[string]any{"productCode": "x"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	resp := decodeError(t, w)
	assert.Equal(t, domain.ErrValidation.Error(), resp.Kind)
	assert.GreaterOrEqual(t, len(resp.Details), 3)
}

func TestAddProduct_BadBody(t *testing.T) {
	api := newTestAPI(t)
	id := api.createSession(t)

	req := httptest.NewRequest("POST", "/sessions/"+id+"/product", strings.NewReader("[1,2"))
	w := httptest.NewRecorder()
	api.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = api.do(t, "POST", "/sessions/"+id+"/product", map[string]any{"maxMembers": "many"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestAddTarget_BeforeProduct(t *testing.T) {
	api := newTestAPI(t)
	id := api.createSession(t)

	w := api.do(t, "POST", "/sessions/"+id+"/target", map[string]any{"minAge": 18}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, domain.ErrPreconditionFailed.Error(), decodeError(t, w).Kind)
}

func TestCommit_Failure(t *testing.T) {
	api := newTestAPI(t, memory.WithCreateFailures(func(string, int) error {
		return errors.New("record service down")
	}))
	id := api.createSession(t)
	w := api.do(t, "POST", "/sessions/"+id+"/product", productBody("GOLD-2026"), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = api.do(t, "POST", "/sessions/"+id+"/commit", nil, nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	resp := decodeError(t, w)
	assert.Equal(t, domain.ErrCommitFailed.Error(), resp.Kind)
	require.NotNil(t, resp.Result)
	assert.False(t, resp.Result.Success)
	assert.Equal(t, 2, resp.Result.Attempts)
}

func TestCancelSession(t *testing.T) {
	api := newTestAPI(t)
	id := api.createSession(t)

	w := api.do(t, "DELETE", "/sessions/"+id+"?reason=duplicate", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var sess domain.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, domain.StateFailed, sess.State)
	assert.Equal(t, []string{"duplicate"}, sess.Errors)
}

func TestStatusCode(t *testing.T) {
	cases := map[error]int{
		domain.ErrForbidden:              http.StatusForbidden,
		domain.ErrSessionNotFound:        http.StatusNotFound,
		domain.ErrSessionExpired:         http.StatusGone,
		domain.ErrInvalidTransition:      http.StatusConflict,
		domain.ErrInvalidState:           http.StatusConflict,
		domain.ErrPreconditionFailed:     http.StatusConflict,
		domain.ErrConflict:               http.StatusConflict,
		domain.ErrConcurrentModification: http.StatusConflict,
		domain.ErrValidation:             http.StatusUnprocessableEntity,
		domain.ErrCommitFailed:           http.StatusBadGateway,
		domain.ErrStoreRead:              http.StatusServiceUnavailable,
		domain.ErrStoreWrite:             http.StatusServiceUnavailable,
		domain.ErrRecordStore:            http.StatusServiceUnavailable,
		errors.New("boom"):               http.StatusInternalServerError,
	}
	for err, want := range cases {
		wrapped := domain.NewError(err, "op", "s", "o")
		if domain.KindOf(err) == nil {
			assert.Equal(t, want, StatusCode(err))
			continue
		}
		assert.Equal(t, want, StatusCode(wrapped), err.Error())
	}
}

func TestHealthAndInfo(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, "GET", "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = api.do(t, "GET", "/info", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "productflow-http")
}

func TestSubscribeEvents(t *testing.T) {
	api := newTestAPI(t)
	id := api.createSession(t)

	srv := httptest.NewServer(api.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/sessions/"+id+"/events?types=session.product_added", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	require.Equal(t, "event: ping", <-lines)

	w := api.do(t, "POST", "/sessions/"+id+"/product", productBody("GOLD-2026"), nil)
	require.Equal(t, http.StatusOK, w.Code)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed early")
			if line == "event: session.product_added" {
				return
			}
		case <-deadline:
			t.Fatal("Expected product_added event in SSE output")
		}
	}
}

func TestStreamManager_Close(t *testing.T) {
	sm := NewStreamManager(nil)
	ch, cancel := sm.Subscribe("s1")
	other, cancelOther := sm.Subscribe("s2")
	defer cancelOther()

	sm.Broadcast("s1", "last")
	sm.Close("s1")

	assert.Equal(t, "last", <-ch, "buffered messages survive the close")
	_, ok := <-ch
	assert.False(t, ok)
	assert.NotPanics(t, cancel, "unsubscribing after close is a no-op")

	again, cancelAgain := sm.Subscribe("s1")
	defer cancelAgain()
	sm.Broadcast("s1", "fresh")
	assert.Equal(t, "fresh", <-again)

	sm.Broadcast("s2", "kept")
	assert.Equal(t, "kept", <-other)
}
