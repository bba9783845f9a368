package mcp

import (
	"context"
	"testing"

	"github.com/aretw0/productflow/pkg/adapters/memory"
	"github.com/aretw0/productflow/pkg/domain"
	"github.com/aretw0/productflow/pkg/orchestrator"
	"github.com/aretw0/productflow/pkg/session"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *memory.RecordStore) {
	t.Helper()
	records := memory.NewRecordStore(memory.WithExternal("organizations"))
	svc := orchestrator.New(session.NewRepository(memory.NewStore()), records,
		orchestrator.WithCleanupDelay(-1))
	t.Cleanup(svc.Close)
	return NewServer(svc, nil), records
}

func TestTools_Flow(t *testing.T) {
	s, records := newTestServer(t)
	ctx := context.Background()
	req := mcp.CallToolRequest{}

	sess, err := s.handleCreateSession(ctx, req, map[string]interface{}{
		"user_id":         "user-1",
		"privilege":       "MAIN",
		"organization_id": "org-1",
		"operation_id":    "op-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateInitiated, sess.State)

	sess, err = s.handleAddProduct(ctx, req, map[string]interface{}{
		"session_id": sess.SessionID,
		"product": map[string]interface{}{
			"productCode": "GOLD-2026",
			"name":        "Gold membership",
			"productType": "MEMBERSHIP",
			"maxMembers":  float64(2),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateProductAdded, sess.State)
	assert.Equal(t, 2, *sess.ProductData.MaxMembers)

	sess, err = s.handleAddTarget(ctx, req, map[string]interface{}{
		"session_id": sess.SessionID,
		"target":     `{"regions":["NORTH"]}`,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"NORTH"}, sess.TargetData.Regions)

	result, err := s.handleCommit(ctx, req, map[string]interface{}{"session_id": sess.SessionID})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, records.Count("products"))

	got, err := s.handleGetSession(ctx, req, map[string]interface{}{"session_id": sess.SessionID})
	require.NoError(t, err)
	assert.Equal(t, domain.StateCommitted, got.State)
}

func TestTools_ErrorsCarryKind(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	_, err := s.handleCreateSession(ctx, mcp.CallToolRequest{}, map[string]interface{}{
		"user_id":   "user-1",
		"privilege": "MEMBER",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Contains(t, err.Error(), "[forbidden]")

	_, err = s.handleGetSession(ctx, mcp.CallToolRequest{}, map[string]interface{}{"session_id": "missing"})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestTools_BadPayload(t *testing.T) {
	s, _ := newTestServer(t)

	_, err := s.handleAddProduct(context.Background(), mcp.CallToolRequest{}, map[string]interface{}{
		"session_id": "any",
		"product":    42,
	})
	assert.ErrorContains(t, err, "product must be an object")

	_, err = s.handleAddTarget(context.Background(), mcp.CallToolRequest{}, map[string]interface{}{
		"session_id": "any",
		"target":     "{not json",
	})
	assert.ErrorContains(t, err, "target must be a JSON object")
}

func TestStateTable(t *testing.T) {
	table := stateTable()
	assert.Len(t, table, len(domain.AllStates))
	assert.ElementsMatch(t,
		[]domain.SessionState{domain.StateTargetConfigured, domain.StateCommitted, domain.StateFailed, domain.StateExpired},
		table[domain.StateProductAdded])
	assert.Empty(t, table[domain.StateCompleted])
}
