package orchestrator

import (
	"context"
	"fmt"

	"github.com/aretw0/productflow/pkg/domain"
)

// CreateRequest carries the caller context captured by a new session.
type CreateRequest struct {
	UserID           string
	Privilege        domain.Privilege
	OrganizationGUID string
	OperationID      string
}

// CreateSession starts an INITIATED session. Only ADMIN and MAIN callers may
// create sessions.
func (s *Service) CreateSession(ctx context.Context, req CreateRequest) (*domain.Session, error) {
	const op = "create_session"
	operationID := s.operationID(req.OperationID)

	if !req.Privilege.CanCreateSessions() {
		return nil, s.fail(ctx, op, "", operationID, domain.NewError(domain.ErrForbidden, op, "", operationID,
			fmt.Sprintf("privilege %q cannot create sessions", req.Privilege)))
	}
	if req.UserID == "" {
		return nil, s.fail(ctx, op, "", operationID, domain.NewError(domain.ErrValidation, op, "", operationID,
			"userId is required"))
	}

	sess := domain.NewSession(s.newID(), req.UserID, req.Privilege, req.OrganizationGUID, operationID, s.now(), s.ttl)
	if err := s.repo.SaveSession(ctx, sess); err != nil {
		return nil, s.fail(ctx, op, sess.SessionID, operationID, err)
	}

	s.logger.Info("Session created",
		"session_id", sess.SessionID,
		"operation_id", operationID,
		"user_id", sess.UserID,
		"expires_at", sess.ExpiresAt,
	)
	s.publish(ctx, domain.EventSessionCreated, sess, operationID, map[string]any{
		"privilege": string(sess.UserPrivilege),
	})
	return sess.Snapshot(), nil
}

// AddProductData validates the product payload and records it on the session.
// The product code must not exist in the record store yet.
func (s *Service) AddProductData(ctx context.Context, sessionID string, data domain.ProductData, operationID string) (*domain.Session, error) {
	const op = "add_product_data"
	operationID = s.operationID(operationID)

	sess, err := s.load(ctx, op, sessionID, operationID)
	if err != nil {
		return nil, s.fail(ctx, op, sessionID, operationID, err)
	}
	if err := checkTransition(op, sess, domain.StateProductAdded, operationID); err != nil {
		return nil, s.fail(ctx, op, sessionID, operationID, err)
	}

	if res := s.products.ValidateProduct(data); !res.IsValid {
		return nil, s.fail(ctx, op, sessionID, operationID,
			domain.NewError(domain.ErrValidation, op, sessionID, operationID, res.Errors...))
	}

	exists, err := s.records.Exists(ctx, s.schema.Products, s.schema.ProductCodeField, data.ProductCode)
	if err != nil {
		return nil, s.fail(ctx, op, sessionID, operationID,
			domain.NewError(domain.ErrRecordStore, op, sessionID, operationID).Wrap(err))
	}
	if exists {
		return nil, s.fail(ctx, op, sessionID, operationID, domain.NewError(domain.ErrConflict, op, sessionID, operationID,
			fmt.Sprintf("productCode %s already exists", data.ProductCode)))
	}

	sess.ProductData = data.Clone()
	sess.State = domain.StateProductAdded
	if err := s.save(ctx, sess, operationID); err != nil {
		return nil, s.fail(ctx, op, sessionID, operationID, err)
	}

	s.logger.Info("Product data added",
		"session_id", sessionID,
		"operation_id", operationID,
		"product_code", data.ProductCode,
	)
	s.publish(ctx, domain.EventProductAdded, sess, operationID, map[string]any{
		"product_code": data.ProductCode,
	})
	return sess.Snapshot(), nil
}

// AddTargetData validates the audience configuration and records it.
// Product data must be present whatever the session state.
func (s *Service) AddTargetData(ctx context.Context, sessionID string, data domain.TargetConfig, operationID string) (*domain.Session, error) {
	const op = "add_target_data"
	operationID = s.operationID(operationID)

	sess, err := s.load(ctx, op, sessionID, operationID)
	if err != nil {
		return nil, s.fail(ctx, op, sessionID, operationID, err)
	}
	if sess.ProductData == nil {
		return nil, s.fail(ctx, op, sessionID, operationID, domain.NewError(domain.ErrPreconditionFailed, op, sessionID, operationID,
			"product data must be added before the target configuration"))
	}
	if err := checkTransition(op, sess, domain.StateTargetConfigured, operationID); err != nil {
		return nil, s.fail(ctx, op, sessionID, operationID, err)
	}

	if res := s.targets.ValidateTarget(data); !res.IsValid {
		return nil, s.fail(ctx, op, sessionID, operationID,
			domain.NewError(domain.ErrValidation, op, sessionID, operationID, res.Errors...))
	}

	sess.TargetData = data.Clone()
	sess.State = domain.StateTargetConfigured
	if err := s.save(ctx, sess, operationID); err != nil {
		return nil, s.fail(ctx, op, sessionID, operationID, err)
	}

	configured := data.ConfiguredFields()
	s.logger.Info("Target configuration added",
		"session_id", sessionID,
		"operation_id", operationID,
		"configured_fields", configured,
	)
	s.publish(ctx, domain.EventTargetAdded, sess, operationID, map[string]any{
		"configured_fields": configured,
	})
	return sess.Snapshot(), nil
}

// GetSessionProgress returns a copy of the session without modifying it.
func (s *Service) GetSessionProgress(ctx context.Context, sessionID string) (*domain.Session, error) {
	const op = "get_session_progress"

	sess, err := s.load(ctx, op, sessionID, "")
	if err != nil {
		return nil, s.fail(ctx, op, sessionID, "", err)
	}
	return sess.Snapshot(), nil
}

// CompleteSession acknowledges a committed session.
func (s *Service) CompleteSession(ctx context.Context, sessionID, operationID string) (*domain.Session, error) {
	const op = "complete_session"
	operationID = s.operationID(operationID)

	sess, err := s.load(ctx, op, sessionID, operationID)
	if err != nil {
		return nil, s.fail(ctx, op, sessionID, operationID, err)
	}
	if err := checkTransition(op, sess, domain.StateCompleted, operationID); err != nil {
		return nil, s.fail(ctx, op, sessionID, operationID, err)
	}

	sess.State = domain.StateCompleted
	if err := s.save(ctx, sess, operationID); err != nil {
		return nil, s.fail(ctx, op, sessionID, operationID, err)
	}
	s.publish(ctx, domain.EventSessionClosed, sess, operationID, nil)
	return sess.Snapshot(), nil
}

// CancelSession marks a non-terminal session FAILED with reason.
func (s *Service) CancelSession(ctx context.Context, sessionID, reason, operationID string) (*domain.Session, error) {
	const op = "cancel_session"
	operationID = s.operationID(operationID)

	sess, err := s.load(ctx, op, sessionID, operationID)
	if err != nil {
		return nil, s.fail(ctx, op, sessionID, operationID, err)
	}
	if err := checkTransition(op, sess, domain.StateFailed, operationID); err != nil {
		return nil, s.fail(ctx, op, sessionID, operationID, err)
	}

	if reason == "" {
		reason = "cancelled"
	}
	sess.State = domain.StateFailed
	sess.Errors = append(sess.Errors, reason)
	if err := s.save(ctx, sess, operationID); err != nil {
		return nil, s.fail(ctx, op, sessionID, operationID, err)
	}

	s.logger.Info("Session cancelled",
		"session_id", sessionID,
		"operation_id", operationID,
		"reason", reason,
	)
	s.publish(ctx, domain.EventSessionClosed, sess, operationID, map[string]any{
		"reason": reason,
	})
	return sess.Snapshot(), nil
}

// save stamps the update time and correlation id, then persists.
func (s *Service) save(ctx context.Context, sess *domain.Session, operationID string) error {
	sess.UpdatedAt = s.now()
	sess.OperationID = operationID
	return s.repo.SaveSession(ctx, sess)
}

func checkTransition(op string, sess *domain.Session, to domain.SessionState, operationID string) error {
	if domain.IsValidTransition(sess.State, to) {
		return nil
	}
	return domain.NewError(domain.ErrInvalidTransition, op, sess.SessionID, operationID,
		fmt.Sprintf("cannot move from %s to %s (allowed: %v)", sess.State, to, domain.AllowedTransitions(sess.State)))
}
